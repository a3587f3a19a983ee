package instance

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Iron-Ham/browserfleet/internal/browser"
)

type stubProcess struct {
	alive error
	disc  chan struct{}
}

func (s *stubProcess) PID() int                         { return 7 }
func (s *stubProcess) CheckAlive(context.Context) error { return s.alive }
func (s *stubProcess) ClosePages(context.Context) error { return nil }
func (s *stubProcess) Close(context.Context) error      { return nil }
func (s *stubProcess) Kill() error                      { return nil }
func (s *stubProcess) Disconnected() <-chan struct{}    { return s.disc }

type recordingTerminator struct {
	calls []browser.Process
	dirs  []string
	err   error
}

func (r *recordingTerminator) Stop(_ context.Context, p browser.Process, dir string) error {
	r.calls = append(r.calls, p)
	r.dirs = append(r.dirs, dir)
	return r.err
}

func TestInstance_OperationLock(t *testing.T) {
	inst := newInst("1")

	if !inst.TryAcquire() {
		t.Fatal("TryAcquire() on free lock = false")
	}
	if inst.TryAcquire() {
		t.Error("TryAcquire() on held lock = true")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := inst.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() on held lock = %v, want deadline exceeded", err)
	}

	acquired := make(chan struct{})
	go func() {
		_ = inst.Acquire(context.Background())
		close(acquired)
	}()
	inst.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("Acquire() did not proceed after Release()")
	}
	inst.Release()
	if !inst.TryAcquire() {
		t.Error("TryAcquire() after final Release() = false")
	}
}

func TestInstance_UnattachedIsNotAlive(t *testing.T) {
	inst := newInst("1")

	if inst.Attached() {
		t.Error("Attached() = true for new instance")
	}
	if inst.PID() != 0 {
		t.Errorf("PID() = %d, want 0", inst.PID())
	}
	if err := inst.CheckAlive(context.Background()); err == nil {
		t.Error("CheckAlive() on unattached instance = nil, want error")
	}
	if inst.Disconnected() != nil {
		t.Error("Disconnected() on unattached instance != nil")
	}
}

func TestInstance_AttachAndProbe(t *testing.T) {
	inst := newInst("1")
	p := &stubProcess{disc: make(chan struct{})}
	inst.Attach(p)

	if !inst.Attached() || inst.PID() != 7 {
		t.Errorf("Attached() = %v, PID() = %d", inst.Attached(), inst.PID())
	}
	if err := inst.CheckAlive(context.Background()); err != nil {
		t.Errorf("CheckAlive() = %v, want nil", err)
	}

	p.alive = errors.New("gone")
	if err := inst.CheckAlive(context.Background()); err == nil {
		t.Error("CheckAlive() = nil after process died")
	}
}

func TestInstance_TerminateDetaches(t *testing.T) {
	inst := newInst("4")
	p := &stubProcess{}
	inst.Attach(p)
	term := &recordingTerminator{}

	if err := inst.Terminate(context.Background(), term); err != nil {
		t.Fatalf("Terminate() = %v", err)
	}
	if inst.Attached() {
		t.Error("Attached() = true after Terminate")
	}

	// A second terminate still cleans the directory but passes no process.
	_ = inst.Terminate(context.Background(), term)
	if len(term.calls) != 2 || term.calls[0] != p || term.calls[1] != nil {
		t.Errorf("terminator calls = %v", term.calls)
	}
	if term.dirs[1] != "/instances/4" {
		t.Errorf("dir = %q, want /instances/4", term.dirs[1])
	}
}

func TestStatus_JSON(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	data, err := json.Marshal(Starting(at))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"isRunning":false,"lastChecked":"2024-05-01T12:00:00Z","inProgress":true,"action":"starting"}`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}

	data, _ = json.Marshal(NotRunning(at))
	want = `{"isRunning":false,"lastChecked":"2024-05-01T12:00:00Z","inProgress":false}`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}
}

func TestNewStatusEvent(t *testing.T) {
	e := NewStatusEvent("3", Running(time.Now()))
	if e.EventType() != "instance.status" {
		t.Errorf("EventType() = %q", e.EventType())
	}
	if e.ID != "3" || !e.Status.IsRunning {
		t.Errorf("event = %+v", e)
	}
}
