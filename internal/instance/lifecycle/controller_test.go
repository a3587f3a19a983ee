package lifecycle

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/browserfleet/internal/browser"
	"github.com/Iron-Ham/browserfleet/internal/errors"
	"github.com/Iron-Ham/browserfleet/internal/event"
	"github.com/Iron-Ham/browserfleet/internal/instance"
	"github.com/Iron-Ham/browserfleet/internal/instance/health"
	"github.com/Iron-Ham/browserfleet/internal/profile"
)

const (
	profilesPath = "/data/profiles.json"
	instancesDir = "/data/instances"
)

// fakeProcess is a browser.Process driven by the test.
type fakeProcess struct {
	closeDelay time.Duration

	mu       sync.Mutex
	alive    error
	hang     chan struct{}
	entered  chan struct{}
	disc     chan struct{}
	discOnce sync.Once
	killed   atomic.Bool
}

func newFakeProcess(closeDelay time.Duration) *fakeProcess {
	return &fakeProcess{closeDelay: closeDelay, disc: make(chan struct{})}
}

func (p *fakeProcess) PID() int { return 4242 }

// CheckAlive blocks, ignoring ctx, while a hang is set.
func (p *fakeProcess) CheckAlive(context.Context) error {
	p.mu.Lock()
	hang, entered, alive := p.hang, p.entered, p.alive
	p.mu.Unlock()
	if hang != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-hang
	}
	return alive
}

// hangChecks makes liveness checks block until release is closed and
// returns a channel that receives once a check is blocked.
func (p *fakeProcess) hangChecks(release chan struct{}) <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hang = release
	p.entered = make(chan struct{}, 1)
	return p.entered
}

func (p *fakeProcess) die(err error) {
	p.mu.Lock()
	p.alive = err
	p.mu.Unlock()
}

func (p *fakeProcess) ClosePages(context.Context) error { return nil }

func (p *fakeProcess) Close(ctx context.Context) error {
	select {
	case <-time.After(p.closeDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	p.disconnect()
	return nil
}

func (p *fakeProcess) Kill() error {
	p.killed.Store(true)
	p.disconnect()
	return nil
}

func (p *fakeProcess) disconnect() {
	p.discOnce.Do(func() { close(p.disc) })
}

func (p *fakeProcess) Disconnected() <-chan struct{} { return p.disc }

// fakeLauncher writes a SingletonLock on launch like Chrome does and stops
// processes through browser.Shutdown.
type fakeLauncher struct {
	fs         afero.Fs
	grace      time.Duration
	closeDelay time.Duration

	mu        sync.Mutex
	launchErr error
	gate      chan struct{}
	procs     map[string]*fakeProcess
	launches  atomic.Int32
	stopDelay time.Duration
	stopErr   error
}

func newFakeLauncher(fs afero.Fs) *fakeLauncher {
	return &fakeLauncher{fs: fs, grace: 50 * time.Millisecond, procs: make(map[string]*fakeProcess)}
}

func (l *fakeLauncher) Launch(ctx context.Context, dir string) (browser.Process, error) {
	l.launches.Add(1)
	l.mu.Lock()
	gate, launchErr, closeDelay := l.gate, l.launchErr, l.closeDelay
	l.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := afero.WriteFile(l.fs, filepath.Join(dir, browser.LockFile), []byte("host-4242"), 0o644); err != nil {
		return nil, err
	}
	if launchErr != nil {
		return nil, launchErr
	}

	p := newFakeProcess(closeDelay)
	l.mu.Lock()
	l.procs[filepath.Base(dir)] = p
	l.mu.Unlock()
	return p, nil
}

func (l *fakeLauncher) Stop(ctx context.Context, proc browser.Process, dir string) error {
	defer func() { _ = browser.RemoveLockArtifacts(l.fs, dir) }()
	if l.stopDelay > 0 {
		time.Sleep(l.stopDelay)
	}
	if l.stopErr != nil {
		return l.stopErr
	}
	if proc == nil {
		return nil
	}
	return browser.Shutdown(ctx, proc, l.grace, nil)
}

func (l *fakeLauncher) RemoveLockArtifacts(dir string) error {
	return browser.RemoveLockArtifacts(l.fs, dir)
}

func (l *fakeLauncher) proc(id string) *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[id]
}

func (l *fakeLauncher) hasLock(id string) bool {
	ok, _ := afero.Exists(l.fs, filepath.Join(instancesDir, id, browser.LockFile))
	return ok
}

// statusLog collects published status events.
type statusLog struct {
	mu     sync.Mutex
	events []instance.StatusEvent
}

func (s *statusLog) handle(e event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e.(instance.StatusEvent))
}

func (s *statusLog) actions(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		if e.ID != id {
			continue
		}
		switch {
		case e.Status.InProgress:
			out = append(out, string(e.Status.Action))
		case e.Status.IsRunning:
			out = append(out, "running")
		default:
			out = append(out, "stopped")
		}
	}
	return out
}

type harness struct {
	fs       afero.Fs
	store    *profile.Store
	launcher *fakeLauncher
	ctrl     *Controller
	log      *statusLog
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	bus := event.NewBus()

	store, err := profile.Open(fs, profilesPath, instancesDir)
	require.NoError(t, err)
	for _, p := range []profile.Profile{{ID: "1", Name: "Work"}, {ID: "2", Name: "Home"}, {ID: "3", Name: "Test"}} {
		require.NoError(t, store.Save(p))
	}

	l := newFakeLauncher(fs)
	c := NewController(store, l, cfg, WithBus(bus))
	store.SetRunningChecker(c.Registry())

	log := &statusLog{}
	bus.Subscribe(event.TypeInstanceStatus, log.handle)

	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return &harness{fs: fs, store: store, launcher: l, ctrl: c, log: log}
}

func (h *harness) launch(t *testing.T, id string) {
	t.Helper()
	p, ok := h.store.Get(id)
	require.True(t, ok)
	got, err := h.ctrl.Launch(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestLaunch_Success(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.launch(t, "1")

	st := h.ctrl.Status("1")
	assert.True(t, st.IsRunning)
	assert.False(t, st.InProgress)
	assert.Empty(t, st.Action)
	assert.Equal(t, []string{"starting", "running"}, h.log.actions("1"))
	assert.Equal(t, filepath.Join(instancesDir, "1"), h.store.Dir("1"))
}

func TestLaunch_UnknownProfile(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	_, err := h.ctrl.Launch(context.Background(), profile.Profile{ID: "9", Name: "Ghost"})
	assert.ErrorIs(t, err, errors.ErrProfileNotFound)
	assert.Equal(t, 0, h.ctrl.Registry().Len())
	assert.Empty(t, h.log.actions("9"))
	assert.Equal(t, int32(0), h.launcher.launches.Load())
}

func TestLaunch_DuplicateLeavesFirstUntouched(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.launcher.gate = make(chan struct{})
	p, _ := h.store.Get("1")

	first := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Launch(context.Background(), p)
		first <- err
	}()
	require.Eventually(t, func() bool { return h.ctrl.Registry().Has("1") }, time.Second, time.Millisecond)

	_, err := h.ctrl.Launch(context.Background(), p)
	assert.ErrorIs(t, err, errors.ErrAlreadyRunning)
	assert.Equal(t, "AlreadyRunning", errors.Kind(err))

	st := h.ctrl.Status("1")
	assert.True(t, st.InProgress)
	assert.Equal(t, instance.ActionStarting, st.Action)

	close(h.launcher.gate)
	require.NoError(t, <-first)
	assert.True(t, h.ctrl.Status("1").IsRunning)
	assert.Equal(t, int32(1), h.launcher.launches.Load())
}

func TestLaunch_ConcurrentSameID(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	p, _ := h.store.Get("2")

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		already   atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ctrl.Launch(context.Background(), p)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, errors.ErrAlreadyRunning):
				already.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(19), already.Load())
	assert.Equal(t, int32(1), h.launcher.launches.Load())
	assert.Equal(t, 1, h.ctrl.Registry().Len())
}

func TestLaunch_FailureCleansUp(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.launcher.launchErr = errors.NewLaunchError(errors.StageBootstrap, context.DeadlineExceeded)
	p, _ := h.store.Get("1")

	_, err := h.ctrl.Launch(context.Background(), p)
	require.Error(t, err)

	var ie *errors.InstanceError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "1", ie.InstanceID)
	assert.Equal(t, filepath.Join(instancesDir, "1"), ie.ProfileDir)
	assert.ErrorIs(t, err, errors.ErrLaunchFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "LaunchFailure", errors.Kind(err))

	assert.False(t, h.ctrl.Registry().Has("1"))
	assert.False(t, h.launcher.hasLock("1"), "lock artifact left behind")
	assert.Equal(t, []string{"starting", "stopped"}, h.log.actions("1"))

	// The id is free again.
	h.launcher.launchErr = nil
	h.launch(t, "1")
}

func TestStop_Graceful(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.launch(t, "1")
	require.True(t, h.launcher.hasLock("1"))

	require.NoError(t, h.ctrl.Stop(context.Background(), "1"))

	assert.False(t, h.ctrl.Registry().Has("1"))
	assert.False(t, h.launcher.hasLock("1"))
	assert.False(t, h.launcher.proc("1").killed.Load())
	assert.Equal(t, []string{"starting", "running", "stopping", "stopped"}, h.log.actions("1"))
	assert.False(t, h.ctrl.Status("1").IsRunning)
}

func TestStop_HangingCloseConverges(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.launcher.closeDelay = time.Hour
	h.launch(t, "1")

	start := time.Now()
	err := h.ctrl.Stop(context.Background(), "1")

	assert.NoError(t, err, "forced kill is not an error")
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, h.launcher.proc("1").killed.Load())
	assert.False(t, h.ctrl.Registry().Has("1"))
	assert.False(t, h.launcher.hasLock("1"))
}

func TestStop_FailureIsCritical(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.launch(t, "1")
	h.launcher.stopErr = errors.New("kill: operation not permitted")

	err := h.ctrl.Stop(context.Background(), "1")

	require.Error(t, err)
	assert.Equal(t, errors.SeverityCritical, errors.GetSeverity(err))
	assert.True(t, errors.IsUserFacing(err))
	assert.False(t, h.ctrl.Registry().Has("1"))
	h.launcher.stopErr = nil
}

func TestStop_Unknown(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	assert.ErrorIs(t, h.ctrl.Stop(context.Background(), "1"), errors.ErrInstanceNotFound)
}

func TestStop_WaitsForLaunch(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.launcher.gate = make(chan struct{})
	p, _ := h.store.Get("3")

	launched := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Launch(context.Background(), p)
		launched <- err
	}()
	require.Eventually(t, func() bool { return h.ctrl.Registry().Has("3") }, time.Second, time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- h.ctrl.Stop(context.Background(), "3") }()

	select {
	case err := <-stopped:
		t.Fatalf("Stop returned %v before the launch finished", err)
	case <-time.After(30 * time.Millisecond):
	}

	close(h.launcher.gate)
	require.NoError(t, <-launched)
	require.NoError(t, <-stopped)
	assert.False(t, h.ctrl.Registry().Has("3"))
	assert.Equal(t, []string{"starting", "running", "stopping", "stopped"}, h.log.actions("3"))
}

func TestStop_ContextCancelledWhileWaiting(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.launcher.gate = make(chan struct{})
	defer close(h.launcher.gate)
	p, _ := h.store.Get("1")

	go func() { _, _ = h.ctrl.Launch(context.Background(), p) }()
	require.Eventually(t, func() bool { return h.ctrl.Registry().Has("1") }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.ctrl.Stop(ctx, "1"), context.DeadlineExceeded)
}

func TestDelete_RefusedWhileRunning(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.launch(t, "2")

	err := h.store.Delete("2")
	assert.ErrorIs(t, err, errors.ErrInstanceRunning)
	_, ok := h.store.Get("2")
	assert.True(t, ok)

	require.NoError(t, h.ctrl.Stop(context.Background(), "2"))
	require.NoError(t, h.store.Delete("2"))

	exists, _ := afero.DirExists(h.fs, filepath.Join(instancesDir, "2"))
	assert.False(t, exists)
	_, err = h.ctrl.Launch(context.Background(), profile.Profile{ID: "2", Name: "Home"})
	assert.ErrorIs(t, err, errors.ErrProfileNotFound)
}

func TestHealth_ExternalDeathReconciled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Health = health.Config{Interval: 20 * time.Millisecond, ProbeTimeout: 50 * time.Millisecond}
	h := newHarness(t, cfg)
	h.launch(t, "1")
	h.launch(t, "2")
	h.ctrl.Start()

	h.launcher.proc("1").die(errors.New("process exited"))

	require.Eventually(t, func() bool { return !h.ctrl.Registry().Has("1") }, time.Second, 5*time.Millisecond)
	assert.False(t, h.launcher.hasLock("1"))
	assert.True(t, h.ctrl.Registry().Has("2"))
	assert.Equal(t, "stopped", last(h.log.actions("1")))
}

func TestDisconnect_Reconciled(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.launch(t, "1")

	h.launcher.proc("1").disconnect()

	require.Eventually(t, func() bool { return !h.ctrl.Registry().Has("1") }, time.Second, 5*time.Millisecond)
	assert.False(t, h.launcher.hasLock("1"))
}

func TestRefresh(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.launch(t, "1")
	inst, _ := h.ctrl.Registry().Get("1")

	at := time.Now().Add(time.Minute)
	h.ctrl.Refresh("1", inst, at)

	st := h.ctrl.Status("1")
	assert.True(t, st.IsRunning)
	assert.True(t, st.LastChecked.Equal(at))
	assert.Equal(t, []string{"starting", "running", "running"}, h.log.actions("1"))
}

func TestShutdownAll_BoundedWithForcedKills(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShutdownTimeout = time.Second
	h := newHarness(t, cfg)
	h.launcher.closeDelay = time.Hour
	for _, id := range []string{"1", "2", "3"} {
		h.launch(t, id)
	}
	h.ctrl.Start()

	start := time.Now()
	err := h.ctrl.ShutdownAll(context.Background())

	assert.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 0, h.ctrl.Registry().Len())
	for _, id := range []string{"1", "2", "3"} {
		assert.True(t, h.launcher.proc(id).killed.Load(), "browser %s not killed", id)
		assert.False(t, h.launcher.hasLock(id))
	}

	// Usable again afterwards.
	assert.True(t, h.ctrl.Monitor().Running())
	h.launcher.closeDelay = 0
	h.launch(t, "1")
}

func TestShutdownAll_TimeoutAbandonsStragglers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShutdownTimeout = 50 * time.Millisecond
	h := newHarness(t, cfg)
	h.launcher.stopDelay = 300 * time.Millisecond
	h.launch(t, "1")

	start := time.Now()
	err := h.ctrl.ShutdownAll(context.Background())

	assert.ErrorIs(t, err, errors.ErrShutdownTimeout)
	assert.Equal(t, "ShutdownTimeout", errors.Kind(err))
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.Equal(t, 0, h.ctrl.Registry().Len())

	// The straggler still finishes its own cleanup.
	require.Eventually(t, func() bool { return !h.launcher.hasLock("1") }, time.Second, 5*time.Millisecond)
}

func TestShutdownAll_BoundedWhileHealthCheckHangs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShutdownTimeout = 100 * time.Millisecond
	cfg.Health = health.Config{Interval: 10 * time.Millisecond, ProbeTimeout: 10 * time.Millisecond}
	h := newHarness(t, cfg)
	h.launch(t, "1")

	release := make(chan struct{})
	entered := h.launcher.proc("1").hangChecks(release)
	h.ctrl.Start()
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("health check never ran")
	}

	start := time.Now()
	err := h.ctrl.ShutdownAll(context.Background())

	assert.ErrorIs(t, err, errors.ErrShutdownTimeout)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 0, h.ctrl.Registry().Len())

	// Once the check returns, the forgotten browser is still stopped and
	// polling resumes.
	close(release)
	require.Eventually(t, func() bool { return !h.launcher.hasLock("1") }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.ctrl.Monitor().Running() }, time.Second, 5*time.Millisecond)
}

func TestShutdownAll_Empty(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	assert.NoError(t, h.ctrl.ShutdownAll(context.Background()))
}

func TestClose_Terminal(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.launch(t, "1")
	h.ctrl.Start()

	require.NoError(t, h.ctrl.Close(context.Background()))
	assert.Equal(t, 0, h.ctrl.Registry().Len())
	assert.False(t, h.ctrl.Monitor().Running())

	p, _ := h.store.Get("1")
	_, err := h.ctrl.Launch(context.Background(), p)
	assert.ErrorIs(t, err, errors.ErrShuttingDown)

	h.ctrl.Start()
	assert.False(t, h.ctrl.Monitor().Running(), "Start after Close resumed polling")
	assert.NoError(t, h.ctrl.Close(context.Background()), "second Close")
}

func TestStatuses(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.launch(t, "1")
	h.launch(t, "3")

	st := h.ctrl.Statuses()
	assert.Len(t, st, 2)
	assert.True(t, st["1"].IsRunning)
	assert.True(t, st["3"].IsRunning)
	assert.False(t, h.ctrl.Status("2").IsRunning)
}

func last(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}
