package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/browserfleet/internal/event"
	"github.com/Iron-Ham/browserfleet/internal/instance"
	"github.com/Iron-Ham/browserfleet/internal/logging"
	"github.com/Iron-Ham/browserfleet/internal/profile"
)

// Request types accepted by the Server.
const (
	TypeListConfigs    = "listConfigs"
	TypeSaveConfig     = "saveConfig"
	TypeDeleteConfig   = "deleteConfig"
	TypeLaunch         = "launch"
	TypeStop           = "stop"
	TypeGetStatus      = "getStatus"
	TypeGetAllStatuses = "getAllStatuses"

	// TypeEvent marks pushed messages that answer no request.
	TypeEvent = "event"
)

// KindInvalidRequest is reported for requests the server cannot decode.
const KindInvalidRequest = "InvalidRequest"

// maxLineSize bounds one request line.
const maxLineSize = 1 << 20

// Request is one line read from the front end.
type Request struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response answers the Request with the same ID.
type Response struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Push is an unsolicited event message.
type Push struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// StatusPayload is the payload of an instance.status push.
type StatusPayload struct {
	ID     string          `json:"id"`
	Status instance.Status `json:"status"`
}

type idPayload struct {
	ID string `json:"id"`
}

// Server carries the Service over newline-delimited JSON: one Request per
// input line, one Response or Push per output line. Requests are handled
// concurrently, so responses may arrive out of order; clients correlate by ID.
type Server struct {
	svc    *Service
	bus    *event.Bus
	logger *logging.Logger

	in io.Reader

	wmu sync.Mutex
	enc *json.Encoder
}

// NewServer creates a Server reading requests from in and writing to out.
// Status and profile events on bus are pushed to out while Serve runs.
func NewServer(svc *Service, bus *event.Bus, in io.Reader, out io.Writer, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Server{
		svc:    svc,
		bus:    bus,
		logger: logger.WithComponent("server"),
		in:     in,
		enc:    json.NewEncoder(out),
	}
}

// Serve handles requests until the input ends or ctx is cancelled, then waits
// for in-flight requests. End of input is not an error.
func (s *Server) Serve(ctx context.Context) error {
	if s.bus != nil {
		subs := []string{
			s.bus.Subscribe(event.TypeInstanceStatus, s.push),
			s.bus.Subscribe(event.TypeProfileSaved, s.push),
			s.bus.Subscribe(event.TypeProfileDeleted, s.push),
			s.bus.Subscribe(event.TypeProfileReloaded, s.push),
		}
		defer func() {
			for _, id := range subs {
				s.bus.Unsubscribe(id)
			}
		}()
	}

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	var wg conc.WaitGroup
	defer func() {
		if r := wg.WaitAndRecover(); r != nil {
			s.logger.Error("request handler panicked", "panic", r.String())
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("read requests: %w", err)
					}
				default:
				}
				return nil
			}
			if len(line) == 0 {
				continue
			}
			wg.Go(func() { s.handle(ctx, line) })
		}
	}
}

func (s *Server) handle(ctx context.Context, line []byte) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.write(Response{Type: "error", Error: "malformed request: " + err.Error(), Kind: KindInvalidRequest})
		return
	}

	res := s.Dispatch(ctx, req)
	s.write(Response{
		Type:    req.Type,
		ID:      req.ID,
		OK:      res.OK,
		Error:   res.Error,
		Kind:    res.Kind,
		Payload: res.Data,
	})
}

// Dispatch runs one request against the Service.
func (s *Server) Dispatch(ctx context.Context, req Request) Result {
	switch req.Type {
	case TypeListConfigs:
		return s.svc.ListConfigs()
	case TypeGetAllStatuses:
		return s.svc.GetAllStatuses()
	case TypeSaveConfig, TypeLaunch:
		var p profile.Profile
		if err := decode(req.Payload, &p); err != nil {
			return invalid(err)
		}
		if req.Type == TypeSaveConfig {
			return s.svc.SaveConfig(p)
		}
		return s.svc.Launch(ctx, p)
	case TypeDeleteConfig, TypeStop, TypeGetStatus:
		var p idPayload
		if err := decode(req.Payload, &p); err != nil {
			return invalid(err)
		}
		switch req.Type {
		case TypeDeleteConfig:
			return s.svc.DeleteConfig(p.ID)
		case TypeStop:
			return s.svc.Stop(ctx, p.ID)
		default:
			return s.svc.GetStatus(p.ID)
		}
	default:
		return Result{Error: fmt.Sprintf("unknown request type %q", req.Type), Kind: KindInvalidRequest}
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func invalid(err error) Result {
	return Result{Error: err.Error(), Kind: KindInvalidRequest}
}

func (s *Server) push(e event.Event) {
	var payload any
	switch ev := e.(type) {
	case instance.StatusEvent:
		payload = StatusPayload{ID: ev.ID, Status: ev.Status}
	case event.ProfileSavedEvent:
		payload = map[string]any{"id": ev.ProfileID, "name": ev.Name, "created": ev.Created}
	case event.ProfileDeletedEvent:
		payload = idPayload{ID: ev.ProfileID}
	case event.ProfileReloadedEvent:
		payload = map[string]any{"count": ev.Count}
	default:
		return
	}
	s.write(Push{Type: TypeEvent, Event: e.EventType(), Payload: payload})
}

func (s *Server) write(v any) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.enc.Encode(v); err != nil {
		s.logger.Warn("failed to write message", "error", err.Error())
	}
}
