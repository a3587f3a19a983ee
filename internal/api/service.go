// Package api is the command surface a front end drives: profile CRUD,
// launch, stop and status queries. Service methods never return Go errors;
// every outcome is a Result carrying the error's taxonomy kind, so a
// transport can forward it unchanged.
package api

import (
	"context"

	"github.com/Iron-Ham/browserfleet/internal/errors"
	"github.com/Iron-Ham/browserfleet/internal/instance"
	"github.com/Iron-Ham/browserfleet/internal/logging"
	"github.com/Iron-Ham/browserfleet/internal/profile"
)

// Profiles is the profile store as seen by the command surface.
type Profiles interface {
	List() []profile.Profile
	Get(id string) (profile.Profile, bool)
	Save(p profile.Profile) error
	Delete(id string) error
}

// Controller is the lifecycle controller as seen by the command surface.
type Controller interface {
	Launch(ctx context.Context, p profile.Profile) (string, error)
	Stop(ctx context.Context, id string) error
	Status(id string) instance.Status
	Statuses() map[string]instance.Status
}

// Result is the outcome of one command.
type Result struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
	Data  any    `json:"data,omitempty"`
}

func success(data any) Result {
	return Result{OK: true, Data: data}
}

// internalMessage replaces the text of errors that are not safe to show.
const internalMessage = "internal error"

// failure converts err into a Result. Messages of errors outside the
// taxonomy are logged and replaced by internalMessage.
func (s *Service) failure(op string, err error) Result {
	kind := errors.Kind(err)
	if errors.GetSeverity(err) >= errors.SeverityError {
		s.logger.Warn("command failed", "op", op, "kind", kind, "severity", errors.GetSeverity(err).String(), "error", err.Error())
	} else {
		s.logger.Debug("command refused", "op", op, "kind", kind, "error", err.Error())
	}
	if !errors.IsUserFacing(err) {
		return Result{Error: internalMessage, Kind: kind}
	}
	return Result{Error: err.Error(), Kind: kind}
}

// Service implements the commands on top of a profile store and a controller.
type Service struct {
	profiles Profiles
	ctrl     Controller
	logger   *logging.Logger
}

// NewService creates a Service.
func NewService(profiles Profiles, ctrl Controller, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Service{
		profiles: profiles,
		ctrl:     ctrl,
		logger:   logger.WithComponent("api"),
	}
}

// ListConfigs returns every profile.
func (s *Service) ListConfigs() Result {
	return success(s.profiles.List())
}

// SaveConfig creates p or renames the existing profile with p's id.
func (s *Service) SaveConfig(p profile.Profile) Result {
	if err := s.profiles.Save(p); err != nil {
		return s.failure("saveConfig", err)
	}
	saved, _ := s.profiles.Get(p.ID)
	return success(saved)
}

// DeleteConfig removes a profile that is not running.
func (s *Service) DeleteConfig(id string) Result {
	if err := s.profiles.Delete(id); err != nil {
		return s.failure("deleteConfig", err)
	}
	return success(nil)
}

// Launch starts p's browser. Data is the instance id.
func (s *Service) Launch(ctx context.Context, p profile.Profile) Result {
	id, err := s.ctrl.Launch(ctx, p)
	if err != nil {
		return s.failure("launch", err)
	}
	return success(id)
}

// Stop stops the instance for id.
func (s *Service) Stop(ctx context.Context, id string) Result {
	if err := s.ctrl.Stop(ctx, id); err != nil {
		return s.failure("stop", err)
	}
	return success(nil)
}

// GetStatus returns id's status; unknown ids report not running.
func (s *Service) GetStatus(id string) Result {
	return success(s.ctrl.Status(id))
}

// GetAllStatuses returns the status of every registered instance.
func (s *Service) GetAllStatuses() Result {
	return success(s.ctrl.Statuses())
}
