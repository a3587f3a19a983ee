package instance

import (
	"time"

	"github.com/Iron-Ham/browserfleet/internal/event"
)

// Action names the operation in progress on an instance.
type Action string

const (
	ActionNone     Action = ""
	ActionStarting Action = "starting"
	ActionStopping Action = "stopping"
)

// Status is the runtime status reported for a profile id.
type Status struct {
	IsRunning   bool      `json:"isRunning"`
	LastChecked time.Time `json:"lastChecked"`
	InProgress  bool      `json:"inProgress"`
	Action      Action    `json:"action,omitempty"`
}

// NotRunning is the terminal status, also reported for ids with no instance.
func NotRunning(at time.Time) Status {
	return Status{LastChecked: at}
}

// Starting is the status of a placeholder while its browser launches.
func Starting(at time.Time) Status {
	return Status{LastChecked: at, InProgress: true, Action: ActionStarting}
}

// Running is the status of a verified, idle instance.
func Running(at time.Time) Status {
	return Status{IsRunning: true, LastChecked: at}
}

// StatusEvent is published on every status change of an instance.
type StatusEvent struct {
	event.Base
	ID     string
	Status Status
}

// NewStatusEvent creates a StatusEvent.
func NewStatusEvent(id string, status Status) StatusEvent {
	return StatusEvent{
		Base:   event.NewBase(event.TypeInstanceStatus),
		ID:     id,
		Status: status,
	}
}
