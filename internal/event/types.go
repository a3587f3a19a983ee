// Package event defines the event bus and the event types browserfleet
// components use to notify observers without depending on them.
package event

import "time"

// Event is the interface that all events must implement.
// It provides a common way to identify and timestamp events.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "instance.status", "profile.saved")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Base provides common fields for all events.
// Embed it in concrete event types to satisfy the Event interface.
type Base struct {
	eventType string
	timestamp time.Time
}

func (e Base) EventType() string    { return e.eventType }
func (e Base) Timestamp() time.Time { return e.timestamp }

// NewBase creates a Base stamped with the current time.
func NewBase(eventType string) Base {
	return Base{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// Event type identifiers.
const (
	TypeInstanceStatus  = "instance.status"
	TypeProfileSaved    = "profile.saved"
	TypeProfileDeleted  = "profile.deleted"
	TypeProfileReloaded = "profile.reloaded"
)

// -----------------------------------------------------------------------------
// Profile Events
// -----------------------------------------------------------------------------

// ProfileSavedEvent is emitted when a profile is created or renamed.
type ProfileSavedEvent struct {
	Base
	ProfileID string
	Name      string
	Created   bool // false when an existing profile was updated
}

// NewProfileSavedEvent creates a ProfileSavedEvent.
func NewProfileSavedEvent(profileID, name string, created bool) ProfileSavedEvent {
	return ProfileSavedEvent{
		Base:      NewBase(TypeProfileSaved),
		ProfileID: profileID,
		Name:      name,
		Created:   created,
	}
}

// ProfileDeletedEvent is emitted after a profile and its directory are removed.
type ProfileDeletedEvent struct {
	Base
	ProfileID string
}

// NewProfileDeletedEvent creates a ProfileDeletedEvent.
func NewProfileDeletedEvent(profileID string) ProfileDeletedEvent {
	return ProfileDeletedEvent{
		Base:      NewBase(TypeProfileDeleted),
		ProfileID: profileID,
	}
}

// ProfileReloadedEvent is emitted when the profiles file changed on disk and
// the store picked up the new contents.
type ProfileReloadedEvent struct {
	Base
	Count int
}

// NewProfileReloadedEvent creates a ProfileReloadedEvent.
func NewProfileReloadedEvent(count int) ProfileReloadedEvent {
	return ProfileReloadedEvent{
		Base:  NewBase(TypeProfileReloaded),
		Count: count,
	}
}
