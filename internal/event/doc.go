// Package event provides a pub-sub event bus for decoupled inter-component
// communication in browserfleet.
//
// The lifecycle controller publishes one status event per instance state
// change and the profile store publishes profile mutations. Front ends attach
// through the bus (usually via the JSON-lines server in package api) and never
// reach into the controller directly.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//   - [Base]: Embeddable implementation of Event for concrete event types
//
// # Delivery
//
// Publish calls handlers synchronously on the publishing goroutine. There is
// no history: a subscriber that attaches late must ask the controller for the
// current statuses to catch up. A handler that panics is recovered and logged
// so it cannot starve the other subscribers.
//
// # Basic Usage
//
//	bus := event.NewBus()
//	id := bus.Subscribe(event.TypeProfileSaved, func(e event.Event) {
//	    saved := e.(event.ProfileSavedEvent)
//	    fmt.Println("saved", saved.ProfileID)
//	})
//	defer bus.Unsubscribe(id)
package event
