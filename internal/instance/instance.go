// Package instance holds the runtime representation of launched browsers:
// the Instance bound to one profile, its Status, and the in-memory Registry
// of everything currently running.
//
// Instances are created and removed only by the lifecycle controller. Every
// mutation of an instance's process happens while its operation lock is held,
// so launch, stop and health checks on the same id never interleave.
package instance

import (
	"context"
	"sync"

	"github.com/Iron-Ham/browserfleet/internal/browser"
	"github.com/Iron-Ham/browserfleet/internal/profile"
)

// Terminator stops a browser process and cleans its profile directory.
type Terminator interface {
	Stop(ctx context.Context, proc browser.Process, profileDir string) error
}

// Instance is one running (or launching) browser bound to a profile.
type Instance struct {
	ID      string
	Profile profile.Profile
	Dir     string

	op chan struct{}

	mu      sync.RWMutex
	status  Status
	process browser.Process
}

// New creates an unattached instance for p using profileDir.
func New(p profile.Profile, profileDir string) *Instance {
	return &Instance{
		ID:      p.ID,
		Profile: p,
		Dir:     profileDir,
		op:      make(chan struct{}, 1),
	}
}

// Acquire takes the operation lock, waiting until it is free or ctx ends.
func (i *Instance) Acquire(ctx context.Context) error {
	select {
	case i.op <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes the operation lock if it is free.
func (i *Instance) TryAcquire() bool {
	select {
	case i.op <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees the operation lock. It must only be called by the holder.
func (i *Instance) Release() {
	select {
	case <-i.op:
	default:
	}
}

// Status returns the current status snapshot.
func (i *Instance) Status() Status {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.status
}

// SetStatus replaces the status snapshot.
func (i *Instance) SetStatus(s Status) {
	i.mu.Lock()
	i.status = s
	i.mu.Unlock()
}

// Attach binds the launched process. The caller holds the operation lock.
func (i *Instance) Attach(p browser.Process) {
	i.mu.Lock()
	i.process = p
	i.mu.Unlock()
}

// Attached reports whether a process is bound.
func (i *Instance) Attached() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.process != nil
}

// PID returns the bound process's pid, or 0.
func (i *Instance) PID() int {
	i.mu.RLock()
	p := i.process
	i.mu.RUnlock()
	if p == nil {
		return 0
	}
	return p.PID()
}

// CheckAlive probes the bound process. An unattached instance is not alive.
func (i *Instance) CheckAlive(ctx context.Context) error {
	i.mu.RLock()
	p := i.process
	i.mu.RUnlock()
	if p == nil {
		return errNotAttached
	}
	return p.CheckAlive(ctx)
}

// Disconnected returns the process's disconnect channel, or nil (which
// blocks forever) when unattached.
func (i *Instance) Disconnected() <-chan struct{} {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.process == nil {
		return nil
	}
	return i.process.Disconnected()
}

// Terminate stops the bound process through t and detaches it. The profile
// directory is cleaned even when nothing is attached. Calling it again is a
// no-op for the process. The caller holds the operation lock.
func (i *Instance) Terminate(ctx context.Context, t Terminator) error {
	i.mu.Lock()
	p := i.process
	i.process = nil
	i.mu.Unlock()
	return t.Stop(ctx, p, i.Dir)
}
