package instance

import (
	"slices"
	"sync"
	"time"

	"github.com/Iron-Ham/browserfleet/internal/errors"
)

var errNotAttached = errors.New("no browser process attached")

// Registry maps profile ids to their live instances. All operations are
// atomic per call; it performs no I/O.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*Instance
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{instances: make(map[string]*Instance)}
}

// Get returns the instance registered for id.
func (r *Registry) Get(id string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	return inst, ok
}

// Put stores inst under its id, replacing any previous entry.
func (r *Registry) Put(inst *Instance) {
	r.mu.Lock()
	r.instances[inst.ID] = inst
	r.mu.Unlock()
}

// Remove deletes id and returns what was stored.
func (r *Registry) Remove(id string) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	delete(r.instances, id)
	return inst, ok
}

// RemoveIf deletes id only while it still maps to inst, so a stale caller
// cannot remove a newer instance registered under the same id.
func (r *Registry) RemoveIf(id string, inst *Instance) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.instances[id]; !ok || cur != inst {
		return false
	}
	delete(r.instances, id)
	return true
}

// Has reports whether id is registered. It lets the profile store refuse to
// delete running profiles.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.instances[id]
	return ok
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Instances returns a snapshot of the registered instances.
func (r *Registry) Instances() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	return out
}

// Statuses snapshots the status of every registered instance.
func (r *Registry) Statuses() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Status, len(r.instances))
	for id, inst := range r.instances {
		out[id] = inst.Status()
	}
	return out
}

// Status returns id's status, or NotRunning(at) when it is not registered.
func (r *Registry) Status(id string, at time.Time) Status {
	if inst, ok := r.Get(id); ok {
		return inst.Status()
	}
	return NotRunning(at)
}

// Clear removes every instance and returns them.
func (r *Registry) Clear() []*Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	r.instances = make(map[string]*Instance)
	return out
}

// Len returns the number of registered instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}
