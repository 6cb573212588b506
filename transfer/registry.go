package transfer

import (
	"sync"

	"contenthub/content"
)

type registryEntry struct {
	transfer *Transfer
	cancel   func()
}

// Registry tracks live transfers by identifier. It is the single source
// of truth resolving a wire-level transfer id back to the in-process
// object: at most one live transfer exists per identifier. The map lock
// guards constant-time operations only; serialization of a transfer's own
// transitions stays with that transfer, so unrelated exchanges never
// contend.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// Register adds t and returns its identifier. The registry watches the
// transfer and drops the entry once a terminal state is reached, after
// notification delivery. Fails with ErrDuplicateID when the identifier is
// already live.
func (r *Registry) Register(t *Transfer) (string, error) {
	id := t.ID()

	r.mu.Lock()
	if _, ok := r.entries[id]; ok {
		r.mu.Unlock()
		return "", ErrDuplicateID
	}
	entry := &registryEntry{transfer: t}
	r.entries[id] = entry
	r.mu.Unlock()

	cancel := t.Subscribe(func(state content.State) {
		if state.Terminal() {
			r.Unregister(id)
		}
	})

	r.mu.Lock()
	current, ok := r.entries[id]
	if ok && current == entry {
		current.cancel = cancel
		r.mu.Unlock()
	} else {
		// Concluded between insert and subscribe.
		r.mu.Unlock()
		cancel()
	}

	if t.State().Terminal() {
		r.Unregister(id)
	}
	return id, nil
}

// Lookup resolves an identifier to its live transfer, or ErrNotFound when
// the transfer already concluded or never existed.
func (r *Registry) Lookup(id string) (*Transfer, error) {
	r.mu.RLock()
	entry, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return entry.transfer, nil
}

// Unregister removes id. Removing an absent identifier is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	entry, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if ok && entry.cancel != nil {
		entry.cancel()
	}
}

// Snapshot returns the live transfers in no particular order.
func (r *Registry) Snapshot() []*Transfer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	transfers := make([]*Transfer, 0, len(r.entries))
	for _, entry := range r.entries {
		transfers = append(transfers, entry.transfer)
	}
	return transfers
}

// Len returns the number of live transfers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
