package bridge

import (
	"context"
	"sync"

	"github.com/dhelmrich/UnrealReceiver/pkg/endpoint"
	"github.com/dhelmrich/UnrealReceiver/pkg/errors"
)

// registry is the endpoint map a Bridge owns, keyed by the numeric id
// assigned at signal_new_endpoint time. It is guarded by a single mutex, per
// the shared-resource policy: endpoint bookkeeping never needs finer
// granularity than one lock around map operations.
type registry struct {
	mu        sync.RWMutex
	endpoints map[uint32]*endpoint.Endpoint
	allocator IDAllocator
}

func newRegistry(allocator IDAllocator) *registry {
	return &registry{
		endpoints: make(map[uint32]*endpoint.Endpoint),
		allocator: allocator,
	}
}

// Add registers ep under its own ID, returning EndpointExists if that id is
// already taken.
func (r *registry) Add(ep *endpoint.Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := ep.ID()
	if _, exists := r.endpoints[id]; exists {
		return errors.NewEndpointExistsError(id)
	}
	r.endpoints[id] = ep
	return nil
}

// Remove drops id from the registry. Removing an id that was never present
// is a no-op.
func (r *registry) Remove(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.endpoints, id)
}

// Get returns the endpoint registered under id, or EndpointNotFound.
func (r *registry) Get(id uint32) (*endpoint.Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[id]
	if !ok {
		return nil, errors.NewEndpointNotFoundError(id)
	}
	return ep, nil
}

// Count reports how many endpoints are currently registered.
func (r *registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}

// AllocateID draws the next monotonic id from the configured allocator.
func (r *registry) AllocateID(ctx context.Context) (uint32, error) {
	return r.allocator.Next(ctx)
}

// Each calls fn for every currently registered endpoint, holding only a
// read lock for the duration of the snapshot copy, not the callback.
func (r *registry) Each(fn func(*endpoint.Endpoint)) {
	r.mu.RLock()
	snapshot := make([]*endpoint.Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		snapshot = append(snapshot, ep)
	}
	r.mu.RUnlock()

	for _, ep := range snapshot {
		fn(ep)
	}
}
