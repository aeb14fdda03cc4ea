package remoterelay

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultFlowTTL is how long an untouched flow is kept.
const DefaultFlowTTL = 10 * time.Minute

// FlowRegistry holds in-progress pairing flows keyed by id. Flows not
// touched within the TTL are dropped lazily on the next access.
type FlowRegistry struct {
	deps FlowDeps
	ttl  time.Duration
	now  func() time.Time

	mu    sync.Mutex
	flows map[string]*Flow
}

// NewFlowRegistry creates a registry. A zero ttl uses DefaultFlowTTL and a
// nil deps.NewID uses random UUIDs.
func NewFlowRegistry(deps FlowDeps, ttl time.Duration) *FlowRegistry {
	if ttl <= 0 {
		ttl = DefaultFlowTTL
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	return &FlowRegistry{
		deps:  deps,
		ttl:   ttl,
		now:   time.Now,
		flows: make(map[string]*Flow),
	}
}

// Create starts a new flow.
func (r *FlowRegistry) Create() *Flow {
	flow := NewFlow(uuid.NewString(), r.deps)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	r.flows[flow.ID()] = flow
	return flow
}

// Get returns a live flow or ErrFlowNotFound.
func (r *FlowRegistry) Get(id string) (*Flow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()

	flow, ok := r.flows[id]
	if !ok {
		return nil, ErrFlowNotFound
	}
	return flow, nil
}

// Remove drops a flow. Unknown ids are ignored.
func (r *FlowRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flows, id)
}

// Len returns the number of live flows.
func (r *FlowRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	return len(r.flows)
}

func (r *FlowRegistry) sweepLocked() {
	cutoff := r.now().Add(-r.ttl)
	for id, flow := range r.flows {
		if flow.lastTouched().Before(cutoff) {
			delete(r.flows, id)
		}
	}
}
