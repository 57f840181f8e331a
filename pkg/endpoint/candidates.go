package endpoint

import "sync"

// candidateGate tracks the MIDs from the remote SDP that have not yet been
// matched by an incoming ICE candidate. The responder may not answer until
// this set is empty.
type candidateGate struct {
	mu      sync.Mutex
	pending map[string]struct{}
}

func newCandidateGate() *candidateGate {
	return &candidateGate{pending: make(map[string]struct{})}
}

// Seed replaces the pending set with the given MIDs, as read from a freshly
// applied remote description.
func (g *candidateGate) Seed(mids []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = make(map[string]struct{}, len(mids))
	for _, mid := range mids {
		g.pending[mid] = struct{}{}
	}
}

// Resolve removes mid from the pending set and reports whether the set is
// now empty (the gate just became satisfied, or already was).
func (g *candidateGate) Resolve(mid string) (satisfied bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, mid)
	return len(g.pending) == 0
}

// Satisfied reports whether the gate currently holds no pending MIDs.
func (g *candidateGate) Satisfied() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending) == 0
}
