package agent

import "sync"

// CancelRegistry records cancellation requests keyed by chat. A request is
// a one-shot flag: Consume atomically tests and clears it, so exactly one
// session iteration observes each request.
type CancelRegistry struct {
	mu      sync.Mutex
	pending map[string]bool
}

// NewCancelRegistry creates an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{pending: make(map[string]bool)}
}

// Request flags the chat for cancellation. Repeated requests before a
// consume collapse into one.
func (r *CancelRegistry) Request(chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[chatID] = true
}

// Consume reports whether a cancellation was pending for the chat and
// clears it.
func (r *CancelRegistry) Consume(chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[chatID] {
		delete(r.pending, chatID)
		return true
	}
	return false
}
