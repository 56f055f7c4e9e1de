// Package correlation routes allocator responses to the caller that issued
// the matching request. Each caller owns a private buffered channel, so a
// response can never be observed or dropped by another caller.
package correlation

import (
	"sync"
	"time"

	"github.com/viant/memlease/internal/clock"
	"github.com/viant/memlease/model/protocol"
)

type pending struct {
	ch        chan *protocol.Response
	createdAt time.Time
}

// Router is an in-memory correlation table.
type Router struct {
	mu      sync.Mutex
	pending map[string]*pending
}

func NewRouter() *Router {
	return &Router{pending: make(map[string]*pending)}
}

// Register reserves a response slot for id. Registering an id twice returns
// the existing channel.
func (r *Router) Register(id string) <-chan *protocol.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pending[id]; ok {
		return p.ch
	}
	p := &pending{ch: make(chan *protocol.Response, 1), createdAt: clock.Now()}
	r.pending[id] = p
	return p.ch
}

// Deliver hands the response to its caller and releases the slot. It never
// blocks; false means nobody is waiting for that correlation id.
func (r *Router) Deliver(response *protocol.Response) bool {
	if response == nil {
		return false
	}
	r.mu.Lock()
	p, ok := r.pending[response.CorrelationID]
	if ok {
		delete(r.pending, response.CorrelationID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	p.ch <- response
	return true
}

// Cancel releases the slot of a caller that gave up waiting.
func (r *Router) Cancel(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// Pending returns the number of callers still waiting.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Expire drops slots registered before the cutoff and returns their ids.
func (r *Router) Expire(olderThan time.Duration) []string {
	cutoff := clock.Now().Add(-olderThan)
	var expired []string
	r.mu.Lock()
	for id, p := range r.pending {
		if p.createdAt.Before(cutoff) {
			delete(r.pending, id)
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()
	return expired
}
