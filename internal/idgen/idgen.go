package idgen

import (
	"sync"

	"github.com/google/uuid"
)

// NewFunc returns a new globally unique identifier. Override in tests.
var NewFunc = func() string { return uuid.New().String() }

// New returns a new correlation identifier.
func New() string { return NewFunc() }

// Sequence is a monotonic integer id generator. Ids are never reused for the
// lifetime of the sequence.
type Sequence struct {
	mu   sync.Mutex
	last int
}

// Next returns the next id, starting at 1.
func (s *Sequence) Next() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last++
	return s.last
}

// Last returns the most recently issued id (0 when none).
func (s *Sequence) Last() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Seed moves the sequence forward so the next id is greater than floor.
// Seeding with a smaller value than already issued is a no-op.
func (s *Sequence) Seed(floor int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if floor > s.last {
		s.last = floor
	}
}
