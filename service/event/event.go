package event

import (
	"time"

	"github.com/viant/memlease/internal/clock"
)

// Context identifies the emitter of an event.
type Context struct {
	Service   string `json:"service"`
	Operation string `json:"operation"`
	EventType string `json:"eventType"`
}

type Event[T any] struct {
	Context   *Context          `json:"context"`
	CreatedAt time.Time         `json:"createdAt"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Data      T                 `json:"data"`
}

func NewEvent[T any](context *Context, data T) *Event[T] {
	return &Event[T]{
		Context:   context,
		CreatedAt: clock.Now(),
		Metadata:  make(map[string]string),
		Data:      data,
	}
}
