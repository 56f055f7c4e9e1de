package event

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/viant/afs"
	"github.com/viant/memlease/service/messaging"
	"github.com/viant/memlease/service/messaging/fs"
	"github.com/viant/memlease/service/messaging/memory"
)

// Service hands out one publisher and at most one listener per topic.
type Service struct {
	publishers        map[string]any
	listeners         map[string]interface{ Stop() }
	mux               sync.RWMutex
	queueVendor       messaging.Vendor
	fs                afs.Service
	logger            *slog.Logger
	fsNewQueueConfig  func(name string) fs.QueueConfig
	memNewQueueConfig func(name string) memory.Config
	retryDelay        time.Duration
}

func New(queueVendor messaging.Vendor, opts ...Option) (*Service, error) {
	ret := &Service{
		queueVendor: queueVendor,
		publishers:  make(map[string]any),
		listeners:   make(map[string]interface{ Stop() }),
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.logger == nil {
		ret.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if ret.retryDelay <= 0 {
		ret.retryDelay = DefaultRetryDelay
	}
	switch queueVendor {
	case messaging.VendorFs:
		if ret.fsNewQueueConfig == nil {
			return nil, fmt.Errorf("fs queue vendor requires fsNewQueueConfig")
		}
		if ret.fs == nil {
			ret.fs = afs.New()
		}
	case messaging.VendorMemory:
		if ret.memNewQueueConfig == nil {
			ret.memNewQueueConfig = func(string) memory.Config { return memory.DefaultConfig() }
		}
	default:
		return nil, fmt.Errorf("unsupported queue vendor: %s", queueVendor)
	}
	return ret, nil
}

// QueueOf creates a queue for the topic using the configured vendor.
func QueueOf[T any](s *Service, name string) (messaging.Queue[T], error) {
	switch s.queueVendor {
	case messaging.VendorFs:
		return fs.NewQueue[T](s.fs, s.fsNewQueueConfig(name))
	case messaging.VendorMemory:
		return memory.NewQueue[T](s.memNewQueueConfig(name)), nil
	}
	return nil, fmt.Errorf("unsupported queue vendor: %s", s.queueVendor)
}

// PublisherOf returns the topic publisher, creating its queue on first use.
func PublisherOf[T any](s *Service, topic string) (*Publisher[T], error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if ret, ok := s.publishers[topic]; ok {
		publisher, ok := ret.(*Publisher[T])
		if !ok {
			return nil, fmt.Errorf("topic %s already bound to %T", topic, ret)
		}
		return publisher, nil
	}
	queue, err := QueueOf[Event[T]](s, topic)
	if err != nil {
		return nil, err
	}
	publisher := NewPublisher[T](queue)
	s.publishers[topic] = publisher
	return publisher, nil
}

// SetListenerOf replaces the topic listener and starts it.
func SetListenerOf[T any](ctx context.Context, s *Service, topic string, handler Handler[T]) error {
	publisher, err := PublisherOf[T](s, topic)
	if err != nil {
		return err
	}
	s.mux.Lock()
	prev := s.listeners[topic]
	listener := NewListener[T](publisher, handler, s.logger.With("topic", topic)).WithRetryDelay(s.retryDelay)
	s.listeners[topic] = listener
	s.mux.Unlock()
	if prev != nil {
		prev.Stop()
	}
	listener.Start(ctx)
	return nil
}

// Close stops every listener.
func (s *Service) Close() {
	s.mux.Lock()
	listeners := s.listeners
	s.listeners = make(map[string]interface{ Stop() })
	s.mux.Unlock()
	for _, listener := range listeners {
		listener.Stop()
	}
}
