package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/viant/memlease/internal/clock"
	"github.com/viant/memlease/metrics"
	"github.com/viant/memlease/model/protocol"
	"github.com/viant/memlease/service/correlation"
	"github.com/viant/memlease/service/messaging"
	"github.com/viant/memlease/tracing"
)

// Handler applies one request.
type Handler interface {
	Handle(ctx context.Context, req *protocol.Request) *protocol.Response
}

// Config represents processor configuration
type Config struct {
	// RetryDelay is the pause after a transient queue error.
	RetryDelay time.Duration `json:"retryDelay" yaml:"retryDelay"`
	// Maintenance holds the sweep intervals; zero disables a sweep.
	Maintenance MaintenanceConfig `json:"maintenance" yaml:"maintenance"`
}

// MaintenanceConfig holds the periodic sweep intervals.
type MaintenanceConfig struct {
	CleanupInterval time.Duration `json:"cleanupInterval" yaml:"cleanupInterval"`
	ReserveInterval time.Duration `json:"reserveInterval" yaml:"reserveInterval"`
	GrowInterval    time.Duration `json:"growInterval" yaml:"growInterval"`
	// ExpireInterval is how often response slots of callers that never came
	// back are dropped; a slot is abandoned once older than ResponseTTL.
	ExpireInterval time.Duration `json:"expireInterval" yaml:"expireInterval"`
	ResponseTTL    time.Duration `json:"responseTTL" yaml:"responseTTL"`
}

// DefaultConfig returns the default processor configuration
func DefaultConfig() Config {
	return Config{
		RetryDelay: 100 * time.Millisecond,
		Maintenance: MaintenanceConfig{
			CleanupInterval: 5 * time.Second,
			ReserveInterval: 30 * time.Second,
			GrowInterval:    2 * time.Second,
			ExpireInterval:  time.Minute,
			ResponseTTL:     5 * time.Minute,
		},
	}
}

// Service owns the allocator read loop.
type Service struct {
	config  Config
	queue   messaging.Queue[protocol.Request]
	handler Handler
	router  *correlation.Router
	logger  *slog.Logger
	metrics *metrics.Collector

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a processor
func New(options ...Option) (*Service, error) {
	s := &Service{config: DefaultConfig()}
	for _, opt := range options {
		opt(s)
	}
	if s.queue == nil {
		return nil, fmt.Errorf("message queue is required")
	}
	if s.handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if s.router == nil {
		s.router = correlation.NewRouter()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s, nil
}

// Router returns the response router clients register with.
func (s *Service) Router() *correlation.Router {
	return s.router
}

// Start launches the read loop and the maintenance scheduler.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("processor already started")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
	scheduler := newScheduler(s.queue, s.router, s.config.Maintenance, s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		scheduler.run(ctx)
	}()
	return nil
}

// Shutdown stops the loop after the request in flight completes.
func (s *Service) Shutdown() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		msg, err := s.queue.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error("failed to consume request", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.config.RetryDelay):
			}
			continue
		}
		if msg == nil {
			continue
		}
		s.process(ctx, msg.T())
		if err = msg.Ack(); err != nil {
			s.logger.Warn("failed to ack request", "error", err)
		}
	}
}

// process handles one request inside its own span.
func (s *Service) process(ctx context.Context, req *protocol.Request) {
	started := clock.Now()
	kind := "CONSUMER"
	if req.Type.IsMaintenance() {
		kind = "INTERNAL"
	}
	ctx, span := tracing.StartSpan(ctx, "allocator."+string(req.Type), kind)
	span.WithAttributes(map[string]string{"correlation.id": req.CorrelationID})
	resp := s.handler.Handle(ctx, req)
	err := resp.Err()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	span.WithAttributes(map[string]string{"outcome": outcome, "expects.response": strconv.FormatBool(req.Type.Expects())})
	tracing.EndSpan(span, err)
	s.metrics.ObserveRequest(req.Type, outcome, clock.Since(started))

	if !req.Type.Expects() {
		switch {
		case err == nil:
		case req.Type.IsMaintenance():
			s.logger.Error("maintenance sweep failed", "type", req.Type, "error", err)
		default:
			s.logger.Warn("request failed", "type", req.Type, "error", err)
		}
		return
	}
	if !s.router.Deliver(resp) {
		s.logger.Debug("response dropped, no caller waiting", "type", req.Type, "correlationId", req.CorrelationID)
	}
}
