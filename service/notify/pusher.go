// Package notify delivers growth deltas to growable allocation owners.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/viant/memlease/model/allocation"
	"github.com/viant/memlease/service/messaging"
)

// ErrDropped is returned once every push attempt failed.
var ErrDropped = errors.New("growth notification dropped")

// Config controls the bounded retry.
type Config struct {
	MaxAttempts    int           `json:"maxAttempts" yaml:"maxAttempts"`
	Interval       time.Duration `json:"interval" yaml:"interval"`
	AttemptTimeout time.Duration `json:"attemptTimeout" yaml:"attemptTimeout"`
}

func DefaultConfig() Config {
	return Config{MaxAttempts: 5, Interval: 200 * time.Millisecond, AttemptTimeout: time.Second}
}

// Pusher publishes growth notifications with a bounded retry.
type Pusher struct {
	config    Config
	logger    *slog.Logger
	onDropped func(growth *allocation.Growth)
	wg        sync.WaitGroup
}

type Option func(p *Pusher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pusher) { p.logger = logger }
}

// WithOnDropped registers a callback for notifications that exhausted retries.
func WithOnDropped(fn func(growth *allocation.Growth)) Option {
	return func(p *Pusher) { p.onDropped = fn }
}

func New(config Config, options ...Option) *Pusher {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	ret := &Pusher{config: config}
	for _, opt := range options {
		opt(ret)
	}
	if ret.logger == nil {
		ret.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return ret
}

// Push publishes growth on queue, retrying up to MaxAttempts.
func (p *Pusher) Push(ctx context.Context, queue messaging.Queue[allocation.Growth], growth *allocation.Growth) error {
	var lastErr error
	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		lastErr = p.attempt(ctx, queue, growth)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		p.logger.Debug("growth push attempt failed", "allocationId", growth.AllocationID, "attempt", attempt, "error", lastErr)
		if attempt == p.config.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(p.config.Interval):
		}
	}
	return fmt.Errorf("%w: allocation %d: %v", ErrDropped, growth.AllocationID, lastErr)
}

func (p *Pusher) attempt(ctx context.Context, queue messaging.Queue[allocation.Growth], growth *allocation.Growth) error {
	if p.config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.AttemptTimeout)
		defer cancel()
	}
	return queue.Publish(ctx, growth)
}

// Go runs Push in the background; a drop is logged and reported to the
// OnDropped callback.
func (p *Pusher) Go(ctx context.Context, queue messaging.Queue[allocation.Growth], growth *allocation.Growth) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.Push(ctx, queue, growth); err != nil {
			p.logger.Warn("growth notification dropped", "allocationId", growth.AllocationID, "error", err)
			if p.onDropped != nil {
				p.onDropped(growth)
			}
		}
	}()
}

// Wait blocks until every background push finished.
func (p *Pusher) Wait() {
	p.wg.Wait()
}
