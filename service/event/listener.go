package event

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultRetryDelay is the pause after a failed consume.
const DefaultRetryDelay = 100 * time.Millisecond

// Handler processes one event; an error nacks the underlying message.
type Handler[T any] func(ctx context.Context, event *Event[T]) error

type Listener[T any] struct {
	publisher  *Publisher[T]
	handler    Handler[T]
	logger     *slog.Logger
	retryDelay time.Duration
	cancel    context.CancelFunc
	done      chan struct{}
	once      sync.Once
}

func NewListener[T any](publisher *Publisher[T], handler Handler[T], logger *slog.Logger) *Listener[T] {
	return &Listener[T]{
		publisher:  publisher,
		handler:    handler,
		logger:     logger,
		retryDelay: DefaultRetryDelay,
		done:       make(chan struct{}),
	}
}

// WithRetryDelay sets the pause after a failed consume.
func (l *Listener[T]) WithRetryDelay(delay time.Duration) *Listener[T] {
	l.retryDelay = delay
	return l
}

// Stop cancels the consume loop and waits for it to exit.
func (l *Listener[T]) Stop() {
	l.once.Do(func() {
		if l.cancel == nil {
			close(l.done)
			return
		}
		l.cancel()
	})
	<-l.done
}

func (l *Listener[T]) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	go func() {
		defer close(l.done)
		for {
			msg, err := l.publisher.Consume(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				l.logger.Error("failed to consume event", "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(l.retryDelay):
				}
				continue
			}
			if err = l.handler(ctx, msg.T()); err != nil {
				l.logger.Warn("event handler failed", "error", err)
				_ = msg.Nack(err)
				continue
			}
			if err = msg.Ack(); err != nil {
				l.logger.Warn("failed to ack event", "error", err)
			}
		}
	}()
}
