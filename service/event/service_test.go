package event

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/memlease/service/messaging"
	"github.com/viant/memlease/service/messaging/fs"
	"github.com/viant/memlease/service/messaging/memory"
)

type change struct {
	ID   int    `json:"id"`
	Kind string `json:"kind"`
}

func TestService_PublishListen(t *testing.T) {
	fsBase := t.TempDir()
	var testCases = []struct {
		description string
		vendor      messaging.Vendor
		options     []Option
	}{
		{description: "memory", vendor: messaging.VendorMemory},
		{
			description: "fs",
			vendor:      messaging.VendorFs,
			options: []Option{WithNewFsQueueConfig(func(name string) fs.QueueConfig {
				return fs.QueueConfig{BaseURL: fsBase + "/" + name, PollInterval: 5 * time.Millisecond, MaxRetries: 1}
			})},
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			srv, err := New(testCase.vendor, testCase.options...)
			require.NoError(t, err)
			defer srv.Close()

			var mu sync.Mutex
			var received []int
			err = SetListenerOf[change](context.Background(), srv, "changes", func(ctx context.Context, event *Event[change]) error {
				mu.Lock()
				received = append(received, event.Data.ID)
				mu.Unlock()
				return nil
			})
			require.NoError(t, err)

			publisher, err := PublisherOf[change](srv, "changes")
			require.NoError(t, err)
			for i := 1; i <= 3; i++ {
				evt := NewEvent(&Context{Service: "test", EventType: "change"}, change{ID: i})
				require.NoError(t, publisher.Publish(context.Background(), evt))
			}
			assert.Eventually(t, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(received) == 3
			}, 2*time.Second, 5*time.Millisecond)
			mu.Lock()
			assert.Equal(t, []int{1, 2, 3}, received)
			mu.Unlock()
		})
	}
}

func TestService_HandlerErrorRetries(t *testing.T) {
	srv, err := New(messaging.VendorMemory, WithNewMemoryQueueConfig(func(string) memory.Config {
		config := memory.DefaultConfig()
		config.RetryDelay = time.Millisecond
		config.MaxRetries = 1
		return config
	}))
	require.NoError(t, err)
	defer srv.Close()

	var mu sync.Mutex
	attempts := 0
	require.NoError(t, SetListenerOf[change](context.Background(), srv, "changes", func(ctx context.Context, event *Event[change]) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return errors.New("transient")
		}
		return nil
	}))
	publisher, err := PublisherOf[change](srv, "changes")
	require.NoError(t, err)
	require.NoError(t, publisher.Publish(context.Background(), NewEvent(&Context{}, change{ID: 7})))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts == 2
	}, time.Second, 5*time.Millisecond)
}

func TestNew_Validation(t *testing.T) {
	_, err := New("kafka")
	assert.Error(t, err)
	_, err = New(messaging.VendorFs)
	assert.Error(t, err)
}

func TestPublisherOf_TypeMismatch(t *testing.T) {
	srv, err := New(messaging.VendorMemory)
	require.NoError(t, err)
	_, err = PublisherOf[change](srv, "topic")
	require.NoError(t, err)
	_, err = PublisherOf[string](srv, "topic")
	assert.Error(t, err)
}

type brokenQueue[T any] struct {
	mu       sync.Mutex
	consumed int
}

func (q *brokenQueue[T]) Publish(ctx context.Context, t *T) error {
	return errors.New("unavailable")
}

func (q *brokenQueue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	q.mu.Lock()
	q.consumed++
	q.mu.Unlock()
	return nil, errors.New("unavailable")
}

func (q *brokenQueue[T]) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.consumed
}

func TestListener_ConsumeErrorBacksOff(t *testing.T) {
	queue := &brokenQueue[Event[change]]{}
	handler := func(ctx context.Context, event *Event[change]) error { return nil }
	listener := NewListener[change](NewPublisher[change](queue), handler, slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithRetryDelay(20 * time.Millisecond)
	listener.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	listener.Stop()
	assert.GreaterOrEqual(t, queue.count(), 1)
	assert.LessOrEqual(t, queue.count(), 10)
}
