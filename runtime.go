package memlease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/viant/memlease/metrics"
	"github.com/viant/memlease/model/allocation"
	"github.com/viant/memlease/model/protocol"
	"github.com/viant/memlease/service/admin"
	"github.com/viant/memlease/service/allocator"
	"github.com/viant/memlease/service/audit"
	"github.com/viant/memlease/service/client"
	"github.com/viant/memlease/service/event"
	"github.com/viant/memlease/service/host"
	"github.com/viant/memlease/service/messaging"
	"github.com/viant/memlease/service/notify"
	"github.com/viant/memlease/service/processor"
	"github.com/viant/memlease/tracing"
)

// Runtime represents a running allocator with its request loop, event
// listener, audit loop and admin surface.
type Runtime struct {
	config    *Config
	logger    *slog.Logger
	oracle    host.Oracle
	queue     messaging.Queue[protocol.Request]
	engine    *allocator.Service
	processor *processor.Service
	client    *client.Client
	events    *event.Service
	pusher    *notify.Pusher
	metrics   *metrics.Collector
	exporter  *audit.Exporter
	admin     *admin.Server

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Client returns the caller-side API bound to the request queue.
func (r *Runtime) Client() *client.Client {
	return r.client
}

// Admin returns the admin HTTP surface.
func (r *Runtime) Admin() *admin.Server {
	return r.admin
}

// Oracle returns the host oracle in use.
func (r *Runtime) Oracle() host.Oracle {
	return r.oracle
}

// Start restores persisted state, starts the request loop, registers the
// configured workers and starts the event and audit loops.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil
	}
	if err := r.engine.Load(ctx); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	if err := event.SetListenerOf[allocation.Change](runCtx, r.events, ChangesTopic, r.onChange); err != nil {
		r.logger.Warn("allocation changes will not be logged", "error", err)
	}
	if err := r.processor.Start(runCtx); err != nil {
		cancel()
		r.cancel = nil
		return err
	}
	for _, hostname := range r.config.Workers {
		if err := r.client.RegisterWorker(ctx, hostname); err != nil {
			r.processor.Shutdown()
			cancel()
			r.events.Close()
			r.cancel = nil
			return fmt.Errorf("failed to register worker %v: %w", hostname, err)
		}
	}
	if r.exporter != nil {
		r.wg.Add(1)
		go r.auditLoop(runCtx)
	}
	r.logger.Info("memlease started", "workers", len(r.config.Workers))
	return nil
}

// Shutdown stops every loop and waits for in-flight growth pushes.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	r.processor.Shutdown()
	cancel()
	r.wg.Wait()
	r.events.Close()
	r.pusher.Wait()
	var errs []error
	if closer, ok := r.oracle.(interface{ Close() error }); ok {
		errs = append(errs, closer.Close())
	}
	if r.config.Tracing.Enabled {
		errs = append(errs, tracing.Shutdown(ctx))
	}
	r.logger.Info("memlease stopped")
	return errors.Join(errs...)
}

// Audit takes a snapshot through the request loop, exports it when an
// export URL is configured and returns the cross-check issues.
func (r *Runtime) Audit(ctx context.Context) ([]audit.Issue, error) {
	snapshot, err := r.client.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if r.exporter != nil {
		URL, err := r.exporter.Export(ctx, snapshot)
		if err != nil {
			return nil, err
		}
		r.logger.Debug("snapshot exported", "url", URL)
	}
	issues := audit.Check(snapshot)
	for _, issue := range issues {
		r.logger.Warn("audit issue", "kind", issue.Kind, "hostname", issue.Hostname, "allocationId", issue.AllocationID, "message", issue.Message)
	}
	return issues, nil
}

// Serve runs the admin HTTP server on the configured address until ctx ends.
func (r *Runtime) Serve(ctx context.Context) error {
	server := &http.Server{Addr: r.config.Admin.Addr, Handler: r.admin.Handler()}
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	r.logger.Info("admin listening", "addr", r.config.Admin.Addr)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func (r *Runtime) auditLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.config.Audit.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			callCtx, cancel := context.WithTimeout(ctx, r.config.Admin.Timeout)
			if _, err := r.Audit(callCtx); err != nil && ctx.Err() == nil {
				r.logger.Error("audit failed", "error", err)
			}
			cancel()
		}
	}
}

func (r *Runtime) onChange(ctx context.Context, evt *event.Event[allocation.Change]) error {
	change := evt.Data
	r.logger.Info("allocation changed", "type", change.Type, "id", change.AllocationID, "pid", change.PID, "ram", change.Ram.String())
	return nil
}
