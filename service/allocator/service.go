package allocator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/viant/memlease/internal/clock"
	"github.com/viant/memlease/internal/idgen"
	"github.com/viant/memlease/metrics"
	"github.com/viant/memlease/model/allocation"
	"github.com/viant/memlease/model/ram"
	"github.com/viant/memlease/model/worker"
	"github.com/viant/memlease/policy"
	"github.com/viant/memlease/service/dao"
	"github.com/viant/memlease/service/dao/criteria"
	"github.com/viant/memlease/service/dao/store"
	"github.com/viant/memlease/service/event"
	"github.com/viant/memlease/service/host"
	"github.com/viant/memlease/service/messaging"
	"github.com/viant/memlease/service/notify"
)

// Config represents allocator configuration
type Config struct {
	// EventTimeout bounds how long a lifecycle event publish may block.
	EventTimeout time.Duration `json:"eventTimeout" yaml:"eventTimeout"`
}

// DefaultConfig returns the default allocator configuration
func DefaultConfig() Config {
	return Config{EventTimeout: 50 * time.Millisecond}
}

// State is the engine bookkeeping persisted next to the registries.
type State struct {
	Name   string `json:"name"`
	LastID int    `json:"lastId"`
}

const stateName = "allocator"

// Service is the allocator engine.
type Service struct {
	config        Config
	logger        *slog.Logger
	policy        *policy.Policy
	oracle        host.Oracle
	workerDAO     dao.Service[string, worker.Worker]
	allocationDAO dao.Service[int, allocation.Allocation]
	stateDAO      dao.Service[string, State]
	events        *event.Publisher[allocation.Change]
	metrics       *metrics.Collector
	pusher        *notify.Pusher

	workers     map[string]*worker.Worker
	allocations map[int]*allocation.Allocation
	notifiers   map[int]messaging.Queue[allocation.Growth]
	ids         idgen.Sequence
}

// New creates an allocator engine; call Load before serving requests when a
// persistent store is configured.
func New(config Config, options ...Option) *Service {
	ret := &Service{
		config:      config,
		workers:     make(map[string]*worker.Worker),
		allocations: make(map[int]*allocation.Allocation),
		notifiers:   make(map[int]messaging.Queue[allocation.Growth]),
	}
	for _, opt := range options {
		opt(ret)
	}
	if ret.logger == nil {
		ret.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if ret.policy == nil {
		ret.policy = policy.New(policy.Config{})
	}
	if ret.workerDAO == nil {
		ret.workerDAO = store.NewMemoryStore[string, worker.Worker](func(w *worker.Worker) string { return w.Hostname },
			store.WithFilter(criteria.Worker))
	}
	if ret.allocationDAO == nil {
		ret.allocationDAO = store.NewMemoryStore[int, allocation.Allocation](func(a *allocation.Allocation) int { return a.ID },
			store.WithFilter(criteria.Allocation))
	}
	if ret.stateDAO == nil {
		ret.stateDAO = store.NewMemoryStore[string, State](func(s *State) string { return s.Name })
	}
	if ret.pusher == nil {
		collector := ret.metrics
		ret.pusher = notify.New(notify.DefaultConfig(),
			notify.WithLogger(ret.logger),
			notify.WithOnDropped(func(*allocation.Growth) { collector.Update(metrics.Delta{Dropped: 1}) }))
	}
	return ret
}

// Load restores both registries from their stores and seeds the id sequence
// past the highest persisted allocation id.
func (s *Service) Load(ctx context.Context) error {
	workers, err := s.workerDAO.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load workers: %w", err)
	}
	for _, w := range workers {
		s.workers[w.Hostname] = w
		s.metrics.UpdateWorker(w)
	}
	allocations, err := s.allocationDAO.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load allocations: %w", err)
	}
	for _, a := range allocations {
		if a.IsEmpty() {
			_ = s.allocationDAO.Delete(ctx, a.ID)
			continue
		}
		s.allocations[a.ID] = a
		s.ids.Seed(a.ID)
	}
	state, err := s.stateDAO.Load(ctx, stateName)
	switch {
	case err == nil:
		s.ids.Seed(state.LastID)
	case !errors.Is(err, dao.ErrNotFound):
		return fmt.Errorf("failed to load allocator state: %w", err)
	}
	s.metrics.SetAllocations(len(s.allocations))
	s.logger.Info("allocator state loaded", "workers", len(s.workers), "allocations", len(s.allocations), "lastId", s.ids.Last())
	return nil
}

// RegisterWorker creates the ledger for hostname, or refreshes its total RAM
// when it is already known.
func (s *Service) RegisterWorker(ctx context.Context, hostname string) error {
	if hostname == "" {
		return fmt.Errorf("%w: empty hostname", ErrInvalidRequest)
	}
	total, err := s.totalRam(ctx, hostname)
	if err != nil {
		return err
	}
	if w, ok := s.workers[hostname]; ok {
		w.TotalRam = total
		s.saveWorker(ctx, w)
		return nil
	}
	w := worker.New(hostname, s.policy.Classify(hostname), total, s.policy.SetAsideFor(hostname))
	s.workers[hostname] = w
	s.saveWorker(ctx, w)
	s.logger.Info("worker registered", "hostname", hostname, "class", w.Class.String(), "totalRam", w.TotalRam.String(), "setAsideRam", w.SetAsideRam.String())
	return nil
}

func (s *Service) totalRam(ctx context.Context, hostname string) (ram.Ram, error) {
	if s.oracle == nil {
		return 0, fmt.Errorf("%w: no host oracle for %s", ErrUnknownWorker, hostname)
	}
	total, err := s.oracle.TotalRam(ctx, hostname)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnknownWorker, err)
	}
	return total, nil
}

// Worker returns a copy of the ledger for hostname.
func (s *Service) Worker(hostname string) (*worker.Worker, bool) {
	w, ok := s.workers[hostname]
	if !ok {
		return nil, false
	}
	return w.Clone(), true
}

// Allocation returns a copy of the allocation with id.
func (s *Service) Allocation(id int) (*allocation.Allocation, bool) {
	a, ok := s.allocations[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// commit stores a new allocation under a fresh id.
func (s *Service) commit(ctx context.Context, a *allocation.Allocation) {
	a.ID = s.ids.Next()
	a.CreatedAt = clock.Now()
	s.allocations[a.ID] = a
	if err := s.stateDAO.Save(ctx, &State{Name: stateName, LastID: a.ID}); err != nil {
		s.logger.Error("failed to save allocator state", "lastId", a.ID, "error", err)
	}
	s.saveAllocation(ctx, a)
}

// saveAllocation persists a, or drops it from both registries once it holds
// no chunks.
func (s *Service) saveAllocation(ctx context.Context, a *allocation.Allocation) {
	a.Prune()
	if a.IsEmpty() {
		delete(s.allocations, a.ID)
		delete(s.notifiers, a.ID)
		if err := s.allocationDAO.Delete(ctx, a.ID); err != nil && !errors.Is(err, dao.ErrNotFound) {
			s.logger.Error("failed to delete allocation", "id", a.ID, "error", err)
		}
	} else if err := s.allocationDAO.Save(ctx, a); err != nil {
		s.logger.Error("failed to save allocation", "id", a.ID, "error", err)
	}
	s.metrics.SetAllocations(len(s.allocations))
}

func (s *Service) saveWorker(ctx context.Context, w *worker.Worker) {
	if err := s.workerDAO.Save(ctx, w); err != nil {
		s.logger.Error("failed to save worker", "hostname", w.Hostname, "error", err)
	}
	s.metrics.UpdateWorker(w)
}

// free credits amount back to hostname's ledger.
func (s *Service) free(ctx context.Context, hostname string, amount ram.Ram) {
	w, ok := s.workers[hostname]
	if !ok {
		s.logger.Warn("freeing capacity on unknown worker", "hostname", hostname, "ram", amount.String())
		return
	}
	w.Free(amount)
	s.saveWorker(ctx, w)
}

// freeAll returns every chunk of a to its worker and empties it.
func (s *Service) freeAll(ctx context.Context, a *allocation.Allocation) {
	for _, chunk := range a.Chunks {
		s.free(ctx, chunk.Hostname, chunk.Ram())
		chunk.NumChunks = 0
	}
	a.Claims = nil
}

func (s *Service) emit(ctx context.Context, changeType allocation.ChangeType, a *allocation.Allocation, pid int, chunks []allocation.Chunk, amount ram.Ram) {
	if s.events == nil {
		return
	}
	change := allocation.Change{Type: changeType, AllocationID: a.ID, PID: pid, Chunks: chunks, Ram: amount, At: clock.Now()}
	evt := event.NewEvent(&event.Context{Service: "allocator", Operation: string(changeType), EventType: "change"}, change)
	if s.config.EventTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.EventTimeout)
		defer cancel()
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		s.logger.Warn("failed to publish allocation change", "type", changeType, "id", a.ID, "error", err)
	}
}
