package memlease

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/viant/afs"
	"github.com/viant/afs/url"
	"github.com/viant/memlease/metrics"
	"github.com/viant/memlease/model/allocation"
	"github.com/viant/memlease/model/protocol"
	"github.com/viant/memlease/model/worker"
	"github.com/viant/memlease/policy"
	"github.com/viant/memlease/service/admin"
	"github.com/viant/memlease/service/allocator"
	"github.com/viant/memlease/service/audit"
	"github.com/viant/memlease/service/client"
	"github.com/viant/memlease/service/dao"
	"github.com/viant/memlease/service/dao/criteria"
	"github.com/viant/memlease/service/dao/store"
	"github.com/viant/memlease/service/event"
	"github.com/viant/memlease/service/host"
	hostmem "github.com/viant/memlease/service/host/memory"
	"github.com/viant/memlease/service/host/shell"
	"github.com/viant/memlease/service/messaging"
	"github.com/viant/memlease/service/messaging/fs"
	"github.com/viant/memlease/service/messaging/memory"
	"github.com/viant/memlease/service/notify"
	"github.com/viant/memlease/service/processor"
)

// Name identifies the service in traces.
const Name = "memlease"

// Version is the service version reported in traces.
const Version = "0.1.0"

// ChangesTopic is the event topic carrying allocation lifecycle changes.
const ChangesTopic = "allocation-changes"

// Service wires the allocator engine, its request loop and the outer
// surfaces from a Config.
type Service struct {
	config        *Config
	logger        *slog.Logger
	fs            afs.Service
	oracle        host.Oracle
	queue         messaging.Queue[protocol.Request]
	workerDAO     dao.Service[string, worker.Worker]
	allocationDAO dao.Service[int, allocation.Allocation]
	stateDAO      dao.Service[string, allocator.State]
	eventService  *event.Service
	registerer    prometheus.Registerer
	gatherer      prometheus.Gatherer
	initErrs      []error
	runtime       *Runtime
}

// New creates a service; nothing runs until Runtime().Start.
func New(options ...Option) (*Service, error) {
	ret := &Service{config: DefaultConfig()}
	for _, option := range options {
		option(ret)
	}
	if err := errors.Join(ret.initErrs...); err != nil {
		return nil, err
	}
	if err := ret.config.Validate(); err != nil {
		return nil, err
	}
	if err := ret.ensureBaseSetup(); err != nil {
		return nil, err
	}
	if err := ret.init(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *Service) Config() *Config {
	return s.config
}

func (s *Service) Runtime() *Runtime {
	return s.runtime
}

func (s *Service) ensureBaseSetup() error {
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.fs == nil {
		s.fs = afs.New()
	}
	if s.registerer == nil {
		registry := prometheus.NewRegistry()
		s.registerer, s.gatherer = registry, registry
	}
	if s.queue == nil {
		s.queue = memory.NewQueue[protocol.Request](s.config.Queue)
	}
	if s.oracle == nil {
		oracle, err := s.newOracle()
		if err != nil {
			return err
		}
		s.oracle = oracle
	}
	if err := s.ensureStores(); err != nil {
		return err
	}
	if s.eventService == nil {
		var err error
		if s.eventService, err = s.newEventService(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) newOracle() (host.Oracle, error) {
	switch s.config.Hosts.Vendor {
	case HostVendorShell:
		return shell.New(s.config.Hosts.Shell, shell.WithLogger(s.logger.With("component", "oracle"))), nil
	case HostVendorMemory, "":
		cluster := hostmem.New()
		for hostname, total := range s.config.Hosts.Simulated {
			cluster.AddHost(hostname, total)
		}
		return cluster, nil
	}
	return nil, fmt.Errorf("unsupported host vendor: %s", s.config.Hosts.Vendor)
}

func (s *Service) ensureStores() error {
	if s.config.Store.Vendor != messaging.VendorFs {
		return nil
	}
	baseURL := s.config.Store.BaseURL
	var err error
	if s.workerDAO == nil {
		if s.workerDAO, err = store.NewFsStore[string, worker.Worker](s.fs, url.Join(baseURL, "workers"),
			func(w *worker.Worker) string { return w.Hostname },
			func(hostname string) string { return hostname },
			store.WithFilter(criteria.Worker)); err != nil {
			return fmt.Errorf("failed to create worker store: %w", err)
		}
	}
	if s.allocationDAO == nil {
		if s.allocationDAO, err = store.NewFsStore[int, allocation.Allocation](s.fs, url.Join(baseURL, "allocations"),
			func(a *allocation.Allocation) int { return a.ID },
			strconv.Itoa,
			store.WithFilter(criteria.Allocation)); err != nil {
			return fmt.Errorf("failed to create allocation store: %w", err)
		}
	}
	if s.stateDAO == nil {
		if s.stateDAO, err = store.NewFsStore[string, allocator.State](s.fs, url.Join(baseURL, "state"),
			func(state *allocator.State) string { return state.Name },
			func(name string) string { return name }); err != nil {
			return fmt.Errorf("failed to create state store: %w", err)
		}
	}
	return nil
}

func (s *Service) newEventService() (*event.Service, error) {
	options := []event.Option{event.WithLogger(s.logger.With("component", "events")), event.WithFs(s.fs)}
	if s.config.Events.Vendor == messaging.VendorFs {
		baseURL := s.config.Events.BaseURL
		options = append(options, event.WithNewFsQueueConfig(func(name string) fs.QueueConfig {
			config := fs.DefaultConfig()
			config.BaseURL = url.Join(baseURL, name)
			return config
		}))
	}
	return event.New(s.config.Events.Vendor, options...)
}

func (s *Service) init() error {
	collector := metrics.New(s.registerer)
	pusher := notify.New(s.config.Notify,
		notify.WithLogger(s.logger.With("component", "notify")),
		notify.WithOnDropped(func(*allocation.Growth) { collector.Update(metrics.Delta{Dropped: 1}) }))

	engineOptions := []allocator.Option{
		allocator.WithLogger(s.logger.With("component", "allocator")),
		allocator.WithPolicy(policy.New(s.config.Policy)),
		allocator.WithOracle(s.oracle),
		allocator.WithMetrics(collector),
		allocator.WithPusher(pusher),
	}
	if s.workerDAO != nil {
		engineOptions = append(engineOptions, allocator.WithWorkerDAO(s.workerDAO))
	}
	if s.allocationDAO != nil {
		engineOptions = append(engineOptions, allocator.WithAllocationDAO(s.allocationDAO))
	}
	if s.stateDAO != nil {
		engineOptions = append(engineOptions, allocator.WithStateDAO(s.stateDAO))
	}
	changes, err := event.PublisherOf[allocation.Change](s.eventService, ChangesTopic)
	if err != nil {
		s.logger.Warn("allocation changes will not be published", "error", err)
	} else {
		engineOptions = append(engineOptions, allocator.WithEvents(changes))
	}

	processorConfig := processor.DefaultConfig()
	processorConfig.Maintenance = s.config.Maintenance
	s.runtime = &Runtime{
		config:  s.config,
		logger:  s.logger,
		oracle:  s.oracle,
		queue:   s.queue,
		events:  s.eventService,
		pusher:  pusher,
		metrics: collector,
		engine:  allocator.New(s.config.Allocator, engineOptions...),
	}
	if s.runtime.processor, err = processor.New(
		processor.WithMessageQueue(s.queue),
		processor.WithHandler(s.runtime.engine),
		processor.WithLogger(s.logger.With("component", "processor")),
		processor.WithMetrics(collector),
		processor.WithConfig(processorConfig),
	); err != nil {
		return fmt.Errorf("failed to create processor: %w", err)
	}
	s.runtime.client = client.New(s.queue, s.runtime.processor.Router())
	s.runtime.admin = admin.New(s.runtime.client,
		admin.WithGatherer(s.gatherer),
		admin.WithLogger(s.logger.With("component", "admin")),
		admin.WithTimeout(s.config.Admin.Timeout))
	if s.config.Audit.URL != "" {
		s.runtime.exporter = audit.NewExporter(s.fs, s.config.Audit.URL)
	}
	return nil
}
