package memlease

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/viant/afs"
	"github.com/viant/memlease/model/allocation"
	"github.com/viant/memlease/model/protocol"
	"github.com/viant/memlease/model/worker"
	"github.com/viant/memlease/service/allocator"
	"github.com/viant/memlease/service/dao"
	"github.com/viant/memlease/service/event"
	"github.com/viant/memlease/service/host"
	"github.com/viant/memlease/service/messaging"
	"github.com/viant/memlease/tracing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Option configures a Service
type Option func(s *Service)

// WithConfig replaces the default configuration
func WithConfig(config *Config) Option {
	return func(s *Service) {
		if config != nil {
			s.config = config
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithOracle overrides the config-built host oracle
func WithOracle(oracle host.Oracle) Option {
	return func(s *Service) { s.oracle = oracle }
}

// WithQueue sets the inbound request queue
func WithQueue(queue messaging.Queue[protocol.Request]) Option {
	return func(s *Service) { s.queue = queue }
}

// WithWorkerDAO sets the worker registry store
func WithWorkerDAO(workerDAO dao.Service[string, worker.Worker]) Option {
	return func(s *Service) { s.workerDAO = workerDAO }
}

// WithAllocationDAO sets the allocation registry store
func WithAllocationDAO(allocationDAO dao.Service[int, allocation.Allocation]) Option {
	return func(s *Service) { s.allocationDAO = allocationDAO }
}

// WithStateDAO sets the allocator bookkeeping store
func WithStateDAO(stateDAO dao.Service[string, allocator.State]) Option {
	return func(s *Service) { s.stateDAO = stateDAO }
}

func WithEventService(service *event.Service) Option {
	return func(s *Service) { s.eventService = service }
}

// WithFs sets the storage service used for fs stores, fs events and audit export
func WithFs(fs afs.Service) Option {
	return func(s *Service) { s.fs = fs }
}

// WithMetricsRegisterer registers the service metrics with registerer. When
// registerer also implements prometheus.Gatherer it backs /metrics.
func WithMetricsRegisterer(registerer prometheus.Registerer) Option {
	return func(s *Service) {
		s.registerer = registerer
		if gatherer, ok := registerer.(prometheus.Gatherer); ok {
			s.gatherer = gatherer
		}
	}
}

// WithTracing configures OpenTelemetry tracing for the service. If outputFile is empty the
// stdout exporter is used; otherwise traces are written to the supplied file path.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		if err := tracing.Init(serviceName, serviceVersion, outputFile); err != nil {
			s.initErrs = append(s.initErrs, err)
		}
	}
}

// WithTracingExporter configures OpenTelemetry tracing using a custom SpanExporter.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		if err := tracing.InitWithExporter(serviceName, serviceVersion, exporter); err != nil {
			s.initErrs = append(s.initErrs, err)
		}
	}
}
