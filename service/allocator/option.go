package allocator

import (
	"log/slog"

	"github.com/viant/memlease/metrics"
	"github.com/viant/memlease/model/allocation"
	"github.com/viant/memlease/model/worker"
	"github.com/viant/memlease/policy"
	"github.com/viant/memlease/service/dao"
	"github.com/viant/memlease/service/event"
	"github.com/viant/memlease/service/host"
	"github.com/viant/memlease/service/notify"
)

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithPolicy(p *policy.Policy) Option {
	return func(s *Service) { s.policy = p }
}

func WithOracle(oracle host.Oracle) Option {
	return func(s *Service) { s.oracle = oracle }
}

func WithWorkerDAO(workerDAO dao.Service[string, worker.Worker]) Option {
	return func(s *Service) { s.workerDAO = workerDAO }
}

func WithAllocationDAO(allocationDAO dao.Service[int, allocation.Allocation]) Option {
	return func(s *Service) { s.allocationDAO = allocationDAO }
}

// WithStateDAO sets the store keeping the id sequence high-water mark.
func WithStateDAO(stateDAO dao.Service[string, State]) Option {
	return func(s *Service) { s.stateDAO = stateDAO }
}

// WithEvents publishes lifecycle changes on publisher.
func WithEvents(publisher *event.Publisher[allocation.Change]) Option {
	return func(s *Service) { s.events = publisher }
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(s *Service) { s.metrics = collector }
}

// WithPusher sets the growth notification pusher.
func WithPusher(pusher *notify.Pusher) Option {
	return func(s *Service) { s.pusher = pusher }
}
