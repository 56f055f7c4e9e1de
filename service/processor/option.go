package processor

import (
	"log/slog"

	"github.com/viant/memlease/metrics"
	"github.com/viant/memlease/model/protocol"
	"github.com/viant/memlease/service/correlation"
	"github.com/viant/memlease/service/messaging"
)

type Option func(*Service)

// WithMessageQueue sets the inbound request queue
func WithMessageQueue(queue messaging.Queue[protocol.Request]) Option {
	return func(s *Service) {
		s.queue = queue
	}
}

// WithHandler sets the request handler, normally the allocator engine
func WithHandler(handler Handler) Option {
	return func(s *Service) {
		s.handler = handler
	}
}

// WithRouter sets the response router shared with clients
func WithRouter(router *correlation.Router) Option {
	return func(s *Service) {
		s.router = router
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(s *Service) {
		s.metrics = collector
	}
}

// WithConfig sets the configuration for the service
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}
