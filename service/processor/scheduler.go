package processor

import (
	"context"
	"log/slog"
	"time"

	"github.com/viant/memlease/model/protocol"
	"github.com/viant/memlease/service/correlation"
	"github.com/viant/memlease/service/messaging"
)

// scheduler turns maintenance intervals into requests on the inbound queue,
// so sweeps are serialised with caller traffic. It also drops response slots
// abandoned by callers, which never touch allocator state.
type scheduler struct {
	queue  messaging.Queue[protocol.Request]
	router *correlation.Router
	config MaintenanceConfig
	logger *slog.Logger
}

func newScheduler(queue messaging.Queue[protocol.Request], router *correlation.Router, config MaintenanceConfig, logger *slog.Logger) *scheduler {
	return &scheduler{queue: queue, router: router, config: config, logger: logger}
}

func (s *scheduler) run(ctx context.Context) {
	cleanup := ticker(s.config.CleanupInterval)
	reserve := ticker(s.config.ReserveInterval)
	grow := ticker(s.config.GrowInterval)
	expire := ticker(s.config.ExpireInterval)
	defer expire.Stop()
	defer cleanup.Stop()
	defer reserve.Stop()
	defer grow.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanup.C:
			s.publish(ctx, protocol.OpCleanup)
		case <-reserve.C:
			s.publish(ctx, protocol.OpUpdateReserved)
		case <-grow.C:
			s.publish(ctx, protocol.OpGrow)
		case <-expire.C:
			s.expire()
		}
	}
}

func (s *scheduler) publish(ctx context.Context, op protocol.OperationType) {
	if err := s.queue.Publish(ctx, &protocol.Request{Type: op}); err != nil && ctx.Err() == nil {
		s.logger.Warn("failed to schedule maintenance", "type", op, "error", err)
	}
}

func (s *scheduler) expire() {
	if s.config.ResponseTTL <= 0 {
		return
	}
	if expired := s.router.Expire(s.config.ResponseTTL); len(expired) > 0 {
		s.logger.Warn("expired abandoned response slots", "count", len(expired), "ttl", s.config.ResponseTTL)
	}
}

// ticker returns a stopped-forever ticker for a non-positive interval.
func ticker(interval time.Duration) *time.Ticker {
	if interval > 0 {
		return time.NewTicker(interval)
	}
	t := time.NewTicker(time.Hour)
	t.Stop()
	return t
}
