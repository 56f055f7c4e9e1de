// Package admin exposes the allocator over HTTP for operators: health,
// status, snapshot, audit and Prometheus metrics.
package admin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/viant/memlease/model/allocation"
	"github.com/viant/memlease/model/protocol"
	"github.com/viant/memlease/model/worker"
	"github.com/viant/memlease/service/allocator"
	"github.com/viant/memlease/service/audit"
	"github.com/viant/memlease/service/client"
	"github.com/viant/memlease/service/dao"
	"github.com/viant/memlease/service/dao/criteria"
)

// Server handles admin HTTP requests by calling the allocator through the
// request queue.
type Server struct {
	client   *client.Client
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	timeout  time.Duration
}

type Option func(s *Server)

func WithGatherer(gatherer prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = gatherer }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithTimeout bounds how long a handler waits for the allocator.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Server) { s.timeout = timeout }
}

func New(c *client.Client, opts ...Option) *Server {
	ret := &Server{client: c, logger: slog.New(slog.NewTextHandler(io.Discard, nil)), timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// RegisterRoutes sets up all admin routes
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", s.healthz)
	r.GET("/readyz", s.readyz)
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/status", s.status)
		v1.GET("/snapshot", s.snapshot)
		v1.GET("/audit", s.audit)

		allocations := v1.Group("/allocations")
		{
			allocations.GET("", s.allocations)
			allocations.POST("", s.allocate)
			allocations.GET("/:id", s.allocation)
			allocations.DELETE("/:id", s.release)
			allocations.POST("/:id/shrink", s.shrink)
		}
		v1.GET("/workers", s.workers)
		v1.POST("/workers/:hostname", s.registerWorker)
	}
}

// Handler returns a gin engine with every route registered.
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	s.RegisterRoutes(r)
	return r
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// readyz reports ready once the processor answers a status request.
func (s *Server) readyz(c *gin.Context) {
	ctx, cancel := s.context(c)
	defer cancel()
	if _, err := s.client.Status(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) status(c *gin.Context) {
	ctx, cancel := s.context(c)
	defer cancel()
	status, err := s.client.Status(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) snapshot(c *gin.Context) {
	ctx, cancel := s.context(c)
	defer cancel()
	snapshot, err := s.client.Snapshot(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) audit(c *gin.Context) {
	ctx, cancel := s.context(c)
	defer cancel()
	snapshot, err := s.client.Snapshot(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	issues := audit.Check(snapshot)
	if issues == nil {
		issues = []audit.Issue{}
	}
	c.JSON(http.StatusOK, gin.H{"createdAt": snapshot.CreatedAt, "issues": issues})
}

// allocations lists allocations filtered by the hostname and pid query
// parameters.
func (s *Server) allocations(c *gin.Context) {
	ctx, cancel := s.context(c)
	defer cancel()
	snapshot, err := s.client.Snapshot(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	parameters := queryParameters(c, criteria.Hostname, criteria.PID)
	ret := make([]*allocation.Allocation, 0, len(snapshot.Allocations))
	for _, a := range snapshot.Allocations {
		if criteria.Allocation(a, parameters) {
			ret = append(ret, a)
		}
	}
	c.JSON(http.StatusOK, ret)
}

func (s *Server) workers(c *gin.Context) {
	ctx, cancel := s.context(c)
	defer cancel()
	snapshot, err := s.client.Snapshot(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	parameters := queryParameters(c, criteria.Hostname, criteria.Class)
	ret := make([]*worker.Worker, 0, len(snapshot.Workers))
	for _, w := range snapshot.Workers {
		if criteria.Worker(w, parameters) {
			ret = append(ret, w)
		}
	}
	c.JSON(http.StatusOK, ret)
}

func queryParameters(c *gin.Context, names ...string) []*dao.Parameter {
	var ret []*dao.Parameter
	for _, name := range names {
		if values := c.QueryArray(name); len(values) > 0 {
			ret = append(ret, dao.NewParameter(name, values...))
		}
	}
	return ret
}

func (s *Server) allocation(c *gin.Context) {
	id, ok := s.allocationID(c)
	if !ok {
		return
	}
	ctx, cancel := s.context(c)
	defer cancel()
	snapshot, err := s.client.Snapshot(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	for _, a := range snapshot.Allocations {
		if a.ID == id {
			c.JSON(http.StatusOK, a)
			return
		}
	}
	s.fail(c, allocator.ErrUnknownAllocation)
}

func (s *Server) allocate(c *gin.Context) {
	req := &protocol.AllocateRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx, cancel := s.context(c)
	defer cancel()
	result, err := s.client.Allocate(ctx, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// release frees the allocation when pid is its owner, otherwise the pid's
// claim on hostname. Release is fire-and-forget so the answer is 202.
func (s *Server) release(c *gin.Context) {
	id, ok := s.allocationID(c)
	if !ok {
		return
	}
	pid, err := strconv.Atoi(c.Query("pid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pid"})
		return
	}
	ctx, cancel := s.context(c)
	defer cancel()
	if err = s.client.Release(ctx, id, pid, c.Query("hostname")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *Server) shrink(c *gin.Context) {
	id, ok := s.allocationID(c)
	if !ok {
		return
	}
	body := struct {
		NumChunks int `json:"numChunks"`
	}{}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx, cancel := s.context(c)
	defer cancel()
	result, err := s.client.ReleaseChunks(ctx, id, body.NumChunks)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) registerWorker(c *gin.Context) {
	ctx, cancel := s.context(c)
	defer cancel()
	if err := s.client.RegisterWorker(ctx, c.Param("hostname")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *Server) allocationID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid allocation id"})
		return 0, false
	}
	return id, true
}

func (s *Server) context(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.timeout)
}

func (s *Server) fail(c *gin.Context, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("admin request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, allocator.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, allocator.ErrUnknownAllocation),
		errors.Is(err, allocator.ErrUnknownWorker),
		errors.Is(err, allocator.ErrUnknownClaim),
		errors.Is(err, allocator.ErrUnknownChunk):
		return http.StatusNotFound
	case errors.Is(err, allocator.ErrInsufficientCapacity),
		errors.Is(err, allocator.ErrClaimExceedsChunk):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
