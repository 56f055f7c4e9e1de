// Package client is the caller-side API of the allocator. Every call
// publishes a request on the shared inbound queue; calls that expect an
// answer wait on a private response channel.
package client

import (
	"context"
	"fmt"

	"github.com/viant/memlease/internal/idgen"
	"github.com/viant/memlease/model/allocation"
	"github.com/viant/memlease/model/protocol"
	"github.com/viant/memlease/service/correlation"
	"github.com/viant/memlease/service/messaging"
	"github.com/viant/memlease/tracing"
)

type Client struct {
	queue  messaging.Queue[protocol.Request]
	router *correlation.Router
}

func New(queue messaging.Queue[protocol.Request], router *correlation.Router) *Client {
	return &Client{queue: queue, router: router}
}

// Do publishes req and, when its operation expects one, waits for the
// response or for ctx to end. A response carrying an error is returned along
// with that error.
func (c *Client) Do(ctx context.Context, req *protocol.Request) (resp *protocol.Response, err error) {
	ctx, span := tracing.StartSpan(ctx, "client."+string(req.Type), "PRODUCER")
	defer func() { tracing.EndSpan(span, err) }()
	if !req.Type.Expects() {
		return nil, c.queue.Publish(ctx, req)
	}
	if req.CorrelationID == "" {
		req.CorrelationID = idgen.New()
	}
	span.WithAttributes(map[string]string{"correlation.id": req.CorrelationID})
	ch := c.router.Register(req.CorrelationID)
	if err = c.queue.Publish(ctx, req); err != nil {
		c.router.Cancel(req.CorrelationID)
		return nil, fmt.Errorf("failed to publish %s request: %w", req.Type, err)
	}
	select {
	case resp = <-ch:
		return resp, resp.Err()
	case <-ctx.Done():
		c.router.Cancel(req.CorrelationID)
		return nil, ctx.Err()
	}
}

// RegisterWorker announces hostname; fire-and-forget.
func (c *Client) RegisterWorker(ctx context.Context, hostname string) error {
	_, err := c.Do(ctx, &protocol.Request{Type: protocol.OpRegisterWorker, RegisterWorker: &protocol.RegisterWorkerRequest{Hostname: hostname}})
	return err
}

func (c *Client) Allocate(ctx context.Context, req *protocol.AllocateRequest) (*allocation.Result, error) {
	return c.result(ctx, &protocol.Request{Type: protocol.OpAllocate, Allocate: req})
}

// GrowableAllocate allocates and subscribes notify to future growth deltas.
func (c *Client) GrowableAllocate(ctx context.Context, req *protocol.AllocateRequest, notify messaging.Queue[allocation.Growth]) (*allocation.Result, error) {
	req.Notify = notify
	return c.result(ctx, &protocol.Request{Type: protocol.OpGrowableAllocate, Allocate: req})
}

// Release releases the allocation (owner) or the caller's claim; fire-and-forget.
func (c *Client) Release(ctx context.Context, allocationID, pid int, hostname string) error {
	_, err := c.Do(ctx, &protocol.Request{Type: protocol.OpRelease, Release: &protocol.ReleaseRequest{AllocationID: allocationID, PID: pid, Hostname: hostname}})
	return err
}

// ReleaseClaim releases pid's claim on hostname; fire-and-forget.
func (c *Client) ReleaseClaim(ctx context.Context, allocationID, pid int, hostname string) error {
	_, err := c.Do(ctx, &protocol.Request{Type: protocol.OpReleaseClaim, Release: &protocol.ReleaseRequest{AllocationID: allocationID, PID: pid, Hostname: hostname}})
	return err
}

// ReleaseChunks shrinks an allocation; a nil result means it no longer exists.
func (c *Client) ReleaseChunks(ctx context.Context, allocationID, numChunks int) (*allocation.Result, error) {
	return c.result(ctx, &protocol.Request{Type: protocol.OpReleaseChunks, ReleaseChunks: &protocol.ReleaseChunksRequest{AllocationID: allocationID, NumChunks: numChunks}})
}

// Register records capacity already used by a running process.
func (c *Client) Register(ctx context.Context, req *protocol.RegisterRequest) (*allocation.Result, error) {
	return c.result(ctx, &protocol.Request{Type: protocol.OpRegister, Register: req})
}

// Claim sub-leases part of an allocation; fire-and-forget.
func (c *Client) Claim(ctx context.Context, req *protocol.ClaimRequest) error {
	_, err := c.Do(ctx, &protocol.Request{Type: protocol.OpClaim, Claim: req})
	return err
}

func (c *Client) Status(ctx context.Context) (*protocol.Status, error) {
	resp, err := c.Do(ctx, &protocol.Request{Type: protocol.OpStatus})
	if err != nil {
		return nil, err
	}
	return resp.Status, nil
}

func (c *Client) Snapshot(ctx context.Context) (*protocol.Snapshot, error) {
	resp, err := c.Do(ctx, &protocol.Request{Type: protocol.OpSnapshot})
	if err != nil {
		return nil, err
	}
	return resp.Snapshot, nil
}

func (c *Client) result(ctx context.Context, req *protocol.Request) (*allocation.Result, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}
