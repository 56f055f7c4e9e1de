package allocator

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"github.com/viant/memlease/metrics"
	"github.com/viant/memlease/model/allocation"
	"github.com/viant/memlease/model/protocol"
	"github.com/viant/memlease/model/ram"
	"github.com/viant/memlease/model/worker"
	"github.com/viant/memlease/policy"
	"github.com/viant/memlease/service/dao/store"
	"github.com/viant/memlease/service/event"
	hostmem "github.com/viant/memlease/service/host/memory"
	"github.com/viant/memlease/service/messaging"
	"github.com/viant/memlease/service/messaging/memory"
	"github.com/viant/memlease/service/notify"
)

type hostSpec struct {
	name string
	gb   float64
}

type fixture struct {
	ctx     context.Context
	cluster *hostmem.Cluster
	srv     *Service
	metrics *metrics.Collector
}

func newFixture(t *testing.T, config policy.Config, hosts []hostSpec, options ...Option) *fixture {
	t.Helper()
	ret := &fixture{ctx: context.Background(), cluster: hostmem.New(), metrics: metrics.New(nil)}
	options = append([]Option{
		WithOracle(ret.cluster),
		WithPolicy(policy.New(config)),
		WithMetrics(ret.metrics),
		WithPusher(notify.New(notify.Config{MaxAttempts: 2, Interval: time.Millisecond, AttemptTimeout: 50 * time.Millisecond})),
	}, options...)
	ret.srv = New(DefaultConfig(), options...)
	for _, h := range hosts {
		ret.addHost(t, h.name, h.gb)
	}
	return ret
}

func (f *fixture) addHost(t *testing.T, name string, gb float64) {
	f.cluster.AddHost(name, ram.FromGB(gb))
	require.NoError(t, f.srv.RegisterWorker(f.ctx, name))
}

// start launches a live process on the first host so GC leaves it alone.
func (f *fixture) start(t *testing.T, hostname string) int {
	pid, err := f.cluster.Start(hostname, "proc", 0)
	require.NoError(t, err)
	return pid
}

func (f *fixture) totalFree() ram.Ram {
	var total ram.Ram
	for _, w := range f.srv.Snapshot(f.ctx).Workers {
		total += w.FreeRam()
	}
	return total
}

func (f *fixture) allocated(hostname string) ram.Ram {
	w, _ := f.srv.Worker(hostname)
	return w.AllocatedRam
}

func assertInvariants(t *testing.T, srv *Service) {
	t.Helper()
	snapshot := srv.Snapshot(context.Background())
	perHost := map[string]ram.Ram{}
	for _, a := range snapshot.Allocations {
		assert.False(t, a.IsEmpty(), "allocation %d is empty", a.ID)
		assert.GreaterOrEqual(t, a.RequestedChunks, 0)
		for _, chunk := range a.Chunks {
			perHost[chunk.Hostname] += chunk.Ram()
			assert.LessOrEqual(t, a.ClaimedChunks(chunk.Hostname, chunk.ChunkSize), chunk.NumChunks)
		}
	}
	for _, w := range snapshot.Workers {
		expect := (w.TotalRam - w.SetAsideRam - w.ReservedRam - w.AllocatedRam).Clamp0()
		assert.Equal(t, expect, w.FreeRam())
		assert.GreaterOrEqual(t, int64(w.AllocatedRam), int64(0))
		assert.Equal(t, perHost[w.Hostname], w.AllocatedRam, w.Hostname)
	}
}

func gb(v float64) ram.Ram { return ram.FromGB(v) }

func TestService_Allocate(t *testing.T) {
	var testCases = []struct {
		description string
		policy      policy.Config
		hosts       []hostSpec
		request     protocol.AllocateRequest
		expectErr   error
		expectHosts []string
		expectCount int
		expectFree  float64
	}{
		{
			description: "basic split fits a single host",
			hosts:       []hostSpec{{"h1", 32}, {"h2", 16}},
			request:     protocol.AllocateRequest{PID: 1, Filename: "test.js", ChunkSize: gb(8), NumChunks: 3},
			expectHosts: []string{"h1"},
			expectCount: 3,
			expectFree:  24,
		},
		{
			description: "rollback on shortfall",
			hosts:       []hostSpec{{"h1", 8}, {"h2", 4}},
			request:     protocol.AllocateRequest{PID: 1, Filename: "fail.js", ChunkSize: gb(4), NumChunks: 4},
			expectErr:   ErrInsufficientCapacity,
			expectFree:  12,
		},
		{
			description: "shrinkable keeps partial grant",
			hosts:       []hostSpec{{"h1", 8}, {"h2", 4}},
			request:     protocol.AllocateRequest{PID: 1, Filename: "s.js", ChunkSize: gb(4), NumChunks: 4, Shrinkable: true},
			expectHosts: []string{"h1", "h2"},
			expectCount: 3,
			expectFree:  0,
		},
		{
			description: "distributed walk",
			hosts:       []hostSpec{{"h1", 8}, {"h2", 16}},
			request:     protocol.AllocateRequest{PID: 1, ChunkSize: gb(4), NumChunks: 5},
			expectHosts: []string{"h2", "h1"},
			expectCount: 5,
			expectFree:  4,
		},
		{
			description: "default ranks primary last",
			hosts:       []hostSpec{{"home", 8}, {"h1", 16}},
			request:     protocol.AllocateRequest{PID: 1, Filename: "d.js", ChunkSize: gb(4), NumChunks: 1},
			expectHosts: []string{"h1"},
			expectCount: 1,
			expectFree:  20,
		},
		{
			description: "core dependent ranks primary first",
			hosts:       []hostSpec{{"home", 8}, {"h1", 16}},
			request:     protocol.AllocateRequest{PID: 1, Filename: "d.js", ChunkSize: gb(4), NumChunks: 1, CoreDependent: true},
			expectHosts: []string{"home"},
			expectCount: 1,
			expectFree:  20,
		},
		{
			description: "long running avoids purchased and primary",
			policy:      policy.Config{Purchased: []string{"paid*"}},
			hosts:       []hostSpec{{"home", 32}, {"paid1", 32}, {"h1", 8}},
			request:     protocol.AllocateRequest{PID: 1, ChunkSize: gb(4), NumChunks: 1, LongRunning: true},
			expectHosts: []string{"h1"},
			expectCount: 1,
			expectFree:  68,
		},
		{
			description: "long running spills to purchased before primary",
			policy:      policy.Config{Purchased: []string{"paid1"}},
			hosts:       []hostSpec{{"home", 32}, {"paid1", 8}, {"h1", 4}},
			request:     protocol.AllocateRequest{PID: 1, ChunkSize: gb(4), NumChunks: 3, LongRunning: true},
			expectHosts: []string{"h1", "paid1"},
			expectCount: 3,
			expectFree:  32,
		},
		{
			description: "set aside is never granted",
			policy:      policy.Config{PrimarySetAside: gb(6)},
			hosts:       []hostSpec{{"home", 8}},
			request:     protocol.AllocateRequest{PID: 1, ChunkSize: gb(4), NumChunks: 1},
			expectErr:   ErrInsufficientCapacity,
			expectFree:  2,
		},
		{
			description: "invalid chunk size",
			hosts:       []hostSpec{{"h1", 8}},
			request:     protocol.AllocateRequest{PID: 1, ChunkSize: 0, NumChunks: 1},
			expectErr:   ErrInvalidRequest,
			expectFree:  8,
		},
		{
			description: "invalid chunk count",
			hosts:       []hostSpec{{"h1", 8}},
			request:     protocol.AllocateRequest{PID: 1, ChunkSize: gb(1), NumChunks: 0},
			expectErr:   ErrInvalidRequest,
			expectFree:  8,
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			f := newFixture(t, testCase.policy, testCase.hosts)
			result, err := f.srv.Allocate(f.ctx, &testCase.request)
			if testCase.expectErr != nil {
				assert.ErrorIs(t, err, testCase.expectErr)
				assert.Nil(t, result)
			} else {
				require.NoError(t, err)
				assert.Equal(t, testCase.expectHosts, result.Hosts())
				assert.Equal(t, testCase.expectCount, result.NumChunks())
				assert.Equal(t, 1, result.AllocationID)
			}
			assert.Equal(t, gb(testCase.expectFree), f.totalFree())
			assertInvariants(t, f.srv)
		})
	}
}

func TestService_AllocateContiguous(t *testing.T) {
	f := newFixture(t, policy.Config{}, []hostSpec{{"h1", 16}, {"h2", 8}})
	req := &protocol.AllocateRequest{PID: 1, Filename: "c.js", ChunkSize: gb(4), NumChunks: 3, Contiguous: true}
	result, err := f.srv.Allocate(f.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"h1"}, result.Hosts())
	require.NoError(t, f.srv.Deallocate(f.ctx, result.AllocationID, 1, ""))

	req.NumChunks = 6
	result, err = f.srv.Allocate(f.ctx, req)
	require.NoError(t, err)
	assert.Len(t, result.Hosts(), 2)
	assert.Equal(t, 6, result.NumChunks())
	require.NoError(t, f.srv.Deallocate(f.ctx, result.AllocationID, 1, ""))

	req.RequireSingleHost = true
	_, err = f.srv.Allocate(f.ctx, req)
	assert.ErrorIs(t, err, ErrInsufficientCapacity)
	assert.Equal(t, gb(24), f.totalFree())
	assertInvariants(t, f.srv)
}

func TestService_IdsNeverReused(t *testing.T) {
	f := newFixture(t, policy.Config{}, []hostSpec{{"h1", 16}})
	var ids []int
	for i := 0; i < 3; i++ {
		result, err := f.srv.Allocate(f.ctx, &protocol.AllocateRequest{PID: 1, ChunkSize: gb(4), NumChunks: 1})
		require.NoError(t, err)
		ids = append(ids, result.AllocationID)
		require.NoError(t, f.srv.Deallocate(f.ctx, result.AllocationID, 1, ""))
	}
	assert.Equal(t, []int{1, 2, 3}, ids)
}

func TestService_RegisterWorker(t *testing.T) {
	f := newFixture(t, policy.Config{PrimarySetAside: gb(2)}, []hostSpec{{"home", 16}, {"h1", 8}})
	home, ok := f.srv.Worker("home")
	require.True(t, ok)
	assert.Equal(t, worker.ClassPrimary, home.Class)
	assert.Equal(t, gb(2), home.SetAsideRam)

	f.cluster.AddHost("h1", gb(12))
	require.NoError(t, f.srv.RegisterWorker(f.ctx, "h1"))
	h1, _ := f.srv.Worker("h1")
	assert.Equal(t, gb(12), h1.TotalRam)

	assert.ErrorIs(t, f.srv.RegisterWorker(f.ctx, "ghost"), ErrUnknownWorker)
	assert.ErrorIs(t, f.srv.RegisterWorker(f.ctx, ""), ErrInvalidRequest)
}

func TestService_RegisterAllocation(t *testing.T) {
	f := newFixture(t, policy.Config{}, []hostSpec{{"h1", 16}})
	result, err := f.srv.RegisterAllocation(f.ctx, &protocol.RegisterRequest{PID: 5, Filename: "r.js", Hostname: "h1", ChunkSize: gb(2), NumChunks: 3})
	require.NoError(t, err)
	assert.Equal(t, []allocation.Chunk{{Hostname: "h1", ChunkSize: gb(2), NumChunks: 3}}, result.Chunks)
	assert.Equal(t, gb(6), f.allocated("h1"))

	_, err = f.srv.RegisterAllocation(f.ctx, &protocol.RegisterRequest{PID: 5, Hostname: "ghost", ChunkSize: gb(2), NumChunks: 1})
	assert.ErrorIs(t, err, ErrUnknownWorker)
	_, err = f.srv.RegisterAllocation(f.ctx, &protocol.RegisterRequest{PID: 5, Hostname: "h1", ChunkSize: gb(2), NumChunks: 0})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assertInvariants(t, f.srv)
}

func TestService_ClaimAndShrink(t *testing.T) {
	f := newFixture(t, policy.Config{}, []hostSpec{{"h1", 32}})
	result, err := f.srv.Allocate(f.ctx, &protocol.AllocateRequest{PID: 1, ChunkSize: gb(4), NumChunks: 4})
	require.NoError(t, err)
	id := result.AllocationID

	require.NoError(t, f.srv.ClaimAllocation(f.ctx, &protocol.ClaimRequest{AllocationID: id, PID: 2, Hostname: "h1", ChunkSize: gb(4), NumChunks: 2}))
	result, err = f.srv.ReleaseChunks(f.ctx, id, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, result.NumChunks())
	a, ok := f.srv.Allocation(id)
	require.True(t, ok)
	assert.Empty(t, a.Claims)
	assert.Equal(t, 2, a.RequestedChunks)
	assert.Equal(t, gb(8), f.allocated("h1"))
	assertInvariants(t, f.srv)
}

func TestService_ClaimAllocation_Errors(t *testing.T) {
	f := newFixture(t, policy.Config{}, []hostSpec{{"h1", 32}})
	result, err := f.srv.Allocate(f.ctx, &protocol.AllocateRequest{PID: 1, ChunkSize: gb(4), NumChunks: 4})
	require.NoError(t, err)
	id := result.AllocationID

	var testCases = []struct {
		description string
		request     protocol.ClaimRequest
		expectErr   error
	}{
		{description: "unknown allocation", request: protocol.ClaimRequest{AllocationID: 99, PID: 2, Hostname: "h1", ChunkSize: gb(4), NumChunks: 1}, expectErr: ErrUnknownAllocation},
		{description: "wrong host", request: protocol.ClaimRequest{AllocationID: id, PID: 2, Hostname: "h2", ChunkSize: gb(4), NumChunks: 1}, expectErr: ErrUnknownChunk},
		{description: "wrong size", request: protocol.ClaimRequest{AllocationID: id, PID: 2, Hostname: "h1", ChunkSize: gb(2), NumChunks: 1}, expectErr: ErrUnknownChunk},
		{description: "exceeds chunk", request: protocol.ClaimRequest{AllocationID: id, PID: 2, Hostname: "h1", ChunkSize: gb(4), NumChunks: 5}, expectErr: ErrClaimExceedsChunk},
		{description: "zero chunks", request: protocol.ClaimRequest{AllocationID: id, PID: 2, Hostname: "h1", ChunkSize: gb(4), NumChunks: 0}, expectErr: ErrInvalidRequest},
	}
	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			assert.ErrorIs(t, f.srv.ClaimAllocation(f.ctx, &testCase.request), testCase.expectErr)
		})
	}

	require.NoError(t, f.srv.ClaimAllocation(f.ctx, &protocol.ClaimRequest{AllocationID: id, PID: 2, Hostname: "h1", ChunkSize: gb(4), NumChunks: 3}))
	err = f.srv.ClaimAllocation(f.ctx, &protocol.ClaimRequest{AllocationID: id, PID: 3, Hostname: "h1", ChunkSize: gb(4), NumChunks: 2})
	assert.ErrorIs(t, err, ErrClaimExceedsChunk)
	a, _ := f.srv.Allocation(id)
	assert.Len(t, a.Claims, 1)
	assertInvariants(t, f.srv)
}

func TestService_Deallocate(t *testing.T) {
	f := newFixture(t, policy.Config{}, []hostSpec{{"h1", 32}})
	result, err := f.srv.Allocate(f.ctx, &protocol.AllocateRequest{PID: 1, ChunkSize: gb(4), NumChunks: 4})
	require.NoError(t, err)
	id := result.AllocationID
	require.NoError(t, f.srv.ClaimAllocation(f.ctx, &protocol.ClaimRequest{AllocationID: id, PID: 2, Hostname: "h1", ChunkSize: gb(4), NumChunks: 1}))

	// non-owner release goes through its claim
	require.NoError(t, f.srv.Deallocate(f.ctx, id, 2, "h1"))
	a, ok := f.srv.Allocation(id)
	require.True(t, ok)
	assert.Equal(t, 3, a.TotalChunks())
	assert.Empty(t, a.Claims)
	assert.Equal(t, gb(12), f.allocated("h1"))

	assert.ErrorIs(t, f.srv.Deallocate(f.ctx, id, 7, "h1"), ErrUnknownClaim)

	// owner release discards remaining claims
	require.NoError(t, f.srv.ClaimAllocation(f.ctx, &protocol.ClaimRequest{AllocationID: id, PID: 3, Hostname: "h1", ChunkSize: gb(4), NumChunks: 1}))
	require.NoError(t, f.srv.Deallocate(f.ctx, id, 1, ""))
	_, ok = f.srv.Allocation(id)
	assert.False(t, ok)
	assert.Equal(t, ram.Ram(0), f.allocated("h1"))
	assert.ErrorIs(t, f.srv.Deallocate(f.ctx, id, 1, ""), ErrUnknownAllocation)
	assertInvariants(t, f.srv)
}

func TestService_ReleaseClaimEmptiesAllocation(t *testing.T) {
	f := newFixture(t, policy.Config{}, []hostSpec{{"h1", 32}})
	result, err := f.srv.Allocate(f.ctx, &protocol.AllocateRequest{PID: 1, ChunkSize: gb(4), NumChunks: 2})
	require.NoError(t, err)
	id := result.AllocationID
	require.NoError(t, f.srv.ClaimAllocation(f.ctx, &protocol.ClaimRequest{AllocationID: id, PID: 2, Hostname: "h1", ChunkSize: gb(4), NumChunks: 2}))
	require.NoError(t, f.srv.ReleaseClaim(f.ctx, id, 2, "h1"))
	_, ok := f.srv.Allocation(id)
	assert.False(t, ok)
	assert.Equal(t, ram.Ram(0), f.allocated("h1"))
}

func TestService_ReleaseChunks(t *testing.T) {
	t.Run("visits hosts with most free capacity first", func(t *testing.T) {
		f := newFixture(t, policy.Config{}, []hostSpec{{"h1", 8}, {"h2", 16}})
		result, err := f.srv.Allocate(f.ctx, &protocol.AllocateRequest{PID: 1, ChunkSize: gb(4), NumChunks: 5})
		require.NoError(t, err)
		// h2 holds 4 chunks (free 0), h1 holds 1 (free 4)
		result, err = f.srv.ReleaseChunks(f.ctx, result.AllocationID, 2)
		require.NoError(t, err)
		assert.Equal(t, []allocation.Chunk{{Hostname: "h2", ChunkSize: gb(4), NumChunks: 3}}, result.Chunks)
		assertInvariants(t, f.srv)
	})
	t.Run("requested floor", func(t *testing.T) {
		f := newFixture(t, policy.Config{}, []hostSpec{{"h1", 12}})
		result, err := f.srv.Allocate(f.ctx, &protocol.AllocateRequest{PID: 1, ChunkSize: gb(4), NumChunks: 4, Shrinkable: true})
		require.NoError(t, err)
		id := result.AllocationID
		result, err = f.srv.ReleaseChunks(f.ctx, id, 2)
		require.NoError(t, err)
		assert.Equal(t, 1, result.NumChunks())
		a, _ := f.srv.Allocation(id)
		assert.Equal(t, 2, a.RequestedChunks)

		result, err = f.srv.ReleaseChunks(f.ctx, id, 10)
		require.NoError(t, err)
		assert.Nil(t, result)
		_, ok := f.srv.Allocation(id)
		assert.False(t, ok)
		assertInvariants(t, f.srv)
	})
	t.Run("unknown and invalid", func(t *testing.T) {
		f := newFixture(t, policy.Config{}, []hostSpec{{"h1", 12}})
		_, err := f.srv.ReleaseChunks(f.ctx, 42, 1)
		assert.ErrorIs(t, err, ErrUnknownAllocation)
		result, err := f.srv.Allocate(f.ctx, &protocol.AllocateRequest{PID: 1, ChunkSize: gb(4), NumChunks: 1})
		require.NoError(t, err)
		_, err = f.srv.ReleaseChunks(f.ctx, result.AllocationID, 0)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})
}

func TestTrimClaims(t *testing.T) {
	a := &allocation.Allocation{
		Chunks: []*allocation.Chunk{{Hostname: "h1", ChunkSize: gb(1), NumChunks: 3}},
		Claims: []*allocation.Claim{
			{PID: 2, Hostname: "h1", ChunkSize: gb(1), NumChunks: 2},
			{PID: 3, Hostname: "h1", ChunkSize: gb(1), NumChunks: 3},
			{PID: 4, Hostname: "h2", ChunkSize: gb(1), NumChunks: 1},
		},
	}
	trimClaims(a, "h1", gb(1), 1)
	assert.Equal(t, 1, a.Claims[0].NumChunks)
	assert.Equal(t, 2, a.Claims[1].NumChunks)
	assert.Equal(t, 1, a.Claims[2].NumChunks)
}

func TestService_CleanupTerminated(t *testing.T) {
	f := newFixture(t, policy.Config{}, []hostSpec{{"h1", 32}})
	owner1 := f.start(t, "h1")
	owner2 := f.start(t, "h1")
	claimant := f.start(t, "h1")

	first, err := f.srv.Allocate(f.ctx, &protocol.AllocateRequest{PID: owner1, ChunkSize: gb(4), NumChunks: 2})
	require.NoError(t, err)
	second, err := f.srv.Allocate(f.ctx, &protocol.AllocateRequest{PID: owner2, ChunkSize: gb(4), NumChunks: 3})
	require.NoError(t, err)
	require.NoError(t, f.srv.ClaimAllocation(f.ctx, &protocol.ClaimRequest{AllocationID: second.AllocationID, PID: claimant, Hostname: "h1", ChunkSize: gb(4), NumChunks: 1}))

	assert.Equal(t, 0, f.srv.CleanupTerminated(f.ctx))
	f.cluster.Kill(owner1)
	f.cluster.Kill(claimant)
	assert.Equal(t, 1, f.srv.CleanupTerminated(f.ctx))

	_, ok := f.srv.Allocation(first.AllocationID)
	assert.False(t, ok)
	a, ok := f.srv.Allocation(second.AllocationID)
	require.True(t, ok)
	assert.Equal(t, 2, a.TotalChunks())
	assert.Empty(t, a.Claims)
	assert.Equal(t, gb(8), f.allocated("h1"))

	before := f.srv.Snapshot(f.ctx)
	assert.Equal(t, 0, f.srv.CleanupTerminated(f.ctx))
	after := f.srv.Snapshot(f.ctx)
	assert.Equal(t, before.Workers, after.Workers)
	assert.Equal(t, before.Allocations, after.Allocations)
	assert.Equal(t, 1, f.metrics.Counters().Collected)
	assertInvariants(t, f.srv)
}

func TestService_CleanupClaimThenDeadOwner(t *testing.T) {
	f := newFixture(t, policy.Config{}, []hostSpec{{"h1", 32}})
	owner := f.start(t, "h1")
	claimant := f.start(t, "h1")
	result, err := f.srv.Allocate(f.ctx, &protocol.AllocateRequest{PID: owner, ChunkSize: gb(4), NumChunks: 2})
	require.NoError(t, err)
	require.NoError(t, f.srv.ClaimAllocation(f.ctx, &protocol.ClaimRequest{AllocationID: result.AllocationID, PID: claimant, Hostname: "h1", ChunkSize: gb(4), NumChunks: 1}))
	f.cluster.Kill(owner)
	f.cluster.Kill(claimant)

	f.srv.CleanupTerminated(f.ctx)
	_, ok := f.srv.Allocation(result.AllocationID)
	assert.False(t, ok)
	assert.Equal(t, ram.Ram(0), f.allocated("h1"))
	assertInvariants(t, f.srv)
}

func TestService_UpdateReserved(t *testing.T) {
	f := newFixture(t, policy.Config{}, []hostSpec{{"h1", 32}})
	_, err := f.cluster.Start("h1", "editor", gb(3))
	require.NoError(t, err)
	owner, err := f.cluster.Start("h1", "solver", gb(2))
	require.NoError(t, err)
	_, err = f.cluster.Start("h1", "child", gb(1), "--allocation-id", "1")
	require.NoError(t, err)
	_, err = f.srv.Allocate(f.ctx, &protocol.AllocateRequest{PID: owner, ChunkSize: gb(4), NumChunks: 1})
	require.NoError(t, err)

	f.cluster.AddHost("h1", gb(40))
	f.srv.UpdateReserved(f.ctx)
	w, _ := f.srv.Worker("h1")
	assert.Equal(t, gb(40), w.TotalRam)
	assert.Equal(t, gb(3), w.ReservedRam)
	assert.Equal(t, gb(33), w.FreeRam())
	assert.Equal(t, 0, f.metrics.Counters().Drift)

	_, err = f.cluster.Start("h1", "runaway", gb(5), "--allocation-id=1")
	require.NoError(t, err)
	f.srv.UpdateReserved(f.ctx)
	w, _ = f.srv.Worker("h1")
	assert.Equal(t, gb(4), w.AllocatedRam)
	assert.Equal(t, 1, f.metrics.Counters().Drift)
}

func TestService_GrowAll(t *testing.T) {
	f := newFixture(t, policy.Config{}, []hostSpec{{"h1", 8}})
	queue := memory.NewQueue[allocation.Growth](memory.DefaultConfig())
	owner := f.start(t, "h1")
	result, err := f.srv.GrowableAllocate(f.ctx, &protocol.AllocateRequest{PID: owner, ChunkSize: gb(4), NumChunks: 4, Shrinkable: true, Notify: queue})
	require.NoError(t, err)
	assert.Equal(t, 2, result.NumChunks())

	assert.Equal(t, 0, f.srv.GrowAll(f.ctx))
	f.addHost(t, "h2", 8)
	assert.Equal(t, 1, f.srv.GrowAll(f.ctx))

	ctx, cancel := context.WithTimeout(f.ctx, time.Second)
	defer cancel()
	message, err := queue.Consume(ctx)
	require.NoError(t, err)
	growth := message.T()
	assert.Equal(t, result.AllocationID, growth.AllocationID)
	assert.Equal(t, []allocation.Chunk{{Hostname: "h2", ChunkSize: gb(4), NumChunks: 2}}, growth.Chunks)

	a, _ := f.srv.Allocation(result.AllocationID)
	assert.Equal(t, 4, a.TotalChunks())
	assert.True(t, a.Growable)
	assert.Equal(t, 0, f.srv.GrowAll(f.ctx))

	_, err = f.srv.ReleaseChunks(f.ctx, result.AllocationID, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, f.srv.GrowAll(f.ctx), "voluntary shrink is not regrown")

	child := f.start(t, "h2")
	require.NoError(t, f.srv.ClaimAllocation(f.ctx, &protocol.ClaimRequest{AllocationID: result.AllocationID, PID: child, Hostname: "h2", ChunkSize: gb(4), NumChunks: 1}))
	require.NoError(t, f.srv.ReleaseClaim(f.ctx, result.AllocationID, child, "h2"))
	a, _ = f.srv.Allocation(result.AllocationID)
	assert.Equal(t, 2, a.TotalChunks())
	assert.Equal(t, 2, a.RequestedChunks)
	assert.Equal(t, 0, f.srv.GrowAll(f.ctx), "released claim is not regrown")

	collected := f.start(t, "h1")
	require.NoError(t, f.srv.ClaimAllocation(f.ctx, &protocol.ClaimRequest{AllocationID: result.AllocationID, PID: collected, Hostname: "h1", ChunkSize: gb(4), NumChunks: 1}))
	f.cluster.Kill(collected)
	f.srv.CleanupTerminated(f.ctx)
	a, _ = f.srv.Allocation(result.AllocationID)
	assert.Equal(t, 1, a.TotalChunks())
	assert.Equal(t, 1, a.RequestedChunks)
	assert.Equal(t, 0, f.srv.GrowAll(f.ctx), "collected claim is not regrown")
	assertInvariants(t, f.srv)
}

func TestService_GrowAllocation(t *testing.T) {
	f := newFixture(t, policy.Config{}, []hostSpec{{"home", 16}, {"h1", 8}})
	result, err := f.srv.Allocate(f.ctx, &protocol.AllocateRequest{PID: 1, ChunkSize: gb(4), NumChunks: 1})
	require.NoError(t, err)
	a := f.srv.allocations[result.AllocationID]
	delta := f.srv.GrowAllocation(f.ctx, a, 2)
	// growth ignores policy: home has the most free capacity
	assert.Equal(t, []allocation.Chunk{{Hostname: "home", ChunkSize: gb(4), NumChunks: 2}}, delta)
	assert.Equal(t, 3, a.TotalChunks())
	assert.Nil(t, f.srv.GrowAllocation(f.ctx, a, 0))
	assertInvariants(t, f.srv)
}

func TestService_Status(t *testing.T) {
	f := newFixture(t, policy.Config{}, []hostSpec{{"h1", 32}, {"h2", 16}})
	_, err := f.srv.Allocate(f.ctx, &protocol.AllocateRequest{PID: 1, ChunkSize: gb(8), NumChunks: 3})
	require.NoError(t, err)
	_, err = f.srv.Allocate(f.ctx, &protocol.AllocateRequest{PID: 1, ChunkSize: gb(8), NumChunks: 10})
	require.Error(t, err)

	status := f.srv.Status(f.ctx)
	assert.Equal(t, 2, status.Workers)
	assert.Equal(t, 1, status.Allocations)
	assert.Equal(t, gb(48), status.TotalRam)
	assert.Equal(t, gb(24), status.FreeRam)
	assert.Equal(t, gb(24), status.AllocatedRam)
	assert.Equal(t, 1, status.Counters.Granted)
	assert.Equal(t, 1, status.Counters.Rejected)
}

func TestService_Handle(t *testing.T) {
	f := newFixture(t, policy.Config{}, []hostSpec{{"h1", 32}})
	resp := f.srv.Handle(f.ctx, &protocol.Request{Type: protocol.OpAllocate, CorrelationID: "c1",
		Allocate: &protocol.AllocateRequest{PID: 1, ChunkSize: gb(4), NumChunks: 2}})
	require.NoError(t, resp.Err())
	assert.Equal(t, "c1", resp.CorrelationID)
	assert.Equal(t, 2, resp.Result.NumChunks())

	resp = f.srv.Handle(f.ctx, &protocol.Request{Type: protocol.OpClaim,
		Claim: &protocol.ClaimRequest{AllocationID: 9, PID: 2, Hostname: "h1", ChunkSize: gb(4), NumChunks: 1}})
	assert.True(t, errors.Is(resp.Err(), ErrUnknownAllocation))

	resp = f.srv.Handle(f.ctx, &protocol.Request{Type: protocol.OpRelease})
	assert.ErrorIs(t, resp.Err(), ErrInvalidRequest)
	resp = f.srv.Handle(f.ctx, &protocol.Request{Type: "bogus"})
	assert.ErrorIs(t, resp.Err(), ErrInvalidRequest)

	resp = f.srv.Handle(f.ctx, &protocol.Request{Type: protocol.OpSnapshot})
	require.NotNil(t, resp.Snapshot)
	assert.Len(t, resp.Snapshot.Allocations, 1)
}

func TestService_Persistence(t *testing.T) {
	fs := afs.New()
	base := t.TempDir()
	newEngine := func() (*Service, *hostmem.Cluster) {
		workers, err := store.NewFsStore[string, worker.Worker](fs, base+"/workers", func(w *worker.Worker) string { return w.Hostname }, func(k string) string { return k })
		require.NoError(t, err)
		allocations, err := store.NewFsStore[int, allocation.Allocation](fs, base+"/allocations", func(a *allocation.Allocation) int { return a.ID }, strconv.Itoa)
		require.NoError(t, err)
		states, err := store.NewFsStore[string, State](fs, base+"/state", func(s *State) string { return s.Name }, func(k string) string { return k })
		require.NoError(t, err)
		cluster := hostmem.New().AddHost("h1", gb(32))
		srv := New(DefaultConfig(), WithOracle(cluster), WithWorkerDAO(workers), WithAllocationDAO(allocations), WithStateDAO(states))
		require.NoError(t, srv.Load(context.Background()))
		return srv, cluster
	}
	ctx := context.Background()
	srv, _ := newEngine()
	require.NoError(t, srv.RegisterWorker(ctx, "h1"))
	first, err := srv.Allocate(ctx, &protocol.AllocateRequest{PID: 1, ChunkSize: gb(4), NumChunks: 2})
	require.NoError(t, err)
	second, err := srv.Allocate(ctx, &protocol.AllocateRequest{PID: 1, ChunkSize: gb(4), NumChunks: 1})
	require.NoError(t, err)
	require.NoError(t, srv.Deallocate(ctx, second.AllocationID, 1, ""))

	restored, _ := newEngine()
	w, ok := restored.Worker("h1")
	require.True(t, ok)
	assert.Equal(t, gb(8), w.AllocatedRam)
	a, ok := restored.Allocation(first.AllocationID)
	require.True(t, ok)
	assert.Equal(t, 2, a.TotalChunks())
	_, ok = restored.Allocation(second.AllocationID)
	assert.False(t, ok)

	third, err := restored.Allocate(ctx, &protocol.AllocateRequest{PID: 1, ChunkSize: gb(4), NumChunks: 1})
	require.NoError(t, err)
	assert.Equal(t, second.AllocationID+1, third.AllocationID, "released ids are not reused after restart")
	assertInvariants(t, restored)
}

func TestService_Events(t *testing.T) {
	events, err := event.New(messaging.VendorMemory)
	require.NoError(t, err)
	defer events.Close()
	publisher, err := event.PublisherOf[allocation.Change](events, "changes")
	require.NoError(t, err)

	var mu sync.Mutex
	var received []allocation.ChangeType
	require.NoError(t, event.SetListenerOf[allocation.Change](context.Background(), events, "changes", func(ctx context.Context, evt *event.Event[allocation.Change]) error {
		mu.Lock()
		received = append(received, evt.Data.Type)
		mu.Unlock()
		return nil
	}))

	f := newFixture(t, policy.Config{}, []hostSpec{{"h1", 32}}, WithEvents(publisher))
	result, err := f.srv.Allocate(f.ctx, &protocol.AllocateRequest{PID: 1, ChunkSize: gb(4), NumChunks: 2})
	require.NoError(t, err)
	require.NoError(t, f.srv.ClaimAllocation(f.ctx, &protocol.ClaimRequest{AllocationID: result.AllocationID, PID: 2, Hostname: "h1", ChunkSize: gb(4), NumChunks: 1}))
	_, err = f.srv.ReleaseChunks(f.ctx, result.AllocationID, 1)
	require.NoError(t, err)
	require.NoError(t, f.srv.Deallocate(f.ctx, result.AllocationID, 1, ""))

	expect := []allocation.ChangeType{allocation.ChangeAllocated, allocation.ChangeClaimed, allocation.ChangeShrunk, allocation.ChangeReleased}
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == len(expect)
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, expect, received)
}
