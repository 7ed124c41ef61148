package orchestrator

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/arejula27/cuda-work-coordinator/internal/normalize"
	"github.com/arejula27/cuda-work-coordinator/internal/poolrouter"
	"github.com/arejula27/cuda-work-coordinator/internal/scheduler"
	"github.com/arejula27/cuda-work-coordinator/internal/stratum"
)

// maxTrackedWorkIDs bounds the work_id -> origin-runner map so a pool that
// churns through jobs without ever finding a share doesn't grow it without
// bound, mirroring the bounded job cache the upstream work generator uses.
const maxTrackedWorkIDs = 4096

// stratumSlot is one of a pool's configured endpoint positions: it always
// has exactly one live connection, rebuilt in place against the next
// endpoint in the list when the current one proves unhealthy.
type stratumSlot struct {
	endpointIdx int
	adapter     *stratum.Adapter
	runner      *stratum.Runner
	cancel      context.CancelFunc
}

// StratumGroup owns every configured endpoint of one Stratum-family pool. It
// keeps one connection alive per configured endpoint slot, uses a
// poolrouter.Router to decide whose queue to drain each tick, and replaces
// any slot whose connection is chronically failing with a fresh one bound
// to the next endpoint in the pool's list.
type StratumGroup struct {
	mu sync.Mutex

	sourceID  int
	endpoints []stratum.Endpoint
	username  string
	password  string
	policy    stratum.Policy
	logger    *zap.Logger

	slots  []*stratumSlot
	router *poolrouter.Router

	workIDRunner map[uint64]*stratum.Runner
	workIDOrder  []uint64
}

// NewStratumGroup constructs a group for one pool's endpoint list and
// starts one connection per endpoint. ctx governs the lifetime of every
// connection; call Stop to tear them all down early.
func NewStratumGroup(ctx context.Context, sourceID int, endpoints []stratum.Endpoint, username, password string, policy stratum.Policy, logger *zap.Logger) *StratumGroup {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &StratumGroup{
		sourceID:     sourceID,
		endpoints:    endpoints,
		username:     username,
		password:     password,
		policy:       policy,
		logger:       logger,
		router:       poolrouter.New(poolrouter.Failover),
		workIDRunner: make(map[uint64]*stratum.Runner),
	}
	g.slots = make([]*stratumSlot, len(endpoints))
	for i := range endpoints {
		g.slots[i] = g.buildSlot(ctx, i, i)
	}
	g.syncRouterLocked()
	return g
}

func (g *StratumGroup) buildSlot(ctx context.Context, slotIdx, endpointIdx int) *stratumSlot {
	ep := g.endpoints[endpointIdx]
	adapter := stratum.NewAdapter(g.sourceID, g.policy)
	runner := stratum.NewRunner(ep, g.username, g.password, adapter,
		g.logger.With(zap.Int("source_id", g.sourceID), zap.Int("slot", slotIdx), zap.String("endpoint", ep.Host)))
	slotCtx, cancel := context.WithCancel(ctx)
	go runner.Run(slotCtx)
	return &stratumSlot{endpointIdx: endpointIdx, adapter: adapter, runner: runner, cancel: cancel}
}

func (g *StratumGroup) syncRouterLocked() {
	sources := make([]poolrouter.Source, len(g.slots))
	for i, s := range g.slots {
		sources[i] = s.adapter
	}
	g.router.ReplaceSources(sources)
}

// PollNormalized drains whichever slot the router currently prefers and
// remembers which runner originated each job, so a later SubmitHit can
// send mining.submit down the same connection.
func (g *StratumGroup) PollNormalized() []normalize.RawJobInputs {
	g.mu.Lock()
	defer g.mu.Unlock()

	jobs, idx := g.router.PollNextIndexed()
	if idx < 0 || idx >= len(g.slots) {
		return jobs
	}
	runner := g.slots[idx].runner
	for _, j := range jobs {
		g.rememberOriginLocked(j.WorkID, runner)
	}
	return jobs
}

func (g *StratumGroup) rememberOriginLocked(workID uint64, runner *stratum.Runner) {
	if _, exists := g.workIDRunner[workID]; !exists {
		g.workIDOrder = append(g.workIDOrder, workID)
		if len(g.workIDOrder) > maxTrackedWorkIDs {
			oldest := g.workIDOrder[0]
			g.workIDOrder = g.workIDOrder[1:]
			delete(g.workIDRunner, oldest)
		}
	}
	g.workIDRunner[workID] = runner
}

// SubmitHit sends mining.submit for an accepted share down the connection
// that originated workID, falling back to the first live slot if the
// origin was not tracked (e.g. after a restart).
func (g *StratumGroup) SubmitHit(workID uint64, header80 [80]byte, extranonce2Size int) error {
	g.mu.Lock()
	runner, ok := g.workIDRunner[workID]
	if !ok && len(g.slots) > 0 {
		runner = g.slots[0].runner
	}
	g.mu.Unlock()
	if runner == nil {
		return nil
	}
	extranonce2 := make([]byte, extranonce2Size)
	return runner.SubmitHit(workID, header80, extranonce2)
}

// RotateUnhealthy replaces every slot whose connection has accumulated too
// many consecutive connect failures or quick disconnects with a fresh one
// bound to the next endpoint in the pool's configured list.
func (g *StratumGroup) RotateUnhealthy(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	changed := false
	for i, slot := range g.slots {
		if slot.runner.ConnectFailures() < 3 && slot.runner.QuickDisconnects() < 3 {
			continue
		}
		slot.cancel()
		slot.runner.Stop()
		nextEndpoint := (slot.endpointIdx + 1) % len(g.endpoints)
		g.logger.Warn("rotating unhealthy stratum endpoint",
			zap.Int("source_id", g.sourceID), zap.Int("slot", i),
			zap.Int64("connect_failures", slot.runner.ConnectFailures()),
			zap.Int64("quick_disconnects", slot.runner.QuickDisconnects()),
			zap.String("next_endpoint", g.endpoints[nextEndpoint].Host))
		g.slots[i] = g.buildSlot(ctx, i, nextEndpoint)
		changed = true
	}
	if changed {
		g.syncRouterLocked()
	}
}

// Stats aggregates accepted/rejected submit counters across every slot, for
// feeding the scheduler's backpressure penalty calculation. Average submit
// latency is not tracked per slot and is always reported as zero.
func (g *StratumGroup) Stats() scheduler.SourceStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	var st scheduler.SourceStats
	for _, s := range g.slots {
		st.Accepted += uint64(s.runner.Accepted())
		st.Rejected += uint64(s.runner.Rejected())
	}
	return st
}

// ConnectFailureTotal sums connect failures across every slot, for metrics.
func (g *StratumGroup) ConnectFailureTotal() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	var total int64
	for _, s := range g.slots {
		total += s.runner.ConnectFailures()
	}
	return total
}

// Stop tears down every connection in the group.
func (g *StratumGroup) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.slots {
		s.runner.Stop()
		s.cancel()
	}
}
