// Package orchestrator drives the coordinator's main pipeline: draining
// normalized jobs from every configured pool into the registry, dispatching
// a weighted job table to the search engine, and routing verified hits back
// to their originating pool or to the Bitcoin node.
package orchestrator

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/arejula27/cuda-work-coordinator/internal/engine"
	"github.com/arejula27/cuda-work-coordinator/internal/ledger"
	"github.com/arejula27/cuda-work-coordinator/internal/metrics"
	"github.com/arejula27/cuda-work-coordinator/internal/normalize"
	"github.com/arejula27/cuda-work-coordinator/internal/outbox"
	"github.com/arejula27/cuda-work-coordinator/internal/primitives"
	"github.com/arejula27/cuda-work-coordinator/internal/registry"
	"github.com/arejula27/cuda-work-coordinator/internal/scheduler"
	"github.com/arejula27/cuda-work-coordinator/internal/submitrouter"
)

// pollSource is anything the orchestrator can drain normalized jobs from.
type pollSource interface {
	PollNormalized() []normalize.RawJobInputs
}

// PoolBinding ties one configured pool's source_id to the connection(s)
// that produce its work and the back-channel that accepts its submissions.
type PoolBinding struct {
	SourceID int
	Kind     string // "stratum" or "gbt"
	Source   pollSource
	Stratum  *StratumGroup
	GBT      *GBTBinding
}

// Config tunes the main loop's pacing, independent of any one pool.
type Config struct {
	TickInterval           time.Duration
	RotationCheckInterval  time.Duration
	PenaltyRefreshInterval time.Duration
	BudgetMs               uint32
	DesiredThreadsPerJob   uint64
	HitRingCapacity        int
	TuningDir              string
	DeviceName             string

	// InitialNoncesPerThread seeds the autotuner's starting micro-batch
	// size when no persisted tuning profile exists yet for DeviceName.
	InitialNoncesPerThread uint32
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 50 * time.Millisecond
	}
	if c.RotationCheckInterval <= 0 {
		c.RotationCheckInterval = 10 * time.Second
	}
	if c.PenaltyRefreshInterval <= 0 {
		c.PenaltyRefreshInterval = 2 * time.Second
	}
	if c.BudgetMs == 0 {
		c.BudgetMs = 16
	}
	if c.DesiredThreadsPerJob == 0 {
		c.DesiredThreadsPerJob = 1 << 16
	}
	if c.HitRingCapacity <= 0 {
		c.HitRingCapacity = 256
	}
	if c.DeviceName == "" {
		c.DeviceName = "default"
	}
	return c
}

// Orchestrator runs the coordinator's single-threaded pipeline loop.
type Orchestrator struct {
	cfg Config

	registry     *registry.Registry
	scheduler    *scheduler.Scheduler
	ledger       *ledger.Ledger
	outbox       *outbox.Outbox
	engine       engine.Engine
	hitRing      *engine.HitRing
	submitRouter *submitrouter.Router
	logger       *zap.Logger

	pools     []*PoolBinding
	poolsByID map[int]*PoolBinding

	noncesPerThread uint32
	nonceBase       uint32

	lastAccepted map[int]uint64
	lastRejected map[int]uint64
}

// New constructs an Orchestrator. Call AddPool for each configured pool
// before calling Run.
func New(cfg Config, reg *registry.Registry, sched *scheduler.Scheduler, led *ledger.Ledger, ob *outbox.Outbox, eng engine.Engine, logger *zap.Logger) *Orchestrator {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		cfg:       cfg,
		registry:  reg,
		scheduler: sched,
		ledger:    led,
		outbox:    ob,
		engine:    eng,
		logger:    logger,
		poolsByID:    make(map[int]*PoolBinding),
		hitRing:      engine.NewHitRing(cfg.HitRingCapacity),
		lastAccepted: make(map[int]uint64),
		lastRejected: make(map[int]uint64),
	}
	o.submitRouter = submitrouter.New(ob, o.routeAccepted)

	profile := engine.DefaultTuningProfile()
	if cfg.InitialNoncesPerThread > 0 {
		profile.NoncesPerThread = cfg.InitialNoncesPerThread
	}
	if cfg.TuningDir != "" {
		if loaded, ok, err := engine.LoadTuningProfile(cfg.TuningDir, cfg.DeviceName); err == nil && ok {
			profile = loaded
		}
	}
	o.noncesPerThread = profile.NoncesPerThread
	if o.noncesPerThread == 0 {
		o.noncesPerThread = 1
	}
	return o
}

// AddPool registers a pool binding with the orchestrator.
func (o *Orchestrator) AddPool(p *PoolBinding) {
	o.pools = append(o.pools, p)
	o.poolsByID[p.SourceID] = p
}

// Run drives the pipeline until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	tick := time.NewTicker(o.cfg.TickInterval)
	defer tick.Stop()
	rotation := time.NewTicker(o.cfg.RotationCheckInterval)
	defer rotation.Stop()
	penalty := time.NewTicker(o.cfg.PenaltyRefreshInterval)
	defer penalty.Stop()

	startedAt := time.Now()
	for {
		select {
		case <-ctx.Done():
			o.persistTuningProfile()
			return

		case <-rotation.C:
			for _, p := range o.pools {
				if p.Kind == "stratum" && p.Stratum != nil {
					p.Stratum.RotateUnhealthy(ctx)
					metrics.StratumConnectFailures.WithLabelValues(strconv.Itoa(p.SourceID)).Add(float64(p.Stratum.ConnectFailureTotal()))
				}
			}

		case <-penalty.C:
			o.refreshPenalties()
			metrics.UptimeSeconds.Set(time.Since(startedAt).Seconds())

		case <-tick.C:
			o.tick(ctx)
		}
	}
}

// tick implements one pass of the pipeline: drain, snapshot, dispatch,
// launch, verify, and route.
func (o *Orchestrator) tick(ctx context.Context) {
	o.drainPools()

	bySlot, byWorkID := o.registry.Snapshot()
	jobTable := engine.JobTableFor(bySlot, primitives.LEWordsToBE32Bytes)
	jobByID := make(map[uint64]engine.JobTableEntry, len(jobTable))
	for _, j := range jobTable {
		jobByID[j.WorkID] = j
	}

	active := make([]scheduler.ActiveWorkID, 0, len(bySlot))
	for _, s := range bySlot {
		active = append(active, scheduler.ActiveWorkID{WorkID: s.Item.WorkID, SourceID: s.Item.SourceID})
		metrics.RegistryGeneration.WithLabelValues(strconv.Itoa(s.Item.SourceID)).Set(float64(s.Gen))
	}
	dispatchIDs := o.scheduler.Select(active)

	batchJobs := make([]engine.JobTableEntry, 0, len(dispatchIDs))
	for _, id := range dispatchIDs {
		if j, ok := jobByID[id]; ok {
			batchJobs = append(batchJobs, j)
		}
	}
	if len(batchJobs) == 0 {
		return
	}

	plan := engine.ComputeLaunchPlan(uint32(len(batchJobs)), o.cfg.DesiredThreadsPerJob)
	noncesPerThread := o.noncesPerThread
	batch := engine.Batch{
		Jobs:            batchJobs,
		BlocksPerJob:    plan.BlocksPerJob,
		ThreadsPerBlock: plan.ThreadsPerBlock,
		NonceBase:       o.nonceBase,
		NoncesPerThread: noncesPerThread,
	}

	started := time.Now()
	hits, err := o.engine.Launch(batch)
	elapsed := time.Since(started)
	if err != nil {
		o.logger.Warn("engine launch failed", zap.Error(err))
		return
	}

	observedMs := uint32(elapsed.Milliseconds())
	o.noncesPerThread = engine.NextMicroBatch(observedMs, o.cfg.BudgetMs, noncesPerThread)
	metrics.AutotunerBatchSize.Set(float64(o.noncesPerThread))

	consumed := uint64(plan.BlocksPerJob) * uint64(plan.ThreadsPerBlock) * uint64(noncesPerThread)
	o.nonceBase += uint32(consumed)

	for _, h := range hits {
		o.hitRing.Push(engine.Hit{WorkID: h.WorkID, Nonce: h.Nonce})
	}
	for {
		hit, ok := o.hitRing.TryPop()
		if !ok {
			break
		}
		o.processHit(ctx, hit, byWorkID)
	}

	metrics.OutboxDepth.Set(float64(o.outbox.Len()))
	metrics.LedgerSize.Set(float64(o.ledger.Len()))
}

func (o *Orchestrator) drainPools() {
	for _, p := range o.pools {
		for _, raw := range p.Source.PollNormalized() {
			item, jobConst, err := normalize.Normalize(raw)
			if err != nil {
				o.logger.Warn("dropping malformed job", zap.Int("source_id", raw.SourceID), zap.Error(err))
				continue
			}
			o.registry.Slot(item.SourceID).Set(item, jobConst)
			o.ledger.Put(item)
		}
	}
}

// processHit re-verifies a device-reported nonce against its work item's
// share target, lets VerifyAndSubmit route acceptance through the outbox
// and the originating pool, and separately checks the network block
// target to decide whether a full block needs relaying.
func (o *Orchestrator) processHit(ctx context.Context, hit engine.Hit, byWorkID map[uint64]registry.WorkSlotSnapshot) {
	var item registry.WorkItem
	if snap, ok := byWorkID[hit.WorkID]; ok {
		item = snap.Item
	} else if led, ok := o.ledger.Get(hit.WorkID); ok {
		item = led
	} else {
		return
	}

	header80 := primitives.AssembleHeader80(item.Version, item.PrevHashLE, item.MerkleRootLE, item.Ntime, item.Nbits, hit.Nonce)

	if !o.submitRouter.VerifyAndSubmit(header80, item.ShareTargetLE, hit.WorkID, hit.Nonce) {
		// A hit that meets the share target here was a duplicate, not a verification failure.
		if !submitrouter.IsBlock(header80, item.ShareTargetLE) {
			metrics.VerificationFailures.Inc()
		}
		return
	}

	if !submitrouter.IsBlock(header80, item.BlockTargetLE) {
		return
	}

	metrics.BlocksFound.Inc()
	item.FoundSubmitted = true
	o.ledger.Put(item)

	pb, ok := o.poolsByID[item.SourceID]
	if !ok || pb.Kind != "gbt" || pb.GBT == nil {
		return
	}
	submitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	result := "accepted"
	if err := pb.GBT.SubmitBlock(submitCtx, header80); err != nil {
		result = "rejected"
		o.logger.Warn("submitblock failed", zap.Uint64("work_id", hit.WorkID), zap.Error(err))
	}
	metrics.BlockSubmissions.WithLabelValues(result).Inc()
}

// routeAccepted is the submit router's callback for a freshly accepted
// hit: it looks up which pool originated the work and, for Stratum pools,
// relays mining.submit down the connection that issued the job.
func (o *Orchestrator) routeAccepted(hit submitrouter.HitRecord) {
	item, ok := o.ledger.Get(hit.WorkID)
	if !ok {
		return
	}
	pb, ok := o.poolsByID[item.SourceID]
	if !ok || pb.Kind != "stratum" || pb.Stratum == nil {
		return
	}
	if err := pb.Stratum.SubmitHit(hit.WorkID, hit.Header80, item.Extranonce2Size); err != nil {
		o.logger.Warn("stratum submit failed", zap.Int("source_id", item.SourceID), zap.Error(err))
	}
}

// refreshPenalties feeds the scheduler's backpressure model from each
// Stratum pool's cumulative mining.submit reply counters and republishes
// the resulting weight/penalty as metrics. share accept/reject counters
// are derived as deltas since the last refresh, since the runner-level
// counters are cumulative totals, not per-interval counts.
func (o *Orchestrator) refreshPenalties() {
	stats := make(map[int]scheduler.SourceStats, len(o.pools))
	for _, p := range o.pools {
		if p.Kind != "stratum" || p.Stratum == nil {
			continue
		}
		st := p.Stratum.Stats()
		stats[p.SourceID] = st

		acceptedDelta := st.Accepted - o.lastAccepted[p.SourceID]
		rejectedDelta := st.Rejected - o.lastRejected[p.SourceID]
		o.lastAccepted[p.SourceID] = st.Accepted
		o.lastRejected[p.SourceID] = st.Rejected

		metrics.SharesAccepted.WithLabelValues(strconv.Itoa(p.SourceID)).Add(float64(acceptedDelta))
		metrics.SharesRejected.WithLabelValues(strconv.Itoa(p.SourceID)).Add(float64(rejectedDelta))
	}
	o.scheduler.RefreshPenalties(stats)
	for sourceID := range stats {
		metrics.SchedulerPenalty.WithLabelValues(strconv.Itoa(sourceID)).Set(float64(o.scheduler.Penalty(sourceID)))
		metrics.SchedulerEffectiveWeight.WithLabelValues(strconv.Itoa(sourceID)).Set(float64(o.scheduler.EffectiveWeight(sourceID)))
	}
}

func (o *Orchestrator) persistTuningProfile() {
	if o.cfg.TuningDir == "" {
		return
	}
	profile := engine.TuningProfile{ThreadsPerBlock: engine.ClampThreadsPerBlock(256), NoncesPerThread: o.noncesPerThread}
	if err := engine.SaveTuningProfile(o.cfg.TuningDir, o.cfg.DeviceName, profile); err != nil {
		o.logger.Warn("saving tuning profile failed", zap.Error(err))
	}
}
