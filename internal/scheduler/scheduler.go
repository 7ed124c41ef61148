// Package scheduler produces a weighted, backpressure-capped dispatch
// sequence of active work IDs across sources. It does not allocate
// nonces — that is the engine's job given the plan the scheduler emits.
package scheduler

import "sync"

// DefaultCap is the default ceiling on the number of IDs a Select call
// replicates.
const DefaultCap = 64

// DefaultMaxWeight bounds any single source's configured weight.
const DefaultMaxWeight = 4

// defaultLatencyPenaltyMs is the submit-latency threshold above which a
// source accrues a penalty point.
const defaultLatencyPenaltyMs = 2000

// ActiveWorkID is one entry in the scheduler's view of active work.
type ActiveWorkID struct {
	WorkID   uint64
	SourceID int
}

// SourceStats tracks the rolling counters used to compute penalty.
type SourceStats struct {
	Accepted    uint64
	Rejected    uint64
	AvgSubmitMs float64
}

// Scheduler holds per-source configured weight and the decaying penalty
// state, refreshed on an external ~2s cadence by RefreshPenalties.
type Scheduler struct {
	mu sync.Mutex

	maxWeight         int
	latencyPenaltyMs  float64
	cap               int
	configuredWeight  map[int]int
	penalty           map[int]int
	lastAccepted      map[int]uint64
	lastRejected      map[int]uint64
}

// Config configures a new Scheduler.
type Config struct {
	MaxWeight        int
	LatencyPenaltyMs float64
	Cap              int
}

// New constructs a Scheduler. Zero-valued Config fields fall back to the
// documented defaults.
func New(cfg Config) *Scheduler {
	if cfg.MaxWeight == 0 {
		cfg.MaxWeight = DefaultMaxWeight
	}
	if cfg.LatencyPenaltyMs == 0 {
		cfg.LatencyPenaltyMs = defaultLatencyPenaltyMs
	}
	if cfg.Cap == 0 {
		cfg.Cap = DefaultCap
	}
	return &Scheduler{
		maxWeight:        cfg.MaxWeight,
		latencyPenaltyMs: cfg.LatencyPenaltyMs,
		cap:              cfg.Cap,
		configuredWeight: make(map[int]int),
		penalty:          make(map[int]int),
		lastAccepted:     make(map[int]uint64),
		lastRejected:     make(map[int]uint64),
	}
}

// SetWeight sets the configured weight for a source, before the max-weight
// cap and any penalty are applied.
func (s *Scheduler) SetWeight(sourceID, weight int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configuredWeight[sourceID] = weight
}

// effectiveWeight computes max(1, min(max_weight, configured_weight) - penalty[source]).
// Caller must hold s.mu.
func (s *Scheduler) effectiveWeight(sourceID int) int {
	w := s.configuredWeight[sourceID]
	if w == 0 {
		w = 1
	}
	if w > s.maxWeight {
		w = s.maxWeight
	}
	w -= s.penalty[sourceID]
	if w < 1 {
		w = 1
	}
	return w
}

// EffectiveWeight reports a source's current dispatch weight after the
// max-weight cap and penalty are applied, for metrics reporting.
func (s *Scheduler) EffectiveWeight(sourceID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveWeight(sourceID)
}

// Penalty reports a source's current backpressure penalty, for metrics
// reporting.
func (s *Scheduler) Penalty(sourceID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.penalty[sourceID]
}

// RefreshPenalties recomputes the decaying penalty for every known source
// from a fresh stats snapshot. Call roughly every 2 seconds.
func (s *Scheduler) RefreshPenalties(stats map[int]SourceStats) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sourceID, st := range stats {
		deltaAccepted := st.Accepted - s.lastAccepted[sourceID]
		deltaRejected := st.Rejected - s.lastRejected[sourceID]
		s.lastAccepted[sourceID] = st.Accepted
		s.lastRejected[sourceID] = st.Rejected

		trigger := false
		if deltaRejected > deltaAccepted {
			trigger = true
		}
		if st.AvgSubmitMs > s.latencyPenaltyMs {
			trigger = true
		}

		p := s.penalty[sourceID]
		if trigger {
			p++
		} else if p > 0 {
			p--
		}
		if p < 0 {
			p = 0
		}
		if p > 3 {
			p = 3
		}
		s.penalty[sourceID] = p
	}
}

// Select replicates each active work ID by its effective weight, in the
// order received, and truncates the result at the configured cap.
func (s *Scheduler) Select(active []ActiveWorkID) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]uint64, 0, s.cap)
	for _, a := range active {
		w := s.effectiveWeight(a.SourceID)
		for i := 0; i < w; i++ {
			if len(out) >= s.cap {
				return out
			}
			out = append(out, a.WorkID)
		}
	}
	return out
}
