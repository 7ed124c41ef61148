// Package poolrouter fronts multiple Stratum endpoints for one logical
// pool definition, picking which adapter's queue to drain next (spec
// §4.10). It is optional: a pool with a single endpoint never needs one.
package poolrouter

import (
	"sync"

	"github.com/arejula27/cuda-work-coordinator/internal/normalize"
)

// Strategy selects how PollNext chooses among multiple adapters.
type Strategy int

const (
	// Failover iterates adapters in configured order and returns the
	// first with queued work.
	Failover Strategy = iota
	// RoundRobin rotates a cursor across adapters, advancing past
	// whichever adapter produced work on each successful call.
	RoundRobin
)

// Source is anything the router can drain normalized jobs from — the
// Stratum session Adapter satisfies this directly.
type Source interface {
	PollNormalized() []normalize.RawJobInputs
}

// Router fronts an ordered list of Sources belonging to one pool
// definition's endpoint list.
type Router struct {
	mu       sync.Mutex
	strategy Strategy
	sources  []Source
	rrIndex  int
}

// New constructs a Router with the given strategy.
func New(strategy Strategy) *Router {
	return &Router{strategy: strategy}
}

// AddSource appends a source to the router's endpoint list, in failover
// priority order.
func (r *Router) AddSource(s Source) {
	r.mu.Lock()
	r.sources = append(r.sources, s)
	r.mu.Unlock()
}

// SetStrategy switches the router's selection strategy.
func (r *Router) SetStrategy(s Strategy) {
	r.mu.Lock()
	r.strategy = s
	r.mu.Unlock()
}

// Len reports the number of sources registered.
func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sources)
}

// PollNext drains and returns the first non-empty batch of jobs found
// according to the configured strategy. An empty result means no source
// currently has queued work.
func (r *Router) PollNext() []normalize.RawJobInputs {
	jobs, _ := r.PollNextIndexed()
	return jobs
}

// PollNextIndexed behaves like PollNext but also reports which source index
// produced the batch (-1 if none did), so a caller that needs to remember
// which underlying connection originated a job (e.g. to submit a solution
// back down the same connection) can do so without re-deriving the
// selection logic.
func (r *Router) PollNextIndexed() ([]normalize.RawJobInputs, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.sources)
	if n == 0 {
		return nil, -1
	}

	switch r.strategy {
	case RoundRobin:
		for i := 0; i < n; i++ {
			idx := (r.rrIndex + i) % n
			if jobs := r.sources[idx].PollNormalized(); len(jobs) > 0 {
				r.rrIndex = (idx + 1) % n
				return jobs, idx
			}
		}
		r.rrIndex = (r.rrIndex + 1) % n
		return nil, -1
	default: // Failover
		for idx, s := range r.sources {
			if jobs := s.PollNormalized(); len(jobs) > 0 {
				return jobs, idx
			}
		}
		return nil, -1
	}
}

// ReplaceSources atomically swaps the router's full source list, used when
// a caller rebuilds one of its underlying connections (e.g. endpoint
// rotation) and needs the router to address it by the same slot index.
func (r *Router) ReplaceSources(sources []Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = sources
	if r.rrIndex >= len(sources) {
		r.rrIndex = 0
	}
}
