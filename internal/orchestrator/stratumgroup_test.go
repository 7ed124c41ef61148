package orchestrator

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/arejula27/cuda-work-coordinator/internal/stratum"
)

func TestNewStratumGroupBuildsOneSlotPerEndpoint(t *testing.T) {
	endpoints := []stratum.Endpoint{
		{Host: "127.0.0.1", Port: 1},
		{Host: "127.0.0.1", Port: 2},
		{Host: "127.0.0.1", Port: 3},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := NewStratumGroup(ctx, 0, endpoints, "user", "pass", stratum.Policy{}, zap.NewNop())
	defer g.Stop()

	if len(g.slots) != len(endpoints) {
		t.Fatalf("len(slots) = %d, want %d", len(g.slots), len(endpoints))
	}
	for i, slot := range g.slots {
		if slot.endpointIdx != i {
			t.Fatalf("slots[%d].endpointIdx = %d, want %d", i, slot.endpointIdx, i)
		}
	}
}

func TestStratumGroupSubmitHitFallsBackWhenOriginUntracked(t *testing.T) {
	endpoints := []stratum.Endpoint{{Host: "127.0.0.1", Port: 1}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := NewStratumGroup(ctx, 0, endpoints, "user", "pass", stratum.Policy{}, zap.NewNop())
	defer g.Stop()

	// No job was ever polled for work_id 99, so SubmitHit must fall back to
	// slot 0's runner instead of silently dropping the submission. The
	// runner has no live connection in this test, so the fallback surfaces
	// as the runner's own "no active connection" error rather than a nil
	// no-op — proof the call reached a real *stratum.Runner.
	err := g.SubmitHit(99, [80]byte{}, 4)
	if err == nil {
		t.Fatalf("expected an error surfaced from the fallback runner's Submit, got nil")
	}
}

func TestRememberOriginEvictsOldestBeyondCapacity(t *testing.T) {
	endpoints := []stratum.Endpoint{{Host: "127.0.0.1", Port: 1}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := NewStratumGroup(ctx, 0, endpoints, "user", "pass", stratum.Policy{}, zap.NewNop())
	defer g.Stop()

	runner := g.slots[0].runner
	for i := uint64(0); i < maxTrackedWorkIDs+10; i++ {
		g.rememberOriginLocked(i, runner)
	}
	if len(g.workIDRunner) != maxTrackedWorkIDs {
		t.Fatalf("len(workIDRunner) = %d, want %d", len(g.workIDRunner), maxTrackedWorkIDs)
	}
	if _, ok := g.workIDRunner[0]; ok {
		t.Fatalf("expected oldest work_id 0 to be evicted")
	}
	if _, ok := g.workIDRunner[maxTrackedWorkIDs+9]; !ok {
		t.Fatalf("expected newest work_id to still be tracked")
	}
}
