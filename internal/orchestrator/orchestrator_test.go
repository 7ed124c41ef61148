package orchestrator

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/arejula27/cuda-work-coordinator/internal/engine"
	"github.com/arejula27/cuda-work-coordinator/internal/ledger"
	"github.com/arejula27/cuda-work-coordinator/internal/normalize"
	"github.com/arejula27/cuda-work-coordinator/internal/outbox"
	"github.com/arejula27/cuda-work-coordinator/internal/registry"
	"github.com/arejula27/cuda-work-coordinator/internal/scheduler"
)

type fakeSource struct {
	jobs []normalize.RawJobInputs
}

func (f *fakeSource) PollNormalized() []normalize.RawJobInputs {
	out := f.jobs
	f.jobs = nil
	return out
}

// maxTargetNbits decodes (via CompactToTargetLEWords' saturate branch, exp
// > 32) to an all-0xff 256-bit target, so any hash deterministically
// qualifies as both a share and a block — used to make hit routing tests
// independent of the actual sha256d output.
const maxTargetNbits = 0x21000001

func newTestOrchestrator(t *testing.T) (*Orchestrator, *outbox.Outbox, *ledger.Ledger, *engine.MockEngine) {
	t.Helper()
	dir := t.TempDir()

	reg := registry.New(1)
	sched := scheduler.New(scheduler.Config{MaxWeight: 4, Cap: 10})
	sched.SetWeight(0, 1)

	ob, err := outbox.Open(outbox.Config{Path: filepath.Join(dir, "outbox.dat")}, zap.NewNop())
	if err != nil {
		t.Fatalf("open outbox: %v", err)
	}
	led, err := ledger.Open(ledger.Config{Path: filepath.Join(dir, "ledger.jsonl")}, zap.NewNop())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	mockEngine := engine.NewMockEngine()

	o := New(Config{}, reg, sched, led, ob, mockEngine, zap.NewNop())
	return o, ob, led, mockEngine
}

func testRawJob(workID uint64) normalize.RawJobInputs {
	return normalize.RawJobInputs{
		SourceID:        0,
		WorkID:          workID,
		Version:         1,
		Nbits:           maxTargetNbits,
		Ntime:           100,
		Extranonce2Size: 4,
		CleanJobs:       true,
	}
}

func TestTickAcceptsHitAndMarksBlockFound(t *testing.T) {
	o, ob, led, mockEngine := newTestOrchestrator(t)
	source := &fakeSource{jobs: []normalize.RawJobInputs{testRawJob(42)}}
	o.AddPool(&PoolBinding{SourceID: 0, Kind: "gbt", Source: source})

	mockEngine.ScriptedHits[42] = []engine.Hit{{WorkID: 42, Nonce: 7}}

	o.tick(context.Background())

	if ob.Len() != 1 {
		t.Fatalf("outbox.Len() = %d, want 1", ob.Len())
	}
	item, ok := led.Get(42)
	if !ok {
		t.Fatalf("ledger entry for work_id 42 not found")
	}
	if !item.FoundSubmitted {
		t.Fatalf("expected FoundSubmitted=true for an all-0xff-target hit")
	}
}

func TestTickWithNoHitsLeavesOutboxEmpty(t *testing.T) {
	o, ob, _, _ := newTestOrchestrator(t)
	source := &fakeSource{jobs: []normalize.RawJobInputs{testRawJob(1)}}
	o.AddPool(&PoolBinding{SourceID: 0, Kind: "gbt", Source: source})

	o.tick(context.Background())

	if ob.Len() != 0 {
		t.Fatalf("outbox.Len() = %d, want 0 when the engine reports no hits", ob.Len())
	}
}

func TestTickDuplicateHitIsNotDoubleEnqueued(t *testing.T) {
	o, ob, _, mockEngine := newTestOrchestrator(t)
	source := &fakeSource{jobs: []normalize.RawJobInputs{testRawJob(5)}}
	o.AddPool(&PoolBinding{SourceID: 0, Kind: "gbt", Source: source})

	mockEngine.ScriptedHits[5] = []engine.Hit{{WorkID: 5, Nonce: 1}}
	o.tick(context.Background())
	if ob.Len() != 1 {
		t.Fatalf("outbox.Len() = %d after first tick, want 1", ob.Len())
	}

	source.jobs = []normalize.RawJobInputs{testRawJob(5)}
	mockEngine.ScriptedHits[5] = []engine.Hit{{WorkID: 5, Nonce: 1}}
	o.tick(context.Background())
	if ob.Len() != 1 {
		t.Fatalf("outbox.Len() = %d after repeat hit, want still 1 (deduped)", ob.Len())
	}
}
