package registry

import (
	"sync"
	"testing"
)

func TestSlotNeverWrittenHasZeroGen(t *testing.T) {
	var s WorkSlot
	snap := s.Get()
	if snap.Gen != 0 {
		t.Fatalf("expected gen 0 for unwritten slot, got %d", snap.Gen)
	}
}

func TestSetThenGetObservesNewItemWithHigherGen(t *testing.T) {
	var s WorkSlot
	item := WorkItem{WorkID: 1001, SourceID: 0}
	s.Set(item, GpuJobConst{})

	snap := s.Get()
	if snap.Gen == 0 {
		t.Fatalf("expected non-zero gen after Set")
	}
	if snap.Item.WorkID != 1001 {
		t.Fatalf("expected work_id 1001, got %d", snap.Item.WorkID)
	}

	s.Set(WorkItem{WorkID: 1002, SourceID: 0}, GpuJobConst{})
	snap2 := s.Get()
	if snap2.Gen <= snap.Gen {
		t.Fatalf("expected strictly increasing gen, got %d then %d", snap.Gen, snap2.Gen)
	}
	if snap2.Item.WorkID != 1002 {
		t.Fatalf("expected work_id 1002 after second set, got %d", snap2.Item.WorkID)
	}
}

func TestGetNeverObservesDecreasingGen(t *testing.T) {
	var s WorkSlot
	var last uint64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			s.Set(WorkItem{WorkID: uint64(i)}, GpuJobConst{})
		}
	}()

	for i := 0; i < 1000; i++ {
		snap := s.Get()
		if snap.Gen < last {
			t.Errorf("observed decreasing gen: %d after %d", snap.Gen, last)
		}
		last = snap.Gen
	}
	wg.Wait()
}

func TestRegistrySnapshotSkipsInactiveAndUnwritten(t *testing.T) {
	r := New(3)
	r.Slot(0).Set(WorkItem{WorkID: 1, Active: true}, GpuJobConst{})
	r.Slot(1).Set(WorkItem{WorkID: 2, Active: false}, GpuJobConst{})
	// slot 2 never written

	bySlot, byWorkID := r.Snapshot()
	if len(bySlot) != 1 {
		t.Fatalf("expected 1 active snapshot, got %d", len(bySlot))
	}
	if _, ok := byWorkID[1]; !ok {
		t.Fatalf("expected work_id 1 present in snapshot map")
	}
	if _, ok := byWorkID[2]; ok {
		t.Fatalf("inactive work_id 2 should not appear")
	}
}
