package scheduler

import "testing"

func TestSchedulerScenarioS2(t *testing.T) {
	s := New(Config{MaxWeight: 10, Cap: 10})
	s.SetWeight(1, 3)
	s.SetWeight(2, 1)

	active := []ActiveWorkID{
		{WorkID: 10, SourceID: 1},
		{WorkID: 20, SourceID: 2},
		{WorkID: 30, SourceID: 1},
	}

	selected := s.Select(active)
	want := []uint64{10, 10, 10, 20, 30}
	if len(selected) < len(want) {
		t.Fatalf("selected too short: %v", selected)
	}
	for i, w := range want {
		if selected[i] != w {
			t.Fatalf("selected[%d] = %d, want %d (full: %v)", i, selected[i], w, selected)
		}
	}
}

func TestSchedulerRespectsCap(t *testing.T) {
	s := New(Config{MaxWeight: 4, Cap: 5})
	s.SetWeight(1, 4)
	active := []ActiveWorkID{{WorkID: 1, SourceID: 1}}
	selected := s.Select(active)
	if len(selected) > 5 {
		t.Fatalf("selected exceeds cap: %d entries", len(selected))
	}
}

func TestSchedulerPenaltyReducesWeightButNeverBelowOne(t *testing.T) {
	s := New(Config{MaxWeight: 4, Cap: 100})
	s.SetWeight(1, 2)

	s.RefreshPenalties(map[int]SourceStats{
		1: {Accepted: 0, Rejected: 10},
	})
	s.RefreshPenalties(map[int]SourceStats{
		1: {Accepted: 0, Rejected: 20},
	})
	s.RefreshPenalties(map[int]SourceStats{
		1: {Accepted: 0, Rejected: 30},
	})
	s.RefreshPenalties(map[int]SourceStats{
		1: {Accepted: 0, Rejected: 40},
	})

	selected := s.Select([]ActiveWorkID{{WorkID: 1, SourceID: 1}})
	if len(selected) < 1 {
		t.Fatalf("weight should never drop below 1, got %d entries", len(selected))
	}
}

func TestEffectiveWeightAndPenaltyAccessorsMatchSelect(t *testing.T) {
	s := New(Config{MaxWeight: 4, Cap: 100})
	s.SetWeight(1, 3)
	if w := s.EffectiveWeight(1); w != 3 {
		t.Fatalf("EffectiveWeight = %d, want 3", w)
	}
	if p := s.Penalty(1); p != 0 {
		t.Fatalf("Penalty = %d, want 0 before any RefreshPenalties", p)
	}

	s.RefreshPenalties(map[int]SourceStats{1: {Rejected: 10}})
	if p := s.Penalty(1); p != 1 {
		t.Fatalf("Penalty = %d, want 1 after a triggering refresh", p)
	}
	if w := s.EffectiveWeight(1); w != 2 {
		t.Fatalf("EffectiveWeight = %d, want 2 after penalty", w)
	}
}

func TestSchedulerPenaltyDecaysWithoutTrigger(t *testing.T) {
	s := New(Config{MaxWeight: 4, Cap: 100})
	s.SetWeight(1, 4)

	s.RefreshPenalties(map[int]SourceStats{1: {Rejected: 10}})
	before := len(s.Select([]ActiveWorkID{{WorkID: 1, SourceID: 1}}))

	s.RefreshPenalties(map[int]SourceStats{1: {Rejected: 10, Accepted: 10}})
	after := len(s.Select([]ActiveWorkID{{WorkID: 1, SourceID: 1}}))

	if after <= before {
		t.Fatalf("expected penalty to decay and weight to recover: before=%d after=%d", before, after)
	}
}
