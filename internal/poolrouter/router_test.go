package poolrouter

import (
	"testing"

	"github.com/arejula27/cuda-work-coordinator/internal/normalize"
)

type fakeSource struct {
	jobs []normalize.RawJobInputs
}

func (f *fakeSource) PollNormalized() []normalize.RawJobInputs {
	out := f.jobs
	f.jobs = nil
	return out
}

func job(workID uint64) normalize.RawJobInputs {
	return normalize.RawJobInputs{WorkID: workID}
}

func TestFailoverPrefersFirstWithWork(t *testing.T) {
	a := &fakeSource{}
	b := &fakeSource{jobs: []normalize.RawJobInputs{job(2)}}
	r := New(Failover)
	r.AddSource(a)
	r.AddSource(b)

	got := r.PollNext()
	if len(got) != 1 || got[0].WorkID != 2 {
		t.Fatalf("expected job from b, got %+v", got)
	}
}

func TestFailoverReturnsNilWhenAllEmpty(t *testing.T) {
	r := New(Failover)
	r.AddSource(&fakeSource{})
	r.AddSource(&fakeSource{})
	if got := r.PollNext(); len(got) != 0 {
		t.Fatalf("expected no jobs, got %+v", got)
	}
}

func TestPollNextIndexedReportsWinningSource(t *testing.T) {
	a := &fakeSource{}
	b := &fakeSource{jobs: []normalize.RawJobInputs{job(2)}}
	r := New(Failover)
	r.AddSource(a)
	r.AddSource(b)

	jobs, idx := r.PollNextIndexed()
	if idx != 1 || len(jobs) != 1 {
		t.Fatalf("expected idx=1 with 1 job, got idx=%d jobs=%+v", idx, jobs)
	}
}

func TestReplaceSourcesResetsOutOfRangeCursor(t *testing.T) {
	r := New(RoundRobin)
	r.AddSource(&fakeSource{})
	r.AddSource(&fakeSource{})
	r.PollNext() // advance cursor
	r.ReplaceSources([]Source{&fakeSource{jobs: []normalize.RawJobInputs{job(9)}}})
	got := r.PollNext()
	if len(got) != 1 || got[0].WorkID != 9 {
		t.Fatalf("expected job 9 after replace, got %+v", got)
	}
}

func TestRoundRobinAdvancesPastProducer(t *testing.T) {
	a := &fakeSource{jobs: []normalize.RawJobInputs{job(1)}}
	b := &fakeSource{jobs: []normalize.RawJobInputs{job(2)}}
	r := New(RoundRobin)
	r.AddSource(a)
	r.AddSource(b)

	first := r.PollNext()
	if len(first) != 1 || first[0].WorkID != 1 {
		t.Fatalf("expected job from a first, got %+v", first)
	}

	a.jobs = []normalize.RawJobInputs{job(3)}
	second := r.PollNext()
	if len(second) != 1 || second[0].WorkID != 2 {
		t.Fatalf("expected job from b second (cursor advanced), got %+v", second)
	}
}
