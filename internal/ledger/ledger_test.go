package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arejula27/cuda-work-coordinator/internal/registry"
)

func TestLedgerPutGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := Open(Config{Path: path}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	item := registry.WorkItem{WorkID: 42, SourceID: 1, Nbits: 0x1d00ffff, CleanJobs: true}
	l.Put(item)

	got, ok := l.Get(42)
	if !ok {
		t.Fatalf("expected entry for work_id 42")
	}
	if got.Nbits != item.Nbits || got.CleanJobs != item.CleanJobs {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestLedgerReloadsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := Open(Config{Path: path}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	l.Put(registry.WorkItem{WorkID: 7, SourceID: 0, Nbits: 1})

	l2, err := Open(Config{Path: path}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, ok := l2.Get(7); !ok {
		t.Fatalf("expected reloaded entry for work_id 7")
	}
}

func TestLedgerSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	if err := os.WriteFile(path, []byte("not json\n{\"work_id\":9,\"nbits\":1}\n"), 0o644); err != nil {
		t.Fatalf("write raw: %v", err)
	}

	l, err := Open(Config{Path: path}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := l.Get(9); !ok {
		t.Fatalf("expected the valid line to still load")
	}
}
