package outbox

import (
	"path/filepath"
	"testing"
)

func TestOutboxDedupe(t *testing.T) {
	ob, err := Open(Config{Path: filepath.Join(t.TempDir(), "outbox.bin")}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ob.Close()

	entry := PendingSubmit{WorkID: 7, Nonce: 0}
	if !ob.Enqueue(entry) {
		t.Fatalf("first enqueue should succeed")
	}
	if ob.Enqueue(entry) {
		t.Fatalf("second enqueue of the same (work_id, nonce) should be rejected")
	}
	if ob.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", ob.Len())
	}

	ob.Drop(7, 0)
	if !ob.Empty() {
		t.Fatalf("expected empty queue after drop")
	}
}

func TestOutboxPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.bin")

	ob, err := Open(Config{Path: path}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var header [80]byte
	for i := range header {
		header[i] = byte(i)
	}
	entry := PendingSubmit{WorkID: 55, Nonce: 0xDEADBEEF, Header: header}
	ob.Enqueue(entry)
	ob.Close()

	ob2, err := Open(Config{Path: path}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer ob2.Close()

	got, ok := ob2.TryDequeue()
	if !ok {
		t.Fatalf("expected a replayed entry")
	}
	if got != entry {
		t.Fatalf("replayed entry mismatch:\n got =%+v\nwant =%+v", got, entry)
	}
}
