// Package outbox implements the append-only, crash-safe store of pending
// share/block submissions (spec §4.7). Records are fixed-size 92-byte
// binary entries; in-memory state is a FIFO queue plus a dedupe set.
package outbox

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// recordSize is len(work_id LE8 + nonce LE4 + header80) = 92 bytes.
const recordSize = 8 + 4 + 80

// replayLimit bounds how many records are replayed into memory on
// startup, so a very long log does not stall the pipeline.
const replayLimit = 128

// PendingSubmit is one outbox entry: a verified candidate awaiting
// back-channel acknowledgement.
type PendingSubmit struct {
	WorkID uint64
	Nonce  uint32
	Header [80]byte
}

type dedupeKey struct {
	WorkID uint64
	Nonce  uint32
}

// Outbox is a mutex-guarded FIFO of PendingSubmits backed by an append-only
// file, deduplicated by (work_id, nonce).
type Outbox struct {
	mu sync.Mutex

	path      string
	maxBytes  int64
	rotateDur time.Duration

	file *os.File
	size int64

	queue []PendingSubmit
	seen  map[dedupeKey]struct{}

	lastRotate time.Time
	logger     *zap.Logger
}

// Config configures an Outbox.
type Config struct {
	Path               string
	MaxBytes           int64
	RotateOnStart      bool
	RotateIntervalSecs int
}

// Open loads an existing outbox file (replaying up to replayLimit records
// into memory) and returns an Outbox ready for use.
func Open(cfg Config, logger *zap.Logger) (*Outbox, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ob := &Outbox{
		path:       cfg.Path,
		maxBytes:   cfg.MaxBytes,
		rotateDur:  time.Duration(cfg.RotateIntervalSecs) * time.Second,
		seen:       make(map[dedupeKey]struct{}),
		lastRotate: time.Now(),
		logger:     logger,
	}

	if cfg.RotateOnStart {
		if err := os.Rename(cfg.Path, fmt.Sprintf("%s.%d", cfg.Path, time.Now().Unix())); err != nil && !os.IsNotExist(err) {
			logger.Warn("outbox rotate-on-start failed", zap.Error(err))
		}
	} else if err := ob.loadFromFile(); err != nil {
		logger.Warn("outbox load failed", zap.Error(err))
	}

	f, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("outbox: open %s: %w", cfg.Path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("outbox: stat %s: %w", cfg.Path, err)
	}
	ob.file = f
	ob.size = info.Size()
	return ob, nil
}

func (o *Outbox) loadFromFile() error {
	f, err := os.Open(o.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	buf := make([]byte, recordSize)
	count := 0
	for count < replayLimit {
		if _, err := io.ReadFull(r, buf); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return err
		}
		entry := decodeRecord(buf)
		key := dedupeKey{WorkID: entry.WorkID, Nonce: entry.Nonce}
		if _, dup := o.seen[key]; dup {
			count++
			continue
		}
		o.seen[key] = struct{}{}
		o.queue = append(o.queue, entry)
		count++
	}
	return nil
}

func decodeRecord(buf []byte) PendingSubmit {
	var entry PendingSubmit
	entry.WorkID = binary.LittleEndian.Uint64(buf[0:8])
	entry.Nonce = binary.LittleEndian.Uint32(buf[8:12])
	copy(entry.Header[:], buf[12:92])
	return entry
}

func encodeRecord(entry PendingSubmit) [recordSize]byte {
	var buf [recordSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], entry.WorkID)
	binary.LittleEndian.PutUint32(buf[8:12], entry.Nonce)
	copy(buf[12:92], entry.Header[:])
	return buf
}

// Enqueue adds entry to the in-memory queue and appends it to the file,
// unless (work_id, nonce) was already seen. Returns whether the entry was
// newly added.
func (o *Outbox) Enqueue(entry PendingSubmit) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := dedupeKey{WorkID: entry.WorkID, Nonce: entry.Nonce}
	if _, dup := o.seen[key]; dup {
		return false
	}
	o.seen[key] = struct{}{}
	o.queue = append(o.queue, entry)

	if err := o.appendToFile(entry); err != nil {
		o.logger.Warn("outbox append failed", zap.Error(err))
	}
	o.maybeRotateLocked()
	return true
}

func (o *Outbox) appendToFile(entry PendingSubmit) error {
	if o.file == nil {
		return nil
	}
	buf := encodeRecord(entry)
	n, err := o.file.Write(buf[:])
	if err != nil {
		return err
	}
	o.size += int64(n)
	return nil
}

// TryDequeue removes and returns the oldest entry, if any.
func (o *Outbox) TryDequeue() (PendingSubmit, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return PendingSubmit{}, false
	}
	entry := o.queue[0]
	o.queue = o.queue[1:]
	return entry, true
}

// Drop removes a specific (work_id, nonce) from the queue and dedupe set,
// used after a positive back-channel acknowledgement.
func (o *Outbox) Drop(workID uint64, nonce uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := dedupeKey{WorkID: workID, Nonce: nonce}
	delete(o.seen, key)
	for i, e := range o.queue {
		if e.WorkID == workID && e.Nonce == nonce {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			break
		}
	}
}

// Empty reports whether the in-memory queue has no pending entries.
func (o *Outbox) Empty() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue) == 0
}

// Len reports the number of pending entries.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// maybeRotateLocked rotates the backing file if it has grown past
// max_bytes or the rotation interval elapsed. Caller must hold o.mu.
func (o *Outbox) maybeRotateLocked() {
	due := (o.maxBytes > 0 && o.size >= o.maxBytes) ||
		(o.rotateDur > 0 && time.Since(o.lastRotate) >= o.rotateDur)
	if !due {
		return
	}
	if err := o.rotateLocked(); err != nil {
		o.logger.Warn("outbox rotate failed", zap.Error(err))
	}
}

func (o *Outbox) rotateLocked() error {
	if o.file != nil {
		o.file.Close()
	}
	sibling := fmt.Sprintf("%s.%d", o.path, time.Now().Unix())
	if err := os.Rename(o.path, sibling); err != nil && !os.IsNotExist(err) {
		return err
	}
	f, err := os.OpenFile(o.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	o.file = f
	o.size = 0
	o.lastRotate = time.Now()
	return nil
}

// RewriteFile re-emits the current in-memory queue to trim the on-disk
// log down to only still-pending entries.
func (o *Outbox) RewriteFile() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.file != nil {
		o.file.Close()
	}
	f, err := os.OpenFile(o.path, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	var size int64
	for _, entry := range o.queue {
		buf := encodeRecord(entry)
		n, err := f.Write(buf[:])
		if err != nil {
			f.Close()
			return err
		}
		size += int64(n)
	}
	o.file = f
	o.size = size
	return nil
}

// Close flushes and closes the backing file.
func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.file == nil {
		return nil
	}
	return o.file.Close()
}
