// Package ledger persists the work_id -> WorkItem map needed to
// reconstruct header bytes and targets for a hit replayed after restart
// (spec §4.7, §6.3).
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arejula27/cuda-work-coordinator/internal/registry"
)

// record mirrors the exact JSON-lines key list from spec §6.3.
type record struct {
	WorkID          uint64    `json:"work_id"`
	SourceID        int       `json:"source_id"`
	Version         uint32    `json:"version"`
	Ntime           uint32    `json:"ntime"`
	Nbits           uint32    `json:"nbits"`
	NonceStart      uint32    `json:"nonce_start"`
	PrevHashLE      [8]uint32 `json:"prevhash_le"`
	MerkleRootLE    [8]uint32 `json:"merkle_root_le"`
	ShareTargetLE   [8]uint32 `json:"share_target_le"`
	BlockTargetLE   [8]uint32 `json:"block_target_le"`
	VMask           uint32    `json:"vmask"`
	NtimeMin        uint32    `json:"ntime_min"`
	NtimeMax        uint32    `json:"ntime_max"`
	Extranonce2Size int       `json:"extranonce2_size"`
	CleanJobs       bool      `json:"clean_jobs"`
	Active          bool      `json:"active"`
	FoundSubmitted  bool      `json:"found_submitted"`
}

func toRecord(item registry.WorkItem) record {
	return record{
		WorkID: item.WorkID, SourceID: item.SourceID,
		Version: item.Version, Ntime: item.Ntime, Nbits: item.Nbits, NonceStart: item.NonceStart,
		PrevHashLE: item.PrevHashLE, MerkleRootLE: item.MerkleRootLE,
		ShareTargetLE: item.ShareTargetLE, BlockTargetLE: item.BlockTargetLE,
		VMask: item.VMask, NtimeMin: item.NtimeMin, NtimeMax: item.NtimeMax,
		Extranonce2Size: item.Extranonce2Size, CleanJobs: item.CleanJobs,
		Active: item.Active, FoundSubmitted: item.FoundSubmitted,
	}
}

func fromRecord(r record) registry.WorkItem {
	return registry.WorkItem{
		WorkID: r.WorkID, SourceID: r.SourceID,
		Version: r.Version, Ntime: r.Ntime, Nbits: r.Nbits, NonceStart: r.NonceStart,
		PrevHashLE: r.PrevHashLE, MerkleRootLE: r.MerkleRootLE,
		ShareTargetLE: r.ShareTargetLE, BlockTargetLE: r.BlockTargetLE,
		VMask: r.VMask, NtimeMin: r.NtimeMin, NtimeMax: r.NtimeMax,
		Extranonce2Size: r.Extranonce2Size, CleanJobs: r.CleanJobs,
		Active: r.Active, FoundSubmitted: r.FoundSubmitted,
	}
}

// Ledger is a mutex-guarded work_id -> WorkItem map, backed by a
// JSON-lines file with the same rotation policy as the outbox.
type Ledger struct {
	mu sync.Mutex

	path      string
	maxBytes  int64
	rotateDur time.Duration

	items      map[uint64]registry.WorkItem
	lastRotate time.Time
	logger     *zap.Logger
}

// Config configures a Ledger.
type Config struct {
	Path               string
	MaxBytes           int64
	RotateIntervalSecs int
}

// Open loads any existing ledger file, discarding malformed lines.
func Open(cfg Config, logger *zap.Logger) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		path:       cfg.Path,
		maxBytes:   cfg.MaxBytes,
		rotateDur:  time.Duration(cfg.RotateIntervalSecs) * time.Second,
		items:      make(map[uint64]registry.WorkItem),
		lastRotate: time.Now(),
		logger:     logger,
	}
	if err := l.loadFromFile(); err != nil {
		logger.Warn("ledger load failed", zap.Error(err))
	}
	return l, nil
}

func (l *Ledger) loadFromFile() error {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	for scanner.Scan() {
		var r record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			l.logger.Warn("ledger: skipping malformed line", zap.Error(err))
			continue
		}
		l.items[r.WorkID] = fromRecord(r)
	}
	return scanner.Err()
}

// Put stores or replaces the entry for item.WorkID and appends a JSON
// line to the file.
func (l *Ledger) Put(item registry.WorkItem) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items[item.WorkID] = item
	if err := l.appendToFile(item); err != nil {
		l.logger.Warn("ledger append failed", zap.Error(err))
	}
	l.maybeRotateLocked()
}

func (l *Ledger) appendToFile(item registry.WorkItem) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(toRecord(item))
	if err != nil {
		return err
	}
	line = append(line, '\n')
	_, err = f.Write(line)
	return err
}

// Get returns the entry for workID, if present.
func (l *Ledger) Get(workID uint64) (registry.WorkItem, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	item, ok := l.items[workID]
	return item, ok
}

// Len reports the number of work items currently tracked.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Erase removes the entry for workID.
func (l *Ledger) Erase(workID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.items, workID)
}

func (l *Ledger) maybeRotateLocked() {
	info, err := os.Stat(l.path)
	sizeDue := err == nil && l.maxBytes > 0 && info.Size() >= l.maxBytes
	timeDue := l.rotateDur > 0 && time.Since(l.lastRotate) >= l.rotateDur
	if !sizeDue && !timeDue {
		return
	}
	sibling := fmt.Sprintf("%s.%d", l.path, time.Now().Unix())
	if err := os.Rename(l.path, sibling); err != nil && !os.IsNotExist(err) {
		l.logger.Warn("ledger rotate failed", zap.Error(err))
		return
	}
	l.lastRotate = time.Now()
}

// SaveAll rewrites the ledger file from the current in-memory map,
// trimming stale/duplicate entries accumulated by Put.
func (l *Ledger) SaveAll() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, item := range l.items {
		line, err := json.Marshal(toRecord(item))
		if err != nil {
			return err
		}
		line = append(line, '\n')
		if _, err := f.Write(line); err != nil {
			return err
		}
	}
	return nil
}
