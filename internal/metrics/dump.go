package metrics

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

var (
	dumpMu         sync.Mutex
	lastDumpRotate time.Time
)

// DumpToFile writes the current registry snapshot in Prometheus text
// exposition format to path, for deployments that scrape a file instead of
// (or alongside) the HTTP endpoint. The file is rotated aside first,
// mirroring the ledger's and outbox's dual size/time rotation, whenever
// maxBytes > 0 and the existing file has grown past it, or
// rotateIntervalSec > 0 and that much time has passed since the last
// rotation.
func DumpToFile(path string, maxBytes int64, rotateIntervalSec int) error {
	dumpMu.Lock()
	sizeDue := false
	if maxBytes > 0 {
		if info, err := os.Stat(path); err == nil && info.Size() >= maxBytes {
			sizeDue = true
		}
	}
	timeDue := rotateIntervalSec > 0 && !lastDumpRotate.IsZero() && time.Since(lastDumpRotate) >= time.Duration(rotateIntervalSec)*time.Second
	if sizeDue || timeDue {
		sibling := fmt.Sprintf("%s.%d", path, time.Now().Unix())
		if err := os.Rename(path, sibling); err != nil && !os.IsNotExist(err) {
			dumpMu.Unlock()
			return fmt.Errorf("rotate metrics dump: %w", err)
		}
		lastDumpRotate = time.Now()
	} else if lastDumpRotate.IsZero() {
		lastDumpRotate = time.Now()
	}
	dumpMu.Unlock()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open metrics dump file: %w", err)
	}
	defer f.Close()

	enc := expfmt.NewEncoder(f, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode metric family %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
