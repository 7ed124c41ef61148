// Package gbt implements the Bitcoin Core getblocktemplate work source: a
// polling adapter that turns a fetched template into RawJobInputs, plus a
// submitter that assembles and relays found blocks (spec §4.5).
package gbt

import (
	"sync"

	"github.com/arejula27/cuda-work-coordinator/internal/normalize"
)

// Policy configures how a fetched template becomes RawJobInputs.
type Policy struct {
	PayoutScript []byte // empty => diagnostic-only synthesized coinbase
	CbTag        []byte
	ShareNbits   uint32 // 0 => share target == block target

	// AllowSynthCoinbase permits buildJob to fabricate a coinbase transaction
	// from PayoutScript/CbTag when the template omits coinbasetxn, using the
	// template's own default_witness_commitment. Without it (or without a
	// real commitment to anchor to), a template missing both fields yields
	// no work rather than a synthesized, unanchored one (spec §4.4.2, §7).
	AllowSynthCoinbase bool
}

// Adapter holds the most recent normalized job derived from a poll, plus
// the live template state the submitter needs to assemble a full block.
type Adapter struct {
	mu sync.Mutex

	sourceID int
	policy   Policy

	queue []normalize.RawJobInputs

	coinbaseHex  string
	txHex        []string
	hasCoinbase  bool
}

// NewAdapter constructs an Adapter bound to sourceID with the given policy.
func NewAdapter(sourceID int, policy Policy) *Adapter {
	return &Adapter{sourceID: sourceID, policy: policy}
}

func (a *Adapter) enqueue(raw normalize.RawJobInputs) {
	a.mu.Lock()
	a.queue = append(a.queue, raw)
	a.mu.Unlock()
}

// PollNormalized drains and returns every RawJobInputs accumulated since
// the last call.
func (a *Adapter) PollNormalized() []normalize.RawJobInputs {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.queue
	a.queue = nil
	return out
}

// SourceID returns the adapter's configured source identity.
func (a *Adapter) SourceID() int { return a.sourceID }

// setTemplateParts records the coinbase/transaction hex a Runner assembled
// for the most recently polled template, for the Submitter to read later.
func (a *Adapter) setTemplateParts(coinbaseHex string, hasCoinbase bool, txHex []string) {
	a.mu.Lock()
	a.coinbaseHex = coinbaseHex
	a.hasCoinbase = hasCoinbase
	a.txHex = txHex
	a.mu.Unlock()
}

// templateParts returns the current coinbase/transaction hex snapshot.
func (a *Adapter) templateParts() (coinbaseHex string, hasCoinbase bool, txHex []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.txHex))
	copy(out, a.txHex)
	return a.coinbaseHex, a.hasCoinbase, out
}
