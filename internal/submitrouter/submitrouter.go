// Package submitrouter re-verifies candidate hits on the host, classifies
// them as a share or a block, and dispatches accepted submissions to the
// durable outbox and the back-channel that originated the work.
package submitrouter

import (
	"github.com/arejula27/cuda-work-coordinator/internal/outbox"
	"github.com/arejula27/cuda-work-coordinator/internal/primitives"
)

// HitRecord is a candidate solution reported by the engine, re-verified
// here before any submission happens.
type HitRecord struct {
	WorkID   uint64
	Nonce    uint32
	Header80 [80]byte
}

// Callback is invoked exactly once per accepted hit, after it has joined
// the outbox queue (a failed file append is only logged by the outbox).
type Callback func(HitRecord)

// Router verifies engine hits against per-work targets and routes
// accepted ones to the outbox and an injected callback.
type Router struct {
	outbox   *outbox.Outbox
	callback Callback
}

// New constructs a Router backed by the given outbox. callback is invoked
// synchronously from VerifyAndSubmit after the outbox accepts the entry.
func New(ob *outbox.Outbox, callback Callback) *Router {
	return &Router{outbox: ob, callback: callback}
}

// VerifyAndSubmit implements spec §4.6: computes sha256d(header), compares
// it big-endian against target, and on acceptance enqueues a PendingSubmit
// and invokes the callback. Returns whether the hit was accepted.
func (r *Router) VerifyAndSubmit(header80 [80]byte, targetLE [8]uint32, workID uint64, nonce uint32) bool {
	hash := primitives.Sha256d(header80[:])
	if !hashMeetsTarget(hash, targetLE) {
		return false
	}

	entry := outbox.PendingSubmit{WorkID: workID, Nonce: nonce, Header: header80}
	if !r.outbox.Enqueue(entry) {
		// Already seen (duplicate work_id/nonce) — not a fresh accept.
		return false
	}

	if r.callback != nil {
		r.callback(HitRecord{WorkID: workID, Nonce: nonce, Header80: header80})
	}
	return true
}

// IsBlock reports whether hash (sha256d of header80) is at or below the
// network block target, independent of the share target.
func IsBlock(header80 [80]byte, blockTargetLE [8]uint32) bool {
	hash := primitives.Sha256d(header80[:])
	return hashMeetsTarget(hash, blockTargetLE)
}

// hashMeetsTarget compares a sha256d output (big-endian 32 bytes) against
// a LE-word-array target, per the same per-word byte-swap convention used
// throughout this codebase for 256-bit values.
func hashMeetsTarget(hash [32]byte, targetLE [8]uint32) bool {
	var hashBE [32]byte
	copy(hashBE[:], hash[:])
	targetBE := primitives.LEWordsToBE32Bytes(targetLE)

	for i := 0; i < 32; i++ {
		if hashBE[i] != targetBE[i] {
			return hashBE[i] < targetBE[i]
		}
	}
	return true // equal counts as accept
}
