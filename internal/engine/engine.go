package engine

import "github.com/arejula27/cuda-work-coordinator/internal/registry"

// JobTableEntry is one active job's device-facing fields, assembled by the
// orchestrator from a registry snapshot (spec §4.8 step 3).
type JobTableEntry struct {
	WorkID          uint64
	Version         uint32
	Ntime           uint32
	Nbits           uint32
	VMask           uint32
	NtimeMin        uint32
	NtimeMax        uint32
	Extranonce2Size int
	PrevHashLE      [8]uint32
	MerkleRootLE    [8]uint32
	ShareTargetLE   [8]uint32
	BlockTargetLE   [8]uint32
	MidstateLE      [8]uint32
	ShareTargetBE   [32]byte
}

// Batch describes one dispatch to the search engine (spec §4.8 step 5).
type Batch struct {
	Jobs            []JobTableEntry
	BlocksPerJob    uint32
	ThreadsPerBlock uint32
	NonceBase       uint32
	NoncesPerThread uint32
}

// Engine is the opaque on-device batch hasher's interface: it consumes a
// job table plus a nonce plan and returns candidate hits. Its internals
// (kernel launch, memory transfer) are out of scope; only this interface
// and the host-side verification around it are specified.
type Engine interface {
	Launch(batch Batch) ([]Hit, error)
}

// JobTableFor builds device-facing job entries from an active registry
// snapshot, the shape the orchestrator hands to Launch.
func JobTableFor(snapshots []registry.WorkSlotSnapshot, shareTargetBE func(targetLE [8]uint32) [32]byte) []JobTableEntry {
	out := make([]JobTableEntry, 0, len(snapshots))
	for _, s := range snapshots {
		out = append(out, JobTableEntry{
			WorkID:          s.Item.WorkID,
			Version:         s.Item.Version,
			Ntime:           s.Item.Ntime,
			Nbits:           s.Item.Nbits,
			VMask:           s.Item.VMask,
			NtimeMin:        s.Item.NtimeMin,
			NtimeMax:        s.Item.NtimeMax,
			Extranonce2Size: s.Item.Extranonce2Size,
			PrevHashLE:      s.Item.PrevHashLE,
			MerkleRootLE:    s.Item.MerkleRootLE,
			ShareTargetLE:   s.Item.ShareTargetLE,
			BlockTargetLE:   s.Item.BlockTargetLE,
			MidstateLE:      s.JobConst.MidstateLE,
			ShareTargetBE:   shareTargetBE(s.Item.ShareTargetLE),
		})
	}
	return out
}
