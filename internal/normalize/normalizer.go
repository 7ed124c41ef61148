package normalize

import (
	"errors"

	"github.com/arejula27/cuda-work-coordinator/internal/primitives"
	"github.com/arejula27/cuda-work-coordinator/internal/registry"
)

// ErrNoJob is returned when required fields are missing from raw; callers
// must never partially publish in this case.
var ErrNoJob = errors.New("normalize: missing required job fields")

// Normalize turns a RawJobInputs into the registry's WorkItem/GpuJobConst
// pair, applying per-source policy. See spec §4.2.
func Normalize(raw RawJobInputs) (registry.WorkItem, registry.GpuJobConst, error) {
	if raw.Nbits == 0 {
		return registry.WorkItem{}, registry.GpuJobConst{}, ErrNoJob
	}

	blockTarget := primitives.CompactToTargetLEWords(raw.Nbits)
	shareNbits := raw.ShareNbits
	var shareTarget [8]uint32
	if shareNbits == 0 {
		shareTarget = blockTarget
	} else {
		shareTarget = primitives.CompactToTargetLEWords(shareNbits)
	}

	item := registry.WorkItem{
		WorkID:   raw.WorkID,
		SourceID: raw.SourceID,

		Version:    raw.Version,
		Ntime:      raw.Ntime,
		Nbits:      raw.Nbits,
		NonceStart: 0,

		PrevHashLE:   primitives.Be32BytesToLEWords(raw.PrevHashBE),
		MerkleRootLE: primitives.Be32BytesToLEWords(raw.MerkleRootBE),

		ShareTargetLE: shareTarget,
		BlockTargetLE: blockTarget,

		VMask:    raw.VMask,
		NtimeMin: raw.NtimeMin,
		NtimeMax: raw.NtimeMax,

		Extranonce2Size: raw.Extranonce2Size,
		CleanJobs:       raw.CleanJobs,

		Active:         true,
		FoundSubmitted: false,
	}

	if item.NtimeMin != 0 || item.NtimeMax != 0 {
		item.Ntime = primitives.ClampNtime(item.Ntime, item.NtimeMin, item.NtimeMax)
	}

	midstate := primitives.MidstateAfter64(raw.HeaderFirst64)
	jobConst := registry.GpuJobConst{MidstateLE: primitives.Be32BytesToLEWords(be32From(midstate))}

	return item, jobConst, nil
}

// be32From converts a SHA-256 state (8 big-endian 32-bit words, the
// natural output of the compression function) into the 32-byte big-endian
// buffer expected by Be32BytesToLEWords, so the midstate is represented in
// the same LE-word convention as every other 256-bit value in this
// package.
func be32From(state [8]uint32) [32]byte {
	var be [32]byte
	for i, w := range state {
		be[i*4] = byte(w >> 24)
		be[i*4+1] = byte(w >> 16)
		be[i*4+2] = byte(w >> 8)
		be[i*4+3] = byte(w)
	}
	return be
}
