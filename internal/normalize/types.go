// Package normalize turns a raw job observed from a Stratum mining.notify
// or a GBT template poll into the registry's WorkItem/GpuJobConst pair,
// applying per-source policy (varDiff share target, version-rolling mask,
// ntime caps, clean-jobs flag) uniformly regardless of origin.
package normalize

// RawJobInputs is the normalizer's input: the raw fields of a job as
// reported by either adapter, before LE-word conversion or midstate
// precomputation.
type RawJobInputs struct {
	SourceID int
	WorkID   uint64

	Version uint32
	Nbits   uint32
	Ntime   uint32

	PrevHashBE   [32]byte
	MerkleRootBE [32]byte

	// HeaderFirst64 holds version(4) || prevhash_be(32) || merkle_root_be(32)
	// truncated to 64 bytes (4+32+28 of the merkle root). When the adapter
	// did not build it, it is left zeroed and the resulting midstate is
	// understood to be diagnostic-only.
	HeaderFirst64 [64]byte

	ShareNbits uint32

	Extranonce2Size int
	CleanJobs       bool

	VMask    uint32
	NtimeMin uint32
	NtimeMax uint32
}

// CoinbaseParts describes a coinbase transaction split around the
// extranonce bytes a Stratum miner supplies: the full coinbase is
// prefix ∥ extranonce1 ∥ extranonce2 ∥ suffix.
type CoinbaseParts struct {
	Prefix            []byte
	Suffix            []byte
	HasWitness        bool
	WitnessCommitment [32]byte
}

// BuildHeaderFirst64 assembles the 64-byte prefix of a block header (out of
// the 68 logical bytes of version+prevhash+merkleroot) used to precompute
// the SHA-256 midstate. Exported so adapters can build RawJobInputs.HeaderFirst64
// once they know the final merkle root.
func BuildHeaderFirst64(version uint32, prevHashBE, merkleRootBE [32]byte) [64]byte {
	var buf [68]byte
	buf[0] = byte(version >> 24)
	buf[1] = byte(version >> 16)
	buf[2] = byte(version >> 8)
	buf[3] = byte(version)
	copy(buf[4:36], prevHashBE[:])
	copy(buf[36:68], merkleRootBE[:])

	var first64 [64]byte
	copy(first64[:], buf[:64])
	return first64
}
