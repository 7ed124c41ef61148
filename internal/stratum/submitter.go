package stratum

import "encoding/binary"

// ntimeOffset and nonceOffset are the big-endian 80-byte header's field
// offsets, matching the layout BuildHeaderFirst64 plus the final 16 bytes
// (nbits, nonce) produce: version(4) prevhash(32) merkleroot(32) ntime(4)
// nbits(4) nonce(4).
const (
	ntimeOffset = 68
	nonceOffset = 76
)

// ExtractNtimeNonce pulls the ntime and nonce fields back out of an 80-byte
// big-endian block header, as found by the engine and verified by the
// submit router.
func ExtractNtimeNonce(header80 [80]byte) (ntime uint32, nonce uint32) {
	ntime = binary.BigEndian.Uint32(header80[ntimeOffset : ntimeOffset+4])
	nonce = binary.BigEndian.Uint32(header80[nonceOffset : nonceOffset+4])
	return ntime, nonce
}

// SubmitHit sends mining.submit for a verified hit, extracting ntime and
// nonce from the header the engine produced.
func (r *Runner) SubmitHit(workID uint64, header80 [80]byte, extranonce2 []byte) error {
	ntime, nonce := ExtractNtimeNonce(header80)
	return r.Submit(workID, nonce, extranonce2, ntime)
}
