// Package primitives implements the byte and crypto building blocks the
// rest of the coordinator is built on: SHA-256 with exposed midstate,
// double-SHA256, compact-target decoding, endianness rewriting, and
// Merkle root computation.
package primitives

import "encoding/binary"

// sha256 round constants, FIPS 180-4 section 4.2.2.
var k256 = [64]uint32{
	0x428a2f98, 0x71374491, 0xb5c0fbcf, 0xe9b5dba5, 0x3956c25b, 0x59f111f1, 0x923f82a4, 0xab1c5ed5,
	0xd807aa98, 0x12835b01, 0x243185be, 0x550c7dc3, 0x72be5d74, 0x80deb1fe, 0x9bdc06a7, 0xc19bf174,
	0xe49b69c1, 0xefbe4786, 0x0fc19dc6, 0x240ca1cc, 0x2de92c6f, 0x4a7484aa, 0x5cb0a9dc, 0x76f988da,
	0x983e5152, 0xa831c66d, 0xb00327c8, 0xbf597fc7, 0xc6e00bf3, 0xd5a79147, 0x06ca6351, 0x14292967,
	0x27b70a85, 0x2e1b2138, 0x4d2c6dfc, 0x53380d13, 0x650a7354, 0x766a0abb, 0x81c2c92e, 0x92722c85,
	0xa2bfe8a1, 0xa81a664b, 0xc24b8b70, 0xc76c51a3, 0xd192e819, 0xd6990624, 0xf40e3585, 0x106aa070,
	0x19a4c116, 0x1e376c08, 0x2748774c, 0x34b0bcb5, 0x391c0cb3, 0x4ed8aa4a, 0x5b9cca4f, 0x682e6ff3,
	0x748f82ee, 0x78a5636f, 0x84c87814, 0x8cc70208, 0x90befffa, 0xa4506ceb, 0xbef9a3f7, 0xc67178f2,
}

// IV256 is the SHA-256 initial hash value, FIPS 180-4 section 5.3.3.
var IV256 = [8]uint32{
	0x6a09e667, 0xbb67ae85, 0x3c6ef372, 0xa54ff53a,
	0x510e527f, 0x9b05688c, 0x1f83d9ab, 0x5be0cd19,
}

func rotr(x uint32, n uint) uint32 { return (x >> n) | (x << (32 - n)) }

// block applies one SHA-256 compression round to state, consuming exactly
// 64 bytes of message.
func block(state *[8]uint32, msg []byte) {
	var w [64]uint32
	for i := 0; i < 16; i++ {
		w[i] = binary.BigEndian.Uint32(msg[i*4:])
	}
	for i := 16; i < 64; i++ {
		s0 := rotr(w[i-15], 7) ^ rotr(w[i-15], 18) ^ (w[i-15] >> 3)
		s1 := rotr(w[i-2], 17) ^ rotr(w[i-2], 19) ^ (w[i-2] >> 10)
		w[i] = w[i-16] + s0 + w[i-7] + s1
	}

	a, b, c, d, e, f, g, h := state[0], state[1], state[2], state[3], state[4], state[5], state[6], state[7]
	for i := 0; i < 64; i++ {
		s1 := rotr(e, 6) ^ rotr(e, 11) ^ rotr(e, 25)
		ch := (e & f) ^ (^e & g)
		t1 := h + s1 + ch + k256[i] + w[i]
		s0 := rotr(a, 2) ^ rotr(a, 13) ^ rotr(a, 22)
		maj := (a & b) ^ (a & c) ^ (b & c)
		t2 := s0 + maj

		h, g, f, e = g, f, e, d+t1
		d, c, b, a = c, b, a, t1+t2
	}

	state[0] += a
	state[1] += b
	state[2] += c
	state[3] += d
	state[4] += e
	state[5] += f
	state[6] += g
	state[7] += h
}

// MidstateAfter64 runs the SHA-256 compression function once over the first
// 64 bytes of buf, starting from the standard initial hash value. The
// returned state can be continued with Finish to hash an arbitrary-length
// message whose first 64 bytes equal buf[:64].
func MidstateAfter64(buf [64]byte) [8]uint32 {
	state := IV256
	block(&state, buf[:])
	return state
}

// Finish continues hashing from a midstate produced by MidstateAfter64,
// consuming tail (the message bytes after the first 64) and padding per
// FIPS 180-4 as if the complete message had length totalLen bytes.
func Finish(state [8]uint32, tail []byte, totalLen uint64) [32]byte {
	padded := pad(tail, totalLen)
	for len(padded) > 0 {
		block(&state, padded[:64])
		padded = padded[64:]
	}
	var out [32]byte
	for i, s := range state {
		binary.BigEndian.PutUint32(out[i*4:], s)
	}
	return out
}

// pad appends the standard SHA-256 1-bit/zero-bit/length padding to tail so
// the result is a multiple of 64 bytes. tail must be the suffix of the
// message not yet consumed by a prior block() call, i.e. len(tail) ≡
// totalLen (mod 64); totalLen is the length in bytes of the full message.
func pad(tail []byte, totalLen uint64) []byte {
	bitLen := totalLen * 8
	out := make([]byte, len(tail), len(tail)+72)
	copy(out, tail)
	out = append(out, 0x80)
	for len(out)%64 != 56 {
		out = append(out, 0x00)
	}
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], bitLen)
	out = append(out, lenBuf[:]...)
	return out
}

// Sum256 is the plain, single-shot SHA-256 of data.
func Sum256(data []byte) [32]byte {
	state := IV256
	full := pad(data, uint64(len(data)))
	for len(full) >= 64 {
		block(&state, full[:64])
		full = full[64:]
	}
	var out [32]byte
	for i, s := range state {
		binary.BigEndian.PutUint32(out[i*4:], s)
	}
	return out
}

// Sha256d computes SHA256(SHA256(data)).
func Sha256d(data []byte) [32]byte {
	first := Sum256(data)
	return Sum256(first[:])
}
