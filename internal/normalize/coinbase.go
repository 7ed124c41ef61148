package normalize

import (
	"encoding/binary"

	"github.com/arejula27/cuda-work-coordinator/pkg/util"
)

// AssembleCoinbase builds the full coinbase transaction bytes from its
// prefix/suffix split and the miner-supplied extranonce bytes.
func AssembleCoinbase(parts CoinbaseParts, extranonce1, extranonce2 []byte) []byte {
	out := make([]byte, 0, len(parts.Prefix)+len(extranonce1)+len(extranonce2)+len(parts.Suffix))
	out = append(out, parts.Prefix...)
	out = append(out, extranonce1...)
	out = append(out, extranonce2...)
	out = append(out, parts.Suffix...)
	return out
}

// Subsidy returns the block subsidy in satoshis at the given height,
// halving every 210000 blocks and reaching zero after 64 halvings.
func Subsidy(height uint64) uint64 {
	halvings := height / 210000
	if halvings >= 64 {
		return 0
	}
	return (50 * 100000000) >> halvings
}

// EncodeBIP34Height returns the minimal little-endian byte run for height,
// prefixed with its own length, as required in the coinbase scriptSig's
// first push.
func EncodeBIP34Height(height uint64) []byte {
	if height == 0 {
		return []byte{0x01, 0x00}
	}
	var raw []byte
	v := height
	for v > 0 {
		raw = append(raw, byte(v))
		v >>= 8
	}
	// If the high bit of the last byte is set, the value would be
	// misread as a negative script number; add a zero byte.
	if raw[len(raw)-1]&0x80 != 0 {
		raw = append(raw, 0x00)
	}
	return append([]byte{byte(len(raw))}, raw...)
}

// WitnessCommitmentScript builds the OP_RETURN output script carrying a
// segwit witness commitment: 0x6a 0x24 0xaa21a9ed || commitment.
func WitnessCommitmentScript(commitment [32]byte) []byte {
	out := make([]byte, 0, 2+4+32)
	out = append(out, 0x6a, 0x24)
	out = append(out, 0xaa, 0x21, 0xa9, 0xed)
	out = append(out, commitment[:]...)
	return out
}

// SynthesizedCoinbaseInput configures GBT coinbase synthesis (spec §4.4.2).
type SynthesizedCoinbaseInput struct {
	Height            uint64
	Fees              uint64
	PayoutScript      []byte // empty => minimal diagnostic-only coinbase
	WitnessCommitment [32]byte
	HasWitness        bool
	CbTag             []byte // arbitrary extra scriptSig bytes (e.g. pool tag)
	Extranonce1Size   int
	Extranonce2Size   int
}

// SynthesizeCoinbase builds CoinbaseParts for a GBT job when the node does
// not supply coinbasetxn. The scriptSig is:
//
//	BIP34 height push || cb_tag || (placeholder for extranonce1||extranonce2)
//
// With a payout script configured, the transaction has the payout output
// (value = subsidy(height)+fees); the witness-commitment OP_RETURN output
// follows it only when HasWitness is set. Without a payout script, only the
// OP_RETURN output (if any) is produced — a diagnostic,
// non-consensus-spendable coinbase.
func SynthesizeCoinbase(in SynthesizedCoinbaseInput) CoinbaseParts {
	var prefix []byte

	// version(4 LE) + input count(1) + prevout(32 zero + 4 0xff) + script length placeholder
	prefix = append(prefix, 0x01, 0x00, 0x00, 0x00) // version 1
	prefix = append(prefix, 0x01)                   // one input
	prefix = append(prefix, make([]byte, 32)...)    // null prevout hash
	prefix = append(prefix, 0xff, 0xff, 0xff, 0xff)  // null prevout index

	scriptSigHead := EncodeBIP34Height(in.Height)
	scriptSigHead = append(scriptSigHead, in.CbTag...)

	scriptLen := len(scriptSigHead) + in.Extranonce1Size + in.Extranonce2Size
	prefix = append(prefix, util.WriteScriptLen(scriptLen)...)
	prefix = append(prefix, scriptSigHead...)
	// extranonce1 || extranonce2 are appended by AssembleCoinbase, not here.

	var suffix []byte
	suffix = append(suffix, 0xff, 0xff, 0xff, 0xff) // sequence

	outputs := buildOutputs(in)
	suffix = append(suffix, util.WriteVarInt(uint64(len(outputs)))...)
	for _, o := range outputs {
		suffix = append(suffix, o...)
	}

	suffix = append(suffix, 0x00, 0x00, 0x00, 0x00) // locktime

	return CoinbaseParts{
		Prefix:            prefix,
		Suffix:            suffix,
		HasWitness:        in.HasWitness,
		WitnessCommitment: in.WitnessCommitment,
	}
}

func buildOutputs(in SynthesizedCoinbaseInput) [][]byte {
	var outputs [][]byte

	if len(in.PayoutScript) > 0 {
		value := Subsidy(in.Height) + in.Fees
		var valBuf [8]byte
		binary.LittleEndian.PutUint64(valBuf[:], value)

		out := append([]byte{}, valBuf[:]...)
		out = append(out, util.WriteScriptLen(len(in.PayoutScript))...)
		out = append(out, in.PayoutScript...)
		outputs = append(outputs, out)
	}

	if in.HasWitness {
		commitScript := WitnessCommitmentScript(in.WitnessCommitment)
		var zeroVal [8]byte
		out := append([]byte{}, zeroVal[:]...)
		out = append(out, util.WriteScriptLen(len(commitScript))...)
		out = append(out, commitScript...)
		outputs = append(outputs, out)
	}

	return outputs
}
