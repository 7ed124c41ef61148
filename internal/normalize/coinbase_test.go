package normalize

import (
	"bytes"
	"strings"
	"testing"
)

func TestSubsidyHalving(t *testing.T) {
	if got := Subsidy(0); got != 50*100000000 {
		t.Fatalf("genesis subsidy = %d, want 5000000000", got)
	}
	if got := Subsidy(210000); got != 25*100000000 {
		t.Fatalf("first halving subsidy = %d, want 2500000000", got)
	}
	if got := Subsidy(210000 * 64); got != 0 {
		t.Fatalf("subsidy after 64 halvings should be zero, got %d", got)
	}
}

func TestEncodeBIP34HeightZero(t *testing.T) {
	got := EncodeBIP34Height(0)
	want := []byte{0x01, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("height 0 encoded as %x, want %x", got, want)
	}
}

func TestMinimalSynthesizedCoinbase(t *testing.T) {
	parts := SynthesizeCoinbase(SynthesizedCoinbaseInput{
		Height:          0,
		HasWitness:      true,
		Extranonce1Size: 4,
		Extranonce2Size: 4,
	})

	full := AssembleCoinbase(parts, make([]byte, 4), make([]byte, 4))
	hexStr := bytesToHex(full)

	if !strings.Contains(hexStr, "6a24aa21a9ed"+strings.Repeat("00", 32)) {
		t.Fatalf("expected witness commitment substring in coinbase hex: %s", hexStr)
	}
	if !strings.HasPrefix(hexStr, "01000000") {
		t.Fatalf("expected version prefix 01000000, got %s", hexStr[:8])
	}
	if !strings.Contains(hexStr, strings.Repeat("00", 32)+"ffffffff") {
		t.Fatalf("expected null prevout (32 zero bytes + ffffffff), got %s", hexStr)
	}
	if !strings.HasSuffix(hexStr, "00000000") {
		t.Fatalf("expected locktime suffix 00000000, got %s", hexStr)
	}
}

func TestBuildOutputsOmitsWitnessCommitmentWhenAbsent(t *testing.T) {
	outputs := buildOutputs(SynthesizedCoinbaseInput{Height: 1})
	if len(outputs) != 0 {
		t.Fatalf("expected no outputs without a payout script or witness commitment, got %d", len(outputs))
	}
}

func TestBuildOutputsIncludesWitnessCommitmentOnlyWhenPresent(t *testing.T) {
	var commitment [32]byte
	commitment[0] = 0xab

	outputs := buildOutputs(SynthesizedCoinbaseInput{Height: 1, HasWitness: true, WitnessCommitment: commitment})
	if len(outputs) != 1 {
		t.Fatalf("expected exactly one (witness-commitment) output, got %d", len(outputs))
	}
	if !bytes.Contains(outputs[0], []byte{0xab}) {
		t.Fatalf("expected output to carry the witness commitment, got %x", outputs[0])
	}
}

func bytesToHex(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0x0f]
	}
	return string(out)
}
