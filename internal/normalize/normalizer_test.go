package normalize

import (
	"testing"

	"github.com/arejula27/cuda-work-coordinator/internal/primitives"
)

func TestNormalizeScenarioS1(t *testing.T) {
	var prevHash, merkleRoot [32]byte
	for i := 0; i < 32; i++ {
		prevHash[i] = byte(i)
		merkleRoot[i] = byte(31 - i)
	}

	raw := RawJobInputs{
		SourceID:        0,
		WorkID:          1001,
		Version:         0x20000000,
		Nbits:           0x1d00ffff,
		Ntime:           0x05f5e100,
		ShareNbits:      0x1e00ffff,
		Extranonce2Size: 4,
		CleanJobs:       true,
		PrevHashBE:      prevHash,
		MerkleRootBE:    merkleRoot,
	}
	raw.HeaderFirst64 = BuildHeaderFirst64(raw.Version, raw.PrevHashBE, raw.MerkleRootBE)

	item, _, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if item.WorkID != 1001 {
		t.Fatalf("work_id = %d, want 1001", item.WorkID)
	}
	if item.SourceID != 0 {
		t.Fatalf("source_id = %d, want 0", item.SourceID)
	}
	if item.Extranonce2Size != 4 {
		t.Fatalf("extranonce2_size = %d, want 4", item.Extranonce2Size)
	}
	if !item.CleanJobs {
		t.Fatalf("clean_jobs should be true")
	}

	wantShare := primitives.CompactToTargetLEWords(0x1e00ffff)
	wantBlock := primitives.CompactToTargetLEWords(0x1d00ffff)
	if item.ShareTargetLE != wantShare {
		t.Fatalf("share_target_le mismatch")
	}
	if item.BlockTargetLE != wantBlock {
		t.Fatalf("block_target_le mismatch")
	}
	if item.ShareTargetLE == item.BlockTargetLE {
		t.Fatalf("share and block targets should differ for this input")
	}
}

func TestNormalizeShareAtBlockTargetWhenShareNbitsZero(t *testing.T) {
	raw := RawJobInputs{
		WorkID: 1,
		Nbits:  0x1d00ffff,
	}
	item, _, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if item.ShareTargetLE != item.BlockTargetLE {
		t.Fatalf("share target should equal block target when share_nbits is unset")
	}
}

func TestNormalizeAppliesNtimeCaps(t *testing.T) {
	raw := RawJobInputs{
		WorkID:   1,
		Nbits:    0x1d00ffff,
		Ntime:    100,
		NtimeMin: 200,
		NtimeMax: 300,
	}
	item, _, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if item.Ntime < item.NtimeMin || item.Ntime > item.NtimeMax {
		t.Fatalf("ntime %d outside caps [%d,%d]", item.Ntime, item.NtimeMin, item.NtimeMax)
	}
}

func TestNormalizeMissingNbitsFails(t *testing.T) {
	_, _, err := Normalize(RawJobInputs{WorkID: 1})
	if err != ErrNoJob {
		t.Fatalf("expected ErrNoJob, got %v", err)
	}
}
