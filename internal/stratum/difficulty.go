package stratum

import (
	"math/big"

	"github.com/arejula27/cuda-work-coordinator/pkg/util"
)

// unitDiffNbits is Bitcoin's difficulty-1 target in compact form.
const unitDiffNbits = 0x1d00ffff

// CompactFromDifficulty converts a Stratum mining.set_difficulty value
// into a compact nbits such that decode(nbits)*d ≈ decode(unitDiffNbits).
// This must perform the real conversion — a placeholder that ignores d is
// not acceptable (see spec §9 open questions).
func CompactFromDifficulty(d float64) uint32 {
	if d <= 0 {
		return unitDiffNbits
	}

	unitTarget := util.CompactToTarget(unitDiffNbits)
	unitFloat := new(big.Float).SetInt(unitTarget)
	target := new(big.Float).Quo(unitFloat, big.NewFloat(d))

	rounded, _ := target.Int(nil)
	if rounded.Sign() == 0 {
		rounded.SetInt64(1)
	}
	return util.TargetToCompact(rounded)
}
