package policy

import (
	"math/big"
)

// CheckDeviation compares primary against fallback in basis points of their mean.
// A nil fallback means none is configured and always passes.
// If either side is invalid the deviation is undefined and never within threshold.
func CheckDeviation(primary Observation, fallback *Observation, maxBps uint64) Deviation {
	if fallback == nil {
		return Deviation{WithinThreshold: true, DeviationBps: 0}
	}
	if !primary.Valid || !fallback.Valid || primary.Value == nil || fallback.Value == nil {
		return Deviation{WithinThreshold: false, DeviationBps: DeviationUndefined}
	}

	bps := DeviationBps(primary.Value, fallback.Value)
	return Deviation{
		WithinThreshold: bps <= maxBps,
		DeviationBps:    bps,
	}
}

// DeviationBps computes floor(|a-b| * 10000 / floor((a+b)/2)).
// Both values must be positive; otherwise DeviationUndefined is returned.
func DeviationBps(a, b *big.Int) uint64 {
	if a.Sign() <= 0 || b.Sign() <= 0 {
		return DeviationUndefined
	}

	diff := new(big.Int).Sub(a, b)
	diff.Abs(diff)

	avg := new(big.Int).Add(a, b)
	avg.Quo(avg, big.NewInt(2))

	dev := diff.Mul(diff, big.NewInt(BasisPoints))
	dev.Quo(dev, avg)

	if !dev.IsUint64() {
		return DeviationUndefined
	}
	return dev.Uint64()
}
