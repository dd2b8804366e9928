// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package delay

import (
	"github.com/holiman/uint256"

	"github.com/luxfi/twapdelay/contract"
)

// NextGasPrice blends the previous estimate with an observed fee rate.
// The observation's weight is the settlement's gas use, capped by
// maxImpact, relative to the inertia constant. The result is truncated
// to the GasPriceStep grid; the stored estimate therefore never carries
// sub-step noise. Pure: same inputs, same output.
func NextGasPrice(prev, observed *uint256.Int, gasUsed, inertia, maxImpact uint64) *uint256.Int {
	scale := gasUsed
	if scale > maxImpact {
		scale = maxImpact
	}
	// inertia-scale must not underflow whatever the stored parameters say.
	if scale > inertia {
		scale = inertia
	}

	keep := new(uint256.Int).Mul(prev, uint256.NewInt(inertia-scale))
	take := new(uint256.Int).Mul(observed, uint256.NewInt(scale))
	next := keep.Add(keep, take)
	next.Div(next, uint256.NewInt(inertia))

	step := uint256.NewInt(GasPriceStep)
	rem := new(uint256.Int).Mod(next, step)
	return next.Sub(next, rem)
}

// updateGasPrice folds one settlement call's observed fee rate into the
// stored estimate. Called only from successful Execute invocations.
func (e *Engine) updateGasPrice(db contract.StateDB, observed *uint256.Int, gasUsed uint64) {
	next := NextGasPrice(
		e.CurrentGasPrice(db),
		observed,
		gasUsed,
		e.GasPriceInertia(db),
		e.MaxGasPriceImpact(db),
	)
	e.storeGasPrice(db, next)
}
