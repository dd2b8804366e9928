// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orders

import "github.com/holiman/uint256"

// The lossy 32-bit floating encoding: a 24-bit mantissa and an 8-bit
// power-of-two exponent, packed as mantissa<<8 | exponent. It shrinks a
// 256-bit amount to one storage word quarter, refusing (rather than
// rounding) any value whose low bits would be discarded.
const (
	mantissaBits = 24
	maxMantissa  = 1<<mantissaBits - 1
)

// UintToFloat32 encodes v, failing with ErrPrecisionLoss if v has more
// than 24 significant bits. The smallest exponent that fits the mantissa
// is chosen, so a successful encoding is canonical.
func UintToFloat32(v *uint256.Int) (uint32, error) {
	if v.IsZero() {
		return 0, nil
	}
	exponent := 0
	if bl := v.BitLen(); bl > mantissaBits {
		exponent = bl - mantissaBits
	}
	mantissa := new(uint256.Int).Rsh(v, uint(exponent))
	if restored := new(uint256.Int).Lsh(mantissa, uint(exponent)); !restored.Eq(v) {
		return 0, ErrPrecisionLoss
	}
	return uint32(mantissa.Uint64())<<8 | uint32(exponent), nil
}

// Float32ToUint decodes an encoded value: mantissa << exponent. It is the
// exact inverse of a successful UintToFloat32.
func Float32ToUint(f uint32) *uint256.Int {
	v := uint256.NewInt(uint64(f >> 8))
	return v.Lsh(v, uint(f&0xff))
}
