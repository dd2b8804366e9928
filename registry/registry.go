// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package registry forces registration of every stateful precompile in
// this module and documents the address scheme they live under.
//
// All Lux-native precompiles use trailing-significant 20-byte addresses:
//
//	Format: 0x0000000000000000000000000000000000PCII
//
// The address ends with the 16-bit LP number (PCII):
//
//	P  = family page (4 bits), aligned with LP-Pxxx
//	C  = chain slot  (4 bits)
//	II = item        (8 bits)
//
// This module occupies the DEX/Markets family (P=9):
//
//	LP-9016 = delayed order engine (twap-guarded settlement)
package registry

import (
	"github.com/luxfi/geth/common"

	// Force registration of the delayed order engine module.
	_ "github.com/luxfi/twapdelay/delay"
)

// PrecompileInfo describes one registered precompile for tooling.
type PrecompileInfo struct {
	Name    string
	LP      uint16
	Address string
}

// AllPrecompiles lists the precompiles this module provides.
var AllPrecompiles = []PrecompileInfo{
	{Name: "TwapDelay", LP: 0x9016, Address: "0x0000000000000000000000000000000000009016"},
}

// PrecompileAddress builds the LP-aligned address for family page [p],
// chain slot [c] and item [ii].
func PrecompileAddress(p, c, ii uint8) common.Address {
	var addr common.Address
	addr[18] = p<<4 | c
	addr[19] = ii
	return addr
}

// GetPrecompileAddress returns the address of a named precompile, the
// zero address when unknown.
func GetPrecompileAddress(name string) common.Address {
	for _, p := range AllPrecompiles {
		if p.Name == name {
			return common.HexToAddress(p.Address)
		}
	}
	return common.Address{}
}
