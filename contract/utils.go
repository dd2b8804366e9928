// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package contract

import (
	"encoding/binary"
	"errors"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

// WordSize is the width of an EVM calldata/return word.
const WordSize = 32

var (
	ErrInvalidWord = errors.New("invalid 32-byte word")
	ErrOutOfGas    = errors.New("out of gas")
)

// DeductGas subtracts the fixed cost of an operation from the gas the
// caller supplied.
func DeductGas(suppliedGas uint64, requiredGas uint64) (uint64, error) {
	if suppliedGas < requiredGas {
		return 0, ErrOutOfGas
	}
	return suppliedGas - requiredGas, nil
}

// PackAddress left-pads an address into a 32-byte word.
func PackAddress(addr common.Address) []byte {
	out := make([]byte, WordSize)
	copy(out[12:], addr.Bytes())
	return out
}

// UnpackAddress reads an address from the low 20 bytes of a word.
func UnpackAddress(word []byte) (common.Address, error) {
	if len(word) < WordSize {
		return common.Address{}, ErrInvalidWord
	}
	return common.BytesToAddress(word[12:WordSize]), nil
}

// PackUint64 big-endian encodes v into the low 8 bytes of a word.
func PackUint64(v uint64) []byte {
	out := make([]byte, WordSize)
	binary.BigEndian.PutUint64(out[24:], v)
	return out
}

// UnpackUint64 reads a uint64 from the low 8 bytes of a word. The high
// 24 bytes must be zero.
func UnpackUint64(word []byte) (uint64, error) {
	if len(word) < WordSize {
		return 0, ErrInvalidWord
	}
	for _, b := range word[:24] {
		if b != 0 {
			return 0, ErrInvalidWord
		}
	}
	return binary.BigEndian.Uint64(word[24:WordSize]), nil
}

// PackUint256 encodes v into a full word.
func PackUint256(v *uint256.Int) []byte {
	out := make([]byte, WordSize)
	v.WriteToSlice(out)
	return out
}

// UnpackUint256 reads a full word as a uint256.
func UnpackUint256(word []byte) (*uint256.Int, error) {
	if len(word) < WordSize {
		return nil, ErrInvalidWord
	}
	return new(uint256.Int).SetBytes(word[:WordSize]), nil
}

// PackBool encodes b into the last byte of a word.
func PackBool(b bool) []byte {
	out := make([]byte, WordSize)
	if b {
		out[31] = 1
	}
	return out
}
