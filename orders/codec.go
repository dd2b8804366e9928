// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orders

import (
	"encoding/binary"
	"math"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// NumWords is the fixed storage footprint of a packed order. Every
// variant occupies exactly this many words; the layout never depends on
// field values.
const NumWords = 6

// Packed word layout:
//
//	word 0: kind(1) flags(1) gasLimit(4) gasPrice(8) validAfter(8)
//	        value0(f32,4) value1(f32,4) zero(2)
//	word 1: to(20) priceLo(f32,4) priceHi(f32,4) zero(4)
//	word 2: token0, left-padded
//	word 3: token1, left-padded
//	word 4: price accumulator snapshot, full width
//	word 5: snapshot timestamp, low 8 bytes
const (
	offKind       = 0
	offFlags      = 1
	offGasLimit   = 2
	offGasPrice   = 6
	offValidAfter = 14
	offValue0     = 22
	offValue1     = 26

	offTo      = 0
	offPriceLo = 20
	offPriceHi = 24
)

// Pack encodes the order into its fixed word layout. It fails if an amount
// field cannot be represented in the 32-bit floating encoding or a gas
// field exceeds its packed width.
func Pack(o *Order) ([NumWords]common.Hash, error) {
	var words [NumWords]common.Hash

	if _, err := QueueFor(o.Kind, o.Flags); err != nil {
		return words, err
	}
	if o.GasLimit > math.MaxUint32 {
		return words, ErrGasLimitOverflow
	}
	if !o.GasPrice.IsUint64() {
		return words, ErrGasPriceOverflow
	}

	value0, err := UintToFloat32(o.Value0)
	if err != nil {
		return words, err
	}
	value1, err := UintToFloat32(o.Value1)
	if err != nil {
		return words, err
	}
	priceLo, err := UintToFloat32(o.PriceLo)
	if err != nil {
		return words, err
	}
	priceHi, err := UintToFloat32(o.PriceHi)
	if err != nil {
		return words, err
	}

	w0 := &words[0]
	w0[offKind] = byte(o.Kind)
	w0[offFlags] = byte(o.Flags)
	binary.BigEndian.PutUint32(w0[offGasLimit:], uint32(o.GasLimit))
	binary.BigEndian.PutUint64(w0[offGasPrice:], o.GasPrice.Uint64())
	binary.BigEndian.PutUint64(w0[offValidAfter:], o.ValidAfterTimestamp)
	binary.BigEndian.PutUint32(w0[offValue0:], value0)
	binary.BigEndian.PutUint32(w0[offValue1:], value1)

	w1 := &words[1]
	copy(w1[offTo:], o.To.Bytes())
	binary.BigEndian.PutUint32(w1[offPriceLo:], priceLo)
	binary.BigEndian.PutUint32(w1[offPriceHi:], priceHi)

	copy(words[2][12:], o.Token0.Bytes())
	copy(words[3][12:], o.Token1.Bytes())
	// Nil until the oracle snapshot is stamped at enqueue time; packs
	// as zero either way.
	if o.PriceAccumulator != nil {
		o.PriceAccumulator.WriteToSlice(words[4][:])
	}
	binary.BigEndian.PutUint64(words[5][24:], o.SnapshotTimestamp)

	return words, nil
}

// Unpack decodes a packed order. The id is not part of the layout and is
// left zero; callers that know it set it afterwards.
func Unpack(words [NumWords]common.Hash) (*Order, error) {
	w0 := words[0]
	kind := Kind(w0[offKind])
	flags := Flags(w0[offFlags])
	if _, err := QueueFor(kind, flags); err != nil {
		return nil, err
	}
	if w0[30] != 0 || w0[31] != 0 {
		return nil, ErrMalformedOrder
	}

	o := &Order{
		Kind:                kind,
		Flags:               flags,
		GasLimit:            uint64(binary.BigEndian.Uint32(w0[offGasLimit:])),
		GasPrice:            uint256.NewInt(binary.BigEndian.Uint64(w0[offGasPrice:])),
		ValidAfterTimestamp: binary.BigEndian.Uint64(w0[offValidAfter:]),
		Value0:              Float32ToUint(binary.BigEndian.Uint32(w0[offValue0:])),
		Value1:              Float32ToUint(binary.BigEndian.Uint32(w0[offValue1:])),
	}

	w1 := words[1]
	o.To = common.BytesToAddress(w1[offTo : offTo+20])
	o.PriceLo = Float32ToUint(binary.BigEndian.Uint32(w1[offPriceLo:]))
	o.PriceHi = Float32ToUint(binary.BigEndian.Uint32(w1[offPriceHi:]))

	o.Token0 = common.BytesToAddress(words[2][12:])
	o.Token1 = common.BytesToAddress(words[3][12:])
	o.PriceAccumulator = new(uint256.Int).SetBytes(words[4][:])
	o.SnapshotTimestamp = binary.BigEndian.Uint64(words[5][24:])

	return o, nil
}

// Digest hashes the packed words. The digest is retained after storage
// reclamation so an order stays identifiable off-ledger forever.
func Digest(words [NumWords]common.Hash) common.Hash {
	h := blake3.New()
	for i := range words {
		h.Write(words[i][:])
	}
	var out common.Hash
	h.Digest().Read(out[:])
	return out
}
