// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package orders implements the packed on-ledger representation of delayed
// orders and the append-only queue they live in. Four order variants share
// one fixed-width layout; amounts that tolerate reduced precision are
// stored in a 32-bit floating encoding that fails loudly instead of
// rounding. Queue ids are assigned from a single gap-free sequence while
// settlement pointers advance independently per order kind, so one stuck
// kind never blocks another.
package orders

import (
	"errors"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

// Kind tags an order variant.
type Kind uint8

const (
	KindNone Kind = iota
	KindAddLiquidity
	KindRemoveLiquidity
	KindSell
	KindBuy
)

func (k Kind) String() string {
	switch k {
	case KindAddLiquidity:
		return "add-liquidity"
	case KindRemoveLiquidity:
		return "remove-liquidity"
	case KindSell:
		return "sell"
	case KindBuy:
		return "buy"
	default:
		return "none"
	}
}

// Flags carry per-order booleans packed next to the kind tag.
type Flags uint8

const (
	// FlagInverted swaps the token roles of a sell or buy order.
	FlagInverted Flags = 1 << iota
	// FlagSwapOnDeposit lets an add-liquidity order swap part of one
	// amount to match the pool ratio.
	FlagSwapOnDeposit
	// FlagUnwrapNative pays the beneficiary in native coin instead of the
	// wrapped token.
	FlagUnwrapNative
)

// QueueIndex identifies one of the six per-kind FIFOs. Sell and buy orders
// with swapped token roles settle through their own queues.
type QueueIndex uint8

const (
	QueueAddLiquidity QueueIndex = iota
	QueueRemoveLiquidity
	QueueSell
	QueueSellInverted
	QueueBuy
	QueueBuyInverted

	NumQueues
)

// QueueFor maps a kind and its flags onto the FIFO it settles through.
func QueueFor(kind Kind, flags Flags) (QueueIndex, error) {
	inverted := flags&FlagInverted != 0
	switch kind {
	case KindAddLiquidity:
		return QueueAddLiquidity, nil
	case KindRemoveLiquidity:
		return QueueRemoveLiquidity, nil
	case KindSell:
		if inverted {
			return QueueSellInverted, nil
		}
		return QueueSell, nil
	case KindBuy:
		if inverted {
			return QueueBuyInverted, nil
		}
		return QueueBuy, nil
	default:
		return 0, ErrUnknownOrderKind
	}
}

// Status is the stored terminal/live marker of an order. The time-derived
// waiting/ready distinction is computed by the caller, not stored.
type Status uint8

const (
	StatusNone Status = iota
	StatusEnqueued
	StatusExecutedSucceeded
	StatusExecutedFailed
	StatusCanceled
)

// Terminal reports whether the order can no longer change outcome.
func (s Status) Terminal() bool {
	switch s {
	case StatusExecutedSucceeded, StatusExecutedFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Refund-pending leg bits, stored beside a terminal status when a refund
// transfer could not be delivered. Legs retry independently.
const (
	RefundPendingToken0 uint8 = 1 << iota
	RefundPendingToken1
	RefundPendingFee
)

// Refund leg indices for the per-leg amount slots.
const (
	RefundLegToken0 uint8 = iota
	RefundLegToken1
	RefundLegFee
)

// Order is the decoded form of a queued request. Variant field use:
//
//	AddLiquidity:    Value0/Value1 = desired amounts,
//	                 PriceLo/PriceHi = min/max swap-price band (0,0 = none)
//	RemoveLiquidity: Value0 = pool shares,
//	                 PriceLo/PriceHi = minimum out per token
//	Sell:            Value0 = amount in, Value1 = minimum amount out
//	Buy:             Value0 = maximum amount in, Value1 = exact amount out
type Order struct {
	ID                  uint64
	Kind                Kind
	Flags               Flags
	GasLimit            uint64
	GasPrice            *uint256.Int
	ValidAfterTimestamp uint64
	To                  common.Address
	Token0              common.Address
	Token1              common.Address
	Value0              *uint256.Int
	Value1              *uint256.Int
	PriceLo             *uint256.Int
	PriceHi             *uint256.Int

	// Oracle snapshot captured at submission, the slippage baseline.
	PriceAccumulator  *uint256.Int
	SnapshotTimestamp uint64
}

// Queue returns the FIFO this order settles through.
func (o *Order) Queue() (QueueIndex, error) {
	return QueueFor(o.Kind, o.Flags)
}

// Inverted reports whether the token roles are swapped.
func (o *Order) Inverted() bool {
	return o.Flags&FlagInverted != 0
}

// Errors - codec
var (
	ErrPrecisionLoss    = errors.New("value cannot be encoded without precision loss")
	ErrUnknownOrderKind = errors.New("unknown order kind")
	ErrMalformedOrder   = errors.New("malformed packed order")
	ErrGasLimitOverflow = errors.New("gas limit exceeds encodable range")
	ErrGasPriceOverflow = errors.New("gas price exceeds encodable range")
)

// Errors - queue
var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrNotBeneficiary  = errors.New("caller is not the order beneficiary")
	ErrOrderNotSettled = errors.New("order has not reached a terminal state")
	ErrOrderLive       = errors.New("order still inside the live window")
	ErrRefundPending   = errors.New("order has an undelivered refund")
)
