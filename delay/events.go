// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package delay

import (
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/twapdelay/orders"
)

// Event is one observable engine occurrence, consumed by off-ledger
// indexers. The engine keeps an append-only history per process.
type Event interface {
	eventName() string
}

// EnqueuedEvent records a successful submission, one per kind.
type EnqueuedEvent struct {
	ID         uint64
	Kind       orders.Kind
	Inverted   bool
	ValidAfter uint64
	GasPrice   *uint256.Int
	Timestamp  uint64
}

func (EnqueuedEvent) eventName() string { return "OrderEnqueued" }

// SettledEvent records one settlement outcome inside an Execute batch.
type SettledEvent struct {
	ID        uint64
	Success   bool
	FeeRefund *uint256.Int
	// FeeExcess is the unspent prepayment returned to the beneficiary.
	FeeExcess *uint256.Int
	Timestamp uint64
}

func (SettledEvent) eventName() string { return "OrderSettled" }

// CanceledEvent records a cancellation and any refund legs that could
// not be delivered.
type CanceledEvent struct {
	ID            uint64
	RefundPending uint8
	Timestamp     uint64
}

func (CanceledEvent) eventName() string { return "OrderCanceled" }

// RefundRetriedEvent records a refund retry and the legs it cleared.
type RefundRetriedEvent struct {
	ID        uint64
	Cleared   uint8
	Timestamp uint64
}

func (RefundRetriedEvent) eventName() string { return "RefundRetried" }

// ParamChangedEvent records one administrative change.
type ParamChangedEvent struct {
	Name      string
	Value     uint64
	Value2    uint64
	Addr      common.Address
	Token     common.Address
	Pair      PairKey
	Timestamp uint64
}

func (ParamChangedEvent) eventName() string { return "ParamChanged" }

// PoolRegisteredEvent records a pair being bound to its collaborators.
type PoolRegisteredEvent struct {
	Pair      PairKey
	PoolAddr  common.Address
	Timestamp uint64
}

func (PoolRegisteredEvent) eventName() string { return "PoolRegistered" }

func (e *Engine) emit(ev Event) {
	e.history = append(e.history, ev)
}

// History returns the events recorded by this engine instance, oldest
// first. The returned slice is a copy.
func (e *Engine) History() []Event {
	out := make([]Event, len(e.history))
	copy(out, e.history)
	return out
}
