// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package delay

import (
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/twapdelay/contract"
	"github.com/luxfi/twapdelay/orders"
)

const bpsDenominator = 10_000

// Execute settles a batch of queued orders. Only an allow-listed executor
// may call. Every order must be time-ready and the oldest live member of
// its kind queue; an order that fails its own settlement (price guard,
// pool failure, transfer failure) is recorded as failed and refunded, but
// a batch that is malformed as a whole fails entirely.
func (e *Engine) Execute(env Env, db contract.StateDB, ids []uint64) error {
	if !e.IsBot(db, env.Caller) {
		return ErrNotExecutor
	}
	if err := e.lock(); err != nil {
		return err
	}
	defer e.unlock()
	if len(ids) == 0 {
		return ErrInvalidInput
	}

	// Validate readiness up front so a half-settled batch cannot happen
	// because of a stale tail entry.
	for _, id := range ids {
		o, err := e.queue.Peek(db, id)
		if err != nil {
			return err
		}
		if e.queue.Status(db, id).Terminal() {
			return ErrOrderTerminal
		}
		if env.Timestamp < o.ValidAfterTimestamp {
			return ErrOrderNotReady
		}
	}

	var totalGasUsed uint64
	for _, id := range ids {
		gasUsed, err := e.settleOne(env, db, id)
		if err != nil {
			return err
		}
		totalGasUsed += gasUsed
	}
	e.updateGasPrice(db, env.GasPrice, totalGasUsed)
	return nil
}

// settleOne processes one order: FIFO-head check, provisional failure
// marker, settlement attempt, refund on failure, fee accounting. The
// error return is reserved for batch-level faults; a settlement failure
// is an outcome, not an error.
func (e *Engine) settleOne(env Env, db contract.StateDB, id uint64) (uint64, error) {
	o, err := e.queue.Peek(db, id)
	if err != nil {
		return 0, err
	}
	qi, err := o.Queue()
	if err != nil {
		return 0, err
	}
	if head, ok := e.queue.NextPending(db, qi); !ok || head != id {
		return 0, ErrNotQueueHead
	}
	pair := PairKey{Token0: o.Token0, Token1: o.Token1}
	entry, err := e.pool(pair)
	if err != nil {
		return 0, err
	}

	// The pointer advances and a failed status lands before any external
	// call, so a collaborator calling back in cannot settle this order
	// twice or observe it as live.
	e.queue.MarkProcessed(db, qi, id)
	e.queue.SetStatus(db, id, orders.StatusExecutedFailed)

	settleErr := e.settle(db, entry, pair, o)
	if settleErr == nil {
		e.queue.SetStatus(db, id, orders.StatusExecutedSucceeded)
	} else {
		e.returnDeposit(db, entry, o)
	}

	gasUsed := GasPerOrder + e.TransferGasCost(db, o.Token0) + e.TransferGasCost(db, o.Token1)
	if gasUsed > o.GasLimit {
		gasUsed = o.GasLimit
	}
	prepaid := new(uint256.Int).Mul(o.GasPrice, uint256.NewInt(o.GasLimit))
	fee := new(uint256.Int).Mul(o.GasPrice, uint256.NewInt(gasUsed))
	if err := e.payNative(db, env.Caller, fee); err != nil {
		return 0, err
	}
	excess := new(uint256.Int).Sub(prepaid, fee)
	if err := e.payNative(db, o.To, excess); err != nil {
		e.recordPendingRefund(db, o.ID, orders.RefundPendingFee, orders.RefundLegFee, excess)
	}

	e.emit(SettledEvent{
		ID:        id,
		Success:   settleErr == nil,
		FeeRefund: fee,
		FeeExcess: excess,
		Timestamp: env.Timestamp,
	})
	return gasUsed, nil
}

// settle runs the kind-specific settlement against the pool. Any error
// means the order failed and its escrow must be returned.
func (e *Engine) settle(db contract.StateDB, entry *PoolEntry, pair PairKey, o *orders.Order) error {
	switch o.Kind {
	case orders.KindAddLiquidity:
		if !o.PriceLo.IsZero() || !o.PriceHi.IsZero() {
			avg, err := entry.Oracle.AveragePrice(db, o.PriceAccumulator, o.SnapshotTimestamp)
			if err != nil {
				return err
			}
			if avg.Lt(o.PriceLo) || (!o.PriceHi.IsZero() && avg.Gt(o.PriceHi)) {
				return ErrPriceOutsideBounds
			}
		}
		_, err := entry.Pool.Mint(db, o.To, o.Value0, o.Value1, o.Flags&orders.FlagSwapOnDeposit != 0)
		return err

	case orders.KindRemoveLiquidity:
		_, _, err := entry.Pool.Burn(db, o.To, o.Value0, o.PriceLo, o.PriceHi)
		return err

	case orders.KindSell:
		if err := e.checkTolerance(db, entry, pair, o); err != nil {
			return err
		}
		_, err := entry.Pool.Swap(db, !o.Inverted(), o.Value0, o.Value1, o.To)
		return err

	case orders.KindBuy:
		if err := e.checkTolerance(db, entry, pair, o); err != nil {
			return err
		}
		used, err := entry.Pool.SwapExactOut(db, !o.Inverted(), o.Value1, o.Value0, o.To)
		if err != nil {
			return err
		}
		// Return the unconsumed part of the escrowed maximum input.
		unused := new(uint256.Int).Sub(o.Value0, used)
		tokenIn, adapter, leg := e.inputLeg(entry, o)
		if err := e.safeTransfer(db, tokenIn, adapter, o.To, unused); err != nil {
			e.recordPendingRefund(db, o.ID, legBit(leg), leg, unused)
		}
		return nil

	default:
		return orders.ErrUnknownOrderKind
	}
}

// checkTolerance enforces the swap price guard: the spot price at
// settlement must sit within the configured tolerance band around the
// average price since submission.
func (e *Engine) checkTolerance(db contract.StateDB, entry *PoolEntry, pair PairKey, o *orders.Order) error {
	avg, err := entry.Oracle.AveragePrice(db, o.PriceAccumulator, o.SnapshotTimestamp)
	if err != nil {
		return err
	}
	tol := e.Tolerance(db, pair)
	lo := new(uint256.Int).Mul(avg, uint256.NewInt(bpsDenominator-tol))
	lo.Div(lo, uint256.NewInt(bpsDenominator))
	hi := new(uint256.Int).Mul(avg, uint256.NewInt(bpsDenominator+tol))
	hi.Div(hi, uint256.NewInt(bpsDenominator))

	spot := entry.Oracle.SpotPrice(db)
	if spot.Lt(lo) || spot.Gt(hi) {
		return ErrPriceOutsideBounds
	}
	return nil
}

// inputLeg resolves the escrowed input side of a swap order.
func (e *Engine) inputLeg(entry *PoolEntry, o *orders.Order) (common.Address, Token, uint8) {
	if o.Inverted() {
		return o.Token1, entry.Token1, orders.RefundLegToken1
	}
	return o.Token0, entry.Token0, orders.RefundLegToken0
}

func legBit(leg uint8) uint8 { return 1 << leg }

func (e *Engine) recordPendingRefund(db contract.StateDB, id uint64, bits uint8, leg uint8, amount *uint256.Int) {
	e.queue.SetRefundPending(db, id, e.queue.RefundPending(db, id)|bits)
	e.queue.SetRefundAmount(db, id, leg, amount)
}

// returnDeposit sends the escrowed funds of a failed or canceled order
// back to the beneficiary. A leg whose transfer fails is recorded as
// pending so it can be retried; settlement never aborts on a stubborn
// token.
func (e *Engine) returnDeposit(db contract.StateDB, entry *PoolEntry, o *orders.Order) {
	refundLeg := func(token common.Address, adapter Token, leg uint8, amount *uint256.Int) {
		if amount == nil || amount.IsZero() {
			return
		}
		if err := e.safeTransfer(db, token, adapter, o.To, amount); err != nil {
			e.recordPendingRefund(db, o.ID, legBit(leg), leg, amount)
		}
	}

	switch o.Kind {
	case orders.KindAddLiquidity:
		refundLeg(o.Token0, entry.Token0, orders.RefundLegToken0, o.Value0)
		refundLeg(o.Token1, entry.Token1, orders.RefundLegToken1, o.Value1)
	case orders.KindRemoveLiquidity:
		refundLeg(entry.Address, entry.Shares, orders.RefundLegToken0, o.Value0)
	case orders.KindSell, orders.KindBuy:
		token, adapter, leg := e.inputLeg(entry, o)
		refundLeg(token, adapter, leg, o.Value0)
	}
}

// Cancel voids an order that stayed unsettled long past its validity
// timestamp and refunds its escrow plus the full fee prepayment. Anyone
// may cancel; the refund always goes to the order's beneficiary.
func (e *Engine) Cancel(env Env, db contract.StateDB, id uint64) error {
	if err := e.lock(); err != nil {
		return err
	}
	defer e.unlock()

	o, err := e.queue.Peek(db, id)
	if err != nil {
		return err
	}
	if e.queue.Status(db, id) != orders.StatusEnqueued {
		return ErrOrderTerminal
	}
	if env.Timestamp <= o.ValidAfterTimestamp+CancelWindow {
		return ErrCancelTooEarly
	}
	pair := PairKey{Token0: o.Token0, Token1: o.Token1}
	entry, err := e.pool(pair)
	if err != nil {
		return err
	}

	// Terminal first. The order may sit mid-queue; the settlement
	// pointer skips it once everything older has been processed.
	e.queue.SetStatus(db, id, orders.StatusCanceled)

	e.returnDeposit(db, entry, o)
	prepaid := new(uint256.Int).Mul(o.GasPrice, uint256.NewInt(o.GasLimit))
	if err := e.payNative(db, o.To, prepaid); err != nil {
		e.recordPendingRefund(db, id, orders.RefundPendingFee, orders.RefundLegFee, prepaid)
	}

	e.emit(CanceledEvent{
		ID:            id,
		RefundPending: e.queue.RefundPending(db, id),
		Timestamp:     env.Timestamp,
	})
	return nil
}

// RetryRefund retries the undelivered refund legs of a settled order.
// Anyone may call; funds only ever move to the order's beneficiary. Legs
// clear independently, so one stubborn token does not hold the others
// hostage.
func (e *Engine) RetryRefund(env Env, db contract.StateDB, id uint64) error {
	if err := e.lock(); err != nil {
		return err
	}
	defer e.unlock()

	o, err := e.queue.Load(db, id)
	if err != nil {
		return err
	}
	bits := e.queue.RefundPending(db, id)
	if bits == 0 {
		return ErrNoPendingRefund
	}
	pair := PairKey{Token0: o.Token0, Token1: o.Token1}
	entry, err := e.pool(pair)
	if err != nil {
		return err
	}

	var cleared uint8
	retryLeg := func(bit, leg uint8, token common.Address, adapter Token) {
		if bits&bit == 0 {
			return
		}
		amount := e.queue.RefundAmount(db, id, leg)
		if err := e.safeTransfer(db, token, adapter, o.To, amount); err != nil {
			return
		}
		e.queue.SetRefundAmount(db, id, leg, uint256.NewInt(0))
		bits &^= bit
		cleared |= bit
	}

	if o.Kind == orders.KindRemoveLiquidity {
		retryLeg(orders.RefundPendingToken0, orders.RefundLegToken0, entry.Address, entry.Shares)
	} else {
		retryLeg(orders.RefundPendingToken0, orders.RefundLegToken0, o.Token0, entry.Token0)
	}
	retryLeg(orders.RefundPendingToken1, orders.RefundLegToken1, o.Token1, entry.Token1)
	retryLeg(orders.RefundPendingFee, orders.RefundLegFee, common.Address{}, nil)

	e.queue.SetRefundPending(db, id, bits)
	e.emit(RefundRetriedEvent{ID: id, Cleared: cleared, Timestamp: env.Timestamp})
	return nil
}
