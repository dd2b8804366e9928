// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package delay

import (
	"github.com/luxfi/twapdelay/contract"
	"github.com/luxfi/twapdelay/orders"
)

// OrderStatus is the externally visible lifecycle state of an order. It
// refines the stored marker with the time-derived waiting/ready split and
// with undelivered-refund information.
type OrderStatus uint8

const (
	OrderNonExistent OrderStatus = iota
	OrderEnqueuedWaiting
	OrderEnqueuedReady
	OrderExecutedSucceeded
	OrderExecutedFailed
	OrderCanceled
	// OrderRefundFailed marks a terminal order with at least one
	// undelivered refund leg.
	OrderRefundFailed
	// OrderRefundAndFeeFailed marks undelivered token and fee legs both.
	OrderRefundAndFeeFailed
)

func (s OrderStatus) String() string {
	switch s {
	case OrderEnqueuedWaiting:
		return "enqueued-waiting"
	case OrderEnqueuedReady:
		return "enqueued-ready"
	case OrderExecutedSucceeded:
		return "executed-succeeded"
	case OrderExecutedFailed:
		return "executed-failed"
	case OrderCanceled:
		return "canceled"
	case OrderRefundFailed:
		return "refund-failed"
	case OrderRefundAndFeeFailed:
		return "refund-and-fee-failed"
	default:
		return "non-existent"
	}
}

// OrderStatus derives the visible status of an order at the given time.
// Ids never assigned and ids whose storage was reclaimed both report
// non-existent; the retained digest stays queryable for reclaimed orders.
func (e *Engine) OrderStatus(db contract.StateDB, id uint64, now uint64) OrderStatus {
	if id == 0 || id > e.queue.NewestID(db) {
		return OrderNonExistent
	}
	stored := e.queue.Status(db, id)
	if stored == orders.StatusNone {
		return OrderNonExistent
	}

	if bits := e.queue.RefundPending(db, id); bits != 0 {
		tokenLegs := bits & (orders.RefundPendingToken0 | orders.RefundPendingToken1)
		if tokenLegs != 0 && bits&orders.RefundPendingFee != 0 {
			return OrderRefundAndFeeFailed
		}
		return OrderRefundFailed
	}

	switch stored {
	case orders.StatusExecutedSucceeded:
		return OrderExecutedSucceeded
	case orders.StatusExecutedFailed:
		return OrderExecutedFailed
	case orders.StatusCanceled:
		return OrderCanceled
	}

	o, err := e.queue.Load(db, id)
	if err != nil {
		return OrderNonExistent
	}
	if now < o.ValidAfterTimestamp {
		return OrderEnqueuedWaiting
	}
	return OrderEnqueuedReady
}
