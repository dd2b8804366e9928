// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orders

import (
	"encoding/binary"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"

	"github.com/luxfi/twapdelay/contract"
)

// Storage key prefixes for queue state
var (
	newestIDPrefix   = []byte("ordq/newest")
	lastProcPrefix   = []byte("ordq/lastproc")
	headPosPrefix    = []byte("ordq/head")
	tailPosPrefix    = []byte("ordq/tail")
	orderWordPrefix  = []byte("ordq/data")
	orderHashPrefix  = []byte("ordq/hash")
	statusPrefix     = []byte("ordq/status")
	refundBitsPrefix = []byte("ordq/refund")
	refundAmtPrefix  = []byte("ordq/refamt")
	posIDPrefix      = []byte("ordq/pos")
)

// Queue is the append-only order store. All state lives in ledger storage
// slots under the owning precompile's address, so one top-level call sees
// and mutates it atomically. Ids come from a single gap-free sequence;
// each of the six kind FIFOs keeps its own processed pointer.
type Queue struct {
	addr common.Address
}

// NewQueue returns a queue rooted at the precompile account that owns the
// storage slots.
func NewQueue(addr common.Address) *Queue {
	return &Queue{addr: addr}
}

func (q *Queue) slot(prefix []byte, args ...uint64) common.Hash {
	h := blake3.New()
	h.Write(prefix)
	var b [8]byte
	for _, a := range args {
		binary.BigEndian.PutUint64(b[:], a)
		h.Write(b[:])
	}
	var out common.Hash
	h.Digest().Read(out[:])
	return out
}

func (q *Queue) getUint64(db contract.StateDB, slot common.Hash) uint64 {
	v := db.GetState(q.addr, slot)
	return binary.BigEndian.Uint64(v[24:])
}

func (q *Queue) setUint64(db contract.StateDB, slot common.Hash, v uint64) {
	var word common.Hash
	binary.BigEndian.PutUint64(word[24:], v)
	db.SetState(q.addr, slot, word)
}

// NewestID returns the last assigned order id, zero before any enqueue.
func (q *Queue) NewestID(db contract.StateDB) uint64 {
	return q.getUint64(db, q.slot(newestIDPrefix))
}

// LastProcessedID returns the highest id of the given kind queue that was
// settled or skipped past.
func (q *Queue) LastProcessedID(db contract.StateDB, qi QueueIndex) uint64 {
	return q.getUint64(db, q.slot(lastProcPrefix, uint64(qi)))
}

// Enqueue packs the order, assigns the next id and appends it to its kind
// FIFO. The id and the retained digest are returned.
func (q *Queue) Enqueue(db contract.StateDB, o *Order) (uint64, common.Hash, error) {
	qi, err := o.Queue()
	if err != nil {
		return 0, common.Hash{}, err
	}
	words, err := Pack(o)
	if err != nil {
		return 0, common.Hash{}, err
	}

	id := q.NewestID(db) + 1
	o.ID = id

	for i := 0; i < NumWords; i++ {
		db.SetState(q.addr, q.slot(orderWordPrefix, id, uint64(i)), words[i])
	}
	digest := Digest(words)
	db.SetState(q.addr, q.slot(orderHashPrefix, id), digest)
	q.SetStatus(db, id, StatusEnqueued)

	tail := q.getUint64(db, q.slot(tailPosPrefix, uint64(qi))) + 1
	q.setUint64(db, q.slot(posIDPrefix, uint64(qi), tail), id)
	q.setUint64(db, q.slot(tailPosPrefix, uint64(qi)), tail)
	q.setUint64(db, q.slot(newestIDPrefix), id)

	return id, digest, nil
}

func (q *Queue) readWords(db contract.StateDB, id uint64) ([NumWords]common.Hash, bool) {
	var words [NumWords]common.Hash
	for i := 0; i < NumWords; i++ {
		words[i] = db.GetState(q.addr, q.slot(orderWordPrefix, id, uint64(i)))
	}
	// A live order always has a nonzero kind byte in word 0.
	return words, words[0] != (common.Hash{})
}

// Load decodes an order by id without applying the live-window rule. It
// fails only for unassigned or reclaimed ids. Refund retries use this
// after the settlement pointer has moved past the order.
func (q *Queue) Load(db contract.StateDB, id uint64) (*Order, error) {
	if id == 0 || id > q.NewestID(db) {
		return nil, ErrOrderNotFound
	}
	words, ok := q.readWords(db, id)
	if !ok {
		return nil, ErrOrderNotFound
	}
	o, err := Unpack(words)
	if err != nil {
		return nil, err
	}
	o.ID = id
	return o, nil
}

// Peek returns the order if it is inside the live window of its kind
// queue: assigned, not reclaimed, and not yet passed by the settlement
// pointer.
func (q *Queue) Peek(db contract.StateDB, id uint64) (*Order, error) {
	o, err := q.Load(db, id)
	if err != nil {
		return nil, err
	}
	qi, err := o.Queue()
	if err != nil {
		return nil, err
	}
	if id <= q.LastProcessedID(db, qi) {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// Status returns the stored lifecycle marker for an id.
func (q *Queue) Status(db contract.StateDB, id uint64) Status {
	return Status(q.getUint64(db, q.slot(statusPrefix, id)))
}

// SetStatus records the lifecycle marker for an id.
func (q *Queue) SetStatus(db contract.StateDB, id uint64, st Status) {
	q.setUint64(db, q.slot(statusPrefix, id), uint64(st))
}

// RefundPending returns the refund legs still owed for a terminal order.
func (q *Queue) RefundPending(db contract.StateDB, id uint64) uint8 {
	return uint8(q.getUint64(db, q.slot(refundBitsPrefix, id)))
}

// SetRefundPending records which refund legs remain undelivered.
func (q *Queue) SetRefundPending(db contract.StateDB, id uint64, legs uint8) {
	q.setUint64(db, q.slot(refundBitsPrefix, id), uint64(legs))
}

// RefundAmount returns the stored amount of one pending refund leg.
func (q *Queue) RefundAmount(db contract.StateDB, id uint64, leg uint8) *uint256.Int {
	val := db.GetState(q.addr, q.slot(refundAmtPrefix, id, uint64(leg)))
	return new(uint256.Int).SetBytes(val[:])
}

// SetRefundAmount records the amount owed on one refund leg.
func (q *Queue) SetRefundAmount(db contract.StateDB, id uint64, leg uint8, amount *uint256.Int) {
	var val common.Hash
	amount.WriteToSlice(val[:])
	db.SetState(q.addr, q.slot(refundAmtPrefix, id, uint64(leg)), val)
}

// DigestOf returns the retained packed-order digest, which outlives
// reclamation.
func (q *Queue) DigestOf(db contract.StateDB, id uint64) common.Hash {
	return db.GetState(q.addr, q.slot(orderHashPrefix, id))
}

// NextPending returns the oldest live order id of a kind queue, advancing
// the processed pointer past orders that already reached a terminal state
// (canceled mid-queue). Returns false if the queue has no live orders.
func (q *Queue) NextPending(db contract.StateDB, qi QueueIndex) (uint64, bool) {
	head := q.getUint64(db, q.slot(headPosPrefix, uint64(qi)))
	tail := q.getUint64(db, q.slot(tailPosPrefix, uint64(qi)))
	for pos := head + 1; pos <= tail; pos++ {
		id := q.getUint64(db, q.slot(posIDPrefix, uint64(qi), pos))
		if q.Status(db, id).Terminal() {
			q.setUint64(db, q.slot(headPosPrefix, uint64(qi)), pos)
			q.setUint64(db, q.slot(lastProcPrefix, uint64(qi)), id)
			continue
		}
		return id, true
	}
	return 0, false
}

// MarkProcessed advances the kind queue pointer past id, which must be the
// current head returned by NextPending.
func (q *Queue) MarkProcessed(db contract.StateDB, qi QueueIndex, id uint64) {
	head := q.getUint64(db, q.slot(headPosPrefix, uint64(qi))) + 1
	q.setUint64(db, q.slot(headPosPrefix, uint64(qi)), head)
	q.setUint64(db, q.slot(lastProcPrefix, uint64(qi)), id)
}

// Forget zeroes the packed words and status of a settled order so its
// beneficiary recovers the storage rebate; a reclaimed id afterwards reads
// as never assigned, with only the digest kept for off-ledger audit.
// Idempotent. Only the beneficiary may reclaim, and only once the
// settlement pointer has passed the order and no refund leg is outstanding.
func (q *Queue) Forget(db contract.StateDB, caller common.Address, id uint64) error {
	if id == 0 || id > q.NewestID(db) {
		return ErrOrderNotFound
	}
	words, ok := q.readWords(db, id)
	if !ok {
		return nil // already reclaimed
	}
	o, err := Unpack(words)
	if err != nil {
		return err
	}
	if caller != o.To {
		return ErrNotBeneficiary
	}
	if !q.Status(db, id).Terminal() {
		return ErrOrderNotSettled
	}
	qi, err := o.Queue()
	if err != nil {
		return err
	}
	if id > q.LastProcessedID(db, qi) {
		return ErrOrderLive
	}
	if q.RefundPending(db, id) != 0 {
		return ErrRefundPending
	}
	var zero common.Hash
	for i := 0; i < NumWords; i++ {
		db.SetState(q.addr, q.slot(orderWordPrefix, id, uint64(i)), zero)
	}
	// The status slot is reclaimed with the words; a forgotten id reads
	// as never assigned. Only the digest outlives reclamation.
	db.SetState(q.addr, q.slot(statusPrefix, id), zero)
	return nil
}
