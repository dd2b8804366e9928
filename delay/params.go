// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package delay

import (
	"encoding/binary"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"

	"github.com/luxfi/twapdelay/contract"
	"github.com/luxfi/twapdelay/orders"
)

// Storage key prefixes for engine parameters
var (
	ownerPrefix        = []byte("dly/owner")
	botPrefix          = []byte("dly/bot")
	delayPrefix        = []byte("dly/delay")
	inertiaPrefix      = []byte("dly/inertia")
	impactPrefix       = []byte("dly/impact")
	minGasLimitPrefix  = []byte("dly/mingas")
	maxGasLimitPrefix  = []byte("dly/maxgas")
	gasPricePrefix     = []byte("dly/gasprice")
	disabledPrefix     = []byte("dly/disabled")
	tolerancePrefix    = []byte("dly/tolerance")
	transferCostPrefix = []byte("dly/xfercost")
)

func (e *Engine) slot(prefix []byte, keys ...[]byte) common.Hash {
	h := blake3.New()
	h.Write(prefix)
	for _, k := range keys {
		h.Write(k)
	}
	var out common.Hash
	h.Digest().Read(out[:])
	return out
}

// Parameter words use byte 0 as an explicitly-set marker so a zero value
// can be distinguished from an untouched slot reporting its default.
func (e *Engine) getParam(db contract.StateDB, slot common.Hash, def uint64) uint64 {
	val := db.GetState(e.addr, slot)
	if val[0] == 0 {
		return def
	}
	return binary.BigEndian.Uint64(val[24:])
}

func (e *Engine) setParam(db contract.StateDB, slot common.Hash, v uint64) {
	var val common.Hash
	val[0] = 1
	binary.BigEndian.PutUint64(val[24:], v)
	db.SetState(e.addr, slot, val)
}

func (e *Engine) getAddressParam(db contract.StateDB, slot common.Hash) common.Address {
	val := db.GetState(e.addr, slot)
	return common.BytesToAddress(val[12:])
}

func (e *Engine) setAddressParam(db contract.StateDB, slot common.Hash, addr common.Address) {
	var val common.Hash
	copy(val[12:], addr.Bytes())
	db.SetState(e.addr, slot, val)
}

// Owner returns the administrative owner address.
func (e *Engine) Owner(db contract.StateDB) common.Address {
	return e.getAddressParam(db, e.slot(ownerPrefix))
}

// IsBot reports whether addr is an allow-listed executor.
func (e *Engine) IsBot(db contract.StateDB, addr common.Address) bool {
	return e.getParam(db, e.slot(botPrefix, addr.Bytes()), 0) != 0
}

// Delay returns the submission-to-settlement interval in seconds.
func (e *Engine) Delay(db contract.StateDB) uint64 {
	return e.getParam(db, e.slot(delayPrefix), DefaultDelay)
}

// GasPriceInertia returns the estimator's smoothing constant.
func (e *Engine) GasPriceInertia(db contract.StateDB) uint64 {
	return e.getParam(db, e.slot(inertiaPrefix), DefaultGasPriceInertia)
}

// MaxGasPriceImpact caps how much gas one settlement may contribute to
// the estimator.
func (e *Engine) MaxGasPriceImpact(db contract.StateDB) uint64 {
	return e.getParam(db, e.slot(impactPrefix), DefaultMaxGasPriceImpact)
}

// GasLimitRange returns the [min, max] band submitted gas limits must
// fall into.
func (e *Engine) GasLimitRange(db contract.StateDB) (uint64, uint64) {
	return e.getParam(db, e.slot(minGasLimitPrefix), DefaultMinGasLimit),
		e.getParam(db, e.slot(maxGasLimitPrefix), DefaultMaxGasLimit)
}

// IsDisabled reports whether a kind queue is administratively disabled
// for a pair.
func (e *Engine) IsDisabled(db contract.StateDB, pair PairKey, qi orders.QueueIndex) bool {
	return e.getParam(db, e.slot(disabledPrefix, pair.Bytes(), []byte{byte(qi)}), 0) != 0
}

// Tolerance returns the swap price tolerance for a pair in basis points.
func (e *Engine) Tolerance(db contract.StateDB, pair PairKey) uint64 {
	return e.getParam(db, e.slot(tolerancePrefix, pair.Bytes()), DefaultTolerance)
}

// TransferGasCost returns the configured settlement cost of moving one
// token, used to size prepayments for tokens with expensive hooks.
func (e *Engine) TransferGasCost(db contract.StateDB, token common.Address) uint64 {
	return e.getParam(db, e.slot(transferCostPrefix, token.Bytes()), DefaultTransferGasCost)
}

// CurrentGasPrice is a pure read of the latest stored estimate.
func (e *Engine) CurrentGasPrice(db contract.StateDB) *uint256.Int {
	val := db.GetState(e.addr, e.slot(gasPricePrefix))
	return new(uint256.Int).SetBytes(val[:])
}

func (e *Engine) storeGasPrice(db contract.StateDB, v *uint256.Int) {
	var val common.Hash
	v.WriteToSlice(val[:])
	db.SetState(e.addr, e.slot(gasPricePrefix), val)
}

func (e *Engine) requireOwner(db contract.StateDB, caller common.Address) error {
	if caller != e.Owner(db) {
		return ErrNotOwner
	}
	return nil
}

// SetDelay sets the settlement delay interval.
func (e *Engine) SetDelay(env Env, db contract.StateDB, newDelay uint64) error {
	if err := e.requireOwner(db, env.Caller); err != nil {
		return err
	}
	if newDelay < MinDelay || newDelay > MaxDelay {
		return ErrInvalidParameter
	}
	if newDelay == e.Delay(db) {
		return ErrNoChange
	}
	e.setParam(db, e.slot(delayPrefix), newDelay)
	e.emit(ParamChangedEvent{Name: "delay", Value: newDelay, Timestamp: env.Timestamp})
	return nil
}

// SetGasPriceInertia sets the estimator's smoothing constant.
func (e *Engine) SetGasPriceInertia(env Env, db contract.StateDB, inertia uint64) error {
	if err := e.requireOwner(db, env.Caller); err != nil {
		return err
	}
	if inertia < MinGasPriceInertia || inertia > MaxGasPriceInertia {
		return ErrInvalidParameter
	}
	// The impact cap bounds the observation weight, so it can never
	// exceed the inertia it is weighed against.
	if inertia < e.MaxGasPriceImpact(db) {
		return ErrInvalidParameter
	}
	if inertia == e.GasPriceInertia(db) {
		return ErrNoChange
	}
	e.setParam(db, e.slot(inertiaPrefix), inertia)
	e.emit(ParamChangedEvent{Name: "gasPriceInertia", Value: inertia, Timestamp: env.Timestamp})
	return nil
}

// SetMaxGasPriceImpact caps a single settlement's estimator contribution.
func (e *Engine) SetMaxGasPriceImpact(env Env, db contract.StateDB, impact uint64) error {
	if err := e.requireOwner(db, env.Caller); err != nil {
		return err
	}
	if impact == 0 || impact > e.GasPriceInertia(db) {
		return ErrInvalidParameter
	}
	if impact == e.MaxGasPriceImpact(db) {
		return ErrNoChange
	}
	e.setParam(db, e.slot(impactPrefix), impact)
	e.emit(ParamChangedEvent{Name: "maxGasPriceImpact", Value: impact, Timestamp: env.Timestamp})
	return nil
}

// SetGasLimitRange sets the band submitted gas limits must fall into.
func (e *Engine) SetGasLimitRange(env Env, db contract.StateDB, min, max uint64) error {
	if err := e.requireOwner(db, env.Caller); err != nil {
		return err
	}
	if min == 0 || min >= max || max > HardMaxGasLimit {
		return ErrInvalidParameter
	}
	curMin, curMax := e.GasLimitRange(db)
	if min == curMin && max == curMax {
		return ErrNoChange
	}
	e.setParam(db, e.slot(minGasLimitPrefix), min)
	e.setParam(db, e.slot(maxGasLimitPrefix), max)
	e.emit(ParamChangedEvent{Name: "gasLimitRange", Value: max, Value2: min, Timestamp: env.Timestamp})
	return nil
}

// SetOrderDisabled toggles a kind queue for a pair.
func (e *Engine) SetOrderDisabled(env Env, db contract.StateDB, tokenA, tokenB common.Address, qi orders.QueueIndex, disabled bool) error {
	if err := e.requireOwner(db, env.Caller); err != nil {
		return err
	}
	if qi >= orders.NumQueues {
		return ErrInvalidParameter
	}
	pair := NewPairKey(tokenA, tokenB)
	if disabled == e.IsDisabled(db, pair, qi) {
		return ErrNoChange
	}
	var v uint64
	if disabled {
		v = 1
	}
	e.setParam(db, e.slot(disabledPrefix, pair.Bytes(), []byte{byte(qi)}), v)
	e.emit(ParamChangedEvent{Name: "orderDisabled", Value: v, Value2: uint64(qi), Pair: pair, Timestamp: env.Timestamp})
	return nil
}

// SetTolerance sets the swap price tolerance for a pair.
func (e *Engine) SetTolerance(env Env, db contract.StateDB, tokenA, tokenB common.Address, bps uint64) error {
	if err := e.requireOwner(db, env.Caller); err != nil {
		return err
	}
	if bps > MaxTolerance {
		return ErrInvalidParameter
	}
	pair := NewPairKey(tokenA, tokenB)
	if bps == e.Tolerance(db, pair) {
		return ErrNoChange
	}
	e.setParam(db, e.slot(tolerancePrefix, pair.Bytes()), bps)
	e.emit(ParamChangedEvent{Name: "tolerance", Value: bps, Pair: pair, Timestamp: env.Timestamp})
	return nil
}

// SetTransferGasCost sets a token's per-transfer settlement cost
// estimate.
func (e *Engine) SetTransferGasCost(env Env, db contract.StateDB, token common.Address, cost uint64) error {
	if err := e.requireOwner(db, env.Caller); err != nil {
		return err
	}
	if cost > HardMaxGasLimit {
		return ErrInvalidParameter
	}
	if cost == e.TransferGasCost(db, token) {
		return ErrNoChange
	}
	e.setParam(db, e.slot(transferCostPrefix, token.Bytes()), cost)
	e.emit(ParamChangedEvent{Name: "transferGasCost", Value: cost, Token: token, Timestamp: env.Timestamp})
	return nil
}

// TransferOwnership hands administration to a new owner.
func (e *Engine) TransferOwnership(env Env, db contract.StateDB, newOwner common.Address) error {
	if err := e.requireOwner(db, env.Caller); err != nil {
		return err
	}
	if newOwner == (common.Address{}) {
		return ErrInvalidParameter
	}
	if newOwner == e.Owner(db) {
		return ErrNoChange
	}
	e.setAddressParam(db, e.slot(ownerPrefix), newOwner)
	e.emit(ParamChangedEvent{Name: "owner", Addr: newOwner, Timestamp: env.Timestamp})
	return nil
}

// SetBot adds or removes an allow-listed executor. Only the owner may
// mutate the set.
func (e *Engine) SetBot(env Env, db contract.StateDB, bot common.Address, enabled bool) error {
	if err := e.requireOwner(db, env.Caller); err != nil {
		return err
	}
	if enabled == e.IsBot(db, bot) {
		return ErrNoChange
	}
	var v uint64
	if enabled {
		v = 1
	}
	e.setParam(db, e.slot(botPrefix, bot.Bytes()), v)
	e.emit(ParamChangedEvent{Name: "bot", Value: v, Addr: bot, Timestamp: env.Timestamp})
	return nil
}
