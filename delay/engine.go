// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package delay

import (
	"bytes"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/tracing"

	"github.com/luxfi/twapdelay/contract"
	"github.com/luxfi/twapdelay/orders"
)

var poolAddrPrefix = []byte("dly/pool")

// Engine is the delayed execution engine. Durable state (orders,
// parameters, the gas-price estimate) lives in ledger storage under the
// precompile's account; the pool registry binds pair keys to their Go
// collaborators and must be rebuilt identically on every node.
type Engine struct {
	mu     sync.Mutex
	locked bool

	addr    common.Address
	queue   *orders.Queue
	pools   map[PairKey]*PoolEntry
	collabs map[common.Address]bool
	history []Event
}

// NewEngine returns an engine rooted at the precompile address.
func NewEngine() *Engine {
	return &Engine{
		addr:    ContractAddress,
		queue:   orders.NewQueue(ContractAddress),
		pools:   make(map[PairKey]*PoolEntry),
		collabs: make(map[common.Address]bool),
	}
}

// Queue exposes the underlying order store for queries and reclamation.
func (e *Engine) Queue() *orders.Queue { return e.queue }

// lock guards every mutating entry point. Settlement calls out to token
// and pool collaborators which may call back into the engine; a nested
// entry fails instead of observing half-written state.
func (e *Engine) lock() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.locked {
		return ErrReentrant
	}
	e.locked = true
	return nil
}

func (e *Engine) unlock() {
	e.mu.Lock()
	e.locked = false
	e.mu.Unlock()
}

func (e *Engine) isCollaborator(addr common.Address) bool {
	return e.collabs[addr]
}

// RegisterPool binds a sorted token pair to its pool, oracle and token
// adapters. A pair binds once; rebinding would let the owner redirect
// escrowed funds of queued orders.
func (e *Engine) RegisterPool(env Env, db contract.StateDB, token0, token1 common.Address, entry *PoolEntry) error {
	if err := e.requireOwner(db, env.Caller); err != nil {
		return err
	}
	if token0 == token1 {
		return ErrIdenticalTokens
	}
	if bytes.Compare(token0.Bytes(), token1.Bytes()) > 0 {
		return ErrTokensNotSorted
	}
	if entry == nil || entry.Pool == nil || entry.Oracle == nil || entry.Shares == nil {
		return ErrInvalidParameter
	}
	// Token0 may only be unadapted when it is the native coin.
	if entry.Token0 == nil && token0 != (common.Address{}) {
		return ErrInvalidParameter
	}
	if entry.Token1 == nil {
		return ErrInvalidParameter
	}

	pair := PairKey{Token0: token0, Token1: token1}
	if _, bound := e.pools[pair]; bound {
		return ErrPoolAlreadyBound
	}
	slot := e.slot(poolAddrPrefix, pair.Bytes())
	if e.getAddressParam(db, slot) != (common.Address{}) {
		return ErrPoolAlreadyBound
	}

	e.setAddressParam(db, slot, entry.Address)
	e.pools[pair] = entry
	e.collabs[entry.Address] = true
	e.emit(PoolRegisteredEvent{Pair: pair, PoolAddr: entry.Address, Timestamp: env.Timestamp})
	return nil
}

func (e *Engine) pool(pair PairKey) (*PoolEntry, error) {
	entry, ok := e.pools[pair]
	if !ok {
		return nil, ErrPairNotRegistered
	}
	return entry, nil
}

// adapterFor returns the token adapter of one side of a registered pair,
// nil for the native coin.
func (entry *PoolEntry) adapterFor(pair PairKey, token common.Address) Token {
	if token == pair.Token0 {
		return entry.Token0
	}
	return entry.Token1
}

// validateSubmit applies the checks shared by every submission kind.
func (e *Engine) validateSubmit(env Env, db contract.StateDB, to common.Address, gasLimit, deadline uint64, pair PairKey, qi orders.QueueIndex) (*PoolEntry, error) {
	if env.Timestamp > deadline {
		return nil, ErrDeadlineExceeded
	}
	if to == (common.Address{}) {
		return nil, ErrZeroDestination
	}
	minGas, maxGas := e.GasLimitRange(db)
	if gasLimit < minGas || gasLimit > maxGas {
		return nil, ErrGasLimitOutOfRange
	}
	entry, err := e.pool(pair)
	if err != nil {
		return nil, err
	}
	if e.IsDisabled(db, pair, qi) {
		return nil, ErrOrderDisabled
	}
	return entry, nil
}

// collectNative pulls the caller's native obligation (fee prepayment plus
// any native token legs) into escrow. env.Value is the caller's spending
// authorization; only the owed amount moves.
func (e *Engine) collectNative(env Env, db contract.StateDB, total *uint256.Int) error {
	if total.IsZero() {
		return nil
	}
	if env.Value == nil || env.Value.Lt(total) {
		return ErrInsufficientPrepayment
	}
	db.SubBalance(env.Caller, total, tracing.BalanceChangeTransfer)
	db.AddBalance(e.addr, total, tracing.BalanceChangeTransfer)
	return nil
}

// finishSubmit snapshots the oracle, stamps timing and fee fields, packs
// and enqueues. Escrow must already be complete.
func (e *Engine) finishSubmit(env Env, db contract.StateDB, entry *PoolEntry, o *orders.Order) (uint64, common.Hash, error) {
	acc, ts := entry.Oracle.PriceAccumulator(db)
	o.PriceAccumulator = acc
	o.SnapshotTimestamp = ts

	id, digest, err := e.queue.Enqueue(db, o)
	if err != nil {
		return 0, common.Hash{}, err
	}
	e.emit(EnqueuedEvent{
		ID:         id,
		Kind:       o.Kind,
		Inverted:   o.Inverted(),
		ValidAfter: o.ValidAfterTimestamp,
		GasPrice:   o.GasPrice,
		Timestamp:  env.Timestamp,
	})
	return id, digest, nil
}

// prepayFor prices the fee prepayment of one order at the current
// estimate. The estimate is stamped into the order so settlement refunds
// against the rate the submitter actually paid.
func (e *Engine) prepayFor(db contract.StateDB, gasLimit uint64) (*uint256.Int, *uint256.Int) {
	gasPrice := e.CurrentGasPrice(db)
	prepay := new(uint256.Int).Mul(gasPrice, uint256.NewInt(gasLimit))
	return gasPrice, prepay
}

// SubmitDeposit queues an add-liquidity order. Both amounts are escrowed
// now; the mint happens at settlement against the then-current reserves.
func (e *Engine) SubmitDeposit(env Env, db contract.StateDB, req *DepositRequest) (uint64, common.Hash, error) {
	if err := e.lock(); err != nil {
		return 0, common.Hash{}, err
	}
	defer e.unlock()

	if req.Token0 == req.Token1 {
		return 0, common.Hash{}, ErrIdenticalTokens
	}
	if bytes.Compare(req.Token0.Bytes(), req.Token1.Bytes()) > 0 {
		return 0, common.Hash{}, ErrTokensNotSorted
	}
	pair := PairKey{Token0: req.Token0, Token1: req.Token1}
	entry, err := e.validateSubmit(env, db, req.To, req.GasLimit, req.SubmitDeadline, pair, orders.QueueAddLiquidity)
	if err != nil {
		return 0, common.Hash{}, err
	}
	amount0 := u256OrZero(req.Amount0)
	amount1 := u256OrZero(req.Amount1)
	if amount0.IsZero() && amount1.IsZero() {
		return 0, common.Hash{}, ErrZeroAmount
	}

	var flags orders.Flags
	if req.SwapOnDeposit {
		flags |= orders.FlagSwapOnDeposit
	}
	gasPrice, prepay := e.prepayFor(db, req.GasLimit)
	o := &orders.Order{
		Kind:                orders.KindAddLiquidity,
		Flags:               flags,
		GasLimit:            req.GasLimit,
		GasPrice:            gasPrice,
		ValidAfterTimestamp: env.Timestamp + e.Delay(db),
		To:                  req.To,
		Token0:              req.Token0,
		Token1:              req.Token1,
		Value0:              amount0,
		Value1:              amount1,
		PriceLo:             u256OrZero(req.MinSwapPrice),
		PriceHi:             u256OrZero(req.MaxSwapPrice),
	}
	// Reject unencodable amounts before any funds move.
	if _, err := orders.Pack(o); err != nil {
		return 0, common.Hash{}, err
	}

	native := new(uint256.Int).Set(prepay)
	if req.Token0 == (common.Address{}) {
		native.Add(native, amount0)
	} else if err := e.safeTransferFrom(db, entry.Token0, env.Caller, amount0); err != nil {
		return 0, common.Hash{}, err
	}
	if err := e.safeTransferFrom(db, entry.Token1, env.Caller, amount1); err != nil {
		return 0, common.Hash{}, err
	}
	if err := e.collectNative(env, db, native); err != nil {
		return 0, common.Hash{}, err
	}
	return e.finishSubmit(env, db, entry, o)
}

// SubmitWithdraw queues a remove-liquidity order. The shares are escrowed
// now and burned at settlement.
func (e *Engine) SubmitWithdraw(env Env, db contract.StateDB, req *WithdrawRequest) (uint64, common.Hash, error) {
	if err := e.lock(); err != nil {
		return 0, common.Hash{}, err
	}
	defer e.unlock()

	if req.Token0 == req.Token1 {
		return 0, common.Hash{}, ErrIdenticalTokens
	}
	if bytes.Compare(req.Token0.Bytes(), req.Token1.Bytes()) > 0 {
		return 0, common.Hash{}, ErrTokensNotSorted
	}
	pair := PairKey{Token0: req.Token0, Token1: req.Token1}
	entry, err := e.validateSubmit(env, db, req.To, req.GasLimit, req.SubmitDeadline, pair, orders.QueueRemoveLiquidity)
	if err != nil {
		return 0, common.Hash{}, err
	}
	liquidity := u256OrZero(req.Liquidity)
	if liquidity.IsZero() {
		return 0, common.Hash{}, ErrZeroAmount
	}

	gasPrice, prepay := e.prepayFor(db, req.GasLimit)
	o := &orders.Order{
		Kind:                orders.KindRemoveLiquidity,
		GasLimit:            req.GasLimit,
		GasPrice:            gasPrice,
		ValidAfterTimestamp: env.Timestamp + e.Delay(db),
		To:                  req.To,
		Token0:              req.Token0,
		Token1:              req.Token1,
		Value0:              liquidity,
		Value1:              uint256.NewInt(0),
		PriceLo:             u256OrZero(req.MinAmount0),
		PriceHi:             u256OrZero(req.MinAmount1),
	}
	if _, err := orders.Pack(o); err != nil {
		return 0, common.Hash{}, err
	}

	if err := e.safeTransferFrom(db, entry.Shares, env.Caller, liquidity); err != nil {
		return 0, common.Hash{}, err
	}
	if err := e.collectNative(env, db, prepay); err != nil {
		return 0, common.Hash{}, err
	}
	return e.finishSubmit(env, db, entry, o)
}

// SubmitSell queues an exact-input swap. The input is escrowed now.
func (e *Engine) SubmitSell(env Env, db contract.StateDB, req *SellRequest) (uint64, common.Hash, error) {
	if err := e.lock(); err != nil {
		return 0, common.Hash{}, err
	}
	defer e.unlock()

	if req.TokenIn == req.TokenOut {
		return 0, common.Hash{}, ErrIdenticalTokens
	}
	pair := NewPairKey(req.TokenIn, req.TokenOut)
	inverted := req.TokenIn == pair.Token1
	qi := orders.QueueSell
	var flags orders.Flags
	if inverted {
		qi = orders.QueueSellInverted
		flags |= orders.FlagInverted
	}
	entry, err := e.validateSubmit(env, db, req.To, req.GasLimit, req.SubmitDeadline, pair, qi)
	if err != nil {
		return 0, common.Hash{}, err
	}
	amountIn := u256OrZero(req.AmountIn)
	if amountIn.IsZero() {
		return 0, common.Hash{}, ErrZeroAmount
	}

	gasPrice, prepay := e.prepayFor(db, req.GasLimit)
	o := &orders.Order{
		Kind:                orders.KindSell,
		Flags:               flags,
		GasLimit:            req.GasLimit,
		GasPrice:            gasPrice,
		ValidAfterTimestamp: env.Timestamp + e.Delay(db),
		To:                  req.To,
		Token0:              pair.Token0,
		Token1:              pair.Token1,
		Value0:              amountIn,
		Value1:              u256OrZero(req.MinAmountOut),
		PriceLo:             uint256.NewInt(0),
		PriceHi:             uint256.NewInt(0),
	}
	if _, err := orders.Pack(o); err != nil {
		return 0, common.Hash{}, err
	}

	native := new(uint256.Int).Set(prepay)
	if req.TokenIn == (common.Address{}) {
		native.Add(native, amountIn)
	} else if err := e.safeTransferFrom(db, entry.adapterFor(pair, req.TokenIn), env.Caller, amountIn); err != nil {
		return 0, common.Hash{}, err
	}
	if err := e.collectNative(env, db, native); err != nil {
		return 0, common.Hash{}, err
	}
	return e.finishSubmit(env, db, entry, o)
}

// SubmitBuy queues an exact-output swap. The maximum input is escrowed
// now; whatever the pool does not consume is returned at settlement.
func (e *Engine) SubmitBuy(env Env, db contract.StateDB, req *BuyRequest) (uint64, common.Hash, error) {
	if err := e.lock(); err != nil {
		return 0, common.Hash{}, err
	}
	defer e.unlock()

	if req.TokenIn == req.TokenOut {
		return 0, common.Hash{}, ErrIdenticalTokens
	}
	pair := NewPairKey(req.TokenIn, req.TokenOut)
	inverted := req.TokenIn == pair.Token1
	qi := orders.QueueBuy
	var flags orders.Flags
	if inverted {
		qi = orders.QueueBuyInverted
		flags |= orders.FlagInverted
	}
	entry, err := e.validateSubmit(env, db, req.To, req.GasLimit, req.SubmitDeadline, pair, qi)
	if err != nil {
		return 0, common.Hash{}, err
	}
	maxIn := u256OrZero(req.MaxAmountIn)
	amountOut := u256OrZero(req.AmountOut)
	if maxIn.IsZero() || amountOut.IsZero() {
		return 0, common.Hash{}, ErrZeroAmount
	}

	gasPrice, prepay := e.prepayFor(db, req.GasLimit)
	o := &orders.Order{
		Kind:                orders.KindBuy,
		Flags:               flags,
		GasLimit:            req.GasLimit,
		GasPrice:            gasPrice,
		ValidAfterTimestamp: env.Timestamp + e.Delay(db),
		To:                  req.To,
		Token0:              pair.Token0,
		Token1:              pair.Token1,
		Value0:              maxIn,
		Value1:              amountOut,
		PriceLo:             uint256.NewInt(0),
		PriceHi:             uint256.NewInt(0),
	}
	if _, err := orders.Pack(o); err != nil {
		return 0, common.Hash{}, err
	}

	native := new(uint256.Int).Set(prepay)
	if req.TokenIn == (common.Address{}) {
		native.Add(native, maxIn)
	} else if err := e.safeTransferFrom(db, entry.adapterFor(pair, req.TokenIn), env.Caller, maxIn); err != nil {
		return 0, common.Hash{}, err
	}
	if err := e.collectNative(env, db, native); err != nil {
		return 0, common.Hash{}, err
	}
	return e.finishSubmit(env, db, entry, o)
}

func u256OrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return v
}
