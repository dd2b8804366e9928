// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package delay

import (
	"bytes"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/tracing"

	"github.com/luxfi/twapdelay/contract"
)

// Pool is the constant-function market maker the engine settles against.
// The engine is a privileged trader: the pool trusts it to have escrowed
// the input side before any entry point is invoked.
type Pool interface {
	// Mint adds the escrowed amounts as liquidity and credits shares to
	// the beneficiary. With swapOnDeposit the pool may swap part of one
	// amount so both are consumed at the pool ratio.
	Mint(db contract.StateDB, to common.Address, amount0, amount1 *uint256.Int, swapOnDeposit bool) (liquidity *uint256.Int, err error)

	// Burn redeems escrowed shares and pays both tokens to the
	// beneficiary, failing if either output falls below its minimum.
	Burn(db contract.StateDB, to common.Address, liquidity, minAmount0, minAmount1 *uint256.Int) (amount0, amount1 *uint256.Int, err error)

	// Swap trades an exact input for at least minAmountOut, paying the
	// beneficiary.
	Swap(db contract.StateDB, zeroForOne bool, amountIn, minAmountOut *uint256.Int, to common.Address) (amountOut *uint256.Int, err error)

	// SwapExactOut trades at most maxAmountIn for an exact output,
	// returning the input actually consumed.
	SwapExactOut(db contract.StateDB, zeroForOne bool, amountOut, maxAmountIn *uint256.Int, to common.Address) (amountIn *uint256.Int, err error)
}

// Oracle is the time-weighted average price source for one pair.
type Oracle interface {
	// PriceAccumulator returns the current cumulative price and its
	// timestamp, snapshotted into every submitted order.
	PriceAccumulator(db contract.StateDB) (*uint256.Int, uint64)

	// AveragePrice returns the average price since the given snapshot.
	AveragePrice(db contract.StateDB, accumulator *uint256.Int, timestamp uint64) (*uint256.Int, error)

	// SpotPrice returns the current instantaneous price.
	SpotPrice(db contract.StateDB) *uint256.Int
}

// Token is the minimal transfer surface of an external token contract.
// Implementations may fail for any reason (hooks, blocklists,
// non-compliant return values); the engine treats every failure
// uniformly through safeTransfer.
type Token interface {
	TransferFrom(db contract.StateDB, from, to common.Address, amount *uint256.Int) error
	Transfer(db contract.StateDB, to common.Address, amount *uint256.Int) error
}

// PairKey identifies a pool by its sorted token addresses. The zero
// address denotes the native coin and always sorts first.
type PairKey struct {
	Token0 common.Address
	Token1 common.Address
}

// NewPairKey sorts two token addresses into a canonical pair key.
func NewPairKey(a, b common.Address) PairKey {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		a, b = b, a
	}
	return PairKey{Token0: a, Token1: b}
}

// Bytes serializes the pair key for storage-slot derivation.
func (pk PairKey) Bytes() []byte {
	out := make([]byte, 40)
	copy(out[:20], pk.Token0.Bytes())
	copy(out[20:], pk.Token1.Bytes())
	return out
}

// PoolEntry binds a registered pair to its collaborators.
type PoolEntry struct {
	Address common.Address // the pool contract's account
	Pool    Pool
	Oracle  Oracle
	Token0  Token // nil when Token0 is the native coin
	Token1  Token
	Shares  Token // the pool's liquidity share token
}

// safeTransfer moves tokens out of the engine, mapping any collaborator
// failure to ErrTransferFailed so settlement can record a failed order
// instead of aborting the batch.
func (e *Engine) safeTransfer(db contract.StateDB, token common.Address, t Token, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	if token == (common.Address{}) {
		return e.payNative(db, to, amount)
	}
	if t == nil {
		return fmt.Errorf("%w: no adapter for token %s", ErrTransferFailed, token.Hex())
	}
	if err := t.Transfer(db, to, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

// safeTransferFrom pulls tokens into the engine at submission time.
func (e *Engine) safeTransferFrom(db contract.StateDB, t Token, from common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	if err := t.TransferFrom(db, from, e.addr, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

// payNative moves native coin out of the engine's escrow. Collaborator
// contract addresses cannot receive native value, mirroring contracts
// without a receive path; such sends degrade to a recorded failed refund
// rather than an abort.
func (e *Engine) payNative(db contract.StateDB, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	if e.isCollaborator(to) {
		return ErrNativeSendFailed
	}
	db.SubBalance(e.addr, amount, tracing.BalanceChangeTransfer)
	db.AddBalance(to, amount, tracing.BalanceChangeTransfer)
	return nil
}
