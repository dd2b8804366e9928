// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package delay implements the delayed, price-guarded order execution
// precompile: requests are validated and queued at submission, then
// settled later by an allow-listed executor against a time-weighted
// average price, with staleness and price-impact bounds enforced at
// settlement time rather than submission time.
package delay

import (
	"errors"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

// DelayAddress is the precompile address of the delayed execution engine
// (LP-9016, DEX/Markets range).
const DelayAddress = "0x0000000000000000000000000000000000009016"

// ContractAddress is DelayAddress parsed.
var ContractAddress = common.HexToAddress(DelayAddress)

// Timing parameters (seconds)
const (
	// DefaultDelay is the interval between submission and earliest
	// settlement.
	DefaultDelay uint64 = 5 * 60
	MinDelay     uint64 = 60
	MaxDelay     uint64 = 60 * 60

	// CancelWindow is how long past its validity timestamp an unsettled
	// order must wait before anyone may cancel it. Fixed, not tunable:
	// a mutable window would let the owner retroactively lock funds.
	CancelWindow uint64 = 24 * 60 * 60
)

// Gas-price estimator parameters
const (
	// GasPriceStep is the truncation step of the stored estimate. The
	// estimate is always an exact multiple; truncation is deliberate so
	// the value never drifts through rounding.
	GasPriceStep uint64 = 1_000_000

	DefaultGasPriceInertia uint64 = 20_000_000
	MinGasPriceInertia     uint64 = 1_000_000
	MaxGasPriceInertia     uint64 = 1_000_000_000

	DefaultMaxGasPriceImpact uint64 = 1_000_000
)

// Gas-limit band defaults for submitted orders
const (
	DefaultMinGasLimit uint64 = 200_000
	DefaultMaxGasLimit uint64 = 5_000_000
	HardMaxGasLimit    uint64 = 10_000_000
)

// Price tolerance for pure swaps, in basis points of the average price
const (
	DefaultTolerance uint64 = 10 // 0.10%
	MaxTolerance     uint64 = 1_000
)

// DefaultTransferGasCost sizes the settlement cost of one token leg when
// no per-token estimate was configured.
const DefaultTransferGasCost uint64 = 60_000

// Gas charged by the precompile dispatcher per operation
const (
	GasSubmit      uint64 = 50_000
	GasExecuteBase uint64 = 20_000
	GasPerOrder    uint64 = 8_000
	GasCancel      uint64 = 25_000
	GasRetryRefund uint64 = 25_000
	GasForget      uint64 = 10_000
	GasQuery       uint64 = 2_000
	GasAdminWrite  uint64 = 5_000
)

// Env is the call context of one top-level invocation: who calls, how
// much native value rides along, when, and at what fee rate.
type Env struct {
	Caller    common.Address
	Value     *uint256.Int
	Timestamp uint64
	// GasPrice is the fee rate the enclosing transaction pays, the
	// estimator's observation source.
	GasPrice *uint256.Int
}

// DepositRequest asks to add liquidity to a pair. Token0 must sort below
// Token1. At least one amount must be positive. A zero/zero price band
// disables the band check at settlement.
type DepositRequest struct {
	Token0, Token1 common.Address
	Amount0        *uint256.Int
	Amount1        *uint256.Int
	MinSwapPrice   *uint256.Int
	MaxSwapPrice   *uint256.Int
	SwapOnDeposit  bool
	To             common.Address
	GasLimit       uint64
	SubmitDeadline uint64
}

// WithdrawRequest asks to burn pool shares for both tokens.
type WithdrawRequest struct {
	Token0, Token1 common.Address
	Liquidity      *uint256.Int
	MinAmount0     *uint256.Int
	MinAmount1     *uint256.Int
	To             common.Address
	GasLimit       uint64
	SubmitDeadline uint64
}

// SellRequest asks to swap an exact input for at least MinAmountOut.
type SellRequest struct {
	TokenIn, TokenOut common.Address
	AmountIn          *uint256.Int
	MinAmountOut      *uint256.Int
	To                common.Address
	GasLimit          uint64
	SubmitDeadline    uint64
}

// BuyRequest asks to swap at most MaxAmountIn for an exact output.
type BuyRequest struct {
	TokenIn, TokenOut common.Address
	MaxAmountIn       *uint256.Int
	AmountOut         *uint256.Int
	To                common.Address
	GasLimit          uint64
	SubmitDeadline    uint64
}

// Errors - validation (submission rejected, no state mutated)
var (
	ErrDeadlineExceeded        = errors.New("submit deadline exceeded")
	ErrZeroDestination         = errors.New("destination is the zero address")
	ErrZeroAmount              = errors.New("requested amount is zero")
	ErrGasLimitOutOfRange      = errors.New("gas limit outside configured band")
	ErrPairNotRegistered       = errors.New("pair has no registered pool")
	ErrOrderDisabled           = errors.New("order kind disabled for this pair")
	ErrInsufficientPrepayment  = errors.New("attached value below required prepayment")
	ErrTokensNotSorted         = errors.New("tokens not sorted")
	ErrIdenticalTokens         = errors.New("identical token addresses")
)

// Errors - settlement and refunds
var (
	ErrPriceOutsideBounds = errors.New("price outside allowed bounds")
	ErrTransferFailed     = errors.New("token transfer failed")
	ErrOrderNotReady      = errors.New("order not ready for execution")
	ErrOrderTerminal      = errors.New("order already reached a terminal state")
	ErrNotQueueHead       = errors.New("order is not the oldest live order of its kind")
	ErrNoPendingRefund    = errors.New("order has no pending refund")
)

// Errors - authorization and administration
var (
	ErrNotOwner         = errors.New("caller is not the owner")
	ErrNotExecutor      = errors.New("caller is not an allow-listed executor")
	ErrCancelTooEarly   = errors.New("cancellation grace period has not elapsed")
	ErrNoChange         = errors.New("new value equals current value")
	ErrInvalidParameter = errors.New("parameter outside allowed bounds")
	ErrPoolAlreadyBound = errors.New("pair already has a registered pool")
	ErrReentrant        = errors.New("reentrancy detected")
	ErrReadOnly         = errors.New("cannot write in read-only mode")
	ErrInvalidInput     = errors.New("invalid input")
	ErrNativeSendFailed = errors.New("native transfer rejected by recipient")
)
