// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package delay

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/twapdelay/contract"
	"github.com/luxfi/twapdelay/orders"
)

// settlement cost with default per-token estimates, below the order's
// gas limit
const settledGasUsed = GasPerOrder + 2*DefaultTransferGasCost

func readyTime() uint64 { return testTimestamp + DefaultDelay }

func TestExecuteAuthorization(t *testing.T) {
	f := newFixture(t)
	id := f.submitSell(t)

	err := f.e.Execute(aliceEnv(f.db, readyTime()), f.db, []uint64{id})
	require.ErrorIs(t, err, ErrNotExecutor)

	err = f.e.Execute(botEnv(readyTime()), f.db, nil)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestExecuteNotReady(t *testing.T) {
	f := newFixture(t)
	id := f.submitSell(t)

	err := f.e.Execute(botEnv(readyTime()-1), f.db, []uint64{id})
	require.ErrorIs(t, err, ErrOrderNotReady)

	err = f.e.Execute(botEnv(readyTime()), f.db, []uint64{id + 7})
	require.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestExecuteFIFOHeadEnforced(t *testing.T) {
	f := newFixture(t)
	id1 := f.submitSell(t)
	id2 := f.submitSell(t)

	err := f.e.Execute(botEnv(readyTime()), f.db, []uint64{id2})
	require.ErrorIs(t, err, ErrNotQueueHead)

	// In order, both settle in one batch.
	require.NoError(t, f.e.Execute(botEnv(readyTime()), f.db, []uint64{id1, id2}))
	require.Equal(t, OrderExecutedSucceeded, f.e.OrderStatus(f.db, id1, readyTime()))
	require.Equal(t, OrderExecutedSucceeded, f.e.OrderStatus(f.db, id2, readyTime()))
}

func TestExecuteSellSuccess(t *testing.T) {
	f := newFixture(t)
	id := f.submitSell(t)

	require.NoError(t, f.e.Execute(botEnv(readyTime()), f.db, []uint64{id}))
	require.Equal(t, OrderExecutedSucceeded, f.e.OrderStatus(f.db, id, readyTime()))

	require.Len(t, f.pool.swaps, 1)
	call := f.pool.swaps[0]
	require.True(t, call.zeroForOne)
	require.True(t, uint256.NewInt(1<<20).Eq(call.amountIn))
	require.True(t, uint256.NewInt(900).Eq(call.minOut))
	require.Equal(t, testBeneficiary, call.to)

	// Fee accounting: executor gets gasUsed at the submit-time rate, the
	// beneficiary the unspent prepayment, the engine keeps nothing.
	fee := new(uint256.Int).Mul(testGasPrice, uint256.NewInt(settledGasUsed))
	excess := new(uint256.Int).Sub(f.prepay(), fee)
	require.True(t, fee.Eq(f.db.GetBalance(testBot)))
	require.True(t, excess.Eq(f.db.GetBalance(testBeneficiary)))
	require.True(t, f.db.GetBalance(ContractAddress).IsZero())

	// One settlement folds its observed fee rate into the estimate.
	want := NextGasPrice(testGasPrice, botEnv(0).GasPrice, settledGasUsed, DefaultGasPriceInertia, DefaultMaxGasPriceImpact)
	require.True(t, want.Eq(f.e.CurrentGasPrice(f.db)))
	require.False(t, testGasPrice.Eq(f.e.CurrentGasPrice(f.db)))
}

func TestExecutePriceGuard(t *testing.T) {
	f := newFixture(t)
	f.oracle.spot = uint256.NewInt(1002) // outside 10 bps of avg 1000
	id := f.submitSell(t)

	require.NoError(t, f.e.Execute(botEnv(readyTime()), f.db, []uint64{id}))
	require.Equal(t, OrderExecutedFailed, f.e.OrderStatus(f.db, id, readyTime()))
	require.Empty(t, f.pool.swaps)

	// Escrowed input returned to the beneficiary.
	payout := f.tok0.lastPayout(t)
	require.Equal(t, testBeneficiary, payout.to)
	require.True(t, uint256.NewInt(1<<20).Eq(payout.amount))

	// The executor is still paid for the attempt.
	fee := new(uint256.Int).Mul(testGasPrice, uint256.NewInt(settledGasUsed))
	require.True(t, fee.Eq(f.db.GetBalance(testBot)))
}

func TestExecutePoolFailureRefunds(t *testing.T) {
	f := newFixture(t)
	f.pool.swapErr = errors.New("reserves exhausted")
	id := f.submitSell(t)

	require.NoError(t, f.e.Execute(botEnv(readyTime()), f.db, []uint64{id}))
	require.Equal(t, OrderExecutedFailed, f.e.OrderStatus(f.db, id, readyTime()))
	payout := f.tok0.lastPayout(t)
	require.True(t, uint256.NewInt(1<<20).Eq(payout.amount))
}

func TestExecuteBatchPartialFailure(t *testing.T) {
	// One bad order inside a batch fails alone, the rest settle.
	f := newFixture(t)
	id1 := f.submitSell(t)
	id2 := f.submitSell(t)
	id3 := f.submitSell(t)

	// Fail only the second settlement.
	f.e.pools[PairKey{Token0: testToken0, Token1: testToken1}].Pool = &failSecondPool{inner: f.pool}

	require.NoError(t, f.e.Execute(botEnv(readyTime()), f.db, []uint64{id1, id2, id3}))
	require.Equal(t, OrderExecutedSucceeded, f.e.OrderStatus(f.db, id1, readyTime()))
	require.Equal(t, OrderExecutedFailed, f.e.OrderStatus(f.db, id2, readyTime()))
	require.Equal(t, OrderExecutedSucceeded, f.e.OrderStatus(f.db, id3, readyTime()))
}

func TestExecuteBuyReturnsUnusedInput(t *testing.T) {
	f := newFixture(t)
	maxIn := uint256.NewInt(1 << 20)
	used := uint256.NewInt(1 << 19)
	f.pool.swapInUsed = used

	req := &BuyRequest{
		TokenIn:        testToken0,
		TokenOut:       testToken1,
		MaxAmountIn:    maxIn,
		AmountOut:      uint256.NewInt(1 << 12),
		To:             testBeneficiary,
		GasLimit:       testGasLimit,
		SubmitDeadline: testTimestamp + 60,
	}
	id, _, err := f.e.SubmitBuy(aliceEnv(f.db, testTimestamp), f.db, req)
	require.NoError(t, err)

	require.NoError(t, f.e.Execute(botEnv(readyTime()), f.db, []uint64{id}))
	require.Equal(t, OrderExecutedSucceeded, f.e.OrderStatus(f.db, id, readyTime()))

	payout := f.tok0.lastPayout(t)
	require.Equal(t, testBeneficiary, payout.to)
	require.True(t, new(uint256.Int).Sub(maxIn, used).Eq(payout.amount))
}

func TestExecuteDepositAndWithdraw(t *testing.T) {
	f := newFixture(t)

	dep := &DepositRequest{
		Token0:         testToken0,
		Token1:         testToken1,
		Amount0:        uint256.NewInt(1 << 16),
		Amount1:        uint256.NewInt(1 << 17),
		MinSwapPrice:   uint256.NewInt(900),
		MaxSwapPrice:   uint256.NewInt(1100),
		To:             testBeneficiary,
		GasLimit:       testGasLimit,
		SubmitDeadline: testTimestamp + 60,
	}
	depID, _, err := f.e.SubmitDeposit(aliceEnv(f.db, testTimestamp), f.db, dep)
	require.NoError(t, err)

	wd := &WithdrawRequest{
		Token0:         testToken0,
		Token1:         testToken1,
		Liquidity:      uint256.NewInt(1 << 14),
		MinAmount0:     uint256.NewInt(100),
		MinAmount1:     uint256.NewInt(200),
		To:             testBeneficiary,
		GasLimit:       testGasLimit,
		SubmitDeadline: testTimestamp + 60,
	}
	wdID, _, err := f.e.SubmitWithdraw(aliceEnv(f.db, testTimestamp), f.db, wd)
	require.NoError(t, err)

	require.NoError(t, f.e.Execute(botEnv(readyTime()), f.db, []uint64{depID, wdID}))

	require.Len(t, f.pool.mints, 1)
	require.Equal(t, testBeneficiary, f.pool.mints[0].to)
	require.True(t, dep.Amount0.Eq(f.pool.mints[0].amount0))

	require.Len(t, f.pool.burns, 1)
	require.True(t, wd.Liquidity.Eq(f.pool.burns[0].amount))
}

func TestExecuteDepositBandGuard(t *testing.T) {
	f := newFixture(t)
	f.oracle.avg = uint256.NewInt(1200) // above the order's band

	dep := &DepositRequest{
		Token0:         testToken0,
		Token1:         testToken1,
		Amount0:        uint256.NewInt(1 << 16),
		Amount1:        uint256.NewInt(1 << 17),
		MinSwapPrice:   uint256.NewInt(900),
		MaxSwapPrice:   uint256.NewInt(1100),
		To:             testBeneficiary,
		GasLimit:       testGasLimit,
		SubmitDeadline: testTimestamp + 60,
	}
	id, _, err := f.e.SubmitDeposit(aliceEnv(f.db, testTimestamp), f.db, dep)
	require.NoError(t, err)

	require.NoError(t, f.e.Execute(botEnv(readyTime()), f.db, []uint64{id}))
	require.Equal(t, OrderExecutedFailed, f.e.OrderStatus(f.db, id, readyTime()))
	require.Empty(t, f.pool.mints)

	// Both escrowed amounts returned.
	require.True(t, dep.Amount0.Eq(f.tok0.lastPayout(t).amount))
	require.True(t, dep.Amount1.Eq(f.tok1.lastPayout(t).amount))
}

func TestExecuteTwiceRejected(t *testing.T) {
	f := newFixture(t)
	id := f.submitSell(t)
	require.NoError(t, f.e.Execute(botEnv(readyTime()), f.db, []uint64{id}))

	err := f.e.Execute(botEnv(readyTime()), f.db, []uint64{id})
	require.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	id := f.submitSell(t)
	graceOver := readyTime() + CancelWindow + 1

	t.Run("too early", func(t *testing.T) {
		err := f.e.Cancel(aliceEnv(f.db, readyTime()+CancelWindow), f.db, id)
		require.ErrorIs(t, err, ErrCancelTooEarly)
	})

	t.Run("refunds escrow and prepayment", func(t *testing.T) {
		before := f.db.GetBalance(testBeneficiary)
		require.NoError(t, f.e.Cancel(aliceEnv(f.db, graceOver), f.db, id))
		require.Equal(t, OrderCanceled, f.e.OrderStatus(f.db, id, graceOver))

		payout := f.tok0.lastPayout(t)
		require.Equal(t, testBeneficiary, payout.to)
		require.True(t, uint256.NewInt(1<<20).Eq(payout.amount))

		refunded := new(uint256.Int).Sub(f.db.GetBalance(testBeneficiary), before)
		require.True(t, f.prepay().Eq(refunded))
		require.True(t, f.db.GetBalance(ContractAddress).IsZero())
	})

	t.Run("cancel twice", func(t *testing.T) {
		err := f.e.Cancel(aliceEnv(f.db, graceOver), f.db, id)
		require.ErrorIs(t, err, ErrOrderTerminal)
	})
}

func TestCancelMidQueueIsSkipped(t *testing.T) {
	f := newFixture(t)
	id1 := f.submitSell(t)
	id2 := f.submitSell(t)
	id3 := f.submitSell(t)
	graceOver := readyTime() + CancelWindow + 1

	require.NoError(t, f.e.Cancel(aliceEnv(f.db, graceOver), f.db, id2))

	// The settlement pointer steps over the canceled order.
	require.NoError(t, f.e.Execute(botEnv(graceOver), f.db, []uint64{id1, id3}))
	require.Equal(t, OrderExecutedSucceeded, f.e.OrderStatus(f.db, id1, graceOver))
	require.Equal(t, OrderCanceled, f.e.OrderStatus(f.db, id2, graceOver))
	require.Equal(t, OrderExecutedSucceeded, f.e.OrderStatus(f.db, id3, graceOver))
}

func TestRefundFailureAndRetry(t *testing.T) {
	f := newFixture(t)
	f.pool.swapErr = errors.New("reserves exhausted")
	f.tok0.failTransfer = true
	id := f.submitSell(t)

	require.NoError(t, f.e.Execute(botEnv(readyTime()), f.db, []uint64{id}))
	require.Equal(t, OrderRefundFailed, f.e.OrderStatus(f.db, id, readyTime()))
	require.Equal(t, orders.RefundPendingToken0, f.e.Queue().RefundPending(f.db, id))

	t.Run("no pending refund elsewhere", func(t *testing.T) {
		id2 := f.submitSell(t)
		err := f.e.RetryRefund(aliceEnv(f.db, readyTime()), f.db, id2)
		require.ErrorIs(t, err, ErrNoPendingRefund)
	})

	t.Run("retry still failing", func(t *testing.T) {
		require.NoError(t, f.e.RetryRefund(aliceEnv(f.db, readyTime()), f.db, id))
		require.Equal(t, orders.RefundPendingToken0, f.e.Queue().RefundPending(f.db, id))
	})

	t.Run("retry clears once the token recovers", func(t *testing.T) {
		f.tok0.failTransfer = false
		require.NoError(t, f.e.RetryRefund(aliceEnv(f.db, readyTime()), f.db, id))
		require.Zero(t, f.e.Queue().RefundPending(f.db, id))
		require.Equal(t, OrderExecutedFailed, f.e.OrderStatus(f.db, id, readyTime()))

		payout := f.tok0.lastPayout(t)
		require.Equal(t, testBeneficiary, payout.to)
		require.True(t, uint256.NewInt(1<<20).Eq(payout.amount))
	})
}

func TestFeeExcessToContractBeneficiary(t *testing.T) {
	// A beneficiary that cannot receive native coin leaves the fee
	// excess as a pending refund instead of aborting settlement.
	f := newFixture(t)
	req := f.sellRequest()
	req.To = testPoolAddr
	id, _, err := f.e.SubmitSell(aliceEnv(f.db, testTimestamp), f.db, req)
	require.NoError(t, err)

	require.NoError(t, f.e.Execute(botEnv(readyTime()), f.db, []uint64{id}))
	require.Equal(t, orders.RefundPendingFee, f.e.Queue().RefundPending(f.db, id))
	require.Equal(t, OrderRefundFailed, f.e.OrderStatus(f.db, id, readyTime()))

	excess := new(uint256.Int).Sub(f.prepay(), new(uint256.Int).Mul(testGasPrice, uint256.NewInt(settledGasUsed)))
	require.True(t, excess.Eq(f.e.Queue().RefundAmount(f.db, id, orders.RefundLegFee)))
}

func TestForgetAfterSettlement(t *testing.T) {
	f := newFixture(t)
	id := f.submitSell(t)
	require.NoError(t, f.e.Execute(botEnv(readyTime()), f.db, []uint64{id}))

	digest := f.e.Queue().DigestOf(f.db, id)
	require.NotEqual(t, common.Hash{}, digest)

	require.NoError(t, f.e.Queue().Forget(f.db, testBeneficiary, id))
	_, err := f.e.Queue().Load(f.db, id)
	require.ErrorIs(t, err, orders.ErrOrderNotFound)

	// A reclaimed id reads as never assigned; the digest remains the
	// off-ledger source of truth.
	require.Equal(t, OrderNonExistent, f.e.OrderStatus(f.db, id, readyTime()))
	require.Equal(t, digest, f.e.Queue().DigestOf(f.db, id))
}

// failSecondPool fails exactly its second settlement call.
type failSecondPool struct {
	inner *mockPool
	calls int
}

func (p *failSecondPool) Mint(db contract.StateDB, to common.Address, amount0, amount1 *uint256.Int, swapOnDeposit bool) (*uint256.Int, error) {
	return p.inner.Mint(db, to, amount0, amount1, swapOnDeposit)
}

func (p *failSecondPool) Burn(db contract.StateDB, to common.Address, liquidity, minAmount0, minAmount1 *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	return p.inner.Burn(db, to, liquidity, minAmount0, minAmount1)
}

func (p *failSecondPool) Swap(db contract.StateDB, zeroForOne bool, amountIn, minAmountOut *uint256.Int, to common.Address) (*uint256.Int, error) {
	p.calls++
	if p.calls == 2 {
		return nil, errors.New("transient pool failure")
	}
	return p.inner.Swap(db, zeroForOne, amountIn, minAmountOut, to)
}

func (p *failSecondPool) SwapExactOut(db contract.StateDB, zeroForOne bool, amountOut, maxAmountIn *uint256.Int, to common.Address) (*uint256.Int, error) {
	return p.inner.SwapExactOut(db, zeroForOne, amountOut, maxAmountIn, to)
}
