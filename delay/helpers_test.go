// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package delay

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/tracing"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/twapdelay/contract"
)

// MockStateDB implements contract.StateDB for testing
type MockStateDB struct {
	storage  map[common.Address]map[common.Hash]common.Hash
	balances map[common.Address]*uint256.Int
	nonces   map[common.Address]uint64
}

func NewMockStateDB() *MockStateDB {
	return &MockStateDB{
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
		balances: make(map[common.Address]*uint256.Int),
		nonces:   make(map[common.Address]uint64),
	}
}

func (m *MockStateDB) GetState(addr common.Address, key common.Hash) common.Hash {
	if m.storage[addr] == nil {
		return common.Hash{}
	}
	return m.storage[addr][key]
}

func (m *MockStateDB) SetState(addr common.Address, key, value common.Hash) common.Hash {
	if m.storage[addr] == nil {
		m.storage[addr] = make(map[common.Hash]common.Hash)
	}
	prev := m.storage[addr][key]
	m.storage[addr][key] = value
	return prev
}

func (m *MockStateDB) GetBalance(addr common.Address) *uint256.Int {
	if bal, ok := m.balances[addr]; ok {
		return bal.Clone()
	}
	return uint256.NewInt(0)
}

func (m *MockStateDB) AddBalance(addr common.Address, amount *uint256.Int, _ tracing.BalanceChangeReason) uint256.Int {
	if m.balances[addr] == nil {
		m.balances[addr] = uint256.NewInt(0)
	}
	prev := m.balances[addr].Clone()
	m.balances[addr] = new(uint256.Int).Add(m.balances[addr], amount)
	return *prev
}

func (m *MockStateDB) SubBalance(addr common.Address, amount *uint256.Int, _ tracing.BalanceChangeReason) uint256.Int {
	if m.balances[addr] == nil {
		m.balances[addr] = uint256.NewInt(0)
	}
	prev := m.balances[addr].Clone()
	m.balances[addr] = new(uint256.Int).Sub(m.balances[addr], amount)
	return *prev
}

func (m *MockStateDB) SetNonce(addr common.Address, nonce uint64, _ tracing.NonceChangeReason) {
	m.nonces[addr] = nonce
}

func (m *MockStateDB) GetNonce(addr common.Address) uint64 { return m.nonces[addr] }
func (m *MockStateDB) CreateAccount(common.Address)        {}
func (m *MockStateDB) Exist(common.Address) bool           { return true }

var errMockTransfer = errors.New("mock transfer rejected")

type tokenMove struct {
	from   common.Address
	to     common.Address
	amount *uint256.Int
}

// mockToken records transfers and can be told to reject them.
type mockToken struct {
	pulls        []tokenMove
	payouts      []tokenMove
	failTransfer bool
	failPull     bool
}

func (m *mockToken) TransferFrom(_ contract.StateDB, from, to common.Address, amount *uint256.Int) error {
	if m.failPull {
		return errMockTransfer
	}
	m.pulls = append(m.pulls, tokenMove{from: from, to: to, amount: amount.Clone()})
	return nil
}

func (m *mockToken) Transfer(_ contract.StateDB, to common.Address, amount *uint256.Int) error {
	if m.failTransfer {
		return errMockTransfer
	}
	m.payouts = append(m.payouts, tokenMove{to: to, amount: amount.Clone()})
	return nil
}

func (m *mockToken) lastPayout(t *testing.T) tokenMove {
	t.Helper()
	require.NotEmpty(t, m.payouts)
	return m.payouts[len(m.payouts)-1]
}

// mockOracle returns fixed accumulator, average and spot values.
type mockOracle struct {
	acc    *uint256.Int
	accTS  uint64
	avg    *uint256.Int
	avgErr error
	spot   *uint256.Int
}

func (m *mockOracle) PriceAccumulator(_ contract.StateDB) (*uint256.Int, uint64) {
	return m.acc.Clone(), m.accTS
}

func (m *mockOracle) AveragePrice(_ contract.StateDB, _ *uint256.Int, _ uint64) (*uint256.Int, error) {
	if m.avgErr != nil {
		return nil, m.avgErr
	}
	return m.avg.Clone(), nil
}

func (m *mockOracle) SpotPrice(_ contract.StateDB) *uint256.Int {
	return m.spot.Clone()
}

type mintCall struct {
	to               common.Address
	amount0, amount1 *uint256.Int
	swapOnDeposit    bool
}

type swapCall struct {
	zeroForOne bool
	amountIn   *uint256.Int
	minOut     *uint256.Int
	to         common.Address
}

// mockPool records settlement calls and returns configured results.
type mockPool struct {
	mints []mintCall
	burns []tokenMove
	swaps []swapCall

	mintErr error
	burnErr error
	swapErr error

	burnOut0, burnOut1 *uint256.Int
	swapOut            *uint256.Int
	swapInUsed         *uint256.Int
}

func (m *mockPool) Mint(_ contract.StateDB, to common.Address, amount0, amount1 *uint256.Int, swapOnDeposit bool) (*uint256.Int, error) {
	if m.mintErr != nil {
		return nil, m.mintErr
	}
	m.mints = append(m.mints, mintCall{to: to, amount0: amount0.Clone(), amount1: amount1.Clone(), swapOnDeposit: swapOnDeposit})
	return uint256.NewInt(1), nil
}

func (m *mockPool) Burn(_ contract.StateDB, to common.Address, liquidity, minAmount0, minAmount1 *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if m.burnErr != nil {
		return nil, nil, m.burnErr
	}
	m.burns = append(m.burns, tokenMove{to: to, amount: liquidity.Clone()})
	return m.burnOut0.Clone(), m.burnOut1.Clone(), nil
}

func (m *mockPool) Swap(_ contract.StateDB, zeroForOne bool, amountIn, minAmountOut *uint256.Int, to common.Address) (*uint256.Int, error) {
	if m.swapErr != nil {
		return nil, m.swapErr
	}
	m.swaps = append(m.swaps, swapCall{zeroForOne: zeroForOne, amountIn: amountIn.Clone(), minOut: minAmountOut.Clone(), to: to})
	return m.swapOut.Clone(), nil
}

func (m *mockPool) SwapExactOut(_ contract.StateDB, zeroForOne bool, amountOut, maxAmountIn *uint256.Int, to common.Address) (*uint256.Int, error) {
	if m.swapErr != nil {
		return nil, m.swapErr
	}
	m.swaps = append(m.swaps, swapCall{zeroForOne: zeroForOne, amountIn: maxAmountIn.Clone(), minOut: amountOut.Clone(), to: to})
	return m.swapInUsed.Clone(), nil
}

var (
	testOwner       = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	testBot         = common.HexToAddress("0x00000000000000000000000000000000000000f2")
	testAlice       = common.HexToAddress("0x00000000000000000000000000000000000000f3")
	testBeneficiary = common.HexToAddress("0x00000000000000000000000000000000000000f4")
	testPoolAddr    = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	testToken0      = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testToken1      = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

const (
	testTimestamp = uint64(1_700_000_000)
	testGasLimit  = uint64(250_000)
)

// 20 gwei, on the estimator grid
var testGasPrice = uint256.NewInt(20_000_000_000)

type fixture struct {
	e  *Engine
	db *MockStateDB

	pool   *mockPool
	oracle *mockOracle
	tok0   *mockToken
	tok1   *mockToken
	shares *mockToken
}

func ownerEnv(ts uint64) Env {
	return Env{Caller: testOwner, Value: uint256.NewInt(0), Timestamp: ts, GasPrice: testGasPrice}
}

func botEnv(ts uint64) Env {
	return Env{Caller: testBot, Value: uint256.NewInt(0), Timestamp: ts, GasPrice: uint256.NewInt(25_000_000_000)}
}

func aliceEnv(db *MockStateDB, ts uint64) Env {
	return Env{Caller: testAlice, Value: db.GetBalance(testAlice), Timestamp: ts, GasPrice: testGasPrice}
}

// newFixture builds an engine with one registered pair, a seeded owner
// and gas price, an allow-listed executor and a funded submitter.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		e:  NewEngine(),
		db: NewMockStateDB(),
		pool: &mockPool{
			burnOut0: uint256.NewInt(500),
			burnOut1: uint256.NewInt(700),
			swapOut:  uint256.NewInt(990),
		},
		oracle: &mockOracle{
			acc:   uint256.NewInt(987_654_321),
			accTS: testTimestamp - 100,
			avg:   uint256.NewInt(1000),
			spot:  uint256.NewInt(1000),
		},
		tok0:   &mockToken{},
		tok1:   &mockToken{},
		shares: &mockToken{},
	}

	f.e.setAddressParam(f.db, f.e.slot(ownerPrefix), testOwner)
	f.e.storeGasPrice(f.db, testGasPrice)

	entry := &PoolEntry{
		Address: testPoolAddr,
		Pool:    f.pool,
		Oracle:  f.oracle,
		Token0:  f.tok0,
		Token1:  f.tok1,
		Shares:  f.shares,
	}
	require.NoError(t, f.e.RegisterPool(ownerEnv(testTimestamp), f.db, testToken0, testToken1, entry))
	require.NoError(t, f.e.SetBot(ownerEnv(testTimestamp), f.db, testBot, true))

	// 10 native coins for fee prepayments and native legs.
	f.db.AddBalance(testAlice, uint256.NewInt(0).Mul(uint256.NewInt(10), uint256.NewInt(1e18)), tracing.BalanceChangeTransfer)
	return f
}

func (f *fixture) sellRequest() *SellRequest {
	return &SellRequest{
		TokenIn:        testToken0,
		TokenOut:       testToken1,
		AmountIn:       uint256.NewInt(1 << 20),
		MinAmountOut:   uint256.NewInt(900),
		To:             testBeneficiary,
		GasLimit:       testGasLimit,
		SubmitDeadline: testTimestamp + 60,
	}
}

func (f *fixture) submitSell(t *testing.T) uint64 {
	t.Helper()
	id, _, err := f.e.SubmitSell(aliceEnv(f.db, testTimestamp), f.db, f.sellRequest())
	require.NoError(t, err)
	return id
}

func (f *fixture) prepay() *uint256.Int {
	return new(uint256.Int).Mul(testGasPrice, uint256.NewInt(testGasLimit))
}
