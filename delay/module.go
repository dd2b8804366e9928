// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package delay

import (
	"encoding/binary"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/twapdelay/contract"
	"github.com/luxfi/twapdelay/modules"
	"github.com/luxfi/twapdelay/orders"
	"github.com/luxfi/twapdelay/precompileconfig"
)

var (
	_ contract.StatefulPrecompiledContract = (*delayPrecompile)(nil)
	_ contract.Configurator                = (*configurator)(nil)
)

// ConfigKey is the chain-config JSON key of this precompile.
const ConfigKey = "twapDelayConfig"

// Function selectors (first 4 bytes of keccak256 of function signature)
var (
	// Submissions
	SelectorSubmitDeposit  = [4]byte{0x3f, 0x2c, 0x87, 0x11} // submitDeposit(address,address,uint256,uint256,uint256,uint256,bool,address,uint64,uint64)
	SelectorSubmitWithdraw = [4]byte{0xa5, 0x91, 0x0e, 0x4c} // submitWithdraw(address,address,uint256,uint256,uint256,address,uint64,uint64)
	SelectorSubmitSell     = [4]byte{0x5c, 0x0f, 0xd1, 0x92} // submitSell(address,address,uint256,uint256,address,uint64,uint64)
	SelectorSubmitBuy      = [4]byte{0x82, 0x6a, 0x3b, 0xe5} // submitBuy(address,address,uint256,uint256,address,uint64,uint64)

	// Settlement and refunds
	SelectorExecute     = [4]byte{0xd1, 0x7e, 0x42, 0x9a} // execute(uint256[])
	SelectorCancel      = [4]byte{0x40, 0xe5, 0x8e, 0xe5} // cancel(uint256)
	SelectorRetryRefund = [4]byte{0x9e, 0x2b, 0x5f, 0x31} // retryRefund(uint256)
	SelectorForget      = [4]byte{0x6b, 0xa4, 0xc1, 0x07} // forget(uint256)

	// Views
	SelectorOrderStatus      = [4]byte{0x46, 0x42, 0x3a, 0xa7} // orderStatus(uint256)
	SelectorOrderDigest      = [4]byte{0xc8, 0x1d, 0x93, 0x5e} // orderDigest(uint256)
	SelectorCurrentGasPrice  = [4]byte{0xf0, 0x5d, 0xa0, 0x6c} // currentGasPrice()
	SelectorNewestOrderID    = [4]byte{0x13, 0xc9, 0xab, 0x78} // newestOrderId()
	SelectorLastProcessedID  = [4]byte{0x84, 0x7f, 0x10, 0xd3} // lastProcessedId(uint8)
	SelectorOwner            = [4]byte{0x8d, 0xa5, 0xcb, 0x5b} // owner()
	SelectorDelayOf          = [4]byte{0x6a, 0x32, 0x70, 0x99} // delay()
	SelectorGasLimitRange    = [4]byte{0x2e, 0x8b, 0x4d, 0x61} // gasLimitRange()
	SelectorToleranceOf      = [4]byte{0x74, 0x19, 0xe2, 0x8f} // tolerance(address,address)
	SelectorTransferCostOf   = [4]byte{0x35, 0xc0, 0x6a, 0x44} // transferGasCost(address)
	SelectorIsBot            = [4]byte{0x3a, 0x51, 0x29, 0xea} // isBot(address)
	SelectorIsOrderDisabled  = [4]byte{0x59, 0x7d, 0x8e, 0x0b} // orderDisabled(address,address,uint8)
	SelectorGasPriceInertia  = [4]byte{0xb2, 0x06, 0x47, 0x2d} // gasPriceInertia()
	SelectorMaxGasPriceDrift = [4]byte{0xe4, 0x93, 0x51, 0xf6} // maxGasPriceImpact()

	// Administration
	SelectorSetDelay             = [4]byte{0xe1, 0x77, 0x24, 0x6e} // setDelay(uint64)
	SelectorSetGasPriceInertia   = [4]byte{0x90, 0xb1, 0xda, 0x0c} // setGasPriceInertia(uint64)
	SelectorSetMaxGasPriceImpact = [4]byte{0x1f, 0x4e, 0x63, 0xb2} // setMaxGasPriceImpact(uint64)
	SelectorSetGasLimitRange     = [4]byte{0x7a, 0x0c, 0x95, 0xd8} // setGasLimitRange(uint64,uint64)
	SelectorSetOrderDisabled     = [4]byte{0xcd, 0x28, 0x76, 0x13} // setOrderDisabled(address,address,uint8,bool)
	SelectorSetTolerance         = [4]byte{0x0b, 0xd5, 0x3c, 0xf4} // setTolerance(address,address,uint64)
	SelectorSetTransferGasCost   = [4]byte{0x62, 0x88, 0x1e, 0xa0} // setTransferGasCost(address,uint64)
	SelectorTransferOwnership    = [4]byte{0xf2, 0xfd, 0xe3, 0x8b} // transferOwnership(address)
	SelectorSetBot               = [4]byte{0xad, 0x5c, 0x46, 0x48} // setBot(address,bool)
)

// DefaultEngine is the engine instance the registered module dispatches
// to. Node wiring registers pools on it at startup.
var DefaultEngine = NewEngine()

// DelayPrecompile is the registered dispatch surface.
var DelayPrecompile = NewPrecompile(DefaultEngine)

// Module is this precompile's registration entry.
var Module = modules.Module{
	ConfigKey:    ConfigKey,
	Address:      ContractAddress,
	Contract:     DelayPrecompile,
	Configurator: &configurator{},
}

func init() {
	if err := modules.RegisterModule(Module); err != nil {
		panic(err)
	}
}

type delayPrecompile struct {
	engine *Engine
}

// NewPrecompile wraps an engine in the selector dispatch surface.
func NewPrecompile(e *Engine) contract.StatefulPrecompiledContract {
	return &delayPrecompile{engine: e}
}

// word returns calldata word i, failing when the argument area is short.
func word(args []byte, i int) ([]byte, error) {
	off := i * contract.WordSize
	if len(args) < off+contract.WordSize {
		return nil, ErrInvalidInput
	}
	return args[off : off+contract.WordSize], nil
}

func wordAddress(args []byte, i int) (common.Address, error) {
	w, err := word(args, i)
	if err != nil {
		return common.Address{}, err
	}
	return contract.UnpackAddress(w)
}

func wordUint64(args []byte, i int) (uint64, error) {
	w, err := word(args, i)
	if err != nil {
		return 0, err
	}
	return contract.UnpackUint64(w)
}

func wordUint256(args []byte, i int) (*uint256.Int, error) {
	w, err := word(args, i)
	if err != nil {
		return nil, err
	}
	return contract.UnpackUint256(w)
}

func wordBool(args []byte, i int) (bool, error) {
	v, err := wordUint64(args, i)
	if err != nil {
		return false, err
	}
	if v > 1 {
		return false, ErrInvalidInput
	}
	return v == 1, nil
}

func packSubmitReturn(id uint64, digest common.Hash) []byte {
	out := make([]byte, 2*contract.WordSize)
	binary.BigEndian.PutUint64(out[24:32], id)
	copy(out[32:], digest[:])
	return out
}

func (p *delayPrecompile) Run(
	accessibleState contract.AccessibleState,
	caller common.Address,
	addr common.Address,
	input []byte,
	suppliedGas uint64,
	readOnly bool,
) ([]byte, uint64, error) {
	if len(input) < 4 {
		return nil, suppliedGas, ErrInvalidInput
	}
	var selector [4]byte
	copy(selector[:], input[:4])
	args := input[4:]

	db := accessibleState.GetStateDB()
	env := Env{
		Caller:    caller,
		Value:     new(uint256.Int).Set(db.GetBalance(caller)),
		Timestamp: accessibleState.GetBlockContext().Timestamp(),
		GasPrice:  accessibleState.GetTxContext().GasPrice(),
	}

	switch selector {
	case SelectorSubmitDeposit, SelectorSubmitWithdraw, SelectorSubmitSell, SelectorSubmitBuy:
		remainingGas, err := contract.DeductGas(suppliedGas, GasSubmit)
		if err != nil {
			return nil, 0, err
		}
		if readOnly {
			return nil, remainingGas, ErrReadOnly
		}
		return p.runSubmit(selector, env, db, args, remainingGas)

	case SelectorExecute:
		count, err := wordUint64(args, 0)
		if err != nil {
			return nil, suppliedGas, err
		}
		remainingGas, err := contract.DeductGas(suppliedGas, GasExecuteBase+GasPerOrder*count)
		if err != nil {
			return nil, 0, err
		}
		if readOnly {
			return nil, remainingGas, ErrReadOnly
		}
		ids := make([]uint64, 0, count)
		for i := uint64(0); i < count; i++ {
			id, err := wordUint64(args, int(i)+1)
			if err != nil {
				return nil, remainingGas, err
			}
			ids = append(ids, id)
		}
		if err := p.engine.Execute(env, db, ids); err != nil {
			return nil, remainingGas, err
		}
		return nil, remainingGas, nil

	case SelectorCancel:
		return p.runID(env, db, args, suppliedGas, readOnly, GasCancel, p.engine.Cancel)

	case SelectorRetryRefund:
		return p.runID(env, db, args, suppliedGas, readOnly, GasRetryRefund, p.engine.RetryRefund)

	case SelectorForget:
		return p.runID(env, db, args, suppliedGas, readOnly, GasForget,
			func(env Env, db contract.StateDB, id uint64) error {
				return p.engine.queue.Forget(db, env.Caller, id)
			})

	default:
		return p.runQuery(selector, env, db, args, suppliedGas, readOnly)
	}
}

func (p *delayPrecompile) runSubmit(selector [4]byte, env Env, db contract.StateDB, args []byte, remainingGas uint64) ([]byte, uint64, error) {
	var (
		id     uint64
		digest common.Hash
		err    error
	)
	switch selector {
	case SelectorSubmitDeposit:
		req := &DepositRequest{}
		if req.Token0, err = wordAddress(args, 0); err != nil {
			return nil, remainingGas, err
		}
		if req.Token1, err = wordAddress(args, 1); err != nil {
			return nil, remainingGas, err
		}
		if req.Amount0, err = wordUint256(args, 2); err != nil {
			return nil, remainingGas, err
		}
		if req.Amount1, err = wordUint256(args, 3); err != nil {
			return nil, remainingGas, err
		}
		if req.MinSwapPrice, err = wordUint256(args, 4); err != nil {
			return nil, remainingGas, err
		}
		if req.MaxSwapPrice, err = wordUint256(args, 5); err != nil {
			return nil, remainingGas, err
		}
		if req.SwapOnDeposit, err = wordBool(args, 6); err != nil {
			return nil, remainingGas, err
		}
		if req.To, err = wordAddress(args, 7); err != nil {
			return nil, remainingGas, err
		}
		if req.GasLimit, err = wordUint64(args, 8); err != nil {
			return nil, remainingGas, err
		}
		if req.SubmitDeadline, err = wordUint64(args, 9); err != nil {
			return nil, remainingGas, err
		}
		id, digest, err = p.engine.SubmitDeposit(env, db, req)

	case SelectorSubmitWithdraw:
		req := &WithdrawRequest{}
		if req.Token0, err = wordAddress(args, 0); err != nil {
			return nil, remainingGas, err
		}
		if req.Token1, err = wordAddress(args, 1); err != nil {
			return nil, remainingGas, err
		}
		if req.Liquidity, err = wordUint256(args, 2); err != nil {
			return nil, remainingGas, err
		}
		if req.MinAmount0, err = wordUint256(args, 3); err != nil {
			return nil, remainingGas, err
		}
		if req.MinAmount1, err = wordUint256(args, 4); err != nil {
			return nil, remainingGas, err
		}
		if req.To, err = wordAddress(args, 5); err != nil {
			return nil, remainingGas, err
		}
		if req.GasLimit, err = wordUint64(args, 6); err != nil {
			return nil, remainingGas, err
		}
		if req.SubmitDeadline, err = wordUint64(args, 7); err != nil {
			return nil, remainingGas, err
		}
		id, digest, err = p.engine.SubmitWithdraw(env, db, req)

	case SelectorSubmitSell:
		req := &SellRequest{}
		if req.TokenIn, err = wordAddress(args, 0); err != nil {
			return nil, remainingGas, err
		}
		if req.TokenOut, err = wordAddress(args, 1); err != nil {
			return nil, remainingGas, err
		}
		if req.AmountIn, err = wordUint256(args, 2); err != nil {
			return nil, remainingGas, err
		}
		if req.MinAmountOut, err = wordUint256(args, 3); err != nil {
			return nil, remainingGas, err
		}
		if req.To, err = wordAddress(args, 4); err != nil {
			return nil, remainingGas, err
		}
		if req.GasLimit, err = wordUint64(args, 5); err != nil {
			return nil, remainingGas, err
		}
		if req.SubmitDeadline, err = wordUint64(args, 6); err != nil {
			return nil, remainingGas, err
		}
		id, digest, err = p.engine.SubmitSell(env, db, req)

	default: // SelectorSubmitBuy
		req := &BuyRequest{}
		if req.TokenIn, err = wordAddress(args, 0); err != nil {
			return nil, remainingGas, err
		}
		if req.TokenOut, err = wordAddress(args, 1); err != nil {
			return nil, remainingGas, err
		}
		if req.MaxAmountIn, err = wordUint256(args, 2); err != nil {
			return nil, remainingGas, err
		}
		if req.AmountOut, err = wordUint256(args, 3); err != nil {
			return nil, remainingGas, err
		}
		if req.To, err = wordAddress(args, 4); err != nil {
			return nil, remainingGas, err
		}
		if req.GasLimit, err = wordUint64(args, 5); err != nil {
			return nil, remainingGas, err
		}
		if req.SubmitDeadline, err = wordUint64(args, 6); err != nil {
			return nil, remainingGas, err
		}
		id, digest, err = p.engine.SubmitBuy(env, db, req)
	}
	if err != nil {
		return nil, remainingGas, err
	}
	return packSubmitReturn(id, digest), remainingGas, nil
}

// runID dispatches one-argument mutating operations.
func (p *delayPrecompile) runID(env Env, db contract.StateDB, args []byte, suppliedGas uint64, readOnly bool, cost uint64, fn func(Env, contract.StateDB, uint64) error) ([]byte, uint64, error) {
	remainingGas, err := contract.DeductGas(suppliedGas, cost)
	if err != nil {
		return nil, 0, err
	}
	if readOnly {
		return nil, remainingGas, ErrReadOnly
	}
	id, err := wordUint64(args, 0)
	if err != nil {
		return nil, remainingGas, err
	}
	if err := fn(env, db, id); err != nil {
		return nil, remainingGas, err
	}
	return nil, remainingGas, nil
}

func (p *delayPrecompile) runQuery(selector [4]byte, env Env, db contract.StateDB, args []byte, suppliedGas uint64, readOnly bool) ([]byte, uint64, error) {
	remainingGas, err := contract.DeductGas(suppliedGas, GasQuery)
	if err != nil {
		return nil, 0, err
	}

	switch selector {
	case SelectorOrderStatus:
		id, err := wordUint64(args, 0)
		if err != nil {
			return nil, remainingGas, err
		}
		st := p.engine.OrderStatus(db, id, env.Timestamp)
		return contract.PackUint64(uint64(st)), remainingGas, nil

	case SelectorOrderDigest:
		id, err := wordUint64(args, 0)
		if err != nil {
			return nil, remainingGas, err
		}
		digest := p.engine.queue.DigestOf(db, id)
		return digest.Bytes(), remainingGas, nil

	case SelectorCurrentGasPrice:
		return contract.PackUint256(p.engine.CurrentGasPrice(db)), remainingGas, nil

	case SelectorNewestOrderID:
		return contract.PackUint64(p.engine.queue.NewestID(db)), remainingGas, nil

	case SelectorLastProcessedID:
		qi, err := wordUint64(args, 0)
		if err != nil {
			return nil, remainingGas, err
		}
		if qi >= uint64(orders.NumQueues) {
			return nil, remainingGas, ErrInvalidInput
		}
		return contract.PackUint64(p.engine.queue.LastProcessedID(db, orders.QueueIndex(qi))), remainingGas, nil

	case SelectorOwner:
		return contract.PackAddress(p.engine.Owner(db)), remainingGas, nil

	case SelectorDelayOf:
		return contract.PackUint64(p.engine.Delay(db)), remainingGas, nil

	case SelectorGasPriceInertia:
		return contract.PackUint64(p.engine.GasPriceInertia(db)), remainingGas, nil

	case SelectorMaxGasPriceDrift:
		return contract.PackUint64(p.engine.MaxGasPriceImpact(db)), remainingGas, nil

	case SelectorGasLimitRange:
		min, max := p.engine.GasLimitRange(db)
		out := make([]byte, 0, 2*contract.WordSize)
		out = append(out, contract.PackUint64(min)...)
		out = append(out, contract.PackUint64(max)...)
		return out, remainingGas, nil

	case SelectorToleranceOf:
		a, err := wordAddress(args, 0)
		if err != nil {
			return nil, remainingGas, err
		}
		b, err := wordAddress(args, 1)
		if err != nil {
			return nil, remainingGas, err
		}
		return contract.PackUint64(p.engine.Tolerance(db, NewPairKey(a, b))), remainingGas, nil

	case SelectorTransferCostOf:
		token, err := wordAddress(args, 0)
		if err != nil {
			return nil, remainingGas, err
		}
		return contract.PackUint64(p.engine.TransferGasCost(db, token)), remainingGas, nil

	case SelectorIsBot:
		bot, err := wordAddress(args, 0)
		if err != nil {
			return nil, remainingGas, err
		}
		return contract.PackBool(p.engine.IsBot(db, bot)), remainingGas, nil

	case SelectorIsOrderDisabled:
		a, err := wordAddress(args, 0)
		if err != nil {
			return nil, remainingGas, err
		}
		b, err := wordAddress(args, 1)
		if err != nil {
			return nil, remainingGas, err
		}
		qi, err := wordUint64(args, 2)
		if err != nil {
			return nil, remainingGas, err
		}
		if qi >= uint64(orders.NumQueues) {
			return nil, remainingGas, ErrInvalidInput
		}
		disabled := p.engine.IsDisabled(db, NewPairKey(a, b), orders.QueueIndex(qi))
		return contract.PackBool(disabled), remainingGas, nil

	default:
		// Not a view; hand the undeducted gas to the admin dispatch so
		// setters pay GasAdminWrite alone.
		return p.runAdmin(selector, env, db, args, suppliedGas, readOnly)
	}
}

func (p *delayPrecompile) runAdmin(selector [4]byte, env Env, db contract.StateDB, args []byte, suppliedGas uint64, readOnly bool) ([]byte, uint64, error) {
	remainingGas, err := contract.DeductGas(suppliedGas, GasAdminWrite)
	if err != nil {
		return nil, 0, err
	}
	if readOnly {
		return nil, remainingGas, ErrReadOnly
	}

	switch selector {
	case SelectorSetDelay:
		v, err := wordUint64(args, 0)
		if err != nil {
			return nil, remainingGas, err
		}
		return nil, remainingGas, p.engine.SetDelay(env, db, v)

	case SelectorSetGasPriceInertia:
		v, err := wordUint64(args, 0)
		if err != nil {
			return nil, remainingGas, err
		}
		return nil, remainingGas, p.engine.SetGasPriceInertia(env, db, v)

	case SelectorSetMaxGasPriceImpact:
		v, err := wordUint64(args, 0)
		if err != nil {
			return nil, remainingGas, err
		}
		return nil, remainingGas, p.engine.SetMaxGasPriceImpact(env, db, v)

	case SelectorSetGasLimitRange:
		min, err := wordUint64(args, 0)
		if err != nil {
			return nil, remainingGas, err
		}
		max, err := wordUint64(args, 1)
		if err != nil {
			return nil, remainingGas, err
		}
		return nil, remainingGas, p.engine.SetGasLimitRange(env, db, min, max)

	case SelectorSetOrderDisabled:
		a, err := wordAddress(args, 0)
		if err != nil {
			return nil, remainingGas, err
		}
		b, err := wordAddress(args, 1)
		if err != nil {
			return nil, remainingGas, err
		}
		qi, err := wordUint64(args, 2)
		if err != nil {
			return nil, remainingGas, err
		}
		if qi >= uint64(orders.NumQueues) {
			return nil, remainingGas, ErrInvalidInput
		}
		disabled, err := wordBool(args, 3)
		if err != nil {
			return nil, remainingGas, err
		}
		return nil, remainingGas, p.engine.SetOrderDisabled(env, db, a, b, orders.QueueIndex(qi), disabled)

	case SelectorSetTolerance:
		a, err := wordAddress(args, 0)
		if err != nil {
			return nil, remainingGas, err
		}
		b, err := wordAddress(args, 1)
		if err != nil {
			return nil, remainingGas, err
		}
		bps, err := wordUint64(args, 2)
		if err != nil {
			return nil, remainingGas, err
		}
		return nil, remainingGas, p.engine.SetTolerance(env, db, a, b, bps)

	case SelectorSetTransferGasCost:
		token, err := wordAddress(args, 0)
		if err != nil {
			return nil, remainingGas, err
		}
		cost, err := wordUint64(args, 1)
		if err != nil {
			return nil, remainingGas, err
		}
		return nil, remainingGas, p.engine.SetTransferGasCost(env, db, token, cost)

	case SelectorTransferOwnership:
		newOwner, err := wordAddress(args, 0)
		if err != nil {
			return nil, remainingGas, err
		}
		return nil, remainingGas, p.engine.TransferOwnership(env, db, newOwner)

	case SelectorSetBot:
		bot, err := wordAddress(args, 0)
		if err != nil {
			return nil, remainingGas, err
		}
		enabled, err := wordBool(args, 1)
		if err != nil {
			return nil, remainingGas, err
		}
		return nil, remainingGas, p.engine.SetBot(env, db, bot, enabled)

	default:
		return nil, remainingGas, ErrInvalidInput
	}
}

type configurator struct{}

func (*configurator) MakeConfig() precompileconfig.Config {
	return &Config{}
}

// Configure seeds the administrative owner and the initial gas-price
// estimate at activation.
func (*configurator) Configure(
	chainConfig precompileconfig.ChainConfig,
	cfg precompileconfig.Config,
	state contract.StateDB,
	blockContext contract.ConfigurationBlockContext,
) error {
	config, ok := cfg.(*Config)
	if !ok {
		return ErrInvalidInput
	}
	e := NewEngine()
	if config.Owner != (common.Address{}) {
		e.setAddressParam(state, e.slot(ownerPrefix), config.Owner)
	}
	if config.InitialGasPrice != 0 {
		e.storeGasPrice(state, uint256.NewInt(config.InitialGasPrice))
	}
	return nil
}

// Config activates the precompile and seeds its initial parameters.
type Config struct {
	precompileconfig.Upgrade

	// Owner is the initial administrative owner.
	Owner common.Address `json:"owner,omitempty"`
	// InitialGasPrice seeds the fee estimator, in wei. Must sit on the
	// estimator's truncation grid.
	InitialGasPrice uint64 `json:"initialGasPrice,omitempty"`
}

func (*Config) Key() string { return ConfigKey }

func (c *Config) Timestamp() *uint64 { return c.Upgrade.Timestamp() }

func (c *Config) IsDisabled() bool { return c.Upgrade.Disable }

func (c *Config) Equal(cfg precompileconfig.Config) bool {
	other, ok := cfg.(*Config)
	if !ok {
		return false
	}
	return c.Upgrade.Equal(&other.Upgrade) &&
		c.Owner == other.Owner &&
		c.InitialGasPrice == other.InitialGasPrice
}

func (c *Config) Verify(chainConfig precompileconfig.ChainConfig) error {
	if c.InitialGasPrice%GasPriceStep != 0 {
		return ErrInvalidParameter
	}
	return nil
}
