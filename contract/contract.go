// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package contract defines the interfaces a stateful precompiled contract
// uses to interact with the host ledger: account state, block and
// transaction context, and the configuration hooks invoked at activation.
package contract

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/tracing"

	"github.com/luxfi/twapdelay/precompileconfig"
)

// StateDB is the subset of EVM state a precompile may read and mutate.
type StateDB interface {
	GetState(addr common.Address, key common.Hash) common.Hash
	SetState(addr common.Address, key common.Hash, value common.Hash) common.Hash

	GetBalance(addr common.Address) *uint256.Int
	AddBalance(addr common.Address, amount *uint256.Int, reason tracing.BalanceChangeReason) uint256.Int
	SubBalance(addr common.Address, amount *uint256.Int, reason tracing.BalanceChangeReason) uint256.Int

	GetNonce(addr common.Address) uint64
	SetNonce(addr common.Address, nonce uint64, reason tracing.NonceChangeReason)

	CreateAccount(addr common.Address)
	Exist(addr common.Address) bool
}

// BlockContext exposes the block being executed.
type BlockContext interface {
	Number() *big.Int
	Timestamp() uint64
}

// TxContext exposes the enclosing transaction.
type TxContext interface {
	GasPrice() *uint256.Int
	Origin() common.Address
}

// ConfigurationBlockContext is the block context available during
// precompile configuration (activation), before any transaction runs.
type ConfigurationBlockContext interface {
	Number() *big.Int
	Timestamp() uint64
}

// AccessibleState is the full execution context handed to Run.
type AccessibleState interface {
	GetStateDB() StateDB
	GetBlockContext() BlockContext
	GetTxContext() TxContext
}

// StatefulPrecompiledContract is a precompile with access to ledger state.
type StatefulPrecompiledContract interface {
	Run(
		accessibleState AccessibleState,
		caller common.Address,
		addr common.Address,
		input []byte,
		suppliedGas uint64,
		readOnly bool,
	) (ret []byte, remainingGas uint64, err error)
}

// Configurator applies a precompile's activation config to state.
type Configurator interface {
	MakeConfig() precompileconfig.Config
	Configure(
		chainConfig precompileconfig.ChainConfig,
		cfg precompileconfig.Config,
		state StateDB,
		blockContext ConfigurationBlockContext,
	) error
}
