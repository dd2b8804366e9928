// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package precompileconfig defines the configuration surface shared by all
// stateful precompiles: a JSON-serializable config keyed into the chain
// config, plus the upgrade block that activates or disables it.
package precompileconfig

// Config is implemented by each precompile's activation config.
type Config interface {
	// Key returns the string key used in chain config JSON.
	Key() string
	// Timestamp returns the activation timestamp, nil if never active.
	Timestamp() *uint64
	// IsDisabled reports whether this upgrade disables the precompile.
	IsDisabled() bool
	// Equal reports deep equality with another config.
	Equal(Config) bool
	// Verify checks the config's internal consistency.
	Verify(ChainConfig) error
}

// ChainConfig is the host chain configuration visible to Verify.
type ChainConfig interface {
	IsForkActivated(timestamp uint64) bool
}

// Upgrade embeds activation metadata into a precompile config.
type Upgrade struct {
	BlockTimestamp *uint64 `json:"blockTimestamp,omitempty"`
	Disable        bool    `json:"disable,omitempty"`
}

// Timestamp returns the activation timestamp of the upgrade.
func (u *Upgrade) Timestamp() *uint64 {
	return u.BlockTimestamp
}

// Equal reports whether two upgrades activate identically.
func (u *Upgrade) Equal(other *Upgrade) bool {
	if other == nil {
		return false
	}
	if u.Disable != other.Disable {
		return false
	}
	if (u.BlockTimestamp == nil) != (other.BlockTimestamp == nil) {
		return false
	}
	return u.BlockTimestamp == nil || *u.BlockTimestamp == *other.BlockTimestamp
}
