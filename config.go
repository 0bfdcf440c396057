// config.go: Immutable transport configuration and TOML loading.
//
// Copyright (c) 2025 Kryptand Labs
// Series: a Kryptand library
// SPDX-License-Identifier: MPL-2.0

package aegis

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	goerrors "github.com/agilira/go-errors"
)

// Default configuration values.
const (
	// DefaultKeyRotationInterval is how often key material should be rotated
	// when the caller does not configure an interval.
	DefaultKeyRotationInterval = 24 * time.Hour

	// DefaultMaxPacketAge is the staleness cutoff applied by SecureReceive.
	DefaultMaxPacketAge = 5 * time.Minute
)

// Config is the immutable configuration of a TransportManager.
//
// A Config value is copied on construction and never mutated afterwards;
// to change settings, build a new Config and a new manager.
type Config struct {
	// ClientID identifies this endpoint and is used as the packet sender.
	ClientID string

	// DefaultEncryptionType is used when an operation does not name an
	// algorithm explicitly.
	DefaultEncryptionType EncryptionType

	// KeyRotationInterval is the scheduled key rotation period.
	KeyRotationInterval time.Duration

	// MaxPacketAge is the staleness cutoff for received packets. Packets
	// whose embedded timestamp is older are rejected before any
	// cryptographic work.
	MaxPacketAge time.Duration

	// EnablePerfectForwardSecrecy restricts exchange-derived session keys to
	// a single session: they are replaced on every key exchange and excluded
	// from key escrow.
	EnablePerfectForwardSecrecy bool

	// EnableKeyEscrow allows exporting wrapped key material for compliance
	// scenarios. Escrow operations fail when this is false.
	EnableKeyEscrow bool
}

// DefaultConfig returns a Config with secure defaults for the given client.
func DefaultConfig(clientID string) Config {
	return Config{
		ClientID:              clientID,
		DefaultEncryptionType: AES256GCM,
		KeyRotationInterval:   DefaultKeyRotationInterval,
		MaxPacketAge:          DefaultMaxPacketAge,
	}
}

// Validate checks the configuration for values the transport cannot run with.
func (c Config) Validate() error {
	if c.ClientID == "" {
		return goerrors.New(ErrCodeConfig, "client ID cannot be empty")
	}
	if !c.DefaultEncryptionType.Valid() {
		return goerrors.New(ErrCodeConfig, fmt.Sprintf("unknown default encryption type %q", c.DefaultEncryptionType))
	}
	if c.MaxPacketAge <= 0 {
		return goerrors.New(ErrCodeConfig, "max packet age must be positive")
	}
	if c.KeyRotationInterval < 0 {
		return goerrors.New(ErrCodeConfig, "key rotation interval cannot be negative")
	}
	return nil
}

// fileConfig is the on-disk TOML shape. Durations are carried as integer
// milliseconds on the wire and in files.
type fileConfig struct {
	ClientID                    string `toml:"client_id"`
	DefaultEncryptionType       string `toml:"default_encryption_type"`
	KeyRotationIntervalMS       int64  `toml:"key_rotation_interval_ms"`
	MaxPacketAgeMS              int64  `toml:"max_packet_age_ms"`
	EnablePerfectForwardSecrecy bool   `toml:"enable_perfect_forward_secrecy"`
	EnableKeyEscrow             bool   `toml:"enable_key_escrow"`
}

// LoadConfig reads a Config from a TOML file. Unset fields fall back to the
// defaults of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		richErr := goerrors.Wrap(err, ErrCodeConfig, "failed to decode config file")
		return Config{}, fmt.Errorf("load config: %w", richErr)
	}

	cfg := DefaultConfig(fc.ClientID)
	if fc.DefaultEncryptionType != "" {
		cfg.DefaultEncryptionType = EncryptionType(fc.DefaultEncryptionType)
	}
	if fc.KeyRotationIntervalMS > 0 {
		cfg.KeyRotationInterval = time.Duration(fc.KeyRotationIntervalMS) * time.Millisecond
	}
	if fc.MaxPacketAgeMS > 0 {
		cfg.MaxPacketAge = time.Duration(fc.MaxPacketAgeMS) * time.Millisecond
	}
	cfg.EnablePerfectForwardSecrecy = fc.EnablePerfectForwardSecrecy
	cfg.EnableKeyEscrow = fc.EnableKeyEscrow

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
