// escrow.go: Passphrase-wrapped export and import of symmetric key material.
//
// Escrow exists for compliance scenarios where an operator must be able to
// recover traffic keys. It is disabled by default; exchange-derived session
// keys are excluded whenever perfect forward secrecy is enabled, since
// escrowing them would defeat it.
//
// Copyright (c) 2025 Kryptand Labs
// Series: a Kryptand library
// SPDX-License-Identifier: MPL-2.0

package aegis

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"time"

	goerrors "github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

const (
	escrowVersion  = 1
	escrowSaltSize = 16
)

// EscrowBlob is the serialized escrow container. The symmetric key set is
// sealed with AES-256-GCM under an Argon2id key derived from the operator
// passphrase and the embedded salt.
type EscrowBlob struct {
	Version   int       `json:"version"`
	Salt      []byte    `json:"salt"`
	KDF       KDFParams `json:"kdf"`
	Sealed    []byte    `json:"sealed"`
	CreatedAt time.Time `json:"created_at"`
}

type escrowPayload struct {
	Symmetric map[EncryptionType][]byte `json:"symmetric"`
}

// exportSymmetric snapshots the manager's current symmetric keys.
// Exchange-derived ephemeral keys are included only when includeEphemeral.
func (km *KeyManager) exportSymmetric(includeEphemeral bool) map[EncryptionType][]byte {
	km.mu.RLock()
	defer km.mu.RUnlock()

	out := make(map[EncryptionType][]byte, len(km.symmetric))
	for t, key := range km.symmetric {
		if km.ephemeral[t] && !includeEphemeral {
			continue
		}
		dup := make([]byte, len(key))
		copy(dup, key)
		out[t] = dup
	}
	return out
}

// ExportEscrow seals the manager's symmetric keys under a passphrase-derived
// key and returns the serialized blob. Requires EnableKeyEscrow; with
// perfect forward secrecy also enabled, session keys are left out.
func ExportEscrow(km *KeyManager, cfg Config, passphrase []byte, params *KDFParams) ([]byte, error) {
	if !cfg.EnableKeyEscrow {
		richErr := goerrors.New(ErrCodeEscrow, "key escrow is disabled in configuration")
		return nil, fmt.Errorf("%w: %w", ErrEscrowDisabled, richErr)
	}
	if len(passphrase) == 0 {
		richErr := goerrors.New(ErrCodeEscrow, "escrow passphrase cannot be empty")
		return nil, fmt.Errorf("%w: %w", ErrEscrowDisabled, richErr)
	}
	if params == nil {
		params = HighSecurityKDFParams()
	}

	keys := km.exportSymmetric(!cfg.EnablePerfectForwardSecrecy)
	defer func() {
		for _, k := range keys {
			Zeroize(k)
		}
	}()

	payload, err := json.Marshal(escrowPayload{Symmetric: keys})
	if err != nil {
		richErr := goerrors.Wrap(err, ErrCodeEscrow, "failed to serialize escrow payload")
		return nil, fmt.Errorf("%w: %w", ErrEncrypt, richErr)
	}
	defer Zeroize(payload)

	salt := make([]byte, escrowSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		richErr := goerrors.Wrap(err, ErrCodeEscrow, "failed to generate escrow salt")
		return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, richErr)
	}

	kek, err := DeriveKey(passphrase, salt, AES256GCM.KeySize(), params)
	if err != nil {
		return nil, err
	}
	defer Zeroize(kek)

	sealed, err := sealSymmetric(AES256GCM, kek, payload)
	if err != nil {
		return nil, err
	}

	blob := EscrowBlob{
		Version:   escrowVersion,
		Salt:      salt,
		KDF:       *params,
		Sealed:    sealed,
		CreatedAt: timecache.CachedTime(),
	}
	out, err := json.Marshal(blob)
	if err != nil {
		richErr := goerrors.Wrap(err, ErrCodeEscrow, "failed to serialize escrow blob")
		return nil, fmt.Errorf("%w: %w", ErrEncrypt, richErr)
	}
	return out, nil
}

// ImportEscrow unseals an escrow blob and installs the recovered symmetric
// keys, replacing any current keys for the same algorithms. Returns how
// many keys were restored. A wrong passphrase surfaces as a decryption
// failure with nothing installed.
func ImportEscrow(km *KeyManager, cfg Config, passphrase, blobBytes []byte) (int, error) {
	if !cfg.EnableKeyEscrow {
		richErr := goerrors.New(ErrCodeEscrow, "key escrow is disabled in configuration")
		return 0, fmt.Errorf("%w: %w", ErrEscrowDisabled, richErr)
	}

	var blob EscrowBlob
	if err := json.Unmarshal(blobBytes, &blob); err != nil {
		richErr := goerrors.Wrap(err, ErrCodeEscrow, "failed to parse escrow blob")
		return 0, fmt.Errorf("%w: %w", ErrDecrypt, richErr)
	}
	if blob.Version != escrowVersion {
		richErr := goerrors.New(ErrCodeEscrow, fmt.Sprintf("unsupported escrow version %d", blob.Version))
		return 0, fmt.Errorf("%w: %w", ErrDecrypt, richErr)
	}

	kek, err := DeriveKey(passphrase, blob.Salt, AES256GCM.KeySize(), &blob.KDF)
	if err != nil {
		return 0, err
	}
	defer Zeroize(kek)

	payloadBytes, err := openSymmetric(AES256GCM, kek, blob.Sealed)
	if err != nil {
		return 0, err
	}
	defer Zeroize(payloadBytes)

	var payload escrowPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		richErr := goerrors.Wrap(err, ErrCodeEscrow, "escrow payload is corrupt")
		return 0, fmt.Errorf("%w: %w", ErrDecrypt, richErr)
	}

	restored := 0
	for t, key := range payload.Symmetric {
		if err := km.StoreSymmetricKey(t, key, false); err != nil {
			Zeroize(key)
			return restored, err
		}
		Zeroize(key)
		restored++
	}
	return restored, nil
}
