// kdf.go: Key derivation for escrow passphrases and exchanged secrets.
//
// Password-based derivation uses Argon2id; session keys derived from
// key-exchange secrets use HKDF-SHA256 (RFC 5869).
//
// Copyright (c) 2025 Kryptand Labs
// Series: a Kryptand library
// SPDX-License-Identifier: MPL-2.0

package aegis

import (
	"crypto/sha256"
	"fmt"
	"io"

	goerrors "github.com/agilira/go-errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// Default Argon2id parameters. A balance between security and derivation
// latency for interactive escrow operations.
const (
	// DefaultKDFTime is the default number of Argon2id iterations.
	DefaultKDFTime = 3

	// DefaultKDFMemory is the default Argon2id memory usage in MB.
	DefaultKDFMemory = 64

	// DefaultKDFThreads is the default Argon2id parallelism.
	DefaultKDFThreads = 4
)

// KDFParams defines custom parameters for Argon2id key derivation. A zero
// field falls back to the library default.
type KDFParams struct {
	// Time is the number of iterations. If zero, DefaultKDFTime is used.
	Time uint32 `json:"time,omitempty"`

	// Memory is the memory usage in MB. If zero, DefaultKDFMemory is used.
	Memory uint32 `json:"memory,omitempty"`

	// Threads is the parallelism degree. If zero, DefaultKDFThreads is used.
	Threads uint8 `json:"threads,omitempty"`
}

// HighSecurityKDFParams returns Argon2id parameters for protecting
// long-lived escrow material where derivation latency is acceptable.
//
// Parameters: Time=5, Memory=128MB, Threads=4
func HighSecurityKDFParams() *KDFParams {
	return &KDFParams{Time: 5, Memory: 128, Threads: 4}
}

// FastKDFParams returns Argon2id parameters for tests and development.
//
// Parameters: Time=1, Memory=32MB, Threads=2
func FastKDFParams() *KDFParams {
	return &KDFParams{Time: 1, Memory: 32, Threads: 2}
}

// DeriveKey derives a key from a passphrase and salt using Argon2id.
//
// Pass nil params to use the library defaults. The salt must be random and
// at least a few bytes long; DeriveKey rejects empty inputs.
func DeriveKey(password, salt []byte, keyLen int, params *KDFParams) ([]byte, error) {
	if len(password) == 0 {
		return nil, goerrors.New("AEGIS_EMPTY_PASSWORD", "password cannot be empty")
	}
	if len(salt) == 0 {
		return nil, goerrors.New("AEGIS_EMPTY_SALT", "salt cannot be empty")
	}
	if keyLen <= 0 {
		return nil, goerrors.New("AEGIS_INVALID_KEYLEN", "key length must be positive")
	}

	time := uint32(DefaultKDFTime)
	memory := uint32(DefaultKDFMemory * 1024)
	threads := uint8(DefaultKDFThreads)
	if params != nil {
		if params.Time > 0 {
			time = params.Time
		}
		if params.Memory > 0 {
			memory = params.Memory * 1024
		}
		if params.Threads > 0 {
			threads = params.Threads
		}
	}

	// Type conversions are safe due to parameter validation above.
	key := argon2.IDKey(password, salt, time, memory, threads, uint32(keyLen)) // #nosec G115
	return key, nil
}

// DeriveSessionKey derives a symmetric key for the given algorithm from a
// key-exchange shared secret using HKDF-SHA256.
//
// The info string binds the output to the algorithm so the same secret never
// yields the same key bytes for two different ciphers. Both endpoints of an
// exchange derive identical keys because the derivation depends only on the
// shared secret and the algorithm tag.
//
// Security: HKDF is designed for high-entropy inputs such as ECDH secrets.
// For passphrase-based derivation use DeriveKey with Argon2id instead.
func DeriveSessionKey(sharedSecret []byte, t EncryptionType) ([]byte, error) {
	if len(sharedSecret) == 0 {
		richErr := goerrors.New(ErrCodeKeyGeneration, "shared secret cannot be empty")
		return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, richErr)
	}
	size := t.KeySize()
	if size == 0 {
		richErr := goerrors.New(ErrCodeUnsupportedAlgo, fmt.Sprintf("cannot derive a session key for %s", t))
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedAlgorithm, richErr)
	}

	key := make([]byte, size)
	r := hkdf.New(sha256.New, sharedSecret, nil, []byte("aegis/session/"+string(t)))
	if _, err := io.ReadFull(r, key); err != nil {
		richErr := goerrors.Wrap(err, ErrCodeKeyGeneration, "HKDF expansion failed")
		return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, richErr)
	}
	return key, nil
}
