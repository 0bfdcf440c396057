// keyutils.go: Key utilities for import/export, zeroization, and fingerprinting.
//
// Copyright (c) 2025 Kryptand Labs
// Series: a Kryptand library
// SPDX-License-Identifier: MPL-2.0

package aegis

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	goerrors "github.com/agilira/go-errors"
)

// KeyToBase64 encodes key material as a base64 string, for storing keys in
// text-based formats like JSON or configuration files.
func KeyToBase64(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// KeyFromBase64 decodes a base64 string back to key material.
func KeyFromBase64(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, goerrors.Wrap(err, "AEGIS_BASE64_DECODE", "failed to decode base64 key")
	}
	return key, nil
}

// KeyToHex encodes key material as a lowercase hexadecimal string.
func KeyToHex(key []byte) string {
	return hex.EncodeToString(key)
}

// KeyFromHex decodes a hexadecimal string back to key material.
func KeyFromHex(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, goerrors.Wrap(err, "AEGIS_HEX_DECODE", "failed to decode hex key")
	}
	return key, nil
}

// Zeroize securely wipes a byte slice in place.
//
// Call it on key material and plaintext buffers as soon as they are no
// longer needed so sensitive data does not linger in memory.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// KeyFingerprint generates a short non-cryptographic identifier for a key:
// the first 8 bytes of its SHA-256 digest as hex. Useful for logging and
// cache keys without exposing the key material itself. Returns "" for an
// empty key.
func KeyFingerprint(key []byte) string {
	if len(key) == 0 {
		return ""
	}
	hash := sha256.Sum256(key)
	return fmt.Sprintf("%016x", hash[:8])
}

// GenerateSymmetricKey generates a random key sized for the given symmetric
// algorithm using the cryptographically secure random source.
func GenerateSymmetricKey(t EncryptionType) ([]byte, error) {
	size := t.KeySize()
	if size == 0 {
		richErr := goerrors.New(ErrCodeUnsupportedAlgo, fmt.Sprintf("%s has no symmetric key size", t))
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedAlgorithm, richErr)
	}
	key := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		richErr := goerrors.Wrap(err, ErrCodeKeyGeneration, "failed to generate key")
		return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, richErr)
	}
	return key, nil
}

// GenerateNonce generates a cryptographically secure random nonce.
func GenerateNonce(size int) ([]byte, error) {
	if size <= 0 {
		return nil, goerrors.New("AEGIS_INVALID_NONCE_SIZE", "nonce size must be positive")
	}
	nonce := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		richErr := goerrors.Wrap(err, ErrCodeKeyGeneration, "failed to generate nonce")
		return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, richErr)
	}
	return nonce, nil
}

// ValidateKeySize checks that key material has the correct length for the
// given symmetric algorithm.
func ValidateKeySize(t EncryptionType, key []byte) error {
	want := t.KeySize()
	if want == 0 {
		richErr := goerrors.New(ErrCodeUnsupportedAlgo, fmt.Sprintf("%s has no symmetric key size", t))
		return fmt.Errorf("%w: %w", ErrUnsupportedAlgorithm, richErr)
	}
	if len(key) != want {
		richErr := goerrors.New(ErrCodeInvalidKey, fmt.Sprintf("key size must be %d bytes for %s, got %d", want, t, len(key)))
		return fmt.Errorf("%w: %w", ErrInvalidKeySize, richErr)
	}
	return nil
}
