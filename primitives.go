// primitives.go: Cryptographic primitive providers over byte buffers.
//
// Symmetric AEAD ciphers (AES-GCM, ChaCha20-Poly1305), the RSA-OAEP
// asymmetric path, Ed25519 signatures and SHA-256 hashing. All functions are
// pure over their inputs; AEAD instances are cached per key fingerprint to
// avoid cipher re-initialization on hot paths.
//
// Copyright (c) 2025 Kryptand Labs
// Series: a Kryptand library
// SPDX-License-Identifier: MPL-2.0

package aegis

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	goerrors "github.com/agilira/go-errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// EncryptionType tags the algorithm used for a payload. The string values
// are the wire-format enum tags of SecureTransmissionPacket.
type EncryptionType string

const (
	AES256GCM        EncryptionType = "AES_256_GCM"
	AES128GCM        EncryptionType = "AES_128_GCM"
	ChaCha20Poly1305 EncryptionType = "CHACHA20_POLY1305"
	RSA2048          EncryptionType = "RSA_2048"
	RSA4096          EncryptionType = "RSA_4096"
)

// Valid reports whether t is part of the supported algorithm registry.
func (t EncryptionType) Valid() bool {
	switch t {
	case AES256GCM, AES128GCM, ChaCha20Poly1305, RSA2048, RSA4096:
		return true
	}
	return false
}

// Symmetric reports whether t selects the symmetric (AEAD) encryption path.
func (t EncryptionType) Symmetric() bool {
	switch t {
	case AES256GCM, AES128GCM, ChaCha20Poly1305:
		return true
	}
	return false
}

// KeySize returns the required symmetric key size in bytes, or 0 for
// asymmetric types.
func (t EncryptionType) KeySize() int {
	switch t {
	case AES256GCM, ChaCha20Poly1305:
		return 32
	case AES128GCM:
		return 16
	}
	return 0
}

// rsaBits returns the modulus size for RSA types, or 0 otherwise.
func (t EncryptionType) rsaBits() int {
	switch t {
	case RSA2048:
		return 2048
	case RSA4096:
		return 4096
	}
	return 0
}

// AEAD cache keyed by algorithm and key fingerprint. Avoids the
// aes.NewCipher + cipher.NewGCM overhead on every call.
var (
	aeadCacheMu sync.RWMutex
	aeadCache   = make(map[string]cipher.AEAD)
)

// cachedAEAD returns a cached AEAD for the key and algorithm, creating and
// caching it when missing.
func cachedAEAD(t EncryptionType, key []byte) (cipher.AEAD, error) {
	cacheKey := string(t) + "/" + KeyFingerprint(key)

	aeadCacheMu.RLock()
	if aead, ok := aeadCache[cacheKey]; ok {
		aeadCacheMu.RUnlock()
		return aead, nil
	}
	aeadCacheMu.RUnlock()

	aead, err := newAEAD(t, key)
	if err != nil {
		return nil, err
	}

	aeadCacheMu.Lock()
	aeadCache[cacheKey] = aead
	aeadCacheMu.Unlock()
	return aead, nil
}

// invalidateAEADCache drops cached ciphers for a key. Called when key
// material is cleared so wiped keys do not survive inside cached state.
func invalidateAEADCache(key []byte) {
	fp := KeyFingerprint(key)
	aeadCacheMu.Lock()
	for k := range aeadCache {
		if len(k) >= len(fp) && k[len(k)-len(fp):] == fp {
			delete(aeadCache, k)
		}
	}
	aeadCacheMu.Unlock()
}

func newAEAD(t EncryptionType, key []byte) (cipher.AEAD, error) {
	if want := t.KeySize(); len(key) != want {
		richErr := goerrors.New(ErrCodeInvalidKey, fmt.Sprintf("%s requires a %d-byte key (got %d)", t, want, len(key)))
		return nil, fmt.Errorf("%w: %w", ErrInvalidKeySize, richErr)
	}

	switch t {
	case AES256GCM, AES128GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			richErr := goerrors.Wrap(err, ErrCodeEncrypt, "failed to create AES cipher")
			return nil, fmt.Errorf("%w: %w", ErrEncrypt, richErr)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			richErr := goerrors.Wrap(err, ErrCodeEncrypt, "failed to create GCM cipher")
			return nil, fmt.Errorf("%w: %w", ErrEncrypt, richErr)
		}
		return gcm, nil
	case ChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			richErr := goerrors.Wrap(err, ErrCodeEncrypt, "failed to create ChaCha20-Poly1305 cipher")
			return nil, fmt.Errorf("%w: %w", ErrEncrypt, richErr)
		}
		return aead, nil
	}
	richErr := goerrors.New(ErrCodeUnsupportedAlgo, fmt.Sprintf("%s is not a symmetric algorithm", t))
	return nil, fmt.Errorf("%w: %w", ErrUnsupportedAlgorithm, richErr)
}

// sealSymmetric encrypts plaintext with the AEAD selected by t. The returned
// ciphertext carries the nonce as a prefix.
func sealSymmetric(t EncryptionType, key, plaintext []byte) ([]byte, error) {
	aead, err := cachedAEAD(t, key)
	if err != nil {
		return nil, err
	}

	nonceBuffer := getBuffer(aead.NonceSize())
	defer putBuffer(nonceBuffer)
	nonce := (*nonceBuffer)[:aead.NonceSize()]

	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		richErr := goerrors.Wrap(err, ErrCodeEncrypt, "failed to generate nonce")
		return nil, fmt.Errorf("%w: %w", ErrEncrypt, richErr)
	}

	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, nil), nil // #nosec G407 -- nonce is generated from crypto/rand, not hardcoded
}

// openSymmetric reverses sealSymmetric, verifying the authentication tag.
func openSymmetric(t EncryptionType, key, ciphertext []byte) ([]byte, error) {
	aead, err := cachedAEAD(t, key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize() {
		richErr := goerrors.New(ErrCodeDecrypt, "ciphertext too short")
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, richErr)
	}

	nonce := ciphertext[:aead.NonceSize()]
	plaintext, err := aead.Open(nil, nonce, ciphertext[aead.NonceSize():], nil)
	if err != nil {
		richErr := goerrors.Wrap(err, ErrCodeDecrypt, "AEAD open failed (wrong key or tampered data)")
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, richErr)
	}
	return plaintext, nil
}

// sealAsymmetric encrypts plaintext with RSA-OAEP-SHA256. OAEP bounds the
// plaintext to modulusBytes - 2*hashLen - 2; larger payloads belong on the
// symmetric path.
func sealAsymmetric(t EncryptionType, pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	if t.rsaBits() == 0 {
		richErr := goerrors.New(ErrCodeUnsupportedAlgo, fmt.Sprintf("%s is not an asymmetric algorithm", t))
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedAlgorithm, richErr)
	}
	if pub == nil {
		richErr := goerrors.New(ErrCodeKeyUnavailable, "no RSA public key")
		return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, richErr)
	}

	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		richErr := goerrors.Wrap(err, ErrCodeEncrypt, "RSA-OAEP encryption failed")
		return nil, fmt.Errorf("%w: %w", ErrEncrypt, richErr)
	}
	return ciphertext, nil
}

// openAsymmetric reverses sealAsymmetric.
func openAsymmetric(t EncryptionType, priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	if t.rsaBits() == 0 {
		richErr := goerrors.New(ErrCodeUnsupportedAlgo, fmt.Sprintf("%s is not an asymmetric algorithm", t))
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedAlgorithm, richErr)
	}
	if priv == nil {
		richErr := goerrors.New(ErrCodeKeyUnavailable, "no RSA private key")
		return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, richErr)
	}

	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		richErr := goerrors.Wrap(err, ErrCodeDecrypt, "RSA-OAEP decryption failed")
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, richErr)
	}
	return plaintext, nil
}

// signEd25519 signs data with an Ed25519 private key.
func signEd25519(priv ed25519.PrivateKey, data []byte) ([]byte, error) {
	if l := len(priv); l != ed25519.PrivateKeySize {
		richErr := goerrors.New(ErrCodeInvalidKey, fmt.Sprintf("Ed25519 private key must be %d bytes (got %d)", ed25519.PrivateKeySize, l))
		return nil, fmt.Errorf("%w: %w", ErrSign, richErr)
	}
	return ed25519.Sign(priv, data), nil
}

// verifyEd25519 reports whether sig is a valid Ed25519 signature of data.
// Malformed keys and signatures verify as false, never as an error, so the
// failure mode cannot be used to probe key validity.
func verifyEd25519(pub ed25519.PublicKey, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// hashSHA256 returns the lowercase hex SHA-256 digest of data.
func hashSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
