// keymanager.go: Ownership and lifecycle of asymmetric and symmetric key material.
//
// The KeyManager is the only component that holds raw private keys. Every
// other component requests derived operations (sign, shared-secret, RSA
// open) through it; private key bytes never cross the manager boundary.
//
// Copyright (c) 2025 Kryptand Labs
// Series: a Kryptand library
// SPDX-License-Identifier: MPL-2.0

package aegis

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"io"
	"sync"
	"time"

	goerrors "github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
	"golang.org/x/crypto/curve25519"
)

// KeyPairType selects the kind of asymmetric key pair.
type KeyPairType string

const (
	// KeyPairSigning is an Ed25519 pair used to sign packet ciphertext.
	KeyPairSigning KeyPairType = "ed25519"

	// KeyPairExchange is an X25519 pair used for ECDH key exchange.
	KeyPairExchange KeyPairType = "x25519"

	// KeyPairRSA2048 and KeyPairRSA4096 are RSA pairs for the asymmetric
	// encryption path.
	KeyPairRSA2048 KeyPairType = "rsa-2048"
	KeyPairRSA4096 KeyPairType = "rsa-4096"
)

// Valid reports whether t names a supported key pair type.
func (t KeyPairType) Valid() bool {
	switch t {
	case KeyPairSigning, KeyPairExchange, KeyPairRSA2048, KeyPairRSA4096:
		return true
	}
	return false
}

// KeyPairInfo is the opaque public handle returned for a generated pair.
// It never contains private material.
type KeyPairInfo struct {
	Type      KeyPairType `json:"type"`
	Public    []byte      `json:"public"`
	Version   int         `json:"version"`
	CreatedAt time.Time   `json:"created_at"`
}

// keyPair is the internal representation, private material included.
type keyPair struct {
	typ       KeyPairType
	public    []byte
	edPriv    ed25519.PrivateKey
	xPriv     []byte
	rsaPriv   *rsa.PrivateKey
	version   int
	createdAt time.Time
}

func (kp *keyPair) info() KeyPairInfo {
	pub := make([]byte, len(kp.public))
	copy(pub, kp.public)
	return KeyPairInfo{Type: kp.typ, Public: pub, Version: kp.version, CreatedAt: kp.createdAt}
}

// wipe zeroizes the pair's private material.
func (kp *keyPair) wipe() {
	Zeroize(kp.edPriv)
	Zeroize(kp.xPriv)
	kp.edPriv = nil
	kp.xPriv = nil
	kp.rsaPriv = nil
}

// KeyManager owns the active key pairs and per-algorithm symmetric keys.
type KeyManager struct {
	mu        sync.RWMutex
	pairs     map[KeyPairType]*keyPair
	previous  map[KeyPairType]*keyPair
	symmetric map[EncryptionType][]byte
	prevSym   map[EncryptionType][]byte
	ephemeral map[EncryptionType]bool
	now       func() time.Time
}

// NewKeyManager creates an empty key manager. Key material is created on
// explicit request, never implicitly.
func NewKeyManager() *KeyManager {
	return &KeyManager{
		pairs:     make(map[KeyPairType]*keyPair),
		previous:  make(map[KeyPairType]*keyPair),
		symmetric: make(map[EncryptionType][]byte),
		prevSym:   make(map[EncryptionType][]byte),
		ephemeral: make(map[EncryptionType]bool),
		now:       timecache.CachedTime,
	}
}

// GenerateKeyPair generates and stores a fresh key pair of the given type,
// replacing the current one (the replaced pair is kept as the previous
// generation for legacy decryption). All randomness comes from crypto/rand.
func (km *KeyManager) GenerateKeyPair(t KeyPairType) (KeyPairInfo, error) {
	pair, err := generatePair(t)
	if err != nil {
		return KeyPairInfo{}, err
	}

	km.mu.Lock()
	defer km.mu.Unlock()
	km.installPairLocked(t, pair)
	return pair.info(), nil
}

// StoreKeyPair imports externally generated private key material and installs
// it as the current pair of the given type. Accepted formats: Ed25519 seed
// (32 bytes) or full private key (64 bytes); X25519 scalar (32 bytes); RSA
// PKCS#8 DER. The input slice is copied; the caller should zeroize its copy.
func (km *KeyManager) StoreKeyPair(t KeyPairType, private []byte) (KeyPairInfo, error) {
	pair, err := importPair(t, private)
	if err != nil {
		return KeyPairInfo{}, err
	}

	km.mu.Lock()
	defer km.mu.Unlock()
	km.installPairLocked(t, pair)
	return pair.info(), nil
}

// installPairLocked makes pair current, archiving any existing pair of the
// same type as the previous generation. Caller holds km.mu.
func (km *KeyManager) installPairLocked(t KeyPairType, pair *keyPair) {
	if old, ok := km.pairs[t]; ok {
		pair.version = old.version + 1
		if prev, ok := km.previous[t]; ok {
			prev.wipe()
		}
		km.previous[t] = old
	} else {
		pair.version = 1
	}
	pair.createdAt = km.now()
	km.pairs[t] = pair
}

func importPair(t KeyPairType, private []byte) (*keyPair, error) {
	switch t {
	case KeyPairSigning:
		var priv ed25519.PrivateKey
		switch len(private) {
		case ed25519.SeedSize:
			priv = ed25519.NewKeyFromSeed(private)
		case ed25519.PrivateKeySize:
			priv = make(ed25519.PrivateKey, ed25519.PrivateKeySize)
			copy(priv, private)
		default:
			richErr := goerrors.New(ErrCodeInvalidKey, fmt.Sprintf("ed25519 private key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(private)))
			return nil, fmt.Errorf("%w: %w", ErrInvalidKeySize, richErr)
		}
		pub := append([]byte(nil), priv.Public().(ed25519.PublicKey)...)
		return &keyPair{typ: t, public: pub, edPriv: priv}, nil
	case KeyPairExchange:
		if len(private) != curve25519.ScalarSize {
			richErr := goerrors.New(ErrCodeInvalidKey, fmt.Sprintf("x25519 scalar must be %d bytes, got %d", curve25519.ScalarSize, len(private)))
			return nil, fmt.Errorf("%w: %w", ErrInvalidKeySize, richErr)
		}
		priv := append([]byte(nil), private...)
		pub, err := curve25519.X25519(priv, curve25519.Basepoint)
		if err != nil {
			Zeroize(priv)
			richErr := goerrors.Wrap(err, ErrCodeKeyGeneration, "failed to derive X25519 public key")
			return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, richErr)
		}
		return &keyPair{typ: t, public: pub, xPriv: priv}, nil
	case KeyPairRSA2048, KeyPairRSA4096:
		parsed, err := x509.ParsePKCS8PrivateKey(private)
		if err != nil {
			richErr := goerrors.Wrap(err, ErrCodeKeyGeneration, "failed to parse RSA private key")
			return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, richErr)
		}
		priv, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			richErr := goerrors.New(ErrCodeKeyGeneration, "PKCS#8 key is not RSA")
			return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, richErr)
		}
		wantBits := 2048
		if t == KeyPairRSA4096 {
			wantBits = 4096
		}
		if priv.N.BitLen() != wantBits {
			richErr := goerrors.New(ErrCodeInvalidKey, fmt.Sprintf("RSA key is %d bits, expected %d", priv.N.BitLen(), wantBits))
			return nil, fmt.Errorf("%w: %w", ErrInvalidKeySize, richErr)
		}
		pub, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
		if err != nil {
			richErr := goerrors.Wrap(err, ErrCodeKeyGeneration, "failed to marshal RSA public key")
			return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, richErr)
		}
		return &keyPair{typ: t, public: pub, rsaPriv: priv}, nil
	}
	richErr := goerrors.New(ErrCodeUnsupportedAlgo, fmt.Sprintf("unknown key pair type %q", t))
	return nil, fmt.Errorf("%w: %w", ErrUnsupportedAlgorithm, richErr)
}

func generatePair(t KeyPairType) (*keyPair, error) {
	switch t {
	case KeyPairSigning:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			richErr := goerrors.Wrap(err, ErrCodeKeyGeneration, "failed to generate Ed25519 pair")
			return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, richErr)
		}
		return &keyPair{typ: t, public: pub, edPriv: priv}, nil
	case KeyPairExchange:
		priv := make([]byte, curve25519.ScalarSize)
		if _, err := io.ReadFull(rand.Reader, priv); err != nil {
			richErr := goerrors.Wrap(err, ErrCodeKeyGeneration, "failed to generate X25519 scalar")
			return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, richErr)
		}
		pub, err := curve25519.X25519(priv, curve25519.Basepoint)
		if err != nil {
			Zeroize(priv)
			richErr := goerrors.Wrap(err, ErrCodeKeyGeneration, "failed to derive X25519 public key")
			return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, richErr)
		}
		return &keyPair{typ: t, public: pub, xPriv: priv}, nil
	case KeyPairRSA2048, KeyPairRSA4096:
		bits := 2048
		if t == KeyPairRSA4096 {
			bits = 4096
		}
		priv, err := rsa.GenerateKey(rand.Reader, bits)
		if err != nil {
			richErr := goerrors.Wrap(err, ErrCodeKeyGeneration, fmt.Sprintf("failed to generate RSA-%d pair", bits))
			return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, richErr)
		}
		pub, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
		if err != nil {
			richErr := goerrors.Wrap(err, ErrCodeKeyGeneration, "failed to marshal RSA public key")
			return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, richErr)
		}
		return &keyPair{typ: t, public: pub, rsaPriv: priv}, nil
	}
	richErr := goerrors.New(ErrCodeUnsupportedAlgo, fmt.Sprintf("unknown key pair type %q", t))
	return nil, fmt.Errorf("%w: %w", ErrUnsupportedAlgorithm, richErr)
}

// HasKeyPair reports whether a current pair of the given type exists.
func (km *KeyManager) HasKeyPair(t KeyPairType) bool {
	km.mu.RLock()
	defer km.mu.RUnlock()
	_, ok := km.pairs[t]
	return ok
}

// PublicKey returns the public half of the current pair of the given type.
func (km *KeyManager) PublicKey(t KeyPairType) ([]byte, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()

	pair, ok := km.pairs[t]
	if !ok {
		richErr := goerrors.New(ErrCodeKeyUnavailable, fmt.Sprintf("no %s key pair", t))
		return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, richErr)
	}
	pub := make([]byte, len(pair.public))
	copy(pub, pair.public)
	return pub, nil
}

// Sign signs data with the current signing pair. The private key is used
// under the read lock so a concurrent ClearAll cannot zeroize it mid-sign.
func (km *KeyManager) Sign(data []byte) ([]byte, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()

	pair, ok := km.pairs[KeyPairSigning]
	if !ok {
		richErr := goerrors.New(ErrCodeKeyUnavailable, "no signing key pair")
		return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, richErr)
	}
	return signEd25519(pair.edPriv, data)
}

// SharedSecret computes the X25519 shared secret between the current
// exchange pair and a remote public key. The secret is returned to the
// caller for immediate derivation and must be zeroized after use.
func (km *KeyManager) SharedSecret(remotePublic []byte) ([]byte, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()

	pair, ok := km.pairs[KeyPairExchange]
	if !ok {
		richErr := goerrors.New(ErrCodeKeyUnavailable, "no exchange key pair")
		return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, richErr)
	}
	secret, err := curve25519.X25519(pair.xPriv, remotePublic)
	if err != nil {
		richErr := goerrors.Wrap(err, ErrCodeKeyGeneration, "X25519 agreement failed")
		return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, richErr)
	}
	return secret, nil
}

// AsymmetricSeal encrypts plaintext under this manager's RSA public key of
// the given encryption type.
func (km *KeyManager) AsymmetricSeal(t EncryptionType, plaintext []byte) ([]byte, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()

	pair, err := km.rsaPairLocked(t)
	if err != nil {
		return nil, err
	}
	return sealAsymmetric(t, &pair.rsaPriv.PublicKey, plaintext)
}

// AsymmetricOpen decrypts ciphertext under this manager's RSA private key.
func (km *KeyManager) AsymmetricOpen(t EncryptionType, ciphertext []byte) ([]byte, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()

	pair, err := km.rsaPairLocked(t)
	if err != nil {
		return nil, err
	}
	return openAsymmetric(t, pair.rsaPriv, ciphertext)
}

// rsaPairLocked resolves the RSA pair for t. Caller holds km.mu.
func (km *KeyManager) rsaPairLocked(t EncryptionType) (*keyPair, error) {
	var pt KeyPairType
	switch t {
	case RSA2048:
		pt = KeyPairRSA2048
	case RSA4096:
		pt = KeyPairRSA4096
	default:
		richErr := goerrors.New(ErrCodeUnsupportedAlgo, fmt.Sprintf("%s is not an RSA encryption type", t))
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedAlgorithm, richErr)
	}

	pair, ok := km.pairs[pt]
	if !ok {
		richErr := goerrors.New(ErrCodeKeyUnavailable, fmt.Sprintf("no %s key pair", pt))
		return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, richErr)
	}
	return pair, nil
}

// GenerateSymmetric generates and stores a random symmetric key for the
// given algorithm, replacing any existing key for that algorithm. The
// replaced key is kept as the previous generation until the next rotation.
func (km *KeyManager) GenerateSymmetric(t EncryptionType) error {
	key, err := GenerateSymmetricKey(t)
	if err != nil {
		return err
	}
	km.storeSymmetric(t, key, false)
	return nil
}

// StoreSymmetricKey stores caller-provided symmetric key material for an
// algorithm. The key is copied; the caller keeps ownership of its slice.
func (km *KeyManager) StoreSymmetricKey(t EncryptionType, key []byte, ephemeral bool) error {
	if err := ValidateKeySize(t, key); err != nil {
		return err
	}
	dup := make([]byte, len(key))
	copy(dup, key)
	km.storeSymmetric(t, dup, ephemeral)
	return nil
}

// storeSymmetric takes ownership of key. The previous key for the algorithm
// is retained for legacy decryption unless it was ephemeral, in which case
// it is wiped immediately (perfect forward secrecy: a session key must not
// outlive its session).
func (km *KeyManager) storeSymmetric(t EncryptionType, key []byte, ephemeral bool) {
	km.mu.Lock()
	defer km.mu.Unlock()

	if old, ok := km.symmetric[t]; ok {
		if prev, ok := km.prevSym[t]; ok {
			invalidateAEADCache(prev)
			Zeroize(prev)
		}
		if km.ephemeral[t] {
			invalidateAEADCache(old)
			Zeroize(old)
			delete(km.prevSym, t)
		} else {
			km.prevSym[t] = old
		}
	}
	km.symmetric[t] = key
	km.ephemeral[t] = ephemeral
}

// DeriveAndStoreSessionKey derives a symmetric key for the algorithm from a
// key-exchange shared secret and stores it. Fails closed: on any error no
// key is stored and existing material is untouched.
func (km *KeyManager) DeriveAndStoreSessionKey(sharedSecret []byte, t EncryptionType, ephemeral bool) error {
	key, err := DeriveSessionKey(sharedSecret, t)
	if err != nil {
		return err
	}
	km.storeSymmetric(t, key, ephemeral)
	return nil
}

// SymmetricKey returns a copy of the current key for the algorithm.
func (km *KeyManager) SymmetricKey(t EncryptionType) ([]byte, bool) {
	km.mu.RLock()
	defer km.mu.RUnlock()

	key, ok := km.symmetric[t]
	if !ok {
		return nil, false
	}
	dup := make([]byte, len(key))
	copy(dup, key)
	return dup, true
}

// PreviousSymmetricKey returns a copy of the previous generation of the key
// for the algorithm, when one is retained.
func (km *KeyManager) PreviousSymmetricKey(t EncryptionType) ([]byte, bool) {
	km.mu.RLock()
	defer km.mu.RUnlock()

	key, ok := km.prevSym[t]
	if !ok {
		return nil, false
	}
	dup := make([]byte, len(key))
	copy(dup, key)
	return dup, true
}

// Rotate regenerates every stored key pair and every locally-generated
// symmetric key. The old generation of each is retained until the new one is
// stored, so there is never a window without a valid key. Exchange-derived
// session keys are left alone; they rotate through a fresh key exchange.
func (km *KeyManager) Rotate() error {
	km.mu.RLock()
	pairTypes := make([]KeyPairType, 0, len(km.pairs))
	for t := range km.pairs {
		pairTypes = append(pairTypes, t)
	}
	symTypes := make([]EncryptionType, 0, len(km.symmetric))
	for t := range km.symmetric {
		if !km.ephemeral[t] {
			symTypes = append(symTypes, t)
		}
	}
	km.mu.RUnlock()

	for _, t := range pairTypes {
		if _, err := km.GenerateKeyPair(t); err != nil {
			return fmt.Errorf("rotate %s pair: %w", t, err)
		}
	}
	for _, t := range symTypes {
		if err := km.GenerateSymmetric(t); err != nil {
			return fmt.Errorf("rotate %s key: %w", t, err)
		}
	}
	return nil
}

// ClearAll unconditionally wipes every key the manager holds. Safe to call
// repeatedly and when no keys exist.
func (km *KeyManager) ClearAll() {
	km.mu.Lock()
	defer km.mu.Unlock()

	for _, pair := range km.pairs {
		pair.wipe()
	}
	for _, pair := range km.previous {
		pair.wipe()
	}
	for t, key := range km.symmetric {
		invalidateAEADCache(key)
		Zeroize(key)
		delete(km.symmetric, t)
	}
	for t, key := range km.prevSym {
		invalidateAEADCache(key)
		Zeroize(key)
		delete(km.prevSym, t)
	}
	km.pairs = make(map[KeyPairType]*keyPair)
	km.previous = make(map[KeyPairType]*keyPair)
	km.ephemeral = make(map[EncryptionType]bool)
}
