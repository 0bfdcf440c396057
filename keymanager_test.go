// keymanager_test.go: Tests for key material ownership and lifecycle.
//
// Copyright (c) 2025 Kryptand Labs
// Series: a Kryptand library
// SPDX-License-Identifier: MPL-2.0

package aegis

import (
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyManagerGenerateKeyPairs(t *testing.T) {
	km := NewKeyManager()

	for _, typ := range []KeyPairType{KeyPairSigning, KeyPairExchange, KeyPairRSA2048} {
		info, err := km.GenerateKeyPair(typ)
		require.NoError(t, err, "generate %s", typ)
		assert.Equal(t, typ, info.Type)
		assert.Equal(t, 1, info.Version)
		assert.NotEmpty(t, info.Public)
		assert.True(t, km.HasKeyPair(typ))
	}

	_, err := km.GenerateKeyPair(KeyPairType("dsa"))
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestKeyManagerPublicKeyUnavailable(t *testing.T) {
	km := NewKeyManager()

	_, err := km.PublicKey(KeyPairSigning)
	assert.ErrorIs(t, err, ErrKeyUnavailable)

	_, err = km.Sign([]byte("data"))
	assert.ErrorIs(t, err, ErrKeyUnavailable)

	_, err = km.SharedSecret(make([]byte, 32))
	assert.ErrorIs(t, err, ErrKeyUnavailable)
}

func TestKeyManagerSign(t *testing.T) {
	km := NewKeyManager()
	_, err := km.GenerateKeyPair(KeyPairSigning)
	require.NoError(t, err)

	data := []byte("to be signed")
	sig, err := km.Sign(data)
	require.NoError(t, err)

	pub, err := km.PublicKey(KeyPairSigning)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(pub, data, sig))
}

func TestKeyManagerSharedSecretAgreement(t *testing.T) {
	alice := NewKeyManager()
	bob := NewKeyManager()

	_, err := alice.GenerateKeyPair(KeyPairExchange)
	require.NoError(t, err)
	_, err = bob.GenerateKeyPair(KeyPairExchange)
	require.NoError(t, err)

	alicePub, err := alice.PublicKey(KeyPairExchange)
	require.NoError(t, err)
	bobPub, err := bob.PublicKey(KeyPairExchange)
	require.NoError(t, err)

	s1, err := alice.SharedSecret(bobPub)
	require.NoError(t, err)
	s2, err := bob.SharedSecret(alicePub)
	require.NoError(t, err)
	assert.Equal(t, s1, s2, "both sides must derive the same secret")
}

func TestKeyManagerSymmetricLifecycle(t *testing.T) {
	km := NewKeyManager()

	_, ok := km.SymmetricKey(AES256GCM)
	assert.False(t, ok)

	require.NoError(t, km.GenerateSymmetric(AES256GCM))
	key, ok := km.SymmetricKey(AES256GCM)
	require.True(t, ok)
	assert.Len(t, key, 32)

	// Returned slice is a copy; mutating it must not affect the manager.
	original := append([]byte(nil), key...)
	key[0] ^= 0xFF
	again, ok := km.SymmetricKey(AES256GCM)
	require.True(t, ok)
	assert.Equal(t, original, again)
}

func TestKeyManagerStoreSymmetricValidatesSize(t *testing.T) {
	km := NewKeyManager()
	err := km.StoreSymmetricKey(AES256GCM, make([]byte, 16), false)
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestKeyManagerRotationKeepsPrevious(t *testing.T) {
	km := NewKeyManager()
	require.NoError(t, km.GenerateSymmetric(AES256GCM))
	first, _ := km.SymmetricKey(AES256GCM)

	require.NoError(t, km.GenerateSymmetric(AES256GCM))
	second, _ := km.SymmetricKey(AES256GCM)
	assert.NotEqual(t, first, second)

	prev, ok := km.PreviousSymmetricKey(AES256GCM)
	require.True(t, ok)
	assert.Equal(t, first, prev, "previous generation must survive one rotation")
}

func TestKeyManagerEphemeralNotRetained(t *testing.T) {
	km := NewKeyManager()
	require.NoError(t, km.DeriveAndStoreSessionKey([]byte("secret-one"), AES256GCM, true))
	require.NoError(t, km.DeriveAndStoreSessionKey([]byte("secret-two"), AES256GCM, true))

	_, ok := km.PreviousSymmetricKey(AES256GCM)
	assert.False(t, ok, "ephemeral keys must not be retained after replacement")
}

func TestKeyManagerRotate(t *testing.T) {
	km := NewKeyManager()
	_, err := km.GenerateKeyPair(KeyPairSigning)
	require.NoError(t, err)
	require.NoError(t, km.GenerateSymmetric(ChaCha20Poly1305))

	oldPub, _ := km.PublicKey(KeyPairSigning)
	oldKey, _ := km.SymmetricKey(ChaCha20Poly1305)

	require.NoError(t, km.Rotate())

	newPub, _ := km.PublicKey(KeyPairSigning)
	newKey, _ := km.SymmetricKey(ChaCha20Poly1305)
	assert.NotEqual(t, oldPub, newPub)
	assert.NotEqual(t, oldKey, newKey)

	prev, ok := km.PreviousSymmetricKey(ChaCha20Poly1305)
	require.True(t, ok)
	assert.Equal(t, oldKey, prev)
}

func TestKeyManagerRSARoundTrip(t *testing.T) {
	km := NewKeyManager()
	_, err := km.GenerateKeyPair(KeyPairRSA2048)
	require.NoError(t, err)

	plaintext := []byte("rsa payload")
	ciphertext, err := km.AsymmetricSeal(RSA2048, plaintext)
	require.NoError(t, err)

	got, err := km.AsymmetricOpen(RSA2048, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)

	_, err = km.AsymmetricSeal(AES256GCM, plaintext)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	_, err = km.AsymmetricSeal(RSA4096, plaintext)
	assert.ErrorIs(t, err, ErrKeyUnavailable)
}

func TestKeyManagerClearAllIdempotent(t *testing.T) {
	km := NewKeyManager()
	km.ClearAll() // empty manager, must not panic

	_, err := km.GenerateKeyPair(KeyPairSigning)
	require.NoError(t, err)
	require.NoError(t, km.GenerateSymmetric(AES256GCM))

	km.ClearAll()
	km.ClearAll()

	assert.False(t, km.HasKeyPair(KeyPairSigning))
	_, ok := km.SymmetricKey(AES256GCM)
	assert.False(t, ok)

	_, err = km.Sign([]byte("data"))
	assert.True(t, errors.Is(err, ErrKeyUnavailable))
}

func TestKeyPairVersionIncrements(t *testing.T) {
	km := NewKeyManager()

	info, err := km.GenerateKeyPair(KeyPairSigning)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Version)

	info, err = km.GenerateKeyPair(KeyPairSigning)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Version)
}

func TestKeyManagerStoreKeyPair(t *testing.T) {
	km := NewKeyManager()

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	info, err := km.StoreKeyPair(KeyPairSigning, priv)
	require.NoError(t, err)
	assert.Equal(t, KeyPairSigning, info.Type)
	assert.Equal(t, []byte(pub), info.Public)
	assert.Equal(t, 1, info.Version)

	sig, err := km.Sign([]byte("imported"))
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(pub, []byte("imported"), sig))

	// A seed-only import derives the same public key.
	info, err = km.StoreKeyPair(KeyPairSigning, priv.Seed())
	require.NoError(t, err)
	assert.Equal(t, []byte(pub), info.Public)
	assert.Equal(t, 2, info.Version)
}

func TestKeyManagerStoreKeyPairRejectsBadMaterial(t *testing.T) {
	km := NewKeyManager()

	_, err := km.StoreKeyPair(KeyPairSigning, make([]byte, 16))
	assert.True(t, errors.Is(err, ErrInvalidKeySize))

	_, err = km.StoreKeyPair(KeyPairExchange, make([]byte, 16))
	assert.True(t, errors.Is(err, ErrInvalidKeySize))

	_, err = km.StoreKeyPair(KeyPairRSA2048, []byte("not der"))
	assert.True(t, errors.Is(err, ErrKeyGeneration))

	_, err = km.StoreKeyPair(KeyPairType("dsa"), make([]byte, 32))
	assert.True(t, errors.Is(err, ErrUnsupportedAlgorithm))
}
