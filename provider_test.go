// provider_test.go: Tests for provider resolution.
//
// Copyright (c) 2025 Kryptand Labs
// Series: a Kryptand library
// SPDX-License-Identifier: MPL-2.0

package aegis

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingProvider wraps the software provider and counts calls.
type recordingProvider struct {
	softwareProvider
	seals int
}

func (p *recordingProvider) Name() string { return "recording" }

func (p *recordingProvider) Seal(t EncryptionType, key, plaintext []byte) ([]byte, error) {
	p.seals++
	return p.softwareProvider.Seal(t, key, plaintext)
}

func TestProviderManagerSoftwareFallback(t *testing.T) {
	pm := NewProviderManager(nil, nil)

	p, err := pm.ProviderFor(AES256GCM)
	require.NoError(t, err)
	assert.Equal(t, "software", p.Name())

	_, err = pm.ProviderFor(RSA2048)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm, "RSA has no symmetric provider")
}

func TestProviderManagerBinding(t *testing.T) {
	pm := NewProviderManager(&ProviderManagerConfig{
		Bindings: map[string]string{string(ChaCha20Poly1305): "recording"},
	}, nil)

	rec := &recordingProvider{}
	require.NoError(t, pm.RegisterProvider(rec))

	p, err := pm.ProviderFor(ChaCha20Poly1305)
	require.NoError(t, err)
	assert.Equal(t, "recording", p.Name())

	// Unbound algorithms keep the software provider.
	p, err = pm.ProviderFor(AES256GCM)
	require.NoError(t, err)
	assert.Equal(t, "software", p.Name())

	key, _ := GenerateSymmetricKey(ChaCha20Poly1305)
	bound, _ := pm.ProviderFor(ChaCha20Poly1305)
	sealed, err := bound.Seal(ChaCha20Poly1305, key, []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.seals)

	got, err := bound.Open(ChaCha20Poly1305, key, sealed)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(got, []byte("data")))
}

func TestProviderManagerRejectsBadBindings(t *testing.T) {
	pm := NewProviderManager(&ProviderManagerConfig{
		Bindings: map[string]string{"ROT13": "recording"},
	}, nil)

	err := pm.RegisterProvider(&recordingProvider{})
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	assert.Error(t, pm.RegisterProvider(nil))
}

// stallingProvider delays every seal to exercise the operation deadline.
type stallingProvider struct {
	softwareProvider
	delay time.Duration
}

func (p stallingProvider) Name() string { return "stalling" }

func (p stallingProvider) Seal(t EncryptionType, key, plaintext []byte) ([]byte, error) {
	time.Sleep(p.delay)
	return p.softwareProvider.Seal(t, key, plaintext)
}

func TestProviderOperationTimeout(t *testing.T) {
	pm := NewProviderManager(&ProviderManagerConfig{
		Bindings:         map[string]string{string(ChaCha20Poly1305): "stalling"},
		OperationTimeout: 20 * time.Millisecond,
	}, nil)
	require.NoError(t, pm.RegisterProvider(stallingProvider{delay: 500 * time.Millisecond}))

	p, err := pm.ProviderFor(ChaCha20Poly1305)
	require.NoError(t, err)

	key, err := GenerateSymmetricKey(ChaCha20Poly1305)
	require.NoError(t, err)

	_, err = p.Seal(ChaCha20Poly1305, key, []byte("data"))
	assert.ErrorIs(t, err, ErrProviderTimeout)
}

func TestProviderOperationWithinTimeout(t *testing.T) {
	pm := NewProviderManager(&ProviderManagerConfig{
		Bindings:         map[string]string{string(ChaCha20Poly1305): "stalling"},
		OperationTimeout: 5 * time.Second,
	}, nil)
	require.NoError(t, pm.RegisterProvider(stallingProvider{delay: time.Millisecond}))

	p, err := pm.ProviderFor(ChaCha20Poly1305)
	require.NoError(t, err)

	key, err := GenerateSymmetricKey(ChaCha20Poly1305)
	require.NoError(t, err)

	sealed, err := p.Seal(ChaCha20Poly1305, key, []byte("data"))
	require.NoError(t, err)
	got, err := p.Open(ChaCha20Poly1305, key, sealed)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(got, []byte("data")))
}

func TestProviderManagerTransportIntegration(t *testing.T) {
	pm := NewProviderManager(&ProviderManagerConfig{
		Bindings: map[string]string{string(AES256GCM): "recording"},
	}, nil)
	rec := &recordingProvider{}
	require.NoError(t, pm.RegisterProvider(rec))

	mgr, err := NewTransportManager(DefaultConfig("node-a"), WithProviderManager(pm))
	require.NoError(t, err)
	require.NoError(t, mgr.Keys().GenerateSymmetric(AES256GCM))

	_, err = mgr.Encrypt([]byte("data"), AES256GCM)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.seals, "transport must route through the bound provider")
}
