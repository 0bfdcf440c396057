// provider.go: Pluggable cryptographic primitive providers.
//
// The software provider implements every supported symmetric algorithm
// in-process. External providers (hardware modules, remote signers) are
// registered as implementations of the Provider interface and can be
// served over the go-plugins framework; the transport layer resolves the
// provider for an algorithm at operation time.
//
// Copyright (c) 2025 Kryptand Labs
// Series: a Kryptand library
// SPDX-License-Identifier: MPL-2.0

package aegis

import (
	"fmt"
	"sync"
	"time"

	goerrors "github.com/agilira/go-errors"
	goplugins "github.com/agilira/go-plugins"
)

// Provider performs symmetric sealing for a set of algorithms. Implementers
// must be safe for concurrent use.
type Provider interface {
	// Name identifies the provider in audit records.
	Name() string

	// Supports reports whether the provider handles the algorithm.
	Supports(t EncryptionType) bool

	// Seal encrypts plaintext under key. The returned ciphertext embeds
	// whatever the provider needs to open it again (nonce, tag).
	Seal(t EncryptionType, key, plaintext []byte) ([]byte, error)

	// Open reverses Seal.
	Open(t EncryptionType, key, ciphertext []byte) ([]byte, error)
}

// ProviderRequest is the wire request for plugin-served providers.
type ProviderRequest struct {
	Operation string `json:"operation"` // "seal" or "open"
	Algorithm string `json:"algorithm"`
	Key       []byte `json:"key"`
	Data      []byte `json:"data"`
}

// ProviderResponse is the plugin reply.
type ProviderResponse struct {
	Success bool   `json:"success"`
	Data    []byte `json:"data"`
	Error   string `json:"error,omitempty"`
}

// Common provider errors with codes for auditing.
var (
	ErrProviderNotFound = goerrors.New("AEGIS_PROVIDER_NOT_FOUND", "no provider registered for algorithm")
	ErrProviderRejected = goerrors.New("AEGIS_PROVIDER_REJECTED", "provider rejected the operation")
	ErrProviderTimeout  = goerrors.New("AEGIS_PROVIDER_TIMEOUT", "provider operation timed out")
)

// ProviderManagerConfig configures provider resolution.
type ProviderManagerConfig struct {
	// DefaultProvider, when set, overrides the software provider as the
	// fallback for algorithms without an explicit binding.
	DefaultProvider string `json:"default_provider"`

	// Bindings maps algorithm names to provider names.
	Bindings map[string]string `json:"bindings"`

	// OperationTimeout bounds every registered provider's seal and open
	// calls. Zero disables the bound. The built-in software provider is
	// in-process and never subject to it.
	OperationTimeout time.Duration `json:"operation_timeout"`
}

// ProviderManager resolves the provider for each algorithm. The software
// provider is always present as the fallback; registered providers take
// precedence for the algorithms bound to them.
type ProviderManager struct {
	mu            sync.RWMutex
	pluginManager *goplugins.Manager[ProviderRequest, ProviderResponse]
	providers     map[string]Provider
	byAlgo        map[EncryptionType]Provider
	software      Provider
	config        *ProviderManagerConfig
}

// NewProviderManager creates a manager with the built-in software provider.
// pluginManager may be nil when no plugin-served providers are used.
func NewProviderManager(config *ProviderManagerConfig, pluginManager *goplugins.Manager[ProviderRequest, ProviderResponse]) *ProviderManager {
	if config == nil {
		config = &ProviderManagerConfig{OperationTimeout: 10 * time.Second}
	}
	sw := softwareProvider{}
	return &ProviderManager{
		pluginManager: pluginManager,
		providers:     map[string]Provider{sw.Name(): sw},
		byAlgo:        make(map[EncryptionType]Provider),
		software:      sw,
		config:        config,
	}
}

// RegisterProvider adds a provider and binds it to the algorithms named in
// the manager configuration, or to every algorithm it supports when no
// binding mentions it.
func (pm *ProviderManager) RegisterProvider(p Provider) error {
	if p == nil {
		richErr := goerrors.New(ErrCodeConfig, "provider cannot be nil")
		return fmt.Errorf("%w: %w", ErrUnsupportedAlgorithm, richErr)
	}
	if pm.config.OperationTimeout > 0 {
		p = timeoutProvider{inner: p, timeout: pm.config.OperationTimeout}
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.providers[p.Name()] = p

	bound := false
	for algo, name := range pm.config.Bindings {
		if name != p.Name() {
			continue
		}
		t := EncryptionType(algo)
		if !t.Valid() || !t.Symmetric() {
			richErr := goerrors.New(ErrCodeUnsupportedAlgo, fmt.Sprintf("binding for provider %q names unsupported algorithm %q", name, algo))
			return fmt.Errorf("%w: %w", ErrUnsupportedAlgorithm, richErr)
		}
		if !p.Supports(t) {
			richErr := goerrors.New(ErrCodeUnsupportedAlgo, fmt.Sprintf("provider %q does not support bound algorithm %q", name, algo))
			return fmt.Errorf("%w: %w", ErrUnsupportedAlgorithm, richErr)
		}
		pm.byAlgo[t] = p
		bound = true
	}
	if !bound && pm.config.DefaultProvider == p.Name() {
		for _, t := range []EncryptionType{AES256GCM, AES128GCM, ChaCha20Poly1305} {
			if p.Supports(t) {
				pm.byAlgo[t] = p
			}
		}
	}
	return nil
}

// ProviderFor resolves the provider responsible for the algorithm.
func (pm *ProviderManager) ProviderFor(t EncryptionType) (Provider, error) {
	pm.mu.RLock()
	p, ok := pm.byAlgo[t]
	pm.mu.RUnlock()

	if ok {
		return p, nil
	}
	if pm.software.Supports(t) {
		return pm.software, nil
	}
	return nil, fmt.Errorf("%w: %w: %s", ErrUnsupportedAlgorithm, ErrProviderNotFound, t)
}

// Providers lists the registered provider names.
func (pm *ProviderManager) Providers() []string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	names := make([]string, 0, len(pm.providers))
	for name := range pm.providers {
		names = append(names, name)
	}
	return names
}

// timeoutProvider bounds another provider's operations by a deadline.
// A call that overruns is abandoned; the channel is buffered so the
// abandoned goroutine can still deliver its result and exit.
type timeoutProvider struct {
	inner   Provider
	timeout time.Duration
}

func (tp timeoutProvider) Name() string { return tp.inner.Name() }

func (tp timeoutProvider) Supports(t EncryptionType) bool { return tp.inner.Supports(t) }

func (tp timeoutProvider) Seal(t EncryptionType, key, plaintext []byte) ([]byte, error) {
	return tp.run(func() ([]byte, error) { return tp.inner.Seal(t, key, plaintext) })
}

func (tp timeoutProvider) Open(t EncryptionType, key, ciphertext []byte) ([]byte, error) {
	return tp.run(func() ([]byte, error) { return tp.inner.Open(t, key, ciphertext) })
}

type providerResult struct {
	data []byte
	err  error
}

func (tp timeoutProvider) run(op func() ([]byte, error)) ([]byte, error) {
	done := make(chan providerResult, 1)
	go func() {
		data, err := op()
		done <- providerResult{data: data, err: err}
	}()

	timer := time.NewTimer(tp.timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.data, r.err
	case <-timer.C:
		return nil, fmt.Errorf("%w: provider %q exceeded %s", ErrProviderTimeout, tp.inner.Name(), tp.timeout)
	}
}

// softwareProvider is the built-in pure-Go provider.
type softwareProvider struct{}

func (softwareProvider) Name() string { return "software" }

func (softwareProvider) Supports(t EncryptionType) bool { return t.Valid() && t.Symmetric() }

func (softwareProvider) Seal(t EncryptionType, key, plaintext []byte) ([]byte, error) {
	return sealSymmetric(t, key, plaintext)
}

func (softwareProvider) Open(t EncryptionType, key, ciphertext []byte) ([]byte, error) {
	return openSymmetric(t, key, ciphertext)
}
