// keyexchange.go: Authenticated X25519 key-exchange offers.
//
// Copyright (c) 2025 Kryptand Labs
// Series: a Kryptand library
// SPDX-License-Identifier: MPL-2.0

package aegis

import (
	"crypto/ed25519"
	"fmt"

	goerrors "github.com/agilira/go-errors"
	"golang.org/x/crypto/curve25519"
)

// ExchangeOffer is one side's contribution to a key exchange: an X25519
// public key authenticated by an Ed25519 signature. Offers are symmetric;
// the initiator and responder exchange one each and both derive the same
// session key from the shared secret.
type ExchangeOffer struct {
	ExchangePublic []byte `json:"exchangePublic"`
	SigningPublic  []byte `json:"signingPublic"`
	Signature      []byte `json:"signature"`
}

// NewExchangeOffer builds a signed offer from the manager's current exchange
// and signing pairs. Missing pairs surface as ErrKeyUnavailable.
func NewExchangeOffer(km *KeyManager) (*ExchangeOffer, error) {
	exchangePub, err := km.PublicKey(KeyPairExchange)
	if err != nil {
		return nil, err
	}
	signingPub, err := km.PublicKey(KeyPairSigning)
	if err != nil {
		return nil, err
	}
	sig, err := km.Sign(exchangePub)
	if err != nil {
		return nil, err
	}
	return &ExchangeOffer{
		ExchangePublic: exchangePub,
		SigningPublic:  signingPub,
		Signature:      sig,
	}, nil
}

// Verify checks the offer's structure and signature. When trustedSigner is
// non-nil the offer's signing key must match it exactly; a signature that
// merely verifies under an unknown key is rejected.
func (o *ExchangeOffer) Verify(trustedSigner ed25519.PublicKey) error {
	if len(o.ExchangePublic) != curve25519.PointSize {
		richErr := goerrors.New(ErrCodeVerify, fmt.Sprintf("exchange public key must be %d bytes, got %d", curve25519.PointSize, len(o.ExchangePublic)))
		return fmt.Errorf("%w: %w", ErrVerify, richErr)
	}
	signer := ed25519.PublicKey(o.SigningPublic)
	if trustedSigner != nil && !signer.Equal(trustedSigner) {
		richErr := goerrors.New(ErrCodeVerify, "offer signed by untrusted key")
		return fmt.Errorf("%w: %w", ErrVerify, richErr)
	}
	if !verifyEd25519(signer, o.ExchangePublic, o.Signature) {
		richErr := goerrors.New(ErrCodeVerify, "offer signature verification failed")
		return fmt.Errorf("%w: %w", ErrVerify, richErr)
	}
	return nil
}

// AcceptExchangeOffer verifies a remote offer, computes the shared secret
// against the local exchange pair and installs the derived session key for
// the given algorithm. The shared secret is wiped before returning. When
// ephemeral is true the key is treated as session-scoped: it is excluded
// from escrow and wiped, not retained, when replaced.
func AcceptExchangeOffer(km *KeyManager, offer *ExchangeOffer, t EncryptionType, trustedSigner ed25519.PublicKey, ephemeral bool) error {
	if err := offer.Verify(trustedSigner); err != nil {
		return err
	}
	secret, err := km.SharedSecret(offer.ExchangePublic)
	if err != nil {
		return err
	}
	defer Zeroize(secret)
	return km.DeriveAndStoreSessionKey(secret, t, ephemeral)
}
