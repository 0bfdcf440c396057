// errors.go: Error taxonomy for secure transport and access-control operations.
//
// Copyright (c) 2025 Kryptand Labs
// Series: a Kryptand library
// SPDX-License-Identifier: MPL-2.0

package aegis

import (
	"errors"
)

// Public standard errors for drop-in compatibility.
// These errors can be used with errors.Is() for error checking.
var (
	// ErrKeyUnavailable is returned when an operation requires a key that has
	// not been generated, derived, or stored yet.
	ErrKeyUnavailable = errors.New("aegis: key unavailable")

	// ErrKeyGeneration is returned when key material could not be generated
	// from the random source.
	ErrKeyGeneration = errors.New("aegis: key generation failed")

	// ErrEncrypt is returned when an encryption primitive fails.
	ErrEncrypt = errors.New("aegis: encryption failed")

	// ErrDecrypt is returned when decryption fails due to authentication
	// failure, corruption, or a wrong key.
	ErrDecrypt = errors.New("aegis: decryption failed")

	// ErrSign is returned when producing a signature fails.
	ErrSign = errors.New("aegis: signing failed")

	// ErrVerify is returned when a signature does not verify. SecureReceive
	// also returns it for decryption failures so that the caller-visible
	// denial reason does not distinguish the two (the audit log does).
	ErrVerify = errors.New("aegis: signature verification failed")

	// ErrMalformedPacket is returned when packet bytes cannot be decoded or
	// required fields are missing.
	ErrMalformedPacket = errors.New("aegis: malformed packet")

	// ErrStalePacket is returned when a packet's timestamp is older than the
	// configured maximum packet age. The check runs before any cryptographic
	// work.
	ErrStalePacket = errors.New("aegis: stale packet")

	// ErrSessionExpired is returned when a session lookup refers to a session
	// that is inactive or past its sliding-window deadline.
	ErrSessionExpired = errors.New("aegis: session expired")

	// ErrPolicyEvaluation is returned when a policy or grant cannot be
	// evaluated (for example, an invalid resource pattern).
	ErrPolicyEvaluation = errors.New("aegis: policy evaluation failed")

	// ErrInvalidKeySize is returned when key material has the wrong length
	// for the requested algorithm.
	ErrInvalidKeySize = errors.New("aegis: invalid key size")

	// ErrUnsupportedAlgorithm is returned for encryption type tags outside
	// the supported registry.
	ErrUnsupportedAlgorithm = errors.New("aegis: unsupported algorithm")

	// ErrEscrowDisabled is returned when key escrow is requested but not
	// enabled in the configuration.
	ErrEscrowDisabled = errors.New("aegis: key escrow disabled")
)

// Error codes for rich error handling via github.com/agilira/go-errors.
const (
	ErrCodeKeyUnavailable   = "AEGIS_KEY_UNAVAILABLE"
	ErrCodeKeyGeneration    = "AEGIS_KEY_GENERATION"
	ErrCodeEncrypt          = "AEGIS_ENCRYPT"
	ErrCodeDecrypt          = "AEGIS_DECRYPT"
	ErrCodeSign             = "AEGIS_SIGN"
	ErrCodeVerify           = "AEGIS_VERIFY"
	ErrCodeMalformedPacket  = "AEGIS_MALFORMED_PACKET"
	ErrCodeStalePacket      = "AEGIS_STALE_PACKET"
	ErrCodeSessionExpired   = "AEGIS_SESSION_EXPIRED"
	ErrCodePolicyEvaluation = "AEGIS_POLICY_EVALUATION"
	ErrCodeInvalidKey       = "AEGIS_INVALID_KEY"
	ErrCodeUnsupportedAlgo  = "AEGIS_UNSUPPORTED_ALGORITHM"
	ErrCodeEscrow           = "AEGIS_ESCROW"
	ErrCodeConfig           = "AEGIS_CONFIG"
)
