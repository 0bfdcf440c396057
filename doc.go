// doc.go: Package documentation for aegis.
//
// Copyright (c) 2025 Kryptand Labs
// Series: a Kryptand library
// SPDX-License-Identifier: MPL-2.0

// Package aegis provides secure payload transport and policy-based access
// control for Go applications.
//
// The transport side packages application payloads into signed, encrypted,
// timestamped packets. A TransportManager owns the protocol: it encrypts the
// payload under a configured symmetric algorithm (AES-128/256-GCM or
// ChaCha20-Poly1305, with RSA-OAEP available for small payloads), signs the
// ciphertext with Ed25519, and serializes the packet to a transport-neutral
// JSON form. Receiving reverses the protocol, rejecting stale packets by
// timestamp before any cryptographic work. Session keys are established with
// an authenticated X25519 exchange and HKDF derivation:
//
//	cfg := aegis.DefaultConfig("node-a")
//	mgr, err := aegis.NewTransportManager(cfg)
//	if err != nil {
//		// handle error
//	}
//	if err := mgr.ProvisionKeys(); err != nil {
//		// handle error
//	}
//	wire, err := mgr.SecureTransmit([]byte("payload"), "node-b")
//
// The access-control side evaluates requests against static grants and
// dynamic policies with time, IP and attribute conditions. Decisions are a
// permissive union of everything that matched, memoized in a TTL cache and
// recorded in a bounded audit trail. A SessionManager tracks authenticated
// principals with sliding-window expiry.
//
// All key material lives inside a KeyManager; other components request
// derived operations and never see raw private keys. Keys are wiped on
// clear, and an optional passphrase-protected escrow covers compliance
// deployments that require key recovery.
package aegis
