// keyutils_test.go: Tests for key encoding and validation helpers.
//
// Copyright (c) 2025 Kryptand Labs
// Series: a Kryptand library
// SPDX-License-Identifier: MPL-2.0

package aegis

import (
	"bytes"
	"testing"
)

func TestKeyBase64RoundTrip(t *testing.T) {
	key, err := GenerateSymmetricKey(AES256GCM)
	if err != nil {
		t.Fatal(err)
	}

	encoded := KeyToBase64(key)
	decoded, err := KeyFromBase64(encoded)
	if err != nil {
		t.Fatalf("KeyFromBase64: %v", err)
	}
	if !bytes.Equal(key, decoded) {
		t.Fatal("base64 round trip mismatch")
	}

	if _, err := KeyFromBase64("not*valid*base64"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}

func TestKeyHexRoundTrip(t *testing.T) {
	key, err := GenerateSymmetricKey(AES128GCM)
	if err != nil {
		t.Fatal(err)
	}

	encoded := KeyToHex(key)
	decoded, err := KeyFromHex(encoded)
	if err != nil {
		t.Fatalf("KeyFromHex: %v", err)
	}
	if !bytes.Equal(key, decoded) {
		t.Fatal("hex round trip mismatch")
	}

	if _, err := KeyFromHex("zzzz"); err == nil {
		t.Fatal("expected error for invalid hex")
	}
}

func TestKeyFingerprint(t *testing.T) {
	key1, _ := GenerateSymmetricKey(AES256GCM)
	key2, _ := GenerateSymmetricKey(AES256GCM)

	f1 := KeyFingerprint(key1)
	f2 := KeyFingerprint(key2)

	if f1 == "" || f2 == "" {
		t.Fatal("fingerprint empty for non-empty key")
	}
	if f1 == f2 {
		t.Fatal("distinct keys produced the same fingerprint")
	}
	if f1 != KeyFingerprint(key1) {
		t.Fatal("fingerprint is not deterministic")
	}
	if KeyFingerprint(nil) != "" {
		t.Fatal("expected empty fingerprint for empty key")
	}
}

func TestZeroize(t *testing.T) {
	key := []byte{1, 2, 3, 4, 5}
	Zeroize(key)
	for i, b := range key {
		if b != 0 {
			t.Fatalf("byte %d not zeroed", i)
		}
	}
	Zeroize(nil) // must not panic
}

func TestGenerateSymmetricKeySizes(t *testing.T) {
	cases := map[EncryptionType]int{
		AES256GCM:        32,
		AES128GCM:        16,
		ChaCha20Poly1305: 32,
	}
	for typ, want := range cases {
		key, err := GenerateSymmetricKey(typ)
		if err != nil {
			t.Fatalf("GenerateSymmetricKey(%s): %v", typ, err)
		}
		if len(key) != want {
			t.Fatalf("%s: got %d bytes, want %d", typ, len(key), want)
		}
	}

	if _, err := GenerateSymmetricKey(RSA2048); err == nil {
		t.Fatal("expected error generating a symmetric key for an RSA type")
	}
}

func TestValidateKeySize(t *testing.T) {
	if err := ValidateKeySize(AES256GCM, make([]byte, 32)); err != nil {
		t.Fatalf("valid key rejected: %v", err)
	}
	if err := ValidateKeySize(AES256GCM, make([]byte, 31)); err == nil {
		t.Fatal("short key accepted")
	}
	if err := ValidateKeySize(AES128GCM, make([]byte, 32)); err == nil {
		t.Fatal("oversized key accepted")
	}
}

func TestGenerateNonce(t *testing.T) {
	n1, err := GenerateNonce(12)
	if err != nil {
		t.Fatal(err)
	}
	n2, err := GenerateNonce(12)
	if err != nil {
		t.Fatal(err)
	}
	if len(n1) != 12 || len(n2) != 12 {
		t.Fatal("wrong nonce length")
	}
	if bytes.Equal(n1, n2) {
		t.Fatal("two nonces identical")
	}
	if _, err := GenerateNonce(0); err == nil {
		t.Fatal("expected error for zero-length nonce")
	}
}
