// streaming_test.go: Tests for chunked stream encryption.
//
// Copyright (c) 2025 Kryptand Labs
// Series: a Kryptand library
// SPDX-License-Identifier: MPL-2.0

package aegis

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"testing"
)

func streamRoundTrip(t *testing.T, typ EncryptionType, chunkSize, dataLen int) {
	t.Helper()

	key, err := GenerateSymmetricKey(typ)
	if err != nil {
		t.Fatal(err)
	}
	data := make([]byte, dataLen)
	if _, err := io.ReadFull(rand.Reader, data); err != nil {
		t.Fatal(err)
	}

	var sealed bytes.Buffer
	enc, err := NewStreamEncryptorWithChunkSize(&sealed, typ, key, chunkSize)
	if err != nil {
		t.Fatalf("NewStreamEncryptor: %v", err)
	}
	if _, err := enc.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	dec, err := NewStreamDecryptor(bytes.NewReader(sealed.Bytes()), key)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	got, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch: %d bytes in, %d bytes out", len(data), len(got))
	}
}

func TestStreamRoundTrip(t *testing.T) {
	// Exercise partial final chunks, exact multiples and multi-chunk data.
	for _, n := range []int{1, 255, 256, 257, 1000} {
		streamRoundTrip(t, AES256GCM, 256, n)
	}
	streamRoundTrip(t, ChaCha20Poly1305, 64, 500)
	streamRoundTrip(t, AES128GCM, DefaultStreamChunkSize, 10)
}

func TestStreamTamperDetected(t *testing.T) {
	key, _ := GenerateSymmetricKey(AES256GCM)
	var sealed bytes.Buffer
	enc, err := NewStreamEncryptorWithChunkSize(&sealed, AES256GCM, key, 64)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := enc.Write(make([]byte, 200)); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}

	raw := sealed.Bytes()
	raw[len(raw)-1] ^= 0x01

	dec, err := NewStreamDecryptor(bytes.NewReader(raw), key)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadAll(dec); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt for tampered stream, got %v", err)
	}
}

func TestStreamWrongKey(t *testing.T) {
	key1, _ := GenerateSymmetricKey(AES256GCM)
	key2, _ := GenerateSymmetricKey(AES256GCM)

	var sealed bytes.Buffer
	enc, err := NewStreamEncryptor(&sealed, AES256GCM, key1)
	if err != nil {
		t.Fatal(err)
	}
	enc.Write([]byte("streamed data"))
	enc.Close()

	dec, err := NewStreamDecryptor(bytes.NewReader(sealed.Bytes()), key2)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadAll(dec); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt with wrong key, got %v", err)
	}
}

func TestStreamEncryptorValidation(t *testing.T) {
	key, _ := GenerateSymmetricKey(AES256GCM)
	var out bytes.Buffer

	if _, err := NewStreamEncryptor(&out, RSA2048, key); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Fatalf("expected ErrUnsupportedAlgorithm, got %v", err)
	}
	if _, err := NewStreamEncryptor(&out, AES256GCM, key[:16]); !errors.Is(err, ErrInvalidKeySize) {
		t.Fatalf("expected ErrInvalidKeySize, got %v", err)
	}
	if _, err := NewStreamEncryptorWithChunkSize(&out, AES256GCM, key, 0); err == nil {
		t.Fatal("zero chunk size accepted")
	}
}

func TestStreamDecryptorRejectsGarbage(t *testing.T) {
	key, _ := GenerateSymmetricKey(AES256GCM)

	dec, err := NewStreamDecryptor(bytes.NewReader([]byte("XXXXheader-that-is-long-enough")), key)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadAll(dec); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt for bad magic, got %v", err)
	}
}

func TestStreamCloseIdempotent(t *testing.T) {
	key, _ := GenerateSymmetricKey(AES256GCM)
	var out bytes.Buffer
	enc, err := NewStreamEncryptor(&out, AES256GCM, key)
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := enc.Write([]byte("x")); err == nil {
		t.Fatal("write accepted after close")
	}
}
