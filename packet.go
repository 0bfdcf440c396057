// packet.go: Wire format for secure transmissions.
//
// Copyright (c) 2025 Kryptand Labs
// Series: a Kryptand library
// SPDX-License-Identifier: MPL-2.0

package aegis

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	goerrors "github.com/agilira/go-errors"
)

// Packet is the unit of secure transmission. EncryptedData and Signature
// travel base64-encoded; Timestamp is Unix milliseconds at sealing time.
type Packet struct {
	EncryptedData  string         `json:"encryptedData"`
	Signature      string         `json:"signature"`
	EncryptionType EncryptionType `json:"encryptionType"`
	Timestamp      int64          `json:"timestamp"`
	Sender         string         `json:"sender"`
	Recipient      string         `json:"recipient"`
}

// NewPacket assembles a packet from raw ciphertext and signature bytes.
func NewPacket(ciphertext, signature []byte, t EncryptionType, sender, recipient string, at time.Time) *Packet {
	return &Packet{
		EncryptedData:  base64.StdEncoding.EncodeToString(ciphertext),
		Signature:      base64.StdEncoding.EncodeToString(signature),
		EncryptionType: t,
		Timestamp:      at.UnixMilli(),
		Sender:         sender,
		Recipient:      recipient,
	}
}

// Encode serializes the packet to its JSON wire form.
func (p *Packet) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		richErr := goerrors.Wrap(err, ErrCodeMalformedPacket, "failed to encode packet")
		return nil, fmt.Errorf("%w: %w", ErrMalformedPacket, richErr)
	}
	return data, nil
}

// DecodePacket parses wire bytes into a packet. Unknown JSON fields are
// ignored; a missing or invalid required field is ErrMalformedPacket.
func DecodePacket(data []byte) (*Packet, error) {
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		richErr := goerrors.Wrap(err, ErrCodeMalformedPacket, "failed to parse packet")
		return nil, fmt.Errorf("%w: %w", ErrMalformedPacket, richErr)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Packet) validate() error {
	var reason string
	switch {
	case p.EncryptedData == "":
		reason = "missing encryptedData"
	case p.Signature == "":
		reason = "missing signature"
	case !p.EncryptionType.Valid():
		reason = fmt.Sprintf("unsupported encryptionType %q", p.EncryptionType)
	case p.Timestamp <= 0:
		reason = "missing or invalid timestamp"
	case p.Sender == "":
		reason = "missing sender"
	case p.Recipient == "":
		reason = "missing recipient"
	default:
		return nil
	}
	richErr := goerrors.New(ErrCodeMalformedPacket, reason)
	return fmt.Errorf("%w: %w", ErrMalformedPacket, richErr)
}

// Ciphertext decodes the EncryptedData field.
func (p *Packet) Ciphertext() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(p.EncryptedData)
	if err != nil {
		richErr := goerrors.Wrap(err, ErrCodeMalformedPacket, "encryptedData is not valid base64")
		return nil, fmt.Errorf("%w: %w", ErrMalformedPacket, richErr)
	}
	return data, nil
}

// SignatureBytes decodes the Signature field.
func (p *Packet) SignatureBytes() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(p.Signature)
	if err != nil {
		richErr := goerrors.Wrap(err, ErrCodeMalformedPacket, "signature is not valid base64")
		return nil, fmt.Errorf("%w: %w", ErrMalformedPacket, richErr)
	}
	return data, nil
}

// Age reports how long ago the packet was sealed, relative to now. Packets
// timestamped in the future have a negative age.
func (p *Packet) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(p.Timestamp))
}

// Stale reports whether the packet's age exceeds maxAge.
func (p *Packet) Stale(now time.Time, maxAge time.Duration) bool {
	return p.Age(now) > maxAge
}
