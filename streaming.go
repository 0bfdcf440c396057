// streaming.go: Chunked AEAD encryption for payloads too large for one packet.
//
// Copyright (c) 2025 Kryptand Labs
// Series: a Kryptand library
// SPDX-License-Identifier: MPL-2.0

package aegis

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	goerrors "github.com/agilira/go-errors"
)

// StreamEncryptor encrypts data in chunks to an underlying writer. Close
// must be called to flush the final partial chunk.
type StreamEncryptor interface {
	Write(data []byte) (int, error)
	Close() error
}

// StreamDecryptor decrypts a stream produced by StreamEncryptor.
type StreamDecryptor interface {
	Read(data []byte) (int, error)
	Close() error
}

// DefaultStreamChunkSize balances memory use against per-chunk overhead.
const DefaultStreamChunkSize = 64 * 1024

const (
	maxStreamChunkSize = 10 * 1024 * 1024

	// All supported AEADs carry a 16-byte authentication tag.
	aeadTagSize = 16
)

// Stream header: [4 magic] [4 version] [1 algorithm tag length] [algorithm tag]
// [8 nonce prefix] [4 chunk size]. Each chunk on the wire is a 4-byte length
// followed by the sealed bytes; the chunk nonce is the 8-byte prefix plus a
// 4-byte little-endian counter, so no two chunks share a nonce.
const (
	streamMagic       = "KSTR"
	streamVersion     = uint32(1)
	streamNoncePrefix = 8
)

type streamEncryptor struct {
	writer    io.Writer
	algorithm EncryptionType
	key       []byte
	prefix    []byte
	buffer    []byte
	chunkSize int
	counter   uint32
	closed    bool
}

type streamDecryptor struct {
	reader     io.Reader
	key        []byte
	algorithm  EncryptionType
	prefix     []byte
	chunkSize  int
	counter    uint32
	remaining  []byte
	headerRead bool
	closed     bool
}

// NewStreamEncryptor creates an encryptor writing to w using the given
// symmetric algorithm and key, with the default chunk size.
func NewStreamEncryptor(w io.Writer, t EncryptionType, key []byte) (StreamEncryptor, error) {
	return NewStreamEncryptorWithChunkSize(w, t, key, DefaultStreamChunkSize)
}

// NewStreamEncryptorWithChunkSize creates an encryptor with a custom chunk
// size. Smaller chunks use less memory; larger chunks carry less overhead.
func NewStreamEncryptorWithChunkSize(w io.Writer, t EncryptionType, key []byte, chunkSize int) (StreamEncryptor, error) {
	if !t.Valid() || !t.Symmetric() {
		richErr := goerrors.New(ErrCodeUnsupportedAlgo, fmt.Sprintf("streaming requires a symmetric algorithm, got %q", t))
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedAlgorithm, richErr)
	}
	if err := ValidateKeySize(t, key); err != nil {
		return nil, err
	}
	if chunkSize <= 0 || chunkSize > maxStreamChunkSize {
		richErr := goerrors.New(ErrCodeEncrypt, fmt.Sprintf("chunk size must be between 1 and %d bytes", maxStreamChunkSize))
		return nil, fmt.Errorf("%w: %w", ErrEncrypt, richErr)
	}

	prefix := make([]byte, streamNoncePrefix)
	if _, err := io.ReadFull(rand.Reader, prefix); err != nil {
		richErr := goerrors.Wrap(err, ErrCodeKeyGeneration, "failed to generate stream nonce prefix")
		return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, richErr)
	}

	dup := make([]byte, len(key))
	copy(dup, key)
	enc := &streamEncryptor{
		writer:    w,
		algorithm: t,
		key:       dup,
		prefix:    prefix,
		chunkSize: chunkSize,
		buffer:    make([]byte, 0, chunkSize),
	}
	if err := enc.writeHeader(); err != nil {
		Zeroize(enc.key)
		return nil, err
	}
	return enc, nil
}

func (e *streamEncryptor) writeHeader() error {
	tag := []byte(e.algorithm)
	header := make([]byte, 0, 4+4+1+len(tag)+streamNoncePrefix+4)
	header = append(header, streamMagic...)
	header = binary.LittleEndian.AppendUint32(header, streamVersion)
	header = append(header, byte(len(tag)))
	header = append(header, tag...)
	header = append(header, e.prefix...)
	header = binary.LittleEndian.AppendUint32(header, uint32(e.chunkSize)) // #nosec G115 -- bounded by maxStreamChunkSize

	if _, err := e.writer.Write(header); err != nil {
		richErr := goerrors.Wrap(err, ErrCodeEncrypt, "failed to write stream header")
		return fmt.Errorf("%w: %w", ErrEncrypt, richErr)
	}
	return nil
}

func (e *streamEncryptor) Write(data []byte) (int, error) {
	if e.closed {
		richErr := goerrors.New(ErrCodeEncrypt, "stream encryptor is closed")
		return 0, fmt.Errorf("%w: %w", ErrEncrypt, richErr)
	}

	written := 0
	for len(data) > 0 {
		n := e.chunkSize - len(e.buffer)
		if n > len(data) {
			n = len(data)
		}
		e.buffer = append(e.buffer, data[:n]...)
		data = data[n:]
		written += n

		if len(e.buffer) == e.chunkSize {
			if err := e.flushChunk(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func (e *streamEncryptor) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	defer Zeroize(e.key)

	if len(e.buffer) > 0 {
		return e.flushChunk()
	}
	return nil
}

func (e *streamEncryptor) flushChunk() error {
	aead, err := cachedAEAD(e.algorithm, e.key)
	if err != nil {
		return err
	}

	nonce := make([]byte, aead.NonceSize())
	copy(nonce, e.prefix)
	binary.LittleEndian.PutUint32(nonce[streamNoncePrefix:], e.counter)
	e.counter++

	// #nosec G407 -- nonce is a random prefix plus a per-chunk counter
	sealed := aead.Seal(nil, nonce, e.buffer, nil)

	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(sealed))) // #nosec G115 -- chunk size bounded
	if _, err := e.writer.Write(sizeBuf[:]); err != nil {
		richErr := goerrors.Wrap(err, ErrCodeEncrypt, "failed to write chunk length")
		return fmt.Errorf("%w: %w", ErrEncrypt, richErr)
	}
	if _, err := e.writer.Write(sealed); err != nil {
		richErr := goerrors.Wrap(err, ErrCodeEncrypt, "failed to write sealed chunk")
		return fmt.Errorf("%w: %w", ErrEncrypt, richErr)
	}

	Zeroize(e.buffer)
	e.buffer = e.buffer[:0]
	return nil
}

// NewStreamDecryptor creates a decryptor reading a stream produced by
// NewStreamEncryptor. The algorithm is taken from the stream header and
// must match the key length.
func NewStreamDecryptor(r io.Reader, key []byte) (StreamDecryptor, error) {
	dup := make([]byte, len(key))
	copy(dup, key)
	return &streamDecryptor{reader: r, key: dup}, nil
}

func (d *streamDecryptor) readHeader() error {
	fixed := make([]byte, 4+4+1)
	if _, err := io.ReadFull(d.reader, fixed); err != nil {
		richErr := goerrors.Wrap(err, ErrCodeDecrypt, "failed to read stream header")
		return fmt.Errorf("%w: %w", ErrDecrypt, richErr)
	}
	if string(fixed[:4]) != streamMagic {
		richErr := goerrors.New(ErrCodeDecrypt, "not an encrypted stream")
		return fmt.Errorf("%w: %w", ErrDecrypt, richErr)
	}
	if v := binary.LittleEndian.Uint32(fixed[4:8]); v != streamVersion {
		richErr := goerrors.New(ErrCodeDecrypt, fmt.Sprintf("unsupported stream version %d", v))
		return fmt.Errorf("%w: %w", ErrDecrypt, richErr)
	}

	tag := make([]byte, fixed[8])
	if _, err := io.ReadFull(d.reader, tag); err != nil {
		richErr := goerrors.Wrap(err, ErrCodeDecrypt, "failed to read algorithm tag")
		return fmt.Errorf("%w: %w", ErrDecrypt, richErr)
	}
	d.algorithm = EncryptionType(tag)
	if !d.algorithm.Valid() || !d.algorithm.Symmetric() {
		richErr := goerrors.New(ErrCodeUnsupportedAlgo, fmt.Sprintf("stream uses unsupported algorithm %q", tag))
		return fmt.Errorf("%w: %w", ErrUnsupportedAlgorithm, richErr)
	}
	if err := ValidateKeySize(d.algorithm, d.key); err != nil {
		return err
	}

	rest := make([]byte, streamNoncePrefix+4)
	if _, err := io.ReadFull(d.reader, rest); err != nil {
		richErr := goerrors.Wrap(err, ErrCodeDecrypt, "failed to read stream header")
		return fmt.Errorf("%w: %w", ErrDecrypt, richErr)
	}
	d.prefix = rest[:streamNoncePrefix]
	d.chunkSize = int(binary.LittleEndian.Uint32(rest[streamNoncePrefix:]))
	if d.chunkSize <= 0 || d.chunkSize > maxStreamChunkSize {
		richErr := goerrors.New(ErrCodeDecrypt, "invalid chunk size in stream header")
		return fmt.Errorf("%w: %w", ErrDecrypt, richErr)
	}
	d.headerRead = true
	return nil
}

func (d *streamDecryptor) Read(data []byte) (int, error) {
	if d.closed {
		richErr := goerrors.New(ErrCodeDecrypt, "stream decryptor is closed")
		return 0, fmt.Errorf("%w: %w", ErrDecrypt, richErr)
	}
	if !d.headerRead {
		if err := d.readHeader(); err != nil {
			return 0, err
		}
	}

	total := 0
	for len(data) > 0 {
		if len(d.remaining) > 0 {
			n := copy(data, d.remaining)
			d.remaining = d.remaining[n:]
			data = data[n:]
			total += n
			continue
		}

		chunk, err := d.readNextChunk()
		if err != nil {
			if err == io.EOF && total > 0 {
				return total, nil
			}
			return total, err
		}

		n := copy(data, chunk)
		if n < len(chunk) {
			d.remaining = append(d.remaining[:0], chunk[n:]...)
		}
		data = data[n:]
		total += n
	}
	return total, nil
}

func (d *streamDecryptor) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	Zeroize(d.key)
	return nil
}

func (d *streamDecryptor) readNextChunk() ([]byte, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(d.reader, sizeBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		richErr := goerrors.Wrap(err, ErrCodeDecrypt, "failed to read chunk length")
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, richErr)
	}

	size := binary.LittleEndian.Uint32(sizeBuf[:])
	if size == 0 || int(size) > d.chunkSize+aeadTagSize {
		richErr := goerrors.New(ErrCodeDecrypt, "chunk length outside stream bounds")
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, richErr)
	}

	sealed := make([]byte, size)
	if _, err := io.ReadFull(d.reader, sealed); err != nil {
		richErr := goerrors.Wrap(err, ErrCodeDecrypt, "failed to read sealed chunk")
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, richErr)
	}

	aead, err := cachedAEAD(d.algorithm, d.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	copy(nonce, d.prefix)
	binary.LittleEndian.PutUint32(nonce[streamNoncePrefix:], d.counter)
	d.counter++

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		richErr := goerrors.Wrap(err, ErrCodeDecrypt, "chunk authentication failed")
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, richErr)
	}
	return plaintext, nil
}
