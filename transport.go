// transport.go: Secure transmission orchestrator.
//
// The TransportManager composes the key manager, primitive providers and
// audit trail into the packet protocol: encrypt, sign the ciphertext,
// package, and the reverse on receive. Operations on one manager are
// serialized; the exposed cipher and exchange states describe the single
// in-flight operation.
//
// Copyright (c) 2025 Kryptand Labs
// Series: a Kryptand library
// SPDX-License-Identifier: MPL-2.0

package aegis

import (
	"crypto/ed25519"
	"fmt"
	"strconv"
	"sync"
	"time"

	goerrors "github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// CipherState describes the manager's current cryptographic activity.
type CipherState string

const (
	StateIdle       CipherState = "idle"
	StateEncrypting CipherState = "encrypting"
	StateDecrypting CipherState = "decrypting"
	StateError      CipherState = "error"
)

// ExchangeState describes key-exchange progress.
type ExchangeState string

const (
	ExchangeNotStarted     ExchangeState = "not_started"
	ExchangeGeneratingKeys ExchangeState = "generating_keys"
	ExchangeKeysReady      ExchangeState = "keys_ready"
	ExchangeInProgress     ExchangeState = "exchanging"
	ExchangeComplete       ExchangeState = "complete"
)

// StateChange is delivered to observers on every transition, in the order
// the transitions happened.
type StateChange struct {
	Cipher   CipherState
	Exchange ExchangeState
	At       time.Time
}

// TransmissionStats are the manager's monotonic operation counters. A
// snapshot is returned by Stats; counters reset only on SecureClear.
type TransmissionStats struct {
	TotalEncrypted  uint64 `json:"total_encrypted"`
	TotalDecrypted  uint64 `json:"total_decrypted"`
	TotalSigned     uint64 `json:"total_signed"`
	TotalVerified   uint64 `json:"total_verified"`
	BytesEncrypted  uint64 `json:"bytes_encrypted"`
	BytesDecrypted  uint64 `json:"bytes_decrypted"`
	PacketsSent     uint64 `json:"packets_sent"`
	PacketsReceived uint64 `json:"packets_received"`
	KeyRotations    uint64 `json:"key_rotations"`
}

// TransportManager drives the secure transmission protocol.
type TransportManager struct {
	mu            sync.Mutex
	cfg           Config
	keys          *KeyManager
	providers     *ProviderManager
	audit         *AuditLogger
	stats         TransmissionStats
	cipherState   CipherState
	exchangeState ExchangeState
	observers     []func(StateChange)
	peerSigKeys   map[string]ed25519.PublicKey
	lastRotation  time.Time
	now           func() time.Time
}

// TransportOption configures a TransportManager.
type TransportOption func(*TransportManager)

// WithClock replaces the time source, letting tests control packet ages.
func WithClock(now func() time.Time) TransportOption {
	return func(m *TransportManager) { m.now = now }
}

// WithAuditLogger attaches an audit trail.
func WithAuditLogger(a *AuditLogger) TransportOption {
	return func(m *TransportManager) { m.audit = a }
}

// WithProviderManager replaces the default provider registry.
func WithProviderManager(pm *ProviderManager) TransportOption {
	return func(m *TransportManager) { m.providers = pm }
}

// NewTransportManager validates cfg and creates an idle manager with an
// empty key manager. Key material is provisioned by ProvisionKeys,
// PerformKeyExchange, or direct key manager calls.
func NewTransportManager(cfg Config, opts ...TransportOption) (*TransportManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &TransportManager{
		cfg:           cfg,
		keys:          NewKeyManager(),
		providers:     NewProviderManager(nil, nil),
		cipherState:   StateIdle,
		exchangeState: ExchangeNotStarted,
		peerSigKeys:   make(map[string]ed25519.PublicKey),
		now:           timecache.CachedTime,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Keys exposes the manager's key manager for provisioning and escrow.
func (m *TransportManager) Keys() *KeyManager { return m.keys }

// ProvisionKeys generates the signing pair, exchange pair and a symmetric
// key for the configured default algorithm.
func (m *TransportManager) ProvisionKeys() error {
	if _, err := m.keys.GenerateKeyPair(KeyPairSigning); err != nil {
		return err
	}
	if _, err := m.keys.GenerateKeyPair(KeyPairExchange); err != nil {
		return err
	}
	if m.cfg.DefaultEncryptionType.Symmetric() {
		if err := m.keys.GenerateSymmetric(m.cfg.DefaultEncryptionType); err != nil {
			return err
		}
	} else {
		switch m.cfg.DefaultEncryptionType {
		case RSA2048:
			if _, err := m.keys.GenerateKeyPair(KeyPairRSA2048); err != nil {
				return err
			}
		case RSA4096:
			if _, err := m.keys.GenerateKeyPair(KeyPairRSA4096); err != nil {
				return err
			}
		}
	}

	m.mu.Lock()
	m.lastRotation = m.now()
	m.mu.Unlock()
	return nil
}

// Subscribe registers an observer for state transitions. Observers run
// synchronously under the manager lock, so transitions arrive in order;
// they must not call back into the manager.
func (m *TransportManager) Subscribe(fn func(StateChange)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// State reports the current cipher and exchange states.
func (m *TransportManager) State() (CipherState, ExchangeState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cipherState, m.exchangeState
}

// Stats returns a snapshot of the transmission counters.
func (m *TransportManager) Stats() TransmissionStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// RegisterPeer stores a peer's Ed25519 signing key for later verification.
func (m *TransportManager) RegisterPeer(id string, signingPublic []byte) error {
	if len(signingPublic) != ed25519.PublicKeySize {
		richErr := goerrors.New(ErrCodeVerify, fmt.Sprintf("peer signing key must be %d bytes, got %d", ed25519.PublicKeySize, len(signingPublic)))
		return fmt.Errorf("%w: %w", ErrVerify, richErr)
	}
	pub := make([]byte, ed25519.PublicKeySize)
	copy(pub, signingPublic)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.peerSigKeys[id] = pub
	return nil
}

func (m *TransportManager) setCipherLocked(s CipherState) {
	m.cipherState = s
	change := StateChange{Cipher: s, Exchange: m.exchangeState, At: m.now()}
	for _, fn := range m.observers {
		fn(change)
	}
}

func (m *TransportManager) setExchangeLocked(s ExchangeState) {
	m.exchangeState = s
	change := StateChange{Cipher: m.cipherState, Exchange: s, At: m.now()}
	for _, fn := range m.observers {
		fn(change)
	}
}

// failCipherLocked publishes the error state, then settles back to idle so
// no in-progress state outlives the failed call.
func (m *TransportManager) failCipherLocked() {
	m.setCipherLocked(StateError)
	m.setCipherLocked(StateIdle)
}

// Encrypt encrypts data under the given algorithm. Symmetric algorithms
// require a previously provisioned or exchanged key; RSA algorithms use the
// manager's own RSA pair.
func (m *TransportManager) Encrypt(data []byte, t EncryptionType) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.encryptLocked(data, t)
}

func (m *TransportManager) encryptLocked(data []byte, t EncryptionType) ([]byte, error) {
	m.setCipherLocked(StateEncrypting)

	ciphertext, err := m.sealLocked(data, t)
	if err != nil {
		m.failCipherLocked()
		m.record(AuditEncrypt, "", false, err.Error(), nil)
		return nil, err
	}

	m.stats.TotalEncrypted++
	m.stats.BytesEncrypted += uint64(len(data))
	m.setCipherLocked(StateIdle)
	m.record(AuditEncrypt, "", true, "", map[string]string{"algorithm": string(t), "bytes": strconv.Itoa(len(data))})
	return ciphertext, nil
}

func (m *TransportManager) sealLocked(data []byte, t EncryptionType) ([]byte, error) {
	if !t.Valid() {
		richErr := goerrors.New(ErrCodeUnsupportedAlgo, fmt.Sprintf("unsupported algorithm %q", t))
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedAlgorithm, richErr)
	}
	if !t.Symmetric() {
		return m.keys.AsymmetricSeal(t, data)
	}

	key, ok := m.keys.SymmetricKey(t)
	if !ok {
		richErr := goerrors.New(ErrCodeKeyUnavailable, fmt.Sprintf("no %s key provisioned", t))
		return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, richErr)
	}
	defer Zeroize(key)

	p, err := m.providers.ProviderFor(t)
	if err != nil {
		return nil, err
	}
	return p.Seal(t, key, data)
}

// Decrypt reverses Encrypt. After a rotation the previous symmetric key
// generation is tried before the call fails, so packets sealed just before
// the rotation still open.
func (m *TransportManager) Decrypt(data []byte, t EncryptionType) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decryptLocked(data, t)
}

func (m *TransportManager) decryptLocked(data []byte, t EncryptionType) ([]byte, error) {
	m.setCipherLocked(StateDecrypting)

	plaintext, err := m.openLocked(data, t)
	if err != nil {
		m.failCipherLocked()
		m.record(AuditDecrypt, "", false, err.Error(), nil)
		return nil, err
	}

	m.stats.TotalDecrypted++
	m.stats.BytesDecrypted += uint64(len(plaintext))
	m.setCipherLocked(StateIdle)
	m.record(AuditDecrypt, "", true, "", map[string]string{"algorithm": string(t)})
	return plaintext, nil
}

func (m *TransportManager) openLocked(data []byte, t EncryptionType) ([]byte, error) {
	if !t.Valid() {
		richErr := goerrors.New(ErrCodeUnsupportedAlgo, fmt.Sprintf("unsupported algorithm %q", t))
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedAlgorithm, richErr)
	}
	if !t.Symmetric() {
		return m.keys.AsymmetricOpen(t, data)
	}

	key, ok := m.keys.SymmetricKey(t)
	if !ok {
		richErr := goerrors.New(ErrCodeKeyUnavailable, fmt.Sprintf("no %s key provisioned", t))
		return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, richErr)
	}

	p, err := m.providers.ProviderFor(t)
	if err != nil {
		Zeroize(key)
		return nil, err
	}

	plaintext, err := p.Open(t, key, data)
	Zeroize(key)
	if err == nil {
		return plaintext, nil
	}

	if prev, ok := m.keys.PreviousSymmetricKey(t); ok {
		plaintext, prevErr := p.Open(t, prev, data)
		Zeroize(prev)
		if prevErr == nil {
			return plaintext, nil
		}
	}
	return nil, err
}

// Sign signs data with the manager's signing key.
func (m *TransportManager) Sign(data []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signLocked(data)
}

func (m *TransportManager) signLocked(data []byte) ([]byte, error) {
	sig, err := m.keys.Sign(data)
	if err != nil {
		m.record(AuditSign, "", false, err.Error(), nil)
		return nil, err
	}
	m.stats.TotalSigned++
	m.record(AuditSign, "", true, "", nil)
	return sig, nil
}

// VerifySignature checks an Ed25519 signature over data. A nil senderPub
// falls back to the peer key registered for sender.
func (m *TransportManager) VerifySignature(data, signature []byte, sender string, senderPub ed25519.PublicKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verifyLocked(data, signature, sender, senderPub)
}

func (m *TransportManager) verifyLocked(data, signature []byte, sender string, senderPub ed25519.PublicKey) error {
	pub := senderPub
	if pub == nil {
		pub = m.peerSigKeys[sender]
	}
	if pub == nil {
		richErr := goerrors.New(ErrCodeVerify, fmt.Sprintf("no signing key known for sender %q", sender))
		m.record(AuditVerify, sender, false, "unknown sender key", nil)
		return fmt.Errorf("%w: %w", ErrVerify, richErr)
	}
	if !verifyEd25519(pub, data, signature) {
		richErr := goerrors.New(ErrCodeVerify, "signature verification failed")
		m.record(AuditVerify, sender, false, "bad signature", nil)
		return fmt.Errorf("%w: %w", ErrVerify, richErr)
	}
	m.stats.TotalVerified++
	m.record(AuditVerify, sender, true, "", nil)
	return nil
}

// ComputeHash returns the hex SHA-256 digest of data.
func (m *TransportManager) ComputeHash(data []byte) string {
	return hashSHA256(data)
}

// CreateExchangeOffer builds this manager's signed key-exchange offer.
func (m *TransportManager) CreateExchangeOffer() (*ExchangeOffer, error) {
	return NewExchangeOffer(m.keys)
}

// PerformKeyExchange derives a session key for the algorithm from the
// remote X25519 public key. The exchange fails closed: any step failure
// stores no key and resets the exchange state to not started. When perfect
// forward secrecy is enabled, the derived key is session-scoped and is
// wiped as soon as a later exchange replaces it.
func (m *TransportManager) PerformKeyExchange(remotePublic []byte, t EncryptionType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !t.Symmetric() {
		richErr := goerrors.New(ErrCodeUnsupportedAlgo, fmt.Sprintf("key exchange derives symmetric keys, not %q", t))
		return fmt.Errorf("%w: %w", ErrUnsupportedAlgorithm, richErr)
	}

	if !m.keys.HasKeyPair(KeyPairExchange) {
		m.setExchangeLocked(ExchangeGeneratingKeys)
		if _, err := m.keys.GenerateKeyPair(KeyPairExchange); err != nil {
			m.setExchangeLocked(ExchangeNotStarted)
			m.record(AuditKeyExchange, "", false, err.Error(), nil)
			return err
		}
	}
	m.setExchangeLocked(ExchangeKeysReady)
	m.setExchangeLocked(ExchangeInProgress)

	secret, err := m.keys.SharedSecret(remotePublic)
	if err != nil {
		m.setExchangeLocked(ExchangeNotStarted)
		m.record(AuditKeyExchange, "", false, err.Error(), nil)
		return err
	}
	err = m.keys.DeriveAndStoreSessionKey(secret, t, m.cfg.EnablePerfectForwardSecrecy)
	Zeroize(secret)
	if err != nil {
		m.setExchangeLocked(ExchangeNotStarted)
		m.record(AuditKeyExchange, "", false, err.Error(), nil)
		return err
	}

	m.setExchangeLocked(ExchangeComplete)
	m.record(AuditKeyExchange, "", true, "", map[string]string{"algorithm": string(t)})
	return nil
}

// SecureTransmit runs the outbound protocol: encrypt the payload under the
// configured default algorithm, sign the ciphertext, assemble a packet and
// serialize it. Each step's failure surfaces as that step's error kind.
func (m *TransportManager) SecureTransmit(payload []byte, recipient string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.cfg.DefaultEncryptionType
	ciphertext, err := m.encryptLocked(payload, t)
	if err != nil {
		return nil, err
	}
	signature, err := m.signLocked(ciphertext)
	if err != nil {
		return nil, err
	}

	pkt := NewPacket(ciphertext, signature, t, m.cfg.ClientID, recipient, m.now())
	wire, err := pkt.Encode()
	if err != nil {
		m.record(AuditTransmit, recipient, false, err.Error(), nil)
		return nil, err
	}

	m.stats.PacketsSent++
	m.record(AuditTransmit, recipient, true, "", map[string]string{"algorithm": string(t)})
	return wire, nil
}

// SecureReceive runs the inbound protocol: decode, reject stale packets
// before any cryptographic work, decrypt, then verify the signature over
// the ciphertext. Decrypt and verify failures both surface to the caller as
// a verification failure so the error does not reveal which stage broke;
// the audit trail keeps the specific reason. A nil senderPub falls back to
// the key registered for the packet's sender.
func (m *TransportManager) SecureReceive(packetBytes []byte, senderPub ed25519.PublicKey) ([]byte, *Packet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pkt, err := DecodePacket(packetBytes)
	if err != nil {
		m.record(AuditReceive, "", false, "malformed packet", nil)
		return nil, nil, err
	}
	if pkt.Stale(m.now(), m.cfg.MaxPacketAge) {
		richErr := goerrors.New(ErrCodeStalePacket, fmt.Sprintf("packet is %s old, max age %s", pkt.Age(m.now()), m.cfg.MaxPacketAge))
		m.record(AuditReceive, pkt.Sender, false, "stale packet", nil)
		return nil, nil, fmt.Errorf("%w: %w", ErrStalePacket, richErr)
	}

	ciphertext, err := pkt.Ciphertext()
	if err != nil {
		m.record(AuditReceive, pkt.Sender, false, "malformed packet", nil)
		return nil, nil, err
	}
	signature, err := pkt.SignatureBytes()
	if err != nil {
		m.record(AuditReceive, pkt.Sender, false, "malformed packet", nil)
		return nil, nil, err
	}

	m.setCipherLocked(StateDecrypting)
	plaintext, err := m.openLocked(ciphertext, pkt.EncryptionType)
	if err != nil {
		m.failCipherLocked()
		m.record(AuditReceive, pkt.Sender, false, "decryption failed: "+err.Error(), nil)
		return nil, nil, m.genericVerifyFailure()
	}
	if err := m.verifyLocked(ciphertext, signature, pkt.Sender, senderPub); err != nil {
		m.failCipherLocked()
		m.record(AuditReceive, pkt.Sender, false, "signature verification failed", nil)
		return nil, nil, m.genericVerifyFailure()
	}
	m.setCipherLocked(StateIdle)

	m.stats.TotalDecrypted++
	m.stats.BytesDecrypted += uint64(len(plaintext))
	m.stats.PacketsReceived++
	m.record(AuditReceive, pkt.Sender, true, "", map[string]string{"algorithm": string(pkt.EncryptionType)})
	return plaintext, pkt, nil
}

func (m *TransportManager) genericVerifyFailure() error {
	richErr := goerrors.New(ErrCodeVerify, "packet could not be authenticated")
	return fmt.Errorf("%w: %w", ErrVerify, richErr)
}

// RotateKeys regenerates the manager's key material. The previous
// generation stays available for decryption until the next rotation.
func (m *TransportManager) RotateKeys() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.keys.Rotate(); err != nil {
		m.record(AuditKeyRotation, "", false, err.Error(), nil)
		return err
	}
	m.stats.KeyRotations++
	m.lastRotation = m.now()
	m.record(AuditKeyRotation, "", true, "", nil)
	return nil
}

// RotationDue reports whether the configured rotation interval has elapsed
// since the last rotation (or since key provisioning, if never rotated).
// Always false when no interval is configured. The caller schedules the
// actual RotateKeys call.
func (m *TransportManager) RotationDue() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.KeyRotationInterval <= 0 || m.lastRotation.IsZero() {
		return false
	}
	return m.now().Sub(m.lastRotation) >= m.cfg.KeyRotationInterval
}

// SecureClear wipes all key material, zeroes the counters and resets both
// state machines. Callable from any state, any number of times.
func (m *TransportManager) SecureClear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.keys.ClearAll()
	m.stats = TransmissionStats{}
	m.lastRotation = time.Time{}
	m.setCipherLocked(StateIdle)
	m.setExchangeLocked(ExchangeNotStarted)
	m.record(AuditClear, "", true, "", nil)
}

func (m *TransportManager) record(event, target string, success bool, reason string, details map[string]string) {
	if m.audit == nil {
		return
	}
	m.audit.Record(event, m.cfg.ClientID, target, success, reason, details)
}
