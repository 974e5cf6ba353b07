package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/nimbus-tales/aegis-gateway/internal/errs"
)

// hkdfInfo is fixed per spec §4.5 "Algorithms".
const hkdfInfo = "titan-encryption-key"

// Config tunes the service's lifecycle parameters; all have the
// defaults named in spec §4.5.
type Config struct {
	MaxMessagesPerKey int           // rotation trigger: message count ceiling
	RotationInterval  time.Duration // rotation trigger: key age ceiling
	RotationGrace     time.Duration // how long a demoted "previous" slot stays decrypt-valid
	ReplayWindow      time.Duration // W: admitted-sequence memory
	ForwardSkew       time.Duration // envelope.timestamp may lead server time by at most this
}

func (c Config) withDefaults() Config {
	if c.MaxMessagesPerKey <= 0 {
		c.MaxMessagesPerKey = 10_000
	}
	if c.RotationInterval <= 0 {
		c.RotationInterval = time.Hour
	}
	if c.RotationGrace <= 0 {
		c.RotationGrace = 30 * time.Second
	}
	if c.ReplayWindow <= 0 {
		c.ReplayWindow = 60 * time.Second
	}
	if c.ForwardSkew <= 0 {
		c.ForwardSkew = 5 * time.Second
	}
	return c
}

// connectionState is the per-user key state: current/previous slots,
// the monotonic send-sequence, and the replay windows keyed by key-id.
// Guarded by mu, which doubles as the "per-user mutex" spec §5 requires
// for the replay set.
type connectionState struct {
	mu       sync.Mutex
	userID   string
	current  *slot
	previous *slot
	pending  *pendingRotation
	sendSeq  int64 // guarded by mu
	replay   map[string]*replayWindow
}

// Service is the encryption service, C5.
type Service struct {
	cfg         Config
	mu          sync.Mutex // protects users map membership only
	users       map[string]*connectionState
	metrics     serviceMetrics
	onViolation func(userID, keyID, reasonClass string)
}

// OnSecurityViolation registers a callback invoked whenever Open rejects
// an envelope, carrying the connection's user id, the envelope's key-id,
// and an opaque reason class — never the reason detail itself, per spec
// §7's "never returned with details that would help an attacker". Wire
// this to audit.Log.SecurityViolation from the service context.
func (s *Service) OnSecurityViolation(fn func(userID, keyID, reasonClass string)) {
	s.onViolation = fn
}

func (s *Service) reportViolation(userID, keyID, reasonClass string) {
	if s.onViolation != nil {
		s.onViolation(userID, keyID, reasonClass)
	}
}

type serviceMetrics struct {
	keyExchanges       int64
	messagesSealed     int64
	messagesOpened     int64
	rotationsInitiated int64
	rotationsCompleted int64
	decryptFailures    int64
	expiredCleanups    int64
	mu                 sync.Mutex
}

func New(cfg Config) *Service {
	return &Service{cfg: cfg.withDefaults(), users: make(map[string]*connectionState)}
}

func (s *Service) stateFor(userID string) *connectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.users[userID]
	if !ok {
		st = &connectionState{userID: userID, replay: make(map[string]*replayWindow)}
		s.users[userID] = st
	}
	return st
}

// HasState reports whether userID has performed a key exchange.
func (s *Service) HasState(userID string) bool {
	s.mu.Lock()
	st, ok := s.users[userID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current != nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("encryption: random: %w", err)
	}
	return b, nil
}

func randomKeyID() (string, error) {
	b, err := randomBytes(16)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func deriveAEADKey(shared, salt []byte) ([32]byte, error) {
	var key [32]byte
	r := hkdf.New(sha256.New, shared, salt, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return key, fmt.Errorf("encryption: hkdf expand: %w", err)
	}
	return key, nil
}

// Exchange performs the server side of a key exchange (spec §4.5 "Key
// exchange (initiator = client)"). If the user already has a current
// slot, it is demoted to previous with the configured grace so in-flight
// or duplicate handshakes don't break existing traffic.
func (s *Service) Exchange(userID string, req ExchangeRequest) (ExchangeResponse, error) {
	clientECDHPub, err := ecdh.P256().NewPublicKey(req.ClientPublicKey)
	if err != nil {
		return ExchangeResponse{}, errs.New(errs.ValidationFailed, "invalid client ECDH public key")
	}
	clientSignPubAny, err := x509.ParsePKIXPublicKey(req.ClientSigningPublicKey)
	if err != nil {
		return ExchangeResponse{}, errs.New(errs.ValidationFailed, "invalid client signing public key")
	}
	clientSignPub, ok := clientSignPubAny.(*ecdsa.PublicKey)
	if !ok {
		return ExchangeResponse{}, errs.New(errs.ValidationFailed, "client signing key must be ECDSA")
	}

	serverECDH, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return ExchangeResponse{}, fmt.Errorf("encryption: generate ecdh: %w", err)
	}
	serverSign, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return ExchangeResponse{}, fmt.Errorf("encryption: generate ecdsa: %w", err)
	}

	shared, err := serverECDH.ECDH(clientECDHPub)
	if err != nil {
		return ExchangeResponse{}, errs.New(errs.ValidationFailed, "ECDH agreement failed")
	}
	salt, err := randomBytes(16)
	if err != nil {
		return ExchangeResponse{}, err
	}
	aeadKey, err := deriveAEADKey(shared, salt)
	if err != nil {
		return ExchangeResponse{}, err
	}
	keyID, err := randomKeyID()
	if err != nil {
		return ExchangeResponse{}, err
	}

	newSlot := &slot{
		keyID:        keyID,
		aeadKey:      aeadKey,
		serverECDH:   serverECDH,
		serverSign:   serverSign,
		clientVerify: clientSignPub,
		createdAt:    time.Now(),
	}

	st := s.stateFor(userID)
	st.mu.Lock()
	if st.current != nil {
		demoted := st.current
		demoted.expiresAt = time.Now().Add(s.cfg.RotationGrace)
		st.previous = demoted
	}
	st.current = newSlot
	st.replay[keyID] = newReplayWindow(s.cfg.ReplayWindow)
	st.mu.Unlock()

	s.bump(&s.metrics.keyExchanges)

	serverECDHPubBytes := serverECDH.PublicKey().Bytes()
	serverSignPubBytes, err := x509.MarshalPKIXPublicKey(&serverSign.PublicKey)
	if err != nil {
		return ExchangeResponse{}, fmt.Errorf("encryption: marshal server signing key: %w", err)
	}

	return ExchangeResponse{
		KeyID:                  keyID,
		ServerPublicKey:        serverECDHPubBytes,
		ServerSigningPublicKey: serverSignPubBytes,
		HKDFSalt:               salt,
	}, nil
}

func (s *Service) bump(counter *int64) {
	s.metrics.mu.Lock()
	*counter++
	s.metrics.mu.Unlock()
}

// buildTranscript concatenates the signed fields in wire order with
// length prefixes, per spec §4.5 "Sealing".
func buildTranscript(keyID string, nonce, ciphertext, tag []byte, timestamp, sequence int64) []byte {
	var buf bytes.Buffer
	writeLenPrefixed(&buf, []byte(keyID))
	writeLenPrefixed(&buf, nonce)
	writeLenPrefixed(&buf, ciphertext)
	writeLenPrefixed(&buf, tag)
	var tsSeq [16]byte
	binary.LittleEndian.PutUint64(tsSeq[0:8], uint64(timestamp))
	binary.LittleEndian.PutUint64(tsSeq[8:16], uint64(sequence))
	buf.Write(tsSeq[:])
	return buf.Bytes()
}

func writeLenPrefixed(buf *bytes.Buffer, data []byte) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	buf.Write(length[:])
	buf.Write(data)
}

// resolveSlotLocked finds the slot matching keyID among current/previous.
// Caller must hold st.mu.
func (st *connectionState) resolveSlotLocked(keyID string) *slot {
	if st.current != nil && st.current.keyID == keyID {
		return st.current
	}
	if st.previous != nil && st.previous.keyID == keyID {
		return st.previous
	}
	if st.pending != nil && st.pending.keyID == keyID {
		return nil // pending has no AEAD material yet
	}
	return nil
}

// Seal implements encryptAndSign (spec §4.5). If keyIDHint is non-empty
// it selects a specific slot (current or previous); otherwise current is
// used.
func (s *Service) Seal(userID string, payload []byte, keyIDHint string) (Envelope, error) {
	st := s.stateFor(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	var chosen *slot
	if keyIDHint != "" {
		chosen = st.resolveSlotLocked(keyIDHint)
		if chosen == nil {
			return Envelope{}, errs.New(errs.SecurityViolation, "invalid key ID")
		}
	} else {
		chosen = st.current
	}
	if chosen == nil {
		return Envelope{}, errs.New(errs.SecurityViolation, "no active encryption key for connection")
	}

	nonce, err := randomBytes(12)
	if err != nil {
		return Envelope{}, err
	}
	block, err := aes.NewCipher(chosen.aeadKey[:])
	if err != nil {
		return Envelope{}, fmt.Errorf("encryption: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Envelope{}, fmt.Errorf("encryption: gcm: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, payload, nil)
	tagSize := gcm.Overhead()
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	st.sendSeq++
	sequence := st.sendSeq
	timestamp := time.Now().UnixMilli()

	transcript := buildTranscript(chosen.keyID, nonce, ciphertext, tag, timestamp, sequence)
	digest := sha256.Sum256(transcript)
	signature, err := ecdsa.SignASN1(rand.Reader, chosen.serverSign, digest[:])
	if err != nil {
		return Envelope{}, fmt.Errorf("encryption: sign: %w", err)
	}

	chosen.messageCount.Add(1)
	s.bump(&s.metrics.messagesSealed)

	return Envelope{
		KeyID:          chosen.keyID,
		Nonce:          nonce,
		Ciphertext:     ciphertext,
		Tag:            tag,
		Signature:      signature,
		Timestamp:      timestamp,
		SequenceNumber: sequence,
	}, nil
}

// Open implements decryptAndVerify (spec §4.5). Any failure returns a
// SecurityViolation and leaves state untouched; success records the
// sequence in the replay window.
func (s *Service) Open(userID string, env Envelope) ([]byte, error) {
	st := s.stateFor(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	chosen := st.resolveSlotLocked(env.KeyID)
	if chosen == nil {
		s.bumpLocked(&s.metrics.decryptFailures)
		s.reportViolation(userID, env.KeyID, "invalid_key_id")
		return nil, errs.New(errs.SecurityViolation, "invalid key ID")
	}
	now := time.Now()
	if chosen == st.previous && chosen.expired(now) {
		s.bumpLocked(&s.metrics.decryptFailures)
		s.reportViolation(userID, env.KeyID, "key_expired")
		return nil, errs.New(errs.SecurityViolation, "key ID expired")
	}

	serverNow := now.UnixMilli()
	age := time.Duration(serverNow-env.Timestamp) * time.Millisecond
	future := time.Duration(env.Timestamp-serverNow) * time.Millisecond
	if age > s.cfg.ReplayWindow || future > s.cfg.ForwardSkew {
		s.bumpLocked(&s.metrics.decryptFailures)
		s.reportViolation(userID, env.KeyID, "timestamp_skew")
		return nil, errs.New(errs.SecurityViolation, "timestamp outside allowed skew")
	}

	window, ok := st.replay[env.KeyID]
	if !ok {
		window = newReplayWindow(s.cfg.ReplayWindow)
		st.replay[env.KeyID] = window
	}
	// Peek without admitting: verification must fully succeed before the
	// sequence is recorded, so a failed signature/AEAD check on a fresh
	// sequence doesn't burn it.
	if window.wouldReject(env.SequenceNumber, now) {
		s.bumpLocked(&s.metrics.decryptFailures)
		s.reportViolation(userID, env.KeyID, "replay")
		return nil, errs.New(errs.SecurityViolation, "replayed sequence")
	}

	transcript := buildTranscript(env.KeyID, env.Nonce, env.Ciphertext, env.Tag, env.Timestamp, env.SequenceNumber)
	digest := sha256.Sum256(transcript)
	if !ecdsa.VerifyASN1(chosen.clientVerify, digest[:], env.Signature) {
		s.bumpLocked(&s.metrics.decryptFailures)
		s.reportViolation(userID, env.KeyID, "signature_invalid")
		return nil, errs.New(errs.SecurityViolation, "signature verification failed")
	}

	block, err := aes.NewCipher(chosen.aeadKey[:])
	if err != nil {
		return nil, fmt.Errorf("encryption: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("encryption: gcm: %w", err)
	}
	sealed := append(append([]byte{}, env.Ciphertext...), env.Tag...)
	plaintext, err := gcm.Open(nil, env.Nonce, sealed, nil)
	if err != nil {
		s.bumpLocked(&s.metrics.decryptFailures)
		s.reportViolation(userID, env.KeyID, "aead_failed")
		return nil, errs.New(errs.SecurityViolation, "AEAD open failed")
	}

	window.admit(env.SequenceNumber, now)
	s.bumpLocked(&s.metrics.messagesOpened)
	return plaintext, nil
}

func (s *Service) bumpLocked(counter *int64) {
	s.metrics.mu.Lock()
	*counter++
	s.metrics.mu.Unlock()
}

// InitiateRotation generates a fresh server keypair for userID and holds
// it as a pending rotation awaiting the client's RotationAck (spec §4.5
// "initiateRotation"). It does not touch the current slot.
func (s *Service) InitiateRotation(userID string) (ExchangeResponse, error) {
	st := s.stateFor(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.current == nil {
		return ExchangeResponse{}, errs.New(errs.Conflict, "no active key state to rotate")
	}

	serverECDH, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return ExchangeResponse{}, fmt.Errorf("encryption: generate ecdh: %w", err)
	}
	serverSign, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return ExchangeResponse{}, fmt.Errorf("encryption: generate ecdsa: %w", err)
	}
	salt, err := randomBytes(16)
	if err != nil {
		return ExchangeResponse{}, err
	}
	keyID, err := randomKeyID()
	if err != nil {
		return ExchangeResponse{}, err
	}

	st.pending = &pendingRotation{
		keyID:      keyID,
		serverECDH: serverECDH,
		serverSign: serverSign,
		salt:       salt,
		startedAt:  time.Now(),
	}

	s.bump(&s.metrics.rotationsInitiated)

	serverSignPubBytes, err := x509.MarshalPKIXPublicKey(&serverSign.PublicKey)
	if err != nil {
		return ExchangeResponse{}, fmt.Errorf("encryption: marshal server signing key: %w", err)
	}
	return ExchangeResponse{
		KeyID:                  keyID,
		ServerPublicKey:        serverECDH.PublicKey().Bytes(),
		ServerSigningPublicKey: serverSignPubBytes,
		HKDFSalt:               salt,
	}, nil
}

// CompleteRotation finishes a pending rotation: it derives the final AEAD
// key from the pending server ECDH key and the client's new ECDH public
// key, demotes the current slot to previous with grace, and promotes the
// pending slot to current (spec §4.5 "completeRotation").
func (s *Service) CompleteRotation(userID string, ack RotationAck) error {
	clientECDHPub, err := ecdh.P256().NewPublicKey(ack.ClientPublicKey)
	if err != nil {
		return errs.New(errs.ValidationFailed, "invalid client ECDH public key")
	}
	clientSignPubAny, err := x509.ParsePKIXPublicKey(ack.ClientSigningPublicKey)
	if err != nil {
		return errs.New(errs.ValidationFailed, "invalid client signing public key")
	}
	clientSignPub, ok := clientSignPubAny.(*ecdsa.PublicKey)
	if !ok {
		return errs.New(errs.ValidationFailed, "client signing key must be ECDSA")
	}

	st := s.stateFor(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.pending == nil {
		return errs.New(errs.Conflict, "no pending rotation for connection")
	}
	pending := st.pending

	shared, err := pending.serverECDH.ECDH(clientECDHPub)
	if err != nil {
		return errs.New(errs.ValidationFailed, "ECDH agreement failed")
	}
	aeadKey, err := deriveAEADKey(shared, pending.salt)
	if err != nil {
		return err
	}

	newSlot := &slot{
		keyID:        pending.keyID,
		aeadKey:      aeadKey,
		serverECDH:   pending.serverECDH,
		serverSign:   pending.serverSign,
		clientVerify: clientSignPub,
		createdAt:    time.Now(),
	}

	if st.current != nil {
		demoted := st.current
		demoted.expiresAt = time.Now().Add(s.cfg.RotationGrace)
		st.previous = demoted
	}
	st.current = newSlot
	st.replay[newSlot.keyID] = newReplayWindow(s.cfg.ReplayWindow)
	st.pending = nil

	s.bump(&s.metrics.rotationsCompleted)
	return nil
}

// NeedsRotation reports whether userID's current key has crossed the
// message-count or age ceiling (spec §4.5 "Rotation triggers"). Admin and
// background callers use this to decide whether to call InitiateRotation.
func (s *Service) NeedsRotation(userID string) bool {
	st := s.stateFor(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.current == nil {
		return false
	}
	if st.current.messageCount.Load() >= int64(s.cfg.MaxMessagesPerKey) {
		return true
	}
	return time.Since(st.current.createdAt) >= s.cfg.RotationInterval
}

// ConnectionStats is the admin-facing per-user view (spec §6 "GET
// …/connections/{id}/stats").
type ConnectionStats struct {
	UserID          string `json:"userId"`
	CurrentKeyID    string `json:"currentKeyId"`
	CurrentKeyAge   string `json:"currentKeyAge"`
	MessagesOnKey   int64  `json:"messagesOnKey"`
	HasPreviousKey  bool   `json:"hasPreviousKey"`
	PreviousKeyID   string `json:"previousKeyId,omitempty"`
	PendingRotation bool   `json:"pendingRotation"`
}

// Stats returns the current key state for userID, or ok=false if the
// user has never performed a key exchange.
func (s *Service) Stats(userID string) (ConnectionStats, bool) {
	s.mu.Lock()
	st, ok := s.users[userID]
	s.mu.Unlock()
	if !ok {
		return ConnectionStats{}, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.current == nil {
		return ConnectionStats{}, false
	}
	stats := ConnectionStats{
		UserID:          userID,
		CurrentKeyID:    st.current.keyID,
		CurrentKeyAge:   time.Since(st.current.createdAt).String(),
		MessagesOnKey:   st.current.messageCount.Load(),
		PendingRotation: st.pending != nil,
	}
	if st.previous != nil {
		stats.HasPreviousKey = true
		stats.PreviousKeyID = st.previous.keyID
	}
	return stats, true
}

// DropState discards userID's encryption state entirely (spec §6
// "DELETE …/connections/{userId}"); the next call must perform a fresh
// KeyExchange.
func (s *Service) DropState(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
}

// UsersNeedingRotation returns every user id whose current key has
// crossed a rotation trigger, for the admin "needs-rotation" view (spec
// §6 "GET …/connections/needs-rotation").
func (s *Service) UsersNeedingRotation() []string {
	s.mu.Lock()
	states := make(map[string]*connectionState, len(s.users))
	for userID, st := range s.users {
		states[userID] = st
	}
	s.mu.Unlock()

	var out []string
	for userID, st := range states {
		st.mu.Lock()
		needs := st.current != nil &&
			(st.current.messageCount.Load() >= int64(s.cfg.MaxMessagesPerKey) ||
				time.Since(st.current.createdAt) >= s.cfg.RotationInterval)
		st.mu.Unlock()
		if needs {
			out = append(out, userID)
		}
	}
	return out
}

// CleanupExpired sweeps every user's previous slot and drops it once its
// grace period has elapsed, along with its replay window (spec §4.5
// "Expired-key cleanup").
func (s *Service) CleanupExpired() {
	now := time.Now()
	s.mu.Lock()
	states := make([]*connectionState, 0, len(s.users))
	for _, st := range s.users {
		states = append(states, st)
	}
	s.mu.Unlock()

	for _, st := range states {
		st.mu.Lock()
		if st.previous != nil && st.previous.expired(now) {
			delete(st.replay, st.previous.keyID)
			st.previous = nil
			s.bumpLocked(&s.metrics.expiredCleanups)
		}
		st.mu.Unlock()
	}
}

// Metrics is the admin-facing activity snapshot (spec §4.5 "Metrics").
type Metrics struct {
	KeyExchanges       int64
	MessagesSealed     int64
	MessagesOpened     int64
	RotationsInitiated int64
	RotationsCompleted int64
	DecryptFailures    int64
	ExpiredCleanups    int64
}

func (s *Service) Metrics() Metrics {
	s.metrics.mu.Lock()
	defer s.metrics.mu.Unlock()
	return Metrics{
		KeyExchanges:       s.metrics.keyExchanges,
		MessagesSealed:     s.metrics.messagesSealed,
		MessagesOpened:     s.metrics.messagesOpened,
		RotationsInitiated: s.metrics.rotationsInitiated,
		RotationsCompleted: s.metrics.rotationsCompleted,
		DecryptFailures:    s.metrics.decryptFailures,
		ExpiredCleanups:    s.metrics.expiredCleanups,
	}
}
