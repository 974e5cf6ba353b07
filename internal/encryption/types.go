// Package encryption implements the per-connection payload-encryption
// layer (spec §4.5): ECDH key exchange, AES-GCM sealed envelopes with
// ECDSA signatures, replay protection, and scheduled key rotation.
//
// State is keyed by user id, not by connection id (spec §4.5
// "Cross-connection identity"): a client that holds several hub
// connections under one account shares a single key state, so a
// rotation completed on one connection is immediately visible to sends
// on every other connection for that user.
package encryption

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"sync/atomic"
	"time"
)

// Envelope is the wire form of a sealed message (spec §3, §6).
type Envelope struct {
	KeyID          string `json:"keyId"`
	Nonce          []byte `json:"nonce"`
	Ciphertext     []byte `json:"ciphertext"`
	Tag            []byte `json:"tag"`
	Signature      []byte `json:"signature"`
	Timestamp      int64  `json:"timestamp"`
	SequenceNumber int64  `json:"sequenceNumber"`
}

// ExchangeRequest is the client's half of a key exchange (spec §6
// "Key-exchange message").
type ExchangeRequest struct {
	ClientPublicKey        []byte // uncompressed P-256 point (ecdh.PublicKey.Bytes form); SubjectPublicKeyInfo is not accepted
	ClientSigningPublicKey []byte // SubjectPublicKeyInfo-encoded ECDSA public key
}

// ExchangeResponse is returned from a key exchange or rotation request.
type ExchangeResponse struct {
	KeyID                   string
	ServerPublicKey         []byte
	ServerSigningPublicKey  []byte
	HKDFSalt                []byte
}

// RotationAck is what the client sends back to complete a rotation: its
// own fresh ECDH and signing keypairs (spec §4.5 "completeRotation").
type RotationAck struct {
	ClientPublicKey        []byte
	ClientSigningPublicKey []byte
}

// slot holds one generation of key material — either the active
// "current" slot or a recently-rotated "previous" one kept for decrypt
// only, during its grace period (spec §3 "Encryption state").
type slot struct {
	keyID        string
	aeadKey      [32]byte
	serverECDH   *ecdh.PrivateKey
	serverSign   *ecdsa.PrivateKey
	clientVerify *ecdsa.PublicKey
	messageCount atomic.Int64
	createdAt    time.Time
	expiresAt    time.Time // zero for current; set when demoted to previous
}

func (s *slot) expired(now time.Time) bool {
	return !s.expiresAt.IsZero() && !now.Before(s.expiresAt)
}

// pendingRotation is a tentatively-generated server keypair awaiting the
// client's RotationAck before it can be promoted to current.
type pendingRotation struct {
	keyID      string
	serverECDH *ecdh.PrivateKey
	serverSign *ecdsa.PrivateKey
	salt       []byte
	startedAt  time.Time
}
