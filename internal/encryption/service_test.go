package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"testing"
	"time"

	"github.com/nimbus-tales/aegis-gateway/internal/errs"
)

type clientKeys struct {
	ecdhKey *ecdh.PrivateKey
	signKey *ecdsa.PrivateKey
}

func newClientKeys(t *testing.T) clientKeys {
	t.Helper()
	ecdhKey, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ecdh: %v", err)
	}
	signKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate ecdsa: %v", err)
	}
	return clientKeys{ecdhKey: ecdhKey, signKey: signKey}
}

func (c clientKeys) exchangeRequest(t *testing.T) ExchangeRequest {
	t.Helper()
	signPub, err := x509.MarshalPKIXPublicKey(&c.signKey.PublicKey)
	if err != nil {
		t.Fatalf("marshal signing pub: %v", err)
	}
	return ExchangeRequest{
		ClientPublicKey:        c.ecdhKey.PublicKey().Bytes(),
		ClientSigningPublicKey: signPub,
	}
}

// clientSession is the client's half of a completed exchange. Open
// verifies inbound envelopes against the client's signing key, so
// envelopes fed to Open are sealed here, the way a real client seals
// them, and envelopes from Seal are opened here against the server key.
type clientSession struct {
	keyID      string
	aeadKey    [32]byte
	signKey    *ecdsa.PrivateKey
	serverSign *ecdsa.PublicKey
	seq        int64
}

func (c clientKeys) session(t *testing.T, resp ExchangeResponse) *clientSession {
	t.Helper()
	serverPub, err := ecdh.P256().NewPublicKey(resp.ServerPublicKey)
	if err != nil {
		t.Fatalf("parse server ecdh key: %v", err)
	}
	shared, err := c.ecdhKey.ECDH(serverPub)
	if err != nil {
		t.Fatalf("ecdh: %v", err)
	}
	aeadKey, err := deriveAEADKey(shared, resp.HKDFSalt)
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	serverSign, err := x509.ParsePKIXPublicKey(resp.ServerSigningPublicKey)
	if err != nil {
		t.Fatalf("parse server signing key: %v", err)
	}
	return &clientSession{keyID: resp.KeyID, aeadKey: aeadKey, signKey: c.signKey, serverSign: serverSign.(*ecdsa.PublicKey)}
}

func (c *clientSession) gcm(t *testing.T) cipher.AEAD {
	t.Helper()
	block, err := aes.NewCipher(c.aeadKey[:])
	if err != nil {
		t.Fatalf("aes cipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("gcm: %v", err)
	}
	return gcm
}

func (c *clientSession) seal(t *testing.T, payload []byte) Envelope {
	t.Helper()
	gcm := c.gcm(t)
	nonce, err := randomBytes(12)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	sealed := gcm.Seal(nil, nonce, payload, nil)
	ciphertext, tag := sealed[:len(sealed)-gcm.Overhead()], sealed[len(sealed)-gcm.Overhead():]
	c.seq++
	timestamp := time.Now().UnixMilli()
	digest := sha256.Sum256(buildTranscript(c.keyID, nonce, ciphertext, tag, timestamp, c.seq))
	signature, err := ecdsa.SignASN1(rand.Reader, c.signKey, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return Envelope{KeyID: c.keyID, Nonce: nonce, Ciphertext: ciphertext, Tag: tag, Signature: signature, Timestamp: timestamp, SequenceNumber: c.seq}
}

func (c *clientSession) open(t *testing.T, env Envelope) []byte {
	t.Helper()
	digest := sha256.Sum256(buildTranscript(env.KeyID, env.Nonce, env.Ciphertext, env.Tag, env.Timestamp, env.SequenceNumber))
	if !ecdsa.VerifyASN1(c.serverSign, digest[:], env.Signature) {
		t.Fatalf("server signature does not verify")
	}
	plaintext, err := c.gcm(t).Open(nil, env.Nonce, append(append([]byte{}, env.Ciphertext...), env.Tag...), nil)
	if err != nil {
		t.Fatalf("client open: %v", err)
	}
	return plaintext
}

func newServiceAndClient(t *testing.T) (*Service, *clientSession, string) {
	t.Helper()
	svc := New(Config{})
	client := newClientKeys(t)
	resp, err := svc.Exchange("user-1", client.exchangeRequest(t))
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	return svc, client.session(t, resp), "user-1"
}

func TestSealOpenRoundTrip(t *testing.T) {
	svc, client, userID := newServiceAndClient(t)

	env, err := svc.Seal(userID, []byte("hello world"), "")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if got := client.open(t, env); string(got) != "hello world" {
		t.Fatalf("unexpected plaintext from Seal: %q", got)
	}

	plaintext, err := svc.Open(userID, client.seal(t, []byte("hello world")))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(plaintext) != "hello world" {
		t.Fatalf("unexpected plaintext: %q", plaintext)
	}
}

func TestOpenRejectsReplayedSequence(t *testing.T) {
	svc, client, userID := newServiceAndClient(t)

	env := client.seal(t, []byte("payload"))
	if _, err := svc.Open(userID, env); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := svc.Open(userID, env); !errs.Is(err, errs.SecurityViolation) {
		t.Fatalf("expected SecurityViolation on replay, got %v", err)
	}
}

func TestOpenRejectsFutureTimestampBeyondSkew(t *testing.T) {
	svc, client, userID := newServiceAndClient(t)

	env := client.seal(t, []byte("payload"))
	env.Timestamp += int64((10 * time.Second) / time.Millisecond)

	if _, err := svc.Open(userID, env); !errs.Is(err, errs.SecurityViolation) {
		t.Fatalf("expected SecurityViolation on future timestamp, got %v", err)
	}
}

func TestOpenRejectsStaleTimestampBeyondWindow(t *testing.T) {
	svc, client, userID := newServiceAndClient(t)

	env := client.seal(t, []byte("payload"))
	env.Timestamp -= int64((90 * time.Second) / time.Millisecond)

	if _, err := svc.Open(userID, env); !errs.Is(err, errs.SecurityViolation) {
		t.Fatalf("expected SecurityViolation on stale timestamp, got %v", err)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	svc, client, userID := newServiceAndClient(t)

	env := client.seal(t, []byte("payload"))
	env.Ciphertext[0] ^= 0xFF

	if _, err := svc.Open(userID, env); !errs.Is(err, errs.SecurityViolation) {
		t.Fatalf("expected SecurityViolation on tampered ciphertext, got %v", err)
	}
}

func TestRotationKeepsPreviousKeyValidDuringGrace(t *testing.T) {
	svc := New(Config{RotationGrace: 50 * time.Millisecond})
	client := newClientKeys(t)
	exResp, err := svc.Exchange("user-1", client.exchangeRequest(t))
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	oldSession := client.session(t, exResp)

	oldEnv := oldSession.seal(t, []byte("before rotation"))
	oldEnvUnopened := oldSession.seal(t, []byte("also before rotation"))

	rotResp, err := svc.InitiateRotation("user-1")
	if err != nil {
		t.Fatalf("initiate rotation: %v", err)
	}

	newClient := newClientKeys(t)
	signPub, err := x509.MarshalPKIXPublicKey(&newClient.signKey.PublicKey)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ack := RotationAck{
		ClientPublicKey:        newClient.ecdhKey.PublicKey().Bytes(),
		ClientSigningPublicKey: signPub,
	}
	if err := svc.CompleteRotation("user-1", ack); err != nil {
		t.Fatalf("complete rotation: %v", err)
	}

	if _, err := svc.Open("user-1", oldEnv); err != nil {
		t.Fatalf("expected old key to still decrypt during grace: %v", err)
	}

	newEnv := newClient.session(t, rotResp).seal(t, []byte("after rotation"))
	plaintext, err := svc.Open("user-1", newEnv)
	if err != nil {
		t.Fatalf("open with new key: %v", err)
	}
	if string(plaintext) != "after rotation" {
		t.Fatalf("unexpected plaintext: %q", plaintext)
	}

	time.Sleep(80 * time.Millisecond)
	svc.CleanupExpired()

	if _, err := svc.Open("user-1", oldEnvUnopened); !errs.Is(err, errs.SecurityViolation) {
		t.Fatalf("expected old key to be rejected as expired after grace period and cleanup, got %v", err)
	}
}

func TestOpenRejectsUnknownKeyID(t *testing.T) {
	svc, client, userID := newServiceAndClient(t)

	env := client.seal(t, []byte("payload"))
	env.KeyID = "not-a-real-key-id"

	if _, err := svc.Open(userID, env); !errs.Is(err, errs.SecurityViolation) {
		t.Fatalf("expected SecurityViolation on unknown key id, got %v", err)
	}
}

func TestMetricsTrackActivity(t *testing.T) {
	svc, client, userID := newServiceAndClient(t)

	if _, err := svc.Seal(userID, []byte("response"), ""); err != nil {
		t.Fatalf("seal: %v", err)
	}
	env := client.seal(t, []byte("payload"))
	if _, err := svc.Open(userID, env); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := svc.Open(userID, env); err == nil {
		t.Fatalf("expected replay rejection")
	}

	m := svc.Metrics()
	if m.KeyExchanges != 1 || m.MessagesSealed != 1 || m.MessagesOpened != 1 || m.DecryptFailures != 1 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}
