package config

import (
	"testing"
	"time"
)

func TestEncryptionConfigConvertsMillisecondFields(t *testing.T) {
	var c Config
	c.Encryption.MaxMessagesPerKey = 500
	c.Encryption.RotationIntervalMs = 60_000
	c.Encryption.RotationGraceMs = 5_000
	c.Encryption.ReplayWindowMs = 30_000
	c.Encryption.ForwardSkewMs = 2_000

	got := c.EncryptionConfig()
	if got.MaxMessagesPerKey != 500 {
		t.Fatalf("expected MaxMessagesPerKey 500, got %d", got.MaxMessagesPerKey)
	}
	if got.RotationInterval != time.Minute {
		t.Fatalf("expected RotationInterval 1m, got %v", got.RotationInterval)
	}
	if got.ReplayWindow != 30*time.Second {
		t.Fatalf("expected ReplayWindow 30s, got %v", got.ReplayWindow)
	}
}

func TestSessionConfigConvertsSecondFields(t *testing.T) {
	var c Config
	c.Session.LifetimeSeconds = 3600
	c.Session.SlidingWindowSeconds = 300
	c.Session.Cap = 3

	got := c.SessionConfig()
	if got.Lifetime != time.Hour {
		t.Fatalf("expected Lifetime 1h, got %v", got.Lifetime)
	}
	if got.SlidingWindow != 5*time.Minute {
		t.Fatalf("expected SlidingWindow 5m, got %v", got.SlidingWindow)
	}
	if got.Cap != 3 {
		t.Fatalf("expected Cap 3, got %d", got.Cap)
	}
}

func TestConnTicketTTLConvertsSecondsField(t *testing.T) {
	var c Config
	c.ConnTicket.TTLSeconds = 30
	if got := c.ConnTicketTTL(); got != 30*time.Second {
		t.Fatalf("expected 30s, got %v", got)
	}
}
