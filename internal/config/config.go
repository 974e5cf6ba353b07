// Package config is the gateway's goctl-style configuration struct:
// rest.RestConf plus one sub-config per collaborator, loaded from a
// single YAML file via conf.MustLoad (see shared/config's AuthConfig for
// the pattern this generalises).
package config

import (
	"time"

	"github.com/zeromicro/go-zero/rest"

	"github.com/nimbus-tales/aegis-gateway/internal/audit"
	"github.com/nimbus-tales/aegis-gateway/internal/encryption"
	"github.com/nimbus-tales/aegis-gateway/internal/kv"
	"github.com/nimbus-tales/aegis-gateway/internal/ratelimit"
	"github.com/nimbus-tales/aegis-gateway/internal/session"
)

// Config is the gatewayapi process's complete configuration.
type Config struct {
	rest.RestConf

	// KV backs sessions, connection tickets, and rate-limit counters.
	// Backend selects "redis" or "memory"; "memory" is for local/dev
	// runs and single-process tests only.
	KV struct {
		Backend string `json:",options=redis|memory,default=redis"`
		Redis   kv.Config
	}

	Session struct {
		LifetimeSeconds      int64 `json:",default=86400"`
		SlidingWindowSeconds int64 `json:",default=1800"`
		Cap                  int   `json:",default=5"`
	}

	ConnTicket struct {
		TTLSeconds int64 `json:",default=30"`
	}

	RateLimit ratelimit.Config

	Encryption struct {
		MaxMessagesPerKey  int   `json:",default=10000"`
		RotationIntervalMs int64 `json:",default=3600000"`
		RotationGraceMs    int64 `json:",default=30000"`
		ReplayWindowMs     int64 `json:",default=60000"`
		ForwardSkewMs      int64 `json:",default=5000"`
	}

	Identity struct {
		MockSecret string `json:",env=IDENTITY_MOCK_SECRET,optional"`
		RemoteRpc  struct {
			Enabled bool
			Target  string `json:",optional"`
		} `json:",optional"`
	}

	Audit audit.Config
}

// EncryptionConfig converts the YAML-friendly millisecond fields into an
// encryption.Config with real time.Duration values.
func (c Config) EncryptionConfig() encryption.Config {
	return encryption.Config{
		MaxMessagesPerKey: c.Encryption.MaxMessagesPerKey,
		RotationInterval:  time.Duration(c.Encryption.RotationIntervalMs) * time.Millisecond,
		RotationGrace:     time.Duration(c.Encryption.RotationGraceMs) * time.Millisecond,
		ReplayWindow:      time.Duration(c.Encryption.ReplayWindowMs) * time.Millisecond,
		ForwardSkew:       time.Duration(c.Encryption.ForwardSkewMs) * time.Millisecond,
	}
}

// SessionConfig converts the YAML-friendly second fields into a
// session.Config.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		Lifetime:      time.Duration(c.Session.LifetimeSeconds) * time.Second,
		SlidingWindow: time.Duration(c.Session.SlidingWindowSeconds) * time.Second,
		Cap:           c.Session.Cap,
	}
}

// ConnTicketTTL converts the YAML-friendly second field into a duration.
func (c Config) ConnTicketTTL() time.Duration {
	return time.Duration(c.ConnTicket.TTLSeconds) * time.Second
}
