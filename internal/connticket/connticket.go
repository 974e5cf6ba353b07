// Package connticket issues and redeems the single-use connection tickets
// that authenticate a WebSocket upgrade without putting the long-lived
// session bearer in a URL or a log line (spec §4.3).
package connticket

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/nimbus-tales/aegis-gateway/internal/errs"
	"github.com/nimbus-tales/aegis-gateway/internal/kv"
)

const keyPrefix = "connticket:"

// DefaultTTL is T_tk from spec §4.3.
const DefaultTTL = 30 * time.Second

// Service issues and redeems connection tickets.
type Service struct {
	kv  kv.Gateway
	ttl time.Duration
}

func New(gateway kv.Gateway, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{kv: gateway, ttl: ttl}
}

// Issue binds a fresh 16-byte random id to sessionTicket and returns it.
func (s *Service) Issue(ctx context.Context, sessionTicket string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("connticket: generate: %w", err)
	}
	id := base64.RawURLEncoding.EncodeToString(buf)

	if err := s.kv.SetWithTTL(ctx, keyPrefix+id, sessionTicket, s.ttl); err != nil {
		return "", errs.Wrap(errs.TransientFailure, err)
	}
	return id, nil
}

// Redeem atomically consumes ticket and returns the session ticket it was
// bound to. A ticket can be redeemed at most once, even within its TTL:
// the get-and-delete is atomic at the KV layer, so two concurrent
// redemptions can never both succeed.
func (s *Service) Redeem(ctx context.Context, ticket string) (string, error) {
	val, existed, err := s.kv.GetAndDelete(ctx, keyPrefix+ticket)
	if err != nil {
		return "", errs.Wrap(errs.TransientFailure, err)
	}
	if !existed {
		return "", errs.New(errs.Unauthenticated, "connection ticket invalid or already used")
	}
	return val, nil
}
