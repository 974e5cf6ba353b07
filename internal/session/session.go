// Package session implements the session ticket service (spec §4.2): an
// opaque bearer ticket issued at login, sliding-refreshed on validation,
// capped per user, and stored entirely in the shared KV gateway.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/nimbus-tales/aegis-gateway/internal/errs"
	"github.com/nimbus-tales/aegis-gateway/internal/kv"
)

const (
	sessionKeyPrefix = "session:"
	userSetPrefix    = "session:user:"
)

// Session is the record returned to callers. Never cached in memory by
// the store: every read goes to the KV gateway.
type Session struct {
	Ticket    string    `json:"ticket"`
	UserID    string    `json:"userId"`
	Provider  string    `json:"provider"`
	Roles     []string  `json:"roles"`
	IsAdmin   bool      `json:"isAdmin"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Config controls lifetime, sliding window, and the per-user cap.
type Config struct {
	// Lifetime is the TTL assigned (and re-assigned, on slide) to a
	// session record.
	Lifetime time.Duration
	// SlidingWindow: a validate() within this distance of expiry
	// refreshes ExpiresAt to now+Lifetime.
	SlidingWindow time.Duration
	// Cap is the maximum number of simultaneously live tickets per
	// user; default 5 per spec §3.
	Cap int
}

func (c Config) withDefaults() Config {
	if c.Lifetime <= 0 {
		c.Lifetime = 24 * time.Hour
	}
	if c.SlidingWindow <= 0 {
		c.SlidingWindow = 30 * time.Minute
	}
	if c.Cap <= 0 {
		c.Cap = 5
	}
	return c
}

// Store is the session ticket service, C2.
type Store struct {
	kv  kv.Gateway
	cfg Config
}

func New(gateway kv.Gateway, cfg Config) *Store {
	return &Store{kv: gateway, cfg: cfg.withDefaults()}
}

func sessionKey(ticket string) string { return sessionKeyPrefix + ticket }
func userSetKey(userID string) string { return userSetPrefix + userID }

// newTicket generates a >=192-bit URL-safe id with no '+', '/', or '='
// per spec §3 — base64.RawURLEncoding already avoids all three.
func newTicket() (string, error) {
	buf := make([]byte, 24) // 192 bits
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: generate ticket: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Create issues a fresh session for (user, provider, roles), enforcing
// the per-user cap by evicting the oldest tickets once the set exceeds
// it.
func (s *Store) Create(ctx context.Context, userID, provider string, roles []string, isAdmin bool) (*Session, error) {
	ticket, err := newTicket()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess := &Session{
		Ticket:    ticket,
		UserID:    userID,
		Provider:  provider,
		Roles:     roles,
		IsAdmin:   isAdmin,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.Lifetime),
	}

	if err := s.write(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.kv.SetAdd(ctx, userSetKey(userID), ticket); err != nil {
		return nil, errs.Wrap(errs.TransientFailure, err)
	}

	if err := s.enforceCap(ctx, userID); err != nil {
		return nil, err
	}

	out := *sess
	return &out, nil
}

func (s *Store) write(ctx context.Context, sess *Session) error {
	buf, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.kv.SetWithTTL(ctx, sessionKey(sess.Ticket), string(buf), ttl); err != nil {
		return errs.Wrap(errs.TransientFailure, err)
	}
	return nil
}

// enforceCap reads every session record for userID in one multi-get and,
// if more than Cap are live, deletes the oldest by CreatedAt (ties broken
// by ticket id byte order) per spec §4.2.
func (s *Store) enforceCap(ctx context.Context, userID string) error {
	tickets, err := s.kv.SetMembers(ctx, userSetKey(userID))
	if err != nil {
		return errs.Wrap(errs.TransientFailure, err)
	}
	if len(tickets) <= s.cfg.Cap {
		return nil
	}

	keys := make([]string, len(tickets))
	for i, t := range tickets {
		keys[i] = sessionKey(t)
	}
	entries, err := s.kv.MultiGet(ctx, keys...)
	if err != nil {
		return errs.Wrap(errs.TransientFailure, err)
	}

	type live struct {
		ticket    string
		createdAt time.Time
	}
	var records []live
	for i, e := range entries {
		if !e.Found {
			// Stale set member whose record already expired in the KV
			// store; drop it from the set too.
			_ = s.kv.SetRemove(ctx, userSetKey(userID), tickets[i])
			continue
		}
		var sess Session
		if err := json.Unmarshal([]byte(e.Value), &sess); err != nil {
			continue
		}
		records = append(records, live{ticket: sess.Ticket, createdAt: sess.CreatedAt})
	}

	if len(records) <= s.cfg.Cap {
		return nil
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].createdAt.Equal(records[j].createdAt) {
			return records[i].ticket < records[j].ticket
		}
		return records[i].createdAt.Before(records[j].createdAt)
	})

	evictCount := len(records) - s.cfg.Cap
	evictKeys := make([]string, evictCount)
	for i := 0; i < evictCount; i++ {
		evictKeys[i] = sessionKey(records[i].ticket)
	}
	if err := s.kv.MultiDelete(ctx, evictKeys...); err != nil {
		return errs.Wrap(errs.TransientFailure, err)
	}
	for i := 0; i < evictCount; i++ {
		_ = s.kv.SetRemove(ctx, userSetKey(userID), records[i].ticket)
	}
	return nil
}

// Validate loads the session for ticket. It returns (nil, nil) — not an
// error — when the ticket is unknown or expired, matching spec §4.2's
// "validate(ticket) → session or nil". If the remaining lifetime has
// dropped under SlidingWindow, the expiry is extended without touching
// CreatedAt.
func (s *Store) Validate(ctx context.Context, ticket string) (*Session, error) {
	raw, err := s.kv.Get(ctx, sessionKey(ticket))
	if err != nil {
		if err == kv.ErrNotFound {
			return nil, nil
		}
		return nil, errs.Wrap(errs.TransientFailure, err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("session: unmarshal: %w", err)
	}

	now := time.Now().UTC()
	if !now.Before(sess.ExpiresAt) {
		_, _ = s.Invalidate(ctx, ticket)
		return nil, nil
	}

	if sess.ExpiresAt.Sub(now) < s.cfg.SlidingWindow {
		sess.ExpiresAt = now.Add(s.cfg.Lifetime)
		if err := s.write(ctx, &sess); err != nil {
			return nil, err
		}
	}

	out := sess
	return &out, nil
}

// Invalidate deletes the session record and removes it from the user's
// set. Idempotent: a second call on an already-gone ticket returns false
// without error, per the double-invalidate testable property in §8.
func (s *Store) Invalidate(ctx context.Context, ticket string) (bool, error) {
	raw, err := s.kv.Get(ctx, sessionKey(ticket))
	if err != nil && err != kv.ErrNotFound {
		return false, errs.Wrap(errs.TransientFailure, err)
	}
	existed := err == nil

	if err := s.kv.Delete(ctx, sessionKey(ticket)); err != nil {
		return existed, errs.Wrap(errs.TransientFailure, err)
	}

	if existed {
		var sess Session
		if jsonErr := json.Unmarshal([]byte(raw), &sess); jsonErr == nil {
			_ = s.kv.SetRemove(ctx, userSetKey(sess.UserID), ticket)
		}
	}
	return existed, nil
}

// InvalidateAll destroys every live ticket for userID and returns how
// many were removed.
func (s *Store) InvalidateAll(ctx context.Context, userID string) (int, error) {
	tickets, err := s.kv.SetMembers(ctx, userSetKey(userID))
	if err != nil {
		return 0, errs.Wrap(errs.TransientFailure, err)
	}
	if len(tickets) == 0 {
		return 0, nil
	}

	keys := make([]string, len(tickets))
	for i, t := range tickets {
		keys[i] = sessionKey(t)
	}
	if err := s.kv.MultiDelete(ctx, keys...); err != nil {
		return 0, errs.Wrap(errs.TransientFailure, err)
	}
	if err := s.kv.Delete(ctx, userSetKey(userID)); err != nil {
		return 0, errs.Wrap(errs.TransientFailure, err)
	}
	return len(tickets), nil
}

// List returns up to take sessions for userID, starting after skip,
// ordered by CreatedAt ascending.
func (s *Store) List(ctx context.Context, userID string, skip, take int) ([]*Session, error) {
	tickets, err := s.kv.SetMembers(ctx, userSetKey(userID))
	if err != nil {
		return nil, errs.Wrap(errs.TransientFailure, err)
	}
	if len(tickets) == 0 {
		return nil, nil
	}

	keys := make([]string, len(tickets))
	for i, t := range tickets {
		keys[i] = sessionKey(t)
	}
	entries, err := s.kv.MultiGet(ctx, keys...)
	if err != nil {
		return nil, errs.Wrap(errs.TransientFailure, err)
	}

	var sessions []*Session
	for _, e := range entries {
		if !e.Found {
			continue
		}
		var sess Session
		if err := json.Unmarshal([]byte(e.Value), &sess); err != nil {
			continue
		}
		sessions = append(sessions, &sess)
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.Before(sessions[j].CreatedAt) })

	if skip >= len(sessions) {
		return nil, nil
	}
	end := skip + take
	if take <= 0 || end > len(sessions) {
		end = len(sessions)
	}
	return sessions[skip:end], nil
}

// Count returns the number of live session records for userID (the set
// may over-count tickets whose records have expired until a later
// enforceCap pass prunes them; List skips such tickets without pruning).
func (s *Store) Count(ctx context.Context, userID string) (int, error) {
	tickets, err := s.kv.SetMembers(ctx, userSetKey(userID))
	if err != nil {
		return 0, errs.Wrap(errs.TransientFailure, err)
	}
	return len(tickets), nil
}
