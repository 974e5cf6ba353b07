package session

import (
	"context"
	"testing"
	"time"

	"github.com/nimbus-tales/aegis-gateway/internal/kv"
)

func newTestStore(t *testing.T, cfg Config) (*Store, *kv.MemoryGateway) {
	t.Helper()
	g := kv.NewMemoryGateway()
	t.Cleanup(g.Close)
	return New(g, cfg), g
}

func TestCreateAndValidate(t *testing.T) {
	store, _ := newTestStore(t, Config{Lifetime: time.Hour})
	ctx := context.Background()

	sess, err := store.Create(ctx, "user-1", "Mock", []string{"player"}, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(sess.Ticket) < 20 {
		t.Fatalf("expected long opaque ticket, got %q", sess.Ticket)
	}

	got, err := store.Validate(ctx, sess.Ticket)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got == nil || got.UserID != "user-1" {
		t.Fatalf("expected valid session for user-1, got %+v", got)
	}
}

func TestValidateUnknownTicketReturnsNil(t *testing.T) {
	store, _ := newTestStore(t, Config{})
	got, err := store.Validate(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil session, got %+v", got)
	}
}

func TestSessionCapEvictsOldest(t *testing.T) {
	store, _ := newTestStore(t, Config{Lifetime: time.Hour, Cap: 2})
	ctx := context.Background()

	var tickets []string
	for i := 0; i < 3; i++ {
		sess, err := store.Create(ctx, "user-1", "Mock", nil, false)
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		tickets = append(tickets, sess.Ticket)
		time.Sleep(time.Millisecond) // ensure distinct CreatedAt ordering
	}

	got, err := store.Validate(ctx, tickets[0])
	if err != nil {
		t.Fatalf("validate evicted: %v", err)
	}
	if got != nil {
		t.Fatalf("expected oldest ticket evicted, got %+v", got)
	}

	for _, tk := range tickets[1:] {
		got, err := store.Validate(ctx, tk)
		if err != nil || got == nil {
			t.Fatalf("expected ticket %s to remain valid, got %+v err=%v", tk, got, err)
		}
	}
}

func TestInvalidateIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t, Config{Lifetime: time.Hour})
	ctx := context.Background()

	sess, err := store.Create(ctx, "user-1", "Mock", nil, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := store.Invalidate(ctx, sess.Ticket)
	if err != nil || !first {
		t.Fatalf("expected first invalidate true, got %v err=%v", first, err)
	}
	second, err := store.Invalidate(ctx, sess.Ticket)
	if err != nil || second {
		t.Fatalf("expected second invalidate false, got %v err=%v", second, err)
	}
}

func TestInvalidateAllRemovesEverySession(t *testing.T) {
	store, _ := newTestStore(t, Config{Lifetime: time.Hour, Cap: 10})
	ctx := context.Background()

	var tickets []string
	for i := 0; i < 3; i++ {
		sess, err := store.Create(ctx, "user-1", "Mock", nil, false)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		tickets = append(tickets, sess.Ticket)
	}

	count, err := store.InvalidateAll(ctx, "user-1")
	if err != nil || count != 3 {
		t.Fatalf("expected count 3, got %d err=%v", count, err)
	}

	for _, tk := range tickets {
		got, err := store.Validate(ctx, tk)
		if err != nil || got != nil {
			t.Fatalf("expected ticket %s invalidated, got %+v err=%v", tk, got, err)
		}
	}
}

func TestSlidingExpiryExtendsWithoutTouchingCreatedAt(t *testing.T) {
	store, _ := newTestStore(t, Config{Lifetime: time.Hour, SlidingWindow: 61 * time.Minute})
	ctx := context.Background()

	sess, err := store.Create(ctx, "user-1", "Mock", nil, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	originalCreatedAt := sess.CreatedAt

	got, err := store.Validate(ctx, sess.Ticket)
	if err != nil || got == nil {
		t.Fatalf("validate: %v %+v", err, got)
	}
	if !got.CreatedAt.Equal(originalCreatedAt) {
		t.Fatalf("createdAt should not change on slide: got %v want %v", got.CreatedAt, originalCreatedAt)
	}
	if !got.ExpiresAt.After(sess.ExpiresAt) {
		t.Fatalf("expected expiry to extend, got %v want after %v", got.ExpiresAt, sess.ExpiresAt)
	}
}
