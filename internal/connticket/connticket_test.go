package connticket

import (
	"context"
	"testing"
	"time"

	"github.com/nimbus-tales/aegis-gateway/internal/errs"
	"github.com/nimbus-tales/aegis-gateway/internal/kv"
)

func TestIssueAndRedeemOnce(t *testing.T) {
	g := kv.NewMemoryGateway()
	defer g.Close()
	svc := New(g, time.Minute)
	ctx := context.Background()

	ticket, err := svc.Issue(ctx, "session-abc")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	sessionTicket, err := svc.Redeem(ctx, ticket)
	if err != nil || sessionTicket != "session-abc" {
		t.Fatalf("first redeem: got %q err=%v", sessionTicket, err)
	}

	_, err = svc.Redeem(ctx, ticket)
	if !errs.Is(err, errs.Unauthenticated) {
		t.Fatalf("expected Unauthenticated on reuse, got %v", err)
	}
}

func TestRedeemUnknownTicket(t *testing.T) {
	g := kv.NewMemoryGateway()
	defer g.Close()
	svc := New(g, time.Minute)

	_, err := svc.Redeem(context.Background(), "never-issued")
	if !errs.Is(err, errs.Unauthenticated) {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}
