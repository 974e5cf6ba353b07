package admin

import (
	"context"
	"testing"

	"github.com/nimbus-tales/aegis-gateway/internal/errs"
	"github.com/nimbus-tales/aegis-gateway/internal/kv"
	"github.com/nimbus-tales/aegis-gateway/internal/ratelimit"
)

func newTestRateLimitAdmin(t *testing.T) *RateLimitAdmin {
	t.Helper()
	g := kv.NewMemoryGateway()
	t.Cleanup(func() { g.Close() })
	engine, err := ratelimit.New(g, ratelimit.Config{
		Enabled:       true,
		DefaultPolicy: "standard",
		Policies: map[string]ratelimit.Policy{
			"standard": {Name: "standard", Rules: []ratelimit.Rule{{MaxHits: 10, PeriodSeconds: 60, TimeoutSeconds: 60}}},
		},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return NewRateLimitAdmin(engine, nil)
}

func TestRateLimitAdminUpsertAndDeletePolicy(t *testing.T) {
	a := newTestRateLimitAdmin(t)
	ctx := context.Background()

	policy := ratelimit.Policy{Name: "strict", Rules: []ratelimit.Rule{{MaxHits: 1, PeriodSeconds: 1, TimeoutSeconds: 1}}}
	if err := a.UpsertPolicy(ctx, "admin-1", policy); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, ok := a.Config().Policies["strict"]; !ok {
		t.Fatalf("expected strict policy to be present")
	}

	if err := a.DeletePolicy(ctx, "admin-1", "strict"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := a.Config().Policies["strict"]; ok {
		t.Fatalf("expected strict policy to be gone")
	}
}

func TestRateLimitAdminDeleteDefaultPolicyRefused(t *testing.T) {
	a := newTestRateLimitAdmin(t)
	err := a.DeletePolicy(context.Background(), "admin-1", "standard")
	if !errs.Is(err, errs.Conflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestRateLimitAdminDeleteMappedPolicyRefused(t *testing.T) {
	a := newTestRateLimitAdmin(t)
	ctx := context.Background()
	policy := ratelimit.Policy{Name: "strict", Rules: []ratelimit.Rule{{MaxHits: 1, PeriodSeconds: 1, TimeoutSeconds: 1}}}
	if err := a.UpsertPolicy(ctx, "admin-1", policy); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := a.UpsertMapping(ctx, "admin-1", "/api/strict", "strict"); err != nil {
		t.Fatalf("upsert mapping: %v", err)
	}

	err := a.DeletePolicy(ctx, "admin-1", "strict")
	if !errs.Is(err, errs.Conflict) {
		t.Fatalf("expected Conflict for still-mapped policy, got %v", err)
	}
}

func TestRateLimitAdminUpsertMappingUnknownPolicy(t *testing.T) {
	a := newTestRateLimitAdmin(t)
	err := a.UpsertMapping(context.Background(), "admin-1", "/api/x", "missing")
	if !errs.Is(err, errs.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestRateLimitAdminSetEnabled(t *testing.T) {
	a := newTestRateLimitAdmin(t)
	if err := a.SetEnabled(context.Background(), "admin-1", false); err != nil {
		t.Fatalf("set enabled: %v", err)
	}
	if a.Config().Enabled {
		t.Fatalf("expected engine disabled")
	}
}
