package ratelimit

import (
	"context"
	"testing"

	"github.com/nimbus-tales/aegis-gateway/internal/kv"
)

func testConfig() Config {
	return Config{
		Enabled:       true,
		DefaultPolicy: "Auth",
		Policies: map[string]Policy{
			"Auth": {Name: "Auth", Rules: []Rule{{MaxHits: 10, PeriodSeconds: 60, TimeoutSeconds: 600}}},
		},
		Mappings: map[string]string{
			"/api/auth/login": "Auth",
		},
	}
}

func TestAdmitDeniesAfterMaxHits(t *testing.T) {
	g := kv.NewMemoryGateway()
	defer g.Close()
	engine, err := New(g, testConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res, err := engine.Admit(ctx, ModeIP, "ip:1.2.3.4", "/api/auth/login")
		if err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
		if !res.Admitted {
			t.Fatalf("expected admission %d to be allowed", i)
		}
	}

	res, err := engine.Admit(ctx, ModeIP, "ip:1.2.3.4", "/api/auth/login")
	if err != nil {
		t.Fatalf("admit 11th: %v", err)
	}
	if res.Admitted {
		t.Fatalf("expected 11th admission to be denied")
	}
	if res.RetryAfterSeconds != 600 {
		t.Fatalf("expected retry after 600, got %d", res.RetryAfterSeconds)
	}

	res2, err := engine.Admit(ctx, ModeIP, "ip:1.2.3.4", "/api/auth/login")
	if err != nil {
		t.Fatalf("admit during timeout: %v", err)
	}
	if res2.Admitted || res2.RetryAfterSeconds > 600 {
		t.Fatalf("expected continued denial within timeout, got %+v", res2)
	}
}

func TestDisabledEngineAlwaysAdmits(t *testing.T) {
	g := kv.NewMemoryGateway()
	defer g.Close()
	cfg := testConfig()
	cfg.Enabled = false
	engine, err := New(g, cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		res, err := engine.Admit(ctx, ModeIP, "ip:1.2.3.4", "/api/auth/login")
		if err != nil {
			t.Fatalf("admit: %v", err)
		}
		if !res.Admitted {
			t.Fatalf("expected admission while disabled, got denied at %d", i)
		}
	}
}

func TestReconfigureTakesEffectForNewAdmissions(t *testing.T) {
	g := kv.NewMemoryGateway()
	defer g.Close()
	engine, err := New(g, testConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := engine.Reconfigure(Config{Enabled: false, DefaultPolicy: "Auth", Policies: testConfig().Policies}); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}

	res, err := engine.Admit(context.Background(), ModeIP, "ip:9.9.9.9", "/api/auth/login")
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if !res.Admitted {
		t.Fatalf("expected admission after disabling engine")
	}
}

func TestHeadersRenderRuleAndState(t *testing.T) {
	res := Result{
		PolicyName: "Auth",
		Mode:       ModeIP,
		Rules: []RuleStatus{
			{MaxHits: 10, PeriodSeconds: 60, TimeoutSeconds: 600, Count: 3},
		},
	}
	h := res.Headers()
	if h["X-Rate-Limit-Policy"] != "Auth" {
		t.Fatalf("unexpected policy header: %v", h)
	}
	if h["X-Rate-Limit-Ip"] != "10:60:600" {
		t.Fatalf("unexpected rule header: %v", h)
	}
	if h["X-Rate-Limit-Ip-State"] != "3:60" {
		t.Fatalf("unexpected state header: %v", h)
	}
}

func TestResolvePolicyPrefersLongestPrefix(t *testing.T) {
	cfg := Config{
		DefaultPolicy: "Default",
		Policies: map[string]Policy{
			"Default": {Name: "Default", Rules: []Rule{{MaxHits: 1, PeriodSeconds: 1, TimeoutSeconds: 1}}},
			"Short":   {Name: "Short", Rules: []Rule{{MaxHits: 1, PeriodSeconds: 1, TimeoutSeconds: 1}}},
			"Long":    {Name: "Long", Rules: []Rule{{MaxHits: 1, PeriodSeconds: 1, TimeoutSeconds: 1}}},
		},
		Mappings: map[string]string{
			"/api/*":     "Short",
			"/api/admin*": "Long",
		},
	}
	policy := cfg.resolvePolicy("/api/admin/sessions")
	if policy.Name != "Long" {
		t.Fatalf("expected longest-prefix match Long, got %s", policy.Name)
	}
}
