package admin

import (
	"testing"
	"time"

	"github.com/nimbus-tales/aegis-gateway/internal/encryption"
	"github.com/nimbus-tales/aegis-gateway/internal/hub"
	"github.com/nimbus-tales/aegis-gateway/internal/kv"
	"github.com/nimbus-tales/aegis-gateway/internal/ratelimit"
)

func TestMetricsPublisherCoalescesBurst(t *testing.T) {
	g := kv.NewMemoryGateway()
	defer g.Close()
	rl, err := ratelimit.New(g, ratelimit.Config{Enabled: true, DefaultPolicy: "standard", Policies: map[string]ratelimit.Policy{
		"standard": {Name: "standard", Rules: []ratelimit.Rule{{MaxHits: 10, PeriodSeconds: 60, TimeoutSeconds: 60}}},
	}})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	encSvc := encryption.New(encryption.Config{})
	metricsHub := hub.New("adminMetricsHub", hub.Deps{})

	p := NewMetricsPublisher(metricsHub, encSvc, rl)

	p.Notify()
	p.mu.Lock()
	first := p.timer
	p.mu.Unlock()
	for i := 0; i < 4; i++ {
		p.Notify()
	}
	p.mu.Lock()
	coalesced := p.pending && p.timer == first
	p.mu.Unlock()
	if !coalesced {
		t.Fatalf("expected the burst to share the first pending broadcast")
	}

	time.Sleep(2 * debounce)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending {
		t.Fatalf("expected the pending broadcast to have fired after the debounce window")
	}
}
