package admin

import (
	"sync"
	"time"

	"github.com/nimbus-tales/aegis-gateway/internal/encryption"
	"github.com/nimbus-tales/aegis-gateway/internal/hub"
	"github.com/nimbus-tales/aegis-gateway/internal/ratelimit"
)

// debounce is the coalescing window of spec §4.7 "debounced config-change
// pub-sub for metric-hub subscribers": several admin mutations arriving
// within this window produce one push, not one per mutation.
const debounce = 500 * time.Millisecond

// metricsSnapshot is what every /hubs/admin-metrics subscriber receives.
type metricsSnapshot struct {
	Encryption encryption.Metrics `json:"encryption"`
	RateLimit  ratelimit.Metrics  `json:"rateLimit"`
}

// MetricsPublisher broadcasts a combined metrics snapshot to the
// admin-metrics hub whenever Notify is called, coalescing bursts of
// mutations into a single push.
type MetricsPublisher struct {
	hub        *hub.Hub
	encryption *encryption.Service
	rateLimit  *ratelimit.Engine

	mu      sync.Mutex
	pending bool
	timer   *time.Timer
}

func NewMetricsPublisher(metricsHub *hub.Hub, encSvc *encryption.Service, rl *ratelimit.Engine) *MetricsPublisher {
	return &MetricsPublisher{hub: metricsHub, encryption: encSvc, rateLimit: rl}
}

// Notify schedules a broadcast after the debounce window, unless one is
// already pending.
func (p *MetricsPublisher) Notify() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending {
		return
	}
	p.pending = true
	p.timer = time.AfterFunc(debounce, p.flush)
}

func (p *MetricsPublisher) flush() {
	p.mu.Lock()
	p.pending = false
	p.mu.Unlock()

	p.hub.Broadcast("MetricsSnapshot", metricsSnapshot{
		Encryption: p.encryption.Metrics(),
		RateLimit:  p.rateLimit.Metrics(),
	})
}
