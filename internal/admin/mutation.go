package admin

import (
	"context"

	"github.com/nimbus-tales/aegis-gateway/internal/audit"
)

// mutationLogger is embedded by every admin type: it writes an audit
// record for each mutation and, if a MetricsPublisher is attached,
// schedules a debounced metrics push.
type mutationLogger struct {
	audit     *audit.Log
	publisher *MetricsPublisher
}

// SetPublisher attaches the shared metrics publisher; safe to call once
// after construction, before the admin surface serves traffic.
func (m *mutationLogger) SetPublisher(p *MetricsPublisher) { m.publisher = p }

func (m *mutationLogger) logMutation(ctx context.Context, actorUserID, action, detail string) {
	if m.audit != nil {
		_ = m.audit.AdminMutation(ctx, actorUserID, action, detail)
	}
	if m.publisher != nil {
		m.publisher.Notify()
	}
}
