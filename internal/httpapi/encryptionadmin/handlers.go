// Package encryptionadmin implements the encryption control-plane HTTP
// endpoints of spec §6 "HTTP (encryption admin)".
package encryptionadmin

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"

	"github.com/nimbus-tales/aegis-gateway/internal/admin"
	"github.com/nimbus-tales/aegis-gateway/internal/errs"
	"github.com/nimbus-tales/aegis-gateway/internal/httpapi/middleware"
	"github.com/nimbus-tales/aegis-gateway/internal/httpapi/types"
	"github.com/nimbus-tales/aegis-gateway/internal/session"
)

func guard(sessions *session.Store, h http.HandlerFunc) http.HandlerFunc {
	return middleware.RequireAdminSession(sessions, h)
}

func actor(r *http.Request) string {
	return middleware.SessionFromContext(r.Context()).UserID
}

// GetConfigHandler implements GET …/config.
func GetConfigHandler(a *admin.EncryptionAdmin, sessions *session.Store) http.HandlerFunc {
	return guard(sessions, func(w http.ResponseWriter, r *http.Request) {
		httpx.OkJsonCtx(r.Context(), w, a.Config())
	})
}

// SetEnabledHandler implements POST …/enabled.
func SetEnabledHandler(a *admin.EncryptionAdmin, sessions *session.Store) http.HandlerFunc {
	return guard(sessions, func(w http.ResponseWriter, r *http.Request) {
		var req types.EnabledRequest
		if err := httpx.Parse(r, &req); err != nil {
			errs.Handle(w, errs.New(errs.ValidationFailed, "malformed enabled request"))
			return
		}
		if err := a.SetEnabled(r.Context(), actor(r), req.Enabled); err != nil {
			errs.Handle(w, err)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, a.Config())
	})
}

// SetRequiredHandler implements POST …/required.
func SetRequiredHandler(a *admin.EncryptionAdmin, sessions *session.Store) http.HandlerFunc {
	return guard(sessions, func(w http.ResponseWriter, r *http.Request) {
		var req types.RequiredRequest
		if err := httpx.Parse(r, &req); err != nil {
			errs.Handle(w, errs.New(errs.ValidationFailed, "malformed required request"))
			return
		}
		if err := a.SetRequired(r.Context(), actor(r), req.Required); err != nil {
			errs.Handle(w, err)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, a.Config())
	})
}

// NeedsRotationHandler implements GET …/connections/needs-rotation.
func NeedsRotationHandler(a *admin.EncryptionAdmin, sessions *session.Store) http.HandlerFunc {
	return guard(sessions, func(w http.ResponseWriter, r *http.Request) {
		httpx.OkJsonCtx(r.Context(), w, map[string][]string{"userIds": a.ConnectionsNeedingRotation()})
	})
}

// RotateConnectionHandler implements POST …/connections/{userId}/rotate.
func RotateConnectionHandler(a *admin.EncryptionAdmin, sessions *session.Store) http.HandlerFunc {
	return guard(sessions, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID string `path:"userId"`
		}
		if err := httpx.Parse(r, &req); err != nil {
			errs.Handle(w, errs.New(errs.ValidationFailed, "malformed user id"))
			return
		}
		if err := a.RotateConnection(r.Context(), actor(r), req.UserID); err != nil {
			errs.Handle(w, err)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, map[string]bool{"success": true})
	})
}

// DropConnectionHandler implements DELETE …/connections/{userId}.
func DropConnectionHandler(a *admin.EncryptionAdmin, sessions *session.Store) http.HandlerFunc {
	return guard(sessions, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID string `path:"userId"`
		}
		if err := httpx.Parse(r, &req); err != nil {
			errs.Handle(w, errs.New(errs.ValidationFailed, "malformed user id"))
			return
		}
		if err := a.DropConnection(r.Context(), actor(r), req.UserID); err != nil {
			errs.Handle(w, err)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, map[string]bool{"success": true})
	})
}

// RotateAllHandler implements POST …/rotate-all.
func RotateAllHandler(a *admin.EncryptionAdmin, sessions *session.Store) http.HandlerFunc {
	return guard(sessions, func(w http.ResponseWriter, r *http.Request) {
		count, err := a.RotateAll(r.Context(), actor(r))
		if err != nil {
			errs.Handle(w, err)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, map[string]int{"rotated": count})
	})
}

// MetricsHandler implements GET …/metrics.
func MetricsHandler(a *admin.EncryptionAdmin, sessions *session.Store) http.HandlerFunc {
	return guard(sessions, func(w http.ResponseWriter, r *http.Request) {
		httpx.OkJsonCtx(r.Context(), w, a.Metrics())
	})
}

// ConnectionStatsHandler implements GET …/connections/{id}/stats.
func ConnectionStatsHandler(a *admin.EncryptionAdmin, sessions *session.Store) http.HandlerFunc {
	return guard(sessions, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID string `path:"id"`
		}
		if err := httpx.Parse(r, &req); err != nil {
			errs.Handle(w, errs.New(errs.ValidationFailed, "malformed connection id"))
			return
		}
		stats, err := a.ConnectionStats(req.ID)
		if err != nil {
			errs.Handle(w, err)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, stats)
	})
}
