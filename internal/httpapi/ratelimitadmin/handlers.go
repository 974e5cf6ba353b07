// Package ratelimitadmin implements the rate-limit control-plane HTTP
// endpoints of spec §6 "HTTP (rate limiting admin)".
package ratelimitadmin

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"

	"github.com/nimbus-tales/aegis-gateway/internal/admin"
	"github.com/nimbus-tales/aegis-gateway/internal/errs"
	"github.com/nimbus-tales/aegis-gateway/internal/httpapi/middleware"
	"github.com/nimbus-tales/aegis-gateway/internal/httpapi/types"
	"github.com/nimbus-tales/aegis-gateway/internal/ratelimit"
	"github.com/nimbus-tales/aegis-gateway/internal/session"
)

func guard(sessions *session.Store, h http.HandlerFunc) http.HandlerFunc {
	return middleware.RequireAdminSession(sessions, h)
}

func actor(r *http.Request) string {
	return middleware.SessionFromContext(r.Context()).UserID
}

// GetConfigHandler implements GET …/config.
func GetConfigHandler(a *admin.RateLimitAdmin, sessions *session.Store) http.HandlerFunc {
	return guard(sessions, func(w http.ResponseWriter, r *http.Request) {
		httpx.OkJsonCtx(r.Context(), w, a.Config())
	})
}

// SetConfigHandler implements POST …/config.
func SetConfigHandler(a *admin.RateLimitAdmin, sessions *session.Store) http.HandlerFunc {
	return guard(sessions, func(w http.ResponseWriter, r *http.Request) {
		var cfg ratelimit.Config
		if err := httpx.Parse(r, &cfg); err != nil {
			errs.Handle(w, errs.New(errs.ValidationFailed, "malformed rate-limit config"))
			return
		}
		if err := a.SetConfig(r.Context(), actor(r), cfg); err != nil {
			errs.Handle(w, err)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, a.Config())
	})
}

// UpsertPolicyHandler implements POST …/policies.
func UpsertPolicyHandler(a *admin.RateLimitAdmin, sessions *session.Store) http.HandlerFunc {
	return guard(sessions, func(w http.ResponseWriter, r *http.Request) {
		var policy ratelimit.Policy
		if err := httpx.Parse(r, &policy); err != nil {
			errs.Handle(w, errs.New(errs.ValidationFailed, "malformed policy"))
			return
		}
		if err := a.UpsertPolicy(r.Context(), actor(r), policy); err != nil {
			errs.Handle(w, err)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, a.Config())
	})
}

// DeletePolicyHandler implements DELETE …/policies/{name}.
func DeletePolicyHandler(a *admin.RateLimitAdmin, sessions *session.Store) http.HandlerFunc {
	return guard(sessions, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `path:"name"`
		}
		if err := httpx.Parse(r, &req); err != nil {
			errs.Handle(w, errs.New(errs.ValidationFailed, "malformed policy name"))
			return
		}
		if err := a.DeletePolicy(r.Context(), actor(r), req.Name); err != nil {
			errs.Handle(w, err)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, a.Config())
	})
}

// UpsertMappingHandler implements POST …/mappings.
func UpsertMappingHandler(a *admin.RateLimitAdmin, sessions *session.Store) http.HandlerFunc {
	return guard(sessions, func(w http.ResponseWriter, r *http.Request) {
		var req types.MappingRequest
		if err := httpx.Parse(r, &req); err != nil {
			errs.Handle(w, errs.New(errs.ValidationFailed, "malformed mapping"))
			return
		}
		if err := a.UpsertMapping(r.Context(), actor(r), req.Pattern, req.PolicyName); err != nil {
			errs.Handle(w, err)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, a.Config())
	})
}

// DeleteMappingHandler implements DELETE …/mappings/{pattern}.
func DeleteMappingHandler(a *admin.RateLimitAdmin, sessions *session.Store) http.HandlerFunc {
	return guard(sessions, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Pattern string `path:"pattern"`
		}
		if err := httpx.Parse(r, &req); err != nil {
			errs.Handle(w, errs.New(errs.ValidationFailed, "malformed mapping pattern"))
			return
		}
		if err := a.DeleteMapping(r.Context(), actor(r), req.Pattern); err != nil {
			errs.Handle(w, err)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, a.Config())
	})
}

// SetDefaultPolicyHandler implements POST …/default-policy.
func SetDefaultPolicyHandler(a *admin.RateLimitAdmin, sessions *session.Store) http.HandlerFunc {
	return guard(sessions, func(w http.ResponseWriter, r *http.Request) {
		var req types.DefaultPolicyRequest
		if err := httpx.Parse(r, &req); err != nil {
			errs.Handle(w, errs.New(errs.ValidationFailed, "malformed default-policy request"))
			return
		}
		if err := a.SetDefaultPolicy(r.Context(), actor(r), req.PolicyName); err != nil {
			errs.Handle(w, err)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, a.Config())
	})
}

// SetEnabledHandler implements POST …/enabled.
func SetEnabledHandler(a *admin.RateLimitAdmin, sessions *session.Store) http.HandlerFunc {
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

// MetricsHandler implements GET …/metrics.
func MetricsHandler(a *admin.RateLimitAdmin, sessions *session.Store) http.HandlerFunc {
	return guard(sessions, func(w http.ResponseWriter, r *http.Request) {
		httpx.OkJsonCtx(r.Context(), w, a.Metrics())
	})
}

// ResetHandler implements POST …/reset.
func ResetHandler(a *admin.RateLimitAdmin, sessions *session.Store) http.HandlerFunc {
	return guard(sessions, func(w http.ResponseWriter, r *http.Request) {
		var req types.ResetRequest
		if err := httpx.Parse(r, &req); err != nil {
			errs.Handle(w, errs.New(errs.ValidationFailed, "malformed reset request"))
			return
		}
		if err := a.Reset(r.Context(), actor(r), req.PartitionKey, req.PolicyName); err != nil {
			errs.Handle(w, err)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, map[string]bool{"success": true})
	})
}
