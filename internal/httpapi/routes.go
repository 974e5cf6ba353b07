// Package httpapi registers every HTTP route of spec §6 onto a go-zero
// rest.Server, following the teacher's goctl-generated
// handler.RegisterHandlers(server, svcCtx) convention.
package httpapi

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest"

	"github.com/nimbus-tales/aegis-gateway/internal/httpapi/auth"
	"github.com/nimbus-tales/aegis-gateway/internal/httpapi/encryptionadmin"
	"github.com/nimbus-tales/aegis-gateway/internal/httpapi/ratelimitadmin"
	"github.com/nimbus-tales/aegis-gateway/internal/httpapi/sessionsadmin"
	"github.com/nimbus-tales/aegis-gateway/internal/svc"
)

// RegisterHandlers mounts the full HTTP surface onto server.
func RegisterHandlers(server *rest.Server, ctx *svc.ServiceContext) {
	server.AddRoutes([]rest.Route{
		{Method: http.MethodPost, Path: "/api/auth/login", Handler: auth.LoginHandler(ctx.Identity, ctx.Sessions)},
		{Method: http.MethodPost, Path: "/api/auth/connection-ticket", Handler: auth.ConnectionTicketHandler(ctx.Sessions, ctx.Tickets)},

		{Method: http.MethodPost, Path: "/api/admin/auth/login", Handler: auth.AdminLoginHandler(ctx.Identity, ctx.Sessions)},
		{Method: http.MethodPost, Path: "/api/admin/auth/logout", Handler: auth.AdminLogoutHandler(ctx.Sessions)},
		{Method: http.MethodPost, Path: "/api/admin/auth/refresh", Handler: auth.AdminRefreshHandler(ctx.Sessions)},
		{Method: http.MethodPost, Path: "/api/admin/auth/revoke-all", Handler: auth.AdminRevokeAllHandler(ctx.Sessions)},

		{Method: http.MethodGet, Path: "/api/admin/sessions", Handler: sessionsadmin.ListHandler(ctx.SessionAdmin, ctx.Sessions)},
		{Method: http.MethodGet, Path: "/api/admin/sessions/count", Handler: sessionsadmin.CountHandler(ctx.SessionAdmin, ctx.Sessions)},
		{Method: http.MethodDelete, Path: "/api/admin/sessions/:ticket", Handler: sessionsadmin.InvalidateHandler(ctx.SessionAdmin, ctx.Sessions)},
	})

	server.AddRoutes([]rest.Route{
		{Method: http.MethodGet, Path: "/api/admin/rate-limiting/config", Handler: ratelimitadmin.GetConfigHandler(ctx.RateLimitAdmin, ctx.Sessions)},
		{Method: http.MethodPost, Path: "/api/admin/rate-limiting/config", Handler: ratelimitadmin.SetConfigHandler(ctx.RateLimitAdmin, ctx.Sessions)},
		{Method: http.MethodPost, Path: "/api/admin/rate-limiting/policies", Handler: ratelimitadmin.UpsertPolicyHandler(ctx.RateLimitAdmin, ctx.Sessions)},
		{Method: http.MethodDelete, Path: "/api/admin/rate-limiting/policies/:name", Handler: ratelimitadmin.DeletePolicyHandler(ctx.RateLimitAdmin, ctx.Sessions)},
		{Method: http.MethodPost, Path: "/api/admin/rate-limiting/mappings", Handler: ratelimitadmin.UpsertMappingHandler(ctx.RateLimitAdmin, ctx.Sessions)},
		{Method: http.MethodDelete, Path: "/api/admin/rate-limiting/mappings/:pattern", Handler: ratelimitadmin.DeleteMappingHandler(ctx.RateLimitAdmin, ctx.Sessions)},
		{Method: http.MethodPost, Path: "/api/admin/rate-limiting/default-policy", Handler: ratelimitadmin.SetDefaultPolicyHandler(ctx.RateLimitAdmin, ctx.Sessions)},
		{Method: http.MethodPost, Path: "/api/admin/rate-limiting/enabled", Handler: ratelimitadmin.SetEnabledHandler(ctx.RateLimitAdmin, ctx.Sessions)},
		{Method: http.MethodGet, Path: "/api/admin/rate-limiting/metrics", Handler: ratelimitadmin.MetricsHandler(ctx.RateLimitAdmin, ctx.Sessions)},
		{Method: http.MethodPost, Path: "/api/admin/rate-limiting/reset", Handler: ratelimitadmin.ResetHandler(ctx.RateLimitAdmin, ctx.Sessions)},
	})

	server.AddRoutes([]rest.Route{
		{Method: http.MethodGet, Path: "/api/admin/encryption/config", Handler: encryptionadmin.GetConfigHandler(ctx.EncryptionAdmin, ctx.Sessions)},
		{Method: http.MethodPost, Path: "/api/admin/encryption/enabled", Handler: encryptionadmin.SetEnabledHandler(ctx.EncryptionAdmin, ctx.Sessions)},
		{Method: http.MethodPost, Path: "/api/admin/encryption/required", Handler: encryptionadmin.SetRequiredHandler(ctx.EncryptionAdmin, ctx.Sessions)},
		{Method: http.MethodGet, Path: "/api/admin/encryption/connections/needs-rotation", Handler: encryptionadmin.NeedsRotationHandler(ctx.EncryptionAdmin, ctx.Sessions)},
		{Method: http.MethodPost, Path: "/api/admin/encryption/connections/:userId/rotate", Handler: encryptionadmin.RotateConnectionHandler(ctx.EncryptionAdmin, ctx.Sessions)},
		{Method: http.MethodDelete, Path: "/api/admin/encryption/connections/:userId", Handler: encryptionadmin.DropConnectionHandler(ctx.EncryptionAdmin, ctx.Sessions)},
		{Method: http.MethodPost, Path: "/api/admin/encryption/rotate-all", Handler: encryptionadmin.RotateAllHandler(ctx.EncryptionAdmin, ctx.Sessions)},
		{Method: http.MethodGet, Path: "/api/admin/encryption/metrics", Handler: encryptionadmin.MetricsHandler(ctx.EncryptionAdmin, ctx.Sessions)},
		{Method: http.MethodGet, Path: "/api/admin/encryption/connections/:id/stats", Handler: encryptionadmin.ConnectionStatsHandler(ctx.EncryptionAdmin, ctx.Sessions)},
	})

	server.AddRoutes([]rest.Route{
		{Method: http.MethodGet, Path: "/encryptionHub", Handler: ctx.EncryptionHub.ServeHTTP},
		{Method: http.MethodGet, Path: "/accountHub", Handler: ctx.AccountHub.ServeHTTP},
		{Method: http.MethodGet, Path: "/hubs/admin-metrics", Handler: ctx.AdminMetrics.ServeHTTP},
	})
}
