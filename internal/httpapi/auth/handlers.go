// Package auth implements the gateway's login/session HTTP endpoints
// (spec §6 "HTTP (auth)"), following the teacher's handler pattern of a
// thin http.HandlerFunc around httpx.Parse/WriteJson and a svc.ServiceContext.
package auth

import (
	"net/http"
	"slices"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/rest/httpx"

	"github.com/nimbus-tales/aegis-gateway/internal/connticket"
	"github.com/nimbus-tales/aegis-gateway/internal/errs"
	"github.com/nimbus-tales/aegis-gateway/internal/httpapi/middleware"
	"github.com/nimbus-tales/aegis-gateway/internal/httpapi/types"
	"github.com/nimbus-tales/aegis-gateway/internal/identity"
	"github.com/nimbus-tales/aegis-gateway/internal/session"
)

// LoginHandler implements POST /api/auth/login (spec §6, scenario 1).
func LoginHandler(identities *identity.Registry, sessions *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.LoginRequest
		if err := httpx.Parse(r, &req); err != nil {
			errs.Handle(w, errs.New(errs.ValidationFailed, "malformed login request"))
			return
		}

		id, err := identities.Resolve(r.Context(), req.Token, req.Provider)
		if err != nil {
			errs.Handle(w, err)
			return
		}

		sess, err := sessions.Create(r.Context(), id.UserID, id.Provider, id.Roles, false)
		if err != nil {
			errs.Handle(w, err)
			return
		}

		middleware.SetSessionCookie(w, sess.Ticket, sess.ExpiresAt.UnixMilli())
		httpx.OkJsonCtx(r.Context(), w, types.LoginResponse{
			Success:   true,
			SessionID: sess.Ticket,
			UserID:    sess.UserID,
			ExpiresAt: sess.ExpiresAt.UnixMilli(),
		})
	}
}

// AdminLoginHandler implements POST /api/admin/auth/login: identical to
// LoginHandler except the resulting session is flagged IsAdmin.
func AdminLoginHandler(identities *identity.Registry, sessions *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.LoginRequest
		if err := httpx.Parse(r, &req); err != nil {
			errs.Handle(w, errs.New(errs.ValidationFailed, "malformed login request"))
			return
		}

		id, err := identities.Resolve(r.Context(), req.Token, req.Provider)
		if err != nil {
			errs.Handle(w, err)
			return
		}
		if !slices.Contains(id.Roles, "admin") {
			errs.Handle(w, errs.New(errs.Forbidden, "identity is not an admin"))
			return
		}

		sess, err := sessions.Create(r.Context(), id.UserID, id.Provider, id.Roles, true)
		if err != nil {
			errs.Handle(w, err)
			return
		}

		middleware.SetSessionCookie(w, sess.Ticket, sess.ExpiresAt.UnixMilli())
		httpx.OkJsonCtx(r.Context(), w, types.LoginResponse{
			Success:   true,
			SessionID: sess.Ticket,
			UserID:    sess.UserID,
			ExpiresAt: sess.ExpiresAt.UnixMilli(),
		})
	}
}

// AdminLogoutHandler implements POST /api/admin/auth/logout.
func AdminLogoutHandler(sessions *session.Store) http.HandlerFunc {
	return middleware.RequireAdminSession(sessions, func(w http.ResponseWriter, r *http.Request) {
		sess := middleware.SessionFromContext(r.Context())
		if _, err := sessions.Invalidate(r.Context(), sess.Ticket); err != nil {
			errs.Handle(w, err)
			return
		}
		middleware.ClearSessionCookie(w)
		httpx.OkJsonCtx(r.Context(), w, types.LoginResponse{Success: true})
	})
}

// AdminRefreshHandler implements POST /api/admin/auth/refresh: issues a
// new session id and invalidates the old one (spec §6 "refresh rotates
// the refresh-equivalent").
func AdminRefreshHandler(sessions *session.Store) http.HandlerFunc {
	return middleware.RequireAdminSession(sessions, func(w http.ResponseWriter, r *http.Request) {
		old := middleware.SessionFromContext(r.Context())

		fresh, err := sessions.Create(r.Context(), old.UserID, old.Provider, old.Roles, old.IsAdmin)
		if err != nil {
			errs.Handle(w, err)
			return
		}
		if _, err := sessions.Invalidate(r.Context(), old.Ticket); err != nil {
			logx.WithContext(r.Context()).Errorf("admin refresh: invalidate old ticket: %v", err)
		}

		middleware.SetSessionCookie(w, fresh.Ticket, fresh.ExpiresAt.UnixMilli())
		httpx.OkJsonCtx(r.Context(), w, types.LoginResponse{
			Success:   true,
			SessionID: fresh.Ticket,
			UserID:    fresh.UserID,
			ExpiresAt: fresh.ExpiresAt.UnixMilli(),
		})
	})
}

// AdminRevokeAllHandler implements POST /api/admin/auth/revoke-all.
func AdminRevokeAllHandler(sessions *session.Store) http.HandlerFunc {
	return middleware.RequireAdminSession(sessions, func(w http.ResponseWriter, r *http.Request) {
		var req types.RevokeAllRequest
		if err := httpx.Parse(r, &req); err != nil {
			errs.Handle(w, errs.New(errs.ValidationFailed, "malformed revoke-all request"))
			return
		}
		count, err := sessions.InvalidateAll(r.Context(), req.UserID)
		if err != nil {
			errs.Handle(w, err)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, types.RevokeAllResponse{Revoked: count})
	})
}

// ConnectionTicketHandler implements POST /api/auth/connection-ticket
// (spec §6, scenario 1).
func ConnectionTicketHandler(sessions *session.Store, tickets *connticket.Service) http.HandlerFunc {
	return middleware.RequireSession(sessions, func(w http.ResponseWriter, r *http.Request) {
		sess := middleware.SessionFromContext(r.Context())
		ticket, err := tickets.Issue(r.Context(), sess.Ticket)
		if err != nil {
			errs.Handle(w, err)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, types.ConnectionTicketResponse{Ticket: ticket})
	})
}
