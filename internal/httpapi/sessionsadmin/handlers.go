// Package sessionsadmin implements the session control-plane HTTP
// endpoints of spec §6 "GET /api/admin/sessions…".
package sessionsadmin

import (
	"net/http"
	"strconv"

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

func toView(s *session.Session) types.SessionView {
	return types.SessionView{
		Ticket:    s.Ticket,
		UserID:    s.UserID,
		Provider:  s.Provider,
		Roles:     s.Roles,
		IsAdmin:   s.IsAdmin,
		CreatedAt: s.CreatedAt.UnixMilli(),
		ExpiresAt: s.ExpiresAt.UnixMilli(),
	}
}

// ListHandler implements GET /api/admin/sessions[?userId&skip&take].
func ListHandler(a *admin.SessionAdmin, sessions *session.Store) http.HandlerFunc {
	return guard(sessions, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		userID := q.Get("userId")
		skip, _ := strconv.Atoi(q.Get("skip"))
		take, _ := strconv.Atoi(q.Get("take"))

		list, err := a.List(r.Context(), userID, skip, take)
		if err != nil {
			errs.Handle(w, err)
			return
		}
		views := make([]types.SessionView, len(list))
		for i, s := range list {
			views[i] = toView(s)
		}
		httpx.OkJsonCtx(r.Context(), w, types.SessionListResponse{Sessions: views})
	})
}

// CountHandler implements GET /api/admin/sessions/count?userId=.
func CountHandler(a *admin.SessionAdmin, sessions *session.Store) http.HandlerFunc {
	return guard(sessions, func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userId")
		count, err := a.Count(r.Context(), userID)
		if err != nil {
			errs.Handle(w, err)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, types.CountResponse{Count: count})
	})
}

// InvalidateHandler implements DELETE /api/admin/sessions/{ticket}.
func InvalidateHandler(a *admin.SessionAdmin, sessions *session.Store) http.HandlerFunc {
	return guard(sessions, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Ticket string `path:"ticket"`
		}
		if err := httpx.Parse(r, &req); err != nil {
			errs.Handle(w, errs.New(errs.ValidationFailed, "malformed ticket"))
			return
		}
		invalidated, err := a.Invalidate(r.Context(), actor(r), req.Ticket)
		if err != nil {
			errs.Handle(w, err)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, map[string]bool{"invalidated": invalidated})
	})
}
