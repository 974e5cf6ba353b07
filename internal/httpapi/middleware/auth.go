// Package middleware adapts the teacher's JWT bearer-extraction pattern
// (shared/middleware.ExtractTokenFromHeader) to the gateway's opaque
// session tickets: the bearer is validated against session.Store rather
// than decoded locally.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/nimbus-tales/aegis-gateway/internal/errs"
	"github.com/nimbus-tales/aegis-gateway/internal/session"
)

const sessionCookieName = "session"

type contextKey string

const sessionContextKey contextKey = "session"

// ExtractSessionTicket reads the bearer session ticket from the
// httpOnly "session" cookie set at login, falling back to a standard
// "Authorization: Bearer <ticket>" header for non-browser callers.
func ExtractSessionTicket(r *http.Request) (string, error) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	if header := r.Header.Get("Authorization"); header != "" {
		const prefix = "Bearer "
		if len(header) > len(prefix) && header[:len(prefix)] == prefix {
			return header[len(prefix):], nil
		}
	}
	return "", errs.New(errs.Unauthenticated, "no session bearer presented")
}

// RequireSession validates the inbound request's session bearer and, on
// success, stores the resolved session in the request context before
// calling next. Handlers retrieve it with SessionFromContext.
func RequireSession(store *session.Store, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ticket, err := ExtractSessionTicket(r)
		if err != nil {
			errs.Handle(w, err)
			return
		}
		sess, err := store.Validate(r.Context(), ticket)
		if err != nil {
			errs.Handle(w, err)
			return
		}
		if sess == nil {
			errs.Handle(w, errs.New(errs.Unauthenticated, "session invalid or expired"))
			return
		}
		ctx := context.WithValue(r.Context(), sessionContextKey, sess)
		next(w, r.WithContext(ctx))
	}
}

// RequireAdminSession is RequireSession plus an IsAdmin check (spec §4.7
// "Admin access").
func RequireAdminSession(store *session.Store, next http.HandlerFunc) http.HandlerFunc {
	return RequireSession(store, func(w http.ResponseWriter, r *http.Request) {
		sess := SessionFromContext(r.Context())
		if sess == nil || !sess.IsAdmin {
			errs.Handle(w, errs.New(errs.Forbidden, "admin role required"))
			return
		}
		next(w, r)
	})
}

// SessionFromContext retrieves the session stored by RequireSession, or
// nil if none is present.
func SessionFromContext(ctx context.Context) *session.Session {
	sess, _ := ctx.Value(sessionContextKey).(*session.Session)
	return sess
}

// SetSessionCookie writes the httpOnly "session" cookie spec §6 requires
// on every login response.
func SetSessionCookie(w http.ResponseWriter, ticket string, expiresAt int64) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    ticket,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.UnixMilli(expiresAt),
	})
}

// ClearSessionCookie expires the "session" cookie immediately (logout).
func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}
