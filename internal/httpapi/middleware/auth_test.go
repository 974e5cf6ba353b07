package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nimbus-tales/aegis-gateway/internal/errs"
	"github.com/nimbus-tales/aegis-gateway/internal/kv"
	"github.com/nimbus-tales/aegis-gateway/internal/session"
)

func TestExtractSessionTicketPrefersCookieOverHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "from-cookie"})
	r.Header.Set("Authorization", "Bearer from-header")

	ticket, err := ExtractSessionTicket(r)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if ticket != "from-cookie" {
		t.Fatalf("expected cookie to win, got %q", ticket)
	}
}

func TestExtractSessionTicketFallsBackToBearerHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer from-header")

	ticket, err := ExtractSessionTicket(r)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if ticket != "from-header" {
		t.Fatalf("expected header bearer, got %q", ticket)
	}
}

func TestExtractSessionTicketMissingBearerFails(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := ExtractSessionTicket(r); !errs.Is(err, errs.Unauthenticated) {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestRequireSessionRejectsUnknownTicket(t *testing.T) {
	g := kv.NewMemoryGateway()
	defer g.Close()
	store := session.New(g, session.Config{Lifetime: time.Hour, SlidingWindow: time.Minute, Cap: 5})

	handler := RequireSession(store, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next should not be called for an invalid ticket")
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer does-not-exist")
	w := httptest.NewRecorder()
	handler(w, r)

	if w.Code == http.StatusOK {
		t.Fatalf("expected a non-200 response for an invalid session, got %d", w.Code)
	}
}

func TestRequireAdminSessionRejectsNonAdmin(t *testing.T) {
	g := kv.NewMemoryGateway()
	defer g.Close()
	store := session.New(g, session.Config{Lifetime: time.Hour, SlidingWindow: time.Minute, Cap: 5})

	sess, err := store.Create(httptest.NewRequest(http.MethodGet, "/", nil).Context(), "user-1", "mock", []string{"player"}, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	handler := RequireAdminSession(store, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next should not be called for a non-admin session")
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+sess.Ticket)
	w := httptest.NewRecorder()
	handler(w, r)

	if w.Code == http.StatusOK {
		t.Fatalf("expected a non-200 response for a non-admin session, got %d", w.Code)
	}
}

func TestRequireAdminSessionAllowsAdmin(t *testing.T) {
	g := kv.NewMemoryGateway()
	defer g.Close()
	store := session.New(g, session.Config{Lifetime: time.Hour, SlidingWindow: time.Minute, Cap: 5})

	sess, err := store.Create(httptest.NewRequest(http.MethodGet, "/", nil).Context(), "admin-1", "mock", []string{"admin"}, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	called := false
	handler := RequireAdminSession(store, func(w http.ResponseWriter, r *http.Request) {
		called = true
		got := SessionFromContext(r.Context())
		if got == nil || got.UserID != "admin-1" {
			t.Fatalf("expected admin-1 session in context, got %+v", got)
		}
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+sess.Ticket)
	w := httptest.NewRecorder()
	handler(w, r)

	if !called {
		t.Fatalf("expected next to be called for a valid admin session")
	}
}
