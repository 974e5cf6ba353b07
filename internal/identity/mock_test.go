package identity

import (
	"context"
	"testing"
	"time"

	"github.com/nimbus-tales/aegis-gateway/internal/errs"
)

func TestMockProviderResolvesRawID(t *testing.T) {
	p := NewMockProvider("secret")
	id, err := p.Resolve(context.Background(), "mock:AAA", "Mock")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id.UserID != "AAA" || id.Provider != "Mock" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if len(id.Roles) != 1 || id.Roles[0] != "user" {
		t.Fatalf("expected default user role, got %v", id.Roles)
	}
}

func TestMockProviderResolvesSignedJWT(t *testing.T) {
	p := NewMockProvider("secret")
	token, err := p.IssueTestToken("user-42", []string{"admin"}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	id, err := p.Resolve(context.Background(), token, "Mock")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id.UserID != "user-42" || len(id.Roles) != 1 || id.Roles[0] != "admin" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestMockProviderRejectsMalformedToken(t *testing.T) {
	p := NewMockProvider("secret")
	if _, err := p.Resolve(context.Background(), "not-a-mock-token", "Mock"); !errs.Is(err, errs.Unauthenticated) {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestRegistryRoutesByProvider(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("Mock", NewMockProvider("secret"))

	if _, err := reg.Resolve(context.Background(), "mock:AAA", "Mock"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := reg.Resolve(context.Background(), "whatever", "Unregistered"); !errs.Is(err, errs.Unauthenticated) {
		t.Fatalf("expected Unauthenticated for unknown provider, got %v", err)
	}
}
