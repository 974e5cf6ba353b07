package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nimbus-tales/aegis-gateway/internal/errs"
)

func TestRegistryDispatchesRegisteredMethod(t *testing.T) {
	r := NewRegistry()
	r.Register("Echo", Method{Handler: func(_ context.Context, _ Caller, args []json.RawMessage) (any, error) {
		return string(args[0]), nil
	}})

	result, err := r.Dispatch(context.Background(), Caller{UserID: "u1"}, "Echo", []json.RawMessage{json.RawMessage(`"hi"`)})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result != `"hi"` {
		t.Fatalf("unexpected result: %v", result)
	}
}

func TestRegistryRejectsUnknownMethod(t *testing.T) {
	r := NewRegistry()
	_, err := r.Dispatch(context.Background(), Caller{UserID: "u1"}, "Missing", nil)
	if !errs.Is(err, errs.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestRegistryEnforcesRequiredRole(t *testing.T) {
	r := NewRegistry()
	r.Register("AdminOnly", Method{
		RequiredRole: "admin",
		Handler:      func(context.Context, Caller, []json.RawMessage) (any, error) { return "ok", nil },
	})

	if _, err := r.Dispatch(context.Background(), Caller{UserID: "u1", Roles: []string{"user"}}, "AdminOnly", nil); !errs.Is(err, errs.Forbidden) {
		t.Fatalf("expected Forbidden, got %v", err)
	}
	if _, err := r.Dispatch(context.Background(), Caller{UserID: "u1", Roles: []string{"admin"}}, "AdminOnly", nil); err != nil {
		t.Fatalf("expected admin to pass, got %v", err)
	}
}
