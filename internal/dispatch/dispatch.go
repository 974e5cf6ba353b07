// Package dispatch defines the seam between the hub pipeline (C6) and
// the game-domain handlers that live outside this module (spec.md §1
// "handler dispatcher"). The gateway only needs to know a method's
// required role and how to invoke it with a decoded argument vector —
// everything else about what a method does is the dispatcher's business.
package dispatch

import (
	"context"
	"encoding/json"

	"github.com/nimbus-tales/aegis-gateway/internal/errs"
)

// Caller is the identity the hub pipeline attaches to an inbound call
// after authentication and ticket redemption.
type Caller struct {
	UserID string
	Roles  []string
}

func (c Caller) hasRole(role string) bool {
	if role == "" {
		return true
	}
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Dispatcher resolves a hub method name to a handler and invokes it,
// enforcing the method's required role (spec §4.6 step 1).
type Dispatcher interface {
	// Dispatch invokes method with the decoded JSON argument vector and
	// returns the handler's result (any JSON-marshalable value). It
	// returns a Forbidden *errs.Error if caller lacks the required role,
	// and NotFound if method isn't registered.
	Dispatch(ctx context.Context, caller Caller, method string, args []json.RawMessage) (any, error)

	// RequiredRole reports the role gating method, so the hub pipeline
	// can run authorisation (spec §4.6 step 1) before admission, without
	// invoking the handler. The hub runs its decryption gate before this
	// check. ok is false if method isn't registered.
	RequiredRole(method string) (role string, ok bool)
}

// HasRole reports whether caller holds role; an empty role is always
// satisfied.
func HasRole(caller Caller, role string) bool { return caller.hasRole(role) }

// HandlerFunc implements one hub method. args is the decoded JSON
// argument vector from the inbound call, in positional order.
type HandlerFunc func(ctx context.Context, caller Caller, args []json.RawMessage) (any, error)

// Method pairs a handler with the role required to invoke it; an empty
// RequiredRole means any authenticated caller may call it.
type Method struct {
	RequiredRole string
	Handler      HandlerFunc
}

// Registry is the in-process Dispatcher implementation: a static map of
// method name to Method, built once at startup. Production deployments
// typically wrap a remote call (e.g. an internal RPC to the game-domain
// services) behind the same interface; Registry is what local
// development and the gateway's own tests run against.
type Registry struct {
	methods map[string]Method
}

func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]Method)}
}

// Register adds or replaces the handler for name.
func (r *Registry) Register(name string, method Method) {
	r.methods[name] = method
}

func (r *Registry) RequiredRole(method string) (string, bool) {
	m, ok := r.methods[method]
	if !ok {
		return "", false
	}
	return m.RequiredRole, true
}

func (r *Registry) Dispatch(ctx context.Context, caller Caller, method string, args []json.RawMessage) (any, error) {
	m, ok := r.methods[method]
	if !ok {
		return nil, errs.New(errs.NotFound, "unknown method %q", method)
	}
	if !caller.hasRole(m.RequiredRole) {
		return nil, errs.New(errs.Forbidden, "method %q requires role %q", method, m.RequiredRole)
	}
	return m.Handler(ctx, caller, args)
}
