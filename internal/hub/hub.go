// Package hub implements the bidirectional RPC gateway pipeline (C6):
// WebSocket-style connections authorised by a connection ticket or bearer
// access token, running every inbound call through an ordered pipeline
// (decryption gate, authorisation, rate limit, dispatch, response
// sealing), plus per-recipient sealed broadcasts. Because decryption runs
// first, an envelope that fails to open is rejected before authorisation
// or rate limiting, and both of those see the inner method of an
// encrypted call.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/nimbus-tales/aegis-gateway/internal/connticket"
	"github.com/nimbus-tales/aegis-gateway/internal/dispatch"
	"github.com/nimbus-tales/aegis-gateway/internal/encryption"
	"github.com/nimbus-tales/aegis-gateway/internal/errs"
	"github.com/nimbus-tales/aegis-gateway/internal/ratelimit"
	"github.com/nimbus-tales/aegis-gateway/internal/session"
)

// Hub is the connection registry and per-call pipeline runner for one
// named endpoint (e.g. "accountHub", "encryptionHub").
type Hub struct {
	name string

	sessions   *session.Store
	tickets    *connticket.Service
	dispatcher dispatch.Dispatcher
	rateLimit  *ratelimit.Engine
	encryption *encryption.Service

	encryptionEnabled  atomic.Bool
	encryptionRequired atomic.Bool

	upgrader websocket.Upgrader

	mu          sync.RWMutex
	connections map[string]*Connection   // by connection id
	byUser      map[string]map[string]bool // userID -> set of connection ids
}

// Deps bundles the collaborators a Hub needs; every hub endpoint in the
// process shares the same instances.
type Deps struct {
	Sessions   *session.Store
	Tickets    *connticket.Service
	Dispatcher dispatch.Dispatcher
	RateLimit  *ratelimit.Engine
	Encryption *encryption.Service
}

func New(name string, deps Deps) *Hub {
	h := &Hub{
		name:        name,
		sessions:    deps.Sessions,
		tickets:     deps.Tickets,
		dispatcher:  deps.Dispatcher,
		rateLimit:   deps.RateLimit,
		encryption:  deps.Encryption,
		connections: make(map[string]*Connection),
		byUser:      make(map[string]map[string]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	h.encryptionEnabled.Store(true)
	return h
}

// SetEncryptionEnabled toggles whether KeyExchange is available at all
// (spec §6 "POST …/enabled"); disabling it does not tear down existing
// encryption state, it only refuses new handshakes.
func (h *Hub) SetEncryptionEnabled(enabled bool) { h.encryptionEnabled.Store(enabled) }

func (h *Hub) EncryptionEnabled() bool { return h.encryptionEnabled.Load() }

// SetEncryptionRequired toggles the admin "required" switch (spec §4.7).
func (h *Hub) SetEncryptionRequired(required bool) { h.encryptionRequired.Store(required) }

func (h *Hub) EncryptionRequired() bool { return h.encryptionRequired.Load() }

// RotateUser initiates a key rotation for userID and pushes the
// resulting KeyRotation request to every connection that user has open
// on this hub (spec §4.7 "force-rotate a single connection", scenario 5:
// "A receives KeyRotation with new keyId=KID2").
func (h *Hub) RotateUser(userID string) error {
	resp, err := h.encryption.InitiateRotation(userID)
	if err != nil {
		return err
	}
	h.PushToUser(userID, "KeyRotation", map[string]any{
		"keyId":                  resp.KeyID,
		"serverPublicKey":        resp.ServerPublicKey,
		"serverSigningPublicKey": resp.ServerSigningPublicKey,
		"hkdfSalt":               resp.HKDFSalt,
	})
	return nil
}

// ConnectionCount returns the number of live connections on this hub.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// HasConnection reports whether userID currently has a connection on
// this hub.
func (h *Hub) HasConnection(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set, ok := h.byUser[userID]
	return ok && len(set) > 0
}

// ServeHTTP upgrades the request to a WebSocket connection after
// resolving identity from either a one-shot connection ticket
// (`?ticket=`) or a long-lived session bearer (`?access_token=`), per
// spec §4.6 "A hub connection is accepted only if...".
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	caller, err := h.authenticate(r)
	if err != nil {
		errs.Handle(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logx.Errorf("hub %s: upgrade: %v", h.name, err)
		return
	}

	id, err := connectionID()
	if err != nil {
		logx.Errorf("hub %s: generate connection id: %v", h.name, err)
		_ = conn.Close()
		return
	}

	c := newConnection(id, h.name, caller, conn)
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump(func(raw []byte) { h.dispatchRaw(r.Context(), c, raw) })
}

func (h *Hub) authenticate(r *http.Request) (dispatch.Caller, error) {
	ctx := r.Context()

	if ticket := r.URL.Query().Get("ticket"); ticket != "" {
		sessionTicket, err := h.tickets.Redeem(ctx, ticket)
		if err != nil {
			return dispatch.Caller{}, err
		}
		return h.callerForSession(ctx, sessionTicket)
	}

	if token := r.URL.Query().Get("access_token"); token != "" {
		return h.callerForSession(ctx, token)
	}

	return dispatch.Caller{}, errs.New(errs.Unauthenticated, "no connection ticket or access token presented")
}

func (h *Hub) callerForSession(ctx context.Context, sessionTicket string) (dispatch.Caller, error) {
	sess, err := h.sessions.Validate(ctx, sessionTicket)
	if err != nil {
		return dispatch.Caller{}, err
	}
	if sess == nil {
		return dispatch.Caller{}, errs.New(errs.Unauthenticated, "session invalid or expired")
	}
	return dispatch.Caller{UserID: sess.UserID, Roles: sess.Roles}, nil
}

func (h *Hub) register(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c.ID] = c
	set, ok := h.byUser[c.Caller.UserID]
	if !ok {
		set = make(map[string]bool)
		h.byUser[c.Caller.UserID] = set
	}
	set[c.ID] = true
}

func (h *Hub) unregister(c *Connection) {
	c.closeSend()
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.connections, c.ID)
	if set, ok := h.byUser[c.Caller.UserID]; ok {
		delete(set, c.ID)
		if len(set) == 0 {
			delete(h.byUser, c.Caller.UserID)
		}
	}
}

func (h *Hub) dispatchRaw(ctx context.Context, c *Connection, raw []byte) {
	var call Call
	if err := json.Unmarshal(raw, &call); err != nil {
		resp := errorResponse("", errs.New(errs.ValidationFailed, "malformed call"))
		h.writeResponse(c, resp)
		return
	}
	resp := h.handleCall(ctx, c, call)
	h.writeResponse(c, resp)
}

func (h *Hub) writeResponse(c *Connection, resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		logx.Errorf("hub %s: marshal response: %v", h.name, err)
		return
	}
	c.enqueue(payload)
}
