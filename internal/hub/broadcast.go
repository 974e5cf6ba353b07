package hub

import (
	"encoding/json"

	"github.com/zeromicro/go-zero/core/logx"
)

// pushEnvelope is the wire shape of a server push: a method name plus a
// single JSON-encoded payload, sealed per recipient when that recipient
// has encryption state (spec §4.6 "Broadcast sealing").
type pushEnvelope struct {
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
}

// PushToUser delivers a server-initiated message to every connection the
// given user currently has open on this hub, sealing it per-connection
// with that user's current key if one exists. Recipients without
// encryption state receive the raw JSON object, per spec.
func (h *Hub) PushToUser(userID, method string, payload any) {
	h.mu.RLock()
	ids := make([]string, 0, len(h.byUser[userID]))
	for id := range h.byUser[userID] {
		ids = append(ids, id)
	}
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := h.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.pushTo(c, method, payload)
	}
}

// Broadcast delivers a server-initiated message to every connection
// currently registered on this hub, sealing per-recipient.
func (h *Hub) Broadcast(method string, payload any) {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.pushTo(c, method, payload)
	}
}

func (h *Hub) pushTo(c *Connection, method string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		logx.Errorf("hub %s: marshal push payload for %s: %v", h.name, method, err)
		return
	}

	if h.encryption.HasState(c.Caller.UserID) {
		env, err := h.encryption.Seal(c.Caller.UserID, body, "")
		if err != nil {
			logx.Errorf("hub %s: seal push for connection %s: %v", h.name, c.ID, err)
			return
		}
		body, err = json.Marshal(env)
		if err != nil {
			logx.Errorf("hub %s: marshal sealed push for connection %s: %v", h.name, c.ID, err)
			return
		}
	}

	out, err := json.Marshal(pushEnvelope{Method: method, Result: body})
	if err != nil {
		logx.Errorf("hub %s: marshal push envelope: %v", h.name, err)
		return
	}
	c.enqueue(out)
}
