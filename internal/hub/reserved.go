package hub

import (
	"context"
	"encoding/json"

	"github.com/nimbus-tales/aegis-gateway/internal/encryption"
	"github.com/nimbus-tales/aegis-gateway/internal/errs"
)

// Reserved method names on the encryption hub (spec §6).
const (
	methodKeyExchange        = "KeyExchange"
	methodGetConfig          = "GetConfig"
	methodCompleteKeyRotation = "CompleteKeyRotation"
)

// dispatchMethod handles the hub's own reserved methods in-process and
// forwards everything else to the external handler dispatcher.
func (h *Hub) dispatchMethod(ctx context.Context, conn *Connection, method string, args []json.RawMessage) (any, error) {
	switch method {
	case methodKeyExchange:
		return h.handleKeyExchange(conn, args)
	case methodGetConfig:
		return h.handleGetConfig(), nil
	case methodCompleteKeyRotation:
		return h.handleCompleteKeyRotation(conn, args)
	default:
		return h.dispatcher.Dispatch(ctx, conn.Caller, method, args)
	}
}

func (h *Hub) handleKeyExchange(conn *Connection, args []json.RawMessage) (any, error) {
	if !h.encryptionEnabled.Load() {
		return nil, errs.New(errs.EncryptionRequired, "encryption is disabled on this hub")
	}
	if len(args) != 1 {
		return nil, errs.New(errs.ValidationFailed, "KeyExchange requires exactly one request argument")
	}
	var req struct {
		ClientPublicKey        []byte `json:"clientPublicKey"`
		ClientSigningPublicKey []byte `json:"clientSigningPublicKey"`
	}
	if err := json.Unmarshal(args[0], &req); err != nil {
		return nil, errs.New(errs.ValidationFailed, "malformed key-exchange request")
	}

	resp, err := h.encryption.Exchange(conn.Caller.UserID, encryption.ExchangeRequest{
		ClientPublicKey:        req.ClientPublicKey,
		ClientSigningPublicKey: req.ClientSigningPublicKey,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"keyId":                  resp.KeyID,
		"serverPublicKey":        resp.ServerPublicKey,
		"serverSigningPublicKey": resp.ServerSigningPublicKey,
		"hkdfSalt":               resp.HKDFSalt,
	}, nil
}

func (h *Hub) handleGetConfig() any {
	return map[string]any{
		"encryptionEnabled":  h.encryptionEnabled.Load(),
		"encryptionRequired": h.encryptionRequired.Load(),
	}
}

func (h *Hub) handleCompleteKeyRotation(conn *Connection, args []json.RawMessage) (any, error) {
	if len(args) != 1 {
		return nil, errs.New(errs.ValidationFailed, "CompleteKeyRotation requires exactly one ack argument")
	}
	var ack struct {
		ClientPublicKey        []byte `json:"clientPublicKey"`
		ClientSigningPublicKey []byte `json:"clientSigningPublicKey"`
	}
	if err := json.Unmarshal(args[0], &ack); err != nil {
		return nil, errs.New(errs.ValidationFailed, "malformed rotation ack")
	}
	if err := h.encryption.CompleteRotation(conn.Caller.UserID, encryption.RotationAck{
		ClientPublicKey:        ack.ClientPublicKey,
		ClientSigningPublicKey: ack.ClientSigningPublicKey,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}
