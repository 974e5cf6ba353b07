package hub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/nimbus-tales/aegis-gateway/internal/dispatch"
	"github.com/nimbus-tales/aegis-gateway/internal/encryption"
	"github.com/nimbus-tales/aegis-gateway/internal/errs"
	"github.com/nimbus-tales/aegis-gateway/internal/ratelimit"
)

// handleCall runs the ordered pipeline of spec §4.6 for one inbound
// Call and returns the Response to write back.
func (h *Hub) handleCall(ctx context.Context, conn *Connection, call Call) Response {
	method, args, sealKeyHint, err := h.decryptionGate(ctx, conn, call)
	if err != nil {
		return errorResponse(call.ID, err)
	}

	// 1. Authorisation — the decryption gate has already run, so this
	// checks the resolved method (the inner method of an encrypted call);
	// Dispatch re-checks it for methods outside the reserved set.
	if role, ok := h.dispatcher.RequiredRole(method); ok && !dispatch.HasRole(conn.Caller, role) {
		return errorResponse(call.ID, errs.New(errs.Forbidden, "method %q requires role %q", method, role))
	}

	// 2. Rate limit.
	partitionKey, mode := ratelimit.PartitionKey(conn.Caller.UserID, "")
	path := fmt.Sprintf("%s:%s", conn.HubName, method)
	admission, err := h.rateLimit.Admit(ctx, mode, partitionKey, path)
	if err != nil {
		return errorResponse(call.ID, err)
	}
	if !admission.Admitted {
		rlErr := errs.RateLimitedWithRetry(admission.RetryAfterSeconds)
		resp := errorResponse(call.ID, rlErr)
		resp.Headers = admission.Headers()
		return resp
	}

	// 4. Dispatch — reserved encryption-hub methods are handled in-process
	// (spec §6 "Reserved methods on the encryption hub"); everything else
	// goes to the external handler dispatcher.
	result, err := h.dispatchMethod(ctx, conn, method, args)
	if err != nil {
		resp := errorResponse(call.ID, err)
		resp.Headers = admission.Headers()
		return resp
	}

	// 5. Response sealing.
	resp := h.sealResult(conn, call.ID, result, sealKeyHint)
	resp.Headers = admission.Headers()
	return resp
}

// decryptionGate implements step 3. For a plaintext call it returns the
// call's own method/args unchanged. For an encrypted call it opens the
// envelope and returns the inner {method, args}. sealKeyHint is the
// key-id the response must be sealed with: the inbound envelope's key-id
// for encrypted calls, or "" (meaning "current") for plaintext calls.
func (h *Hub) decryptionGate(_ context.Context, conn *Connection, call Call) (method string, args []json.RawMessage, sealKeyHint string, err error) {
	hasState := h.encryption.HasState(conn.Caller.UserID)

	if call.Method != encryptedMethod {
		if h.encryptionRequired.Load() && hasState {
			return "", nil, "", errs.New(errs.EncryptionRequired, "this connection requires encrypted calls")
		}
		return call.Method, call.Args, "", nil
	}

	if len(call.Args) != 1 {
		return "", nil, "", errs.New(errs.ValidationFailed, "encrypted call requires exactly one envelope argument")
	}
	var env encryption.Envelope
	if err := json.Unmarshal(call.Args[0], &env); err != nil {
		return "", nil, "", errs.New(errs.ValidationFailed, "malformed secure envelope")
	}

	plaintext, err := h.encryption.Open(conn.Caller.UserID, env)
	if err != nil {
		return "", nil, "", err
	}

	var inner innerCall
	if err := json.Unmarshal(plaintext, &inner); err != nil {
		return "", nil, "", errs.New(errs.ValidationFailed, "malformed inner call")
	}
	return inner.Method, inner.Args, env.KeyID, nil
}

// sealResult returns result as-is (UTF-8 JSON) when the caller has no
// encryption state. Otherwise it serialises result with a compact binary
// encoding and seals it into a SecureEnvelope using keyHint (or current,
// if keyHint is empty), per spec §4.6 step 5.
func (h *Hub) sealResult(conn *Connection, callID string, result any, keyHint string) Response {
	if !h.encryption.HasState(conn.Caller.UserID) {
		payload, err := json.Marshal(result)
		if err != nil {
			logx.Errorf("hub: marshal result for call %s: %v", callID, err)
			return errorResponse(callID, errs.New(errs.ValidationFailed, "result could not be serialised"))
		}
		return Response{ID: callID, Result: payload}
	}

	payload, err := encodeCompactBinary(result)
	if err != nil {
		logx.Errorf("hub: encode result for call %s: %v", callID, err)
		return errorResponse(callID, errs.New(errs.ValidationFailed, "result could not be serialised"))
	}

	env, err := h.encryption.Seal(conn.Caller.UserID, payload, keyHint)
	if err != nil {
		return errorResponse(callID, err)
	}
	sealed, err := json.Marshal(env)
	if err != nil {
		logx.Errorf("hub: marshal envelope for call %s: %v", callID, err)
		return errorResponse(callID, errs.New(errs.ValidationFailed, "result could not be sealed"))
	}
	return Response{ID: callID, Result: sealed}
}

func errorResponse(callID string, err error) Response {
	var e *errs.Error
	if typed, ok := err.(*errs.Error); ok {
		e = typed
	} else {
		e = errs.New("Internal", "internal error")
		logx.Errorf("hub: call %s failed: %v", callID, err)
	}
	return Response{
		ID: callID,
		Error: &errorBody{
			Code:              string(e.Kind),
			Message:           e.Message,
			RetryAfterSeconds: e.RetryAfterSeconds,
		},
	}
}
