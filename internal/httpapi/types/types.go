// Package types holds the request/response DTOs for the gateway's HTTP
// surface, following the teacher's goctl-generated internal/types
// convention (one struct per endpoint body).
package types

// LoginRequest is the body of POST /api/auth/login and the admin login
// variant (spec §6).
type LoginRequest struct {
	Token    string `json:"token"`
	Provider string `json:"provider"`
}

// LoginResponse is returned by every login endpoint.
type LoginResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	ExpiresAt int64  `json:"expiresAt"`
}

// ConnectionTicketResponse is returned by POST /api/auth/connection-ticket.
type ConnectionTicketResponse struct {
	Ticket string `json:"ticket"`
}

// SessionView is the admin list/item shape for a session record.
type SessionView struct {
	Ticket    string   `json:"ticket"`
	UserID    string   `json:"userId"`
	Provider  string   `json:"provider"`
	Roles     []string `json:"roles"`
	IsAdmin   bool     `json:"isAdmin"`
	CreatedAt int64    `json:"createdAt"`
	ExpiresAt int64    `json:"expiresAt"`
}

// SessionListResponse is returned by GET /api/admin/sessions.
type SessionListResponse struct {
	Sessions []SessionView `json:"sessions"`
}

// CountResponse is returned by GET /api/admin/sessions/count.
type CountResponse struct {
	Count int `json:"count"`
}

// RevokeAllRequest is the body of /api/admin/auth/revoke-all.
type RevokeAllRequest struct {
	UserID string `json:"userId"`
}

// RevokeAllResponse reports how many sessions were invalidated.
type RevokeAllResponse struct {
	Revoked int `json:"revoked"`
}

// EnabledRequest toggles a boolean admin switch.
type EnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// RequiredRequest toggles the encryption "required" switch.
type RequiredRequest struct {
	Required bool `json:"required"`
}

// DefaultPolicyRequest names the rate-limit policy to use as default.
type DefaultPolicyRequest struct {
	PolicyName string `json:"policyName"`
}

// MappingRequest upserts one endpoint-pattern-to-policy mapping.
type MappingRequest struct {
	Pattern    string `json:"pattern"`
	PolicyName string `json:"policyName"`
}

// ResetRequest clears one partition's rate-limit state.
type ResetRequest struct {
	PartitionKey string `json:"partitionKey"`
	PolicyName   string `json:"policyName"`
}
