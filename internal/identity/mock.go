package identity

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nimbus-tales/aegis-gateway/internal/errs"
)

// mockClaims is the payload shape MockProvider expects when a token is a
// signed JWT rather than a raw id, mirroring the teacher's authManager
// access-token claims.
type mockClaims struct {
	UserID string   `json:"uid"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// MockProvider is the "Mock" identity provider used by local development
// and the gateway's own test suite. It accepts tokens of the form
// "mock:<user-id>" for quick manual testing, and "mock:<jwt>" when the
// caller wants to exercise role claims and expiry — both forms resolve
// through the same provider name so the wire contract in spec §6 ("{token,
// provider}") doesn't change shape between them.
type MockProvider struct {
	secret []byte
}

// NewMockProvider builds a MockProvider. secret signs/verifies the JWT
// form of mock tokens; it is irrelevant to the raw-id form.
func NewMockProvider(secret string) *MockProvider {
	return &MockProvider{secret: []byte(secret)}
}

const mockPrefix = "mock:"

func (m *MockProvider) Resolve(_ context.Context, token, provider string) (Identity, error) {
	if !strings.HasPrefix(token, mockPrefix) {
		return Identity{}, errs.New(errs.Unauthenticated, "malformed mock token")
	}
	payload := strings.TrimPrefix(token, mockPrefix)
	if payload == "" {
		return Identity{}, errs.New(errs.Unauthenticated, "malformed mock token")
	}

	if strings.Count(payload, ".") == 2 {
		return m.resolveJWT(payload, provider)
	}

	return Identity{UserID: payload, Provider: provider, Roles: []string{"user"}}, nil
}

func (m *MockProvider) resolveJWT(raw, provider string) (Identity, error) {
	claims := &mockClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errs.New(errs.Unauthenticated, "unexpected signing method")
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, errs.New(errs.Unauthenticated, "invalid mock token")
	}
	if claims.UserID == "" {
		return Identity{}, errs.New(errs.Unauthenticated, "mock token missing subject")
	}
	roles := claims.Roles
	if len(roles) == 0 {
		roles = []string{"user"}
	}
	return Identity{UserID: claims.UserID, Provider: provider, Roles: roles}, nil
}

// IssueTestToken signs a JWT-form mock token, for use by local tooling
// and tests that need role claims the raw-id form can't carry.
func (m *MockProvider) IssueTestToken(userID string, roles []string, ttl time.Duration) (string, error) {
	claims := mockClaims{
		UserID: userID,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   userID,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", err
	}
	return mockPrefix + signed, nil
}
