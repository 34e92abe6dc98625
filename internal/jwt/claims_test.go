package jwt

import (
	"context"
	"encoding/json"
	"testing"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v3"
	"github.com/auth0/go-jwt-middleware/v3/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaims_Unmarshal(t *testing.T) {
	var claims Claims
	err := json.Unmarshal([]byte(`{
		"sub": "user|123",
		"name": "Ada Lovelace",
		"preferred_username": "ada",
		"email": "ada@example.com",
		"scope": "openid profile  email"
	}`), &claims)
	require.NoError(t, err)

	assert.Equal(t, Claims{
		Name:              "Ada Lovelace",
		PreferredUsername: "ada",
		Email:             "ada@example.com",
		Scope:             "openid profile  email",
	}, claims)
	assert.Equal(t, []string{"openid", "profile", "email"}, claims.Scopes())
	assert.NoError(t, claims.Validate(context.Background()))
}

func TestClaims_DisplayName(t *testing.T) {
	tests := []struct {
		name     string
		claims   Claims
		expected string
	}{
		{"name preferred", Claims{Name: "Ada", PreferredUsername: "ada", Email: "a@example.com"}, "Ada"},
		{"username fallback", Claims{PreferredUsername: "ada", Email: "a@example.com"}, "ada"},
		{"email fallback", Claims{Email: "a@example.com"}, "a@example.com"},
		{"nothing", Claims{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.claims.DisplayName())
		})
	}
}

func TestCheckRegisteredClaims(t *testing.T) {
	complete := func() validator.RegisteredClaims {
		return validator.RegisteredClaims{
			Issuer:    "https://issuer.example",
			Subject:   "subject",
			Audience:  []string{"audience"},
			NotBefore: 1700000000,
			Expiry:    1700000600,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*validator.RegisteredClaims)
		message string
	}{
		{"complete", func(*validator.RegisteredClaims) {}, ""},
		{"no audience", func(c *validator.RegisteredClaims) { c.Audience = nil }, "audience claim not present"},
		{"no issuer", func(c *validator.RegisteredClaims) { c.Issuer = "" }, "issuer claim not present"},
		{"no subject", func(c *validator.RegisteredClaims) { c.Subject = "" }, "subject claim not present"},
		{"no expiry", func(c *validator.RegisteredClaims) { c.Expiry = 0 }, "no validity period"},
		{"no not-before", func(c *validator.RegisteredClaims) { c.NotBefore = 0 }, "no validity period"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := complete()
			tt.mutate(&reg)

			err := checkRegisteredClaims(&validator.ValidatedClaims{RegisteredClaims: reg})
			if tt.message == "" {
				assert.NoError(t, err)
				return
			}

			assert.ErrorIs(t, err, jwtmiddleware.ErrJWTInvalid)
			assert.ErrorContains(t, err, tt.message)
		})
	}
}

func TestProfileClaimsFromContext(t *testing.T) {
	assert.Nil(t, ProfileClaimsFromContext(context.Background()))

	profile := &Claims{Name: "Ada"}
	ctx := ContextWithClaims(context.Background(), &validator.ValidatedClaims{
		CustomClaims: profile,
	})

	assert.Same(t, profile, ProfileClaimsFromContext(ctx))
}
