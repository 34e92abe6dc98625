package jwt

import (
	"context"
	"fmt"
	"strings"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v3"
	"github.com/auth0/go-jwt-middleware/v3/validator"
)

// Claims are the profile claims read from the bearer token in addition to the
// registered claims.
type Claims struct {
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	Scope             string `json:"scope"`
}

// Validate accepts any combination of profile claims; none are mandatory.
func (c *Claims) Validate(context.Context) error {
	return nil
}

// DisplayName returns the best available human readable name for the caller.
func (c *Claims) DisplayName() string {
	switch {
	case c.Name != "":
		return c.Name
	case c.PreferredUsername != "":
		return c.PreferredUsername
	default:
		return c.Email
	}
}

// Scopes splits the space separated scope claim.
func (c *Claims) Scopes() []string {
	return strings.Fields(c.Scope)
}

// checkRegisteredClaims ensures that the claims the gateway relies on are
// present. The validator enforces the validity period and audience values
// when they exist; this ensures that they do.
func checkRegisteredClaims(claims *validator.ValidatedClaims) error {
	reg := claims.RegisteredClaims

	if len(reg.Audience) == 0 {
		return fmt.Errorf("%w: audience claim not present", jwtmiddleware.ErrJWTInvalid)
	}

	if reg.Issuer == "" {
		return fmt.Errorf("%w: issuer claim not present", jwtmiddleware.ErrJWTInvalid)
	}

	if reg.Subject == "" {
		return fmt.Errorf("%w: subject claim not present", jwtmiddleware.ErrJWTInvalid)
	}

	if reg.NotBefore == 0 || reg.Expiry == 0 {
		return fmt.Errorf("%w: token has no validity period", jwtmiddleware.ErrJWTInvalid)
	}

	return nil
}
