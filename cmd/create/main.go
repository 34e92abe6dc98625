// This command is only used for local testing: it signs a bearer token with a
// local private JWK so that the protected routes can be called against a
// locally hosted identity provider.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/sethvargo/go-envconfig"

	localjwt "github.com/chinmina/oidc-gateway/internal/jwt"
)

type Config struct {
	KeyFile  string        `env:"UTIL_KEY_FILE, default=.development/keys/jwk-sig-testing-priv.json"`
	Audience string        `env:"UTIL_AUDIENCE, default=oidc-gateway"`
	Subject  string        `env:"UTIL_SUBJECT, default=test-subject"`
	Issuer   string        `env:"UTIL_ISSUER, required"`
	Name     string        `env:"UTIL_NAME, default=Local Tester"`
	Scope    string        `env:"UTIL_SCOPE, default=openid profile"`
	Lifetime time.Duration `env:"UTIL_LIFETIME, default=5m"`
}

func main() {
	cfg := Config{}
	err := envconfig.Process(context.Background(), &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
		os.Exit(1)
	}

	keyBytes, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading key: %v\n", err)
		os.Exit(1)
	}

	key, err := jwk.ParseKey(keyBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading key: %v\n", err)
		os.Exit(1)
	}

	token, err := buildToken(cfg, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error building token: %v\n", err)
		os.Exit(1)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256(), key))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error signing token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s", signed)
}

func buildToken(cfg Config, now time.Time) (jwt.Token, error) {
	profile := localjwt.Claims{
		Name:  cfg.Name,
		Scope: cfg.Scope,
	}

	return jwt.NewBuilder().
		Audience([]string{cfg.Audience}).
		Subject(cfg.Subject).
		Issuer(cfg.Issuer).
		IssuedAt(now).
		NotBefore(now.Add(-1*time.Minute)).
		Expiration(now.Add(cfg.Lifetime)).
		Claim("name", profile.Name).
		Claim("scope", profile.Scope).
		Build()
}
