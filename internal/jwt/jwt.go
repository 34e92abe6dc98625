package jwt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/justinas/alice"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/rs/zerolog"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v3"
	"github.com/auth0/go-jwt-middleware/v3/validator"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chinmina/oidc-gateway/internal/audit"
	"github.com/chinmina/oidc-gateway/internal/config"
	"github.com/chinmina/oidc-gateway/internal/metadata"
)

// ErrNoSigningKeys is returned by the key function when the provider
// configuration holds no key usable for verification.
var ErrNoSigningKeys = errors.New("identity provider published no usable signing keys")

// ConfigurationProvider supplies the current provider configuration. It is
// satisfied by *metadata.Manager.
type ConfigurationProvider interface {
	GetConfiguration(ctx context.Context) (*metadata.Configuration, error)
}

// KeyRefreshFunc is called when a rejected token names a signing key that the
// current configuration does not hold. It reports whether a reload of the
// provider configuration was requested.
type KeyRefreshFunc func(ctx context.Context) bool

// Middleware returns HTTP middleware that verifies the JWT against the signing
// keys of the provider configuration and enforces the validity claims. The
// retrieved claims are set on the request context and can be retrieved by
// calling jwt.ClaimsFromContext(ctx).
//
// When refresh is not nil, it is called for tokens signed with a key that
// the provider has not yet published to this service, allowing rotated keys
// to be picked up before the next scheduled reload.
func Middleware(cfg config.OIDCConfig, provider ConfigurationProvider, refresh KeyRefreshFunc, options ...jwtmiddleware.Option) (func(http.Handler) http.Handler, error) {
	issuerURL, err := url.Parse(cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse the issuer URL: %w", err)
	}

	// the validator is used by the middleware to check the JWT signature and claims
	jwtValidator, err := validator.New(
		validator.WithKeyFunc(KeyFunc(provider)),
		validator.WithAlgorithm(validator.RS256),
		validator.WithIssuer(issuerURL.String()),
		validator.WithAudience(cfg.Audience),
		validator.WithAllowedClockSkew(5*time.Second),
		validator.WithCustomClaims(func() validator.CustomClaims {
			return &Claims{}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set up the validator: %w", err)
	}

	// Validation errors are recorded by the error handler; the claims of a
	// valid token are recorded by the claims middleware.
	onError := auditErrorHandler(provider, refresh)
	options = append(options,
		jwtmiddleware.WithErrorHandler(onError),
		jwtmiddleware.WithValidator(jwtValidator),
	)

	middleware, err := jwtmiddleware.New(options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT middleware: %w", err)
	}

	return alice.New(middleware.CheckJWT, auditClaimsMiddleware(onError)).Then, nil
}

// KeyFunc returns a validator key function that serves the signing keys of
// the provider's current configuration. The converted key set is reused
// until the provider returns a different configuration.
func KeyFunc(provider ConfigurationProvider) func(ctx context.Context) (any, error) {
	var (
		mu     sync.Mutex
		source *metadata.Configuration
		keys   jwk.Set
	)

	return func(ctx context.Context) (any, error) {
		cfg, err := provider.GetConfiguration(ctx)
		if err != nil {
			return nil, fmt.Errorf("identity provider configuration unavailable: %w", err)
		}

		mu.Lock()
		defer mu.Unlock()

		if cfg == source && keys != nil {
			return keys, nil
		}

		set, err := signingKeySet(ctx, cfg)
		if err != nil {
			return nil, err
		}

		source, keys = cfg, set

		return keys, nil
	}
}

func signingKeySet(ctx context.Context, cfg *metadata.Configuration) (jwk.Set, error) {
	set := jwk.NewSet()

	for _, sk := range cfg.SigningKeys {
		if sk.Use != "" && sk.Use != "sig" {
			continue
		}

		key, err := jwk.ParseKey(sk.Raw)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("kid", sk.KeyID).Msg("skipping unusable signing key")
			continue
		}

		if err := set.AddKey(key); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("kid", sk.KeyID).Msg("skipping duplicate signing key")
		}
	}

	if set.Len() == 0 {
		return nil, ErrNoSigningKeys
	}

	return set, nil
}

type claimsContextKey struct{}

// ContextWithClaims returns a new context.Context with the provided validated claims
// added to it. This is primarily for test usage
func ContextWithClaims(ctx context.Context, claims *validator.ValidatedClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext returns the validated claims from the context as set by the
// JWT middleware. This will return nil if the context data is not set. This
// should be regarded as an error for handlers that expect the claims to be
// present.
func ClaimsFromContext(ctx context.Context) *validator.ValidatedClaims {
	claims, err := jwtmiddleware.GetClaims[*validator.ValidatedClaims](ctx)
	if err == nil {
		return claims
	}

	claims, _ = ctx.Value(claimsContextKey{}).(*validator.ValidatedClaims)
	return claims
}

// ProfileClaimsFromContext gets the profile claims from the context, as added
// by the JWT middleware. This will return nil if the claims are not present.
func ProfileClaimsFromContext(ctx context.Context) *Claims {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return nil
	}

	c, _ := claims.CustomClaims.(*Claims)

	return c
}

func auditClaimsMiddleware(onError jwtmiddleware.ErrorHandler) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry := audit.Log(r.Context())
			claims := ClaimsFromContext(r.Context())

			if claims == nil {
				entry.Error = "JWT claims missing from context"
				jwtmiddleware.DefaultErrorHandler(w, r, jwtmiddleware.ErrJWTMissing)
				return
			}

			if err := checkRegisteredClaims(claims); err != nil {
				onError(w, r, err)
				return
			}

			reg := claims.RegisteredClaims
			entry.Authorized = true
			entry.AuthSubject = reg.Subject
			entry.AuthIssuer = reg.Issuer
			entry.AuthAudience = reg.Audience
			entry.AuthExpirySecs = reg.Expiry

			span := trace.SpanFromContext(r.Context())
			span.SetAttributes(
				attribute.String("auth.subject", reg.Subject),
				attribute.String("auth.issuer", reg.Issuer),
			)

			if profile := ProfileClaimsFromContext(r.Context()); profile != nil {
				span.SetAttributes(
					attribute.String("auth.name", profile.DisplayName()),
					attribute.String("auth.scope", strings.Join(profile.Scopes(), " ")),
				)
			}

			next.ServeHTTP(w, r)
		})
	}
}

func auditErrorHandler(provider ConfigurationProvider, refresh KeyRefreshFunc) jwtmiddleware.ErrorHandler {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		entry := audit.Log(r.Context())
		entry.Error = fmt.Sprintf("JWT authorization failure: %s", err.Error())

		if refresh != nil && !errors.Is(err, jwtmiddleware.ErrJWTMissing) {
			entry.RefreshRequested = refreshOnUnknownKey(r, provider, refresh)
		}

		// The default handler writes the status; the audit middleware records it.
		jwtmiddleware.DefaultErrorHandler(w, r, err)
	}
}

// refreshOnUnknownKey requests a refresh when the request's bearer token
// names a key ID absent from the current configuration. Tokens without a key
// ID, or whose key is already known, never trigger a refresh.
func refreshOnUnknownKey(r *http.Request, provider ConfigurationProvider, refresh KeyRefreshFunc) bool {
	kid, ok := bearerKeyID(r)
	if !ok {
		return false
	}

	cfg, err := provider.GetConfiguration(r.Context())
	if err != nil {
		return false
	}

	if slices.Contains(cfg.KeyIDs(), kid) {
		return false
	}

	requested := refresh(r.Context())

	zerolog.Ctx(r.Context()).Info().
		Str("kid", kid).
		Bool("refreshRequested", requested).
		Msg("token signed with unknown key")

	return requested
}

// bearerKeyID reads the key ID from the protected header of the request's
// bearer token. The token is parsed only; its signature is not checked.
func bearerKeyID(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}

	msg, err := jws.Parse([]byte(strings.TrimSpace(token)))
	if err != nil {
		return "", false
	}

	signatures := msg.Signatures()
	if len(signatures) == 0 {
		return "", false
	}

	kid, ok := signatures[0].ProtectedHeaders().KeyID()
	if !ok || kid == "" {
		return "", false
	}

	return kid, true
}
