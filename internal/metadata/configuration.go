package metadata

import (
	"encoding/json"
)

// Configuration is an OpenID Connect provider configuration, assembled from
// the discovery document and the key set it references. A Configuration is
// built fresh for each retrieval; holders share it read-only.
type Configuration struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	JwksURI               string `json:"jwks_uri"`

	UserinfoEndpoint   string `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint string `json:"end_session_endpoint,omitempty"`

	ResponseTypesSupported           []string `json:"response_types_supported,omitempty"`
	SubjectTypesSupported            []string `json:"subject_types_supported,omitempty"`
	ScopesSupported                  []string `json:"scopes_supported,omitempty"`
	ClaimsSupported                  []string `json:"claims_supported,omitempty"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported,omitempty"`

	// SigningKeys is populated from the key set, in document order. It is
	// empty when the discovery document names no key set.
	SigningKeys []SigningKey `json:"-"`
}

// KeyIDs lists the kid of each signing key, in order.
func (c *Configuration) KeyIDs() []string {
	ids := make([]string, 0, len(c.SigningKeys))
	for _, k := range c.SigningKeys {
		ids = append(ids, k.KeyID)
	}
	return ids
}

// SigningKey is a single JSON Web Key from the provider's key set. The
// members are kept as they appear in the document; Raw holds the complete
// entry, including members not mapped here.
type SigningKey struct {
	KeyType   string `json:"kty"`
	Use       string `json:"use,omitempty"`
	Algorithm string `json:"alg,omitempty"`
	KeyID     string `json:"kid,omitempty"`

	// RSA
	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`

	// EC
	Curve string `json:"crv,omitempty"`
	X     string `json:"x,omitempty"`
	Y     string `json:"y,omitempty"`

	X5c []string `json:"x5c,omitempty"`
	X5t string   `json:"x5t,omitempty"`

	Raw json.RawMessage `json:"-"`
}
