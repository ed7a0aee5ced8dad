package token

import "strings"

// DiscoveryDocument is the provider metadata consumed by clients. The OTP
// code grant is custom; there is no redirect-based flow.
type DiscoveryDocument struct {
	Issuer                string   `json:"issuer"`
	TokenEndpoint         string   `json:"token_endpoint"`
	UserinfoEndpoint      string   `json:"userinfo_endpoint"`
	JWKSURI               string   `json:"jwks_uri"`
	RevocationEndpoint    string   `json:"revocation_endpoint"`
	IntrospectionEndpoint string   `json:"introspection_endpoint"`
	GrantTypesSupported   []string `json:"grant_types_supported"`
	ScopesSupported       []string `json:"scopes_supported"`
	ClaimsSupported       []string `json:"claims_supported"`
}

// Discovery builds the provider metadata document rooted at baseURL.
func (a *Authority) Discovery(baseURL string) DiscoveryDocument {
	base := strings.TrimRight(baseURL, "/")

	issuer := a.issuer
	if issuer == "" {
		issuer = base
	}

	return DiscoveryDocument{
		Issuer:                issuer,
		TokenEndpoint:         base + "/auth/token",
		UserinfoEndpoint:      base + "/auth/me",
		JWKSURI:               base + "/.well-known/jwks.json",
		RevocationEndpoint:    base + "/auth/revoke",
		IntrospectionEndpoint: base + "/auth/introspect",
		GrantTypesSupported:   []string{"urn:ietf:params:oauth:grant-type:otp", "refresh_token"},
		ScopesSupported:       []string{"openid", "email"},
		ClaimsSupported:       []string{"sub", "aud", "iss", "iat", "exp", "email", "at_hash"},
	}
}
