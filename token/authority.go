package token

import (
	"crypto/rsa"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is applied when the configured TTL is zero.
const DefaultTokenTTL = 7 * time.Hour

// Claims is an arbitrary signed claim set. Standard fields (exp, iat, sub,
// aud, iss) live alongside caller-supplied claims; the set is read-only
// after issuance.
type Claims = jwt.MapClaims

// Config carries the signing authority inputs.
type Config struct {
	// PrivateKeyJWK is the RSA private key in JWK form (RS256).
	PrivateKeyJWK []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration

	// Now overrides the clock. Nil means time.Now; tests inject here.
	Now func() time.Time
}

// Authority signs and verifies compact RS256 tokens. Construct once and
// share by reference; there is no package-level cached instance.
type Authority struct {
	key    *rsa.PrivateKey
	kid    string
	public PublicJWK

	issuer   string
	audience string
	tokenTTL time.Duration
	now      func() time.Time
}

// NewAuthority parses the configured private JWK and builds the authority.
// A missing, malformed, or undersized key fails hard.
func NewAuthority(cfg Config) (*Authority, error) {
	key, err := ParsePrivateJWK(cfg.PrivateKeyJWK)
	if err != nil {
		return nil, err
	}

	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Authority{
		key:      key,
		kid:      DeriveKeyID(&key.PublicKey),
		public:   DerivePublicJWK(&key.PublicKey),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		tokenTTL: ttl,
		now:      now,
	}, nil
}

// KeyID returns the deterministic kid embedded in every token header.
func (a *Authority) KeyID() string {
	return a.kid
}

// PublicKey returns the RSA public half for out-of-band verification.
func (a *Authority) PublicKey() *rsa.PublicKey {
	return &a.key.PublicKey
}

// JWKS returns the publishable key-set document.
func (a *Authority) JWKS() JWKS {
	return JWKS{Keys: []PublicJWK{a.public}}
}

// Sign issues a compact token over claims. Standard fields not already
// present (iat, exp, iss, aud) are filled from the authority configuration;
// caller-supplied values win.
func (a *Authority) Sign(claims Claims) (string, error) {
	if a == nil || a.key == nil {
		return "", errors.New("authority not initialized")
	}

	now := a.now()
	mc := Claims{}
	for k, v := range claims {
		mc[k] = v
	}
	if _, ok := mc["iat"]; !ok {
		mc["iat"] = now.Unix()
	}
	if _, ok := mc["exp"]; !ok {
		mc["exp"] = now.Add(a.tokenTTL).Unix()
	}
	if _, ok := mc["iss"]; !ok && a.issuer != "" {
		mc["iss"] = a.issuer
	}
	if _, ok := mc["aud"]; !ok && a.audience != "" {
		mc["aud"] = a.audience
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, mc)
	tok.Header["kid"] = a.kid

	return tok.SignedString(a.key)
}

// Verify checks a compact token against the authority's own public key.
// All failure paths collapse to nil.
func (a *Authority) Verify(tokenStr string) Claims {
	return verify(tokenStr, &a.key.PublicKey, a.now)
}

// VerifyWithKey checks a compact token against an externally supplied
// public key. All failure paths collapse to nil.
func VerifyWithKey(tokenStr string, pub *rsa.PublicKey) Claims {
	return verify(tokenStr, pub, time.Now)
}

func verify(tokenStr string, pub *rsa.PublicKey, now func() time.Time) Claims {
	if pub == nil || tokenStr == "" {
		return nil
	}
	if strings.Count(tokenStr, ".") != 2 {
		return nil
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	)

	claims := Claims{}
	tok, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return pub, nil
	})
	if err != nil || !tok.Valid {
		return nil
	}

	return claims
}
