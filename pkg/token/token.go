// Package token implements the signed access token: the claims it carries,
// ES256 issuance, and verification. The verifier issues tokens; the
// protected server verifies them. Both sides agree on a single fixed
// algorithm so an attacker can never negotiate a weaker one.
package token

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Header is the HTTP header carrying the signed access token on every
// protected request.
const Header = "Ore-Access-Token"

// signingMethod is the only accepted algorithm. Tokens signed any other way
// are rejected during parsing.
var signingMethod = jwt.SigningMethodES256

// Claims are the verified contents of an access token. The parameter hash
// binds the token to one exact set of request parameters; endpoint and
// method bind it to one call.
type Claims struct {
	// Endpoint is the protected API URL the token authorizes.
	Endpoint string `json:"endpoint"`

	// Method is the HTTP verb the token authorizes.
	Method string `json:"method"`

	// ReqParamHash is the canonical parameter hash the token was issued for.
	ReqParamHash string `json:"reqParamHash"`

	// AccessTokenTimeout is the token's time to live in seconds. Clients use
	// it as the cache TTL for zero-cost tokens.
	AccessTokenTimeout int64 `json:"accessTokenTimeout"`

	// AdditionalParameters are extra parameters the provider endpoint
	// requires; the client merges them into the outgoing request when they
	// are not already supplied.
	AdditionalParameters map[string]interface{} `json:"additionalParameters,omitempty"`

	jwt.RegisteredClaims
}

// Issuer signs access tokens. The verifier service holds one; tests hold one
// to mint fixtures.
type Issuer struct {
	key *ecdsa.PrivateKey
}

// NewIssuer creates an Issuer from an ES256 private key.
func NewIssuer(key *ecdsa.PrivateKey) *Issuer {
	return &Issuer{key: key}
}

// Issue signs claims with the token's TTL applied: exp is set to now +
// AccessTokenTimeout seconds alongside iat.
func (i *Issuer) Issue(claims Claims) (string, error) {
	return i.IssueAt(claims, time.Now())
}

// IssueAt is Issue with an explicit issue time, for deterministic tests.
func (i *Issuer) IssueAt(claims Claims, now time.Time) (string, error) {
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(time.Duration(claims.AccessTokenTimeout) * time.Second))

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Verify parses the token string and checks its signature and expiry against
// the verifier public key. The returned error always wraps one of the
// package sentinels.
func Verify(tokenString string, key *ecdsa.PublicKey) (*Claims, error) {
	if key == nil {
		return nil, &Error{Op: "CheckSignature", Err: ErrNoPublicKey}
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{signingMethod.Alg()}))
	if err != nil {
		return nil, &Error{Op: "CheckSignature", Err: mapJWTError(err)}
	}
	return claims, nil
}

// mapJWTError translates jwt library failures into the package's sentinel
// taxonomy.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
}

// ParsePublicKey decodes a PEM-encoded EC public key. Escaped newlines
// ("\n" as two characters) are unescaped first, matching how keys are passed
// through single-line environment variables.
func ParsePublicKey(pemKey string) (*ecdsa.PublicKey, error) {
	unescaped := strings.ReplaceAll(pemKey, `\n`, "\n")
	key, err := jwt.ParseECPublicKeyFromPEM([]byte(unescaped))
	if err != nil {
		return nil, fmt.Errorf("parse verifier public key: %w", err)
	}
	return key, nil
}

// ParsePrivateKey decodes a PEM-encoded EC private key, unescaping newlines
// the same way as ParsePublicKey.
func ParsePrivateKey(pemKey string) (*ecdsa.PrivateKey, error) {
	unescaped := strings.ReplaceAll(pemKey, `\n`, "\n")
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(unescaped))
	if err != nil {
		return nil, fmt.Errorf("parse verifier private key: %w", err)
	}
	return key, nil
}

// MarshalPublicKey renders an EC public key in PEM form, the inverse of
// ParsePublicKey.
func MarshalPublicKey(key *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
