// Package auth mints and verifies the JWTs that move between the
// AppView and PDS hosts.
//
// Outbound, the ServiceSigner produces short-lived service tokens
// (ES256K when a signing key is configured, HS256 otherwise) that let
// the AppView call feed generators and PDS endpoints on its own
// behalf. Inbound, the Verifier checks bearer tokens from three kinds
// of issuer: DIDs (inter-service tokens signed with the account's
// repo key), HTTPS authorization servers (verified against their
// published JWKS), and whitelisted HS256 issuers sharing a secret
// with this deployment.
package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signing algorithms seen on atproto tokens.
const (
	AlgorithmHS256  = "HS256"
	AlgorithmRS256  = "RS256"
	AlgorithmES256  = "ES256"
	AlgorithmES256K = "ES256K"
)

// ServiceKeyID is the fixed key ID atproto services put on service
// token headers.
const ServiceKeyID = "atproto"

// JWTHeader is the decoded JOSE header of a token.
type JWTHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	Kid string `json:"kid,omitempty"`
}

// Claims carries the registered claims plus the atproto extensions we
// care about.
type Claims struct {
	jwt.RegisteredClaims

	// Scope is set on PDS-minted access tokens ("com.atproto.access").
	Scope string `json:"scope,omitempty"`

	// LexiconMethod binds newer inter-service tokens to a single XRPC
	// method.
	LexiconMethod string `json:"lxm,omitempty"`
}

// DID returns the DID the token authenticates: the subject when
// present, otherwise the issuer (inter-service tokens put the account
// DID in iss and often omit sub).
func (c *Claims) DID() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.Issuer
}

// KeyFetcher resolves the public key a token was signed with, given
// its issuer.
type KeyFetcher interface {
	FetchPublicKey(ctx context.Context, issuer, token string) (interface{}, error)
}

// Verifier checks inbound bearer tokens. Algorithm selection is
// pinned by the token header before any cryptography runs: tokens
// carrying a kid must verify against an asymmetric key, and HS256 is
// accepted only from issuers explicitly whitelisted at construction.
// That split keeps a forged "HS256 signed with our public key bytes"
// token from ever reaching the HMAC path.
type Verifier struct {
	keys          KeyFetcher
	serviceTokens *ServiceTokenVerifier
	secret        []byte
	hs256Issuers  map[string]struct{}
	allowHTTP     bool
}

// NewVerifier builds a Verifier.
//
// keys resolves JWKS-published keys for HTTPS issuers and may be nil
// when no such issuers are expected. serviceTokens verifies
// DID-issued inter-service tokens and may be nil to reject them.
// secret is the shared HS256 secret; hs256Issuers lists the issuers
// allowed to use it. allowHTTP permits plain-http issuer URLs for
// local development.
func NewVerifier(keys KeyFetcher, serviceTokens *ServiceTokenVerifier, secret []byte, hs256Issuers []string, allowHTTP bool) *Verifier {
	whitelist := make(map[string]struct{}, len(hs256Issuers))
	for _, iss := range hs256Issuers {
		if iss = strings.TrimSpace(iss); iss != "" {
			whitelist[iss] = struct{}{}
		}
	}
	return &Verifier{
		keys:          keys,
		serviceTokens: serviceTokens,
		secret:        secret,
		hs256Issuers:  whitelist,
		allowHTTP:     allowHTTP,
	}
}

// Verify checks the token's signature and claims and returns the
// claims on success.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	tokenString = stripBearerPrefix(tokenString)

	claims, err := ParseUnverified(tokenString)
	if err != nil {
		return nil, err
	}

	// DID issuers sign with the repo key from their DID document,
	// usually ES256K, which needs its own verification path.
	if strings.HasPrefix(claims.Issuer, "did:") {
		if v.serviceTokens == nil {
			return nil, fmt.Errorf("DID-issued tokens are not accepted here")
		}
		return v.serviceTokens.Verify(ctx, tokenString)
	}

	header, err := ParseJWTHeader(tokenString)
	if err != nil {
		return nil, err
	}

	if header.Kid == "" {
		// No key ID: only the shared-secret issuers may do this.
		if _, ok := v.hs256Issuers[claims.Issuer]; !ok {
			return nil, fmt.Errorf("issuer %s is not authorized for HS256 tokens", claims.Issuer)
		}
		if err := v.verifyHS256(tokenString); err != nil {
			return nil, err
		}
	} else {
		if header.Alg == AlgorithmHS256 {
			return nil, fmt.Errorf("HS256 token must not carry a key ID")
		}
		if err := v.verifyAsymmetric(ctx, tokenString, claims.Issuer); err != nil {
			return nil, err
		}
	}

	if err := v.validateClaims(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (v *Verifier) verifyHS256(tokenString string) error {
	if len(v.secret) == 0 {
		return fmt.Errorf("no HS256 secret configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return fmt.Errorf("HS256 verification failed: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("HS256 token invalid")
	}
	return nil
}

func (v *Verifier) verifyAsymmetric(ctx context.Context, tokenString, issuer string) error {
	if v.keys == nil {
		return fmt.Errorf("no key fetcher configured for issuer %s", issuer)
	}
	publicKey, err := v.keys.FetchPublicKey(ctx, issuer, tokenString)
	if err != nil {
		return fmt.Errorf("fetching key for %s: %w", issuer, err)
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodRSA:
			if _, ok := publicKey.(*rsa.PublicKey); !ok {
				return nil, fmt.Errorf("token alg %s does not match key type", t.Method.Alg())
			}
		case *jwt.SigningMethodECDSA:
			if _, ok := publicKey.(*ecdsa.PublicKey); !ok {
				return nil, fmt.Errorf("token alg %s does not match key type", t.Method.Alg())
			}
		default:
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return publicKey, nil
	})
	if err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("token invalid")
	}
	return nil
}

func (v *Verifier) validateClaims(claims *Claims) error {
	now := time.Now()

	if claims.ExpiresAt == nil {
		return fmt.Errorf("token has no expiry")
	}
	if now.After(claims.ExpiresAt.Time) {
		return fmt.Errorf("token expired at %s", claims.ExpiresAt.Time.Format(time.RFC3339))
	}
	if claims.NotBefore != nil && now.Before(claims.NotBefore.Time) {
		return fmt.Errorf("token not valid until %s", claims.NotBefore.Time.Format(time.RFC3339))
	}

	if claims.Subject != "" && !strings.HasPrefix(claims.Subject, "did:") {
		return fmt.Errorf("subject %q is not a DID", claims.Subject)
	}

	switch {
	case strings.HasPrefix(claims.Issuer, "https://"):
	case strings.HasPrefix(claims.Issuer, "did:"):
	case strings.HasPrefix(claims.Issuer, "http://") && v.allowHTTP:
	default:
		return fmt.Errorf("issuer %q is not acceptable", claims.Issuer)
	}

	if claims.Scope != "" && !strings.HasPrefix(claims.Scope, "com.atproto.") {
		return fmt.Errorf("unexpected token scope %q", claims.Scope)
	}
	return nil
}

// ParseUnverified decodes a token's claims without checking the
// signature. Used to pick a verification path and for logging; never
// trust the result on its own.
func ParseUnverified(tokenString string) (*Claims, error) {
	tokenString = stripBearerPrefix(tokenString)

	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	token, _, err := parser.ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}
	return claims, nil
}

// ParseJWTHeader decodes the JOSE header of a compact-form token.
func ParseJWTHeader(tokenString string) (*JWTHeader, error) {
	tokenString = stripBearerPrefix(tokenString)

	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed token: expected 3 segments, got %d", len(parts))
	}
	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decoding token header: %w", err)
	}
	var header JWTHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("parsing token header: %w", err)
	}
	return &header, nil
}

// ExtractKeyID returns the kid from a token header, or "" when the
// header carries none.
func ExtractKeyID(tokenString string) (string, error) {
	header, err := ParseJWTHeader(tokenString)
	if err != nil {
		return "", err
	}
	return header.Kid, nil
}

func stripBearerPrefix(token string) string {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}

func hmacSHA256(signingInput string, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(signingInput))
	return mac.Sum(nil)
}
