package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// serviceTokenTTL bounds how long a minted service token stays valid.
// Tokens are minted per request, so this only needs to cover clock
// skew plus the request itself.
const serviceTokenTTL = 5 * time.Minute

// ServiceSigner mints the service tokens the AppView presents when
// calling feed generators and PDS hosts. With a secp256k1 key it
// signs ES256K, the algorithm PDS implementations verify against our
// DID document; without one it falls back to HS256 with the shared
// secret, which only works against services configured to trust it.
type ServiceSigner struct {
	issuer string
	key    *secp256k1.PrivateKey
	secret []byte
}

// NewServiceSigner builds a signer for the given issuer DID. keyPath
// names a PEM-encoded secp256k1 private key; when empty the signer
// falls back to HS256 with secret.
func NewServiceSigner(issuer, keyPath string, secret []byte) (*ServiceSigner, error) {
	if issuer == "" {
		return nil, fmt.Errorf("service signer requires an issuer DID")
	}

	if keyPath == "" {
		if len(secret) == 0 {
			return nil, fmt.Errorf("service signer requires a signing key or an HS256 secret")
		}
		slog.Warn("no service signing key configured, falling back to HS256",
			"issuer", issuer)
		return &ServiceSigner{issuer: issuer, secret: secret}, nil
	}

	pemBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading signing key: %w", err)
	}
	key, err := ParsePrivateKeyPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing signing key %s: %w", keyPath, err)
	}
	return &ServiceSigner{issuer: issuer, key: key}, nil
}

// Issuer returns the DID tokens are minted under.
func (s *ServiceSigner) Issuer() string { return s.issuer }

// PublicKey returns the public half of the ES256K signing key, or nil
// when the signer runs on the HS256 fallback.
func (s *ServiceSigner) PublicKey() *secp256k1.PublicKey {
	if s.key == nil {
		return nil
	}
	return s.key.PubKey()
}

// Algorithm reports which signing algorithm tokens will carry.
func (s *ServiceSigner) Algorithm() string {
	if s.key != nil {
		return AlgorithmES256K
	}
	return AlgorithmHS256
}

type serviceTokenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	Kid string `json:"kid"`
}

type serviceTokenPayload struct {
	Iss string `json:"iss"`
	Aud string `json:"aud"`
	Sub string `json:"sub,omitempty"`
	Iat int64  `json:"iat"`
	Exp int64  `json:"exp"`
}

// Sign mints a token for the given audience. subject names the user
// the call is made on behalf of and may be empty for calls the
// AppView makes as itself.
func (s *ServiceSigner) Sign(audience, subject string) (string, error) {
	if audience == "" {
		return "", fmt.Errorf("service token requires an audience")
	}

	now := time.Now()
	header, err := json.Marshal(serviceTokenHeader{
		Alg: s.Algorithm(),
		Typ: "JWT",
		Kid: ServiceKeyID,
	})
	if err != nil {
		return "", fmt.Errorf("encoding token header: %w", err)
	}
	payload, err := json.Marshal(serviceTokenPayload{
		Iss: s.issuer,
		Aud: audience,
		Sub: subject,
		Iat: now.Unix(),
		Exp: now.Add(serviceTokenTTL).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("encoding token payload: %w", err)
	}

	signingInput := base64.RawURLEncoding.EncodeToString(header) +
		"." + base64.RawURLEncoding.EncodeToString(payload)

	var sig []byte
	if s.key != nil {
		// Compact signatures are [recovery || R || S] with S already
		// canonicalized to the low half of the order; dropping the
		// recovery byte leaves the 64-byte form JWTs want.
		digest := sha256.Sum256([]byte(signingInput))
		sig = ecdsa.SignCompact(s.key, digest[:], false)[1:]
	} else {
		sig = hmacSHA256(signingInput, s.secret)
	}

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}
