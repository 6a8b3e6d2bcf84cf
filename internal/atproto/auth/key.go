package auth

import (
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// crypto/x509 refuses secp256k1, so SEC1 and PKCS#8 envelopes are
// decoded here directly.
var (
	oidSecp256k1   = asn1.ObjectIdentifier{1, 3, 132, 0, 10}
	oidECPublicKey = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
)

// sec1PrivateKey is the ECPrivateKey structure from RFC 5915.
type sec1PrivateKey struct {
	Version    int
	PrivateKey []byte
	NamedCurve asn1.ObjectIdentifier `asn1:"optional,explicit,tag:0"`
	PublicKey  asn1.BitString        `asn1:"optional,explicit,tag:1"`
}

// pkcs8PrivateKey is the OneAsymmetricKey structure from RFC 5958,
// minus the attributes we never emit.
type pkcs8PrivateKey struct {
	Version   int
	Algorithm pkixAlgorithm
	KeyData   []byte
}

type pkixAlgorithm struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.ObjectIdentifier `asn1:"optional"`
}

// ParsePrivateKeyPEM decodes a secp256k1 private key from either a
// SEC1 "EC PRIVATE KEY" or PKCS#8 "PRIVATE KEY" PEM block.
func ParsePrivateKeyPEM(data []byte) (*secp256k1.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	switch block.Type {
	case "EC PRIVATE KEY":
		var sec1 sec1PrivateKey
		if _, err := asn1.Unmarshal(block.Bytes, &sec1); err != nil {
			return nil, fmt.Errorf("parsing SEC1 key: %w", err)
		}
		if len(sec1.NamedCurve) > 0 && !sec1.NamedCurve.Equal(oidSecp256k1) {
			return nil, fmt.Errorf("key curve %v is not secp256k1", sec1.NamedCurve)
		}
		return keyFromScalar(sec1.PrivateKey)

	case "PRIVATE KEY":
		var pkcs8 pkcs8PrivateKey
		if _, err := asn1.Unmarshal(block.Bytes, &pkcs8); err != nil {
			return nil, fmt.Errorf("parsing PKCS#8 key: %w", err)
		}
		if !pkcs8.Algorithm.Algorithm.Equal(oidECPublicKey) {
			return nil, fmt.Errorf("PKCS#8 algorithm %v is not EC", pkcs8.Algorithm.Algorithm)
		}
		if len(pkcs8.Algorithm.Parameters) > 0 && !pkcs8.Algorithm.Parameters.Equal(oidSecp256k1) {
			return nil, fmt.Errorf("key curve %v is not secp256k1", pkcs8.Algorithm.Parameters)
		}
		var sec1 sec1PrivateKey
		if _, err := asn1.Unmarshal(pkcs8.KeyData, &sec1); err != nil {
			return nil, fmt.Errorf("parsing PKCS#8 inner key: %w", err)
		}
		return keyFromScalar(sec1.PrivateKey)

	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}

func keyFromScalar(scalar []byte) (*secp256k1.PrivateKey, error) {
	if len(scalar) == 0 || len(scalar) > 32 {
		return nil, fmt.Errorf("private scalar has invalid length %d", len(scalar))
	}
	padded := make([]byte, 32)
	copy(padded[32-len(scalar):], scalar)
	key := secp256k1.PrivKeyFromBytes(padded)
	if key.Key.IsZero() {
		return nil, fmt.Errorf("private scalar is zero")
	}
	return key, nil
}

// MarshalPrivateKeyPEM encodes a secp256k1 private key as a SEC1
// "EC PRIVATE KEY" PEM block, including the public point so standard
// tooling can inspect it.
func MarshalPrivateKeyPEM(key *secp256k1.PrivateKey) ([]byte, error) {
	pub := key.PubKey().SerializeUncompressed()
	der, err := asn1.Marshal(sec1PrivateKey{
		Version:    1,
		PrivateKey: key.Serialize(),
		NamedCurve: oidSecp256k1,
		PublicKey:  asn1.BitString{Bytes: pub, BitLength: len(pub) * 8},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding SEC1 key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

// PublicJWK returns the public half of a signing key as a JWK map,
// ready to serve from a JWKS document. The jwx library only emits
// secp256k1 keys behind a build tag, so the five fields are assembled
// by hand.
func PublicJWK(key *secp256k1.PrivateKey, kid string) map[string]string {
	uncompressed := key.PubKey().SerializeUncompressed()
	return map[string]string{
		"kty": "EC",
		"crv": "secp256k1",
		"kid": kid,
		"x":   base64.RawURLEncoding.EncodeToString(uncompressed[1:33]),
		"y":   base64.RawURLEncoding.EncodeToString(uncompressed[33:65]),
	}
}
