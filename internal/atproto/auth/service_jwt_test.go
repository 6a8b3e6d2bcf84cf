package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/asn1"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

func writeTempKey(t *testing.T) (string, *secp256k1.PrivateKey) {
	t.Helper()
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	pemBytes, err := MarshalPrivateKeyPEM(key)
	if err != nil {
		t.Fatalf("marshaling key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "service.key")
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		t.Fatalf("writing key: %v", err)
	}
	return path, key
}

func decodeSegment(t *testing.T, seg string, v interface{}) {
	t.Helper()
	raw, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		t.Fatalf("decoding segment: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("parsing segment: %v", err)
	}
}

func TestServiceTokenES256K(t *testing.T) {
	path, key := writeTempKey(t)
	signer, err := NewServiceSigner("did:web:appview.example.com", path, nil)
	if err != nil {
		t.Fatalf("NewServiceSigner: %v", err)
	}
	if got := signer.Algorithm(); got != AlgorithmES256K {
		t.Fatalf("Algorithm() = %q, want ES256K", got)
	}

	token, err := signer.Sign("did:web:pds.example.com", "did:plc:alice")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d segments, want 3", len(parts))
	}

	var header serviceTokenHeader
	decodeSegment(t, parts[0], &header)
	if header.Alg != AlgorithmES256K || header.Typ != "JWT" || header.Kid != ServiceKeyID {
		t.Fatalf("unexpected header %+v", header)
	}

	var payload serviceTokenPayload
	decodeSegment(t, parts[1], &payload)
	if payload.Iss != "did:web:appview.example.com" {
		t.Errorf("iss = %q", payload.Iss)
	}
	if payload.Aud != "did:web:pds.example.com" {
		t.Errorf("aud = %q", payload.Aud)
	}
	if payload.Sub != "did:plc:alice" {
		t.Errorf("sub = %q", payload.Sub)
	}
	if got := payload.Exp - payload.Iat; got != int64(serviceTokenTTL.Seconds()) {
		t.Errorf("token lifetime = %ds, want %v", got, serviceTokenTTL)
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		t.Fatalf("decoding signature: %v", err)
	}
	if len(sig) != 64 {
		t.Fatalf("signature is %d bytes, want 64", len(sig))
	}

	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(sig[:32]); overflow {
		t.Fatal("signature R overflows the curve order")
	}
	if overflow := s.SetByteSlice(sig[32:]); overflow {
		t.Fatal("signature S overflows the curve order")
	}
	if s.IsOverHalfOrder() {
		t.Error("signature S is not canonical low-S")
	}
	digest := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	if !ecdsa.NewSignature(&r, &s).Verify(digest[:], key.PubKey()) {
		t.Fatal("signature does not verify against the signing key")
	}
}

func TestServiceTokenHS256Fallback(t *testing.T) {
	secret := []byte("shared-secret")
	signer, err := NewServiceSigner("did:web:appview.example.com", "", secret)
	if err != nil {
		t.Fatalf("NewServiceSigner: %v", err)
	}
	if got := signer.Algorithm(); got != AlgorithmHS256 {
		t.Fatalf("Algorithm() = %q, want HS256", got)
	}
	if signer.PublicKey() != nil {
		t.Fatal("HS256 signer should report no public key")
	}

	token, err := signer.Sign("did:web:pds.example.com", "")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d segments, want 3", len(parts))
	}

	var header serviceTokenHeader
	decodeSegment(t, parts[0], &header)
	if header.Alg != AlgorithmHS256 || header.Kid != ServiceKeyID {
		t.Fatalf("unexpected header %+v", header)
	}

	var payload serviceTokenPayload
	decodeSegment(t, parts[1], &payload)
	if payload.Sub != "" {
		t.Errorf("sub should be omitted, got %q", payload.Sub)
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		t.Fatalf("decoding signature: %v", err)
	}
	want := hmacSHA256(parts[0]+"."+parts[1], secret)
	if !hmac.Equal(sig, want) {
		t.Fatal("HMAC signature mismatch")
	}
}

func TestServiceSignerConfigErrors(t *testing.T) {
	path, _ := writeTempKey(t)

	if _, err := NewServiceSigner("", path, nil); err == nil {
		t.Error("expected error for missing issuer")
	}
	if _, err := NewServiceSigner("did:web:appview.example.com", "", nil); err == nil {
		t.Error("expected error with neither key nor secret")
	}
	if _, err := NewServiceSigner("did:web:appview.example.com", filepath.Join(t.TempDir(), "missing.key"), nil); err == nil {
		t.Error("expected error for unreadable key file")
	}

	signer, err := NewServiceSigner("did:web:appview.example.com", path, nil)
	if err != nil {
		t.Fatalf("NewServiceSigner: %v", err)
	}
	if _, err := signer.Sign("", ""); err == nil {
		t.Error("expected error for empty audience")
	}
}

func TestParsePrivateKeyPEMRoundTrip(t *testing.T) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	pemBytes, err := MarshalPrivateKeyPEM(key)
	if err != nil {
		t.Fatalf("marshaling: %v", err)
	}

	parsed, err := ParsePrivateKeyPEM(pemBytes)
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if !bytes.Equal(parsed.Serialize(), key.Serialize()) {
		t.Fatal("round-tripped key differs")
	}
}

func TestParsePrivateKeyPEMPKCS8(t *testing.T) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	inner, err := asn1.Marshal(sec1PrivateKey{
		Version:    1,
		PrivateKey: key.Serialize(),
		NamedCurve: oidSecp256k1,
		PublicKey:  asn1.BitString{Bytes: key.PubKey().SerializeUncompressed(), BitLength: 65 * 8},
	})
	if err != nil {
		t.Fatalf("encoding inner key: %v", err)
	}
	der, err := asn1.Marshal(pkcs8PrivateKey{
		Version:   0,
		Algorithm: pkixAlgorithm{Algorithm: oidECPublicKey, Parameters: oidSecp256k1},
		KeyData:   inner,
	})
	if err != nil {
		t.Fatalf("encoding PKCS#8: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	parsed, err := ParsePrivateKeyPEM(pemBytes)
	if err != nil {
		t.Fatalf("parsing PKCS#8: %v", err)
	}
	if !bytes.Equal(parsed.Serialize(), key.Serialize()) {
		t.Fatal("PKCS#8 key differs")
	}
}

func TestParsePrivateKeyPEMRejectsGarbage(t *testing.T) {
	if _, err := ParsePrivateKeyPEM([]byte("not a pem")); err == nil {
		t.Error("expected error for non-PEM input")
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{0x30, 0x00}})
	if _, err := ParsePrivateKeyPEM(block); err == nil {
		t.Error("expected error for unsupported block type")
	}
}

func TestPublicJWK(t *testing.T) {
	_, key := writeTempKey(t)
	jwkMap := PublicJWK(key, ServiceKeyID)

	if jwkMap["kty"] != "EC" || jwkMap["crv"] != "secp256k1" || jwkMap["kid"] != ServiceKeyID {
		t.Fatalf("unexpected JWK fields: %v", jwkMap)
	}
	x, err := base64.RawURLEncoding.DecodeString(jwkMap["x"])
	if err != nil {
		t.Fatalf("decoding x: %v", err)
	}
	y, err := base64.RawURLEncoding.DecodeString(jwkMap["y"])
	if err != nil {
		t.Fatalf("decoding y: %v", err)
	}
	point := append(append([]byte{0x04}, x...), y...)
	pub, err := secp256k1.ParsePubKey(point)
	if err != nil {
		t.Fatalf("reassembling public key: %v", err)
	}
	if !pub.IsEqual(key.PubKey()) {
		t.Fatal("JWK coordinates do not match the signing key")
	}
}
