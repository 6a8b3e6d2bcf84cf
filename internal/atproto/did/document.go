// Package did builds the AppView's own did:web identity document.
// PDS hosts and feed generators verify our service tokens by
// resolving this document and checking the #atproto key, the mirror
// image of what we do with theirs.
package did

import (
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/mr-tron/base58"

	"Skyview/internal/atproto/identity"
)

const (
	appviewServiceID   = "#bsky_appview"
	appviewServiceType = "BskyAppView"

	signingKeyFragment = "#atproto"
)

// WebDocument assembles the DID document for a did:web AppView
// identity. pub is the ES256K signing key's public half; nil (the
// HS256 fallback) publishes a document without a verificationMethod,
// which still lets callers discover the service endpoint.
func WebDocument(appviewDID string, pub *secp256k1.PublicKey) (*identity.DIDDocument, error) {
	endpoint, err := EndpointForWebDID(appviewDID)
	if err != nil {
		return nil, err
	}

	doc := &identity.DIDDocument{
		Context: []string{
			"https://www.w3.org/ns/did/v1",
			"https://w3id.org/security/multikey/v1",
		},
		ID: appviewDID,
		Service: []identity.Service{{
			ID:              appviewServiceID,
			Type:            appviewServiceType,
			ServiceEndpoint: endpoint,
		}},
	}
	if pub != nil {
		doc.VerificationMethod = []identity.VerificationMethod{{
			ID:                 appviewDID + signingKeyFragment,
			Type:               "Multikey",
			Controller:         appviewDID,
			PublicKeyMultibase: MultibaseK256(pub),
		}}
	}
	return doc, nil
}

// EndpointForWebDID derives the HTTPS origin a did:web identifier
// names: "did:web:appview.example" serves from
// "https://appview.example". Percent-encoded colons carry ports, and
// further colon-separated segments become path segments.
func EndpointForWebDID(did string) (string, error) {
	rest, ok := strings.CutPrefix(did, "did:web:")
	if !ok || rest == "" {
		return "", fmt.Errorf("%q is not a did:web identifier", did)
	}
	host, path, _ := strings.Cut(rest, ":")
	host = strings.ReplaceAll(host, "%3A", ":")
	if path != "" {
		return "https://" + host + "/" + strings.ReplaceAll(path, ":", "/"), nil
	}
	return "https://" + host, nil
}

// multicodec prefix for a secp256k1 compressed public key (0xe7 as a
// varint), per the atproto cryptography spec.
var multicodecSecp256k1 = []byte{0xe7, 0x01}

// MultibaseK256 encodes a secp256k1 public key in the did:key
// multibase form atproto documents use: base58btc over the multicodec
// prefix plus the 33-byte compressed point, with a "z" prefix.
func MultibaseK256(pub *secp256k1.PublicKey) string {
	compressed := pub.SerializeCompressed()
	return "z" + base58.Encode(append(multicodecSecp256k1, compressed...))
}
