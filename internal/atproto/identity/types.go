package identity

// DIDDocument is the subset of a resolved DID document the AppView
// consumes: aliases for handle verification, service entries for
// endpoint discovery, and verification methods for checking
// inter-service token signatures.
type DIDDocument struct {
	Context            []string             `json:"@context,omitempty"`
	ID                 string               `json:"id"`
	AlsoKnownAs        []string             `json:"alsoKnownAs,omitempty"`
	VerificationMethod []VerificationMethod `json:"verificationMethod,omitempty"`
	Service            []Service            `json:"service,omitempty"`
}

// VerificationMethod is a public key published in a DID document.
type VerificationMethod struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Controller         string `json:"controller,omitempty"`
	PublicKeyMultibase string `json:"publicKeyMultibase,omitempty"`
}

// Service represents a service entry in a DID document
type Service struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// Service identifiers and types recognized when extracting endpoints.
// Both the fragment id and the type string are accepted because PDS
// implementations disagree on capitalization.
const (
	serviceIDPDS     = "#atproto_pds"
	serviceIDFeedGen = "#bsky_fg"

	serviceTypePDS       = "AtprotoPersonalDataServer"
	serviceTypePDSCompat = "AtProtoPersonalDataServer"
	serviceTypeFeedGen   = "BskyFeedGenerator"
)

// PDSEndpoint returns the personal data server endpoint, or "" when the
// document carries no PDS service entry.
func (d *DIDDocument) PDSEndpoint() string {
	return d.endpoint(serviceIDPDS, serviceTypePDS, serviceTypePDSCompat)
}

// FeedGeneratorEndpoint returns the feed generator endpoint, or "" when
// the document carries no feed generator service entry.
func (d *DIDDocument) FeedGeneratorEndpoint() string {
	return d.endpoint(serviceIDFeedGen, serviceTypeFeedGen)
}

// signingKeyID is the verification method fragment naming the repo
// signing key, the key inter-service tokens are signed with.
const signingKeyID = "#atproto"

// SigningKeyMultibase returns the multibase form of the account's
// repo signing key, or "" when the document publishes none.
func (d *DIDDocument) SigningKeyMultibase() string {
	if d == nil {
		return ""
	}
	for _, vm := range d.VerificationMethod {
		if vm.ID == signingKeyID || hasFragment(vm.ID, signingKeyID) {
			return vm.PublicKeyMultibase
		}
	}
	return ""
}

func (d *DIDDocument) endpoint(fragmentID string, types ...string) string {
	if d == nil {
		return ""
	}
	for _, svc := range d.Service {
		if svc.ID == fragmentID || hasFragment(svc.ID, fragmentID) {
			return svc.ServiceEndpoint
		}
		for _, t := range types {
			if svc.Type == t {
				return svc.ServiceEndpoint
			}
		}
	}
	return ""
}

// hasFragment matches fully qualified service ids like
// "did:plc:abc#atproto_pds" against the bare fragment.
func hasFragment(id, fragment string) bool {
	if len(id) <= len(fragment) {
		return false
	}
	return id[len(id)-len(fragment):] == fragment
}

// CacheStats reports resolver cache effectiveness for metrics and the
// periodic stats log line.
type CacheStats struct {
	DocHits       uint64 `json:"docHits"`
	DocMisses     uint64 `json:"docMisses"`
	HandleHits    uint64 `json:"handleHits"`
	HandleMisses  uint64 `json:"handleMisses"`
	DocEntries    int    `json:"docEntries"`
	HandleEntries int    `json:"handleEntries"`
	Failures      uint64 `json:"failures"`
}
