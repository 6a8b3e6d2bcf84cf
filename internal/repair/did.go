package repair

import (
	"regexp"
	"strings"
)

// didPattern accepts any did:<method>:<identifier> shape. Method-specific
// validation happens at fetch time, where only plc and web are repairable.
var didPattern = regexp.MustCompile(`^did:[a-z]+:[a-zA-Z0-9._:%-]+$`)

// SanitizeDID normalizes a DID that arrived mangled off the wire: embedded
// whitespace, doubled colons from sloppy string building, and trailing
// punctuation from log scraping all show up in real firehose traffic.
// Returns the cleaned DID, which may still fail ValidDID if the input was
// beyond saving.
func SanitizeDID(did string) string {
	if did == "" {
		return ""
	}
	cleaned := strings.NewReplacer(" ", "", "\t", "", "\n", "", "\r", "").Replace(did)

	// Collapse duplicate colons ("did::plc:x" → "did:plc:x").
	parts := strings.Split(cleaned, ":")
	kept := parts[:0]
	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}
	cleaned = strings.Join(kept, ":")

	if !strings.HasPrefix(cleaned, "did:") {
		cleaned = "did:" + cleaned
	}
	cleaned = strings.TrimRight(cleaned, ":;,._-")
	return cleaned
}

// ValidDID reports whether a sanitized DID has a syntactically plausible
// did:<method>:<id> shape.
func ValidDID(did string) bool {
	return didPattern.MatchString(did)
}

// Repairable reports whether the DID's method is one we can fetch records
// for. Only plc and web DIDs resolve to a PDS endpoint.
func Repairable(did string) bool {
	return strings.HasPrefix(did, "did:plc:") || strings.HasPrefix(did, "did:web:")
}
