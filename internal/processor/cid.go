package processor

import (
	"encoding/base64"
	"encoding/json"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// ExtractCID pulls a content hash out of a blob or link field. Clients
// and decoders render these half a dozen ways: a bare string, the
// lexicon-JSON {"$link": ...}, DAG-JSON {"/": ...}, a blob wrapper
// {"ref": ..., "mimeType": ...}, the legacy {"cid": ...} blob, or a
// CID exploded into its {version, code, multihash} parts. Whatever
// comes in, the result is the canonical string rendering, or "" when
// no valid CID is present.
func ExtractCID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return canonicalCID(extractCIDValue(v))
}

func extractCIDValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		// Some web clients serialize a missing blob as the literal
		// string "undefined".
		if val == "" || val == "undefined" {
			return ""
		}
		return val
	case map[string]interface{}:
		if s, ok := val["$link"].(string); ok {
			return s
		}
		if s, ok := val["/"].(string); ok {
			return s
		}
		if ref, ok := val["ref"]; ok {
			return extractCIDValue(ref)
		}
		if s, ok := val["cid"].(string); ok {
			return s
		}
		return rebuildCID(val)
	}
	return ""
}

// rebuildCID reassembles a CID that an upstream decoder exploded into
// {version, code, multihash: {code, digest}} form.
func rebuildCID(val map[string]interface{}) string {
	codec, ok := numberField(val, "code", "codec")
	if !ok {
		return ""
	}
	inner, ok := val["multihash"].(map[string]interface{})
	if !ok {
		if inner, ok = val["hash"].(map[string]interface{}); !ok {
			return ""
		}
	}
	hashCode, ok := numberField(inner, "code")
	if !ok {
		return ""
	}
	digest := bytesField(inner, "digest")
	if len(digest) == 0 {
		return ""
	}
	encoded, err := mh.Encode(digest, hashCode)
	if err != nil {
		return ""
	}
	return cid.NewCidV1(codec, encoded).String()
}

func numberField(m map[string]interface{}, names ...string) (uint64, bool) {
	for _, name := range names {
		if f, ok := m[name].(float64); ok {
			return uint64(f), true
		}
	}
	return 0, false
}

// bytesField accepts the digest as a base64 string, a DAG-JSON or
// lexicon bytes object, or a plain array of byte values.
func bytesField(m map[string]interface{}, name string) []byte {
	switch d := m[name].(type) {
	case string:
		return decodeBase64(d)
	case map[string]interface{}:
		if s, ok := d["bytes"].(string); ok {
			return decodeBase64(s)
		}
		if s, ok := d["$bytes"].(string); ok {
			return decodeBase64(s)
		}
		if inner, ok := d["/"].(map[string]interface{}); ok {
			if s, ok := inner["bytes"].(string); ok {
				return decodeBase64(s)
			}
		}
	case []interface{}:
		b := make([]byte, 0, len(d))
		for _, x := range d {
			f, ok := x.(float64)
			if !ok {
				return nil
			}
			b = append(b, byte(f))
		}
		return b
	}
	return nil
}

func decodeBase64(s string) []byte {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b
		}
	}
	return nil
}

// canonicalCID round-trips through cid.Decode so every accepted input
// form comes out rendered the same way and garbage comes out empty.
func canonicalCID(s string) string {
	if s == "" {
		return ""
	}
	c, err := cid.Decode(s)
	if err != nil {
		return ""
	}
	return c.String()
}
