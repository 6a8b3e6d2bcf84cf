package processor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Lexicon collections the processor stores natively. Anything else
// lands in the generic record table or is skipped.
const (
	collectionPost       = "app.bsky.feed.post"
	collectionLike       = "app.bsky.feed.like"
	collectionRepost     = "app.bsky.feed.repost"
	collectionThreadGate = "app.bsky.feed.threadgate"
	collectionFeedGen    = "app.bsky.feed.generator"
	collectionFollow     = "app.bsky.graph.follow"
	collectionBlock      = "app.bsky.graph.block"
	collectionList       = "app.bsky.graph.list"
	collectionListItem   = "app.bsky.graph.listitem"
	collectionProfile    = "app.bsky.actor.profile"
)

// strongRef is a lexicon com.atproto.repo.strongRef: a record URI
// pinned to a specific version by CID.
type strongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type replyRefs struct {
	Parent *strongRef `json:"parent"`
	Root   *strongRef `json:"root"`
}

type selfLabels struct {
	Values []struct {
		Val string `json:"val"`
	} `json:"values"`
}

func (l *selfLabels) values() []string {
	if l == nil || len(l.Values) == 0 {
		return nil
	}
	vals := make([]string, 0, len(l.Values))
	for _, v := range l.Values {
		if v.Val != "" {
			vals = append(vals, v.Val)
		}
	}
	return vals
}

type postRecord struct {
	Text      string          `json:"text"`
	Reply     *replyRefs      `json:"reply,omitempty"`
	Embed     json.RawMessage `json:"embed,omitempty"`
	Langs     []string        `json:"langs,omitempty"`
	Labels    *selfLabels     `json:"labels,omitempty"`
	Tags      []string        `json:"tags,omitempty"`
	CreatedAt string          `json:"createdAt"`
}

func parsePostRecord(raw json.RawMessage) (*postRecord, error) {
	var rec postRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding post record: %w", err)
	}
	if rec.CreatedAt == "" {
		return nil, fmt.Errorf("post record missing createdAt")
	}
	return &rec, nil
}

// subjectRecord covers likes and reposts, which share a shape: a
// strong ref to the subject plus a timestamp.
type subjectRecord struct {
	Subject   *strongRef `json:"subject"`
	CreatedAt string     `json:"createdAt"`
}

func parseSubjectRecord(raw json.RawMessage) (*subjectRecord, error) {
	var rec subjectRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	if rec.Subject == nil || rec.Subject.URI == "" {
		return nil, fmt.Errorf("record missing subject uri")
	}
	return &rec, nil
}

// didSubjectRecord covers follows and blocks: the subject is a bare DID.
type didSubjectRecord struct {
	Subject   string `json:"subject"`
	CreatedAt string `json:"createdAt"`
}

func parseDIDSubjectRecord(raw json.RawMessage) (*didSubjectRecord, error) {
	var rec didSubjectRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	if rec.Subject == "" {
		return nil, fmt.Errorf("record missing subject did")
	}
	if !strings.HasPrefix(rec.Subject, "did:") {
		return nil, fmt.Errorf("record subject %q is not a did", rec.Subject)
	}
	return &rec, nil
}

type listRecord struct {
	Purpose     string          `json:"purpose"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Avatar      json.RawMessage `json:"avatar,omitempty"`
	CreatedAt   string          `json:"createdAt"`
}

func parseListRecord(raw json.RawMessage) (*listRecord, error) {
	var rec listRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding list record: %w", err)
	}
	if rec.Name == "" {
		return nil, fmt.Errorf("list record missing name")
	}
	return &rec, nil
}

type listItemRecord struct {
	Subject   string `json:"subject"`
	List      string `json:"list"`
	CreatedAt string `json:"createdAt"`
}

func parseListItemRecord(raw json.RawMessage) (*listItemRecord, error) {
	var rec listItemRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding listitem record: %w", err)
	}
	if rec.Subject == "" || rec.List == "" {
		return nil, fmt.Errorf("listitem record missing subject or list")
	}
	return &rec, nil
}

// threadGateRecord limits who may reply to a post. Allow rules are a
// union; the fragment on $type picks the variant.
type threadGateRecord struct {
	Post  string `json:"post,omitempty"`
	Allow []struct {
		Type string `json:"$type"`
		List string `json:"list,omitempty"`
	} `json:"allow,omitempty"`
	CreatedAt string `json:"createdAt"`
}

func parseThreadGateRecord(raw json.RawMessage) (*threadGateRecord, error) {
	var rec threadGateRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding threadgate record: %w", err)
	}
	return &rec, nil
}

type profileRecord struct {
	DisplayName string          `json:"displayName,omitempty"`
	Description string          `json:"description,omitempty"`
	Avatar      json.RawMessage `json:"avatar,omitempty"`
	Banner      json.RawMessage `json:"banner,omitempty"`
	PinnedPost  *strongRef      `json:"pinnedPost,omitempty"`
}

func parseProfileRecord(raw json.RawMessage) (*profileRecord, error) {
	var rec profileRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding profile record: %w", err)
	}
	return &rec, nil
}

type generatorRecord struct {
	DID         string          `json:"did"`
	DisplayName string          `json:"displayName"`
	Description string          `json:"description,omitempty"`
	Avatar      json.RawMessage `json:"avatar,omitempty"`
	CreatedAt   string          `json:"createdAt"`
}

func parseGeneratorRecord(raw json.RawMessage) (*generatorRecord, error) {
	var rec generatorRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding generator record: %w", err)
	}
	if rec.DID == "" {
		return nil, fmt.Errorf("generator record missing service did")
	}
	return &rec, nil
}

// parseCreatedAt is lenient: user clients emit every RFC 3339 shape
// and sometimes garbage. Unparseable timestamps fall back to now so a
// bad clock never rejects the record.
func parseCreatedAt(value string) time.Time {
	if value == "" {
		return time.Now().UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC()
		}
	}
	slog.Debug("unparseable createdAt, using current time", "value", value)
	return time.Now().UTC()
}

// embedSummary reduces an embed union to the type fragment and, where
// the variant carries one, the embedded record's URI.
func embedSummary(raw json.RawMessage) (embedType, embedURI string) {
	if len(raw) == 0 {
		return "", ""
	}
	var embed struct {
		Type   string          `json:"$type"`
		Record json.RawMessage `json:"record,omitempty"`
	}
	if err := json.Unmarshal(raw, &embed); err != nil || embed.Type == "" {
		return "", ""
	}
	embedType = embed.Type
	if len(embed.Record) > 0 {
		// app.bsky.embed.record holds a strongRef; recordWithMedia
		// nests the strongRef one level deeper under record.record.
		var ref strongRef
		if err := json.Unmarshal(embed.Record, &ref); err == nil && ref.URI != "" {
			return embedType, ref.URI
		}
		var nested struct {
			Record strongRef `json:"record"`
		}
		if err := json.Unmarshal(embed.Record, &nested); err == nil && nested.Record.URI != "" {
			return embedType, nested.Record.URI
		}
	}
	return embedType, ""
}
