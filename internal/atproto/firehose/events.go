package firehose

import (
	"encoding/json"
	"strings"
)

// Event is the decoded form of one relay frame, pushed onto the durable
// log as JSON. Exactly one of Commit, Identity, Account is set,
// matching Kind.
type Event struct {
	Kind     string         `json:"kind"` // commit, identity or account
	Seq      int64          `json:"seq"`
	Did      string         `json:"did"`
	Time     string         `json:"time,omitempty"`
	Commit   *CommitData    `json:"commit,omitempty"`
	Identity *IdentityEvent `json:"identity,omitempty"`
	Account  *AccountEvent  `json:"account,omitempty"`
}

// CommitData carries the operations of one repository commit.
type CommitData struct {
	Rev string     `json:"rev,omitempty"`
	Ops []CommitOp `json:"ops"`
}

// CommitOp is a single create/update/delete against a record path.
// Record is the DAG-JSON rendering of the record block when the frame
// carried it; nil otherwise (deletes, or commits too large to inline).
type CommitOp struct {
	Action string          `json:"action"`
	Path   string          `json:"path"` // <collection>/<rkey>
	CID    string          `json:"cid,omitempty"`
	Record json.RawMessage `json:"record,omitempty"`
}

// Collection returns the NSID portion of the op's path.
func (op CommitOp) Collection() string {
	if i := strings.IndexByte(op.Path, '/'); i > 0 {
		return op.Path[:i]
	}
	return op.Path
}

// RKey returns the record key portion of the op's path.
func (op CommitOp) RKey() string {
	if i := strings.IndexByte(op.Path, '/'); i >= 0 && i+1 < len(op.Path) {
		return op.Path[i+1:]
	}
	return ""
}

// URI builds the at:// URI for this op within the given repo.
func (op CommitOp) URI(repo string) string {
	return "at://" + repo + "/" + op.Path
}

// IdentityEvent reports a handle or DID document change.
type IdentityEvent struct {
	Did    string `json:"did"`
	Handle string `json:"handle,omitempty"`
}

// AccountEvent reports an account becoming active or inactive.
type AccountEvent struct {
	Did    string `json:"did"`
	Active bool   `json:"active"`
	Status string `json:"status,omitempty"`
}
