// Package pds is the outbound XRPC layer for talking to personal data
// servers. The repair worker fetches missing records through it, the
// auth proxy drives the session endpoints with it, and every caller
// talking to the same host shares one rate limit so a backlog drain
// cannot hammer a third-party PDS.
package pds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/xrpc"
	"golang.org/x/time/rate"
)

const (
	// DefaultRequestsPerSecond bounds outbound calls per PDS host.
	DefaultRequestsPerSecond = 10

	requestTimeout = 30 * time.Second

	// maxListLimit is the protocol ceiling for listRecords pages.
	maxListLimit = 100
)

// Record is one record fetched from a PDS. Value stays raw JSON so
// records of collections outside the registered lexicons survive the
// trip into the event processor unchanged.
type Record struct {
	URI   string
	CID   string
	Value json.RawMessage
}

// ListRecordsResult is one page of a collection listing. An empty
// Cursor means the listing is exhausted.
type ListRecordsResult struct {
	Records []Record
	Cursor  string
}

// Session is the subset of the com.atproto.server session responses
// the AppView stores or forwards. getSession responses carry no
// tokens; AccessJwt/RefreshJwt are empty there.
type Session struct {
	DID        string
	Handle     string
	Email      string
	AccessJwt  string
	RefreshJwt string
	Active     bool
	Status     string
}

// Client talks XRPC to a single PDS host. Safe for concurrent use.
type Client struct {
	host    string
	httpc   *http.Client
	limiter *rate.Limiter
}

// NewClient builds a standalone client for one host with the default
// rate limit. Components that talk to many hosts should share a Pool
// instead so limits are enforced per host across the process.
func NewClient(host string) *Client {
	return newClient(host,
		&http.Client{Timeout: requestTimeout},
		rate.NewLimiter(DefaultRequestsPerSecond, DefaultRequestsPerSecond))
}

func newClient(host string, httpc *http.Client, limiter *rate.Limiter) *Client {
	return &Client{host: strings.TrimRight(host, "/"), httpc: httpc, limiter: limiter}
}

// Host returns the PDS host URL this client is bound to.
func (c *Client) Host() string {
	return c.host
}

// xrpcClient builds the per-call indigo client. xrpc.Client carries
// auth state in a struct field, so a fresh value per call keeps
// concurrent callers with different tokens from racing; the underlying
// http.Client is shared.
func (c *Client) xrpcClient(auth *xrpc.AuthInfo) *xrpc.Client {
	return &xrpc.Client{Host: c.host, Client: c.httpc, Auth: auth}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// GetRecord fetches a single record from the host. The generated
// RepoGetRecord bindings reject $types outside the registered
// lexicons, so this goes through Do with a raw-JSON value instead.
func (c *Client) GetRecord(ctx context.Context, repo, collection, rkey string) (*Record, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	params := map[string]interface{}{
		"repo":       repo,
		"collection": collection,
		"rkey":       rkey,
	}
	var out struct {
		URI   string          `json:"uri"`
		CID   string          `json:"cid"`
		Value json.RawMessage `json:"value"`
	}
	if err := c.xrpcClient(nil).Do(ctx, xrpc.Query, "", "com.atproto.repo.getRecord", params, nil, &out); err != nil {
		return nil, wrapXRPCError(err, "getRecord")
	}
	if out.URI == "" || len(out.Value) == 0 {
		return nil, fmt.Errorf("getRecord: response missing uri or value")
	}
	return &Record{URI: out.URI, CID: out.CID, Value: out.Value}, nil
}

// ListRecords returns one page of a repo collection. A limit outside
// (0, 100] is clamped to the protocol maximum.
func (c *Client) ListRecords(ctx context.Context, repo, collection string, limit int, cursor string) (*ListRecordsResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	params := map[string]interface{}{
		"repo":       repo,
		"collection": collection,
		"limit":      limit,
	}
	if cursor != "" {
		params["cursor"] = cursor
	}

	var out struct {
		Cursor  string `json:"cursor"`
		Records []struct {
			URI   string          `json:"uri"`
			CID   string          `json:"cid"`
			Value json.RawMessage `json:"value"`
		} `json:"records"`
	}
	if err := c.xrpcClient(nil).Do(ctx, xrpc.Query, "", "com.atproto.repo.listRecords", params, nil, &out); err != nil {
		return nil, wrapXRPCError(err, "listRecords")
	}

	result := &ListRecordsResult{
		Cursor:  out.Cursor,
		Records: make([]Record, len(out.Records)),
	}
	for i, rec := range out.Records {
		result.Records[i] = Record{URI: rec.URI, CID: rec.CID, Value: rec.Value}
	}
	return result, nil
}

// CreateSession logs in with an identifier (handle or email) and
// password and returns the fresh token pair.
func (c *Client) CreateSession(ctx context.Context, identifier, password string) (*Session, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	out, err := comatproto.ServerCreateSession(ctx, c.xrpcClient(nil), &comatproto.ServerCreateSession_Input{
		Identifier: identifier,
		Password:   password,
	})
	if err != nil {
		return nil, wrapXRPCError(err, "createSession")
	}
	if out.AccessJwt == "" || out.RefreshJwt == "" {
		return nil, fmt.Errorf("createSession: response missing tokens")
	}

	sess := &Session{
		DID:        out.Did,
		Handle:     out.Handle,
		AccessJwt:  out.AccessJwt,
		RefreshJwt: out.RefreshJwt,
		Active:     true,
	}
	if out.Email != nil {
		sess.Email = *out.Email
	}
	if out.Active != nil {
		sess.Active = *out.Active
	}
	if out.Status != nil {
		sess.Status = *out.Status
	}
	return sess, nil
}

// RefreshSession rotates the token pair. The refresh JWT authenticates
// the call; indigo routes it into the Authorization header for this
// particular endpoint.
func (c *Client) RefreshSession(ctx context.Context, refreshJwt string) (*Session, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	auth := &xrpc.AuthInfo{AccessJwt: refreshJwt, RefreshJwt: refreshJwt}
	out, err := comatproto.ServerRefreshSession(ctx, c.xrpcClient(auth))
	if err != nil {
		return nil, wrapXRPCError(err, "refreshSession")
	}
	if out.AccessJwt == "" || out.RefreshJwt == "" {
		return nil, fmt.Errorf("refreshSession: response missing tokens")
	}

	sess := &Session{
		DID:        out.Did,
		Handle:     out.Handle,
		AccessJwt:  out.AccessJwt,
		RefreshJwt: out.RefreshJwt,
		Active:     true,
	}
	if out.Active != nil {
		sess.Active = *out.Active
	}
	if out.Status != nil {
		sess.Status = *out.Status
	}
	return sess, nil
}

// GetSession validates an access token against the host and returns
// the account it belongs to.
func (c *Client) GetSession(ctx context.Context, accessJwt string) (*Session, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	out, err := comatproto.ServerGetSession(ctx, c.xrpcClient(&xrpc.AuthInfo{AccessJwt: accessJwt}))
	if err != nil {
		return nil, wrapXRPCError(err, "getSession")
	}

	sess := &Session{
		DID:    out.Did,
		Handle: out.Handle,
		Active: true,
	}
	if out.Email != nil {
		sess.Email = *out.Email
	}
	if out.Active != nil {
		sess.Active = *out.Active
	}
	if out.Status != nil {
		sess.Status = *out.Status
	}
	return sess, nil
}
