package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"Skyview/internal/api/middleware"
	"Skyview/internal/atproto/auth"
	"Skyview/internal/atproto/identity"
	"Skyview/internal/atproto/pds"
	"Skyview/internal/session"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeResolver struct {
	handles map[string]string
	pds     map[string]string
}

func (f *fakeResolver) ResolveDID(context.Context, string) *identity.DIDDocument { return nil }

func (f *fakeResolver) ResolveDIDToPDS(_ context.Context, did string) string { return f.pds[did] }

func (f *fakeResolver) ResolveDIDToFeedGenerator(context.Context, string) string { return "" }

func (f *fakeResolver) ResolveDIDToHandle(context.Context, string) string { return "" }

func (f *fakeResolver) ResolveHandleToDID(_ context.Context, handle string) string {
	return f.handles[handle]
}

func (f *fakeResolver) VerifyHandle(context.Context, string, string) bool { return false }

func (f *fakeResolver) Purge(string) {}

func (f *fakeResolver) Stats() identity.CacheStats { return identity.CacheStats{} }

func newHandler(t *testing.T, resolver *fakeResolver) (*Handler, *session.Store) {
	t.Helper()

	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store, err := session.NewStore(rdb, []byte(testSecret), 0)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	signer, err := auth.NewServiceSigner("did:web:appview.test", "", []byte(testSecret))
	if err != nil {
		t.Fatalf("NewServiceSigner: %v", err)
	}
	proxy := auth.NewProxy(signer, pds.NewPool(1000))
	return NewHandler(proxy, store, resolver), store
}

func seedSession(t *testing.T, store *session.Store, pdsURL string) *session.Session {
	t.Helper()

	sess := &session.Session{
		DID:         "did:plc:alice",
		Handle:      "alice.test",
		PDSEndpoint: pdsURL,
		AccessJwt:   "access-1",
		RefreshJwt:  "refresh-1",
	}
	if _, err := store.Create(context.Background(), sess); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return sess
}

func TestCreateRecordProxiesWithToken(t *testing.T) {
	const record = `{"repo":"did:plc:alice","collection":"app.bsky.feed.post","record":{"text":"hi"}}`

	pdsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/xrpc/com.atproto.repo.createRecord" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer access-1" {
			t.Errorf("upstream auth = %q, want the access token", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("upstream content type = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != record {
			t.Errorf("upstream body = %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"uri":"at://did:plc:alice/app.bsky.feed.post/abc","cid":"bafy123"}`)
	}))
	defer pdsSrv.Close()

	h, store := newHandler(t, &fakeResolver{})
	sess := seedSession(t, store, pdsSrv.URL)

	req := httptest.NewRequest(http.MethodPost, "/xrpc/com.atproto.repo.createRecord", strings.NewReader(record))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(middleware.SetTestSession(req.Context(), sess))
	rec := httptest.NewRecorder()
	h.HandleCreateRecord(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "bafy123") {
		t.Errorf("response not relayed: %s", rec.Body.String())
	}
}

func TestCreateRecordRefreshOnce(t *testing.T) {
	var mu sync.Mutex
	createCalls, refreshCalls := 0, 0

	pdsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/xrpc/com.atproto.repo.createRecord":
			createCalls++
			if r.Header.Get("Authorization") != "Bearer access-2" {
				w.WriteHeader(http.StatusUnauthorized)
				fmt.Fprint(w, `{"error":"ExpiredToken","message":"Token has expired"}`)
				return
			}
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), `"text":"hi"`) {
				t.Errorf("retry lost the body: %s", body)
			}
			fmt.Fprint(w, `{"uri":"at://did:plc:alice/app.bsky.feed.post/abc","cid":"bafy123"}`)
		case "/xrpc/com.atproto.server.refreshSession":
			refreshCalls++
			fmt.Fprint(w, `{"did":"did:plc:alice","handle":"alice.test","accessJwt":"access-2","refreshJwt":"refresh-2"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer pdsSrv.Close()

	h, store := newHandler(t, &fakeResolver{})
	sess := seedSession(t, store, pdsSrv.URL)

	req := httptest.NewRequest(http.MethodPost, "/xrpc/com.atproto.repo.createRecord",
		strings.NewReader(`{"collection":"app.bsky.feed.post","record":{"text":"hi"}}`))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(middleware.SetTestSession(req.Context(), sess))
	rec := httptest.NewRecorder()
	h.HandleCreateRecord(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 after transparent refresh: %s", rec.Code, rec.Body.String())
	}
	mu.Lock()
	if createCalls != 2 || refreshCalls != 1 {
		t.Errorf("createRecord calls = %d, refresh calls = %d; want 2 and 1", createCalls, refreshCalls)
	}
	mu.Unlock()

	stored, err := store.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.AccessJwt != "access-2" || stored.RefreshJwt != "refresh-2" {
		t.Errorf("stored tokens = %q/%q, want rotated pair", stored.AccessJwt, stored.RefreshJwt)
	}
}

func TestCreateRecordRequiresSession(t *testing.T) {
	h, _ := newHandler(t, &fakeResolver{})

	req := httptest.NewRequest(http.MethodPost, "/xrpc/com.atproto.repo.createRecord", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.HandleCreateRecord(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestDeleteRecordUpstreamErrorVerbatim(t *testing.T) {
	pdsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"InvalidSwap","message":"Record was at bafyold"}`)
	}))
	defer pdsSrv.Close()

	h, store := newHandler(t, &fakeResolver{})
	sess := seedSession(t, store, pdsSrv.URL)

	req := httptest.NewRequest(http.MethodPost, "/xrpc/com.atproto.repo.deleteRecord",
		strings.NewReader(`{"collection":"app.bsky.feed.post","rkey":"abc"}`))
	req = req.WithContext(middleware.SetTestSession(req.Context(), sess))
	rec := httptest.NewRecorder()
	h.HandleDeleteRecord(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want the upstream 400", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshaling body: %v", err)
	}
	if body["error"] != "InvalidSwap" || body["message"] != "Record was at bafyold" {
		t.Errorf("upstream error not relayed verbatim: %v", body)
	}
}

func TestGetRecordRoutesToTargetPDS(t *testing.T) {
	pdsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/xrpc/com.atproto.repo.getRecord" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("public read carried auth %q", got)
		}
		q := r.URL.Query()
		if q.Get("repo") != "bob.test" || q.Get("collection") != "app.bsky.feed.post" || q.Get("rkey") != "3kabc" {
			t.Errorf("query not forwarded: %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"uri":"at://did:plc:bob/app.bsky.feed.post/3kabc","value":{"text":"hello"}}`)
	}))
	defer pdsSrv.Close()

	h, _ := newHandler(t, &fakeResolver{
		handles: map[string]string{"bob.test": "did:plc:bob"},
		pds:     map[string]string{"did:plc:bob": pdsSrv.URL},
	})

	req := httptest.NewRequest(http.MethodGet,
		"/xrpc/com.atproto.repo.getRecord?repo=bob.test&collection=app.bsky.feed.post&rkey=3kabc", nil)
	rec := httptest.NewRecorder()
	h.HandleGetRecord(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"text":"hello"`) {
		t.Errorf("record not relayed: %s", rec.Body.String())
	}
}

func TestGetRecordMissingParams(t *testing.T) {
	h, _ := newHandler(t, &fakeResolver{})

	req := httptest.NewRequest(http.MethodGet, "/xrpc/com.atproto.repo.getRecord?repo=did:plc:bob", nil)
	rec := httptest.NewRecorder()
	h.HandleGetRecord(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetRecordUnresolvableRepo(t *testing.T) {
	h, _ := newHandler(t, &fakeResolver{})

	req := httptest.NewRequest(http.MethodGet,
		"/xrpc/com.atproto.repo.getRecord?repo=ghost.test&collection=app.bsky.feed.post&rkey=1", nil)
	rec := httptest.NewRecorder()
	h.HandleGetRecord(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListRecordsForwardsPaging(t *testing.T) {
	pdsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("limit") != "25" || q.Get("cursor") != "page2" {
			t.Errorf("paging not forwarded: %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"records":[],"cursor":""}`)
	}))
	defer pdsSrv.Close()

	h, _ := newHandler(t, &fakeResolver{pds: map[string]string{"did:plc:bob": pdsSrv.URL}})

	req := httptest.NewRequest(http.MethodGet,
		"/xrpc/com.atproto.repo.listRecords?repo=did:plc:bob&collection=app.bsky.graph.follow&limit=25&cursor=page2", nil)
	rec := httptest.NewRecorder()
	h.HandleListRecords(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}
