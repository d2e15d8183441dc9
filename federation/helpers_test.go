package federation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/stegonet/db"
	"github.com/deemkeen/stegonet/domain"
	"github.com/stretchr/testify/require"
)

const (
	testKeyNode2 = "secret-node1-node2"
	testKeyNode3 = "secret-node1-node3"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	APIKey string
	Body   []byte
}

// fakePeer stands in for another node. It records every call and answers
// with status and body unless handle is set.
type fakePeer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
	status   int
	body     any
	handle   func(w http.ResponseWriter, r *http.Request)
}

func newFakePeer(t *testing.T) *fakePeer {
	t.Helper()
	p := &fakePeer{status: http.StatusOK, body: MessageResponse{Message: "ok"}}
	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		p.mu.Lock()
		p.requests = append(p.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			APIKey: r.Header.Get(APIKeyHeader),
			Body:   data,
		})
		status, body, handle := p.status, p.body, p.handle
		p.mu.Unlock()

		if handle != nil {
			handle(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if body != nil && status != http.StatusNoContent {
			json.NewEncoder(w).Encode(body)
		}
	}))
	t.Cleanup(p.Close)
	return p
}

func (p *fakePeer) respond(status int, body any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status, p.body = status, body
}

func (p *fakePeer) calls() []recordedRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]recordedRequest(nil), p.requests...)
}

func (p *fakePeer) callsTo(path string) []recordedRequest {
	var out []recordedRequest
	for _, r := range p.calls() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

type testNode struct {
	*Node
	db    *db.DB
	media *db.MediaStore
}

// newTestNode builds node1 with node2 and node3 served by the given peers.
// A nil peer gets an address nothing listens on.
func newTestNode(t *testing.T, node2, node3 *fakePeer) *testNode {
	t.Helper()
	return newTestNodeAt(t, ":memory:", node2, node3)
}

// newFileTestNode is newTestNode on a database file, so concurrent callers
// get their own connections.
func newFileTestNode(t *testing.T, node2, node3 *fakePeer) *testNode {
	t.Helper()
	return newTestNodeAt(t, filepath.Join(t.TempDir(), "node1.db"), node2, node3)
}

func newTestNodeAt(t *testing.T, path string, node2, node3 *fakePeer) *testNode {
	t.Helper()
	database, err := db.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	media, err := db.NewMediaStore(t.TempDir())
	require.NoError(t, err)

	url := func(p *fakePeer) string {
		if p == nil {
			return "http://127.0.0.1:1"
		}
		return p.URL
	}
	node, err := New(database, media, Options{
		Self: "node1",
		Nodes: []domain.NodeConfig{
			{ID: "node1", URL: "http://127.0.0.1:8080"},
			{ID: "node2", URL: url(node2), APIKey: testKeyNode2},
			{ID: "node3", URL: url(node3), APIKey: testKeyNode3},
		},
		RemoteTimeout: 2 * time.Second,
		MaxRetries:    0,
	})
	require.NoError(t, err)
	return &testNode{Node: node, db: database, media: media}
}

func (n *testNode) user(t *testing.T, username string) *domain.Account {
	t.Helper()
	acc, err := n.Resolver.RegisterNative(context.Background(), username, "", true)
	require.NoError(t, err)
	return acc
}
