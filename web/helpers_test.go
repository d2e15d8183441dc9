package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/deemkeen/stegonet/db"
	"github.com/deemkeen/stegonet/domain"
	"github.com/deemkeen/stegonet/federation"
	"github.com/deemkeen/stegonet/util"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const testKey = "secret-node1-node2"

type testServer struct {
	*Server
	db     *db.DB
	media  *db.MediaStore
	router *gin.Engine
}

func newTestConf(self, publicURL string, nodes []domain.NodeConfig) *util.AppConfig {
	conf := &util.AppConfig{Nodes: nodes}
	conf.Conf.NodeId = self
	conf.Conf.Host = "127.0.0.1"
	conf.Conf.HttpPort = 9999
	conf.Conf.PublicUrl = publicURL
	conf.Conf.RemoteTimeout = "2s"
	return conf
}

func newTestServerWith(t *testing.T, conf *util.AppConfig) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	media, err := db.NewMediaStore(t.TempDir())
	require.NoError(t, err)

	node, err := federation.New(database, media, federation.Options{
		Self:          conf.Conf.NodeId,
		Nodes:         conf.Nodes,
		RemoteTimeout: conf.RemoteTimeout(),
		MaxRetries:    0,
	})
	require.NoError(t, err)

	srv := NewServer(node, media, conf, WithRateLimit(rate.Inf, 0), WithNodeRateLimit(rate.Inf, 0))
	return &testServer{Server: srv, db: database, media: media, router: srv.Router()}
}

// newTestServer runs node1 with a node2 peer nothing listens on.
func newTestServer(t *testing.T) *testServer {
	return newTestServerWith(t, newTestConf("node1", "http://stegonet.test", []domain.NodeConfig{
		{ID: "node1", URL: "http://stegonet.test"},
		{ID: "node2", URL: "http://127.0.0.1:1", APIKey: testKey},
	}))
}

func (ts *testServer) user(t *testing.T, username string) *domain.Account {
	t.Helper()
	acc, err := ts.node.Resolver.RegisterNative(context.Background(), username, "", true)
	require.NoError(t, err)
	return acc
}

type requestOpt func(*http.Request)

func asUser(username string) requestOpt {
	return func(r *http.Request) { r.Header.Set(UserHeader, username) }
}

func withKey(key string) requestOpt {
	return func(r *http.Request) { r.Header.Set(federation.APIKeyHeader, key) }
}

func (ts *testServer) do(t *testing.T, method, path string, body any, opts ...requestOpt) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.1:1234"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// testPayload builds a post as node2 would deliver it.
func testPayload(author string) federation.PostPayload {
	now := time.Now().UTC().Truncate(time.Second)
	return federation.PostPayload{
		ID:          "6f1c1a8e-8a3e-4a55-9df4-1c1f3b0f6a01",
		Author:      federation.AuthorSummary{Username: author, DisplayName: author},
		Title:       "hello",
		Content:     "from node2",
		Visibility:  string(domain.VisibilityPublic),
		PublishedAt: now,
		UpdatedAt:   now,
		OriginNode:  "node2",
	}
}
