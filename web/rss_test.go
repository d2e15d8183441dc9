package web

import (
	"context"
	"net/http"
	"testing"

	"github.com/deemkeen/stegonet/domain"
	"github.com/deemkeen/stegonet/federation"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRSS(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	alice := ts.user(t, "alice")
	bob := ts.user(t, "bob")

	_, err := ts.node.Posts.CreatePost(ctx, alice, federation.PostInput{Title: "Public note", Content: "for everyone"})
	require.NoError(t, err)
	_, err = ts.node.Posts.CreatePost(ctx, alice, federation.PostInput{Title: "Secret", Content: "friends only", Visibility: domain.VisibilityFriends})
	require.NoError(t, err)
	_, err = ts.node.Posts.CreatePost(ctx, bob, federation.PostInput{Content: "bob speaking"})
	require.NoError(t, err)

	rss, err := ts.GetRSS(ctx, "alice")
	require.NoError(t, err)
	assert.Contains(t, rss, "<rss")
	assert.Contains(t, rss, "Posts by alice")
	assert.Contains(t, rss, "Public note")
	assert.Contains(t, rss, "http://stegonet.test/feed?username=alice")
	assert.NotContains(t, rss, "friends only")
	assert.NotContains(t, rss, "bob speaking")

	rss, err = ts.GetRSS(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, rss, "All posts on node1")
	assert.Contains(t, rss, "Public note")
	assert.Contains(t, rss, "bob speaking")
}

func TestGetRSSUnknownUser(t *testing.T) {
	ts := newTestServer(t)

	rss, err := ts.GetRSS(context.Background(), "nonexistentuser")
	assert.ErrorIs(t, err, federation.ErrUnknownUser)
	assert.Empty(t, rss)

	w := ts.do(t, http.MethodGet, "/feed?username=nonexistentuser", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetRSSItem(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	alice := ts.user(t, "alice")

	post, err := ts.node.Posts.CreatePost(ctx, alice, federation.PostInput{Content: "single item"})
	require.NoError(t, err)

	w := ts.do(t, http.MethodGet, "/feed/"+post.Id.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/xml; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "single item")
	assert.Contains(t, w.Body.String(), "http://stegonet.test/feed/"+post.Id.String())

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/feed/"+uuid.NewString(), nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/feed/not-a-uuid", nil).Code)
}

func TestGetRSSItemHidesPrivatePosts(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	alice := ts.user(t, "alice")

	post, err := ts.node.Posts.CreatePost(ctx, alice, federation.PostInput{Content: "draft", Visibility: domain.VisibilityDraft})
	require.NoError(t, err)

	_, err = ts.GetRSSItem(ctx, post.Id)
	assert.ErrorIs(t, err, federation.ErrUnknownPost)
}
