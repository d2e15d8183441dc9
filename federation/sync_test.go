package federation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/stegonet/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// addRemoteFollower lets user on node follow local through a request
// arriving from node and local's acceptance.
func addRemoteFollower(t *testing.T, n *testNode, local *domain.Account, user, node string) {
	t.Helper()
	ctx := context.Background()
	caller, err := n.Registry.Resolve(node)
	require.NoError(t, err)
	require.NoError(t, n.Relay.ReceiveRemoteFollowRequest(ctx, caller, user, local.Username))
	require.NoError(t, n.Relay.Accept(ctx, local, domain.QualifyHandle(user, node)))
}

func readPost(t *testing.T, n *testNode, id uuid.UUID) *domain.Post {
	t.Helper()
	post, err := n.db.ReadPostById(context.Background(), id)
	require.NoError(t, err)
	return post
}

func decodePayload(t *testing.T, r recordedRequest) PostPayload {
	t.Helper()
	var p PostPayload
	require.NoError(t, json.Unmarshal(r.Body, &p))
	return p
}

func TestSyncDeliversAndRedeliversAfterEdit(t *testing.T) {
	node2 := newFakePeer(t)
	n := newTestNode(t, node2, nil)
	ctx := context.Background()
	alice := n.user(t, "alice")
	addRemoteFollower(t, n, alice, "bob", "node2")

	post, err := n.Posts.CreatePost(ctx, alice, PostInput{Title: "hi", Content: "first", Visibility: domain.VisibilityPublic})
	require.NoError(t, err)

	stored := readPost(t, n, post.Id)
	assert.Equal(t, []string{"node2"}, stored.RemoteNodesSent)
	assert.False(t, stored.NeedsSync)

	calls := node2.callsTo("/receive-post/")
	require.Len(t, calls, 1)
	assert.Equal(t, testKeyNode2, calls[0].APIKey)
	p := decodePayload(t, calls[0])
	assert.Equal(t, post.Id.String(), p.ID)
	assert.Equal(t, "alice", p.Author.Username)
	assert.Equal(t, "alice", p.Author.DisplayName)
	assert.Equal(t, "node1", p.OriginNode)
	assert.Equal(t, []string{"bob"}, p.Recipients)
	assert.False(t, p.IsDeleted)

	// a sync without changes sends nothing
	require.NoError(t, n.Sync.Sync(ctx, post.Id))
	assert.Len(t, node2.callsTo("/receive-post/"), 1)

	// editing forces redelivery to node2
	_, err = n.Posts.EditPost(ctx, alice, post.Id, PostInput{Title: "hi", Content: "second", Visibility: domain.VisibilityPublic})
	require.NoError(t, err)
	calls = node2.callsTo("/receive-post/")
	require.Len(t, calls, 2)
	assert.Equal(t, "second", decodePayload(t, calls[1]).Content)
	assert.Equal(t, []string{"node2"}, readPost(t, n, post.Id).RemoteNodesSent)
}

func TestSyncEditMarksNeedsSyncBeforeDelivery(t *testing.T) {
	node2 := newFakePeer(t)
	n := newTestNode(t, node2, nil)
	ctx := context.Background()
	alice := n.user(t, "alice")
	addRemoteFollower(t, n, alice, "bob", "node2")

	post, err := n.Posts.CreatePost(ctx, alice, PostInput{Content: "v1"})
	require.NoError(t, err)

	stored := readPost(t, n, post.Id)
	stored.Content = "v2"
	stored.NeedsSync = true
	require.NoError(t, n.db.UpdatePost(ctx, stored))

	stored = readPost(t, n, post.Id)
	assert.True(t, stored.NeedsSync)
	assert.Empty(t, stored.RemoteNodesSent)

	require.NoError(t, n.Sync.Sync(ctx, post.Id))
	assert.Equal(t, []string{"node2"}, readPost(t, n, post.Id).RemoteNodesSent)
	assert.Len(t, node2.callsTo("/receive-post/"), 2)
}

func TestSyncEditDuringDeliveryIsRedelivered(t *testing.T) {
	node2 := newFakePeer(t)
	n := newFileTestNode(t, node2, nil)
	ctx := context.Background()
	alice := n.user(t, "alice")
	addRemoteFollower(t, n, alice, "bob", "node2")

	var (
		once   sync.Once
		edited = make(chan error, 1)
	)
	node2.handle = func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			var p PostPayload
			json.Unmarshal(node2.callsTo("/receive-post/")[0].Body, &p)
			id := uuid.MustParse(p.ID)
			go func() {
				_, err := n.Posts.EditPost(ctx, alice, id, PostInput{Content: "second"})
				edited <- err
			}()
			// answer only once the edit is stored
			assert.Eventually(t, func() bool {
				post, err := n.db.ReadPostById(ctx, id)
				return err == nil && post.Content == "second"
			}, 5*time.Second, 10*time.Millisecond)
		})
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"message":"ok"}`))
	}

	post, err := n.Posts.CreatePost(ctx, alice, PostInput{Content: "first"})
	require.NoError(t, err)
	select {
	case err := <-edited:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("edit did not finish")
	}

	calls := node2.callsTo("/receive-post/")
	require.Len(t, calls, 2)
	assert.Equal(t, "first", decodePayload(t, calls[0]).Content)
	assert.Equal(t, "second", decodePayload(t, calls[1]).Content)

	stored := readPost(t, n, post.Id)
	assert.Equal(t, "second", stored.Content)
	assert.False(t, stored.NeedsSync)
	assert.Equal(t, []string{"node2"}, stored.RemoteNodesSent)

	due, err := n.db.ReadPostsNeedingSync(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestSyncRetriesUnreachableNode(t *testing.T) {
	node2, node3 := newFakePeer(t), newFakePeer(t)
	n := newTestNode(t, node2, node3)
	ctx := context.Background()
	alice := n.user(t, "alice")
	addRemoteFollower(t, n, alice, "bob", "node2")
	addRemoteFollower(t, n, alice, "carol", "node3")
	addRemoteFollower(t, n, alice, "dave", "node3")

	node3.respond(http.StatusServiceUnavailable, ErrorResponse{Error: "down"})
	post, err := n.Posts.CreatePost(ctx, alice, PostInput{Content: "hello"})
	require.NoError(t, err)

	stored := readPost(t, n, post.Id)
	assert.Equal(t, []string{"node2"}, stored.RemoteNodesSent)
	assert.False(t, stored.NeedsSync)

	node3.respond(http.StatusOK, MessageResponse{Message: "ok"})
	require.NoError(t, n.Sync.Sync(ctx, post.Id))

	stored = readPost(t, n, post.Id)
	assert.ElementsMatch(t, []string{"node2", "node3"}, stored.RemoteNodesSent)
	assert.Len(t, node2.callsTo("/receive-post/"), 1)

	calls := node3.callsTo("/receive-post/")
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"carol", "dave"}, decodePayload(t, calls[1]).Recipients)
}

func TestSyncWithoutRemoteFollowersClearsFlag(t *testing.T) {
	node2 := newFakePeer(t)
	n := newTestNode(t, node2, nil)
	ctx := context.Background()
	alice := n.user(t, "alice")

	post, err := n.Posts.CreatePost(ctx, alice, PostInput{Content: "quiet"})
	require.NoError(t, err)

	stored := readPost(t, n, post.Id)
	assert.False(t, stored.NeedsSync)
	assert.Empty(t, stored.RemoteNodesSent)
	assert.Empty(t, node2.callsTo("/receive-post/"))
}

func TestSyncRejectsRemoteCopies(t *testing.T) {
	n := newTestNode(t, nil, nil)
	ctx := context.Background()
	stub, err := n.Resolver.ResolveOrCreateRemote(ctx, "bob", "node2")
	require.NoError(t, err)

	post := &domain.Post{AuthorId: stub.Id, Content: "theirs", Visibility: domain.VisibilityPublic, OriginNode: "node2", NeedsSync: true}
	require.NoError(t, n.db.CreatePost(ctx, post))

	assert.ErrorIs(t, n.Sync.Sync(ctx, post.Id), ErrNotAuthoritative)
	assert.ErrorIs(t, n.Sync.Sync(ctx, uuid.New()), ErrUnknownPost)
}

func TestSyncHiddenPosts(t *testing.T) {
	node2 := newFakePeer(t)
	n := newTestNode(t, node2, nil)
	ctx := context.Background()
	alice := n.user(t, "alice")
	addRemoteFollower(t, n, alice, "bob", "node2")

	draft, err := n.Posts.CreatePost(ctx, alice, PostInput{Content: "wip", Visibility: domain.VisibilityDraft})
	require.NoError(t, err)
	assert.Empty(t, node2.callsTo("/receive-post/"))
	assert.False(t, readPost(t, n, draft.Id).NeedsSync)

	// a delivered post made private is retracted
	post, err := n.Posts.CreatePost(ctx, alice, PostInput{Content: "oops"})
	require.NoError(t, err)
	_, err = n.Posts.EditPost(ctx, alice, post.Id, PostInput{Content: "oops", Visibility: domain.VisibilityPrivate})
	require.NoError(t, err)

	calls := node2.callsTo("/receive-post/")
	require.Len(t, calls, 2)
	retraction := decodePayload(t, calls[1])
	assert.True(t, retraction.IsDeleted)
	assert.Empty(t, retraction.Content)
	assert.Equal(t, "DELETED", retraction.Visibility)

	stored := readPost(t, n, post.Id)
	assert.False(t, stored.NeedsSync)
	assert.Empty(t, stored.RemoteNodesSent)

	// the resync sweep has nothing left to do
	visited, err := n.Sync.Resync(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, visited)
}

func TestSyncDeletion(t *testing.T) {
	node2 := newFakePeer(t)
	n := newTestNode(t, node2, nil)
	ctx := context.Background()
	alice := n.user(t, "alice")
	addRemoteFollower(t, n, alice, "bob", "node2")

	post, err := n.Posts.CreatePost(ctx, alice, PostInput{Content: "bye"})
	require.NoError(t, err)
	require.NoError(t, n.Posts.DeletePost(ctx, alice, post.Id))

	calls := node2.callsTo("/receive-post/")
	require.Len(t, calls, 2)
	assert.True(t, decodePayload(t, calls[1]).IsDeleted)

	stored := readPost(t, n, post.Id)
	assert.True(t, stored.IsDeleted())
	assert.Equal(t, []string{"node2"}, stored.RemoteNodesSent)

	assert.ErrorIs(t, n.Posts.DeletePost(ctx, alice, post.Id), ErrUnknownPost)
}

func TestSyncSendsMediaInline(t *testing.T) {
	node2 := newFakePeer(t)
	n := newTestNode(t, node2, nil)
	ctx := context.Background()
	alice := n.user(t, "alice")
	addRemoteFollower(t, n, alice, "bob", "node2")

	media := []byte("\x89PNG\r\n\x1a\n rest of the image")
	post, err := n.Posts.CreatePost(ctx, alice, PostInput{Content: "look", Media: media})
	require.NoError(t, err)
	assert.Equal(t, "image/png", post.MediaType)
	assert.Equal(t, domain.MediaNameFor(post.Id), post.MediaName)

	calls := node2.callsTo("/receive-post/")
	require.Len(t, calls, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString(media), decodePayload(t, calls[0]).Media)
}

func TestResyncDeliversToNewFollowerNodes(t *testing.T) {
	node2 := newFakePeer(t)
	n := newTestNode(t, node2, nil)
	ctx := context.Background()
	alice := n.user(t, "alice")

	post, err := n.Posts.CreatePost(ctx, alice, PostInput{Content: "old post"})
	require.NoError(t, err)
	assert.Empty(t, node2.callsTo("/receive-post/"))

	addRemoteFollower(t, n, alice, "bob", "node2")
	visited, err := n.Sync.Resync(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, visited)
	assert.Equal(t, []string{"node2"}, readPost(t, n, post.Id).RemoteNodesSent)

	visited, err = n.Sync.Resync(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, visited)
}
