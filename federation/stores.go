package federation

import (
	"context"

	"github.com/deemkeen/stegonet/domain"
	"github.com/google/uuid"
)

// AccountStore is the user directory.
type AccountStore interface {
	CreateAccount(ctx context.Context, acc *domain.Account) error
	ReadAccByUsername(ctx context.Context, username string) (*domain.Account, error)
	ReadAccById(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, displayName, summary string) error
	ReadNativeAccounts(ctx context.Context, selfNode string) ([]domain.Account, error)
}

// FollowStore keeps pending follow requests and accepted following edges.
// Find* methods return nil when nothing matches.
type FollowStore interface {
	CreateFollowRequest(ctx context.Context, req *domain.FollowRequest) error
	FindPendingRequest(ctx context.Context, sender, receiver uuid.UUID) (*domain.FollowRequest, error)
	DeletePendingRequest(ctx context.Context, sender, receiver uuid.UUID) (bool, error)
	ReadPendingRequests(ctx context.Context, receiver uuid.UUID) ([]domain.PendingRequest, error)

	FindEdge(ctx context.Context, follower, followee uuid.UUID) (*domain.FollowingEdge, error)
	AcceptFollowRequest(ctx context.Context, sender, receiver uuid.UUID, remote *domain.RemoteFollowerRecord) (*domain.FollowingEdge, error)
	CreateEdge(ctx context.Context, follower, followee uuid.UUID) (*domain.FollowingEdge, error)
	DeleteEdge(ctx context.Context, follower, followee uuid.UUID, remote *domain.RemoteFollowerRecord) error
	ReadFollowers(ctx context.Context, id uuid.UUID) ([]domain.Account, error)
	ReadFollowees(ctx context.Context, id uuid.UUID) ([]domain.Account, error)
	ReadFriends(ctx context.Context, id uuid.UUID) ([]domain.Account, error)
}

// RemoteFollowerStore lists which named remote accounts follow local ones.
// Records are written together with the following edges they belong to.
type RemoteFollowerStore interface {
	ReadRemoteFollowers(ctx context.Context, localUser uuid.UUID) ([]domain.RemoteFollowerRecord, error)
}

type PostStore interface {
	CreatePost(ctx context.Context, post *domain.Post) error
	UpdatePost(ctx context.Context, post *domain.Post) error
	SoftDeletePost(ctx context.Context, id uuid.UUID, needsSync bool) error
	ReadPostById(ctx context.Context, id uuid.UUID) (*domain.Post, error)
	ReadPosts(ctx context.Context, filter domain.PostFilter) ([]domain.Post, error)
	RecordSync(ctx context.Context, id uuid.UUID, version int64, delivered []string, reset bool) (bool, error)
	ReadPostsNeedingSync(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type MediaStore interface {
	SaveMedia(name string, data []byte) error
	LoadMedia(name string) ([]byte, error)
	DeleteMedia(name string) error
}

// Store bundles every collaborator store a node needs.
type Store interface {
	AccountStore
	FollowStore
	RemoteFollowerStore
	PostStore
}
