package federation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/deemkeen/stegonet/domain"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const maxMediaBytes = 2 << 20

// PostInput carries the user-editable fields of a post. Nil Media on an
// edit keeps the stored media.
type PostInput struct {
	Title      string
	Content    string
	Visibility domain.Visibility
	Media      []byte
}

func (in *PostInput) validate() error {
	in.Title = strings.TrimSpace(in.Title)
	switch {
	case in.Title == "" && strings.TrimSpace(in.Content) == "" && len(in.Media) == 0:
		return invalid("post must not be empty")
	case len(in.Title) > 300:
		return invalid("title is longer than 300 characters")
	case len(in.Content) > 65536:
		return invalid("content is longer than 65536 characters")
	case len(in.Media) > maxMediaBytes:
		return invalid("media is larger than %d bytes", maxMediaBytes)
	}
	if in.Visibility == "" {
		in.Visibility = domain.VisibilityPublic
	}
	v, err := domain.ParseVisibility(string(in.Visibility))
	if err != nil {
		return invalid("%v", err)
	}
	in.Visibility = v
	if in.Visibility == domain.VisibilityDeleted {
		return invalid("use delete to remove a post")
	}
	return nil
}

// PostService is the local post store front. Every mutation is followed by a
// synchronization whose failures never undo the local change.
type PostService struct {
	posts    PostStore
	follows  FollowStore
	media    MediaStore
	sync     *Synchronizer
	resolver *Resolver
}

func NewPostService(posts PostStore, follows FollowStore, media MediaStore, sync *Synchronizer, resolver *Resolver) *PostService {
	return &PostService{posts: posts, follows: follows, media: media, sync: sync, resolver: resolver}
}

func (s *PostService) CreatePost(ctx context.Context, author *domain.Account, in PostInput) (*domain.Post, error) {
	if !s.resolver.IsLocal(author) {
		return nil, ErrForbidden.Withf("%s is not a local account", author.Username)
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	post := &domain.Post{
		Id:          uuid.New(),
		AuthorId:    author.Id,
		Author:      author.Username,
		Title:       in.Title,
		Content:     in.Content,
		Visibility:  in.Visibility,
		PublishedAt: now,
		UpdatedAt:   now,
		LocalCopy:   true,
		OriginNode:  s.resolver.SelfNode(),
		NeedsSync:   in.Visibility.Distributable(),
	}
	if err := s.storeMedia(post, in.Media); err != nil {
		return nil, err
	}
	if err := s.posts.CreatePost(ctx, post); err != nil {
		if post.MediaName != "" {
			s.media.DeleteMedia(post.MediaName)
		}
		return nil, err
	}
	log.Info().Str("post", post.Id.String()).Str("user", author.Username).Msg("Created post")
	s.synchronize(ctx, post)
	return post, nil
}

func (s *PostService) EditPost(ctx context.Context, author *domain.Account, id uuid.UUID, in PostInput) (*domain.Post, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	post, err := s.owned(ctx, author, id)
	if err != nil {
		return nil, err
	}
	// hiding a distributed post needs a retraction, editing a hidden one
	// needs nothing
	needsSync := post.NeedsSync || post.Visibility.Distributable() || in.Visibility.Distributable()

	post.Title = in.Title
	post.Content = in.Content
	post.Visibility = in.Visibility
	post.UpdatedAt = time.Now()
	post.NeedsSync = needsSync
	if in.Media != nil {
		if err := s.storeMedia(post, in.Media); err != nil {
			return nil, err
		}
	}
	if err := s.posts.UpdatePost(ctx, post); err != nil {
		return nil, err
	}
	s.synchronize(ctx, post)
	return post, nil
}

// DeletePost soft-deletes a post and propagates the deletion.
func (s *PostService) DeletePost(ctx context.Context, author *domain.Account, id uuid.UUID) error {
	post, err := s.owned(ctx, author, id)
	if err != nil {
		return err
	}
	// a post that never left the node needs no deletion notice
	needsSync := post.Visibility.Distributable() || post.NeedsSync
	if err := s.posts.SoftDeletePost(ctx, id, needsSync); err != nil {
		return err
	}
	if post.MediaName != "" {
		if err := s.media.DeleteMedia(post.MediaName); err != nil {
			log.Warn().Err(err).Str("post", id.String()).Msg("Could not remove post media")
		}
	}
	if needsSync {
		s.synchronize(ctx, post)
	}
	return nil
}

func (s *PostService) owned(ctx context.Context, author *domain.Account, id uuid.UUID) (*domain.Post, error) {
	post, err := s.posts.ReadPostById(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrUnknownPost.Withf("%s", id)
	}
	if err != nil {
		return nil, err
	}
	if post.IsDeleted() {
		return nil, ErrUnknownPost.Withf("%s", id)
	}
	if post.AuthorId != author.Id {
		return nil, ErrForbidden.Withf("post %s belongs to another user", id)
	}
	if !post.LocalCopy {
		return nil, ErrNotAuthoritative.Withf("post %s", id)
	}
	return post, nil
}

func (s *PostService) storeMedia(post *domain.Post, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	post.MediaName = domain.MediaNameFor(post.Id)
	post.MediaType = mimetype.Detect(data).String()
	return s.media.SaveMedia(post.MediaName, data)
}

func (s *PostService) synchronize(ctx context.Context, post *domain.Post) {
	if err := s.sync.Sync(ctx, post.Id); err != nil {
		log.Error().Err(err).Str("post", post.Id.String()).Msg("Post synchronization failed")
	}
}

// GetPost returns post id if viewer may see it. A nil viewer is anonymous.
func (s *PostService) GetPost(ctx context.Context, viewer *domain.Account, id uuid.UUID) (*domain.Post, error) {
	post, err := s.posts.ReadPostById(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrUnknownPost.Withf("%s", id)
	}
	if err != nil {
		return nil, err
	}
	visible, err := s.visibleTo(ctx, post.AuthorId, viewer)
	if err != nil {
		return nil, err
	}
	if post.IsDeleted() || !containsVisibility(visible, post.Visibility) {
		return nil, ErrUnknownPost.Withf("%s", id)
	}
	return post, nil
}

// ListPosts lists author's posts newest first as viewer may see them.
func (s *PostService) ListPosts(ctx context.Context, author, viewer *domain.Account, limit int) ([]domain.Post, error) {
	visible, err := s.visibleTo(ctx, author.Id, viewer)
	if err != nil {
		return nil, err
	}
	return s.posts.ReadPosts(ctx, domain.PostFilter{AuthorId: author.Id, Visibilities: visible, Limit: limit})
}

// visibleTo returns the visibilities of author's posts viewer may see:
// everything for the author, FRIENDS for mutual followers.
func (s *PostService) visibleTo(ctx context.Context, author uuid.UUID, viewer *domain.Account) ([]domain.Visibility, error) {
	visible := []domain.Visibility{domain.VisibilityPublic, domain.VisibilityUnlisted}
	if viewer == nil {
		return visible, nil
	}
	if viewer.Id == author {
		return append(visible, domain.VisibilityFriends, domain.VisibilityPrivate, domain.VisibilityDraft), nil
	}
	edge, err := s.follows.FindEdge(ctx, viewer.Id, author)
	if err != nil {
		return nil, err
	}
	if edge != nil && edge.Mutual {
		visible = append(visible, domain.VisibilityFriends)
	}
	return visible, nil
}

// PublicPosts lists the newest public posts of author for feeds, or of
// every author when author is nil.
func (s *PostService) PublicPosts(ctx context.Context, author *domain.Account, limit int) ([]domain.Post, error) {
	filter := domain.PostFilter{
		Visibilities: []domain.Visibility{domain.VisibilityPublic},
		Limit:        limit,
	}
	if author != nil {
		filter.AuthorId = author.Id
	}
	return s.posts.ReadPosts(ctx, filter)
}

func containsVisibility(list []domain.Visibility, v domain.Visibility) bool {
	for _, l := range list {
		if l == v {
			return true
		}
	}
	return false
}
