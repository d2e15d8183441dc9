package federation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/stegonet/domain"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Ingestor applies posts delivered by peer nodes. Applying the same payload
// again leaves the stored post unchanged, so redelivery is harmless.
type Ingestor struct {
	registry *Registry
	resolver *Resolver
	posts    PostStore
	media    MediaStore
	validate *validator.Validate
}

func NewIngestor(registry *Registry, resolver *Resolver, posts PostStore, media MediaStore) *Ingestor {
	return &Ingestor{
		registry: registry,
		resolver: resolver,
		posts:    posts,
		media:    media,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Receive authenticates the calling node by apiKey and upserts the post in
// payload as a non-authoritative copy.
func (in *Ingestor) Receive(ctx context.Context, payload *PostPayload, apiKey string) (*domain.Post, error) {
	caller, err := in.registry.Authenticate(apiKey)
	if err != nil {
		postsIngested.WithLabelValues(KindAuthorization.String()).Inc()
		return nil, err
	}
	post, err := in.apply(ctx, caller, payload)
	if err != nil {
		postsIngested.WithLabelValues(KindOf(err).String()).Inc()
		return nil, err
	}
	postsIngested.WithLabelValues("ok").Inc()
	return post, nil
}

func (in *Ingestor) apply(ctx context.Context, caller domain.NodeConfig, payload *PostPayload) (*domain.Post, error) {
	if err := in.check(payload); err != nil {
		return nil, err
	}
	if payload.OriginNode != caller.ID {
		return nil, ErrForbidden.Withf("node %s delivered a post of node %s", caller.ID, payload.OriginNode)
	}
	id, err := uuid.Parse(payload.ID)
	if err != nil {
		return nil, invalid("post id: %v", err)
	}
	visibility, err := domain.ParseVisibility(payload.Visibility)
	if err != nil {
		return nil, invalid("%v", err)
	}

	author, err := in.resolver.ResolveOrCreateRemote(ctx, payload.Author.Username, payload.OriginNode)
	if err != nil {
		return nil, err
	}

	existing, err := in.posts.ReadPostById(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		existing = nil
	} else if err != nil {
		return nil, err
	}
	if existing != nil && (existing.LocalCopy || existing.AuthorId != author.Id) {
		return nil, ErrConflict.Withf("post %s is owned by another author", id)
	}
	if existing != nil && outdated(existing, payload) {
		log.Debug().Str("post", id.String()).Str("node", caller.ID).Time("stored", existing.UpdatedAt).
			Time("received", payload.UpdatedAt).Msg("Ignoring outdated post version")
		return existing, nil
	}
	// the origin is authoritative for its users' profiles
	if name := payload.Author.DisplayName; name != "" && name != author.DisplayName {
		updated, err := in.resolver.UpdateProfile(ctx, author, name, author.Summary)
		if err != nil {
			log.Warn().Err(err).Str("user", author.Username).Msg("Could not refresh remote profile")
		} else {
			author = updated
		}
	}

	post := &domain.Post{
		Id:          id,
		AuthorId:    author.Id,
		Author:      author.Username,
		Title:       payload.Title,
		Content:     payload.Content,
		Visibility:  visibility,
		PublishedAt: payload.PublishedAt,
		UpdatedAt:   payload.UpdatedAt,
		LocalCopy:   false,
		OriginNode:  payload.OriginNode,
	}

	var media []byte
	if payload.IsDeleted {
		post.Visibility = domain.VisibilityDeleted
		now := time.Now()
		post.DeletedAt = &now
		if existing != nil && existing.DeletedAt != nil {
			post.DeletedAt = existing.DeletedAt
		}
	} else if payload.Media != "" {
		media, err = base64.StdEncoding.DecodeString(payload.Media)
		if err != nil {
			return nil, invalid("media: %v", err)
		}
		post.MediaName = domain.MediaNameFor(id)
		post.MediaType = mimetype.Detect(media).String()
	}

	if existing == nil {
		err = in.posts.CreatePost(ctx, post)
		if errors.Is(err, domain.ErrDuplicate) {
			// a concurrent delivery of the same post won, compare against it
			return in.apply(ctx, caller, payload)
		}
	} else {
		err = in.posts.UpdatePost(ctx, post)
	}
	if err != nil {
		return nil, err
	}

	// media follows the stored row; a failed write is repaired by the
	// origin's redelivery
	if media != nil {
		if err := in.media.SaveMedia(post.MediaName, media); err != nil {
			return nil, fmt.Errorf("storing media of post %s: %w", id, err)
		}
	} else if existing != nil && existing.MediaName != "" {
		if err := in.media.DeleteMedia(existing.MediaName); err != nil {
			log.Warn().Err(err).Str("post", id.String()).Msg("Could not remove dropped media")
		}
	}

	log.Debug().Str("post", id.String()).Str("node", caller.ID).Str("author", author.Username).
		Bool("deleted", post.IsDeleted()).Msg("Ingested post")
	return post, nil
}

// outdated reports whether payload is older than the stored copy. A deleted
// copy only comes back for a strictly newer version.
func outdated(existing *domain.Post, payload *PostPayload) bool {
	if payload.UpdatedAt.Before(existing.UpdatedAt) {
		return true
	}
	return existing.IsDeleted() && !payload.IsDeleted && !payload.UpdatedAt.After(existing.UpdatedAt)
}

// check validates payload, reporting every failing field.
func (in *Ingestor) check(payload *PostPayload) error {
	if payload == nil {
		return invalid("empty payload")
	}
	err := in.validate.Struct(payload)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return invalid("%v", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return invalid("%s", strings.Join(fields, "; "))
}
