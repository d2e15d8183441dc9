package federation

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/deemkeen/stegonet/domain"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const maxParallelDeliveries = 8

// Synchronizer pushes local posts to every node hosting one of the author's
// remote followers. Delivery is at-least-once per node: a node that fails is
// left out of the post's delivery bookkeeping and retried by the next pass.
type Synchronizer struct {
	posts     PostStore
	followers RemoteFollowerStore
	media     MediaStore
	registry  *Registry
	client    *NodeClient
	// one writer per post for the delivery bookkeeping
	locks *xsync.MapOf[uuid.UUID, *sync.Mutex]
}

func NewSynchronizer(posts PostStore, followers RemoteFollowerStore, media MediaStore, registry *Registry, client *NodeClient) *Synchronizer {
	return &Synchronizer{
		posts:     posts,
		followers: followers,
		media:     media,
		registry:  registry,
		client:    client,
		locks:     xsync.NewMapOf[uuid.UUID, *sync.Mutex](),
	}
}

func (s *Synchronizer) lock(id uuid.UUID) func() {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu.Lock()
	return mu.Unlock
}

// Sync delivers the current version of post id to the nodes that need it.
// Per-node failures are logged and counted, never returned.
func (s *Synchronizer) Sync(ctx context.Context, id uuid.UUID) error {
	unlock := s.lock(id)
	defer unlock()

	post, err := s.posts.ReadPostById(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return ErrUnknownPost.Withf("%s", id)
	}
	if err != nil {
		return err
	}
	if !post.LocalCopy {
		return ErrNotAuthoritative.Withf("post %s originates from node %s", id, post.OriginNode)
	}

	targets, err := s.destinations(ctx, post)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		if post.NeedsSync {
			return s.record(ctx, post, nil, true)
		}
		return nil
	}

	retract := !post.Visibility.Distributable()
	if retract && !post.NeedsSync {
		// nothing was delivered since the post was hidden
		return nil
	}

	payload, err := s.payload(post, retract)
	if err != nil {
		return err
	}

	var (
		mu        sync.Mutex
		delivered []string
		failed    int
	)
	g := new(errgroup.Group)
	g.SetLimit(maxParallelDeliveries)
	for _, node := range s.registry.Peers() {
		recipients, ok := targets[node.ID]
		if !ok {
			continue
		}
		if !retract && !post.NeedsSync && post.SentTo(node.ID) {
			continue
		}
		nodeID := node.ID
		p := *payload
		p.Recipients = recipients
		g.Go(func() error {
			err := s.client.SendPost(ctx, nodeID, &p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				postDeliveries.WithLabelValues(nodeID, KindOf(err).String()).Inc()
				log.Warn().Err(err).Str("post", id.String()).Str("node", nodeID).Msg("Post delivery failed, will retry")
				return nil
			}
			delivered = append(delivered, nodeID)
			postDeliveries.WithLabelValues(nodeID, "ok").Inc()
			return nil
		})
	}
	_ = g.Wait()

	if retract {
		if failed > 0 {
			// needs_sync stays set so the sweep retries the retraction
			return nil
		}
		log.Info().Str("post", id.String()).Strs("nodes", delivered).Msg("Retracted hidden post")
		return s.record(ctx, post, nil, true)
	}

	if len(delivered) > 0 {
		log.Info().Str("post", id.String()).Strs("nodes", delivered).Msg("Delivered post")
	}
	return s.record(ctx, post, delivered, post.NeedsSync)
}

// record stores the outcome of a pass over post. A post edited while the
// pass was running keeps needs_sync, so its new version goes out next.
func (s *Synchronizer) record(ctx context.Context, post *domain.Post, delivered []string, reset bool) error {
	applied, err := s.posts.RecordSync(ctx, post.Id, post.Version, delivered, reset)
	if err != nil {
		return err
	}
	if !applied {
		log.Debug().Str("post", post.Id.String()).Int64("version", post.Version).Msg("Post changed during sync, keeping it due")
	}
	return nil
}

// destinations groups the remote usernames following the post's author by
// their node. Followers on unknown or disabled nodes are skipped.
func (s *Synchronizer) destinations(ctx context.Context, post *domain.Post) (map[string][]string, error) {
	records, err := s.followers.ReadRemoteFollowers(ctx, post.AuthorId)
	if err != nil {
		return nil, err
	}
	self := s.registry.SelfID()
	records = lo.Filter(records, func(rec domain.RemoteFollowerRecord, _ int) bool {
		if rec.RemoteNode == self {
			return false
		}
		node, err := s.registry.Resolve(rec.RemoteNode)
		if err != nil {
			log.Warn().Str("node", rec.RemoteNode).Str("post", post.Id.String()).Msg("Remote follower on unknown node")
			return false
		}
		return !node.Disabled
	})
	byNode := lo.GroupBy(records, func(rec domain.RemoteFollowerRecord) string {
		return rec.RemoteNode
	})
	return lo.MapValues(byNode, func(recs []domain.RemoteFollowerRecord, _ string) []string {
		return lo.Map(recs, func(rec domain.RemoteFollowerRecord, _ int) string {
			return rec.RemoteUsername
		})
	}), nil
}

// payload serializes post for transfer. A retraction is sent as a deletion.
func (s *Synchronizer) payload(post *domain.Post, retract bool) (*PostPayload, error) {
	deleted := retract || post.IsDeleted()
	p := &PostPayload{
		ID: post.Id.String(),
		Author: AuthorSummary{
			Username:    post.Author,
			DisplayName: post.AuthorName,
		},
		Title:       post.Title,
		Content:     post.Content,
		Visibility:  string(post.Visibility),
		PublishedAt: post.PublishedAt.UTC(),
		UpdatedAt:   post.UpdatedAt.UTC(),
		IsDeleted:   deleted,
		OriginNode:  s.registry.SelfID(),
	}
	if deleted {
		p.Title, p.Content = "", ""
		p.Visibility = string(domain.VisibilityDeleted)
		return p, nil
	}
	if post.MediaName != "" {
		data, err := s.media.LoadMedia(post.MediaName)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			log.Warn().Str("post", post.Id.String()).Str("media", post.MediaName).Msg("Post media missing, sending without it")
		case err != nil:
			return nil, err
		default:
			p.Media = base64.StdEncoding.EncodeToString(data)
		}
	}
	return p, nil
}

// Resync runs Sync over up to limit posts that still have undelivered
// changes or destinations and reports how many were visited.
func (s *Synchronizer) Resync(ctx context.Context, limit int) (int, error) {
	start := time.Now()
	ids, err := s.posts.ReadPostsNeedingSync(ctx, limit)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := s.Sync(ctx, id); err != nil {
			log.Error().Err(err).Str("post", id.String()).Msg("Resync failed")
		}
		resyncedPosts.Inc()
	}
	if len(ids) > 0 {
		log.Info().Int("posts", len(ids)).Dur("took", time.Since(start)).Msg("Resync sweep done")
	}
	return len(ids), nil
}
