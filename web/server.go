package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/stegonet/federation"
	"github.com/deemkeen/stegonet/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	maxNodeBodyBytes = 4 << 20
	maxAPIBodyBytes  = 4 << 20
	shutdownTimeout  = 10 * time.Second
)

// Server exposes a federation node over HTTP: the inter-node endpoints its
// peers call, the local user API, feeds and metrics.
type Server struct {
	node  *federation.Node
	media federation.MediaStore
	conf  *util.AppConfig

	globalRate  rate.Limit
	globalBurst int
	nodeRate    rate.Limit
	nodeBurst   int
}

type Option func(*Server)

// WithRateLimit sets the per-IP budget of the public and user routes.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(s *Server) {
		s.globalRate = r
		s.globalBurst = burst
	}
}

// WithNodeRateLimit sets the per-IP budget of the inter-node routes. Peers
// push every post change there, so it is kept apart from the user budget.
func WithNodeRateLimit(r rate.Limit, burst int) Option {
	return func(s *Server) {
		s.nodeRate = r
		s.nodeBurst = burst
	}
}

func NewServer(node *federation.Node, media federation.MediaStore, conf *util.AppConfig, opts ...Option) *Server {
	s := &Server{
		node:        node,
		media:       media,
		conf:        conf,
		globalRate:  rate.Limit(10),
		globalBurst: 20,
		nodeRate:    rate.Limit(100),
		nodeBurst:   200,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine serving all routes.
func (s *Server) Router() *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery(), RequestLogger())
	g.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	limit := RateLimitMiddleware(NewRateLimiter(s.globalRate, s.globalBurst))

	public := g.Group("/", limit)
	public.GET("/health", s.handleHealth)
	public.GET("/metrics", gin.WrapH(promhttp.Handler()))
	public.GET("/feed", s.handleFeed)
	public.GET("/feed/:id", s.handleFeedItem)

	// Inter-node endpoints. An unknown credential is answered with 403,
	// except by the post ingestion endpoint which answers 401.
	registry := s.node.Registry
	nodeLimit := RateLimitMiddleware(NewRateLimiter(s.nodeRate, s.nodeBurst))
	nodes := g.Group("/", nodeLimit, MaxBytesMiddleware(maxNodeBodyBytes))
	nodeAuth := NodeAuthMiddleware(registry, http.StatusForbidden)
	nodes.POST("/create-follow-request/:username/", nodeAuth, s.handleRemoteFollowRequest)
	nodes.POST("/cancel-follow-request/:username/", nodeAuth, s.handleRemoteCancel)
	nodes.POST("/follow-accepted/:username/", nodeAuth, s.handleFollowAccepted)
	nodes.POST("/remote-unfollow/:username/", nodeAuth, s.handleRemoteUnfollow)
	nodes.GET("/remote-get-follower-requests", nodeAuth, s.handleRemotePendingRequests)
	nodes.GET("/list-all-users/", nodeAuth, s.handleListLocalUsers)
	nodes.POST("/receive-post/", s.handleReceivePost)

	// Local API for the users of this node.
	api := g.Group("/api", limit, MaxBytesMiddleware(maxAPIBodyBytes))
	user := UserMiddleware(s.node.Resolver, true)
	viewer := UserMiddleware(s.node.Resolver, false)

	api.GET("/follow-requests", user, s.handlePendingRequests)
	api.POST("/follow-requests/:username", user, s.handleCreateFollowRequest)
	api.DELETE("/follow-requests/:username", user, s.handleCancelFollowRequest)
	api.POST("/follow-requests/:username/accept", user, s.handleAcceptFollowRequest)
	api.POST("/follow-requests/:username/deny", user, s.handleDenyFollowRequest)
	api.DELETE("/following/:username", user, s.handleUnfollow)
	api.GET("/relationship/:username", user, s.handleRelationship)
	api.GET("/profile", user, s.handleGetProfile)
	api.PUT("/profile", user, s.handleUpdateProfile)

	api.GET("/users", s.handleListUsers)
	api.GET("/users/:username/followers", s.handleFollowers)
	api.GET("/users/:username/followees", s.handleFollowees)
	api.GET("/users/:username/friends", s.handleFriends)
	api.GET("/users/:username/posts", viewer, s.handleUserPosts)

	api.POST("/posts", user, s.handleCreatePost)
	api.GET("/posts/:id", viewer, s.handleGetPost)
	api.GET("/posts/:id/media", viewer, s.handleGetPostMedia)
	api.PUT("/posts/:id", user, s.handleEditPost)
	api.DELETE("/posts/:id", user, s.handleDeletePost)

	return g
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"node":    s.node.Registry.SelfID(),
		"version": util.GetVersion(),
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("node", s.node.Registry.SelfID()).Msg("Starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info().Msg("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
