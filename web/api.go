package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/deemkeen/stegonet/domain"
	"github.com/deemkeen/stegonet/federation"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type postRequest struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	Visibility string `json:"visibility"`
	// Media is sent as standard base64.
	Media []byte `json:"media"`
}

func (r *postRequest) input() federation.PostInput {
	return federation.PostInput{
		Title:      r.Title,
		Content:    r.Content,
		Visibility: domain.Visibility(r.Visibility),
		Media:      r.Media,
	}
}

type postView struct {
	ID          string    `json:"id"`
	Author      string    `json:"author"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Visibility  string    `json:"visibility"`
	PublishedAt time.Time `json:"published_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	OriginNode  string    `json:"origin_node"`
	LocalCopy   bool      `json:"local_copy"`
	MediaType   string    `json:"media_type,omitempty"`
}

func newPostView(p *domain.Post) postView {
	return postView{
		ID:          p.Id.String(),
		Author:      p.Author,
		Title:       p.Title,
		Content:     p.Content,
		Visibility:  string(p.Visibility),
		PublishedAt: p.PublishedAt,
		UpdatedAt:   p.UpdatedAt,
		OriginNode:  p.OriginNode,
		LocalCopy:   p.LocalCopy,
		MediaType:   p.MediaType,
	}
}

type relationshipView struct {
	Username     string              `json:"username"`
	Relationship domain.Relationship `json:"relationship"`
}

// summarize renders an account with the node it lives on. Stub accounts
// are shown by their username on that node.
func (s *Server) summarize(acc domain.Account) domain.AccountSummary {
	if acc.IsStub(s.node.Registry.SelfID()) {
		return domain.AccountSummary{Username: acc.RemoteUsername(), DisplayName: acc.DisplayName, Node: acc.HomeNode}
	}
	return acc.Summarize(s.node.Registry.SelfID())
}

func (s *Server) summarizeAll(accounts []domain.Account) []domain.AccountSummary {
	return lo.Map(accounts, func(acc domain.Account, _ int) domain.AccountSummary {
		return s.summarize(acc)
	})
}

func pageSize(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultPageSize, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return min(n, maxPageSize), nil
}

func postID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, fmt.Errorf("invalid post id: %w", err))
		return uuid.Nil, false
	}
	return id, true
}

// Follow requests

func (s *Server) handlePendingRequests(c *gin.Context) {
	pending, err := s.node.Relay.PendingRequests(c.Request.Context(), userFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pending)
}

func (s *Server) handleCreateFollowRequest(c *gin.Context) {
	if err := s.node.Relay.CreateFollowRequest(c.Request.Context(), userFrom(c), c.Param("username")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, federation.MessageResponse{Message: "Follow request sent"})
}

func (s *Server) handleCancelFollowRequest(c *gin.Context) {
	if err := s.node.Relay.Cancel(c.Request.Context(), userFrom(c), c.Param("username")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, federation.MessageResponse{Message: "Follow request cancelled"})
}

func (s *Server) handleAcceptFollowRequest(c *gin.Context) {
	if err := s.node.Relay.Accept(c.Request.Context(), userFrom(c), c.Param("username")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, federation.MessageResponse{Message: "Follow request accepted"})
}

func (s *Server) handleDenyFollowRequest(c *gin.Context) {
	if err := s.node.Relay.Deny(c.Request.Context(), userFrom(c), c.Param("username")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, federation.MessageResponse{Message: "Follow request denied"})
}

func (s *Server) handleUnfollow(c *gin.Context) {
	if err := s.node.Relay.Unfollow(c.Request.Context(), userFrom(c), c.Param("username")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, federation.MessageResponse{Message: "Unfollowed"})
}

func (s *Server) handleRelationship(c *gin.Context) {
	subject := c.Param("username")
	rel, err := s.node.Relay.Relationship(c.Request.Context(), userFrom(c), subject)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, relationshipView{Username: subject, Relationship: rel})
}

// Profile

type profileRequest struct {
	DisplayName string `json:"display_name"`
	Summary     string `json:"summary"`
}

type profileView struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Summary     string `json:"summary"`
}

func (s *Server) handleGetProfile(c *gin.Context) {
	acc := userFrom(c)
	c.JSON(http.StatusOK, profileView{Username: acc.Username, DisplayName: acc.DisplayName, Summary: acc.Summary})
}

func (s *Server) handleUpdateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	acc, err := s.node.Resolver.UpdateProfile(c.Request.Context(), userFrom(c), req.DisplayName, req.Summary)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, profileView{Username: acc.Username, DisplayName: acc.DisplayName, Summary: acc.Summary})
}

// Users

func (s *Server) handleListUsers(c *gin.Context) {
	users, err := s.node.Aggregator.ListAllUsersAggregated(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (s *Server) handleFollowers(c *gin.Context) {
	accounts, err := s.node.Relay.Followers(c.Request.Context(), c.Param("username"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.summarizeAll(accounts))
}

func (s *Server) handleFollowees(c *gin.Context) {
	accounts, err := s.node.Relay.Followees(c.Request.Context(), c.Param("username"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.summarizeAll(accounts))
}

func (s *Server) handleFriends(c *gin.Context) {
	accounts, err := s.node.Relay.Friends(c.Request.Context(), c.Param("username"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.summarizeAll(accounts))
}

func (s *Server) handleUserPosts(c *gin.Context) {
	limit, err := pageSize(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	h, err := s.node.Resolver.ParseHandle(c.Param("username"))
	if err != nil {
		writeError(c, err)
		return
	}
	author, err := s.node.Resolver.Lookup(ctx, h)
	if err != nil {
		writeError(c, err)
		return
	}
	posts, err := s.node.Posts.ListPosts(ctx, author, userFrom(c), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(posts, func(p domain.Post, _ int) postView {
		return newPostView(&p)
	}))
}

// Posts

func (s *Server) handleCreatePost(c *gin.Context) {
	var req postRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	post, err := s.node.Posts.CreatePost(c.Request.Context(), userFrom(c), req.input())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newPostView(post))
}

func (s *Server) handleEditPost(c *gin.Context) {
	id, ok := postID(c)
	if !ok {
		return
	}
	var req postRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	post, err := s.node.Posts.EditPost(c.Request.Context(), userFrom(c), id, req.input())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPostView(post))
}

func (s *Server) handleDeletePost(c *gin.Context) {
	id, ok := postID(c)
	if !ok {
		return
	}
	if err := s.node.Posts.DeletePost(c.Request.Context(), userFrom(c), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, federation.MessageResponse{Message: "Post deleted"})
}

func (s *Server) handleGetPost(c *gin.Context) {
	id, ok := postID(c)
	if !ok {
		return
	}
	post, err := s.node.Posts.GetPost(c.Request.Context(), userFrom(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPostView(post))
}

func (s *Server) handleGetPostMedia(c *gin.Context) {
	id, ok := postID(c)
	if !ok {
		return
	}
	post, err := s.node.Posts.GetPost(c.Request.Context(), userFrom(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if post.MediaName == "" {
		writeError(c, federation.ErrUnknownPost.Withf("post %s has no media", id))
		return
	}
	data, err := s.media.LoadMedia(post.MediaName)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(c, federation.ErrUnknownPost.Withf("media of post %s is missing", id))
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, post.MediaType, data)
}
