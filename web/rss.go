package web

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deemkeen/stegonet/domain"
	"github.com/deemkeen/stegonet/federation"
	"github.com/deemkeen/stegonet/util"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/feeds"
)

const feedSize = 50

func (s *Server) baseURL() string {
	return strings.TrimRight(s.conf.Conf.PublicUrl, "/")
}

func (s *Server) feedItem(p *domain.Post) *feeds.Item {
	title := p.Title
	if title == "" {
		title = p.PublishedAt.Format(util.DateTimeFormat())
	}
	return &feeds.Item{
		Id:      p.Id.String(),
		Title:   title,
		Link:    &feeds.Link{Href: fmt.Sprintf("%s/feed/%s", s.baseURL(), p.Id)},
		Content: p.Content,
		Author:  &feeds.Author{Name: p.Author},
		Created: p.PublishedAt,
		Updated: p.UpdatedAt,
	}
}

// GetRSS renders the public posts of username, or of everyone known to this
// node when username is empty. Copies of remote posts are included.
func (s *Server) GetRSS(ctx context.Context, username string) (string, error) {
	self := s.node.Registry.SelfID()
	link := s.baseURL() + "/feed"
	title := fmt.Sprintf("All posts on %s", self)

	var author *domain.Account
	if username != "" {
		h, err := s.node.Resolver.ParseHandle(username)
		if err != nil {
			return "", err
		}
		if author, err = s.node.Resolver.Lookup(ctx, h); err != nil {
			return "", err
		}
		title = fmt.Sprintf("Posts by %s", h.String())
		link = fmt.Sprintf("%s?username=%s", link, url.QueryEscape(username))
	}

	posts, err := s.node.Posts.PublicPosts(ctx, author, feedSize)
	if err != nil {
		return "", err
	}

	feed := &feeds.Feed{
		Title:       title,
		Link:        &feeds.Link{Href: link},
		Description: fmt.Sprintf("public posts served by %s", util.GetNameAndVersion()),
		Created:     time.Now(),
	}
	for i := range posts {
		feed.Items = append(feed.Items, s.feedItem(&posts[i]))
	}
	return feed.ToRss()
}

// GetRSSItem renders a single public or unlisted post.
func (s *Server) GetRSSItem(ctx context.Context, id uuid.UUID) (string, error) {
	post, err := s.node.Posts.GetPost(ctx, nil, id)
	if err != nil {
		return "", err
	}
	item := s.feedItem(post)
	feed := &feeds.Feed{
		Title:       item.Title,
		Link:        item.Link,
		Description: fmt.Sprintf("post by %s", post.Author),
		Author:      item.Author,
		Created:     post.PublishedAt,
		Items:       []*feeds.Item{item},
	}
	return feed.ToRss()
}

func (s *Server) handleFeed(c *gin.Context) {
	rss, err := s.GetRSS(c.Request.Context(), c.Query("username"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/xml; charset=utf-8", []byte(rss))
}

func (s *Server) handleFeedItem(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, federation.ErrUnknownPost.With(err))
		return
	}
	rss, err := s.GetRSSItem(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/xml; charset=utf-8", []byte(rss))
}
