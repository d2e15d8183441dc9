package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Visibility string

const (
	VisibilityPublic   Visibility = "PUBLIC"
	VisibilityUnlisted Visibility = "UNLISTED"
	VisibilityFriends  Visibility = "FRIENDS"
	VisibilityPrivate  Visibility = "PRIVATE"
	VisibilityDraft    Visibility = "DRAFT"
	VisibilityDeleted  Visibility = "DELETED"
)

// ParseVisibility accepts any casing of a known visibility.
func ParseVisibility(s string) (Visibility, error) {
	v := Visibility(strings.ToUpper(strings.TrimSpace(s)))
	switch v {
	case VisibilityPublic, VisibilityUnlisted, VisibilityFriends, VisibilityPrivate, VisibilityDraft, VisibilityDeleted:
		return v, nil
	}
	return "", fmt.Errorf("unknown visibility %q", s)
}

// Distributable reports whether posts with this visibility leave the node.
func (v Visibility) Distributable() bool {
	return v != VisibilityPrivate && v != VisibilityDraft
}

type Post struct {
	Id          uuid.UUID
	AuthorId    uuid.UUID
	Author      string // username, filled by joined reads
	AuthorName  string // display name, filled by joined reads
	Title       string
	Content     string
	Visibility  Visibility
	PublishedAt time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
	LocalCopy   bool
	OriginNode  string
	NeedsSync   bool
	MediaName   string
	MediaType   string
	// Version is bumped by every stored change.
	Version int64
	// RemoteNodesSent holds the nodes that received the current content version.
	RemoteNodesSent []string
}

// PostFilter narrows post listings. Zero values mean "any".
type PostFilter struct {
	AuthorId       uuid.UUID
	Visibilities   []Visibility
	IncludeDeleted bool
	Limit          int
}

func (p *Post) IsDeleted() bool {
	return p.DeletedAt != nil || p.Visibility == VisibilityDeleted
}

// SentTo reports whether node already has the current content version.
func (p *Post) SentTo(node string) bool {
	for _, n := range p.RemoteNodesSent {
		if n == node {
			return true
		}
	}
	return false
}

// MediaNameFor is the storage name of a post's media. It only depends on the
// post id so repeated deliveries overwrite the same object.
func MediaNameFor(id uuid.UUID) string {
	return "post-" + id.String()
}
