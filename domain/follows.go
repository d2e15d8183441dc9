package domain

import (
	"time"

	"github.com/google/uuid"
)

// FollowRequest is a pending sender -> receiver follow awaiting the
// receiver's decision.
type FollowRequest struct {
	SenderId   uuid.UUID
	ReceiverId uuid.UUID
	CreatedAt  time.Time
}

// PendingRequest is a FollowRequest joined with the sender's account.
type PendingRequest struct {
	Sender    Account
	CreatedAt time.Time
}

// FollowingEdge is an accepted follow. Mutual is set on both directions once
// each account follows the other.
type FollowingEdge struct {
	FollowerId uuid.UUID
	FolloweeId uuid.UUID
	Mutual     bool
	FollowedAt time.Time
}

// RemoteFollowerRecord marks a named account on another node that follows a
// local account and has to receive its posts.
type RemoteFollowerRecord struct {
	LocalUserId    uuid.UUID
	RemoteUsername string
	RemoteNode     string
	CreatedAt      time.Time
}

type Relationship string

const (
	RelationSelf     Relationship = "SELF"
	RelationPending  Relationship = "PENDING"
	RelationFriend   Relationship = "FRIEND"
	RelationFollowee Relationship = "FOLLOWEE"
	RelationFollower Relationship = "FOLLOWER"
	RelationNobody   Relationship = "NOBODY"
)
