package federation

import "time"

// Header carrying the static credential shared between two nodes.
const APIKeyHeader = "X-Node-Api-Key"

type FollowRequestBody struct {
	SenderUsername string `json:"sender_username" binding:"required"`
}

type FollowAcceptedBody struct {
	ReceiverUsername string `json:"receiver_username" binding:"required"`
}

type UnfollowBody struct {
	FollowerUsername string `json:"follower_username" binding:"required"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body every node sends with a failed call.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// PendingRequestSummary describes a follow request awaiting a user's
// decision.
type PendingRequestSummary struct {
	SenderUsername string    `json:"sender_username"`
	SenderNode     string    `json:"sender_node"`
	CreatedAt      time.Time `json:"created_at"`
}

type AuthorSummary struct {
	Username    string `json:"username" validate:"required,max=64,excludesall=@/"`
	DisplayName string `json:"display_name" validate:"max=128"`
}

// PostPayload is a post as transferred to the ingestion endpoint of a peer.
// Media travels inline as standard base64.
type PostPayload struct {
	ID          string        `json:"id" validate:"required,uuid"`
	Author      AuthorSummary `json:"author"`
	Title       string        `json:"title" validate:"max=300"`
	Content     string        `json:"content" validate:"max=65536"`
	Visibility  string        `json:"visibility" validate:"required,oneof=PUBLIC UNLISTED FRIENDS PRIVATE DRAFT DELETED"`
	PublishedAt time.Time     `json:"published_at" validate:"required"`
	UpdatedAt   time.Time     `json:"updated_at" validate:"required"`
	IsDeleted   bool          `json:"is_deleted"`
	OriginNode  string        `json:"origin_node" validate:"required"`
	Media       string        `json:"media,omitempty" validate:"omitempty,base64"`
	// Recipients are the followers on the destination node this delivery
	// is meant for.
	Recipients []string `json:"recipients,omitempty"`
}
