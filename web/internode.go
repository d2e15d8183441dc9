package web

import (
	"errors"
	"net/http"

	"github.com/deemkeen/stegonet/federation"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func (s *Server) handleRemoteFollowRequest(c *gin.Context) {
	var body federation.FollowRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	caller := callerFrom(c)
	receiver := c.Param("username")

	err := s.node.Relay.ReceiveRemoteFollowRequest(c.Request.Context(), caller, body.SenderUsername, receiver)
	switch {
	case errors.Is(err, federation.ErrAlreadyRequested):
		c.Status(http.StatusNoContent)
		return
	case err != nil:
		writeError(c, err)
		return
	}
	log.Info().Str("node", caller.ID).Str("sender", body.SenderUsername).Str("receiver", receiver).
		Msg("Received remote follow request")
	c.JSON(http.StatusOK, federation.MessageResponse{Message: "Follow request created"})
}

func (s *Server) handleRemoteCancel(c *gin.Context) {
	var body federation.FollowRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	err := s.node.Relay.ReceiveRemoteCancel(c.Request.Context(), callerFrom(c), body.SenderUsername, c.Param("username"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, federation.MessageResponse{Message: "Follow request cancelled"})
}

func (s *Server) handleFollowAccepted(c *gin.Context) {
	var body federation.FollowAcceptedBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	err := s.node.Relay.ReceiveFollowAccepted(c.Request.Context(), callerFrom(c), c.Param("username"), body.ReceiverUsername)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, federation.MessageResponse{Message: "Follow recorded"})
}

func (s *Server) handleRemoteUnfollow(c *gin.Context) {
	var body federation.UnfollowBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	err := s.node.Relay.ReceiveRemoteUnfollow(c.Request.Context(), callerFrom(c), c.Param("username"), body.FollowerUsername)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, federation.MessageResponse{Message: "Unfollowed"})
}

func (s *Server) handleRemotePendingRequests(c *gin.Context) {
	receiver := c.Query("receiver")
	if receiver == "" {
		badRequest(c, errors.New("receiver is required"))
		return
	}
	pending, err := s.node.Relay.RemotePendingRequests(c.Request.Context(), receiver)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pending)
}

func (s *Server) handleListLocalUsers(c *gin.Context) {
	users, err := s.node.Aggregator.LocalDirectory(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// handleReceivePost answers 401 to an unknown credential before the
// payload is parsed.
func (s *Server) handleReceivePost(c *gin.Context) {
	apiKey := c.GetHeader(federation.APIKeyHeader)
	if _, err := s.node.Registry.Authenticate(apiKey); err != nil {
		writeErrorStatus(c, http.StatusUnauthorized, err)
		return
	}
	var payload federation.PostPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, err)
		return
	}
	post, err := s.node.Ingestor.Receive(c.Request.Context(), &payload, apiKey)
	switch {
	case errors.Is(err, federation.ErrUnauthorized):
		writeErrorStatus(c, http.StatusUnauthorized, err)
		return
	case err != nil:
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, federation.MessageResponse{Message: "Post " + post.Id.String() + " stored"})
}
