package federation

import (
	"context"
	"errors"

	"github.com/deemkeen/stegonet/domain"
	"github.com/rs/zerolog/log"
)

// Relay runs the follow request lifecycle for local pairs and forwards the
// operations whose target lives on another node. For inter-node pairs the
// receiver's node owns the pending request.
type Relay struct {
	follows  FollowStore
	resolver *Resolver
	client   *NodeClient
}

func NewRelay(follows FollowStore, resolver *Resolver, client *NodeClient) *Relay {
	return &Relay{follows: follows, resolver: resolver, client: client}
}

// CreateFollowRequest asks receiverHandle to accept sender as a follower.
func (r *Relay) CreateFollowRequest(ctx context.Context, sender *domain.Account, receiverHandle string) error {
	h, err := r.resolver.ParseHandle(receiverHandle)
	if err != nil {
		return err
	}
	if h.Local && h.Username == sender.Username {
		return ErrSelfRequest
	}
	if h.Local {
		receiver, err := r.resolver.Lookup(ctx, h)
		if err != nil {
			return err
		}
		return r.requestLocal(ctx, sender, receiver)
	}

	// A mirror edge means the remote side already accepted us.
	if stub, err := r.resolver.Find(ctx, h); err != nil {
		return err
	} else if stub != nil {
		edge, err := r.follows.FindEdge(ctx, sender.Id, stub.Id)
		if err != nil {
			return err
		}
		if edge != nil {
			return ErrAlreadyFollowing
		}
	}

	if err := r.client.CreateFollowRequest(ctx, h.Node, h.Username, sender.Username); err != nil {
		return err
	}
	log.Info().Str("sender", sender.Username).Str("receiver", h.String()).Msg("Forwarded follow request")
	return nil
}

// ReceiveRemoteFollowRequest is the inbound half of an inter-node follow
// request sent by caller on behalf of senderUsername.
func (r *Relay) ReceiveRemoteFollowRequest(ctx context.Context, caller domain.NodeConfig, senderUsername, receiverUsername string) error {
	receiver, err := r.resolver.LookupNative(ctx, receiverUsername)
	if err != nil {
		return err
	}
	sender, err := r.resolver.ResolveOrCreateRemote(ctx, senderUsername, caller.ID)
	if err != nil {
		return err
	}
	return r.requestLocal(ctx, sender, receiver)
}

func (r *Relay) requestLocal(ctx context.Context, sender, receiver *domain.Account) error {
	if sender.Id == receiver.Id {
		return ErrSelfRequest
	}
	edge, err := r.follows.FindEdge(ctx, sender.Id, receiver.Id)
	if err != nil {
		return err
	}
	if edge != nil {
		return ErrAlreadyFollowing
	}
	pending, err := r.follows.FindPendingRequest(ctx, sender.Id, receiver.Id)
	if err != nil {
		return err
	}
	if pending != nil {
		return ErrAlreadyRequested
	}

	err = r.follows.CreateFollowRequest(ctx, &domain.FollowRequest{SenderId: sender.Id, ReceiverId: receiver.Id})
	if errors.Is(err, domain.ErrDuplicate) {
		return ErrAlreadyRequested.With(err)
	}
	return err
}

// Accept turns the pending request from senderHandle into a following edge.
// A sender from another node is materialized if needed, recorded as remote
// follower so it receives receiver's posts, and its node is told.
func (r *Relay) Accept(ctx context.Context, receiver *domain.Account, senderHandle string) error {
	h, err := r.resolver.ParseHandle(senderHandle)
	if err != nil {
		return err
	}
	var sender *domain.Account
	if h.Local {
		sender, err = r.resolver.Lookup(ctx, h)
	} else {
		sender, err = r.resolver.ResolveOrCreateRemote(ctx, h.Username, h.Node)
	}
	if err != nil {
		return err
	}

	var remote *domain.RemoteFollowerRecord
	if !r.resolver.IsLocal(sender) {
		remote = &domain.RemoteFollowerRecord{
			LocalUserId:    receiver.Id,
			RemoteUsername: sender.RemoteUsername(),
			RemoteNode:     sender.HomeNode,
		}
	}

	_, err = r.follows.AcceptFollowRequest(ctx, sender.Id, receiver.Id, remote)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return ErrNoSuchRequest
	case errors.Is(err, domain.ErrDuplicate):
		return ErrAlreadyFollowing.With(err)
	case err != nil:
		return err
	}

	if remote != nil {
		node, user := r.resolver.RemoteTarget(sender)
		if err := r.client.FollowAccepted(ctx, node, user, receiver.Username); err != nil {
			log.Warn().Err(err).Str("node", node).Str("sender", user).Str("receiver", receiver.Username).
				Msg("Could not notify node about accepted follow request")
		}
	}
	return nil
}

// ReceiveFollowAccepted records the mirror of an edge another node created
// when its user accepted senderUsername's request.
func (r *Relay) ReceiveFollowAccepted(ctx context.Context, caller domain.NodeConfig, senderUsername, receiverUsername string) error {
	sender, err := r.resolver.LookupNative(ctx, senderUsername)
	if err != nil {
		return err
	}
	receiver, err := r.resolver.ResolveOrCreateRemote(ctx, receiverUsername, caller.ID)
	if err != nil {
		return err
	}
	_, err = r.follows.CreateEdge(ctx, sender.Id, receiver.Id)
	if errors.Is(err, domain.ErrDuplicate) {
		return nil
	}
	return err
}

// Deny drops the pending request from senderHandle without creating an edge.
func (r *Relay) Deny(ctx context.Context, receiver *domain.Account, senderHandle string) error {
	h, err := r.resolver.ParseHandle(senderHandle)
	if err != nil {
		return err
	}
	sender, err := r.resolver.Find(ctx, h)
	if err != nil {
		return err
	}
	if sender == nil {
		return ErrNoSuchRequest
	}
	return r.deletePending(ctx, sender, receiver)
}

// Cancel withdraws sender's pending request to receiverHandle.
func (r *Relay) Cancel(ctx context.Context, sender *domain.Account, receiverHandle string) error {
	h, err := r.resolver.ParseHandle(receiverHandle)
	if err != nil {
		return err
	}
	if !h.Local {
		return r.client.CancelFollowRequest(ctx, h.Node, h.Username, sender.Username)
	}
	receiver, err := r.resolver.Find(ctx, h)
	if err != nil {
		return err
	}
	if receiver == nil {
		return ErrNoSuchRequest
	}
	return r.deletePending(ctx, sender, receiver)
}

// ReceiveRemoteCancel withdraws a request caller forwarded earlier.
func (r *Relay) ReceiveRemoteCancel(ctx context.Context, caller domain.NodeConfig, senderUsername, receiverUsername string) error {
	receiver, err := r.resolver.LookupNative(ctx, receiverUsername)
	if err != nil {
		return err
	}
	sender, err := r.resolver.Find(ctx, Handle{Username: senderUsername, Node: caller.ID})
	if err != nil {
		return err
	}
	if sender == nil {
		return ErrNoSuchRequest
	}
	return r.deletePending(ctx, sender, receiver)
}

func (r *Relay) deletePending(ctx context.Context, sender, receiver *domain.Account) error {
	deleted, err := r.follows.DeletePendingRequest(ctx, sender.Id, receiver.Id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNoSuchRequest
	}
	return nil
}

// Unfollow removes follower's edge to followeeHandle. For a followee on
// another node the authoritative edge is removed there first, then the local
// mirror.
func (r *Relay) Unfollow(ctx context.Context, follower *domain.Account, followeeHandle string) error {
	h, err := r.resolver.ParseHandle(followeeHandle)
	if err != nil {
		return err
	}
	if h.Local && h.Username == follower.Username {
		return ErrSelfUnfollow
	}
	followee, err := r.resolver.Find(ctx, h)
	if err != nil {
		return err
	}
	if followee == nil {
		return ErrNotFollowing
	}
	if followee.Id == follower.Id {
		return ErrSelfUnfollow
	}
	edge, err := r.follows.FindEdge(ctx, follower.Id, followee.Id)
	if err != nil {
		return err
	}
	if edge == nil {
		return ErrNotFollowing
	}

	if !r.resolver.IsLocal(followee) {
		node, user := r.resolver.RemoteTarget(followee)
		err := r.client.RemoteUnfollow(ctx, node, user, follower.Username)
		// a peer that already forgot the edge does not block the local cleanup
		if err != nil && KindOf(err) != KindNotFound {
			return err
		}
	}

	err = r.follows.DeleteEdge(ctx, follower.Id, followee.Id, nil)
	if errors.Is(err, domain.ErrNotFound) {
		return ErrNotFollowing
	}
	return err
}

// ReceiveRemoteUnfollow removes the edge from a follower on caller's node
// together with its remote follower record.
func (r *Relay) ReceiveRemoteUnfollow(ctx context.Context, caller domain.NodeConfig, followeeUsername, followerUsername string) error {
	followee, err := r.resolver.LookupNative(ctx, followeeUsername)
	if err != nil {
		return err
	}
	follower, err := r.resolver.Find(ctx, Handle{Username: followerUsername, Node: caller.ID})
	if err != nil {
		return err
	}
	if follower == nil {
		return ErrNotFollowing
	}
	rec := &domain.RemoteFollowerRecord{
		LocalUserId:    followee.Id,
		RemoteUsername: follower.RemoteUsername(),
		RemoteNode:     caller.ID,
	}
	err = r.follows.DeleteEdge(ctx, follower.Id, followee.Id, rec)
	if errors.Is(err, domain.ErrNotFound) {
		return ErrNotFollowing
	}
	return err
}

// Relationship describes subjectHandle as seen from observer. Precedence is
// SELF, PENDING, FRIEND, FOLLOWEE, FOLLOWER, NOBODY.
func (r *Relay) Relationship(ctx context.Context, observer *domain.Account, subjectHandle string) (domain.Relationship, error) {
	h, err := r.resolver.ParseHandle(subjectHandle)
	if err != nil {
		return "", err
	}
	if h.Local && h.Username == observer.Username {
		return domain.RelationSelf, nil
	}
	subject, err := r.resolver.Find(ctx, h)
	if err != nil {
		return "", err
	}
	if subject == nil && h.Local {
		return "", ErrUnknownUser.Withf("%q", h.String())
	}
	if subject != nil && subject.Id == observer.Id {
		return domain.RelationSelf, nil
	}

	pending, err := r.hasPending(ctx, observer, subject, h)
	if err != nil {
		return "", err
	}
	if pending {
		return domain.RelationPending, nil
	}
	if subject == nil {
		return domain.RelationNobody, nil
	}

	out, err := r.follows.FindEdge(ctx, observer.Id, subject.Id)
	if err != nil {
		return "", err
	}
	in, err := r.follows.FindEdge(ctx, subject.Id, observer.Id)
	if err != nil {
		return "", err
	}
	switch {
	case out != nil && (out.Mutual || in != nil):
		return domain.RelationFriend, nil
	case out != nil:
		return domain.RelationFollowee, nil
	case in != nil:
		return domain.RelationFollower, nil
	}
	return domain.RelationNobody, nil
}

// hasPending checks for an outstanding observer -> subject request. A
// remote subject's node owns that request, so it is asked; an unreachable
// node counts as "not pending".
func (r *Relay) hasPending(ctx context.Context, observer, subject *domain.Account, h Handle) (bool, error) {
	if h.Local {
		req, err := r.follows.FindPendingRequest(ctx, observer.Id, subject.Id)
		return req != nil, err
	}
	pending, err := r.client.PendingRequests(ctx, h.Node, h.Username)
	if err != nil {
		log.Debug().Err(err).Str("node", h.Node).Msg("Could not fetch remote follow requests")
		return false, nil
	}
	self := r.resolver.SelfNode()
	for _, p := range pending {
		if p.SenderUsername == observer.Username && p.SenderNode == self {
			return true, nil
		}
	}
	return false, nil
}

// PendingRequests lists the requests waiting for receiver's decision.
func (r *Relay) PendingRequests(ctx context.Context, receiver *domain.Account) ([]PendingRequestSummary, error) {
	pending, err := r.follows.ReadPendingRequests(ctx, receiver.Id)
	if err != nil {
		return nil, err
	}
	self := r.resolver.SelfNode()
	out := make([]PendingRequestSummary, 0, len(pending))
	for _, p := range pending {
		s := PendingRequestSummary{SenderUsername: p.Sender.Username, SenderNode: self, CreatedAt: p.CreatedAt}
		if !r.resolver.IsLocal(&p.Sender) {
			s.SenderNode, s.SenderUsername = r.resolver.RemoteTarget(&p.Sender)
		}
		out = append(out, s)
	}
	return out, nil
}

// RemotePendingRequests serves a peer asking for receiverUsername's
// pending requests.
func (r *Relay) RemotePendingRequests(ctx context.Context, receiverUsername string) ([]PendingRequestSummary, error) {
	receiver, err := r.resolver.LookupNative(ctx, receiverUsername)
	if err != nil {
		return nil, err
	}
	return r.PendingRequests(ctx, receiver)
}

// Followers, Followees and Friends list the graph around the account behind
// handle.
func (r *Relay) Followers(ctx context.Context, handle string) ([]domain.Account, error) {
	acc, err := r.lookup(ctx, handle)
	if err != nil {
		return nil, err
	}
	return r.follows.ReadFollowers(ctx, acc.Id)
}

func (r *Relay) Followees(ctx context.Context, handle string) ([]domain.Account, error) {
	acc, err := r.lookup(ctx, handle)
	if err != nil {
		return nil, err
	}
	return r.follows.ReadFollowees(ctx, acc.Id)
}

func (r *Relay) Friends(ctx context.Context, handle string) ([]domain.Account, error) {
	acc, err := r.lookup(ctx, handle)
	if err != nil {
		return nil, err
	}
	return r.follows.ReadFriends(ctx, acc.Id)
}

func (r *Relay) lookup(ctx context.Context, handle string) (*domain.Account, error) {
	h, err := r.resolver.ParseHandle(handle)
	if err != nil {
		return nil, err
	}
	return r.resolver.Lookup(ctx, h)
}
