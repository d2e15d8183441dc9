package federation

import (
	"context"

	"github.com/deemkeen/stegonet/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Aggregator merges the user directories of all nodes.
type Aggregator struct {
	registry *Registry
	accounts AccountStore
	client   *NodeClient
}

func NewAggregator(registry *Registry, accounts AccountStore, client *NodeClient) *Aggregator {
	return &Aggregator{registry: registry, accounts: accounts, client: client}
}

// LocalDirectory lists the approved native accounts of this node, as served
// to peers.
func (a *Aggregator) LocalDirectory(ctx context.Context) ([]domain.AccountSummary, error) {
	accounts, err := a.accounts.ReadNativeAccounts(ctx, a.registry.SelfID())
	if err != nil {
		return nil, err
	}
	out := make([]domain.AccountSummary, 0, len(accounts))
	for i := range accounts {
		out = append(out, accounts[i].Summarize(""))
	}
	return out, nil
}

// ListAllUsersAggregated returns the local directory followed by the
// directory of every peer, each tagged with its node. Peers are queried
// concurrently; one that fails or times out contributes nothing.
func (a *Aggregator) ListAllUsersAggregated(ctx context.Context) ([]domain.AccountSummary, error) {
	self := a.registry.SelfID()
	local, err := a.LocalDirectory(ctx)
	if err != nil {
		return nil, err
	}
	for i := range local {
		local[i].Node = self
	}

	peers := a.registry.Peers()
	results := make([][]domain.AccountSummary, len(peers))
	var g errgroup.Group
	for i, node := range peers {
		i, node := i, node
		g.Go(func() error {
			users, err := a.client.ListUsers(ctx, node.ID)
			if err != nil {
				aggregationFailures.WithLabelValues(node.ID).Inc()
				log.Warn().Err(err).Str("node", node.ID).Msg("Node left out of user directory")
				return nil
			}
			for j := range users {
				users[j].Node = node.ID
			}
			results[i] = users
			return nil
		})
	}
	_ = g.Wait()

	out := local
	for _, users := range results {
		out = append(out, users...)
	}
	return out, nil
}
