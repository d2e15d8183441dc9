package federation

import (
	"time"

	"github.com/deemkeen/stegonet/domain"
)

type Options struct {
	Self          string
	Nodes         []domain.NodeConfig
	RemoteTimeout time.Duration
	MaxRetries    int
	RetryWaitMin  time.Duration
	RetryWaitMax  time.Duration
	CacheSize     int
	CacheTTL      time.Duration
}

// Node wires the federation components of one node around its stores.
type Node struct {
	Registry   *Registry
	Resolver   *Resolver
	Client     *NodeClient
	Relay      *Relay
	Sync       *Synchronizer
	Ingestor   *Ingestor
	Aggregator *Aggregator
	Posts      *PostService
}

func New(store Store, media MediaStore, opts Options) (*Node, error) {
	registry, err := NewRegistry(opts.Self, opts.Nodes)
	if err != nil {
		return nil, err
	}
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = 5 * time.Second
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	clientOpts := []ClientOption{WithMaxRetries(opts.MaxRetries)}
	if opts.RetryWaitMin > 0 && opts.RetryWaitMax >= opts.RetryWaitMin {
		clientOpts = append(clientOpts, WithRetryWait(opts.RetryWaitMin, opts.RetryWaitMax))
	}

	client := NewNodeClient(registry, opts.RemoteTimeout, clientOpts...)
	resolver := NewResolver(store, registry, opts.CacheSize, opts.CacheTTL)
	synchronizer := NewSynchronizer(store, store, media, registry, client)

	return &Node{
		Registry:   registry,
		Resolver:   resolver,
		Client:     client,
		Relay:      NewRelay(store, resolver, client),
		Sync:       synchronizer,
		Ingestor:   NewIngestor(registry, resolver, store, media),
		Aggregator: NewAggregator(registry, store, client),
		Posts:      NewPostService(store, store, media, synchronizer, resolver),
	}, nil
}
