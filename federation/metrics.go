package federation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var remoteCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stegonet_remote_calls_total",
	Help: "Calls made to peer nodes, by node, endpoint and outcome kind",
}, []string{"node", "endpoint", "result"})

var remoteCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "stegonet_remote_call_duration_seconds",
	Help:    "Duration of calls made to peer nodes",
	Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
}, []string{"node", "endpoint"})

var postDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stegonet_post_deliveries_total",
	Help: "Post deliveries attempted by the synchronizer, by node and result",
}, []string{"node", "result"})

var postsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stegonet_posts_ingested_total",
	Help: "Posts received from peer nodes, by result",
}, []string{"result"})

var aggregationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stegonet_aggregation_node_failures_total",
	Help: "Peer nodes that contributed nothing to a directory aggregation",
}, []string{"node"})

var resyncedPosts = promauto.NewCounter(prometheus.CounterOpts{
	Name: "stegonet_resync_posts_total",
	Help: "Posts visited by resync sweeps",
})
