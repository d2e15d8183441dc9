package federation

import (
	"crypto/subtle"
	"fmt"
	"net/url"
	"strings"

	"github.com/deemkeen/stegonet/domain"
)

// Registry is the read-only table of known nodes, loaded once at startup.
type Registry struct {
	self  string
	nodes []domain.NodeConfig
	byID  map[string]int
}

// NewRegistry validates nodes and builds a registry for the node named self.
// The own node may appear in nodes; it is never a peer.
func NewRegistry(self string, nodes []domain.NodeConfig) (*Registry, error) {
	if self == "" {
		return nil, fmt.Errorf("node id must not be empty")
	}
	if strings.Contains(self, domain.HandleSeparator) {
		return nil, fmt.Errorf("node id %q must not contain %q", self, domain.HandleSeparator)
	}

	r := &Registry{
		self:  self,
		nodes: make([]domain.NodeConfig, 0, len(nodes)),
		byID:  make(map[string]int, len(nodes)),
	}
	for i, n := range nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("node #%d has no id", i+1)
		}
		if strings.Contains(n.ID, domain.HandleSeparator) {
			return nil, fmt.Errorf("node id %q must not contain %q", n.ID, domain.HandleSeparator)
		}
		if _, dup := r.byID[n.ID]; dup {
			return nil, fmt.Errorf("node %q configured twice", n.ID)
		}
		if n.ID != self {
			if n.APIKey == "" {
				return nil, fmt.Errorf("node %q has no api key", n.ID)
			}
			u, err := url.Parse(n.URL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return nil, fmt.Errorf("node %q has an invalid url %q", n.ID, n.URL)
			}
		}
		r.byID[n.ID] = len(r.nodes)
		r.nodes = append(r.nodes, n)
	}
	return r, nil
}

func (r *Registry) SelfID() string {
	return r.self
}

// Self returns the configuration of the own node, or a bare config carrying
// only its id when it is not listed.
func (r *Registry) Self() domain.NodeConfig {
	if i, ok := r.byID[r.self]; ok {
		return r.nodes[i]
	}
	return domain.NodeConfig{ID: r.self}
}

// Resolve looks up a node by id.
func (r *Registry) Resolve(nodeID string) (domain.NodeConfig, error) {
	i, ok := r.byID[nodeID]
	if !ok {
		return domain.NodeConfig{}, ErrUnknownNode.Withf("%q", nodeID)
	}
	return r.nodes[i], nil
}

// AllExcept returns every enabled node other than selfID in configuration
// order.
func (r *Registry) AllExcept(selfID string) []domain.NodeConfig {
	out := make([]domain.NodeConfig, 0, len(r.nodes))
	for _, n := range r.nodes {
		if n.ID == selfID || n.Disabled {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Peers is AllExcept for the own node.
func (r *Registry) Peers() []domain.NodeConfig {
	return r.AllExcept(r.self)
}

// Authenticate identifies the peer presenting apiKey. Every configured key
// is compared so the timing does not reveal which node matched.
func (r *Registry) Authenticate(apiKey string) (domain.NodeConfig, error) {
	if apiKey == "" {
		return domain.NodeConfig{}, ErrUnauthorized.Withf("missing node credential")
	}
	match := -1
	for i, n := range r.nodes {
		if n.ID == r.self || n.APIKey == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(n.APIKey), []byte(apiKey)) == 1 && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return domain.NodeConfig{}, ErrUnauthorized.Withf("unknown node credential")
	}
	node := r.nodes[match]
	if node.Disabled {
		return domain.NodeConfig{}, ErrUnauthorized.Withf("node %s is disabled", node.ID)
	}
	return node, nil
}
