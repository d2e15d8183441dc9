package domain

// NodeConfig describes a peer node. APIKey is the static credential shared
// between this node and the peer, sent in both directions.
type NodeConfig struct {
	ID       string `yaml:"id" json:"id"`
	URL      string `yaml:"url" json:"url"`
	APIKey   string `yaml:"apiKey" json:"-"`
	Disabled bool   `yaml:"disabled" json:"disabled"`
}
