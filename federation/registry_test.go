package federation

import (
	"testing"

	"github.com/deemkeen/stegonet/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNodes() []domain.NodeConfig {
	return []domain.NodeConfig{
		{ID: "node1", URL: "http://node1.example"},
		{ID: "node2", URL: "http://node2.example", APIKey: "k2"},
		{ID: "node3", URL: "https://node3.example/", APIKey: "k3"},
		{ID: "node4", URL: "http://node4.example", APIKey: "k4", Disabled: true},
	}
}

func TestNewRegistryValidation(t *testing.T) {
	tests := []struct {
		name  string
		self  string
		nodes []domain.NodeConfig
	}{
		{"empty self", "", nil},
		{"self with separator", "a@b", nil},
		{"missing id", "node1", []domain.NodeConfig{{URL: "http://x", APIKey: "k"}}},
		{"duplicate id", "node1", []domain.NodeConfig{
			{ID: "node2", URL: "http://x", APIKey: "k"},
			{ID: "node2", URL: "http://y", APIKey: "k"},
		}},
		{"missing key", "node1", []domain.NodeConfig{{ID: "node2", URL: "http://x"}}},
		{"bad url", "node1", []domain.NodeConfig{{ID: "node2", URL: "ftp://x", APIKey: "k"}}},
		{"no host", "node1", []domain.NodeConfig{{ID: "node2", URL: "http://", APIKey: "k"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.self, tt.nodes)
			assert.Error(t, err)
		})
	}
}

func TestRegistryResolve(t *testing.T) {
	r, err := NewRegistry("node1", testNodes())
	require.NoError(t, err)

	n, err := r.Resolve("node3")
	require.NoError(t, err)
	assert.Equal(t, "https://node3.example/", n.URL)

	_, err = r.Resolve("node9")
	assert.ErrorIs(t, err, ErrUnknownNode)
	assert.Equal(t, KindNotFound, KindOf(err))

	assert.Equal(t, "node1", r.Self().ID)
}

func TestRegistryAllExceptKeepsOrder(t *testing.T) {
	r, err := NewRegistry("node1", testNodes())
	require.NoError(t, err)

	ids := func(nodes []domain.NodeConfig) []string {
		var out []string
		for _, n := range nodes {
			out = append(out, n.ID)
		}
		return out
	}
	assert.Equal(t, []string{"node2", "node3"}, ids(r.AllExcept("node1")))
	assert.Equal(t, []string{"node1", "node3"}, ids(r.AllExcept("node2")))
	assert.Equal(t, ids(r.AllExcept("node1")), ids(r.Peers()))
}

func TestRegistryAuthenticate(t *testing.T) {
	r, err := NewRegistry("node1", testNodes())
	require.NoError(t, err)

	n, err := r.Authenticate("k3")
	require.NoError(t, err)
	assert.Equal(t, "node3", n.ID)

	for _, key := range []string{"", "wrong", "k4"} {
		_, err := r.Authenticate(key)
		assert.ErrorIs(t, err, ErrUnauthorized, "key %q", key)
	}
}

func TestErrorMatching(t *testing.T) {
	err := ErrAlreadyRequested.Withf("pending on node %s", "node2")
	assert.ErrorIs(t, err, ErrAlreadyRequested)
	assert.NotErrorIs(t, err, ErrAlreadyFollowing)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, "already_requested", ReasonOf(err))
	assert.Contains(t, err.Error(), "node2")

	assert.Equal(t, KindUnknown, KindOf(assert.AnError))
	assert.Equal(t, KindRemoteUnavailable, KindOf(unavailable("node3", assert.AnError)))
	assert.ErrorIs(t, unavailable("node3", assert.AnError), assert.AnError)
}
