package domain

import "testing"

func TestAccountIsStub(t *testing.T) {
	tests := []struct {
		name     string
		homeNode string
		want     bool
	}{
		{"native without home node", "", false},
		{"native with own node", "node1", false},
		{"remote identity", "node2", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := &Account{Username: "alice", HomeNode: tt.homeNode}
			if got := acc.IsStub("node1"); got != tt.want {
				t.Errorf("IsStub() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSplitHandle(t *testing.T) {
	tests := []struct {
		handle   string
		wantUser string
		wantNode string
	}{
		{"alice", "alice", ""},
		{"alice@node1", "alice", "node1"},
		{"alice@", "alice@", ""},
		{"@node1", "@node1", ""},
		{"a@b@node2", "a@b", "node2"},
	}

	for _, tt := range tests {
		t.Run(tt.handle, func(t *testing.T) {
			user, node := SplitHandle(tt.handle)
			if user != tt.wantUser || node != tt.wantNode {
				t.Errorf("SplitHandle(%q) = (%q, %q), want (%q, %q)", tt.handle, user, node, tt.wantUser, tt.wantNode)
			}
		})
	}
}

func TestQualifyHandle(t *testing.T) {
	if got := QualifyHandle("alice", "node1"); got != "alice@node1" {
		t.Errorf("Expected 'alice@node1', got '%s'", got)
	}
	// Already qualified handles are not qualified twice
	if got := QualifyHandle("alice@node1", "node1"); got != "alice@node1" {
		t.Errorf("Expected 'alice@node1', got '%s'", got)
	}
}

func TestRemoteUsername(t *testing.T) {
	acc := &Account{Username: "bob@node2", HomeNode: "node2"}
	if got := acc.RemoteUsername(); got != "bob" {
		t.Errorf("Expected 'bob', got '%s'", got)
	}
}
