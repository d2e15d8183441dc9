package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// HandleSeparator joins a remote username and its home node id in a stub
// account's username, e.g. "alice@node1".
const HandleSeparator = "@"

type Account struct {
	Id          uuid.UUID
	Username    string
	HomeNode    string // empty for accounts native to this node
	Approved    bool
	DisplayName string
	Summary     string
	CreatedAt   time.Time
}

// IsStub reports whether the account only anchors an identity living on
// another node.
func (acc *Account) IsStub(selfNode string) bool {
	return acc.HomeNode != "" && acc.HomeNode != selfNode
}

// RemoteUsername returns the username the account has on its home node.
func (acc *Account) RemoteUsername() string {
	user, _ := SplitHandle(acc.Username)
	return user
}

// AccountSummary is the public view of an account exchanged between nodes.
type AccountSummary struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Node        string `json:"node,omitempty"`
}

func (acc *Account) Summarize(node string) AccountSummary {
	return AccountSummary{Username: acc.Username, DisplayName: acc.DisplayName, Node: node}
}

// QualifyHandle builds the node-qualified username used for stub accounts.
func QualifyHandle(username, node string) string {
	if user, n := SplitHandle(username); n != "" {
		username = user
	}
	return username + HandleSeparator + node
}

// SplitHandle splits "user@node" into its parts. A handle without a node
// part returns an empty node.
func SplitHandle(handle string) (string, string) {
	idx := strings.LastIndex(handle, HandleSeparator)
	if idx <= 0 || idx == len(handle)-1 {
		return handle, ""
	}
	return handle[:idx], handle[idx+1:]
}
