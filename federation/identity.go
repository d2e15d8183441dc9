package federation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/deemkeen/stegonet/domain"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
)

// Handle is a parsed account reference: "bob" or "bob@node2".
type Handle struct {
	Username string // username on the home node
	Node     string // home node id, always set
	Local    bool   // Node is this node
}

// Qualified is the username the account is stored under on this node.
func (h Handle) Qualified() string {
	if h.Local {
		return h.Username
	}
	return domain.QualifyHandle(h.Username, h.Node)
}

func (h Handle) String() string {
	return domain.QualifyHandle(h.Username, h.Node)
}

const (
	maxDisplayNameLength = 128
	maxSummaryLength     = 500
)

// Resolver decides whether a username is native to this node and
// materializes stub accounts for identities living elsewhere. Stub usernames
// are always qualified with their home node so they can never collide with
// native registrations.
type Resolver struct {
	accounts AccountStore
	registry *Registry
	stubs    *expirable.LRU[string, domain.Account]
}

func NewResolver(accounts AccountStore, registry *Registry, cacheSize int, ttl time.Duration) *Resolver {
	return &Resolver{
		accounts: accounts,
		registry: registry,
		stubs:    expirable.NewLRU[string, domain.Account](cacheSize, nil, ttl),
	}
}

func (r *Resolver) SelfNode() string {
	return r.registry.SelfID()
}

// IsLocal reports whether acc is native to this node.
func (r *Resolver) IsLocal(acc *domain.Account) bool {
	return !acc.IsStub(r.registry.SelfID())
}

// RemoteTarget returns the home node of a stub and the username it has there.
func (r *Resolver) RemoteTarget(acc *domain.Account) (string, string) {
	return acc.HomeNode, acc.RemoteUsername()
}

// ValidateUsername checks a username for a native registration.
func ValidateUsername(username string) error {
	switch {
	case username == "":
		return invalid("username must not be empty")
	case len(username) > 64:
		return invalid("username is longer than 64 characters")
	case strings.Contains(username, domain.HandleSeparator):
		return invalid("username %q must not contain %q", username, domain.HandleSeparator)
	case strings.ContainsAny(username, " \t\r\n/\\?#"):
		return invalid("username %q contains forbidden characters", username)
	}
	return nil
}

// ParseHandle splits handle and checks its node against the registry. The
// destination of any remote operation is always derived from here.
func (r *Resolver) ParseHandle(handle string) (Handle, error) {
	user, node := domain.SplitHandle(strings.TrimSpace(handle))
	if err := ValidateUsername(user); err != nil {
		return Handle{}, err
	}
	self := r.registry.SelfID()
	if node == "" || node == self {
		return Handle{Username: user, Node: self, Local: true}, nil
	}
	if _, err := r.registry.Resolve(node); err != nil {
		return Handle{}, err
	}
	return Handle{Username: user, Node: node}, nil
}

// LookupNative returns the approved native account named username.
func (r *Resolver) LookupNative(ctx context.Context, username string) (*domain.Account, error) {
	acc, err := r.accounts.ReadAccByUsername(ctx, username)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrUnknownUser.Withf("%q", username)
	}
	if err != nil {
		return nil, err
	}
	if !r.IsLocal(acc) || !acc.Approved {
		return nil, ErrUnknownUser.Withf("%q", username)
	}
	return acc, nil
}

// Find returns the account stored for h, or nil when this node has never
// seen it.
func (r *Resolver) Find(ctx context.Context, h Handle) (*domain.Account, error) {
	if h.Local {
		acc, err := r.LookupNative(ctx, h.Username)
		if errors.Is(err, ErrUnknownUser) {
			return nil, nil
		}
		return acc, err
	}
	key := h.Qualified()
	if acc, ok := r.stubs.Get(key); ok {
		return &acc, nil
	}
	acc, err := r.accounts.ReadAccByUsername(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.stubs.Add(key, *acc)
	return acc, nil
}

// Lookup is Find reporting ErrUnknownUser for accounts never seen.
func (r *Resolver) Lookup(ctx context.Context, h Handle) (*domain.Account, error) {
	acc, err := r.Find(ctx, h)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, ErrUnknownUser.Withf("%q", h.String())
	}
	return acc, nil
}

// ResolveOrCreateRemote returns the account anchoring username from
// originNode, creating an approved stub on first sight. Concurrent callers
// racing on the same identity all end up with the single stored row.
func (r *Resolver) ResolveOrCreateRemote(ctx context.Context, username, originNode string) (*domain.Account, error) {
	user, node := domain.SplitHandle(username)
	if node != "" && node != originNode {
		return nil, invalid("username %q does not belong to node %s", username, originNode)
	}
	if err := ValidateUsername(user); err != nil {
		return nil, err
	}
	if originNode == "" || originNode == r.registry.SelfID() {
		return r.LookupNative(ctx, user)
	}
	if _, err := r.registry.Resolve(originNode); err != nil {
		return nil, err
	}

	h := Handle{Username: user, Node: originNode}
	acc, err := r.Find(ctx, h)
	if err != nil || acc != nil {
		return acc, err
	}

	stub := &domain.Account{
		Username:    h.Qualified(),
		HomeNode:    originNode,
		Approved:    true,
		DisplayName: user,
	}
	err = r.accounts.CreateAccount(ctx, stub)
	switch {
	case err == nil:
		log.Info().Str("user", stub.Username).Str("node", originNode).Msg("Created stub account for remote identity")
	case errors.Is(err, domain.ErrDuplicate):
		// lost the race, use the winner's row
		stub, err = r.accounts.ReadAccByUsername(ctx, h.Qualified())
	}
	if err != nil {
		return nil, err
	}
	r.stubs.Add(stub.Username, *stub)
	return stub, nil
}

// UpdateProfile stores new profile fields for acc and returns the stored
// account.
func (r *Resolver) UpdateProfile(ctx context.Context, acc *domain.Account, displayName, summary string) (*domain.Account, error) {
	displayName = strings.TrimSpace(displayName)
	switch {
	case len(displayName) > maxDisplayNameLength:
		return nil, invalid("display name is longer than %d characters", maxDisplayNameLength)
	case len(summary) > maxSummaryLength:
		return nil, invalid("summary is longer than %d characters", maxSummaryLength)
	}
	if displayName == "" {
		displayName = acc.RemoteUsername()
	}
	err := r.accounts.UpdateProfile(ctx, acc.Id, displayName, summary)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrUnknownUser.Withf("%q", acc.Username)
	}
	if err != nil {
		return nil, err
	}
	r.stubs.Remove(acc.Username)
	return r.accounts.ReadAccById(ctx, acc.Id)
}

// RegisterNative creates an account native to this node.
func (r *Resolver) RegisterNative(ctx context.Context, username, displayName string, approved bool) (*domain.Account, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if displayName == "" {
		displayName = username
	}
	acc := &domain.Account{Username: username, Approved: approved, DisplayName: displayName}
	err := r.accounts.CreateAccount(ctx, acc)
	if errors.Is(err, domain.ErrDuplicate) {
		return nil, ErrUsernameTaken.Withf("%q", username)
	}
	if err != nil {
		return nil, err
	}
	return acc, nil
}
