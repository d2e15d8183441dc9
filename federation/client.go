package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deemkeen/stegonet/domain"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxResponseBytes = 4 << 20

// leveledZerolog adapts zerolog to retryablehttp. Errors are logged as
// warnings since the client retries them.
type leveledZerolog struct {
	inner zerolog.Logger
}

func (l leveledZerolog) Error(msg string, keysAndValues ...any) {
	l.inner.Warn().Fields(keysAndValues).Msg(msg)
}

func (l leveledZerolog) Warn(msg string, keysAndValues ...any) {
	l.inner.Warn().Fields(keysAndValues).Msg(msg)
}

func (l leveledZerolog) Info(msg string, keysAndValues ...any) {
	l.inner.Debug().Fields(keysAndValues).Msg(msg)
}

func (l leveledZerolog) Debug(msg string, keysAndValues ...any) {
	l.inner.Trace().Fields(keysAndValues).Msg(msg)
}

type ClientOption func(*retryablehttp.Client)

func WithMaxRetries(n int) ClientOption {
	return func(c *retryablehttp.Client) {
		c.RetryMax = n
	}
}

func WithRetryWait(min, max time.Duration) ClientOption {
	return func(c *retryablehttp.Client) {
		c.RetryWaitMin = min
		c.RetryWaitMax = max
	}
}

// retryPolicy leaves 429 to the caller, everything else follows the
// retryablehttp defaults (connection errors and 5xx except 501).
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// NodeClient performs authenticated calls to peer nodes. Every call is
// bounded by the configured timeout, retries included.
type NodeClient struct {
	registry *Registry
	http     *retryablehttp.Client
	timeout  time.Duration
}

func NewNodeClient(registry *Registry, timeout time.Duration, opts ...ClientOption) *NodeClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.CheckRetry = retryPolicy
	rc.Logger = retryablehttp.LeveledLogger(leveledZerolog{inner: log.With().Str("subsystem", "node-client").Logger()})
	for _, opt := range opts {
		opt(rc)
	}
	return &NodeClient{registry: registry, http: rc, timeout: timeout}
}

// call sends body as JSON to path on nodeID and decodes a 2xx response into
// out. The status is returned for successful calls only.
func (c *NodeClient) call(ctx context.Context, nodeID, endpoint, method, path string, query url.Values, body, out any) (int, error) {
	node, err := c.registry.Resolve(nodeID)
	if err != nil {
		return 0, err
	}
	if nodeID == c.registry.SelfID() {
		return 0, invalid("refusing to call the own node %s", nodeID)
	}
	if node.Disabled {
		return 0, ErrRemoteUnavailable.Withf("node %s is disabled", nodeID)
	}

	u := strings.TrimRight(node.URL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return 0, fmt.Errorf("encoding request for %s: %w", nodeID, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, payload)
	if err != nil {
		return 0, err
	}
	req.Header.Set(APIKeyHeader, node.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	remoteCallDuration.WithLabelValues(nodeID, endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		remoteCalls.WithLabelValues(nodeID, endpoint, KindRemoteUnavailable.String()).Inc()
		return 0, unavailable(nodeID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		remoteCalls.WithLabelValues(nodeID, endpoint, KindRemoteUnavailable.String()).Inc()
		return 0, unavailable(nodeID, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rerr := statusError(nodeID, resp.StatusCode, data)
		remoteCalls.WithLabelValues(nodeID, endpoint, KindOf(rerr).String()).Inc()
		return 0, rerr
	}
	remoteCalls.WithLabelValues(nodeID, endpoint, "ok").Inc()

	if out != nil && resp.StatusCode != http.StatusNoContent && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return 0, ErrRemoteUnavailable.Withf("node %s sent an unreadable response: %w", nodeID, err)
		}
	}
	return resp.StatusCode, nil
}

// statusError classifies a failed response. A reason code the peer reports
// is mapped back onto the matching local sentinel.
func statusError(nodeID string, status int, body []byte) error {
	var er ErrorResponse
	_ = json.Unmarshal(body, &er)
	msg := er.Error
	if msg == "" {
		msg = http.StatusText(status)
	}
	cause := fmt.Errorf("node %s answered %d: %s", nodeID, status, msg)

	var kind Kind
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		kind = KindValidation
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuthorization
	case status == http.StatusNotFound:
		kind = KindNotFound
	case status == http.StatusConflict:
		kind = KindConflict
	default:
		return ErrRemoteUnavailable.With(cause)
	}
	if s, ok := sentinels[er.Reason]; ok && s.Kind == kind {
		return s.With(cause)
	}
	switch kind {
	case KindValidation:
		return ErrInvalid.With(cause)
	case KindAuthorization:
		return ErrUnauthorized.With(cause)
	}
	return &Error{Kind: kind, Reason: "remote_" + kind.String(), Err: cause}
}

func userPath(prefix, username string) string {
	return prefix + url.PathEscape(username) + "/"
}

// CreateFollowRequest forwards a follow request for receiver to its home
// node. A duplicate reported by the peer yields ErrAlreadyRequested.
func (c *NodeClient) CreateFollowRequest(ctx context.Context, nodeID, receiver, sender string) error {
	status, err := c.call(ctx, nodeID, "create-follow-request", http.MethodPost,
		userPath("/create-follow-request/", receiver), nil, FollowRequestBody{SenderUsername: sender}, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNoContent {
		return ErrAlreadyRequested.Withf("pending on node %s", nodeID)
	}
	return nil
}

func (c *NodeClient) CancelFollowRequest(ctx context.Context, nodeID, receiver, sender string) error {
	_, err := c.call(ctx, nodeID, "cancel-follow-request", http.MethodPost,
		userPath("/cancel-follow-request/", receiver), nil, FollowRequestBody{SenderUsername: sender}, nil)
	return err
}

// FollowAccepted tells the sender's node that receiver accepted its request.
func (c *NodeClient) FollowAccepted(ctx context.Context, nodeID, sender, receiver string) error {
	_, err := c.call(ctx, nodeID, "follow-accepted", http.MethodPost,
		userPath("/follow-accepted/", sender), nil, FollowAcceptedBody{ReceiverUsername: receiver}, nil)
	return err
}

func (c *NodeClient) RemoteUnfollow(ctx context.Context, nodeID, followee, follower string) error {
	_, err := c.call(ctx, nodeID, "remote-unfollow", http.MethodPost,
		userPath("/remote-unfollow/", followee), nil, UnfollowBody{FollowerUsername: follower}, nil)
	return err
}

func (c *NodeClient) PendingRequests(ctx context.Context, nodeID, receiver string) ([]PendingRequestSummary, error) {
	var out []PendingRequestSummary
	_, err := c.call(ctx, nodeID, "remote-get-follower-requests", http.MethodGet,
		"/remote-get-follower-requests", url.Values{"receiver": {receiver}}, nil, &out)
	return out, err
}

func (c *NodeClient) SendPost(ctx context.Context, nodeID string, payload *PostPayload) error {
	_, err := c.call(ctx, nodeID, "receive-post", http.MethodPost, "/receive-post/", nil, payload, nil)
	return err
}

func (c *NodeClient) ListUsers(ctx context.Context, nodeID string) ([]domain.AccountSummary, error) {
	var out []domain.AccountSummary
	_, err := c.call(ctx, nodeID, "list-all-users", http.MethodGet, "/list-all-users/", nil, nil, &out)
	return out, err
}

// IsUnavailable reports whether err means a peer could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrRemoteUnavailable)
}
