package federation

import (
	"errors"
	"fmt"
)

// Kind classifies federation failures so callers can pick a policy
// without inspecting messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthorization
	KindConflict
	KindNotFound
	KindRemoteUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindRemoteUnavailable:
		return "remote_unavailable"
	}
	return "unknown"
}

// Error is a classified federation error. Two errors match under errors.Is
// when their kind and reason agree, so wrapped instances of the sentinels
// below still compare equal to them.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Reason == e.Reason
}

// With returns a copy of e carrying err as its cause.
func (e *Error) With(err error) *Error {
	return &Error{Kind: e.Kind, Reason: e.Reason, Err: err}
}

// Withf is With using a formatted cause.
func (e *Error) Withf(format string, args ...any) *Error {
	return e.With(fmt.Errorf(format, args...))
}

var (
	ErrSelfRequest      = &Error{Kind: KindConflict, Reason: "self_request"}
	ErrAlreadyRequested = &Error{Kind: KindConflict, Reason: "already_requested"}
	ErrAlreadyFollowing = &Error{Kind: KindConflict, Reason: "already_following"}
	ErrSelfUnfollow     = &Error{Kind: KindConflict, Reason: "self_unfollow"}
	ErrNotAuthoritative = &Error{Kind: KindConflict, Reason: "not_authoritative"}
	ErrConflict         = &Error{Kind: KindConflict, Reason: "post_conflict"}
	ErrUsernameTaken    = &Error{Kind: KindConflict, Reason: "username_taken"}

	ErrNoSuchRequest = &Error{Kind: KindNotFound, Reason: "no_such_request"}
	ErrNotFollowing  = &Error{Kind: KindNotFound, Reason: "not_following"}
	ErrUnknownNode   = &Error{Kind: KindNotFound, Reason: "unknown_node"}
	ErrUnknownUser   = &Error{Kind: KindNotFound, Reason: "unknown_user"}
	ErrUnknownPost   = &Error{Kind: KindNotFound, Reason: "unknown_post"}

	ErrUnauthorized = &Error{Kind: KindAuthorization, Reason: "unauthorized"}
	ErrForbidden    = &Error{Kind: KindAuthorization, Reason: "forbidden"}

	ErrInvalid           = &Error{Kind: KindValidation, Reason: "invalid"}
	ErrRemoteUnavailable = &Error{Kind: KindRemoteUnavailable, Reason: "remote_unavailable"}
)

// sentinels indexes the errors above by reason so a reason reported by a
// peer node can be mapped back onto the local sentinel.
var sentinels = map[string]*Error{}

func init() {
	for _, e := range []*Error{
		ErrSelfRequest, ErrAlreadyRequested, ErrAlreadyFollowing, ErrSelfUnfollow,
		ErrNotAuthoritative, ErrConflict, ErrUsernameTaken, ErrNoSuchRequest, ErrNotFollowing,
		ErrUnknownNode, ErrUnknownUser, ErrUnknownPost, ErrUnauthorized, ErrForbidden,
		ErrInvalid, ErrRemoteUnavailable,
	} {
		sentinels[e.Reason] = e
	}
}

// KindOf returns the kind of the first federation error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ReasonOf returns the reason code of the first federation error in err's
// chain, or an empty string.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

func invalid(format string, args ...any) error {
	return ErrInvalid.Withf(format, args...)
}

func unavailable(node string, err error) error {
	return ErrRemoteUnavailable.Withf("node %s: %w", node, err)
}
