package aso

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a pipeline failure. Collaborator implementations return a
// tagged *Error so callers never have to inspect message text to decide how
// to react.
type Kind string

// Failure kinds surfaced by providers and the orchestrator.
const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindAuth       Kind = "auth"
	KindRateLimit  Kind = "rate_limit"
	KindQuota      Kind = "quota"
	KindUpstream   Kind = "upstream"
	KindMalformed  Kind = "malformed_response"
	KindNoKeywords Kind = "no_keywords"
	KindInternal   Kind = "internal"
)

// HTTPStatus maps a Kind to its HTTP response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAuth:
		return http.StatusUnauthorized
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindQuota:
		return http.StatusPaymentRequired
	case KindUpstream, KindMalformed, KindNoKeywords:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is the structured failure type shared by all collaborators.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// E builds an *Error. Msg may be empty when the wrapped error says enough.
func E(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind from err, or KindInternal for untagged errors.
func KindOf(err error) Kind {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
