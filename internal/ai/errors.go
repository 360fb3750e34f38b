package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind is the propagation-relevant error category. The fallback engine
// pattern-matches on it; adapters never raise kinds outside this set.
type Kind string

const (
	// KindTransient covers timeouts, 5xx responses, and rate limits.
	// Retryable with backoff.
	KindTransient Kind = "transient"
	// KindPermanent covers auth failures, not-found, and bad requests.
	// The fallback engine skips to the next candidate.
	KindPermanent Kind = "permanent"
	// KindBudget marks admission denied by the budget engine. Surfaces
	// immediately, never retried.
	KindBudget Kind = "budget"
	// KindCancelled marks operator- or stop-initiated cancellation.
	KindCancelled Kind = "cancelled"
	// KindExhausted is synthesized when every candidate in a fallback
	// chain has been tried without success.
	KindExhausted Kind = "exhausted"
)

// Error is the typed provider error flowing up from adapters.
type Error struct {
	Kind     Kind
	Provider string
	Model    string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind and provider attribution.
func NewError(kind Kind, provider, model string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Model: model, Err: err}
}

// KindOf extracts the error kind, defaulting to permanent for untyped
// errors: an unclassified failure must not trigger a retry storm.
func KindOf(err error) Kind {
	var aiErr *Error
	if errors.As(err, &aiErr) {
		return aiErr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	return KindPermanent
}

// IsRetryable reports whether the fallback engine may retry the same candidate.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

// classifyStatus maps an HTTP status code onto an error kind.
func classifyStatus(status int) Kind {
	switch {
	case status == 429:
		return KindTransient
	case status >= 500:
		return KindTransient
	case status == 401, status == 403, status == 404, status == 400, status == 402, status == 422:
		return KindPermanent
	default:
		return KindPermanent
	}
}
