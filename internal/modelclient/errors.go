// Package modelclient wraps the Anthropic client with caching, rate
// limiting, circuit breaking, retry, and response repair, so callers see a
// single Extract call that either returns parsed JSON or a classified error.
package modelclient

import (
	"errors"
	"fmt"

	"github.com/sells-group/compintel/internal/resilience"
	"github.com/sells-group/compintel/pkg/anthropic"
)

// ErrKind classifies a model call failure for the caller's recovery policy.
type ErrKind int

const (
	// KindRetryable covers timeouts and 5xx responses; the client retries
	// these internally before surfacing them.
	KindRetryable ErrKind = iota
	// KindRateLimited is a 429. Never blind-retried; the session backs off
	// and requeues the page.
	KindRateLimited
	// KindAuth is a 401/403, terminal for the whole run.
	KindAuth
	// KindValidation means the response could not be repaired into JSON
	// matching the schema.
	KindValidation
	// KindCircuitOpen means the breaker rejected the call without sending it.
	KindCircuitOpen
)

func (k ErrKind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindRateLimited:
		return "rate_limited"
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// ModelError carries the failure classification alongside the cause.
type ModelError struct {
	Kind       ErrKind
	StatusCode int
	Err        error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model call failed (%s): %v", e.Kind, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// Classify maps an error from the Anthropic client to a ModelError.
func Classify(err error) *ModelError {
	var me *ModelError
	if errors.As(err, &me) {
		return me
	}

	status := anthropic.StatusCode(err)
	kind := KindRetryable
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		kind = KindCircuitOpen
	case status == 429:
		kind = KindRateLimited
	case status == 401 || status == 403:
		kind = KindAuth
	case status != 0 && !resilience.IsTransientHTTPStatus(status):
		kind = KindValidation
	}
	return &ModelError{Kind: kind, StatusCode: status, Err: err}
}

// IsKind reports whether err is a ModelError of the given kind.
func IsKind(err error, kind ErrKind) bool {
	var me *ModelError
	return errors.As(err, &me) && me.Kind == kind
}
