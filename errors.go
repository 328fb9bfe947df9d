package throttled

import (
	pkgerrors "github.com/chris-alexander-pop/throttled/pkg/errors"
	"github.com/chris-alexander-pop/throttled/pkg/limiter"
)

// SetUpError reports a wiring fault: an unknown algorithm id, a store
// missing a required atomic action, or an invalid constructor argument.
type SetUpError struct{ *pkgerrors.AppError }

// DataError reports an invalid call-time argument to Throttled: an empty
// key or a non-positive timeout. Store-level argument checks (an hset call
// with no fields, a non-positive TTL) return a pkg/errors AppError with
// CodeData instead.
type DataError struct{ *pkgerrors.AppError }

// StoreUnavailableError reports a remote backend that is reachable in
// principle but currently faulted. Callers may retry at their own
// discretion — Throttled.Limit does not transparently retry it.
// Throttled.Limit and Throttled.Peek do not produce this type: they return
// store and atomic-action failures unconverted (a remote store I/O failure
// as a pkg/errors AppError with CodeUnavailable, a failed script as the
// wrapped go-redis error).
type StoreUnavailableError struct{ *pkgerrors.AppError }

// LimitedError is raised by the scoped-use and callable-wrap adapters
// when a Decision comes back limited. It carries the full Decision.
type LimitedError struct {
	*pkgerrors.AppError
	Decision limiter.Decision
}

func newSetUpError(message string, cause error) *SetUpError {
	return &SetUpError{pkgerrors.SetUp(message, cause)}
}

func newDataError(message string, cause error) *DataError {
	return &DataError{pkgerrors.Data(message, cause)}
}

func newStoreUnavailableError(message string, cause error) *StoreUnavailableError {
	return &StoreUnavailableError{pkgerrors.Unavailable(message, cause)}
}

func newLimitedError(decision limiter.Decision) *LimitedError {
	return &LimitedError{
		AppError: pkgerrors.New(pkgerrors.CodeLimited, "rate limit exceeded", nil),
		Decision: decision,
	}
}
