// Package hooks implements the middleware-style hook chain described in
// §4.6: hooks wrap the rate limit check so they can measure timing, log,
// or emit metrics around it, and a panicking hook is skipped rather than
// aborting the chain. An error returned by a hook is passed back to the
// caller like any other result.
//
// Grounded on original_source/throttled/hooks.py's build_hook_chain.
package hooks

import "github.com/chris-alexander-pop/throttled/pkg/limiter"

// Context carries the rate-limit call's metadata into each hook. It is
// built once before the chain runs and does not include the result —
// that is obtained by calling Next.
type Context struct {
	Key       string
	Cost      int
	Algorithm limiter.AlgorithmID
	StoreType string
}

// Next invokes the next hook in the chain, or the underlying rate limit
// call once the chain is exhausted.
type Next func() (limiter.Decision, error)

// Hook wraps a rate limit check. Implementations call next to continue
// the chain and may inspect or act on the Decision it returns.
type Hook interface {
	OnLimit(next Next, ctx Context) (limiter.Decision, error)
}

// HookFunc adapts a function to the Hook interface.
type HookFunc func(next Next, ctx Context) (limiter.Decision, error)

func (f HookFunc) OnLimit(next Next, ctx Context) (limiter.Decision, error) {
	return f(next, ctx)
}

// BuildChain composes hooks around doLimit using the middleware pattern:
// hooks = [A, B] results in A.OnLimit(B.OnLimit(doLimit)). A hook that
// panics is caught and treated as if it had simply called next() itself,
// so one misbehaving hook never blocks the rate limit decision.
func BuildChain(chain []Hook, doLimit Next, ctx Context) Next {
	if len(chain) == 0 {
		return doLimit
	}

	next := doLimit
	for i := len(chain) - 1; i >= 0; i-- {
		next = wrap(chain[i], next, ctx)
	}
	return next
}

func wrap(h Hook, next Next, ctx Context) Next {
	return func() (decision limiter.Decision, err error) {
		defer func() {
			if r := recover(); r != nil {
				decision, err = next()
			}
		}()
		return h.OnLimit(next, ctx)
	}
}
