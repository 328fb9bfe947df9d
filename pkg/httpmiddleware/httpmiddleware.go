// Package httpmiddleware adapts a *throttled.Throttled façade into a
// standard net/http middleware, sets the conventional X-RateLimit-*
// response headers, and responds 429 on denial.
//
// Grounded on pkg/api/middleware/ratelimit.go for the header set and the
// fail-open-on-backend-error posture; adapted from the old ad hoc
// ratelimit.Result to the new Decision type, and from a fixed
// (limit, period) pair to a pre-configured Throttled instance since the
// new façade already owns its quota and algorithm.
package httpmiddleware

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/chris-alexander-pop/throttled"
)

// KeyFunc extracts the rate-limit key from an inbound request. RemoteIP
// is the default.
type KeyFunc func(r *http.Request) string

// RemoteIP keys by the request's remote address, stripping the port.
func RemoteIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Option configures the middleware.
type Option func(*options)

type options struct {
	keyFunc KeyFunc
	logger  *slog.Logger
}

// WithKeyFunc overrides the default RemoteIP key extraction.
func WithKeyFunc(f KeyFunc) Option { return func(o *options) { o.keyFunc = f } }

// WithLogger overrides the default slog.Default() logger used to report
// backend failures.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// New wraps an http.Handler with rate limiting driven by t. A backend
// failure (StoreUnavailableError or similar) fails open: the request is
// served and the error logged, since availability outranks throttling
// when the store itself is the thing that's broken.
func New(t *throttled.Throttled, opts ...Option) func(http.Handler) http.Handler {
	o := options{keyFunc: RemoteIP, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := o.keyFunc(r)

			decision, err := t.Limit(r.Context(), key, 0, nil)
			if err != nil {
				o.logger.ErrorContext(r.Context(), "rate limit check failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(decision.ResetAfter).Unix()))

			if decision.Limited {
				w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
