package httpx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/slogx"
	"github.com/aussiebroadwan/sessionguard/pkg/throttle"
)

// KeyExtractor is a function that extracts a unique key from the request
// for throttling purposes (e.g., IP address, subject)
type KeyExtractor func(*http.Request) string

// IPKeyExtractor keys on the client IP.
func IPKeyExtractor(r *http.Request) string { return ClientIP(r) }

// SubjectKeyExtractor keys on the authenticated subject, "" when anonymous.
func SubjectKeyExtractor(r *http.Request) string { return SubjectFromContext(r.Context()) }

// EndpointKeyExtractor keys on the route pattern, falling back to the path.
func EndpointKeyExtractor(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return r.Method + " " + r.URL.Path
}

// CompositeKeyExtractor joins the non-empty parts with "|", the same shape
// throttle.Key produces.
func CompositeKeyExtractor(extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) string {
		parts := make([]string, 0, len(extractors))
		for _, extractor := range extractors {
			parts = append(parts, extractor(r))
		}
		return throttle.Key(parts...)
	}
}

// LimitedWriter renders a throttled response.
type LimitedWriter func(w http.ResponseWriter, r *http.Request, retryAfter time.Duration)

var guardErrSampler = slogx.NewSampler(time.Minute)

// ThrottleMiddleware counts one hit per request against policy. Guard errors
// fail open: the request proceeds and a sampled warning is logged.
func ThrottleMiddleware(g throttle.Guard, p throttle.Policy, key KeyExtractor, onLimited LimitedWriter) Middleware {
	if onLimited == nil {
		onLimited = writeTooManyRequests
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			k := key(r)
			if k == "" {
				slogx.FromContext(ctx).Warn("throttle: unable to extract key, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			d, err := g.Check(ctx, k, p)
			if err != nil {
				guardErrSampler.Warn(ctx, "throttle: guard unavailable, failing open",
					"policy", p.Name,
					"err", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(p.Max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

			if !d.Allowed {
				slogx.FromContext(ctx).Warn("rate limit exceeded",
					"policy", p.Name,
					"endpoint", r.URL.Path,
					"retry_after", d.RetryAfter,
				)
				onLimited(w, r, d.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ThrottleBySubject limits per endpoint, client IP and authenticated subject.
// It must run after RequireAuth.
func ThrottleBySubject(g throttle.Guard, p throttle.Policy, onLimited LimitedWriter) Middleware {
	return ThrottleMiddleware(g, p, CompositeKeyExtractor(
		EndpointKeyExtractor,
		IPKeyExtractor,
		SubjectKeyExtractor,
	), onLimited)
}

// ThrottleByIP limits per endpoint and client IP.
func ThrottleByIP(g throttle.Guard, p throttle.Policy, onLimited LimitedWriter) Middleware {
	return ThrottleMiddleware(g, p, CompositeKeyExtractor(EndpointKeyExtractor, IPKeyExtractor), onLimited)
}

func writeTooManyRequests(w http.ResponseWriter, _ *http.Request, retryAfter time.Duration) {
	secs := max(int((retryAfter+time.Second-1)/time.Second), 1)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	WriteJSON(w, http.StatusTooManyRequests, map[string]string{
		"error":             "rate_limited",
		"error_description": "too many requests, please try again later",
	})
}
