// ABOUTME: HTTP middleware for rate limiting, identity resolution, and request logging
// ABOUTME: Rate-limit headers are set on every response, including throttled ones

package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/persona-gateway/internal/auth"
)

// rateLimit counts one attempt per request against the caller identity before
// the body is read.
func (g *Gateway) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := auth.CallerIdentity(r)
		res := g.limiter.Check(caller)

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

		if !res.Allowed {
			retryAfter := res.RetryAfterSeconds(time.Now())
			h.Set("Retry-After", strconv.Itoa(retryAfter))
			g.logger.Warn("rate limit exceeded",
				"caller_id", caller,
				"path", r.URL.Path,
				"retry_after", retryAfter,
			)
			g.sendJSONError(w, http.StatusTooManyRequests, KindRateLimited.String(),
				fmt.Sprintf("Too many requests. Please try again in %d seconds.", retryAfter))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireIdentity attaches the caller and user identity to the request context.
// An invalid bearer token is rejected with 401.
func (g *Gateway) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := g.identity.Resolve(r)
		if err != nil {
			var tokenErr *auth.TokenError
			if errors.As(err, &tokenErr) {
				g.logger.Debug("rejected bearer token", "reason", tokenErr.Reason, "error", err)
			}
			g.sendJSONError(w, http.StatusUnauthorized, KindUnauthorized.String(), "invalid or expired credentials")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

// logRequests logs one line per request after it completes.
func (g *Gateway) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		g.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
