package middleware

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/httprate"

	"github.com/finora/identity/internal/config"
	"github.com/finora/identity/internal/httputil"
	"github.com/finora/identity/internal/ratelimit"
)

// EdgeRateLimit creates an IP-based rate limiter applied to every route.
// Per-operation budgets are enforced separately by OperationRateLimit.
func EdgeRateLimit(cfg config.RateLimitConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return NoRateLimit()
	}
	return httprate.Limit(
		cfg.MaxRequests,
		cfg.Window,
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			logger.Warn("rate limit exceeded",
				"ip", r.RemoteAddr,
				"path", r.URL.Path,
				"method", r.Method,
				"user_agent", r.UserAgent(),
			)
			httputil.Error(w, http.StatusTooManyRequests, "rate limit exceeded. please try again later")
		}),
	)
}

// NoRateLimit returns a no-op middleware when rate limiting is disabled.
func NoRateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}

// OperationRateLimit enforces the per-class sliding-window budget keyed
// by client IP. Rejections carry a Retry-After header.
func OperationRateLimit(limiter *ratelimit.Limiter, class ratelimit.Class, logger *slog.Logger) func(http.Handler) http.Handler {
	if limiter == nil {
		return NoRateLimit()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := limiter.Admit(class, clientIP(r)); err != nil {
				var limitErr *ratelimit.LimitExceededError
				if errors.As(err, &limitErr) {
					seconds := int(limitErr.RetryAfter.Seconds())
					if seconds < 1 {
						seconds = 1
					}
					w.Header().Set("Retry-After", strconv.Itoa(seconds))
				}
				logger.Warn("operation rate limit exceeded",
					"class", string(class),
					"ip", r.RemoteAddr,
					"path", r.URL.Path,
				)
				httputil.Error(w, http.StatusTooManyRequests, "too many attempts. please try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr so one client does not get a
// fresh budget per connection.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
