// Package ratelimit throttles unauthenticated callers by client IP.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"onboarding/pkg/platform/httputil"
	"onboarding/pkg/platform/middleware/access"
	"onboarding/pkg/requestcontext"
)

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Store counts requests per key inside a window.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (*Result, error)
}

// Limiter wraps handlers with a per-IP request budget.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	prefix string
	logger *slog.Logger
}

type Option func(*Limiter)

// WithPrefix namespaces keys so route groups keep separate budgets.
func WithPrefix(prefix string) Option {
	return func(l *Limiter) {
		l.prefix = prefix
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func New(store Store, limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		limit:  limit,
		window: window,
		prefix: "ip",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// exceededResponse is the 429 body.
type exceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"error_description"`
	RetryAfter int    `json:"retry_after"`
}

// Middleware fails open when the store errors; a non-positive limit disables it.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	if l == nil || l.store == nil || l.limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := access.ClientIP(r)
		now := requestcontext.Now(ctx)

		result, err := l.store.Allow(ctx, l.prefix+":"+ip, l.limit, l.window, now)
		if err != nil {
			l.logger.ErrorContext(ctx, "rate limit check failed", "error", err, "client_ip", ip)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			retryAfter := max(int(math.Ceil(result.ResetAt.Sub(now).Seconds())), 1)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			l.logger.WarnContext(ctx, "rate limit exceeded", "client_ip", ip, "prefix", l.prefix)
			httputil.WriteJSON(w, http.StatusTooManyRequests, &exceededResponse{
				Error:      "rate_limit_exceeded",
				Message:    "too many requests, try again later",
				RetryAfter: retryAfter,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
