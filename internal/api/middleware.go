package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/hackgods/medai-portal/internal/logger"
	"github.com/hackgods/medai-portal/internal/session"
)

// SessionCookie carries the signed session token.
const SessionCookie = "medai_session"

type contextKey string

const sessionKey contextKey = "session"

// RequestIDMiddleware adds a unique request ID to each request context
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), logger.RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs method, path, status and duration of every request.
func LoggingMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			entry := log.WithContext(r.Context()).WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   wrapped.statusCode,
				"duration": time.Since(start).String(),
			})
			if wrapped.statusCode >= http.StatusInternalServerError {
				entry.Error("request failed")
			} else {
				entry.Info("request handled")
			}
		})
	}
}

// RecoveryMiddleware turns a panic into a 500.
func RecoveryMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.WithContext(r.Context()).WithField("panic", rec).Error("panic recovered")
					writeError(w, http.StatusInternalServerError, "internal_error", "")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// SessionMiddleware resolves the browser session from its cookie, opening a
// new one when the cookie is missing or no longer valid.
func SessionMiddleware(sessions *session.Manager, tokens *session.TokenIssuer, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var entry *session.Entry
			if c, err := r.Cookie(SessionCookie); err == nil {
				if sid, err := tokens.Parse(c.Value); err == nil {
					entry, err = sessions.Resume(ctx, sid)
					if err != nil {
						writeError(w, http.StatusServiceUnavailable, "session_unavailable", err.Error())
						return
					}
				}
			}

			if entry == nil {
				var err error
				entry, err = sessions.Open(ctx)
				if err != nil {
					writeError(w, http.StatusServiceUnavailable, "session_unavailable", err.Error())
					return
				}
				token, err := tokens.Issue(entry.ID)
				if err != nil {
					writeError(w, http.StatusInternalServerError, "internal_error", "")
					return
				}
				http.SetCookie(w, &http.Cookie{
					Name:     SessionCookie,
					Value:    token,
					Path:     "/",
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
					MaxAge:   int(tokens.TTL().Seconds()),
				})
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, sessionKey, entry)))
		})
	}
}

func sessionFrom(ctx context.Context) *session.Entry {
	e, _ := ctx.Value(sessionKey).(*session.Entry)
	return e
}

// IPRateLimiter hands out one token bucket per client address. A bucket
// left alone for a full refill window is full again, so Cleanup can drop it
// without changing what the address is allowed.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	limit    rate.Limit
	burst    int
	refill   time.Duration
	now      func() time.Time
}

type ipLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewIPRateLimiter allows perMinute requests per address with a burst of
// the same size.
func NewIPRateLimiter(perMinute int) *IPRateLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &IPRateLimiter{
		limiters: make(map[string]*ipLimiter),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    perMinute,
		refill:   time.Minute,
		now:      time.Now,
	}
}

func (l *IPRateLimiter) Allow(addr string) bool {
	l.mu.Lock()
	entry, ok := l.limiters[addr]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[addr] = entry
	}
	entry.lastAccess = l.now()
	lim := entry.limiter
	l.mu.Unlock()
	return lim.Allow()
}

// Cleanup drops the buckets of addresses not seen for a refill window and
// returns how many it dropped.
func (l *IPRateLimiter) Cleanup() int {
	cutoff := l.now().Add(-l.refill)

	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for addr, entry := range l.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(l.limiters, addr)
			removed++
		}
	}
	return removed
}

// Len reports how many addresses currently hold a bucket.
func (l *IPRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Run calls Cleanup every interval until ctx is cancelled.
func (l *IPRateLimiter) Run(ctx context.Context, interval time.Duration, log *logger.Logger) error {
	if interval <= 0 {
		interval = l.refill
	}
	entry := log.WithComponent("rate_limiter_cleanup")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			entry.Info("shutdown signal received, stopping rate limiter cleanup")
			return nil
		case <-ticker.C:
			if n := l.Cleanup(); n > 0 {
				entry.WithFields(logrus.Fields{
					"removed":   n,
					"remaining": l.Len(),
				}).Debug("evicted idle rate limiters")
			}
		}
	}
}

func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many attempts. Please try again later.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
