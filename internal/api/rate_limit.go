package api

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/dunamismax/shrinkpic/internal/ratelimit"
	"go.uber.org/zap"
)

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shouldRateLimit(r) {
			next.ServeHTTP(w, r)
			return
		}

		subject := clientIP(r, s.trustProxy)
		decision, err := s.rateLimiter.Allow(r.Context(), subject)
		if err != nil {
			s.logger.Warn("rate limiter check failed", zap.String("subject", subject), zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		setRateLimitHeaders(w, decision)
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := int(math.Ceil(decision.RetryAfter().Seconds()))
		retryAfter = max(retryAfter, 1)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.metrics.rateLimitRejected.WithLabelValues(routeLabel(r.URL.Path)).Inc()
		s.logger.Info("rate limited", zap.String("subject", subject), zap.Int("retry_after", retryAfter))

		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"success":    false,
			"error":      rateLimitMessage(retryAfter),
			"retryAfter": retryAfter,
			"limit":      decision.Limit,
			"remaining":  0,
		})
	})
}

func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	w.Header().Set("RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	w.Header().Set("RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	w.Header().Set("RateLimit-Reset", strconv.Itoa(int(math.Ceil(d.ResetAfter.Seconds()))))
}

func rateLimitMessage(retryAfterSeconds int) string {
	minutes := (retryAfterSeconds + 59) / 60
	unit := "minutes"
	if minutes == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("Rate limit exceeded. You can process more images in approximately %d %s.", minutes, unit)
}

func shouldRateLimit(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	return r.URL.Path == "/batch-compress" || r.URL.Path == "/v1/jobs"
}

// clientIP keys callers by remote address. Behind a trusted proxy the
// address the proxy saw, the last X-Forwarded-For hop, is used instead.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			hops := strings.Split(fwd, ",")
			if ip := strings.TrimSpace(hops[len(hops)-1]); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
