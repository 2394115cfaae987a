package proxy

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/go-the-way/novnc4svc/internal/logging"
	"github.com/go-the-way/novnc4svc/internal/util"
)

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterStaleAfter      = 10 * time.Minute
)

// limiterEntry holds a rate limiter and the last time it was used
type limiterEntry struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

// ipLimiter rate limits upgrade requests per client IP.
type ipLimiter struct {
	perMinute int
	burst     int
	limiters  sync.Map

	cancel context.CancelFunc
	done   chan struct{}
}

func newIPLimiter(perMinute, burst int) *ipLimiter {
	if burst < 1 {
		burst = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &ipLimiter{
		perMinute: perMinute,
		burst:     burst,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	util.SafeGoWithName("proxy-limiter-cleanup", func() {
		defer close(l.done)
		ticker := time.NewTicker(limiterCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.cleanup(now)
			}
		}
	})
	return l
}

// Allow reports whether ip may open another relay now.
func (l *ipLimiter) Allow(ip string) bool {
	return l.get(ip).Allow()
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	now := time.Now()
	if val, ok := l.limiters.Load(ip); ok {
		e := val.(*limiterEntry)
		e.mu.Lock()
		e.lastSeen = now
		e.mu.Unlock()
		return e.limiter
	}

	// Requests per minute to requests per second
	rps := rate.Limit(float64(l.perMinute) / 60.0)
	e := &limiterEntry{
		limiter:  rate.NewLimiter(rps, l.burst),
		lastSeen: now,
	}
	actual, _ := l.limiters.LoadOrStore(ip, e)
	return actual.(*limiterEntry).limiter
}

// cleanup removes limiters not used since limiterStaleAfter before now.
func (l *ipLimiter) cleanup(now time.Time) int {
	threshold := now.Add(-limiterStaleAfter)
	cleaned := 0
	l.limiters.Range(func(key, value any) bool {
		e := value.(*limiterEntry)
		e.mu.Lock()
		stale := e.lastSeen.Before(threshold)
		e.mu.Unlock()
		if stale {
			l.limiters.Delete(key)
			cleaned++
		}
		return true
	})
	if cleaned > 0 {
		logging.Debug("cleaned up stale rate limiters",
			"count", cleaned,
			logging.Component("proxy"))
	}
	return cleaned
}

func (l *ipLimiter) Stop() {
	l.cancel()
	<-l.done
}

// extractClientIP returns the client address. Proxy headers
// (CF-Connecting-IP, X-Forwarded-For, X-Real-IP) are honoured only when
// trustProxy is set.
func extractClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if cfIP := r.Header.Get("CF-Connecting-IP"); cfIP != "" {
			return strings.TrimSpace(cfIP)
		}

		// X-Forwarded-For: use the leftmost address
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if idx := strings.IndexByte(xff, ','); idx != -1 {
				return strings.TrimSpace(xff[:idx])
			}
			return strings.TrimSpace(xff)
		}

		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
