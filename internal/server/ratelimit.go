package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"ariadne/internal/apperr"
)

// rateLimiter is a sliding-window limiter keyed by client address. Windows
// are per minute; a background sweep drops idle clients so the map stays
// bounded.
type rateLimiter struct {
	mu     sync.Mutex
	perMin int
	hits   map[string][]time.Time
}

func newRateLimiter(perMin int) *rateLimiter {
	if perMin <= 0 {
		perMin = 120
	}
	rl := &rateLimiter{perMin: perMin, hits: map[string][]time.Time{}}
	go rl.sweep()
	return rl
}

// allow records a hit and reports whether the client is under the limit.
func (rl *rateLimiter) allow(client string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-time.Minute)
	window := rl.hits[client]
	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= rl.perMin {
		rl.hits[client] = kept
		return false
	}
	rl.hits[client] = append(kept, now)
	return true
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(r.RemoteAddr, time.Now()) {
			p := apperr.ProblemOf(apperr.New(apperr.KindUnavailable, "rate limit exceeded"))
			p.Status = http.StatusTooManyRequests
			p.Instance = r.URL.Path
			w.Header().Set("Content-Type", "application/problem+json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(p.Status)
			_ = json.NewEncoder(w).Encode(p)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sweep drops clients with no hits in the last hour.
func (rl *rateLimiter) sweep() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-time.Hour)
		rl.mu.Lock()
		for client, window := range rl.hits {
			if len(window) == 0 || !window[len(window)-1].After(cutoff) {
				delete(rl.hits, client)
			}
		}
		rl.mu.Unlock()
	}
}
