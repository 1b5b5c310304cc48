package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/apierr"
)

// clientWindow counts the requests of one client in the current window.
type clientWindow struct {
	hits  int
	until time.Time
}

// fixedWindowLimiter allows limit requests per client per window.
// Expired windows are swept in the background until Stop.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*clientWindow

	done     chan struct{}
	stopOnce sync.Once
}

func newFixedWindowLimiter(limit int, window time.Duration) *fixedWindowLimiter {
	l := &fixedWindowLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		clients: make(map[string]*clientWindow),
		done:    make(chan struct{}),
	}
	go l.sweepEvery(window * 5)
	return l
}

// take records one request from client. When the budget is spent it
// returns false and the time left until the window resets.
func (l *fixedWindowLimiter) take(client string) (bool, time.Duration) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	cw, ok := l.clients[client]
	if !ok || !now.Before(cw.until) {
		cw = &clientWindow{until: now.Add(l.window)}
		l.clients[client] = cw
	}
	if cw.hits >= l.limit {
		return false, cw.until.Sub(now)
	}
	cw.hits++
	return true, 0
}

func (l *fixedWindowLimiter) sweepEvery(d time.Duration) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-t.C:
			l.sweep()
		}
	}
}

func (l *fixedWindowLimiter) sweep() {
	now := l.now()
	l.mu.Lock()
	for client, cw := range l.clients {
		if !now.Before(cw.until) {
			delete(l.clients, client)
		}
	}
	l.mu.Unlock()
}

func (l *fixedWindowLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// withRateLimit rejects clients over budget with 429 and Retry-After.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := s.limiter.take(s.clientIP(r))
		if !ok {
			w.Header().Set("Retry-After", retryAfterSeconds(wait))
			e := apierr.RateLimited()
			e.Message = "Rate limit exceeded. Please try again later"
			s.writeError(w, r, e)
			return
		}
		next.ServeHTTP(w, r)
	})
}
