package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// clientLimiter hands out one token bucket per client address and evicts
// buckets idle for an hour.
type clientLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	rps     rate.Limit
	burst   int
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	cl := &clientLimiter{
		clients: make(map[string]*clientBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
	go cl.evictLoop()
	return cl
}

func (cl *clientLimiter) allow(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	b, ok := cl.clients[host]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(cl.rps, cl.burst)}
		cl.clients[host] = b
	}
	b.lastSeen = time.Now()
	return b.limiter.Allow()
}

func (cl *clientLimiter) evictLoop() {
	for range time.Tick(10 * time.Minute) {
		cutoff := time.Now().Add(-time.Hour)
		cl.mu.Lock()
		for host, b := range cl.clients {
			if b.lastSeen.Before(cutoff) {
				delete(cl.clients, host)
			}
		}
		cl.mu.Unlock()
	}
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(r.RemoteAddr) {
			writeError(w, http.StatusTooManyRequests, CodeRateLimitExceeded, "rate limit exceeded", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.HTTPRequests.WithLabelValues(route, statusClass(rec.status)).Inc()
		s.log.WithFields(logrus.Fields{
			"method":  r.Method,
			"path":    r.URL.Path,
			"status":  rec.status,
			"elapsed": time.Since(start).String(),
		}).Debug("Request handled")
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	timeout := time.Duration(s.cfg.RequestTimeoutSeconds) * time.Second
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
