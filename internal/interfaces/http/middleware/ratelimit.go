package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/turtacn/NaturaCheck/internal/infrastructure/auth/keycloak"
	"github.com/turtacn/NaturaCheck/pkg/errors"
	"github.com/turtacn/NaturaCheck/pkg/types/common"
)

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int

	// KeyFunc extracts the client key. Defaults to SubjectOrIPKey.
	KeyFunc func(r *http.Request) string

	SkipPaths []string

	// IdleTTL drops limiters of clients idle for longer than this.
	IdleTTL time.Duration
}

// SubjectOrIPKey keys authenticated requests by token subject and the rest
// by remote IP. chi's RealIP middleware has already applied proxy headers.
func SubjectOrIPKey(r *http.Request) string {
	if uid, ok := keycloak.UserIDFromContext(r.Context()); ok && uid != "" {
		return "sub:" + uid
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

type clientLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter holds one token bucket per client key.
type KeyedLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastSweep time.Time
}

// NewKeyedLimiter creates a KeyedLimiter. Idle clients are swept lazily on
// access, so no goroutine is started.
func NewKeyedLimiter(rps float64, burst int, idleTTL time.Duration) *KeyedLimiter {
	if burst < 1 {
		burst = 1
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &KeyedLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
	}
}

// Reserve takes one token for key. It returns whether the request may
// proceed, the tokens left and the wait before the next token.
func (l *KeyedLimiter) Reserve(key string) (bool, int, time.Duration) {
	now := l.now()

	l.mu.Lock()
	if now.Sub(l.lastSweep) > l.idleTTL {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) > l.idleTTL {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}
	c, ok := l.clients[key]
	if !ok {
		c = &clientLimiter{lim: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	l.mu.Unlock()

	if c.lim.AllowN(now, 1) {
		return true, int(math.Floor(c.lim.TokensAt(now))), 0
	}
	wait := time.Second
	if l.limit > 0 {
		missing := 1 - c.lim.TokensAt(now)
		wait = time.Duration(missing / float64(l.limit) * float64(time.Second))
	}
	return false, 0, wait
}

// Clients returns the number of tracked client keys.
func (l *KeyedLimiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// RateLimit rejects clients over their budget with 429 and Retry-After.
func RateLimit(limiter *KeyedLimiter, config RateLimitConfig) func(http.Handler) http.Handler {
	keyFunc := config.KeyFunc
	if keyFunc == nil {
		keyFunc = SubjectOrIPKey
	}
	skip := make(map[string]bool, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skip[p] = true
	}
	limit := strconv.Itoa(limiter.burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			ok, remaining, wait := limiter.Reserve(keyFunc(r))
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			code := errors.ErrCodeTooManyRequests
			_ = json.NewEncoder(w).Encode(common.NewErrorResponse(code.String(), errors.DefaultMessageForCode(code)))
		})
	}
}

// RateLimitMiddleware adapts RateLimit to the router configuration.
type RateLimitMiddleware struct {
	limiter *KeyedLimiter
	handler func(http.Handler) http.Handler
}

// NewRateLimitMiddleware creates a RateLimitMiddleware.
func NewRateLimitMiddleware(config RateLimitConfig) *RateLimitMiddleware {
	l := NewKeyedLimiter(config.RequestsPerSecond, config.Burst, config.IdleTTL)
	return &RateLimitMiddleware{limiter: l, handler: RateLimit(l, config)}
}

// Handler returns the middleware handler function.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return m.handler(next)
}
