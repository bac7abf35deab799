package interceptors

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/polisai/polis-dispatch/pkg/domain"
)

// RateLimiter implements token bucket rate limiting per route. A rule with an
// empty Route is the default for routes without their own rule; without a
// default, unlisted routes are not limited. Under the default rule only routes
// passed to SetRoutes get a bucket of their own; every other name shares one.
type RateLimiter struct {
	mu        sync.RWMutex
	rules     map[string]domain.RateLimitRule
	routes    map[string]struct{}
	limiters  map[string]*bucket
	now       func() time.Time
	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// idleSweepInterval bounds how often idle buckets are swept. A bucket is only
// evicted once it has been idle long enough to refill completely.
const idleSweepInterval = time.Minute

// NewRateLimiter creates a rate limiter with the provided rules.
func NewRateLimiter(rules []domain.RateLimitRule) *RateLimiter {
	rl := &RateLimiter{now: time.Now}
	rl.Configure(rules)
	return rl
}

// Configure replaces the rules. Buckets whose rule still exists keep their tokens
// and adopt the new rate and burst.
func (rl *RateLimiter) Configure(rules []domain.RateLimitRule) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.rules = make(map[string]domain.RateLimitRule, len(rules))
	for _, rule := range rules {
		rl.rules[rule.Route] = normalizeRule(rule)
	}

	kept := make(map[string]*bucket, len(rl.limiters))
	for key, b := range rl.limiters {
		rule, ok := rl.rules[routeOfKey(key)]
		if !ok {
			continue
		}
		b.limiter.SetLimit(rate.Limit(rule.RequestsPerSecond))
		b.limiter.SetBurst(rule.Burst)
		kept[key] = b
	}
	rl.limiters = kept
}

// SetRoutes declares the route names the dispatcher knows.
func (rl *RateLimiter) SetRoutes(names []string) {
	routes := make(map[string]struct{}, len(names))
	for _, name := range names {
		routes[name] = struct{}{}
	}
	rl.mu.Lock()
	rl.routes = routes
	rl.mu.Unlock()
}

// Allow reports whether one more request for in may proceed now.
func (rl *RateLimiter) Allow(in *domain.HandlerInput) bool {
	limiter := rl.limiterFor(in)
	if limiter == nil {
		return true
	}
	return limiter.Allow()
}

// Process fails with domain.ErrRateLimited when the bucket for in is empty.
func (rl *RateLimiter) Process(ctx context.Context, in *domain.HandlerInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rl.Allow(in) {
		return nil
	}
	return domain.NewDomainError(domain.ErrRateLimited, domain.CodeRateLimited,
		fmt.Sprintf("rate limit exceeded for %q", in.ResolvedName)).
		WithDetail("route", in.ResolvedName)
}

func (rl *RateLimiter) limiterFor(in *domain.HandlerInput) *rate.Limiter {
	route := in.ResolvedName
	now := rl.now()

	rl.mu.RLock()
	rule, ok := rl.rules[route]
	ruleKey := route
	if !ok {
		rule, ok = rl.rules[""]
		ruleKey = ""
		if _, known := rl.routes[route]; !known {
			route = ""
		}
	}
	if !ok {
		rl.mu.RUnlock()
		return nil
	}
	key := bucketKey(ruleKey, route, rule.Scope, in.Envelope)
	b, exists := rl.limiters[key]
	rl.mu.RUnlock()
	if exists {
		b.lastSeen.Store(now.UnixNano())
		return b.limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, exists := rl.limiters[key]; exists {
		b.lastSeen.Store(now.UnixNano())
		return b.limiter
	}
	if now.Sub(rl.lastSweep) >= idleSweepInterval {
		rl.sweepLocked(now)
	}
	b = &bucket{limiter: rate.NewLimiter(rate.Limit(rule.RequestsPerSecond), rule.Burst)}
	b.lastSeen.Store(now.UnixNano())
	rl.limiters[key] = b
	return b.limiter
}

// sweepLocked drops buckets that have been idle long enough to be full again,
// which makes them indistinguishable from a fresh bucket.
func (rl *RateLimiter) sweepLocked(now time.Time) {
	rl.lastSweep = now
	for key, b := range rl.limiters {
		limit := float64(b.limiter.Limit())
		if limit <= 0 {
			continue
		}
		refill := time.Duration(float64(b.limiter.Burst()) / limit * float64(time.Second))
		idle := now.Sub(time.Unix(0, b.lastSeen.Load()))
		if idle >= max(refill, idleSweepInterval) {
			delete(rl.limiters, key)
		}
	}
}

// Stats returns current rate limit statistics for every bucket.
func (rl *RateLimiter) Stats() map[string]RateLimitStats {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	stats := make(map[string]RateLimitStats, len(rl.limiters))
	for key, b := range rl.limiters {
		stats[key] = RateLimitStats{
			Limit:     float64(b.limiter.Limit()),
			BurstSize: b.limiter.Burst(),
			Available: b.limiter.Tokens(),
		}
	}
	return stats
}

// RateLimitStats exposes current state of a rate limit bucket.
type RateLimitStats struct {
	Limit     float64 `json:"limit"`
	BurstSize int     `json:"burstSize"`
	Available float64 `json:"available"`
}

func normalizeRule(rule domain.RateLimitRule) domain.RateLimitRule {
	if rule.RequestsPerSecond <= 0 {
		rule.RequestsPerSecond = 100 // Default rate
	}
	if rule.Burst <= 0 {
		rule.Burst = max(1, int(rule.RequestsPerSecond)) // Default burst = rate
	}
	if rule.Scope == "" {
		rule.Scope = "route"
	}
	return rule
}

// bucketKey is "<rule route>\x00<route>\x00<scope value>". Default-rule buckets are
// still separated per known route.
func bucketKey(ruleRoute, route, scope string, env *domain.Envelope) string {
	var scoped string
	if env != nil {
		switch scope {
		case "session":
			scoped = env.SessionID
		case "user":
			scoped = env.UserID
		}
	}
	return ruleRoute + "\x00" + route + "\x00" + scoped
}

func routeOfKey(key string) string {
	if i := strings.IndexByte(key, 0); i >= 0 {
		return key[:i]
	}
	return key
}
