package auth

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/mrlokans/crudkit/internal/config"
	"github.com/mrlokans/crudkit/internal/response"
	"github.com/mrlokans/crudkit/internal/status"
)

// RateLimiter throttles failed login attempts per IP+username. Each key owns
// a token bucket holding MaxAttempts tokens and refilling MaxAttempts per
// window; a failure spends a token and an empty bucket locks the key out for
// one window.
type RateLimiter struct {
	mu              sync.Mutex
	attempts        map[string]*attemptRecord
	maxAttempts     int
	window          time.Duration
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	now             func() time.Time
}

type attemptRecord struct {
	limiter     *rate.Limiter
	lockedUntil time.Time
}

// RateLimitConfig contains configuration for the rate limiter.
type RateLimitConfig struct {
	MaxAttempts     int           // Failures allowed per window (default: 5)
	Window          time.Duration // Refill window and lockout length (default: 15m)
	CleanupInterval time.Duration // How often idle records are dropped (default: 5m)
}

// DefaultRateLimitConfig returns the default limits.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxAttempts:     5,
		Window:          15 * time.Minute,
		CleanupInterval: 5 * time.Minute,
	}
}

// RateLimitConfigFrom reads the limits from the auth configuration.
func RateLimitConfigFrom(cfg config.Auth) RateLimitConfig {
	rc := DefaultRateLimitConfig()
	if cfg.MaxLoginAttempts > 0 {
		rc.MaxAttempts = cfg.MaxLoginAttempts
	}
	if cfg.RateLimitWindow > 0 {
		rc.Window = cfg.RateLimitWindow
	}
	return rc
}

// NewRateLimiter creates a rate limiter and starts its cleanup goroutine.
// Call Stop to release it.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	def := DefaultRateLimitConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}

	rl := &RateLimiter{
		attempts:        make(map[string]*attemptRecord),
		maxAttempts:     cfg.MaxAttempts,
		window:          cfg.Window,
		cleanupInterval: cfg.CleanupInterval,
		stopCleanup:     make(chan struct{}),
		now:             time.Now,
	}
	go rl.cleanupLoop()
	return rl
}

// Stop stops the background cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

func makeKey(ip, username string) string {
	return ip + ":" + username
}

// Allow reports whether a login attempt may proceed. When it may not,
// retryAfter is the remaining lockout.
func (rl *RateLimiter) Allow(ip, username string) (bool, time.Duration) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	record, ok := rl.attempts[makeKey(ip, username)]
	if !ok {
		return true, 0
	}
	if now.Before(record.lockedUntil) {
		return false, record.lockedUntil.Sub(now)
	}
	return true, 0
}

// RecordFailure spends one attempt. It reports whether the key is now locked
// and for how long.
func (rl *RateLimiter) RecordFailure(ip, username string) (bool, time.Duration) {
	now := rl.now()
	key := makeKey(ip, username)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	record, ok := rl.attempts[key]
	if !ok {
		every := rl.window / time.Duration(rl.maxAttempts)
		record = &attemptRecord{limiter: rate.NewLimiter(rate.Every(every), rl.maxAttempts)}
		rl.attempts[key] = record
	}
	record.limiter.AllowN(now, 1)
	if record.limiter.TokensAt(now) < 1 {
		record.lockedUntil = now.Add(rl.window)
		return true, rl.window
	}
	return false, 0
}

// RecordSuccess clears the record of a key after a successful login.
func (rl *RateLimiter) RecordSuccess(ip, username string) {
	rl.mu.Lock()
	delete(rl.attempts, makeKey(ip, username))
	rl.mu.Unlock()
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup drops records whose bucket has refilled and whose lockout is over.
func (rl *RateLimiter) cleanup() {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, record := range rl.attempts {
		refilled := record.limiter.TokensAt(now) >= float64(rl.maxAttempts)
		if refilled && !now.Before(record.lockedUntil) {
			delete(rl.attempts, key)
		}
	}
}

// Middleware rejects POST requests whose IP+username is locked out. The
// username is read from a JSON body or from form values.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != "POST" {
			c.Next()
			return
		}

		username := LoginUsername(c)
		if username == "" {
			c.Next()
			return
		}

		if allowed, retryAfter := rl.Allow(c.ClientIP(), username); !allowed {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second)/time.Second)))
			response.Abort(c, status.TooManyRequests)
			return
		}
		c.Next()
	}
}

// LoginUsername returns the username sent with a login request.
func LoginUsername(c *gin.Context) string {
	if name, ok := response.RequestMap(c)["username"].(string); ok {
		return name
	}
	return c.PostForm("username")
}
