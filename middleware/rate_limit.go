package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// SubmitAttempt tracks task submissions from an IP
type SubmitAttempt struct {
	Count    int
	FirstAt  time.Time
	LockedAt time.Time
	IsLocked bool
}

// RateLimiter manages rate limiting for task submissions. Polling reads are
// never limited; only POST submissions count against the window.
type RateLimiter struct {
	mu           sync.RWMutex
	attempts     map[string]*SubmitAttempt
	maxAttempts  int
	windowPeriod time.Duration
	lockDuration time.Duration
}

// Global submission rate limiter instance
var submitRateLimiter *RateLimiter

// InitSubmitRateLimiter initializes the global submission rate limiter
func InitSubmitRateLimiter() {
	submitRateLimiter = NewRateLimiter(30, time.Minute, 5*time.Minute)
	// Start cleanup goroutine
	go submitRateLimiter.startCleanup()
}

// NewRateLimiter creates a new rate limiter
// maxAttempts: maximum submissions allowed within the window
// windowPeriod: time window for counting submissions
// lockDuration: how long to lock the IP after max submissions exceeded
func NewRateLimiter(maxAttempts int, windowPeriod, lockDuration time.Duration) *RateLimiter {
	return &RateLimiter{
		attempts:     make(map[string]*SubmitAttempt),
		maxAttempts:  maxAttempts,
		windowPeriod: windowPeriod,
		lockDuration: lockDuration,
	}
}

// startCleanup periodically cleans up old entries
func (rl *RateLimiter) startCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	for range ticker.C {
		rl.cleanup()
	}
}

// cleanup removes expired entries
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for ip, attempt := range rl.attempts {
		// Remove if lock has expired and window has passed
		if attempt.IsLocked {
			if now.Sub(attempt.LockedAt) > rl.lockDuration {
				delete(rl.attempts, ip)
			}
		} else if now.Sub(attempt.FirstAt) > rl.windowPeriod {
			delete(rl.attempts, ip)
		}
	}
}

// Check checks if an IP may submit, recording the attempt when allowed.
func (rl *RateLimiter) Check(ip string) (bool, int, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	attempt, exists := rl.attempts[ip]

	if !exists {
		rl.attempts[ip] = &SubmitAttempt{Count: 1, FirstAt: now}
		return true, rl.maxAttempts - 1, 0
	}

	// Check if locked
	if attempt.IsLocked {
		remaining := rl.lockDuration - now.Sub(attempt.LockedAt)
		if remaining > 0 {
			return false, 0, remaining
		}
		// Lock expired, reset
		rl.attempts[ip] = &SubmitAttempt{Count: 1, FirstAt: now}
		return true, rl.maxAttempts - 1, 0
	}

	// Check if window expired
	if now.Sub(attempt.FirstAt) > rl.windowPeriod {
		rl.attempts[ip] = &SubmitAttempt{Count: 1, FirstAt: now}
		return true, rl.maxAttempts - 1, 0
	}

	attempt.Count++
	remaining := rl.maxAttempts - attempt.Count
	if remaining < 0 {
		attempt.IsLocked = true
		attempt.LockedAt = now
		return false, 0, rl.lockDuration
	}

	return true, remaining, 0
}

// SubmitRateLimitMiddleware creates a middleware for rate limiting task
// submissions
func SubmitRateLimitMiddleware() gin.HandlerFunc {
	// Ensure rate limiter is initialized
	if submitRateLimiter == nil {
		InitSubmitRateLimiter()
	}

	return func(c *gin.Context) {
		// Only apply to POST requests (actual submissions)
		if c.Request.Method != "POST" {
			c.Next()
			return
		}

		ip := c.ClientIP()
		allowed, remaining, lockDuration := submitRateLimiter.Check(ip)

		// Set headers for client awareness
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many task submissions, slow down",
				"retry_after": int(lockDuration.Seconds()),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// GetSubmitRateLimiter returns the global submission rate limiter
func GetSubmitRateLimiter() *RateLimiter {
	if submitRateLimiter == nil {
		InitSubmitRateLimiter()
	}
	return submitRateLimiter
}
