// quotebook/models/services.go
package models

import (
	"context"
	"crypto/subtle"
	"fmt"
	mrand "math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// --- Collaborators ---

// StorageService stores uploaded image bytes and hands back a retrievable reference.
type StorageService interface {
	SaveFile(ctx context.Context, key string, data []byte, contentType string) (string, error)
	DeleteFile(ctx context.Context, ref string) error
}

// Mailer delivers account notifications.
type Mailer interface {
	SendAccountApproved(ctx context.Context, to, username string) error
}

// --- Stateful Services ---

type RateLimiter struct {
	Mu       sync.RWMutex
	Limiters map[string]*rate.Limiter
	LastSeen map[string]time.Time
	every    time.Duration
	burst    int
	expire   time.Duration
	stop     chan struct{}
}

type ChallengeStore struct {
	Mu         sync.RWMutex
	Challenges map[string]string
	ttl        time.Duration
}

// --- Rate Limiter Methods ---

// NewRateLimiter creates a per-key limiter allowing burst events, refilled once every
// `every`. Keys idle for longer than expire are pruned every prune interval.
func NewRateLimiter(every time.Duration, burst int, prune, expire time.Duration) *RateLimiter {
	rl := &RateLimiter{
		Limiters: make(map[string]*rate.Limiter),
		LastSeen: make(map[string]time.Time),
		every:    every,
		burst:    burst,
		expire:   expire,
		stop:     make(chan struct{}),
	}
	go rl.cleanup(prune)
	return rl
}

// GetLimiter retrieves or creates a rate limiter for a given key (usually an IP address).
func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	rl.Mu.Lock()
	defer rl.Mu.Unlock()
	limiter, exists := rl.Limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rate.Every(rl.every), rl.burst)
		rl.Limiters[key] = limiter
	}
	rl.LastSeen[key] = time.Now()
	return limiter
}

// Allow is shorthand for GetLimiter(key).Allow().
func (rl *RateLimiter) Allow(key string) bool {
	return rl.GetLimiter(key).Allow()
}

// Stop ends the pruning goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stop)
}

// cleanup periodically removes old entries from the rate limiter maps.
func (rl *RateLimiter) cleanup(prune time.Duration) {
	ticker := time.NewTicker(prune)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.Mu.Lock()
			cutoff := time.Now().Add(-rl.expire)
			for key, lastSeen := range rl.LastSeen {
				if lastSeen.Before(cutoff) {
					delete(rl.Limiters, key)
					delete(rl.LastSeen, key)
				}
			}
			rl.Mu.Unlock()
		}
	}
}

// --- Challenge Store Methods ---

// NewChallengeStore creates a store whose challenges expire after ttl.
func NewChallengeStore(ttl time.Duration) *ChallengeStore {
	return &ChallengeStore{Challenges: make(map[string]string), ttl: ttl}
}

// GenerateChallenge creates a new math question challenge.
func (cs *ChallengeStore) GenerateChallenge() (token, question string) {
	a, b := mrand.Intn(10)+1, mrand.Intn(10)+1
	answer := strconv.Itoa(a + b)
	question = fmt.Sprintf("What is %d + %d?", a, b)
	token = uuid.New().String()

	cs.Mu.Lock()
	cs.Challenges[token] = answer
	cs.Mu.Unlock()

	time.AfterFunc(cs.ttl, func() {
		cs.Mu.Lock()
		delete(cs.Challenges, token)
		cs.Mu.Unlock()
	})
	return token, question
}

// Verify checks a challenge answer. Tokens are single use.
func (cs *ChallengeStore) Verify(token, answer string) bool {
	cs.Mu.Lock()
	defer cs.Mu.Unlock()

	correctAnswer, exists := cs.Challenges[token]
	delete(cs.Challenges, token)
	if !exists {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(answer), []byte(correctAnswer)) == 1
}
