package service

import (
	"context"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	settingsKeyDecayRate   = "settings:decay_rate"
	settingsKeyMaxAttempts = "settings:max_retry_attempts"
)

// ScoreSettings supplies the hot-reloadable scoring parameters.
type ScoreSettings interface {
	DecayRate(ctx context.Context) float64
	MaxRetryAttempts(ctx context.Context) int
	RetryDelay() time.Duration
}

// Settings reads decayRate and maxRetryAttempts through the shared Redis
// config store, falling back to the configured defaults when the keys are
// absent or unreadable. Values are cached and refreshed at most once per
// refresh interval.
type Settings struct {
	rdb          *redis.Client
	refreshEvery time.Duration
	retryDelay   time.Duration

	mu          sync.RWMutex
	decayRate   float64
	maxAttempts int
	lastRefresh time.Time
}

func NewSettings(rdb *redis.Client, defaultDecayRate float64, defaultMaxAttempts int, retryDelay, refreshEvery time.Duration) *Settings {
	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = 3
	}
	if retryDelay <= 0 {
		retryDelay = 50 * time.Millisecond
	}
	if refreshEvery <= 0 {
		refreshEvery = 30 * time.Second
	}
	return &Settings{
		rdb:          rdb,
		refreshEvery: refreshEvery,
		retryDelay:   retryDelay,
		decayRate:    defaultDecayRate,
		maxAttempts:  defaultMaxAttempts,
	}
}

func (s *Settings) DecayRate(ctx context.Context) float64 {
	s.maybeRefresh(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.decayRate
}

func (s *Settings) MaxRetryAttempts(ctx context.Context) int {
	s.maybeRefresh(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxAttempts
}

func (s *Settings) RetryDelay() time.Duration {
	return s.retryDelay
}

func (s *Settings) maybeRefresh(ctx context.Context) {
	s.mu.RLock()
	stale := time.Since(s.lastRefresh) >= s.refreshEvery
	s.mu.RUnlock()
	if !stale || s.rdb == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.lastRefresh) < s.refreshEvery {
		return
	}
	s.lastRefresh = time.Now()

	if raw, err := s.rdb.Get(ctx, settingsKeyDecayRate).Result(); err == nil {
		if v, perr := strconv.ParseFloat(raw, 64); perr == nil && v >= 0 && v <= 1 {
			s.decayRate = v
		} else {
			log.Printf("WARN: Ignoring malformed %s value %q", settingsKeyDecayRate, raw)
		}
	} else if !errors.Is(err, redis.Nil) {
		log.Printf("WARN: Failed to refresh %s, keeping %v: %v", settingsKeyDecayRate, s.decayRate, err)
	}

	if raw, err := s.rdb.Get(ctx, settingsKeyMaxAttempts).Result(); err == nil {
		if v, perr := strconv.Atoi(raw); perr == nil && v > 0 {
			s.maxAttempts = v
		} else {
			log.Printf("WARN: Ignoring malformed %s value %q", settingsKeyMaxAttempts, raw)
		}
	} else if !errors.Is(err, redis.Nil) {
		log.Printf("WARN: Failed to refresh %s, keeping %d: %v", settingsKeyMaxAttempts, s.maxAttempts, err)
	}
}
