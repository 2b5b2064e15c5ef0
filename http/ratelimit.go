package http

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Backoff tuning for hosts that answer 429 or 503.
const (
	InitialBackoff        = 1 * time.Second
	MaxBackoff            = 60 * time.Second
	BackoffMultiplier     = 2.0
	BackoffCooldownPeriod = 5 * time.Minute
	// MinRPSMultiplier is the floor for dynamic rate reduction (25% of the configured rate).
	MinRPSMultiplier = 0.25
)

// RateLimiterConfig sets per-host request rates.
type RateLimiterConfig struct {
	// DataAPIRPS applies to the googleapis.com hosts serving the Data API.
	DataAPIRPS float64
	// DefaultRPS applies to every other host. Zero means unlimited.
	DefaultRPS float64
	// Burst is the token bucket size for every host.
	Burst int
	// CustomRates overrides the rate for specific hosts.
	CustomRates map[string]float64
	// EnableDynamicBackoff slows a host down after rate limit responses.
	EnableDynamicBackoff bool
}

// DefaultRateLimiterConfig keeps the Data API well below its per-user
// request ceiling.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		DataAPIRPS:           5,
		DefaultRPS:           0,
		Burst:                2,
		CustomRates:          make(map[string]float64),
		EnableDynamicBackoff: true,
	}
}

// BackoffState tracks rate limit responses from one host.
type BackoffState struct {
	CurrentBackoff    time.Duration
	LastError         time.Time
	ConsecutiveErrors int
	OriginalRPS       float64
	// ReducedRPS is the rate currently applied, 0 when unreduced.
	ReducedRPS float64
}

// RateLimiter applies a token bucket per host and backs a host off after
// it answers with rate limit responses.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	backoff  map[string]*BackoffState
	config   RateLimiterConfig
	now      func() time.Time
}

// NewRateLimiter returns a RateLimiter for cfg.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.CustomRates == nil {
		cfg.CustomRates = make(map[string]float64)
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		backoff:  make(map[string]*BackoffState),
		config:   cfg,
		now:      time.Now,
	}
}

// RPS returns the configured rate for host.
func (rl *RateLimiter) RPS(host string) float64 {
	if rps, ok := rl.config.CustomRates[host]; ok {
		return rps
	}
	switch host {
	case "www.googleapis.com", "youtube.googleapis.com", "googleapis.com":
		return rl.config.DataAPIRPS
	}
	return rl.config.DefaultRPS
}

// limiter returns the host's token bucket, nil when the host is unlimited.
// Callers hold mu.
func (rl *RateLimiter) limiter(host string) *rate.Limiter {
	if l, ok := rl.limiters[host]; ok {
		return l
	}
	rps := rl.RPS(host)
	if rps <= 0 {
		return nil
	}
	l := rate.NewLimiter(rate.Limit(rps), rl.config.Burst)
	rl.limiters[host] = l
	return l
}

// Wait blocks until host may be called again or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, host string) error {
	if rl == nil {
		return nil
	}
	rl.mu.Lock()
	l := rl.limiter(host)
	rl.mu.Unlock()
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}

// SetCustomRate overrides the rate for host.
func (rl *RateLimiter) SetCustomRate(host string, rps float64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.config.CustomRates[host] = rps
	delete(rl.limiters, host)
}

// RecordRateLimitError notes a rate limit response from host and returns
// how long callers should wait. A longer retryAfter from the server wins.
func (rl *RateLimiter) RecordRateLimitError(host string, retryAfter time.Duration) time.Duration {
	if rl == nil || !rl.config.EnableDynamicBackoff {
		if retryAfter > 0 {
			return retryAfter
		}
		return InitialBackoff
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	state, ok := rl.backoff[host]
	if !ok {
		state = &BackoffState{CurrentBackoff: InitialBackoff, OriginalRPS: rl.RPS(host)}
		rl.backoff[host] = state
	}
	state.LastError = now
	state.ConsecutiveErrors++

	if state.ConsecutiveErrors > 1 {
		state.CurrentBackoff = time.Duration(float64(state.CurrentBackoff) * BackoffMultiplier)
		if state.CurrentBackoff > MaxBackoff {
			state.CurrentBackoff = MaxBackoff
		}
	}
	if retryAfter > state.CurrentBackoff {
		state.CurrentBackoff = retryAfter
	}

	factor := 0.75
	switch {
	case state.ConsecutiveErrors >= 3:
		factor = MinRPSMultiplier
	case state.ConsecutiveErrors == 2:
		factor = 0.5
	}
	state.ReducedRPS = state.OriginalRPS * factor
	if l := rl.limiter(host); l != nil && state.ReducedRPS > 0 {
		l.SetLimit(rate.Limit(state.ReducedRPS))
	}

	return state.CurrentBackoff
}

// RecordSuccess lets a backed-off host recover. After the cooldown period
// the original rate is restored.
func (rl *RateLimiter) RecordSuccess(host string) {
	if rl == nil || !rl.config.EnableDynamicBackoff {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, ok := rl.backoff[host]
	if !ok {
		return
	}

	l := rl.limiters[host]
	if rl.now().Sub(state.LastError) > BackoffCooldownPeriod {
		if l != nil && state.OriginalRPS > 0 {
			l.SetLimit(rate.Limit(state.OriginalRPS))
		}
		delete(rl.backoff, host)
		return
	}

	if state.ConsecutiveErrors > 0 {
		state.ConsecutiveErrors--
		if state.ConsecutiveErrors == 0 && state.ReducedRPS > 0 {
			half := state.OriginalRPS * 0.5
			if half > state.ReducedRPS {
				state.ReducedRPS = half
				if l != nil {
					l.SetLimit(rate.Limit(half))
				}
			}
		}
	}
}

// Backoff returns a copy of host's backoff state, nil if it has none.
func (rl *RateLimiter) Backoff(host string) *BackoffState {
	if rl == nil {
		return nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	state, ok := rl.backoff[host]
	if !ok {
		return nil
	}
	cp := *state
	return &cp
}

// WaitForBackoff blocks until host's current backoff window has passed.
func (rl *RateLimiter) WaitForBackoff(ctx context.Context, host string) error {
	state := rl.Backoff(host)
	if state == nil {
		return nil
	}
	remaining := state.CurrentBackoff - rl.now().Sub(state.LastError)
	if remaining <= 0 {
		return nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
