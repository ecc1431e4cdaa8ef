package ratelimiter

import (
	"sync"
	"time"
)

// Reason describes which window rejected a request
type Reason string

const (
	ReasonNone   Reason = ""
	ReasonBurst  Reason = "burst"
	ReasonWindow Reason = "window"
)

// Config holds the limits for the two nested windows
type Config struct {
	WindowLimit    int
	Window         time.Duration
	BurstLimit     int
	BurstWindow    time.Duration
	IdleDecayAfter time.Duration
}

// RequestRecord tracks request counts for one client identifier
type RequestRecord struct {
	Count            int
	WindowResetAt    time.Time
	RecentTimestamps []time.Time
	LastRequestAt    time.Time
}

// Decision is the outcome of an admission check plus header telemetry
type Decision struct {
	Allowed        bool
	Reason         Reason
	Limit          int
	Remaining      int
	ResetAt        time.Time
	BurstLimit     int
	BurstRemaining int
	RetryAfter     time.Duration
}

// Option configures a RateLimiter
type Option func(*RateLimiter)

// WithClock overrides the time source, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(rl *RateLimiter) {
		rl.now = now
	}
}

// RateLimiter implements per-client sliding window limiting with a shorter burst window
type RateLimiter struct {
	requests map[string]*RequestRecord
	mutex    sync.Mutex
	config   Config
	now      func() time.Time
}

// New creates a new RateLimiter with the given windows
func New(cfg Config, opts ...Option) *RateLimiter {
	if cfg.IdleDecayAfter <= 0 {
		cfg.IdleDecayAfter = 30 * time.Second
	}

	rl := &RateLimiter{
		requests: make(map[string]*RequestRecord),
		config:   cfg,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(rl)
	}

	return rl
}

// Limit returns the long-window request limit
func (rl *RateLimiter) Limit() int {
	return rl.config.WindowLimit
}

// Check records a request from the client and decides whether it is admitted.
// Rejected requests are recorded too, so a client that keeps retrying while
// blocked stays blocked.
func (rl *RateLimiter) Check(clientID string) Decision {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()

	record, exists := rl.requests[clientID]
	if !exists || !now.Before(record.WindowResetAt) {
		record = &RequestRecord{WindowResetAt: now.Add(rl.config.Window)}
		rl.requests[clientID] = record
	}
	record.LastRequestAt = now

	record.RecentTimestamps = append(rl.pruneBurst(record.RecentTimestamps, now), now)

	if over := len(record.RecentTimestamps) - rl.config.BurstLimit; over > 0 {
		// admitted again once the oldest surplus timestamp leaves the window
		retryAfter := record.RecentTimestamps[over].Add(rl.config.BurstWindow).Sub(now)
		record.RecentTimestamps = record.RecentTimestamps[over:]

		decision := rl.decision(record, now)
		decision.Reason = ReasonBurst
		decision.RetryAfter = positive(retryAfter)
		return decision
	}

	record.Count++
	if record.Count > rl.config.WindowLimit {
		decision := rl.decision(record, now)
		decision.Reason = ReasonWindow
		decision.RetryAfter = positive(record.WindowResetAt.Sub(now))
		return decision
	}

	decision := rl.decision(record, now)
	decision.Allowed = true
	return decision
}

// Peek returns the current telemetry for a client without recording a request
func (rl *RateLimiter) Peek(clientID string) Decision {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	record, exists := rl.requests[clientID]
	if !exists || !now.Before(record.WindowResetAt) {
		return rl.decision(&RequestRecord{WindowResetAt: now.Add(rl.config.Window)}, now)
	}

	return rl.decision(record, now)
}

// Sweep removes records whose window has fully elapsed with no burst activity
// and decays the counters of idle clients so they recover gradually
func (rl *RateLimiter) Sweep() (removed, decayed int) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	for clientID, record := range rl.requests {
		record.RecentTimestamps = rl.pruneBurst(record.RecentTimestamps, now)

		if !now.Before(record.WindowResetAt) && len(record.RecentTimestamps) == 0 {
			delete(rl.requests, clientID)
			removed++
			continue
		}

		if now.Sub(record.LastRequestAt) > rl.config.IdleDecayAfter && record.Count > 0 {
			record.Count /= 2
			decayed++
		}
	}

	return removed, decayed
}

// Size returns the number of tracked clients
func (rl *RateLimiter) Size() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	return len(rl.requests)
}

// pruneBurst keeps only timestamps inside the burst window; the slice stays ordered
func (rl *RateLimiter) pruneBurst(timestamps []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-rl.config.BurstWindow)
	i := 0
	for i < len(timestamps) && !timestamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return timestamps
	}

	kept := make([]time.Time, len(timestamps)-i)
	copy(kept, timestamps[i:])
	return kept
}

func (rl *RateLimiter) decision(record *RequestRecord, now time.Time) Decision {
	recent := 0
	cutoff := now.Add(-rl.config.BurstWindow)
	for _, ts := range record.RecentTimestamps {
		if ts.After(cutoff) {
			recent++
		}
	}

	return Decision{
		Limit:          rl.config.WindowLimit,
		Remaining:      clampZero(rl.config.WindowLimit - record.Count),
		ResetAt:        record.WindowResetAt,
		BurstLimit:     rl.config.BurstLimit,
		BurstRemaining: clampZero(rl.config.BurstLimit - recent),
	}
}

func clampZero(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func positive(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Millisecond
	}
	return d
}
