package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"storegate/internal/ttlcache"
)

// Cache sizing. Each cache is independently bounded; the sweeper keeps them
// from accumulating dead entries between evictions.
const (
	requestLogTTL    = 15 * time.Minute
	blockTTL         = 2 * time.Hour
	violationTTL     = time.Hour
	suspiciousTTL    = 5 * time.Minute
	suspiciousWindow = time.Minute
)

// suspiciousPattern is a rolling one-minute counter per address.
type suspiciousPattern struct {
	Count     int
	FirstSeen time.Time
}

// Config controls a SlidingWindow instance.
type Config struct {
	// MaxTrackedKeys bounds each internal cache.
	MaxTrackedKeys int
	// SuspiciousThreshold is the per-IP request count within one minute
	// that flags an address as abusive.
	SuspiciousThreshold int
	// SuspiciousBlockDuration is the block applied to flagged addresses.
	SuspiciousBlockDuration time.Duration
	// ViolationLimit is the violation count that escalates into a block.
	ViolationLimit int
	// CleanupInterval is the period of the background sweep. Zero disables
	// the sweeper (tests call Sweep directly).
	CleanupInterval time.Duration
	// Whitelist lists addresses exempt from every check.
	Whitelist []string
	// Clock overrides the time source for tests.
	Clock func() time.Time
}

// SlidingWindow is an in-memory rate limiter using an exact timestamp-log
// algorithm: each key owns an ordered list of request timestamps pruned to
// the rolling window on every access. Safe for concurrent use; decisions
// for one key are strictly ordered under a single critical section.
type SlidingWindow struct {
	cfg Config
	now func() time.Time

	mu         sync.Mutex
	requests   *ttlcache.Cache[[]int64]
	blocks     *ttlcache.Cache[BlockRecord]
	violations *ttlcache.Cache[int]
	suspicious *ttlcache.Cache[suspiciousPattern]
	metrics    *metricsStore
	whitelist  map[string]struct{}

	done   chan struct{}
	closed bool
}

// NewSlidingWindow creates a limiter and, when CleanupInterval is set,
// starts its background sweeper goroutine. Call Close to stop it.
func NewSlidingWindow(cfg Config) *SlidingWindow {
	if cfg.MaxTrackedKeys <= 0 {
		cfg.MaxTrackedKeys = 10000
	}
	if cfg.SuspiciousThreshold <= 0 {
		cfg.SuspiciousThreshold = 200
	}
	if cfg.SuspiciousBlockDuration <= 0 {
		cfg.SuspiciousBlockDuration = 30 * time.Minute
	}
	if cfg.ViolationLimit <= 0 {
		cfg.ViolationLimit = 10
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	s := &SlidingWindow{
		cfg:        cfg,
		now:        now,
		requests:   ttlcache.New(cfg.MaxTrackedKeys, requestLogTTL, ttlcache.WithClock[[]int64](now)),
		blocks:     ttlcache.New(cfg.MaxTrackedKeys, blockTTL, ttlcache.WithClock[BlockRecord](now)),
		violations: ttlcache.New(cfg.MaxTrackedKeys, violationTTL, ttlcache.WithClock[int](now)),
		suspicious: ttlcache.New(cfg.MaxTrackedKeys, suspiciousTTL, ttlcache.WithClock[suspiciousPattern](now)),
		metrics:    newMetricsStore(now),
		whitelist:  make(map[string]struct{}, len(cfg.Whitelist)),
		done:       make(chan struct{}),
	}
	for _, ip := range cfg.Whitelist {
		s.whitelist[ip] = struct{}{}
	}

	if cfg.CleanupInterval > 0 {
		go s.sweeper()
	}
	return s
}

// Now reads the limiter's configured clock. Callers that compare limiter
// timestamps (block deadlines, window resets) against the present must use
// this clock, not the wall clock.
func (s *SlidingWindow) Now() time.Time {
	return s.now()
}

// Allow decides whether one more request for key fits within the policy
// budget. Timestamps outside the rolling window are pruned; a rejected
// request is never appended, so repeated rejections do not consume budget.
func (s *SlidingWindow) Allow(key string, p Policy) Decision {
	now := s.now()
	nowMs := now.UnixMilli()
	windowStart := nowMs - p.Duration.Milliseconds()

	s.mu.Lock()
	defer s.mu.Unlock()

	log, _ := s.requests.Get(key)
	live := log[:0:0]
	for _, ts := range log {
		if ts > windowStart {
			live = append(live, ts)
		}
	}

	if len(live) >= p.Points {
		resetAt := time.UnixMilli(live[0] + p.Duration.Milliseconds())
		retrySecs := (resetAt.UnixMilli() - nowMs + 999) / 1000
		if retrySecs < 1 {
			retrySecs = 1
		}
		if len(live) < len(log) {
			s.requests.Set(key, live)
		}
		return Decision{
			Allowed:    false,
			Limit:      p.Points,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: time.Duration(retrySecs) * time.Second,
		}
	}

	live = append(live, nowMs)
	s.requests.Set(key, live)

	return Decision{
		Allowed:   true,
		Limit:     p.Points,
		Remaining: p.Points - len(live),
		ResetAt:   time.UnixMilli(live[0] + p.Duration.Milliseconds()),
	}
}

// DetectSuspicious records one request for ip on its rolling one-minute
// counter and reports whether the count has exceeded the abuse threshold.
// Checked independently of, and before, policy admission.
func (s *SlidingWindow) DetectSuspicious(ip string) bool {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	pattern, ok := s.suspicious.Get(ip)
	if !ok || now.Sub(pattern.FirstSeen) > suspiciousWindow {
		pattern = suspiciousPattern{Count: 0, FirstSeen: now}
	}
	pattern.Count++
	s.suspicious.Set(ip, pattern)

	if pattern.Count > s.cfg.SuspiciousThreshold {
		s.metrics.record(eventSuspicious)
		return true
	}
	return false
}

// Block records a block for ip with the given reason and duration.
func (s *SlidingWindow) Block(ip, reason string, d time.Duration) BlockRecord {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	violations, _ := s.violations.Get(ip)
	rec := BlockRecord{
		IP:             ip,
		Until:          now.Add(d),
		Reason:         reason,
		ViolationCount: violations,
	}
	s.blocks.Set(ip, rec)
	s.metrics.record(eventBlocked)

	slog.Warn("IP blocked",
		"ip", ip,
		"reason", reason,
		"until", rec.Until,
		"violations", violations,
	)
	return rec
}

// IsBlocked reports whether ip is currently blocked. An expired record is
// deleted on access, so a block is never observed half-expired.
func (s *SlidingWindow) IsBlocked(ip string) (BlockRecord, bool) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.blocks.Get(ip)
	if !ok {
		return BlockRecord{}, false
	}
	if !now.Before(rec.Until) {
		s.blocks.Delete(ip)
		return BlockRecord{}, false
	}
	return rec, true
}

// Unblock removes ip's block record outright. Operator-facing.
func (s *SlidingWindow) Unblock(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blocks.Get(ip); !ok {
		return false
	}
	s.blocks.Delete(ip)
	return true
}

// RegisterViolation counts one rate-limit violation against ip. Crossing
// the violation limit escalates into a block for the policy's block
// duration; the returned record is non-zero in that case.
func (s *SlidingWindow) RegisterViolation(ip string, p Policy) (BlockRecord, bool) {
	s.mu.Lock()
	count, _ := s.violations.Get(ip)
	count++
	s.violations.Set(ip, count)
	s.metrics.record(eventViolation)
	escalate := count > s.cfg.ViolationLimit
	s.mu.Unlock()

	if !escalate {
		return BlockRecord{}, false
	}

	d := p.BlockDuration
	if d <= 0 {
		d = s.cfg.SuspiciousBlockDuration
	}
	return s.Block(ip, ReasonRepeated, d), true
}

// IsWhitelisted reports whether ip bypasses all admission checks.
func (s *SlidingWindow) IsWhitelisted(ip string) bool {
	_, ok := s.whitelist[ip]
	return ok
}

// Blocks returns all currently active block records.
func (s *SlidingWindow) Blocks() []BlockRecord {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var active []BlockRecord
	for _, ip := range s.blocks.Keys() {
		if rec, ok := s.blocks.Get(ip); ok && now.Before(rec.Until) {
			active = append(active, rec)
		}
	}
	return active
}

// MetricsSnapshot aggregates the limiter's counters for observability
// export.
type MetricsSnapshot struct {
	TrackedKeys   int
	BlockedIPs    int
	SuspiciousIPs int
	Events        map[string]int
}

// Metrics returns an aggregate snapshot of tracked keys, blocked and
// suspicious addresses, and minute-bucketed event counts.
func (s *SlidingWindow) Metrics() MetricsSnapshot {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	blocked := 0
	for _, ip := range s.blocks.Keys() {
		if rec, ok := s.blocks.Get(ip); ok && now.Before(rec.Until) {
			blocked++
		}
	}

	return MetricsSnapshot{
		TrackedKeys:   len(s.requests.Keys()),
		BlockedIPs:    blocked,
		SuspiciousIPs: len(s.suspicious.Keys()),
		Events:        s.metrics.snapshot(),
	}
}

// Sweep purges expired entries across all internal caches and drops
// suspicious patterns whose window started more than five minutes ago.
// Runs under the sweeper goroutine; exported so tests can invoke it
// directly.
func (s *SlidingWindow) Sweep() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests.Cleanup()
	s.blocks.Cleanup()
	s.violations.Cleanup()
	s.metrics.cleanup()

	s.suspicious.Cleanup()
	for _, ip := range s.suspicious.Keys() {
		if pattern, ok := s.suspicious.Get(ip); ok && now.Sub(pattern.FirstSeen) > suspiciousTTL {
			s.suspicious.Delete(ip)
		}
	}
}

// Close stops the background sweeper. Safe to call more than once.
func (s *SlidingWindow) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
}

func (s *SlidingWindow) sweeper() {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
