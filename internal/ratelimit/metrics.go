package ratelimit

import (
	"time"

	"storegate/internal/ttlcache"
)

// Event names recorded into the minute buckets.
const (
	eventViolation  = "rate_limit_violation"
	eventBlocked    = "ip_blocked"
	eventSuspicious = "suspicious_activity"
)

const (
	metricsBuckets = 120
	metricsTTL     = time.Hour
)

// metricsStore keeps minute-bucketed event counts in a bounded cache, so
// the metrics themselves cannot grow without bound either. Callers hold the
// limiter's mutex.
type metricsStore struct {
	buckets *ttlcache.Cache[map[string]int]
	now     func() time.Time
}

func newMetricsStore(now func() time.Time) *metricsStore {
	return &metricsStore{
		buckets: ttlcache.New(metricsBuckets, metricsTTL, ttlcache.WithClock[map[string]int](now)),
		now:     now,
	}
}

func (m *metricsStore) record(event string) {
	bucket := m.now().UTC().Format("2006-01-02T15:04")
	counts, ok := m.buckets.Get(bucket)
	if !ok {
		counts = make(map[string]int)
	}
	counts[event]++
	m.buckets.Set(bucket, counts)
}

// snapshot sums event counts across all live buckets.
func (m *metricsStore) snapshot() map[string]int {
	total := make(map[string]int)
	for _, bucket := range m.buckets.Keys() {
		counts, ok := m.buckets.Get(bucket)
		if !ok {
			continue
		}
		for event, n := range counts {
			total[event] += n
		}
	}
	return total
}

func (m *metricsStore) cleanup() {
	m.buckets.Cleanup()
}
