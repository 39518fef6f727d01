// Package metrics tracks where queries were resolved and what that saved.
// Counters persist as a single JSON row, written at most every 30 seconds;
// shutdown forces a final flush.
package metrics

import (
	"sort"
	"sync"
	"time"

	"ada/internal/logging"
	"ada/internal/store"
)

const (
	p99WindowSize   = 100
	persistDebounce = 30 * time.Second

	// Estimated cost of one remote call, used for the savings figure.
	perCallCostUSD = 0.002
)

// Tier names where a query was resolved.
const (
	TierDeterministic = "deterministic"
	TierLocal         = "local"
	TierAPI           = "api"
)

// tierStats accumulates per-tier counters. Exported fields persist as JSON.
type tierStats struct {
	Count          int64     `json:"count"`
	TotalLatencyMs float64   `json:"totalLatencyMs"`
	LatencyWindow  []float64 `json:"latencyWindow"` // last 100 samples
}

func (t *tierStats) record(latency time.Duration) {
	ms := float64(latency.Milliseconds())
	t.Count++
	t.TotalLatencyMs += ms
	t.LatencyWindow = append(t.LatencyWindow, ms)
	if len(t.LatencyWindow) > p99WindowSize {
		t.LatencyWindow = t.LatencyWindow[len(t.LatencyWindow)-p99WindowSize:]
	}
}

func (t *tierStats) average() float64 {
	if t.Count == 0 {
		return 0
	}
	return t.TotalLatencyMs / float64(t.Count)
}

// p99 over the bounded window, zero when empty.
func (t *tierStats) p99() float64 {
	if len(t.LatencyWindow) == 0 {
		return 0
	}
	sorted := append([]float64(nil), t.LatencyWindow...)
	sort.Float64s(sorted)
	idx := (len(sorted)*99 + 99) / 100 - 1
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// persisted is the JSON shape of the singleton metrics row.
type persisted struct {
	Tiers     map[string]*tierStats `json:"tiers"`
	Fallbacks int64                 `json:"fallbacks"`
}

// Summary is a point-in-time readout for the status command.
type Summary struct {
	Total               int64
	DeterministicPct    float64
	LocalPct            float64
	APIPct              float64
	FallbackRate        float64
	AvgLatencyMs        map[string]float64
	P99LatencyMs        map[string]float64
	EstimatedSavingsUSD float64
}

// Collector accumulates counters and persists them debounced.
type Collector struct {
	mu    sync.Mutex
	data  persisted
	store *store.Store

	lastPersist time.Time
	dirty       bool
	now         func() time.Time
}

// NewCollector loads any persisted counters and resumes from them.
func NewCollector(s *store.Store) *Collector {
	c := &Collector{
		store: s,
		data:  persisted{Tiers: make(map[string]*tierStats)},
		now:   time.Now,
	}
	if found, err := s.LoadRouterMetrics(&c.data); err != nil {
		logging.Get(logging.CategoryMetrics).Warn("failed to load metrics, starting fresh: %v", err)
	} else if found {
		logging.Metrics("resumed metrics: %d prior queries", c.total())
	}
	if c.data.Tiers == nil {
		c.data.Tiers = make(map[string]*tierStats)
	}
	return c
}

// Record notes one resolved query.
func (c *Collector) Record(tier string, latency time.Duration) {
	c.mu.Lock()
	ts, ok := c.data.Tiers[tier]
	if !ok {
		ts = &tierStats{}
		c.data.Tiers[tier] = ts
	}
	ts.record(latency)
	c.dirty = true
	shouldPersist := c.now().Sub(c.lastPersist) >= persistDebounce
	if shouldPersist {
		c.lastPersist = c.now()
	}
	c.mu.Unlock()

	if shouldPersist {
		c.persist()
	}
}

// RecordFallback notes a tier downgrade or escalation caused by a failure.
func (c *Collector) RecordFallback() {
	c.mu.Lock()
	c.data.Fallbacks++
	c.dirty = true
	c.mu.Unlock()
}

// Snapshot computes the summary by value.
func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.total()
	s := Summary{
		Total:        total,
		AvgLatencyMs: make(map[string]float64),
		P99LatencyMs: make(map[string]float64),
	}
	for tier, ts := range c.data.Tiers {
		s.AvgLatencyMs[tier] = ts.average()
		s.P99LatencyMs[tier] = ts.p99()
	}
	if total > 0 {
		s.DeterministicPct = pct(c.count(TierDeterministic), total)
		s.LocalPct = pct(c.count(TierLocal), total)
		s.APIPct = pct(c.count(TierAPI), total)
		s.FallbackRate = pct(c.data.Fallbacks, total)
	}
	avoided := c.count(TierDeterministic) + c.count(TierLocal)
	s.EstimatedSavingsUSD = float64(avoided) * perCallCostUSD
	return s
}

// Flush forces a synchronous persist; call on shutdown.
func (c *Collector) Flush() {
	c.mu.Lock()
	dirty := c.dirty
	c.lastPersist = c.now()
	c.mu.Unlock()
	if dirty {
		c.persist()
	}
}

func (c *Collector) persist() {
	c.mu.Lock()
	snapshot := c.snapshotLocked()
	c.dirty = false
	c.mu.Unlock()

	if err := c.store.SaveRouterMetrics(snapshot); err != nil {
		logging.Get(logging.CategoryMetrics).Warn("failed to persist metrics: %v", err)
	}
}

// snapshotLocked deep-copies the counters so the store can marshal them
// outside the mutex while Record keeps mutating the originals.
func (c *Collector) snapshotLocked() persisted {
	out := persisted{
		Tiers:     make(map[string]*tierStats, len(c.data.Tiers)),
		Fallbacks: c.data.Fallbacks,
	}
	for tier, ts := range c.data.Tiers {
		copied := *ts
		copied.LatencyWindow = append([]float64(nil), ts.LatencyWindow...)
		out.Tiers[tier] = &copied
	}
	return out
}

// total assumes c.mu held.
func (c *Collector) total() int64 {
	var n int64
	for _, ts := range c.data.Tiers {
		n += ts.Count
	}
	return n
}

func (c *Collector) count(tier string) int64 {
	if ts, ok := c.data.Tiers[tier]; ok {
		return ts.Count
	}
	return 0
}

func pct(part, total int64) float64 {
	return 100 * float64(part) / float64(total)
}
