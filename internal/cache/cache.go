// Package cache is the semantic response cache. A cached answer is only
// reused when four conditions hold at once: the query is close enough in
// embedding space, the retrieved fact set is identical, the system version
// (model + personality) matches, and the entry has not expired.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"ada/internal/embedding"
	"ada/internal/logging"
	"ada/internal/store"
	"ada/internal/textutil"
	"ada/internal/vecmath"
)

// QueryClass buckets queries by how long their answers stay valid.
type QueryClass string

const (
	ClassGreeting QueryClass = "greeting"
	ClassTool     QueryClass = "tool"
	ClassFactual  QueryClass = "factual"
)

// TTLFor returns the lifetime of a cached answer per class.
func TTLFor(class QueryClass) time.Duration {
	switch class {
	case ClassGreeting:
		return 5 * time.Minute
	case ClassTool:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

const (
	hotLayerSize = 256

	// Below the hit threshold but above this, log the near miss; tuning
	// the main threshold starts from these lines.
	nearMissThreshold = 0.80
)

// Cache wraps the persisted cache with an in-process LRU for exact repeats.
type Cache struct {
	store         *store.Store
	engine        *embedding.Engine
	threshold     float64
	systemVersion string

	hot *lru.Cache[string, *store.CacheEntry]
	now func() time.Time
}

// New creates the cache. threshold is the cosine-similarity bar for a
// semantic hit (typically 0.92). A nil engine degrades the cache to a
// pass-through: writes no-op and lookups miss past the hot layer.
func New(s *store.Store, engine *embedding.Engine, threshold float64, systemVersion string) *Cache {
	hot, _ := lru.New[string, *store.CacheEntry](hotLayerSize)
	return &Cache{
		store:         s,
		engine:        engine,
		threshold:     threshold,
		systemVersion: systemVersion,
		hot:           hot,
		now:           time.Now,
	}
}

// Version derives the system version from the remote model name and the
// personality file hash. Changing either invalidates every cached answer.
func Version(model, personalityHash string) string {
	sum := sha256.Sum256([]byte(model + "|" + personalityHash))
	return hex.EncodeToString(sum[:8])
}

// FactIDsHash fingerprints a retrieved fact set independent of order.
func FactIDsHash(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(sum[:8])
}

func queryHash(query string) string {
	sum := sha256.Sum256([]byte(strings.Join(textutil.Keywords(query), " ")))
	return hex.EncodeToString(sum[:])
}

// Lookup returns a cached response for query when all hit conditions hold.
func (c *Cache) Lookup(ctx context.Context, query string, factIDs []string) (string, bool) {
	now := c.now()
	factsHash := FactIDsHash(factIDs)

	// Hot layer: exact normalized repeat, no embedding needed.
	if entry, ok := c.hot.Get(queryHash(query)); ok {
		if !entry.Expired(now) && entry.FactIDsHash == factsHash && entry.SystemVersion == c.systemVersion {
			logging.CacheLog("hot cache hit")
			return entry.Response, true
		}
	}

	// Without an engine only the hot layer can hit.
	if c.engine == nil {
		return "", false
	}
	vec, err := c.engine.Embed(ctx, query)
	if err != nil || vec == nil {
		return "", false
	}

	entries, err := c.store.CacheEntries(c.systemVersion, now)
	if err != nil {
		logging.Get(logging.CategoryCache).Warn("cache read failed: %v", err)
		return "", false
	}

	best := 0.0
	var bestEntry *store.CacheEntry
	for _, e := range entries {
		stored, err := vecmath.Deserialize(e.QueryEmbedding)
		if err != nil {
			continue
		}
		sim := vecmath.Cosine(vec, stored)
		if sim > best {
			best = sim
			bestEntry = e
		}
	}

	if bestEntry == nil {
		return "", false
	}
	if best >= c.threshold && bestEntry.FactIDsHash == factsHash {
		logging.CacheLog("semantic cache hit (similarity %.3f)", best)
		c.hot.Add(queryHash(query), bestEntry)
		return bestEntry.Response, true
	}
	if best >= nearMissThreshold {
		logging.Get(logging.CategoryCache).Debug("cache near miss: similarity %.3f (threshold %.2f, facts match %v)",
			best, c.threshold, bestEntry.FactIDsHash == factsHash)
	}
	return "", false
}

// Put stores a response. Failures are logged, never surfaced; the cache is
// an optimization.
func (c *Cache) Put(ctx context.Context, query string, factIDs []string, response string, class QueryClass) {
	if c.engine == nil {
		return
	}
	vec, err := c.engine.Embed(ctx, query)
	if err != nil || vec == nil {
		return
	}

	entry := &store.CacheEntry{
		QueryHash:      queryHash(query),
		QueryEmbedding: vecmath.Serialize(vec),
		FactIDsHash:    FactIDsHash(factIDs),
		SystemVersion:  c.systemVersion,
		Response:       response,
		TTLSeconds:     int(TTLFor(class).Seconds()),
		CreatedAt:      c.now().UTC(),
	}
	if err := c.store.PutCacheEntry(entry); err != nil {
		logging.Get(logging.CategoryCache).Warn("cache write failed: %v", err)
		return
	}
	c.hot.Add(entry.QueryHash, entry)
}

// Purge drops expired and foreign-version rows.
func (c *Cache) Purge() {
	n, err := c.store.PurgeCache(c.systemVersion, c.now())
	if err != nil {
		logging.Get(logging.CategoryCache).Warn("cache purge failed: %v", err)
		return
	}
	if n > 0 {
		logging.CacheLog("purged %d cache entries", n)
	}
}
