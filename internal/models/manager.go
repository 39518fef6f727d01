// Package models manages the local model lifecycle: keeping the classifier
// warm, loading productivity models on demand, and evicting under RAM
// pressure. Loads are coalesced so concurrent requests for the same model
// issue a single warm call.
package models

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"ada/internal/logging"
	"ada/internal/ollama"
)

const (
	warmDeadline   = 60 * time.Second
	unloadDeadline = 10 * time.Second
)

// Client is the slice of the model server API the manager needs.
type Client interface {
	Warm(ctx context.Context, model string) error
	Unload(ctx context.Context, model string) error
	Tags(ctx context.Context) ([]ollama.ModelInfo, error)
}

type loadedModel struct {
	name        string
	footprintGB float64
}

// Manager tracks which models are resident and how much RAM they take.
type Manager struct {
	client     Client
	classifier string  // never evicted
	budgetGB   float64 // RAM available for models

	mu     sync.Mutex
	loaded map[string]*loadedModel
	locks  map[string]int

	group singleflight.Group

	timerMu      sync.Mutex
	preloadTimer *time.Timer
}

// NewManager creates a manager. budgetGB is the RAM the manager may fill
// with models; classifier names the model exempt from eviction.
func NewManager(client Client, classifier string, budgetGB float64) *Manager {
	return &Manager{
		client:     client,
		classifier: normalize(classifier),
		budgetGB:   budgetGB,
		loaded:     make(map[string]*loadedModel),
		locks:      make(map[string]int),
	}
}

func normalize(model string) string {
	return strings.ToLower(strings.TrimSpace(model))
}

var sizeSuffixRe = regexp.MustCompile(`(\d+(?:\.\d+)?)b`)

// FootprintGB estimates resident RAM for a model from the size suffix in
// its name. Unknown names get the 7b estimate.
func FootprintGB(model string) float64 {
	m := sizeSuffixRe.FindStringSubmatch(normalize(model))
	if m == nil {
		return 5
	}
	params, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 5
	}
	switch {
	case params <= 1:
		return 1
	case params <= 3:
		return 2
	case params <= 8:
		return 5
	case params <= 14:
		return 9
	case params <= 34:
		return 22
	default:
		return 45
	}
}

// =============================================================================
// LOADING
// =============================================================================

// EnsureLoaded makes the model resident, warming it with a one-token
// generate. Concurrent callers for the same model share one load.
func (m *Manager) EnsureLoaded(ctx context.Context, model string) error {
	name := normalize(model)
	if name == "" {
		return fmt.Errorf("empty model name")
	}

	m.mu.Lock()
	_, already := m.loaded[name]
	m.mu.Unlock()
	if already {
		return nil
	}

	_, err, _ := m.group.Do(name, func() (interface{}, error) {
		m.mu.Lock()
		if _, ok := m.loaded[name]; ok {
			m.mu.Unlock()
			return nil, nil
		}
		m.mu.Unlock()

		need := FootprintGB(name)
		if err := m.makeRoom(ctx, need); err != nil {
			return nil, err
		}

		warmCtx, cancel := context.WithTimeout(ctx, warmDeadline)
		defer cancel()
		start := time.Now()
		if err := m.client.Warm(warmCtx, name); err != nil {
			return nil, fmt.Errorf("failed to warm %s: %w", name, err)
		}
		logging.Models("loaded %s (%.0fGB) in %s", name, need, time.Since(start).Round(time.Millisecond))

		m.mu.Lock()
		m.loaded[name] = &loadedModel{name: name, footprintGB: need}
		m.mu.Unlock()
		return nil, nil
	})
	return err
}

// makeRoom evicts unlocked non-classifier models, largest first, until the
// requested footprint fits the budget.
func (m *Manager) makeRoom(ctx context.Context, needGB float64) error {
	for {
		m.mu.Lock()
		used := 0.0
		var candidates []*loadedModel
		for _, lm := range m.loaded {
			used += lm.footprintGB
			if lm.name != m.classifier && m.locks[lm.name] == 0 {
				candidates = append(candidates, lm)
			}
		}
		m.mu.Unlock()

		if used+needGB <= m.budgetGB {
			return nil
		}
		if len(candidates) == 0 {
			// Nothing evictable; let the server sort out paging.
			logging.Models("no evictable model for %.0fGB request (%.0f/%.0fGB used)", needGB, used, m.budgetGB)
			return nil
		}

		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].footprintGB > candidates[j].footprintGB
		})
		victim := candidates[0]
		logging.Models("evicting %s (%.0fGB) to make room", victim.name, victim.footprintGB)
		if err := m.Unload(ctx, victim.name); err != nil {
			return fmt.Errorf("failed to evict %s: %w", victim.name, err)
		}
	}
}

// =============================================================================
// LOCKING AND UNLOAD
// =============================================================================

// AcquireLock pins a model against eviction while in use. The returned
// closure releases the pin and is safe to call more than once.
func (m *Manager) AcquireLock(model string) func() {
	name := normalize(model)

	m.mu.Lock()
	m.locks[name]++
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.locks[name] > 0 {
				m.locks[name]--
			}
			m.mu.Unlock()
		})
	}
}

// Unload evicts a model. Refused while a lock is held. The resident entry
// is claimed before the server call so racing loaders re-warm through the
// usual path instead of assuming residency.
func (m *Manager) Unload(ctx context.Context, model string) error {
	name := normalize(model)

	m.mu.Lock()
	if n := m.locks[name]; n > 0 {
		m.mu.Unlock()
		return fmt.Errorf("model %s is locked (%d holders)", name, n)
	}
	lm := m.loaded[name]
	delete(m.loaded, name)
	m.mu.Unlock()

	unloadCtx, cancel := context.WithTimeout(ctx, unloadDeadline)
	defer cancel()
	if err := m.client.Unload(unloadCtx, name); err != nil {
		m.mu.Lock()
		if lm != nil {
			m.loaded[name] = lm
		}
		m.mu.Unlock()
		return fmt.Errorf("failed to unload %s: %w", name, err)
	}

	// A lock acquired while the server was unloading points at a model
	// that is no longer resident; bring it back before returning.
	m.mu.Lock()
	relock := m.locks[name] > 0
	m.mu.Unlock()
	if relock {
		logging.Models("unload of %s raced a lock holder, re-warming", name)
		return m.EnsureLoaded(ctx, name)
	}

	logging.Models("unloaded %s", name)
	return nil
}

// UnloadNonEssential evicts every unlocked model except the classifier.
// Driven by memory-pressure events.
func (m *Manager) UnloadNonEssential(ctx context.Context) {
	m.mu.Lock()
	var victims []string
	for _, lm := range m.loaded {
		if lm.name != m.classifier && m.locks[lm.name] == 0 {
			victims = append(victims, lm.name)
		}
	}
	m.mu.Unlock()

	for _, name := range victims {
		if err := m.Unload(ctx, name); err != nil {
			logging.Get(logging.CategoryModels).Warn("pressure eviction of %s failed: %v", name, err)
		}
	}
}

// =============================================================================
// PRELOAD AND SELECTION
// =============================================================================

// ScheduleBackgroundPreload warms a model after delay. A newer schedule
// replaces a pending one.
func (m *Manager) ScheduleBackgroundPreload(model string, delay time.Duration) {
	name := normalize(model)

	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.preloadTimer != nil {
		m.preloadTimer.Stop()
	}
	m.preloadTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		_, already := m.loaded[name]
		m.mu.Unlock()
		if already {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), warmDeadline)
		defer cancel()
		installed, err := m.client.Tags(ctx)
		if err != nil || !contains(installed, name) {
			return
		}
		if err := m.EnsureLoaded(ctx, name); err != nil {
			logging.Get(logging.CategoryModels).Warn("background preload of %s failed: %v", name, err)
		}
	})
}

// Stop cancels any pending preload.
func (m *Manager) Stop() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.preloadTimer != nil {
		m.preloadTimer.Stop()
		m.preloadTimer = nil
	}
}

// Select returns the first installed model from the preference list, then
// from the fallback list. Empty string when nothing matches.
func Select(installed []ollama.ModelInfo, preferences, fallback []string) string {
	have := make(map[string]bool, len(installed))
	for _, mi := range installed {
		have[normalize(mi.Name)] = true
	}
	for _, list := range [][]string{preferences, fallback} {
		for _, want := range list {
			if have[normalize(want)] {
				return normalize(want)
			}
		}
	}
	return ""
}

// Loaded reports the currently resident model names.
func (m *Manager) Loaded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.loaded))
	for name := range m.loaded {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func contains(models []ollama.ModelInfo, name string) bool {
	for _, mi := range models {
		if normalize(mi.Name) == name {
			return true
		}
	}
	return false
}
