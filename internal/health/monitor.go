// Package health runs the periodic availability probe against the local
// model server and raises edge-triggered events for the rest of the runtime.
package health

import (
	"context"
	"sync"
	"time"

	"ada/internal/logging"
	"ada/internal/ollama"
)

// Event names a health state transition.
type Event string

const (
	EventAvailable      Event = "available"
	EventUnavailable    Event = "unavailable"
	EventMemoryPressure Event = "memoryPressure"
)

const (
	probeInterval = 5 * time.Minute
	probeDeadline = 3 * time.Second
)

// Prober is the slice of the model server client the monitor needs.
type Prober interface {
	Version(ctx context.Context) (time.Duration, error)
	Tags(ctx context.Context) ([]ollama.ModelInfo, error)
}

// Monitor probes the local server every 5 minutes, caches the result, and
// notifies subscribers only when availability flips.
type Monitor struct {
	client Prober

	mu          sync.Mutex
	available   bool
	everProbed  bool
	lastCheck   time.Time
	installed   []ollama.ModelInfo
	subscribers []func(Event)

	pressure pressureDetector

	stopCh chan struct{}
	doneCh chan struct{}
	now    func() time.Time
}

// NewMonitor creates a monitor; call Start to begin probing.
func NewMonitor(client Prober) *Monitor {
	return &Monitor{
		client: client,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		now:    time.Now,
	}
}

// Subscribe registers a callback for health events. Callbacks run on the
// monitor goroutine and must not block.
func (m *Monitor) Subscribe(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Start launches the probe loop. The first probe runs immediately.
func (m *Monitor) Start() {
	go func() {
		defer close(m.doneCh)

		m.Probe(context.Background())

		ticker := time.NewTicker(probeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.Probe(context.Background())
			}
		}
	}()
}

// Stop halts the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

// Probe checks the server once and updates cached state. Returns the new
// availability.
func (m *Monitor) Probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeDeadline)
	defer cancel()

	latency, err := m.client.Version(probeCtx)
	var installed []ollama.ModelInfo
	if err == nil {
		tagsCtx, tagsCancel := context.WithTimeout(ctx, probeDeadline)
		installed, _ = m.client.Tags(tagsCtx)
		tagsCancel()
	}

	up := err == nil
	var events []Event

	m.mu.Lock()
	wasUp, probed := m.available, m.everProbed
	m.available = up
	m.everProbed = true
	m.lastCheck = m.now()
	if up {
		m.installed = installed
	}
	subs := append([](func(Event))(nil), m.subscribers...)
	m.mu.Unlock()

	if !probed || wasUp != up {
		if up {
			events = append(events, EventAvailable)
			logging.Health("ollama available (latency %s, %d models installed)", latency, len(installed))
		} else {
			events = append(events, EventUnavailable)
			logging.Health("ollama unavailable: %v", err)
		}
	}

	if up && m.pressure.Observe(float64(latency.Milliseconds())) {
		events = append(events, EventMemoryPressure)
		logging.Health("memory pressure detected (probe latency %s)", latency)
	}

	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
	return up
}

// VerifyAvailable returns cached availability when the last probe is newer
// than staleness, otherwise probes now.
func (m *Monitor) VerifyAvailable(ctx context.Context, staleness time.Duration) bool {
	m.mu.Lock()
	fresh := m.everProbed && m.now().Sub(m.lastCheck) <= staleness
	cached := m.available
	m.mu.Unlock()

	if fresh {
		return cached
	}
	return m.Probe(ctx)
}

// Available returns the cached availability without probing.
func (m *Monitor) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// InstalledModels returns the model list from the last successful probe.
func (m *Monitor) InstalledModels() []ollama.ModelInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ollama.ModelInfo(nil), m.installed...)
}

// ObserveLatency feeds an out-of-band latency sample (for example from a
// generate call) into the pressure detector. Fires subscribers on pressure.
func (m *Monitor) ObserveLatency(latency time.Duration) {
	if !m.pressure.Observe(float64(latency.Milliseconds())) {
		return
	}
	m.mu.Lock()
	subs := append([](func(Event))(nil), m.subscribers...)
	m.mu.Unlock()
	logging.Health("memory pressure detected (call latency %s)", latency)
	for _, fn := range subs {
		fn(EventMemoryPressure)
	}
}
