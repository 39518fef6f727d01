// Package runtime assembles and tears down the whole system. Boot order
// matters: storage before workers, workers before the brain, crons last.
// Shutdown walks the same order in reverse.
package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"ada/internal/brain"
	"ada/internal/breaker"
	"ada/internal/cache"
	"ada/internal/config"
	"ada/internal/contextguard"
	"ada/internal/device"
	"ada/internal/embedding"
	"ada/internal/extraction"
	"ada/internal/health"
	"ada/internal/llm"
	"ada/internal/logging"
	"ada/internal/metrics"
	"ada/internal/models"
	"ada/internal/notify"
	"ada/internal/ollama"
	"ada/internal/proactive"
	"ada/internal/retrieval"
	"ada/internal/router"
	"ada/internal/scheduler"
	"ada/internal/store"
	"ada/internal/tools"
)

const classifierPreloadDelay = 15 * time.Second

// Runtime holds every live component.
type Runtime struct {
	Cfg     *config.Config
	Store   *store.Store
	Profile device.Profile
	Ollama  *ollama.Client
	Health  *health.Monitor
	Models  *models.Manager
	Engine  *embedding.Engine
	Remote  *llm.Client
	Metrics *metrics.Collector
	Brain   *brain.Brain
	Sink    notify.Sink

	embedWorker *embedding.Worker
	extractor   *extraction.Worker
	sched       *scheduler.Scheduler
	pro         *proactive.Engine
	cache       *cache.Cache
}

// Boot brings the system up. On error everything already started is torn
// down before returning.
func Boot(cfg *config.Config, sink notify.Sink) (*Runtime, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	if err := logging.Initialize(cfg.DataDir, logging.Options{
		DebugMode:  cfg.Logging.DebugMode,
		Level:      cfg.Logging.Level,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}
	logging.Boot("ada starting, data dir %s", cfg.DataDir)

	rt := &Runtime{Cfg: cfg, Sink: sink}

	s, err := store.New(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	rt.Store = s
	if err := s.RecoverQueues(); err != nil {
		logging.Get(logging.CategoryBoot).Warn("queue recovery: %v", err)
	}
	if n, err := s.SweepStale(time.Now()); err != nil {
		logging.Get(logging.CategoryBoot).Warn("stale sweep: %v", err)
	} else if n > 0 {
		logging.Boot("marked %d fact(s) stale", n)
	}

	if cfg.Device.TierOverride != "" && os.Getenv(device.EnvTierOverride) == "" {
		os.Setenv(device.EnvTierOverride, cfg.Device.TierOverride)
	}
	rt.Profile = device.Detect(cfg.DataDir)
	logging.Boot("device tier %s (%.1f GB RAM, %d cores)", rt.Profile.Tier, rt.Profile.RAMGB, rt.Profile.Cores)

	rt.Ollama = ollama.NewClient(cfg.Ollama.URL)
	rt.Health = health.NewMonitor(rt.Ollama)

	rt.Models = models.NewManager(rt.Ollama, rt.Profile.ClassifierModel, modelBudgetGB(rt.Profile))
	rt.Health.Subscribe(func(ev health.Event) {
		if ev == health.EventMemoryPressure {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			rt.Models.UnloadNonEssential(ctx)
		}
	})
	rt.Health.Start()

	embBreaker := breaker.New("embeddings")
	if cfg.Embeddings.Enabled {
		rt.Engine = embedding.NewEngine(rt.Ollama, cfg.Embeddings.Model, cfg.Embeddings.Dimension, func(line string) {
			notify.FaintStyle.Println(line)
		})
		rt.Engine.SkipPull = cfg.Ollama.SkipModelPull
		rt.embedWorker = embedding.NewWorker(s, rt.Engine, embBreaker)
		if err := rt.embedWorker.Start(); err != nil {
			logging.Get(logging.CategoryBoot).Warn("embedding worker: %v", err)
		}
	}

	if !cfg.Ollama.DisableLocalLLM {
		rt.extractor = extraction.NewWorker(s, rt.Ollama, cfg.Ollama.ClassifierModel)
		rt.extractor.Start()
	}

	retriever := retrieval.New(s, rt.Engine, embBreaker)

	personality, personalityHash := loadPersonality(cfg.PersonalityPath())
	rt.cache = cache.New(s, rt.Engine, cfg.Cache.SimilarityThreshold,
		cache.Version(cfg.LLM.Model, personalityHash))
	rt.cache.Purge()

	rt.Metrics = metrics.NewCollector(s)
	rt.Remote = llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey)

	rtr := router.New(rt.Ollama, rt.Health, rt.Profile, rt.Health)
	guard := contextguard.New(cfg.BackupPath(), rt.Engine, contextguard.Limits{
		ModelContextTokens:  cfg.Context.MaxTokens,
		SystemPromptReserve: cfg.Context.SystemPromptReserve,
		ResponseReserve:     cfg.Context.ResponseReserve,
	})
	rt.sched = scheduler.New(s, sink.Send)

	deps := brain.Deps{
		Store:       s,
		Router:      rtr,
		Retriever:   retriever,
		Cache:       rt.cache,
		Metrics:     rt.Metrics,
		Guard:       guard,
		Remote:      rt.Remote,
		Local:       rt.Ollama,
		Models:      rt.Models,
		Reminders:   tools.NewReminders(s),
		Scheduler:   rt.sched,
		Extractor:   rt.extractor,
		RemoteModel: cfg.LLM.Model,
		Personality: personality,
		ReminderTick: func() {
			rt.sched.Tick()
		},
	}
	if !cfg.Ollama.DisableLocalLLM {
		deps.SummaryModel = cfg.Ollama.ClassifierModel
	}
	deps.ProactiveStatus = func() string {
		if rt.pro == nil {
			return "El modo proactivo está desactivado."
		}
		return rt.pro.Status()
	}
	deps.ProactiveTick = func() {
		if rt.pro != nil {
			rt.pro.Tick(context.Background())
		}
	}
	deps.ProactiveReset = func() {
		if rt.pro != nil {
			rt.pro.Reset()
		}
	}
	rt.Brain = brain.New(deps)

	if err := rt.sched.Start(); err != nil {
		rt.Shutdown()
		return nil, fmt.Errorf("starting scheduler: %w", err)
	}

	if cfg.Proactive.Enabled {
		tick, err := time.ParseDuration(cfg.Proactive.TickInterval)
		if err != nil {
			tick = 0 // validated at load time; fall back to the default
		}
		rt.pro = proactive.New(s, rt.Remote, cfg.LLM.Model, sink.Send, proactive.Options{
			TickInterval: tick,
			QuietStart:   cfg.Proactive.QuietStart,
			QuietEnd:     cfg.Proactive.QuietEnd,
			MaxPerHour:   cfg.Proactive.MaxPerHour,
			MaxPerDay:    cfg.Proactive.MaxPerDay,
			MaxStreak:    cfg.Proactive.TickThreshold,
		})
		rt.pro.Busy = func() bool { return rt.Brain.Busy() || rt.Brain.Quiet() }
		rt.pro.LastUserMessageAt = rt.Brain.LastUserMessageAt
		rt.pro.ContextPrompt = rt.Brain.ContextPrompt
		if err := rt.pro.Start(); err != nil {
			rt.Shutdown()
			return nil, fmt.Errorf("starting proactive loop: %w", err)
		}
	}

	if rt.Profile.ClassifierModel != "" && !cfg.Ollama.DisableLocalLLM {
		rt.Models.ScheduleBackgroundPreload(rt.Profile.ClassifierModel, classifierPreloadDelay)
	}

	logging.Boot("ada ready")
	return rt, nil
}

// Shutdown stops everything in reverse boot order. Safe to call on a
// partially booted runtime.
func (rt *Runtime) Shutdown() {
	if rt.pro != nil {
		rt.pro.Stop()
	}
	if rt.sched != nil {
		rt.sched.Stop()
	}
	if rt.extractor != nil {
		rt.extractor.Stop()
	}
	if rt.embedWorker != nil {
		rt.embedWorker.Stop()
	}
	if rt.Models != nil {
		rt.Models.Stop()
	}
	if rt.Health != nil {
		rt.Health.Stop()
	}
	if rt.Metrics != nil {
		rt.Metrics.Flush()
	}
	if rt.Engine != nil {
		rt.Engine.Dispose()
	}
	if rt.Store != nil {
		if err := rt.Store.Close(); err != nil {
			logging.Get(logging.CategoryBoot).Warn("closing store: %v", err)
		}
	}
	logging.Boot("ada stopped")
	logging.CloseAll()
}

// modelBudgetGB is how much RAM the resident local models may take. Half
// the machine leaves room for the OS, the embeddings and the conversation.
func modelBudgetGB(p device.Profile) float64 {
	budget := p.RAMGB / 2
	if budget < 1 {
		budget = 1
	}
	return budget
}

// loadPersonality reads the personality file; a missing file is fine, the
// brain has a built-in default.
func loadPersonality(path string) (content, hash string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "none"
	}
	sum := sha256.Sum256(data)
	return string(data), hex.EncodeToString(sum[:8])
}
