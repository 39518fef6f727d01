// Package router decides where each user message gets answered: a
// deterministic tool, a local Ollama model, or the remote API. The decision
// path is fast-path regex rules first, then a small local classifier, then
// heuristic overrides on its output.
package router

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"ada/internal/device"
	"ada/internal/jsonextract"
	"ada/internal/logging"
	"ada/internal/models"
	"ada/internal/ollama"
)

// Tier is where a query gets resolved.
type Tier string

const (
	TierDeterministic Tier = "deterministic"
	TierLocal         Tier = "local"
	TierAPI           Tier = "api"
)

const (
	classifierDeadline   = 30 * time.Second
	classifierNumPredict = 80
	classifierTemp       = 0.1

	// After three consecutive classifier failures the router stops calling
	// Ollama for a while instead of eating the timeout on every message.
	backoffFailureThreshold = 3
	backoffBase             = 30 * time.Second
	backoffMax              = 5 * time.Minute

	// A classifier slower than this signals a struggling machine; route to
	// the API directly rather than stacking a generation on top.
	latencyBypass = 10 * time.Second

	healthStaleness = 30 * time.Second
)

// Decision is the routing verdict for one message.
type Decision struct {
	Tier       Tier
	Intent     string
	Confidence float64
	Model      string            // local tier only
	Params     map[string]string // fast-path extractions
	Reason     string
}

// Availability is the slice of the health monitor the router needs.
type Availability interface {
	VerifyAvailable(ctx context.Context, staleness time.Duration) bool
	InstalledModels() []ollama.ModelInfo
}

// Generator runs the classifier model.
type Generator interface {
	Generate(ctx context.Context, model, prompt string, opts *ollama.GenerateOptions) (*ollama.GenerateResponse, error)
}

// LatencyObserver receives classifier latencies for pressure detection.
type LatencyObserver interface {
	ObserveLatency(latency time.Duration)
}

// Router decides tiers. Safe for concurrent use.
type Router struct {
	gen      Generator
	avail    Availability
	observer LatencyObserver
	profile  device.Profile

	mu                  sync.Mutex
	consecutiveFailures int
	backoffUntil        time.Time

	now func() time.Time
}

// New creates a router. observer may be nil.
func New(gen Generator, avail Availability, profile device.Profile, observer LatencyObserver) *Router {
	return &Router{
		gen:      gen,
		avail:    avail,
		observer: observer,
		profile:  profile,
		now:      time.Now,
	}
}

// Route classifies input and picks a tier. It never returns an error: any
// failure inside degrades to the API tier, which can always answer.
func (r *Router) Route(ctx context.Context, input string) Decision {
	input = strings.TrimSpace(input)
	if input == "" {
		return Decision{Tier: TierAPI, Intent: IntentUnknown, Reason: "empty input"}
	}

	if d, ok := r.matchFastPath(input); ok {
		logging.Router("fast path: %q -> %s/%s (%.2f)", truncate(input, 60), d.Tier, d.Intent, d.Confidence)
		return d
	}

	// Minimal devices never run a classifier.
	if r.profile.Tier == device.TierMinimal {
		return Decision{Tier: TierAPI, Intent: IntentUnknown, Reason: "device tier minimal"}
	}
	if r.profile.ClassifierModel == "" {
		return Decision{Tier: TierAPI, Intent: IntentUnknown, Reason: "no classifier model"}
	}

	if until, backing := r.inBackoff(); backing {
		return Decision{Tier: TierAPI, Intent: IntentUnknown,
			Reason: "backoff until " + until.Format(time.RFC3339)}
	}

	if !r.avail.VerifyAvailable(ctx, healthStaleness) {
		return Decision{Tier: TierAPI, Intent: IntentUnknown, Reason: "ollama unavailable"}
	}

	intent, confidence, latency, err := r.classify(ctx, input)
	if err != nil {
		r.recordClassifierFailure(err)
		return Decision{Tier: TierAPI, Intent: IntentUnknown, Reason: "classifier failed"}
	}
	r.recordClassifierSuccess()
	if r.observer != nil {
		r.observer.ObserveLatency(latency)
	}
	if latency > latencyBypass {
		logging.Router("classifier took %s, bypassing to api", latency.Round(time.Millisecond))
		return Decision{Tier: TierAPI, Intent: intent, Confidence: confidence, Reason: "classifier latency"}
	}

	intent = overrideIntent(input, intent)
	return r.dispatch(input, intent, confidence)
}

// ResetBackoff clears the classifier backoff, for the manual recovery path.
func (r *Router) ResetBackoff() {
	r.mu.Lock()
	r.consecutiveFailures = 0
	r.backoffUntil = time.Time{}
	r.mu.Unlock()
}

func (r *Router) matchFastPath(input string) (Decision, bool) {
	for _, rl := range fastPath {
		m := rl.pattern.FindStringSubmatch(input)
		if m == nil {
			continue
		}
		d := Decision{Tier: rl.tier, Intent: rl.intent, Confidence: rl.confidence, Reason: "fast path"}
		if rl.params != nil {
			d.Params = rl.params(m)
		}
		if d.Tier == TierLocal {
			// Fast-path local intents still need a model and valid input.
			text := input
			if t, ok := d.Params["text"]; ok {
				text = t
			}
			if !localInputValid(d.Intent, text) {
				d.Tier = TierAPI
				d.Reason = "local input rejected"
				return d, true
			}
			model := r.pickLocalModel(d.Intent)
			if model == "" {
				d.Tier = TierAPI
				d.Reason = "no local model installed"
				return d, true
			}
			d.Model = model
		}
		return d, true
	}
	return Decision{}, false
}

// dispatch maps a validated intent to a tier by its confidence bar.
func (r *Router) dispatch(input, intent string, confidence float64) Decision {
	if threshold, ok := deterministicThresholds[intent]; ok && confidence >= threshold {
		return Decision{Tier: TierDeterministic, Intent: intent, Confidence: confidence, Reason: "classifier"}
	}

	if threshold, ok := localThresholds[intent]; ok && confidence >= threshold {
		if !localInputValid(intent, input) {
			return Decision{Tier: TierAPI, Intent: intent, Confidence: confidence, Reason: "local input rejected"}
		}
		if model := r.pickLocalModel(intent); model != "" {
			return Decision{Tier: TierLocal, Intent: intent, Confidence: confidence, Model: model, Reason: "classifier"}
		}
		return Decision{Tier: TierAPI, Intent: intent, Confidence: confidence, Reason: "no local model installed"}
	}

	return Decision{Tier: TierAPI, Intent: intent, Confidence: confidence, Reason: "default"}
}

func (r *Router) pickLocalModel(intent string) string {
	return models.Select(r.avail.InstalledModels(), localModelPreferences[intent], r.profile.RecommendedModels)
}

// =============================================================================
// CLASSIFIER
// =============================================================================

type classifierVerdict struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

func (r *Router) classify(ctx context.Context, input string) (string, float64, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, classifierDeadline)
	defer cancel()

	start := r.now()
	resp, err := r.gen.Generate(ctx, r.profile.ClassifierModel, buildClassifierPrompt(input), &ollama.GenerateOptions{
		Temperature: classifierTemp,
		NumPredict:  classifierNumPredict,
	})
	latency := r.now().Sub(start)
	if err != nil {
		return "", 0, latency, err
	}

	var v classifierVerdict
	if err := jsonextract.Object(resp.Response, &v); err != nil {
		// Garbage output is not an availability failure; treat as unknown.
		logging.Get(logging.CategoryRouter).Debug("classifier output unparseable: %q", truncate(resp.Response, 120))
		return IntentUnknown, 0, latency, nil
	}
	v.Intent = strings.ToLower(strings.TrimSpace(v.Intent))
	if !knownIntent(v.Intent) {
		v.Intent = IntentUnknown
		v.Confidence = 0
	}
	v.Confidence = math.Max(0, math.Min(1, v.Confidence))
	return v.Intent, v.Confidence, latency, nil
}

func knownIntent(intent string) bool {
	switch intent {
	case IntentTime, IntentWeather, IntentReminderCreate, IntentReminderList,
		IntentReminderCancel, IntentTranslate, IntentGrammarCheck, IntentSummarize,
		IntentExplain, IntentSimpleChat, IntentConversation, IntentAmbiguous:
		return true
	}
	return false
}

func buildClassifierPrompt(input string) string {
	var b strings.Builder
	b.WriteString("Clasifica el mensaje del usuario en una de estas intenciones:\n")
	b.WriteString("time, weather, reminder_create, reminder_list, reminder_cancel, ")
	b.WriteString("translate, grammar_check, summarize, explain, simple_chat, conversation, ambiguous\n\n")
	b.WriteString("Responde SOLO con JSON: {\"intent\": \"...\", \"confidence\": 0.0}\n")
	b.WriteString("confidence entre 0 y 1. Si dudas entre dos intenciones usa \"ambiguous\".\n\n")
	b.WriteString("Mensaje: ")
	b.WriteString(input)
	return b.String()
}

// =============================================================================
// BACKOFF
// =============================================================================

func (r *Router) inBackoff() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.consecutiveFailures >= backoffFailureThreshold && r.now().Before(r.backoffUntil) {
		return r.backoffUntil, true
	}
	return time.Time{}, false
}

func (r *Router) recordClassifierFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consecutiveFailures++
	if r.consecutiveFailures < backoffFailureThreshold {
		logging.Get(logging.CategoryRouter).Warn("classifier failure %d: %v", r.consecutiveFailures, err)
		return
	}
	wait := backoffBase * time.Duration(1<<uint(r.consecutiveFailures-backoffFailureThreshold))
	if wait > backoffMax {
		wait = backoffMax
	}
	r.backoffUntil = r.now().Add(wait)
	logging.Get(logging.CategoryRouter).Warn("classifier failure %d, backing off %s: %v",
		r.consecutiveFailures, wait, err)
}

func (r *Router) recordClassifierSuccess() {
	r.mu.Lock()
	r.consecutiveFailures = 0
	r.backoffUntil = time.Time{}
	r.mu.Unlock()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
