// Package proactive is the spontaneous message loop. Every tick (a quarter
// hour by default) it may ask the remote model whether there is anything
// worth saying, under strict quotas; the default answer is silence.
package proactive

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ada/internal/jsonextract"
	"ada/internal/llm"
	"ada/internal/logging"
	"ada/internal/store"
)

const llmDeadline = 45 * time.Second

// Options tune the loop. Zero values take the defaults below.
type Options struct {
	TickInterval time.Duration
	QuietStart   string // "22:30"
	QuietEnd     string // "08:00"
	MaxPerHour   int
	MaxPerDay    int
	MaxStreak    int // consecutive ticks with a message before forced silence
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = 15 * time.Minute
	}
	if o.QuietStart == "" {
		o.QuietStart = "22:30"
	}
	if o.QuietEnd == "" {
		o.QuietEnd = "08:00"
	}
	if o.MaxPerHour <= 0 {
		o.MaxPerHour = 1
	}
	if o.MaxPerDay <= 0 {
		o.MaxPerDay = 6
	}
	if o.MaxStreak <= 0 {
		o.MaxStreak = 3
	}
	return o
}

// Chatter is the slice of the remote client the loop needs.
type Chatter interface {
	Chat(ctx context.Context, req llm.Request) (*llm.Message, error)
}

// Notifier pushes a spontaneous message to the user.
type Notifier func(message string) error

// state is the persisted quota ledger.
type state struct {
	HourKey          string `json:"hourKey"`
	SentThisHour     int    `json:"sentThisHour"`
	DayKey           string `json:"dayKey"`
	SentToday        int    `json:"sentToday"`
	Streak           int    `json:"streak"`
	MutexSkips       int    `json:"mutexSkips"`
	LastGreetingDate string `json:"lastGreetingDate"`
	LastGreetingType string `json:"lastGreetingType"`
}

// decision is the strict JSON contract with the model.
type decision struct {
	ShouldSpeak bool   `json:"shouldSpeak"`
	Reason      string `json:"reason"`
	MessageType string `json:"messageType"` // greeting, followup, suggestion
	Message     string `json:"message"`
}

// Engine runs the loop.
type Engine struct {
	store  *store.Store
	chat   Chatter
	model  string
	notify Notifier

	// Busy reports whether the brain is mid-conversation; ticks landing
	// then are skipped and counted.
	Busy func() bool

	// LastUserMessageAt is re-read after the model call; if the user spoke
	// while we were generating, the message is dropped.
	LastUserMessageAt func() time.Time

	// ContextPrompt describes the current situation to the model.
	ContextPrompt func() string

	opts Options
	cron *cron.Cron
	mu   sync.Mutex
	st   state
	now  func() time.Time
}

func New(s *store.Store, chat Chatter, model string, notify Notifier, opts Options) *Engine {
	e := &Engine{
		store:  s,
		chat:   chat,
		model:  model,
		notify: notify,
		opts:   opts.withDefaults(),
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		now:    time.Now,
	}
	if found, err := s.LoadProactiveState(&e.st); err != nil {
		logging.Get(logging.CategoryProactive).Warn("load proactive state: %v", err)
	} else if found {
		logging.Proactive("proactive state resumed (%d sent today)", e.st.SentToday)
	}
	return e
}

func (e *Engine) Start() error {
	spec := fmt.Sprintf("@every %s", e.opts.TickInterval)
	if _, err := e.cron.AddFunc(spec, func() { e.Tick(context.Background()) }); err != nil {
		return err
	}
	e.cron.Start()
	return nil
}

func (e *Engine) Stop() {
	ctx := e.cron.Stop()
	<-ctx.Done()
	e.persist()
}

// Reset clears quotas and counters.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.st = state{}
	e.mu.Unlock()
	e.persist()
}

// Status renders the ledger for the status command.
func (e *Engine) Status() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fmt.Sprintf("enviados hoy: %d/%d, esta hora: %d/%d, racha: %d, saltos por conversación: %d",
		e.st.SentToday, e.opts.MaxPerDay, e.st.SentThisHour, e.opts.MaxPerHour, e.st.Streak, e.st.MutexSkips)
}

// Tick runs one proactive evaluation. Every early return that does not send
// a message resets the streak; the streak only counts sent-message ticks.
func (e *Engine) Tick(ctx context.Context) {
	if e.Busy != nil && e.Busy() {
		e.mu.Lock()
		e.st.MutexSkips++
		e.mu.Unlock()
		logging.Proactive("tick skipped: conversation in progress")
		return
	}

	now := e.now()
	if reason, blocked := e.blocked(now); blocked {
		e.breakStreak()
		logging.Get(logging.CategoryProactive).Debug("tick blocked: %s", reason)
		return
	}

	var lastUser time.Time
	if e.LastUserMessageAt != nil {
		lastUser = e.LastUserMessageAt()
	}

	d, err := e.decide(ctx)
	if err != nil {
		e.breakStreak()
		logging.Get(logging.CategoryProactive).Warn("decision failed: %v", err)
		return
	}
	if reason, ok := e.accept(d, now); !ok {
		e.breakStreak()
		logging.Proactive("staying quiet: %s", reason)
		return
	}

	// The model is slow; if the user typed meanwhile, a spontaneous message
	// now would land mid-thought.
	if e.LastUserMessageAt != nil && !e.LastUserMessageAt().Equal(lastUser) {
		e.breakStreak()
		logging.Proactive("message dropped: user spoke during generation")
		return
	}

	if err := e.notify(d.Message); err != nil {
		e.breakStreak()
		logging.Get(logging.CategoryProactive).Warn("delivery failed: %v", err)
		return
	}
	e.recordSent(d, now)
}

// blocked checks quiet hours and quotas. Reminder delivery is exempt from
// all of this; it lives in the scheduler, not here.
func (e *Engine) blocked(now time.Time) (string, bool) {
	if e.inQuietHours(now) {
		return "quiet hours", true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollWindowsLocked(now)
	if e.st.SentThisHour >= e.opts.MaxPerHour {
		return "hourly quota", true
	}
	if e.st.SentToday >= e.opts.MaxPerDay {
		return "daily quota", true
	}
	if e.st.Streak >= e.opts.MaxStreak {
		return "streak limit", true
	}
	return "", false
}

// accept validates the model's decision.
func (e *Engine) accept(d decision, now time.Time) (string, bool) {
	if !d.ShouldSpeak {
		return "model declined: " + d.Reason, false
	}
	// Contradictory verdict; the model wants to speak but classified the
	// message as nothing.
	if d.MessageType == "none" {
		return "shouldSpeak with messageType none", false
	}
	if strings.TrimSpace(d.Message) == "" {
		return "shouldSpeak with empty message", false
	}

	// Reminders are never invented here; the scheduler owns them. A model
	// that produces one is hallucinating.
	if d.MessageType == "reminder" || strings.Contains(strings.ToLower(d.Message), "te recuerdo que") {
		return "hallucinated reminder", false
	}

	if d.MessageType == "greeting" {
		e.mu.Lock()
		defer e.mu.Unlock()
		today := now.Format("2006-01-02")
		if e.st.LastGreetingDate == today {
			return "already greeted today", false
		}
	}
	return "", true
}

func (e *Engine) decide(ctx context.Context) (decision, error) {
	ctx, cancel := context.WithTimeout(ctx, llmDeadline)
	defer cancel()

	situation := "Sin contexto adicional."
	if e.ContextPrompt != nil {
		situation = e.ContextPrompt()
	}
	msg, err := e.chat.Chat(ctx, llm.Request{
		Model:       e.model,
		Temperature: 0.6,
		MaxTokens:   300,
		Messages: []llm.Message{
			llm.Text("system", buildDecisionPrompt()),
			llm.Text("user", situation),
		},
	})
	if err != nil {
		return decision{}, err
	}

	var d decision
	if err := jsonextract.Object(msg.ContentOrEmpty(), &d); err != nil {
		return decision{}, fmt.Errorf("unparseable decision: %w", err)
	}
	return d, nil
}

func (e *Engine) recordSent(d decision, now time.Time) {
	e.mu.Lock()
	e.rollWindowsLocked(now)
	e.st.SentThisHour++
	e.st.SentToday++
	e.st.Streak++
	if d.MessageType == "greeting" {
		e.st.LastGreetingDate = now.Format("2006-01-02")
		e.st.LastGreetingType = d.MessageType
	}
	e.mu.Unlock()
	e.persist()
	logging.Proactive("sent %s message: %s", d.MessageType, d.Reason)
}

func (e *Engine) breakStreak() {
	e.mu.Lock()
	changed := e.st.Streak != 0
	e.st.Streak = 0
	e.mu.Unlock()
	if changed {
		e.persist()
	}
}

// rollWindowsLocked resets counters when the hour or day changes.
func (e *Engine) rollWindowsLocked(now time.Time) {
	hour := now.Format("2006-01-02T15")
	if e.st.HourKey != hour {
		e.st.HourKey = hour
		e.st.SentThisHour = 0
	}
	day := now.Format("2006-01-02")
	if e.st.DayKey != day {
		e.st.DayKey = day
		e.st.SentToday = 0
	}
}

func (e *Engine) persist() {
	e.mu.Lock()
	snapshot := e.st
	e.mu.Unlock()
	if err := e.store.SaveProactiveState(snapshot); err != nil {
		logging.Get(logging.CategoryProactive).Warn("persist proactive state: %v", err)
	}
}

// inQuietHours reports whether now falls in the quiet window. The default
// window crosses midnight, so start > end flips the check to start-or-
// before-end instead of a plain range.
func (e *Engine) inQuietHours(now time.Time) bool {
	hm := now.Format("15:04")
	if e.opts.QuietStart <= e.opts.QuietEnd {
		return hm >= e.opts.QuietStart && hm < e.opts.QuietEnd
	}
	return hm >= e.opts.QuietStart || hm < e.opts.QuietEnd
}

func buildDecisionPrompt() string {
	return strings.Join([]string{
		"Eres un asistente que decide si merece la pena enviar un mensaje espontáneo al usuario.",
		"Casi siempre la respuesta correcta es no hablar.",
		"Responde SOLO con JSON:",
		`{"shouldSpeak": false, "reason": "...", "messageType": "greeting|followup|suggestion", "message": ""}`,
		"Si shouldSpeak es true, message debe contener el texto completo en español.",
		"Nunca inventes recordatorios; esos los gestiona otro sistema.",
	}, "\n")
}
