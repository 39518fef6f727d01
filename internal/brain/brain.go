// Package brain is the orchestrator: one user message in, one answer out.
// The path is always command check, then cache, then router, then the tier
// the router chose, with the API as the fallback for everything that breaks.
package brain

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"ada/internal/cache"
	"ada/internal/contextguard"
	"ada/internal/extraction"
	"ada/internal/facts"
	"ada/internal/llm"
	"ada/internal/logging"
	"ada/internal/metrics"
	"ada/internal/models"
	"ada/internal/ollama"
	"ada/internal/retrieval"
	"ada/internal/router"
	"ada/internal/scheduler"
	"ada/internal/store"
	"ada/internal/tools"
)

const (
	retrievalLimit = 5
	localDeadline  = 30 * time.Second
	historyMax     = 200 // turns kept in memory before the guard trims anyway
)

// Chatter is the remote model surface the brain needs.
type Chatter interface {
	Chat(ctx context.Context, req llm.Request) (*llm.Message, error)
}

// LocalGenerator runs a prompt on a local model.
type LocalGenerator interface {
	Generate(ctx context.Context, model, prompt string, opts *ollama.GenerateOptions) (*ollama.GenerateResponse, error)
}

// Deps wires the brain to the rest of the runtime. Optional fields may be
// nil; the corresponding feature degrades.
type Deps struct {
	Store     *store.Store
	Router    *router.Router
	Retriever *retrieval.Retriever
	Cache     *cache.Cache
	Metrics   *metrics.Collector
	Guard     *contextguard.Guard
	Remote    Chatter
	Local     LocalGenerator
	Models    *models.Manager
	Reminders *tools.Reminders
	Scheduler *scheduler.Scheduler
	Extractor *extraction.Worker
	Weather   tools.WeatherProvider

	RemoteModel string
	Personality string

	// SummaryModel is the local model used to condense abandoned topics
	// in the background. Empty disables summarization.
	SummaryModel string

	// Proactive hooks, filled by the runtime after construction.
	ProactiveStatus func() string
	ProactiveTick   func()
	ReminderTick    func()
	ProactiveReset  func()
}

// Brain holds the conversation.
type Brain struct {
	deps Deps

	mu         sync.Mutex
	processing bool
	history    []llm.Message
	lastUserAt time.Time
	quietUntil time.Time

	// Topic handoff state: what the last truncation dropped, whether a
	// background summarization is running, and its latest result.
	lastDropped  []llm.Message
	summarizing  bool
	topicSummary string

	now func() time.Time
}

func New(deps Deps) *Brain {
	return &Brain{deps: deps, now: time.Now}
}

// Busy reports whether a message is being handled right now.
func (b *Brain) Busy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.processing
}

// Quiet reports whether the user asked for silence.
func (b *Brain) Quiet() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now().Before(b.quietUntil)
}

// LastUserMessageAt is read by the proactive loop.
func (b *Brain) LastUserMessageAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUserAt
}

// ContextPrompt summarizes the situation for the proactive decision model.
func (b *Brain) ContextPrompt() string {
	b.mu.Lock()
	turns := len(b.history)
	last := b.lastUserAt
	b.mu.Unlock()

	if last.IsZero() {
		return "El usuario aún no ha hablado hoy."
	}
	return fmt.Sprintf("Última interacción hace %s, %d turnos en la conversación actual.",
		b.now().Sub(last).Round(time.Minute), turns)
}

// Handle processes one user input. The second return is true when the user
// asked to exit.
func (b *Brain) Handle(ctx context.Context, input string) (string, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", false
	}

	if reply, done, isCommand := b.handleCommand(input); isCommand {
		return reply, done
	}

	b.mu.Lock()
	if b.processing {
		b.mu.Unlock()
		return "Un momento, todavía estoy con lo anterior.", false
	}
	b.processing = true
	b.lastUserAt = b.now()
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.processing = false
		b.mu.Unlock()
	}()

	return b.answer(ctx, input), false
}

func (b *Brain) answer(ctx context.Context, input string) string {
	start := b.now()
	decision := b.deps.Router.Route(ctx, input)
	logging.Router("routed to %s/%s (%.2f): %s", decision.Tier, decision.Intent, decision.Confidence, decision.Reason)

	if b.deps.Guard != nil && b.deps.Guard.TopicShift(ctx, input) {
		logging.Context("topic shift detected")
		b.summarizeOnShift()
	}

	var reply string
	switch decision.Tier {
	case router.TierDeterministic:
		reply = b.deterministic(decision, input)
		b.record(metrics.TierDeterministic, start)
	case router.TierLocal:
		local, ok := b.local(ctx, decision, input)
		if ok {
			reply = local
			b.record(metrics.TierLocal, start)
		} else {
			if b.deps.Metrics != nil {
				b.deps.Metrics.RecordFallback()
			}
			reply = b.remote(ctx, input)
			b.record(metrics.TierAPI, start)
		}
	default:
		reply = b.remote(ctx, input)
		b.record(metrics.TierAPI, start)
	}

	b.afterAnswer(input, reply)
	return reply
}

func (b *Brain) record(tier string, start time.Time) {
	if b.deps.Metrics != nil {
		b.deps.Metrics.Record(tier, b.now().Sub(start))
	}
}

// afterAnswer updates history and feeds the memory pipeline.
func (b *Brain) afterAnswer(input, reply string) {
	b.mu.Lock()
	b.history = append(b.history, llm.Text("user", input), llm.Text("assistant", reply))
	if len(b.history) > historyMax {
		b.history = b.history[len(b.history)-historyMax:]
	}
	b.mu.Unlock()

	if b.deps.Extractor != nil {
		if _, err := b.deps.Extractor.Enqueue(input); err != nil {
			logging.Get(logging.CategoryExtraction).Warn("enqueue extraction: %v", err)
		}
	}
}

// =============================================================================
// DETERMINISTIC TIER
// =============================================================================

func (b *Brain) deterministic(d router.Decision, input string) string {
	switch d.Intent {
	case router.IntentTime:
		return tools.CurrentTime(b.now())
	case router.IntentWeather:
		return tools.Weather(b.deps.Weather, "")
	case router.IntentReminderCreate:
		text := d.Params["text"]
		if text == "" {
			text = input
		}
		rem, reply := b.deps.Reminders.Create(text)
		if rem != nil && b.deps.Scheduler != nil {
			b.deps.Scheduler.Add(rem)
		}
		return reply
	case router.IntentReminderList:
		return b.deps.Reminders.List()
	case router.IntentReminderCancel:
		return b.cancelReminder(d.Params["which"])
	}
	// The router should not send anything else here.
	return b.remote(context.Background(), input)
}

var positionRe = regexp.MustCompile(`\d+`)

func (b *Brain) cancelReminder(which string) string {
	position := 1
	if m := positionRe.FindString(which); m != "" {
		fmt.Sscanf(m, "%d", &position)
	}
	return b.deps.Reminders.Cancel(position)
}

// =============================================================================
// LOCAL TIER
// =============================================================================

// local tries the local model; ok=false escalates to the API.
func (b *Brain) local(ctx context.Context, d router.Decision, input string) (string, bool) {
	if b.deps.Local == nil || d.Model == "" {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, localDeadline)
	defer cancel()

	if b.deps.Models != nil {
		if err := b.deps.Models.EnsureLoaded(ctx, d.Model); err != nil {
			logging.Models("load %s failed, escalating: %v", d.Model, err)
			return "", false
		}
		release := b.deps.Models.AcquireLock(d.Model)
		defer release()
	}

	resp, err := b.deps.Local.Generate(ctx, d.Model, b.localPrompt(d, input), &ollama.GenerateOptions{
		Temperature: 0.4,
		NumPredict:  600,
	})
	if err != nil {
		logging.Get(logging.CategoryModels).Warn("local generation failed: %v", err)
		return "", false
	}
	reply := Sanitize(resp.Response)
	if strings.TrimSpace(reply) == "" {
		return "", false
	}
	return reply, true
}

func (b *Brain) localPrompt(d router.Decision, input string) string {
	task := input
	if t, ok := d.Params["text"]; ok && t != "" {
		task = t
	}
	var instruction string
	switch d.Intent {
	case router.IntentTranslate:
		instruction = "Traduce el siguiente texto. Si está en español tradúcelo al inglés, si no, al español. Responde solo con la traducción."
	case router.IntentGrammarCheck:
		instruction = "Corrige la ortografía y gramática del siguiente texto. Responde solo con el texto corregido."
	case router.IntentSummarize:
		instruction = "Resume el siguiente texto en pocas frases, en español."
	case router.IntentExplain:
		instruction = "Explica lo siguiente de forma clara y breve, en español."
	default:
		instruction = "Responde de forma breve y natural, en español."
	}
	return instruction + "\n\n" + task
}

// =============================================================================
// API TIER
// =============================================================================

func (b *Brain) remote(ctx context.Context, input string) string {
	if b.deps.Remote == nil {
		return "No tengo conexión con el modelo remoto en esta configuración."
	}

	known, factIDs := b.knowledge(ctx, input)

	if b.deps.Cache != nil {
		if hit, ok := b.deps.Cache.Lookup(ctx, input, factIDs); ok {
			return hit
		}
	}

	messages := []llm.Message{llm.Text("system", b.systemPrompt(known))}
	b.mu.Lock()
	history := append([]llm.Message(nil), b.history...)
	b.mu.Unlock()
	if b.deps.Guard != nil {
		fitted := b.deps.Guard.Fit(append(history, llm.Text("user", input)))
		for _, dropped := range fitted.PotentialFacts {
			if b.deps.Extractor != nil {
				b.deps.Extractor.Enqueue(dropped)
			}
		}
		if len(fitted.Dropped) > 0 {
			b.mu.Lock()
			b.lastDropped = fitted.Dropped
			b.mu.Unlock()
		}
		messages = append(messages, fitted.Messages...)
	} else {
		messages = append(messages, append(history, llm.Text("user", input))...)
	}

	msg, err := b.deps.Remote.Chat(ctx, llm.Request{
		Model:       b.deps.RemoteModel,
		Messages:    messages,
		Temperature: 0.7,
		MaxTokens:   1500,
	})
	if err != nil {
		logging.Get(logging.CategoryAPI).Error("remote chat failed: %v", err)
		return TranslateError(err)
	}

	reply := Sanitize(msg.ContentOrEmpty())
	if b.deps.Cache != nil && reply != "" {
		b.deps.Cache.Put(ctx, input, factIDs, reply, classify(input))
	}
	return reply
}

// knowledge retrieves relevant facts and renders them for the system prompt.
func (b *Brain) knowledge(ctx context.Context, input string) (string, []string) {
	if b.deps.Retriever == nil {
		return "", nil
	}
	scored, err := b.deps.Retriever.Retrieve(ctx, input, retrievalLimit)
	if err != nil || len(scored) == 0 {
		return "", nil
	}
	var lines []string
	ids := make([]string, 0, len(scored))
	for _, sf := range scored {
		lines = append(lines, "- "+sf.Fact.Fact)
		ids = append(ids, sf.Fact.ID)
	}
	return strings.Join(lines, "\n"), ids
}

func (b *Brain) systemPrompt(knowledge string) string {
	var sb strings.Builder
	if b.deps.Personality != "" {
		sb.WriteString(b.deps.Personality)
	} else {
		sb.WriteString("Eres Ada, una asistente personal cercana y directa. Respondes siempre en español.")
	}
	if knowledge != "" {
		sb.WriteString("\n\nLo que sabes del usuario:\n")
		sb.WriteString(knowledge)
	}
	b.mu.Lock()
	summary := b.topicSummary
	b.mu.Unlock()
	if summary != "" {
		sb.WriteString("\n\nDe la conversación anterior:\n")
		sb.WriteString(summary)
	}
	sb.WriteString("\n\nFecha actual: ")
	sb.WriteString(tools.FormatDate(b.now()))
	return sb.String()
}

// classify buckets the query for the cache TTL.
func classify(input string) cache.QueryClass {
	folded := strings.ToLower(strings.Trim(input, "¿?¡!., "))
	switch folded {
	case "hola", "buenas", "buenos dias", "buenos días", "buenas tardes", "buenas noches", "que tal", "qué tal":
		return cache.ClassGreeting
	}
	return cache.ClassFactual
}

// =============================================================================
// TOPIC SHIFT SUMMARIZATION
// =============================================================================

const summaryTurnCap = 40

// summarizeOnShift condenses the conversation being left behind, without
// blocking the answer in flight. Turns dropped by the last truncation are
// the part at risk of being lost; with none pending the whole in-memory
// history is condensed instead. The result feeds later system prompts so
// the abandoned topic can be picked back up.
func (b *Brain) summarizeOnShift() {
	if b.deps.Local == nil || b.deps.SummaryModel == "" {
		return
	}

	b.mu.Lock()
	if b.summarizing {
		b.mu.Unlock()
		return
	}
	turns := b.lastDropped
	b.lastDropped = nil
	if len(turns) == 0 {
		turns = append([]llm.Message(nil), b.history...)
	}
	if len(turns) == 0 {
		b.mu.Unlock()
		return
	}
	b.summarizing = true
	b.mu.Unlock()

	go func() {
		defer func() {
			b.mu.Lock()
			b.summarizing = false
			b.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), localDeadline)
		defer cancel()
		summary, err := b.summarize(ctx, turns)
		if err != nil || summary == "" {
			logging.Get(logging.CategoryContext).Warn("shift summarization failed: %v", err)
			return
		}

		b.mu.Lock()
		b.topicSummary = summary
		b.mu.Unlock()
		logging.Context("abandoned topic summarized (%d turns)", len(turns))
	}()
}

func (b *Brain) summarize(ctx context.Context, turns []llm.Message) (string, error) {
	model := b.deps.SummaryModel
	if b.deps.Models != nil {
		if err := b.deps.Models.EnsureLoaded(ctx, model); err != nil {
			return "", err
		}
		release := b.deps.Models.AcquireLock(model)
		defer release()
	}

	resp, err := b.deps.Local.Generate(ctx, model, summaryPrompt(turns), &ollama.GenerateOptions{
		Temperature: 0.3,
		NumPredict:  200,
	})
	if err != nil {
		return "", err
	}
	return Sanitize(resp.Response), nil
}

func summaryPrompt(turns []llm.Message) string {
	if len(turns) > summaryTurnCap {
		turns = turns[len(turns)-summaryTurnCap:]
	}
	var sb strings.Builder
	sb.WriteString("Resume en tres frases como máximo los puntos clave de esta conversación, en español. Responde solo con el resumen.\n\n")
	for _, m := range turns {
		who := "usuario"
		if m.Role != "user" {
			who = "ada"
		}
		sb.WriteString(who)
		sb.WriteString(": ")
		sb.WriteString(m.ContentOrEmpty())
		sb.WriteString("\n")
	}
	return sb.String()
}

// =============================================================================
// SANITIZATION AND ERRORS
// =============================================================================

var thinkRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Sanitize strips reasoning blocks some local models emit and trims
// whitespace.
func Sanitize(response string) string {
	cleaned := thinkRe.ReplaceAllString(response, "")
	// An unterminated think block means the output was cut mid-reasoning.
	if i := strings.Index(cleaned, "<think>"); i >= 0 {
		cleaned = cleaned[:i]
	}
	return strings.TrimSpace(cleaned)
}

// TranslateError turns transport errors into Spanish the user can act on.
func TranslateError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "context deadline exceeded"), strings.Contains(msg, "timeout"):
		return "El modelo remoto ha tardado demasiado en responder. Inténtalo otra vez."
	case strings.Contains(msg, "401"), strings.Contains(msg, "invalid_api_key"):
		return "La clave de API no es válida. Revisa la configuración."
	case strings.Contains(msg, "429"):
		return "Demasiadas peticiones seguidas al servicio remoto. Espera un poco."
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return "No puedo conectar con el servicio remoto. ¿Hay conexión a internet?"
	}
	return "Algo ha fallado hablando con el modelo remoto: " + msg
}

// ResetConversation clears the in-memory history.
func (b *Brain) ResetConversation() {
	b.mu.Lock()
	b.history = nil
	b.lastDropped = nil
	b.topicSummary = ""
	b.mu.Unlock()
	if b.deps.Guard != nil {
		b.deps.Guard.ResetTopic()
	}
}

// History returns a copy of the conversation, for the proactive context
// command.
func (b *Brain) History() []llm.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]llm.Message(nil), b.history...)
}

// Remember stores an explicit fact verbatim and queues its embedding.
func (b *Brain) Remember(text string) string {
	text = strings.TrimSpace(strings.Trim(strings.TrimSpace(text), `"«»`))
	if text == "" {
		return "Dime qué quieres que recuerde, por ejemplo: remember \"mi hermana se llama Ana\"."
	}
	if len([]rune(text)) > facts.MaxFactLength {
		return fmt.Sprintf("Eso es demasiado largo para un hecho (máximo %d caracteres).", facts.MaxFactLength)
	}

	now := b.now()
	f := &facts.Fact{
		Domain:          facts.DomainGeneral,
		Fact:            text,
		Confidence:      facts.ConfidenceHigh,
		Source:          facts.SourceExplicit,
		CreatedAt:       now,
		LastConfirmedAt: now,
	}
	if err := b.deps.Store.InsertFact(f); err != nil {
		logging.Get(logging.CategoryStore).Error("remember: %v", err)
		return "No he podido guardarlo."
	}
	if err := b.deps.Store.EnqueueEmbedding(f.ID); err != nil {
		logging.Get(logging.CategoryStore).Warn("enqueue embedding for %s: %v", f.ID, err)
	}
	return "Apuntado: " + text
}
