// Package contextguard keeps the conversation inside the remote model's
// context window. Overflow trims oldest-first, backs the dropped turns up to
// a JSONL file, and flags dropped user turns that look like they carried
// personal facts.
package contextguard

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ada/internal/embedding"
	"ada/internal/facts"
	"ada/internal/llm"
	"ada/internal/logging"
	"ada/internal/tokens"
	"ada/internal/vecmath"
)

const (
	// Window math for the remote model.
	defaultContextTokens   = 100000
	defaultSystemReserve   = 4000
	defaultResponseReserve = 4000

	// Flat per-message overhead for role framing and separators.
	perMessageOverhead = 4

	backupTruncateRunes = 500

	// Topic continuity against the centroid of recent user turns.
	continuityThreshold = 0.3
	centroidWindow      = 3
)

// Limits sizes the context window. Zero fields take the defaults.
type Limits struct {
	ModelContextTokens  int
	SystemPromptReserve int
	ResponseReserve     int
}

func (l Limits) withDefaults() Limits {
	if l.ModelContextTokens <= 0 {
		l.ModelContextTokens = defaultContextTokens
	}
	if l.SystemPromptReserve <= 0 {
		l.SystemPromptReserve = defaultSystemReserve
	}
	if l.ResponseReserve <= 0 {
		l.ResponseReserve = defaultResponseReserve
	}
	return l
}

// Budget is the token allowance for conversation turns under the default
// limits.
func Budget() int {
	return Limits{}.withDefaults().budget()
}

func (l Limits) budget() int {
	return l.ModelContextTokens - l.SystemPromptReserve - l.ResponseReserve
}

// Result reports what Fit kept and what it had to do to get there.
type Result struct {
	Messages   []llm.Message
	Removed    int
	TokensUsed int
	Reason     string // "fits" or "calculated"

	// Dropped holds the removed turns, oldest first, for summarization.
	Dropped []llm.Message

	// User turns that were dropped but looked fact-bearing; the caller
	// should push them through extraction before they are gone for good.
	PotentialFacts []string
	BackupFailed   bool
}

// Guard trims conversations and watches for topic shifts.
type Guard struct {
	backupPath string
	engine     *embedding.Engine
	limits     Limits

	mu       sync.Mutex
	userVecs [][]float32 // last few user-turn embeddings, oldest first
}

// New creates a guard. engine may be nil; topic detection then relies on the
// wording heuristic alone.
func New(backupPath string, engine *embedding.Engine, lim Limits) *Guard {
	return &Guard{backupPath: backupPath, engine: engine, limits: lim.withDefaults()}
}

// Budget is the token allowance for conversation turns.
func (g *Guard) Budget() int {
	return g.limits.budget()
}

// MessageTokens estimates the cost of one turn, tool calls included.
func MessageTokens(m llm.Message) int {
	n := tokens.Count(m.ContentOrEmpty()) + perMessageOverhead
	if len(m.ToolCalls) > 0 {
		if raw, err := json.Marshal(m.ToolCalls); err == nil {
			n += tokens.Count(string(raw))
		}
	}
	return n
}

// Fit returns the newest suffix of messages that fits the budget. The most
// recent message is always kept, even alone and over budget; truncating the
// turn the user just typed would be worse than a long prompt.
func (g *Guard) Fit(messages []llm.Message) Result {
	budget := g.limits.budget()

	total := 0
	for _, m := range messages {
		total += MessageTokens(m)
	}
	if total <= budget {
		return Result{Messages: messages, TokensUsed: total, Reason: "fits"}
	}

	// Walk newest to oldest, keeping while under budget.
	used := 0
	keepFrom := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		cost := MessageTokens(messages[i])
		if used+cost > budget && keepFrom < len(messages) {
			break
		}
		used += cost
		keepFrom = i
	}

	removed := messages[:keepFrom]
	res := Result{
		Messages:   messages[keepFrom:],
		Removed:    len(removed),
		TokensUsed: used,
		Reason:     "calculated",
		Dropped:    removed,
	}

	for _, m := range removed {
		if m.Role == "user" && facts.ShouldExtract(m.ContentOrEmpty()) {
			res.PotentialFacts = append(res.PotentialFacts, m.ContentOrEmpty())
		}
	}

	if err := g.backup(removed, res.PotentialFacts); err != nil {
		res.BackupFailed = true
		logging.Context("context backup failed: %v", err)
	}
	logging.Context("trimmed %d turns (%d tokens kept, %d flagged as fact-bearing)",
		res.Removed, res.TokensUsed, len(res.PotentialFacts))
	return res
}

// backupEvent is one truncation event: a single JSONL line holding every
// dropped turn, contents capped at 500 chars each.
type backupEvent struct {
	Timestamp      time.Time       `json:"timestamp"`
	MessageCount   int             `json:"messageCount"`
	PotentialFacts []string        `json:"potentialFacts,omitempty"`
	Messages       []backupMessage `json:"messages"`
}

type backupMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// backup appends the dropped turns synchronously; losing them silently is
// the one failure mode this package exists to prevent.
func (g *Guard) backup(removed []llm.Message, potentialFacts []string) error {
	if len(removed) == 0 || g.backupPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(g.backupPath), 0o755); err != nil {
		return fmt.Errorf("creating backup dir: %w", err)
	}
	f, err := os.OpenFile(g.backupPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening backup: %w", err)
	}
	defer f.Close()

	event := backupEvent{
		Timestamp:      time.Now().UTC(),
		MessageCount:   len(removed),
		PotentialFacts: potentialFacts,
	}
	for _, m := range removed {
		event.Messages = append(event.Messages, backupMessage{
			Role:    m.Role,
			Content: truncateRunes(m.ContentOrEmpty(), backupTruncateRunes),
		})
	}
	if err := json.NewEncoder(f).Encode(event); err != nil {
		return fmt.Errorf("writing backup line: %w", err)
	}
	return nil
}

// =============================================================================
// TOPIC SHIFT
// =============================================================================

var topicShiftMarkers = []string{
	"cambiando de tema",
	"cambio de tema",
	"por cierto",
	"otra cosa",
	"hablando de otra cosa",
	"olvida eso",
	"dejemos eso",
}

// TopicShift reports whether the user turn starts a new topic. The wording
// heuristic fires first; otherwise the turn's embedding is compared with the
// centroid of the last few user turns. The embedding is recorded either way.
func (g *Guard) TopicShift(ctx context.Context, userMessage string) bool {
	shifted := false
	lower := strings.ToLower(userMessage)
	for _, marker := range topicShiftMarkers {
		if strings.Contains(lower, marker) {
			shifted = true
			break
		}
	}

	if g.engine == nil {
		return shifted
	}
	vec, err := g.engine.Embed(ctx, userMessage)
	if err != nil || vec == nil {
		return shifted
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if !shifted && len(g.userVecs) > 0 {
		continuity := vecmath.Cosine(vec, vecmath.Centroid(g.userVecs))
		if continuity <= continuityThreshold {
			logging.Context("topic shift by continuity %.3f", continuity)
			shifted = true
		}
	}
	g.userVecs = append(g.userVecs, vec)
	if len(g.userVecs) > centroidWindow {
		g.userVecs = g.userVecs[len(g.userVecs)-centroidWindow:]
	}
	return shifted
}

// ResetTopic clears the continuity window, for explicit topic resets.
func (g *Guard) ResetTopic() {
	g.mu.Lock()
	g.userVecs = nil
	g.mu.Unlock()
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
