package router

import (
	"regexp"
	"strings"
)

// Intent names. The classifier prompt enumerates exactly these.
const (
	IntentTime           = "time"
	IntentWeather        = "weather"
	IntentReminderCreate = "reminder_create"
	IntentReminderList   = "reminder_list"
	IntentReminderCancel = "reminder_cancel"
	IntentTranslate      = "translate"
	IntentGrammarCheck   = "grammar_check"
	IntentSummarize      = "summarize"
	IntentExplain        = "explain"
	IntentSimpleChat     = "simple_chat"
	IntentConversation   = "conversation"
	IntentAmbiguous      = "ambiguous"
	IntentUnknown        = "unknown"
)

// rule is one fast-path pattern. Confidences are fixed per rule; params are
// extracted from the submatches.
type rule struct {
	pattern    *regexp.Regexp
	intent     string
	tier       Tier
	confidence float64
	params     func(m []string) map[string]string
}

func captureAs(key string) func(m []string) map[string]string {
	return func(m []string) map[string]string {
		if len(m) > 1 && strings.TrimSpace(m[1]) != "" {
			return map[string]string{key: strings.TrimSpace(m[1])}
		}
		return nil
	}
}

// fastPath is evaluated in order; the first match wins.
var fastPath = []rule{
	{
		pattern:    regexp.MustCompile(`(?i)^¿?\s*(que|qué) hora (es|tienes)\s*\??$`),
		intent:     IntentTime,
		tier:       TierDeterministic,
		confidence: 0.98,
	},
	{
		pattern:    regexp.MustCompile(`(?i)^¿?\s*dime la hora\s*\??$`),
		intent:     IntentTime,
		tier:       TierDeterministic,
		confidence: 0.97,
	},
	{
		pattern:    regexp.MustCompile(`(?i)^¿?\s*(que|qué) (tiempo|clima) (hace|hay)\b.*$`),
		intent:     IntentWeather,
		tier:       TierDeterministic,
		confidence: 0.95,
	},
	{
		pattern:    regexp.MustCompile(`(?i)^recu(e|é)rdame\s+(?:que\s+)?(.+)$`),
		intent:     IntentReminderCreate,
		tier:       TierDeterministic,
		confidence: 0.96,
		params: func(m []string) map[string]string {
			return map[string]string{"text": strings.TrimSpace(m[2])}
		},
	},
	{
		pattern:    regexp.MustCompile(`(?i)^¿?\s*((mis|los) recordatorios|que recordatorios tengo|qué recordatorios tengo)\s*\??$`),
		intent:     IntentReminderList,
		tier:       TierDeterministic,
		confidence: 0.97,
	},
	{
		pattern:    regexp.MustCompile(`(?i)^cancela (?:el |ese )?recordatorio\b(.*)$`),
		intent:     IntentReminderCancel,
		tier:       TierDeterministic,
		confidence: 0.9,
		params:     captureAs("which"),
	},
	{
		pattern:    regexp.MustCompile(`(?i)^trad(u|ú)ce(?:me)?\s+(.+)$`),
		intent:     IntentTranslate,
		tier:       TierLocal,
		confidence: 0.95,
		params: func(m []string) map[string]string {
			return map[string]string{"text": strings.TrimSpace(m[2])}
		},
	},
	{
		pattern:    regexp.MustCompile(`(?i)^corrige(?:me)?\s+(.+)$`),
		intent:     IntentGrammarCheck,
		tier:       TierLocal,
		confidence: 0.9,
		params:     captureAs("text"),
	},
	{
		pattern:    regexp.MustCompile(`(?i)^res(u|ú)me(?:me)?\s+(.+)$`),
		intent:     IntentSummarize,
		tier:       TierLocal,
		confidence: 0.88,
		params: func(m []string) map[string]string {
			return map[string]string{"text": strings.TrimSpace(m[2])}
		},
	},
}

// Confidence bars per intent for tier dispatch.
var deterministicThresholds = map[string]float64{
	IntentTime:           0.8,
	IntentWeather:        0.8,
	IntentReminderCreate: 0.85,
	IntentReminderList:   0.85,
	IntentReminderCancel: 0.85,
}

var localThresholds = map[string]float64{
	IntentTranslate:    0.7,
	IntentGrammarCheck: 0.7,
	IntentSummarize:    0.75,
	IntentExplain:      0.75,
	IntentSimpleChat:   0.65,
}

// localModelPreferences orders models per local intent; the device
// profile's recommended list is the fallback.
var localModelPreferences = map[string][]string{
	IntentTranslate:    {"qwen2.5:7b", "qwen2.5:3b"},
	IntentGrammarCheck: {"qwen2.5:7b", "qwen2.5:3b"},
	IntentSummarize:    {"qwen2.5:14b", "qwen2.5:7b", "llama3.1:8b"},
	IntentExplain:      {"qwen2.5:14b", "llama3.1:8b", "qwen2.5:7b"},
	IntentSimpleChat:   {"llama3.2:3b", "qwen2.5:3b"},
}

// Input bounds for local-tier handling; outside them the API model copes
// better.
const (
	localMinInputRunes = 2
	localMaxInputRunes = 2000
)

// localExcludedKeywords force escalation: these asks deserve the big model.
var localExcludedKeywords = []string{
	"codigo", "código", "programa", "script", "sql", "regex",
	"legal", "contrato", "medic", "diagnos",
}

func localInputValid(intent, text string) bool {
	runes := len([]rune(text))
	if runes < localMinInputRunes || runes > localMaxInputRunes {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range localExcludedKeywords {
		if strings.Contains(lower, kw) {
			return false
		}
	}
	return true
}

// =============================================================================
// VALIDATION OVERRIDES
// =============================================================================

var negationMarkers = []string{"no ", "nunca ", "jamas ", "jamás ", "ni se te ocurra"}

var massActionMarkers = []string{"todos los recordatorios", "todo lo que", "borra todo", "elimina todo", "cancela todo"}

// overrideIntent applies the heuristic post-filter to the classifier's
// output. Models happily classify "no me recuerdes nada" as
// reminder_create; these rules catch the obvious cases.
func overrideIntent(input, intent string) string {
	lower := " " + strings.ToLower(strings.TrimSpace(input))

	actionIntent := intent == IntentReminderCreate || intent == IntentReminderCancel ||
		intent == IntentTranslate || intent == IntentGrammarCheck || intent == IntentSummarize

	if actionIntent {
		for _, m := range massActionMarkers {
			if strings.Contains(lower, m) {
				return IntentConversation
			}
		}
		for _, m := range negationMarkers {
			if strings.Contains(lower, " "+m) {
				return IntentConversation
			}
		}
	}

	// Bare command verbs with nothing to operate on.
	trimmed := strings.ToLower(strings.Trim(strings.TrimSpace(input), "¿?¡!.,"))
	switch trimmed {
	case "traduce", "traduceme", "tradúceme", "corrige", "resume", "resúmeme", "recuerdame", "recuérdame":
		return IntentAmbiguous
	}

	return intent
}
