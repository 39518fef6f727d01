// Package facts defines the persistent knowledge model: typed facts about
// the user, their decay schedule, and the heuristic that decides whether a
// message is worth sending to the extraction queue.
//
// Decay is a pure function of last_confirmed_at computed here, in a leaf
// package, so the store and the retrieval layer can both consume it without
// a dependency cycle. Only the terminal `stale` stage is ever written to
// disk; aging and low_priority exist solely at query time.
package facts

import (
	"strings"
	"time"

	"ada/internal/textutil"
)

// Domain classifies what a fact is about.
type Domain string

const (
	DomainHealth        Domain = "health"
	DomainPreferences   Domain = "preferences"
	DomainWork          Domain = "work"
	DomainRelationships Domain = "relationships"
	DomainSchedule      Domain = "schedule"
	DomainGoals         Domain = "goals"
	DomainGeneral       Domain = "general"
	DomainDecisions     Domain = "decisions"
	DomainPersonal      Domain = "personal"
	DomainProjects      Domain = "projects"
)

// ValidDomain reports whether d is one of the known domains.
func ValidDomain(d Domain) bool {
	switch d {
	case DomainHealth, DomainPreferences, DomainWork, DomainRelationships,
		DomainSchedule, DomainGoals, DomainGeneral, DomainDecisions,
		DomainPersonal, DomainProjects:
		return true
	}
	return false
}

// Confidence grades how sure the extractor was.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ValidConfidence reports whether c is a known confidence level.
func ValidConfidence(c Confidence) bool {
	return c == ConfidenceHigh || c == ConfidenceMedium || c == ConfidenceLow
}

// Source records how a fact entered the store.
type Source string

const (
	SourceExplicit Source = "explicit" // user command («recuerda que…»)
	SourceInferred Source = "inferred" // extraction worker
	SourceMigrated Source = "migrated" // imported from a previous store
)

// MaxFactLength caps the fact text column.
const MaxFactLength = 500

// Fact is a persisted knowledge item.
type Fact struct {
	ID              string
	Domain          Domain
	Fact            string
	Confidence      Confidence
	Scope           string
	Source          Source
	CreatedAt       time.Time
	LastConfirmedAt time.Time
	Stale           bool
	Archived        bool
	Supersedes      string // id of the fact this one replaced, if any
}

// Active reports whether the fact participates in retrieval and injection.
func (f *Fact) Active() bool {
	return !f.Stale && !f.Archived
}

// =============================================================================
// DECAY
// =============================================================================

// Stage is a fact's age bucket.
type Stage string

const (
	StageFresh       Stage = "fresh"        // 0-59d
	StageAging       Stage = "aging"        // 60-89d
	StageLowPriority Stage = "low_priority" // 90-119d
	StageStale       Stage = "stale"        // >=120d
)

// Decay boundaries in days since last confirmation.
const (
	AgingAfterDays       = 60
	LowPriorityAfterDays = 90
	StaleAfterDays       = 120
)

// DecayStatus is derived per query, never stored.
type DecayStatus struct {
	Inject             bool
	RelevanceThreshold float64
	Stage              Stage
}

// GetDecayStatus buckets a fact by the age of its last confirmation.
func GetDecayStatus(lastConfirmedAt, now time.Time) DecayStatus {
	ageDays := int(now.Sub(lastConfirmedAt).Hours() / 24)
	switch {
	case ageDays < AgingAfterDays:
		return DecayStatus{Inject: true, RelevanceThreshold: 0.0, Stage: StageFresh}
	case ageDays < LowPriorityAfterDays:
		return DecayStatus{Inject: true, RelevanceThreshold: 0.3, Stage: StageAging}
	case ageDays < StaleAfterDays:
		return DecayStatus{Inject: true, RelevanceThreshold: 0.7, Stage: StageLowPriority}
	default:
		return DecayStatus{Inject: false, RelevanceThreshold: 1.0, Stage: StageStale}
	}
}

// =============================================================================
// EXTRACTION FILTER
// =============================================================================

var greetings = map[string]bool{
	"hola": true, "buenas": true, "buenos dias": true, "buenas tardes": true,
	"buenas noches": true, "hey": true, "hello": true, "hi": true,
	"gracias": true, "muchas gracias": true, "ok": true, "okay": true,
	"vale": true, "dale": true, "perfecto": true, "genial": true,
	"si": true, "no": true, "claro": true, "bueno": true, "listo": true,
	"adios": true, "chau": true, "hasta luego": true, "nos vemos": true,
}

// personalIndicators are first-person markers that make a question still
// worth extracting («¿te conté que mi hermana se mudó?»).
var personalIndicators = []string{
	"mi ", "mis ", "me ", "yo ", "soy ", "tengo ", "estoy ", "quiero ",
	"prefiero", "trabajo", "vivo ", "odio ", "amo ", "necesito",
}

// ShouldExtract is the pre-enqueue heuristic: it rejects messages that
// cannot plausibly contain a new personal fact so the extraction queue is
// not flooded with greetings and one-word acknowledgements.
func ShouldExtract(message string) bool {
	trimmed := strings.TrimSpace(message)
	if len([]rune(trimmed)) < 12 {
		return false
	}

	folded := textutil.StripAccents(trimmed)
	if greetings[strings.Trim(folded, "¿?¡!., ")] {
		return false
	}

	// Pure questions carry no new information unless they mention the
	// user's own life.
	if strings.HasSuffix(folded, "?") || strings.HasPrefix(folded, "¿") {
		for _, ind := range personalIndicators {
			if strings.Contains(folded, ind) {
				return true
			}
		}
		return false
	}

	return true
}
