// Package textutil extracts the significant words used by keyword retrieval
// and the extraction-queue heuristics. The user surface is Spanish, so the
// stopword set merges Spanish and English and accents are stripped before
// comparison («qué» and «que» must collide).
package textutil

import (
	"strings"
	"unicode"
)

// accentMap folds the Spanish diacritics to their base letters.
var accentMap = map[rune]rune{
	'á': 'a', 'é': 'e', 'í': 'i', 'ó': 'o', 'ú': 'u', 'ü': 'u', 'ñ': 'n',
	'Á': 'a', 'É': 'e', 'Í': 'i', 'Ó': 'o', 'Ú': 'u', 'Ü': 'u', 'Ñ': 'n',
}

// StripAccents lowercases s and folds accented vowels and ñ.
func StripAccents(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if folded, ok := accentMap[r]; ok {
			b.WriteRune(folded)
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Keywords returns the significant words of s: lowercased, accent-stripped,
// split on non-letter/digit runs, stopwords and words shorter than 2 runes
// removed. Duplicates are collapsed, first occurrence order preserved.
func Keywords(s string) []string {
	folded := StripAccents(s)
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, w := range fields {
		if len([]rune(w)) < 2 {
			continue
		}
		if stopwords[w] {
			continue
		}
		if seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// Overlap scores how much of query is covered by fact: |query ∩ fact| / |query|.
// An empty query scores 0.
func Overlap(query, fact []string) float64 {
	if len(query) == 0 {
		return 0
	}
	factSet := make(map[string]bool, len(fact))
	for _, w := range fact {
		factSet[w] = true
	}
	matched := 0
	for _, w := range query {
		if factSet[w] {
			matched++
		}
	}
	return float64(matched) / float64(len(query))
}

// stopwords is the merged Spanish + English set. Entries are stored
// accent-stripped because Keywords folds input before the lookup.
var stopwords = map[string]bool{
	// Spanish
	"el": true, "la": true, "los": true, "las": true, "un": true, "una": true,
	"unos": true, "unas": true, "de": true, "del": true, "al": true, "a": true,
	"en": true, "por": true, "para": true, "con": true, "sin": true, "sobre": true,
	"entre": true, "hasta": true, "desde": true, "hacia": true, "segun": true,
	"y": true, "o": true, "u": true, "e": true, "ni": true, "pero": true,
	"sino": true, "aunque": true, "porque": true, "pues": true, "como": true,
	"que": true, "quien": true, "cual": true, "cuales": true, "cuando": true,
	"donde": true, "cuanto": true, "cuanta": true, "cuantos": true, "cuantas": true,
	"yo": true, "tu": true, "usted": true, "nosotros": true, "vosotros": true,
	"ellos": true, "ellas": true, "me": true, "te": true, "se": true, "nos": true,
	"os": true, "le": true, "les": true, "lo": true, "mi": true, "mis": true,
	"tus": true, "su": true, "sus": true, "nuestro": true, "nuestra": true,
	"este": true, "esta": true, "estos": true, "estas": true, "ese": true,
	"esa": true, "esos": true, "esas": true, "aquel": true, "aquella": true,
	"es": true, "son": true, "era": true, "eran": true, "fue": true, "ser": true,
	"estar": true, "estoy": true, "esto": true, "eso": true,
	"hay": true, "ha": true, "he": true, "han": true, "haber": true,
	"muy": true, "mas": true, "menos": true, "tan": true, "tanto": true,
	"ya": true, "no": true, "si": true, "tambien": true, "tampoco": true,
	"todo": true, "toda": true, "todos": true, "todas": true, "otro": true,
	"otra": true, "algo": true, "nada": true, "cada": true, "ahora": true,
	"solo": true, "asi": true, "bien": true, "vez": true,
	// English
	"the": true, "of": true, "and": true, "or": true, "to": true, "in": true,
	"on": true, "at": true, "by": true, "for": true, "with": true, "from": true,
	"as": true, "is": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "being": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "can": true, "may": true, "might": true,
	"this": true, "that": true, "these": true, "those": true, "it": true,
	"its": true, "i": true, "you": true, "we": true, "they": true,
	"my": true, "your": true, "his": true, "her": true, "our": true,
	"their": true, "them": true, "us": true, "him": true,
	"not": true, "all": true, "any": true, "some": true, "but": true,
	"what": true, "when": true, "where": true, "who": true, "how": true,
	"an": true, "so": true, "if": true, "then": true, "than": true,
	"too": true, "very": true, "just": true, "about": true,
}
