// Package dateparse turns Spanish natural-language time expressions into
// concrete timestamps. It is fully deterministic (no LLM involved) so the
// reminder fast-path can resolve «recuérdame llamar al banco mañana a las 9»
// without a network call.
//
// Failures are values, not errors: Parse returns a Result whose Suggestion
// tells the user what phrasing would have worked.
package dateparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"ada/internal/textutil"
)

// Result is the outcome of parsing a time expression.
type Result struct {
	OK         bool
	At         time.Time
	Err        string
	Suggestion string
}

const suggestion = "prueba con «en 10 minutos», «mañana a las 9», «el viernes a las 18» o «el 15 de marzo»"

func fail(reason string) Result {
	return Result{OK: false, Err: reason, Suggestion: suggestion}
}

var (
	relativeRe = regexp.MustCompile(`\ben (\d{1,4}) (segundos?|minutos?|horas?|dias?)\b`)
	clockRe    = regexp.MustCompile(`\ba las? (\d{1,2})(?::(\d{2}))?\b`)
	monthDayRe = regexp.MustCompile(`\bel (\d{1,2}) de ([a-z]+)\b`)
	weekdayRe  = regexp.MustCompile(`\be?l? ?(lunes|martes|miercoles|jueves|viernes|sabado|domingo)\b`)
)

var weekdays = map[string]time.Weekday{
	"domingo": time.Sunday, "lunes": time.Monday, "martes": time.Tuesday,
	"miercoles": time.Wednesday, "jueves": time.Thursday,
	"viernes": time.Friday, "sabado": time.Saturday,
}

var months = map[string]time.Month{
	"enero": time.January, "febrero": time.February, "marzo": time.March,
	"abril": time.April, "mayo": time.May, "junio": time.June,
	"julio": time.July, "agosto": time.August, "septiembre": time.September,
	"setiembre": time.September, "octubre": time.October,
	"noviembre": time.November, "diciembre": time.December,
}

// Parse resolves input relative to now. The zone of now is preserved.
func Parse(input string, now time.Time) Result {
	s := textutil.StripAccents(strings.TrimSpace(input))
	if s == "" {
		return fail("expresión de tiempo vacía")
	}

	// «en 5 minutos», «en 2 horas», «en 3 dias»
	if m := relativeRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return fail("cantidad inválida: " + m[1])
		}
		var d time.Duration
		switch {
		case strings.HasPrefix(m[2], "segundo"):
			d = time.Duration(n) * time.Second
		case strings.HasPrefix(m[2], "minuto"):
			d = time.Duration(n) * time.Minute
		case strings.HasPrefix(m[2], "hora"):
			d = time.Duration(n) * time.Hour
		case strings.HasPrefix(m[2], "dia"):
			d = time.Duration(n) * 24 * time.Hour
		}
		return Result{OK: true, At: now.Add(d)}
	}

	hour, minute, hasClock, bad := parseClock(s)
	if bad != "" {
		return fail(bad)
	}

	// «el 15 de marzo [a las 10]»
	if m := monthDayRe.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, ok := months[m[2]]
		if !ok {
			return fail("mes desconocido: " + m[2])
		}
		if day < 1 || day > 31 {
			return fail("día del mes inválido: " + m[1])
		}
		h, min := 9, 0 // default morning slot for date-only reminders
		if hasClock {
			h, min = hour, minute
		}
		at := time.Date(now.Year(), month, day, h, min, 0, 0, now.Location())
		if at.Day() != day {
			return fail("esa fecha no existe")
		}
		if !at.After(now) {
			at = at.AddDate(1, 0, 0)
		}
		return Result{OK: true, At: at}
	}

	// «pasado mañana», «mañana», «hoy»
	dayOffset := -1
	switch {
	case strings.Contains(s, "pasado manana"):
		dayOffset = 2
	case strings.Contains(s, "manana") && !isMorningQualifier(s):
		dayOffset = 1
	case strings.Contains(s, "hoy"):
		dayOffset = 0
	}
	if dayOffset >= 0 {
		h, min := 9, 0
		if hasClock {
			h, min = hour, minute
		}
		base := now.AddDate(0, 0, dayOffset)
		at := time.Date(base.Year(), base.Month(), base.Day(), h, min, 0, 0, now.Location())
		if !at.After(now) {
			if dayOffset == 0 && !hasClock {
				return fail("falta la hora: di «hoy a las 18»")
			}
			at = at.AddDate(0, 0, 1)
		}
		return Result{OK: true, At: at}
	}

	// «el viernes [a las 18]»
	if m := weekdayRe.FindStringSubmatch(s); m != nil {
		target := weekdays[m[1]]
		h, min := 9, 0
		if hasClock {
			h, min = hour, minute
		}
		days := (int(target) - int(now.Weekday()) + 7) % 7
		at := time.Date(now.Year(), now.Month(), now.Day(), h, min, 0, 0, now.Location()).AddDate(0, 0, days)
		if !at.After(now) {
			at = at.AddDate(0, 0, 7)
		}
		return Result{OK: true, At: at}
	}

	// Bare «a las 19:30»: today, rolled to tomorrow if already past.
	if hasClock {
		at := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		return Result{OK: true, At: at}
	}

	return fail("no entendí cuándo")
}

// parseClock extracts «a las H[:MM]» plus the meridiem qualifier.
// Returns hasClock=false when no clock expression is present and a non-empty
// bad string when one is present but invalid.
func parseClock(s string) (hour, minute int, hasClock bool, bad string) {
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false, ""
	}
	hour, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if hour > 23 || minute > 59 {
		return 0, 0, false, "hora inválida: " + m[0]
	}

	// «a las 7 de la tarde» → 19; «de la noche» past 12 → keep.
	if hour < 12 {
		if strings.Contains(s, "de la tarde") || strings.Contains(s, "de la noche") {
			hour += 12
		}
	}
	return hour, minute, true, ""
}

// isMorningQualifier reports whether «manana» appears only as the meridiem
// («de la manana») rather than the day («mañana a las 9»).
func isMorningQualifier(s string) bool {
	idx := strings.Index(s, "manana")
	for idx >= 0 {
		if !strings.HasPrefix(s[maxInt(0, idx-6):], "de la ") {
			return false
		}
		next := strings.Index(s[idx+6:], "manana")
		if next < 0 {
			break
		}
		idx += 6 + next
	}
	return true
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
