// Package tools holds the deterministic answer paths: the handful of intents
// that never need a model at all.
package tools

import (
	"fmt"
	"strings"
	"time"

	"ada/internal/dateparse"
	"ada/internal/logging"
	"ada/internal/store"
)

var spanishWeekdays = [...]string{
	"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado",
}

var spanishMonths = [...]string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

// FormatDate renders t as a full Spanish date line.
func FormatDate(t time.Time) string {
	return fmt.Sprintf("%s, %d de %s de %d",
		spanishWeekdays[int(t.Weekday())], t.Day(), spanishMonths[int(t.Month())-1], t.Year())
}

// CurrentTime answers the time intent.
func CurrentTime(now time.Time) string {
	return fmt.Sprintf("Son las %02d:%02d del %s.", now.Hour(), now.Minute(), FormatDate(now))
}

// =============================================================================
// WEATHER
// =============================================================================

// WeatherProvider answers the weather intent. The default build has no
// provider wired; the interface keeps the routing path testable.
type WeatherProvider interface {
	Current(location string) (string, error)
}

// Weather resolves the weather intent through provider, or degrades
// honestly when none is configured.
func Weather(provider WeatherProvider, location string) string {
	if provider == nil {
		return "No tengo acceso a datos del tiempo en este dispositivo."
	}
	report, err := provider.Current(location)
	if err != nil {
		logging.Get(logging.CategoryAPI).Warn("weather provider failed: %v", err)
		return "No he podido consultar el tiempo ahora mismo."
	}
	return report
}

// =============================================================================
// REMINDERS
// =============================================================================

// Reminders is the deterministic reminder CRUD surface.
type Reminders struct {
	store *store.Store
	now   func() time.Time
}

func NewReminders(s *store.Store) *Reminders {
	return &Reminders{store: s, now: time.Now}
}

// Create parses the time expression out of text and persists the reminder.
// The user-facing reply is always in the second return value.
func (r *Reminders) Create(text string) (*store.Reminder, string) {
	now := r.now()
	parsed := dateparse.Parse(text, now)
	if !parsed.OK {
		return nil, fmt.Sprintf("No he entendido cuándo: %s. %s", parsed.Err, parsed.Suggestion)
	}
	if !parsed.At.After(now) {
		return nil, "Esa hora ya ha pasado, dime una en el futuro."
	}

	rem, err := r.store.CreateReminder(strings.TrimSpace(text), parsed.At)
	if err != nil {
		logging.Get(logging.CategoryScheduler).Error("create reminder: %v", err)
		return nil, "No he podido guardar el recordatorio."
	}
	logging.Scheduler("reminder %s created for %s", rem.ID, parsed.At.Format(time.RFC3339))
	return rem, fmt.Sprintf("Vale, te lo recuerdo el %s a las %02d:%02d.",
		FormatDate(parsed.At), parsed.At.Hour(), parsed.At.Minute())
}

// List renders the pending reminders, oldest trigger first.
func (r *Reminders) List() string {
	pending, err := r.store.PendingReminders()
	if err != nil {
		logging.Get(logging.CategoryScheduler).Error("list reminders: %v", err)
		return "No he podido leer los recordatorios."
	}
	if len(pending) == 0 {
		return "No tienes recordatorios pendientes."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Tienes %d recordatorio(s):\n", len(pending))
	for i, rem := range pending {
		at := rem.TriggerAt.Local()
		fmt.Fprintf(&b, "%d. %s — %s a las %02d:%02d\n",
			i+1, rem.Message, FormatDate(at), at.Hour(), at.Minute())
	}
	return strings.TrimRight(b.String(), "\n")
}

// Cancel removes one pending reminder by its 1-based list position.
func (r *Reminders) Cancel(position int) string {
	pending, err := r.store.PendingReminders()
	if err != nil {
		logging.Get(logging.CategoryScheduler).Error("cancel reminder: %v", err)
		return "No he podido leer los recordatorios."
	}
	if position < 1 || position > len(pending) {
		if len(pending) == 0 {
			return "No tienes recordatorios que cancelar."
		}
		return fmt.Sprintf("Dime un número entre 1 y %d.", len(pending))
	}

	target := pending[position-1]
	if err := r.store.CancelReminder(target.ID); err != nil {
		return "Ese recordatorio ya no está pendiente."
	}
	return fmt.Sprintf("Cancelado: %s.", target.Message)
}

// Clear removes every pending reminder.
func (r *Reminders) Clear() string {
	n, err := r.store.ClearReminders()
	if err != nil {
		logging.Get(logging.CategoryScheduler).Error("clear reminders: %v", err)
		return "No he podido borrar los recordatorios."
	}
	if n == 0 {
		return "No había recordatorios pendientes."
	}
	return fmt.Sprintf("He borrado %d recordatorio(s).", n)
}
