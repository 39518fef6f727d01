package brain

import (
	"fmt"
	"strings"
	"time"

	"ada/internal/facts"
	"ada/internal/logging"
)

const helpText = `Comandos disponibles:
  exit | quit            salir
  clear                  limpiar la conversación actual
  quiet [duración|off]   silenciar mensajes espontáneos (ej: quiet 2h)
  reminders [clear]      ver o borrar los recordatorios pendientes
  remember "..."         guardar un hecho tal cual
  facts [dominio]        ver lo que sé de ti
  proactive status|tick|reminder-tick|context|reset
  help                   esta ayuda`

// handleCommand intercepts the command surface. The third return is false
// when input is a normal conversational message.
func (b *Brain) handleCommand(input string) (reply string, done bool, isCommand bool) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return "", false, false
	}
	head := strings.ToLower(fields[0])
	rest := strings.TrimSpace(strings.TrimPrefix(input, fields[0]))

	switch head {
	case "exit", "quit":
		return "Hasta luego.", true, true

	case "help":
		return helpText, false, true

	case "clear":
		b.ResetConversation()
		return "Conversación limpiada.", false, true

	case "quiet":
		return b.quietCommand(rest), false, true

	case "reminders":
		if strings.EqualFold(rest, "clear") {
			return b.deps.Reminders.Clear(), false, true
		}
		if rest != "" {
			return "Uso: reminders [clear]", false, true
		}
		return b.deps.Reminders.List(), false, true

	case "remember":
		return b.Remember(rest), false, true

	case "facts":
		return b.factsCommand(rest), false, true

	case "proactive":
		return b.proactiveCommand(strings.ToLower(rest)), false, true
	}
	return "", false, false
}

func (b *Brain) quietCommand(arg string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch strings.ToLower(arg) {
	case "off":
		b.quietUntil = time.Time{}
		return "Vale, vuelvo a hablar cuando tenga algo que decir."
	case "":
		arg = "1h"
	}
	d, err := time.ParseDuration(arg)
	if err != nil || d <= 0 {
		return "No he entendido la duración, prueba con «quiet 30m» o «quiet 2h»."
	}
	b.quietUntil = b.now().Add(d)
	logging.Brain("quiet mode until %s", b.quietUntil.Format(time.RFC3339))
	return fmt.Sprintf("De acuerdo, no te molesto hasta las %02d:%02d.",
		b.quietUntil.Hour(), b.quietUntil.Minute())
}

func (b *Brain) factsCommand(arg string) string {
	domain := facts.Domain("")
	if arg != "" {
		domain = facts.Domain(strings.ToLower(arg))
		if !facts.ValidDomain(domain) {
			return fmt.Sprintf("No conozco el dominio «%s». Prueba: health, preferences, work, relationships, schedule, goals, general, decisions, personal o projects.", arg)
		}
	}

	active, err := b.deps.Store.ActiveFacts(domain, 100)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("facts command: %v", err)
		return "No he podido leer los hechos."
	}
	if len(active) == 0 {
		if domain != "" {
			return fmt.Sprintf("No tengo nada apuntado en «%s».", domain)
		}
		return "Todavía no sé nada de ti. Cuéntame cosas o usa remember."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Sé %d cosa(s) de ti:\n", len(active))
	for _, f := range active {
		marker := ""
		if st := facts.GetDecayStatus(f.LastConfirmedAt, b.now()); st.Stage != facts.StageFresh {
			marker = " (antiguo)"
		}
		fmt.Fprintf(&sb, "  [%s] %s%s\n", f.Domain, f.Fact, marker)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Brain) proactiveCommand(arg string) string {
	switch arg {
	case "status":
		if b.deps.ProactiveStatus == nil {
			return "El modo proactivo está desactivado."
		}
		return b.deps.ProactiveStatus()
	case "tick":
		if b.deps.ProactiveTick == nil {
			return "El modo proactivo está desactivado."
		}
		b.deps.ProactiveTick()
		return "Tick proactivo ejecutado."
	case "reminder-tick":
		if b.deps.ReminderTick == nil {
			return "El planificador no está activo."
		}
		b.deps.ReminderTick()
		return "Tick de recordatorios ejecutado."
	case "context":
		return b.ContextPrompt()
	case "reset":
		if b.deps.ProactiveReset == nil {
			return "El modo proactivo está desactivado."
		}
		b.deps.ProactiveReset()
		return "Contadores proactivos a cero."
	}
	return "Uso: proactive status|tick|reminder-tick|context|reset"
}
