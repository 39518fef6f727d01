// Package notify abstracts how messages reach the user. The runtime talks
// to a Sink; the CLI sink is the only implementation today, but reminders
// and proactive messages must not care where they land.
package notify

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

// Sink is an output channel to the user.
type Sink interface {
	// Send delivers an assistant-initiated message (reminders, proactive).
	Send(message string) error
	// Reply delivers the answer to the user's own message.
	Reply(message string) error
	// Connected reports whether the channel can deliver right now.
	Connected() bool
	Close() error
}

// Styles shared by the CLI surface.
var (
	NameStyle   = color.New(color.FgCyan, color.Bold)
	AlertStyle  = color.New(color.FgYellow, color.Bold)
	FaintStyle  = color.New(color.Faint)
	ErrorStyle  = color.New(color.FgRed)
)

// CLISink writes to a terminal.
type CLISink struct {
	mu     sync.Mutex
	out    io.Writer
	name   string
	closed bool
}

// NewCLISink writes to stdout under the assistant's display name.
func NewCLISink(name string) *CLISink {
	return &CLISink{out: os.Stdout, name: name}
}

func (s *CLISink) Send(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sink closed")
	}
	// A leading newline so spontaneous messages do not glue onto the prompt.
	fmt.Fprintln(s.out)
	AlertStyle.Fprintf(s.out, "%s: ", s.name)
	fmt.Fprintln(s.out, message)
	return nil
}

func (s *CLISink) Reply(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sink closed")
	}
	NameStyle.Fprintf(s.out, "%s: ", s.name)
	fmt.Fprintln(s.out, message)
	return nil
}

func (s *CLISink) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *CLISink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
