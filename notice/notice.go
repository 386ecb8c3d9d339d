// Package notice delivers short user-visible messages.
//
// Every fatal run condition produces exactly one notice. Diagnostic detail
// belongs in the log, not in the notice text.
package notice

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

// Level classifies a notice.
type Level int

const (
	Info Level = iota
	Success
	Failure
)

// Notifier shows a transient message to the user.
type Notifier interface {
	Notify(ctx context.Context, level Level, msg string)
}

// Console prints notices to a terminal.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole creates a console notifier writing to out (stderr when nil).
func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = os.Stderr
	}
	return &Console{out: out}
}

// Notify prints msg with a level-coloured prefix.
func (c *Console) Notify(ctx context.Context, level Level, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var prefix string
	switch level {
	case Success:
		prefix = color.GreenString("✓")
	case Failure:
		prefix = color.RedString("✗")
	default:
		prefix = color.CyanString("•")
	}
	fmt.Fprintf(c.out, "%s %s\n", prefix, msg)
}

// Entry is one recorded notice.
type Entry struct {
	Level   Level
	Message string
}

// Recorder keeps notices in memory.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// Notify records msg.
func (r *Recorder) Notify(ctx context.Context, level Level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Level: level, Message: msg})
}

// Entries returns a copy of the recorded notices.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Failures returns the recorded failure messages.
func (r *Recorder) Failures() []string {
	var out []string
	for _, e := range r.Entries() {
		if e.Level == Failure {
			out = append(out, e.Message)
		}
	}
	return out
}

// Discard drops every notice.
type Discard struct{}

// Notify does nothing.
func (Discard) Notify(context.Context, Level, string) {}

// Verify notifiers implement Notifier
var (
	_ Notifier = (*Console)(nil)
	_ Notifier = (*Recorder)(nil)
	_ Notifier = Discard{}
)
