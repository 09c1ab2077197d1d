package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// PrettyLogger writes short status lines for people, apart from the
// structured log stream.
type PrettyLogger struct {
	w io.Writer

	ok, warn, fail, key, value, path lipgloss.Style
}

func NewPrettyLogger() *PrettyLogger {
	return &PrettyLogger{
		w:     os.Stdout,
		ok:    lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		fail:  lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		key:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		value: lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true),
		path:  lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Italic(true),
	}
}

func (p *PrettyLogger) WithWriter(w io.Writer) *PrettyLogger {
	p.w = w
	return p
}

func (p *PrettyLogger) mark(style lipgloss.Style, symbol, message string) {
	fmt.Fprintln(p.w, style.Render(symbol+" "+message))
}

func (p *PrettyLogger) Success(message string) { p.mark(p.ok, "✓", message) }

func (p *PrettyLogger) Warn(message string) { p.mark(p.warn, "!", message) }

// Error prints message, followed by err when it is non-nil.
func (p *PrettyLogger) Error(message string, err error) {
	if err != nil {
		message += ": " + err.Error()
	}
	p.mark(p.fail, "✗", message)
}

func (p *PrettyLogger) Field(key string, value any) {
	fmt.Fprintf(p.w, "  %s %s\n", p.key.Render(key+":"), p.value.Render(fmt.Sprint(value)))
}

func (p *PrettyLogger) Path(label, path string) {
	fmt.Fprintf(p.w, "  %s %s\n", p.key.Render(label+":"), p.path.Render(path))
}
