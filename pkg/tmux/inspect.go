package tmux

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Interruption is the outcome of DetectInterruption.
type Interruption int

const (
	InterruptionNone Interruption = iota
	Interrupted
	Declined
)

func (i Interruption) String() string {
	switch i {
	case Interrupted:
		return "interrupted"
	case Declined:
		return "declined"
	}
	return "none"
}

const (
	// markerScanLimit bounds the upward search for the start of the last turn.
	markerScanLimit = 15
	// activeHintLines is how many bottom lines are checked for a live turn.
	activeHintLines = 5
	minSeparatorLen = 10
)

var activeHints = []string{
	"esc to interrupt",
	"ctrl+c to interrupt",
	"esc to cancel",
}

// IsActivelyWorking reports whether text shows an interrupt hint, which the
// agent only renders while a turn is in progress.
func IsActivelyWorking(text string) bool {
	lower := strings.ToLower(ansi.Strip(text))
	for _, hint := range activeHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// DetectInterruption looks at the last turn above the prompt box and
// reports whether it ended in an interrupt or a declined question.
func DetectInterruption(text string) Interruption {
	lines := strings.Split(ansi.Strip(text), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return InterruptionNone
	}

	bottom := lines[max(0, len(lines)-activeHintLines):]
	if IsActivelyWorking(strings.Join(bottom, "\n")) {
		return InterruptionNone
	}

	// The last two separators are the prompt box borders; the upper one is
	// the inner edge of the conversation.
	lower, upper := -1, -1
	for i := len(lines) - 1; i >= 0; i-- {
		if !isSeparatorLine(lines[i]) {
			continue
		}
		if lower < 0 {
			lower = i
			continue
		}
		upper = i
		break
	}
	if upper < 0 {
		return InterruptionNone
	}

	marker := -1
	for i := upper - 1; i >= 0 && i >= upper-markerScanLimit; i-- {
		if isTurnMarker(lines[i]) {
			marker = i
			break
		}
	}
	if marker < 0 {
		return InterruptionNone
	}

	turn := strings.Join(lines[marker:upper], "\n")
	switch {
	case strings.Contains(turn, "User declined to answer"):
		return Declined
	case strings.Contains(turn, "Interrupted"):
		return Interrupted
	}
	return InterruptionNone
}

func isSeparatorLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	n := 0
	for _, r := range trimmed {
		switch r {
		case '─', '━', '═', '-':
			n++
		default:
			return false
		}
	}
	return n >= minSeparatorLen
}

func isTurnMarker(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, ">") ||
		strings.HasPrefix(trimmed, "⏺") ||
		strings.HasPrefix(trimmed, "●")
}
