// Package activity classifies raw terminal output chunks. Terminal redraw
// noise (cursor movement, title-bar escapes, color resets) must never count
// as agent activity, so chunks are scrubbed before classification.
package activity

import (
	"regexp"
	"strings"
	"unicode"
)

// ansiPattern matches CSI sequences (including private-mode '?') and OSC
// sequences terminated by BEL or ST.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\a\x1b]*(\a|\x1b\\)`)

// Strip removes ANSI escape sequences and non-printable control bytes from
// text, preserving newlines and tabs.
func Strip(text string) string {
	cleaned := ansiPattern.ReplaceAllString(text, "")
	var b strings.Builder
	b.Grow(len(cleaned))
	for _, r := range cleaned {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsActivity reports whether a raw output chunk contains real output: at
// least one non-whitespace character after stripping.
func IsActivity(chunk string) bool {
	return strings.TrimSpace(Strip(chunk)) != ""
}

// SignalFunc receives the id of a session that produced real output.
type SignalFunc func(sessionID string)

// Sink filters raw output chunks and forwards an activity signal per chunk
// that carries real output. It is the upstream feed for the monitor's
// busy/idle state machine.
type Sink struct {
	signal SignalFunc
}

// NewSink returns a sink forwarding to signal.
func NewSink(signal SignalFunc) *Sink {
	return &Sink{signal: signal}
}

// Observe inspects one raw chunk from a session's terminal.
func (s *Sink) Observe(sessionID, chunk string) {
	if s == nil || s.signal == nil {
		return
	}
	if IsActivity(chunk) {
		s.signal(sessionID)
	}
}
