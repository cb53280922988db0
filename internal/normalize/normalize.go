// Package normalize canonicalizes bytes and text for deterministic matching:
// stripping ANSI escapes, collapsing whitespace, and scrubbing high-entropy
// noise like timestamps, UUIDs, PIDs, and hex addresses.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/charmbracelet/x/ansi"
)

// StripANSI removes CSI/OSC/SGR escapes and other terminal control
// sequences while preserving printable characters and newlines. An
// incomplete escape sequence at the end of the buffer is left verbatim —
// the caller is expected to re-normalize once more bytes arrive.
func StripANSI(s string) string {
	if idx := trailingIncompleteEscape(s); idx >= 0 {
		return ansi.Strip(s[:idx]) + s[idx:]
	}
	return ansi.Strip(s)
}

// trailingIncompleteEscape returns the index where a trailing, unterminated
// escape sequence begins, or -1 if the string ends cleanly.
func trailingIncompleteEscape(s string) int {
	last := strings.LastIndexByte(s, 0x1b)
	if last == -1 {
		return -1
	}
	// Everything after the last ESC must be a syntactically complete
	// sequence for the string to be "clean"; if ansi.Strip still finds an
	// ESC byte in its own output that search failed, so approximate by
	// checking whether the tail region parses to nothing interesting: a
	// C0/C1 escape that hasn't reached its final byte yet has no terminator
	// in [0x40-0x7e] (CSI) or BEL/ST (OSC) after it.
	tail := s[last:]
	if len(tail) < 2 {
		return last
	}
	switch tail[1] {
	case '[': // CSI
		for i := 2; i < len(tail); i++ {
			c := tail[i]
			if c >= 0x40 && c <= 0x7e {
				return -1
			}
		}
		return last
	case ']': // OSC, terminated by BEL or ST (ESC \)
		if strings.ContainsRune(tail[2:], '\a') {
			return -1
		}
		if strings.Contains(tail[2:], "\x1b\\") {
			return -1
		}
		return last
	default:
		// Single-character escape (e.g. ESC 7/8) is already complete.
		return -1
	}
}

var wsRun = regexp.MustCompile(`[^\S\n]+`)

// CollapseWS collapses runs of Unicode whitespace (excluding newlines) into
// a single space, and trims trailing spaces on each line.
func CollapseWS(s string) string {
	collapsed := wsRun.ReplaceAllString(s, " ")
	lines := strings.Split(collapsed, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, func(r rune) bool {
			return unicode.IsSpace(r) && r != '\n'
		})
	}
	return strings.Join(lines, "\n")
}

var (
	reISO8601  = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?\b`)
	reLocalTS  = regexp.MustCompile(`\b\d{2}:\d{2}:\d{2}(\.\d{3,6})?\b`)
	reUUID     = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
	rePID      = regexp.MustCompile(`\bpid[=: ]\d+\b`)
	reHex      = regexp.MustCompile(`\b[0-9a-fA-F]{16,}\b`)
)

// Scrub replaces detected timestamps, UUIDs, PIDs, and long hex strings
// with fixed placeholders so hashing over the result is deterministic
// across runs and machines.
func Scrub(s string) string {
	s = reISO8601.ReplaceAllString(s, "<TS>")
	s = reLocalTS.ReplaceAllString(s, "<TS>")
	s = reUUID.ReplaceAllString(s, "<UUID>")
	s = rePID.ReplaceAllStringFunc(s, func(m string) string {
		sep := m[3]
		return "pid" + string(sep) + "<PID>"
	})
	s = reHex.ReplaceAllString(s, "<HEX>")
	return s
}

// Normalize runs the full pipeline in the required order: strip ANSI,
// collapse whitespace, then scrub. It is pure and idempotent:
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(s string) string {
	return Scrub(CollapseWS(StripANSI(s)))
}
