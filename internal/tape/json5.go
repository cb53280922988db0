package tape

import (
	"fmt"
	"strings"
)

// toJSON converts a JSON5 document (comments, trailing commas, single- or
// double-quoted strings) into strict JSON bytes that encoding/json can
// decode. It is a best-effort, single-pass tokenizer — enough for
// human-edited tape files, not a general JSON5 parser: object keys must be
// quoted, since bare identifiers are copied through unchanged.
func toJSON(src []byte) ([]byte, int, int, error) {
	var out strings.Builder
	out.Grow(len(src))

	line, col := 1, 1
	advance := func(c byte) {
		if c == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}

	i := 0
	n := len(src)
	for i < n {
		c := src[i]

		switch {
		case c == '/' && i+1 < n && src[i+1] == '/':
			for i < n && src[i] != '\n' {
				advance(src[i])
				i++
			}
			continue

		case c == '/' && i+1 < n && src[i+1] == '*':
			advance(src[i])
			advance(src[i+1])
			i += 2
			closed := false
			for i+1 < n {
				if src[i] == '*' && src[i+1] == '/' {
					advance(src[i])
					advance(src[i+1])
					i += 2
					closed = true
					break
				}
				advance(src[i])
				i++
			}
			if !closed {
				return nil, line, col, fmt.Errorf("unterminated block comment")
			}
			continue

		case c == '"':
			j, err := copyString(&out, src, i, '"', &line, &col)
			if err != nil {
				return nil, line, col, err
			}
			i = j
			continue

		case c == '\'':
			j, err := copySingleQuoted(&out, src, i, &line, &col)
			if err != nil {
				return nil, line, col, err
			}
			i = j
			continue

		case c == ',':
			// Look ahead, skipping whitespace/comments, for a closing
			// bracket — if found, this is a trailing comma, drop it.
			if isTrailingComma(src, i+1) {
				advance(c)
				i++
				continue
			}
			out.WriteByte(c)
			advance(c)
			i++
			continue

		default:
			out.WriteByte(c)
			advance(c)
			i++
		}
	}
	return []byte(out.String()), line, col, nil
}

func copyString(out *strings.Builder, src []byte, start int, quote byte, line, col *int) (int, error) {
	out.WriteByte(src[start])
	*col++
	i := start + 1
	for i < len(src) {
		c := src[i]
		out.WriteByte(c)
		if c == '\n' {
			*line++
			*col = 1
		} else {
			*col++
		}
		if c == '\\' && i+1 < len(src) {
			i++
			out.WriteByte(src[i])
			*col++
			i++
			continue
		}
		if c == quote {
			return i + 1, nil
		}
		i++
	}
	return i, fmt.Errorf("unterminated string")
}

// copySingleQuoted converts a JSON5 single-quoted string into a
// double-quoted JSON string, re-escaping as needed.
func copySingleQuoted(out *strings.Builder, src []byte, start int, line, col *int) (int, error) {
	i := start + 1
	*col++
	out.WriteByte('"')
	for i < len(src) {
		c := src[i]
		if c == '\n' {
			*line++
			*col = 1
		} else {
			*col++
		}
		if c == '\\' && i+1 < len(src) {
			next := src[i+1]
			if next == '\'' {
				out.WriteByte('\'')
			} else {
				out.WriteByte('\\')
				out.WriteByte(next)
			}
			i += 2
			*col++
			continue
		}
		if c == '"' {
			out.WriteString(`\"`)
			i++
			continue
		}
		if c == '\'' {
			out.WriteByte('"')
			return i + 1, nil
		}
		out.WriteByte(c)
		i++
	}
	return i, fmt.Errorf("unterminated string")
}

// isTrailingComma looks ahead from pos, skipping whitespace and comments,
// to see whether the next significant byte is a closing ] or }.
func isTrailingComma(src []byte, pos int) bool {
	i := pos
	for i < len(src) {
		switch {
		case src[i] == ' ' || src[i] == '\t' || src[i] == '\n' || src[i] == '\r':
			i++
		case src[i] == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case src[i] == '/' && i+1 < len(src) && src[i+1] == '*':
			i += 2
			for i+1 < len(src) && !(src[i] == '*' && src[i+1] == '/') {
				i++
			}
			i += 2
		default:
			return src[i] == ']' || src[i] == '}'
		}
	}
	return false
}
