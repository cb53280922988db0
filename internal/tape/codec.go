package tape

import (
	"encoding/json"
	"fmt"

	"github.com/tapedeck-dev/tapedeck/internal/tapeerr"
)

// Decode parses a JSON5 tape document, validates it against the current
// schema, and returns the typed result. Any parse or schema failure comes
// back as a *tapeerr.Error of kind SchemaError carrying the offending
// line/column when known.
func Decode(src []byte) (*Tape, error) {
	jsonSrc, line, col, err := toJSON(src)
	if err != nil {
		return nil, tapeerr.New(tapeerr.SchemaError, fmt.Sprintf("malformed JSON5: %v", err)).
			WithDiagnostic(tapeerr.Diagnostic{Line: line, Col: col}).
			WithCause(err)
	}

	var t Tape
	if err := json.Unmarshal(jsonSrc, &t); err != nil {
		l, c := offsetToLineCol(jsonSrc, jsonSyntaxOffset(err))
		return nil, tapeerr.New(tapeerr.SchemaError, fmt.Sprintf("invalid tape document: %v", err)).
			WithDiagnostic(tapeerr.Diagnostic{Line: l, Col: c}).
			WithCause(err)
	}

	if err := Validate(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Encode pretty-prints a tape back to JSON5 (which, absent comments, is
// just indented JSON) with a trailing newline.
func Encode(t *Tape) ([]byte, error) {
	if err := Validate(t); err != nil {
		return nil, err
	}
	// Call MarshalJSON directly: json.Marshal would compact its indented
	// output.
	b, err := t.MarshalJSON()
	if err != nil {
		return nil, tapeerr.New(tapeerr.SchemaError, "failed to encode tape").WithCause(err)
	}
	return append(b, '\n'), nil
}

func jsonSyntaxOffset(err error) int64 {
	if se, ok := err.(*json.SyntaxError); ok {
		return se.Offset
	}
	if ue, ok := err.(*json.UnmarshalTypeError); ok {
		return ue.Offset
	}
	return -1
}

func offsetToLineCol(src []byte, offset int64) (line, col int) {
	if offset < 0 {
		return 0, 0
	}
	line, col = 1, 1
	for i := int64(0); i < offset && int(i) < len(src); i++ {
		if src[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}
