// Package tape defines the on-disk recording format: a JSON5 document
// listing the program identity, session metadata, and an ordered list of
// exchanges (prompt, input, timed output chunks). Encode/Decode round-trip
// through a schema-validated, pretty-printed JSON5 form.
package tape

import (
	"encoding/json"
	"sort"
)

// CurrentSchemaVersion is written to every tape produced by this package.
// Decode accepts a schemaVersion from 1 through CurrentSchemaVersion; any
// other value is a schema-error, not a silent best-effort parse.
const CurrentSchemaVersion = 1

// Tape is one recorded session: its identity, capture metadata, and the
// ordered exchanges a replay walks through.
type Tape struct {
	SchemaVersion int
	Meta          Meta
	Session       Session
	Exchanges     []Exchange

	// Extra carries top-level fields not known to this schema version,
	// preserved verbatim across a read-modify-write round trip.
	Extra map[string]json.RawMessage
}

// Meta describes how the tape was captured and how it should be replayed.
type Meta struct {
	CreatedAt string            `json:"createdAt"`
	Program   string            `json:"program"`
	Args      []string          `json:"args"`
	Env       map[string]string `json:"env,omitempty"`
	Cwd       string            `json:"cwd,omitempty"`
	PTY       *PTYSize          `json:"pty,omitempty"`
	Tag       string            `json:"tag,omitempty"`
	Latency   *Latency          `json:"latency,omitempty"`
	ErrorRate float64           `json:"errorRate,omitempty"`
	Seed      int64             `json:"seed,omitempty"`
}

// PTYSize records the terminal dimensions a capture ran under.
type PTYSize struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// Latency overrides per-chunk pacing at replay time: either a fixed
// millisecond delay, or a [low, high] millisecond range to sample from.
// Exactly one of Scalar or Range is set.
type Latency struct {
	Scalar *int
	Range  *[2]int
}

// MarshalJSON emits a bare number for a scalar latency, or a 2-element
// array for a range.
func (l Latency) MarshalJSON() ([]byte, error) {
	if l.Range != nil {
		return json.Marshal(*l.Range)
	}
	if l.Scalar != nil {
		return json.Marshal(*l.Scalar)
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts a bare number or a 2-element array.
func (l *Latency) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		l.Scalar = &n
		l.Range = nil
		return nil
	}
	var r [2]int
	if err := json.Unmarshal(b, &r); err != nil {
		return err
	}
	l.Range = &r
	l.Scalar = nil
	return nil
}

// Session records provenance that doesn't affect matching or replay
// semantics, only diagnostics.
type Session struct {
	Recorder string `json:"recorder,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// Exchange is one matched unit: the state before sending input, the input
// itself, and the timed output that followed.
type Exchange struct {
	Pre         PreState          `json:"pre"`
	Input       Input             `json:"input"`
	Output      Output            `json:"output"`
	Exit        *ExitInfo         `json:"exit,omitempty"`
	DurMs       int               `json:"durMs"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// PreState is the matching context captured immediately before input was
// sent: the prompt text seen, and an optional caller-supplied state hash.
type PreState struct {
	Prompt    string `json:"prompt"`
	StateHash string `json:"stateHash,omitempty"`
}

// Input is what was sent to the program: either a line of text (newline
// implied, stripped before storage) or raw bytes.
type Input struct {
	Kind     string `json:"kind"` // "line" or "raw"
	Text     string `json:"text,omitempty"`
	BytesB64 string `json:"bytesB64,omitempty"`
}

// Output is the ordered list of timed chunks produced in response.
type Output struct {
	Chunks []Chunk `json:"chunks"`
}

// Chunk is one read from the PTY: how long after the previous chunk (or
// after input was sent, for the first chunk) it arrived, and its bytes.
type Chunk struct {
	DelayMs int    `json:"delayMs"`
	DataB64 string `json:"dataB64"`
	IsUTF8  bool   `json:"isUtf8"`
}

// ExitInfo is set on the final exchange of a tape whose process exited
// during capture.
type ExitInfo struct {
	Code   int    `json:"code"`
	Signal string `json:"signal,omitempty"`
}

type tapeFields struct {
	SchemaVersion int       `json:"schemaVersion"`
	Meta          Meta      `json:"meta"`
	Session       Session   `json:"session"`
	Exchanges     []Exchange `json:"exchanges"`
}

// MarshalJSON emits the four known top-level fields in their fixed order,
// followed by any preserved unknown fields sorted by key.
func (t Tape) MarshalJSON() ([]byte, error) {
	known, err := json.MarshalIndent(tapeFields{
		SchemaVersion: t.SchemaVersion,
		Meta:          t.Meta,
		Session:       t.Session,
		Exchanges:     t.Exchanges,
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	if len(t.Extra) == 0 {
		return known, nil
	}

	keys := make([]string, 0, len(t.Extra))
	for k := range t.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// known ends with "\n}"; splice the extra fields in before the final
	// closing brace, each indented to match the known top-level fields.
	body := known[:len(known)-2] // drop "\n}"
	out := append([]byte{}, body...)
	for _, k := range keys {
		valueJSON, err := json.MarshalIndent(t.Extra[k], "  ", "  ")
		if err != nil {
			return nil, err
		}
		keyJSON, _ := json.Marshal(k)
		out = append(out, ",\n  "...)
		out = append(out, keyJSON...)
		out = append(out, ": "...)
		out = append(out, valueJSON...)
	}
	out = append(out, "\n}"...)
	return out, nil
}

// UnmarshalJSON populates the known fields and stashes anything else in
// Extra.
func (t *Tape) UnmarshalJSON(b []byte) error {
	var known tapeFields
	if err := json.Unmarshal(b, &known); err != nil {
		return err
	}
	t.SchemaVersion = known.SchemaVersion
	t.Meta = known.Meta
	t.Session = known.Session
	t.Exchanges = known.Exchanges

	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	delete(all, "schemaVersion")
	delete(all, "meta")
	delete(all, "session")
	delete(all, "exchanges")
	if len(all) > 0 {
		t.Extra = all
	}
	return nil
}
