package tape

import (
	"errors"
	"strings"
	"testing"

	"github.com/tapedeck-dev/tapedeck/internal/tapeerr"
)

func TestDecodeJSON5Features(t *testing.T) {
	src := []byte(`{
  // leading comment
  "schemaVersion": 1,
  'meta': {
    "createdAt": '2026-01-01T00:00:00Z',
    'program': 'bash', // trailing comment
    "args": ['-lc', 'echo hi'],
  },
  "session": {},
  /* block comment */
  'exchanges': [
    {
      "pre": { 'prompt': '$ ' },
      "input": { 'kind': 'line', "text": 'echo hi' },
      'output': { "chunks": [ { "delayMs": 5, 'dataB64': 'aGk=', "isUtf8": true }, ] },
      "durMs": 5,
    },
  ],
}`)

	tp, err := Decode(src)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if tp.Meta.Program != "bash" {
		t.Fatalf("program = %q, want bash", tp.Meta.Program)
	}
	if len(tp.Meta.Args) != 2 || tp.Meta.Args[1] != "echo hi" {
		t.Fatalf("args = %v", tp.Meta.Args)
	}
	if len(tp.Exchanges) != 1 || len(tp.Exchanges[0].Output.Chunks) != 1 {
		t.Fatalf("exchanges = %+v", tp.Exchanges)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	lat := 10
	original := &Tape{
		SchemaVersion: 1,
		Meta: Meta{
			CreatedAt: "2026-01-01T00:00:00Z",
			Program:   "bash",
			Args:      []string{"-lc", "echo hi"},
			Env:       map[string]string{"B": "2", "A": "1"},
			Latency:   &Latency{Scalar: &lat},
		},
		Session: Session{Recorder: "tapedeck", Platform: "linux/amd64"},
		Exchanges: []Exchange{
			{
				Pre:   PreState{Prompt: "$ "},
				Input: Input{Kind: "line", Text: "echo hi"},
				Output: Output{Chunks: []Chunk{
					{DelayMs: 5, DataB64: "aGk=", IsUTF8: true},
				}},
				DurMs: 5,
			},
		},
	}

	encoded, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// env keys must appear sorted in the encoded form
	aIdx := strings.Index(string(encoded), `"A"`)
	bIdx := strings.Index(string(encoded), `"B"`)
	if aIdx == -1 || bIdx == -1 || aIdx > bIdx {
		t.Fatalf("expected sorted env keys, got:\n%s", encoded)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode(Encode(x)): %v", err)
	}
	if decoded.Meta.Program != "bash" || *decoded.Meta.Latency.Scalar != 10 {
		t.Fatalf("round trip mismatch: %+v", decoded.Meta)
	}
}

func TestDecodeUnknownTopLevelFieldPreserved(t *testing.T) {
	src := []byte(`{
  "schemaVersion": 1,
  "meta": { "createdAt": "x", "program": "bash", "args": [] },
  "session": {},
  "exchanges": [{"pre": {"prompt": ""}, "input": {"kind": "line", "text": "x"}, "output": {"chunks": []}, "durMs": 0}],
  "vendorExtra": { "foo": "bar" }
}`)
	tp, err := Decode(src)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := tp.Extra["vendorExtra"]; !ok {
		t.Fatalf("expected vendorExtra to survive decode, got Extra=%v", tp.Extra)
	}

	out, err := Encode(tp)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(out), `"vendorExtra"`) {
		t.Fatalf("expected vendorExtra preserved on re-encode, got:\n%s", out)
	}
}

func TestDecodeRejectsFutureSchemaVersion(t *testing.T) {
	src := []byte(`{"schemaVersion": 99, "meta": {"program": "bash", "args": []}, "session": {}, "exchanges": []}`)
	_, err := Decode(src)
	if err == nil {
		t.Fatal("expected schema error for future schemaVersion")
	}
	if !errors.Is(err, tapeerr.Sentinel(tapeerr.SchemaError)) {
		t.Fatalf("expected SchemaError kind, got %v", err)
	}
}

func TestDecodeMalformedJSON5ReportsLocation(t *testing.T) {
	src := []byte("{\n  \"schemaVersion\": 1,\n  \"meta\": {\n")
	_, err := Decode(src)
	if err == nil {
		t.Fatal("expected error for truncated document")
	}
	var tErr *tapeerr.Error
	if !errors.As(err, &tErr) || tErr.Diagnostic.Line == 0 {
		t.Fatalf("expected a SchemaError carrying a line number, got %v", err)
	}
}

func TestDecodeRejectsBadInputKind(t *testing.T) {
	src := []byte(`{
  "schemaVersion": 1,
  "meta": {"program": "bash", "args": []},
  "session": {},
  "exchanges": [{"pre": {"prompt": ""}, "input": {"kind": "weird"}, "output": {"chunks": []}, "durMs": 0}]
}`)
	_, err := Decode(src)
	if err == nil {
		t.Fatal("expected schema error for invalid input.kind")
	}
}
