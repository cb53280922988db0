package tapestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tapedeck-dev/tapedeck/internal/match"
	"github.com/tapedeck-dev/tapedeck/internal/tape"
)

const fixture = `{
  "schemaVersion": 1,
  "meta": {"createdAt": "2026-01-01T00:00:00Z", "program": "bash", "args": []},
  "session": {},
  "exchanges": [
    {"pre": {"prompt": "$ "}, "input": {"kind": "line", "text": "echo hi"},
     "output": {"chunks": [{"delayMs": 5, "dataB64": "aGk=", "isUtf8": true}]}, "durMs": 5}
  ]
}`

func writeFixture(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(fixture), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuildAndLookup(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "one.json5")

	s, err := Build(dir, match.Rules{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ex, path, ok := s.Lookup(match.Context{
		Program: "bash", Cwd: "", Prompt: "$ ",
		InputKind: "line", InputText: "echo hi",
	})
	if !ok {
		t.Fatal("expected lookup hit")
	}
	if ex.Input.Text != "echo hi" || path == "" {
		t.Fatalf("unexpected exchange: %+v path=%s", ex, path)
	}
}

func TestLookupMiss(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "one.json5")
	s, err := Build(dir, match.Rules{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, _, ok := s.Lookup(match.Context{Program: "bash", InputKind: "line", InputText: "nope"}); ok {
		t.Fatal("expected lookup miss")
	}
}

func TestSummaryTracksNewAndUnused(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "used.json5")
	writeFixture(t, dir, "unused.json5")

	s, err := Build(dir, match.Rules{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_, usedPath, ok := s.Lookup(match.Context{Program: "bash", Prompt: "$ ", InputKind: "line", InputText: "echo hi"})
	if !ok {
		t.Fatal("expected a hit from one of the two identical fixtures")
	}
	s.MarkUsed(usedPath)

	sum := s.Summary()
	if len(sum.Unused) != 1 {
		t.Fatalf("expected exactly one unused tape, got %v", sum.Unused)
	}
}

func TestWriteIsAtomicAndReindexes(t *testing.T) {
	dir := t.TempDir()
	s, err := Build(dir, match.Rules{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t2 := &tape.Tape{
		SchemaVersion: 1,
		Meta:          tape.Meta{Program: "bash", Args: []string{}},
		Exchanges: []tape.Exchange{
			{Pre: tape.PreState{Prompt: "$ "}, Input: tape.Input{Kind: "line", Text: "ls"},
				Output: tape.Output{Chunks: []tape.Chunk{{DelayMs: 1, DataB64: "eA==", IsUTF8: true}}}},
		},
	}
	path := filepath.Join(dir, "new.json5")
	if err := s.Write(path, t2); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}
	if _, _, ok := s.Lookup(match.Context{Program: "bash", Prompt: "$ ", InputKind: "line", InputText: "ls"}); !ok {
		t.Fatal("expected freshly written exchange to be indexed")
	}
}
