package replay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tapedeck-dev/tapedeck/internal/match"
	"github.com/tapedeck-dev/tapedeck/internal/tapeerr"
	"github.com/tapedeck-dev/tapedeck/internal/tapestore"
)

const fixture = `{
  "schemaVersion": 1,
  "meta": {"createdAt": "2026-01-01T00:00:00Z", "program": "bash", "args": []},
  "session": {},
  "exchanges": [
    {"pre": {"prompt": ""}, "input": {"kind": "line", "text": "echo hi"},
     "output": {"chunks": [{"delayMs": 1, "dataB64": "aGk=", "isUtf8": true}]}, "durMs": 1}
  ]
}`

func newStore(t *testing.T) *tapestore.Store {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "t.json5"), []byte(fixture), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := tapestore.Build(dir, match.Rules{})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestReplayHitReturnsRecordedOutput(t *testing.T) {
	store := newStore(t)
	tr := New(store, match.Rules{}, Identity{Program: "bash"}, Options{})
	ctx := context.Background()

	if err := tr.SendLine(ctx, "echo hi"); err != nil {
		t.Fatalf("SendLine: %v", err)
	}
	out, err := tr.Expect(ctx, 0, time.Second)
	if err != nil {
		t.Fatalf("Expect: %v", err)
	}
	if string(out) != "hi" {
		t.Fatalf("got %q, want hi", out)
	}
}

func TestReplayMissReturnsTapeMissWithNearestKeys(t *testing.T) {
	store := newStore(t)
	tr := New(store, match.Rules{}, Identity{Program: "bash"}, Options{})
	ctx := context.Background()

	err := tr.SendLine(ctx, "echo nope")
	if err == nil {
		t.Fatal("expected tape-miss error")
	}
	var tErr *tapeerr.Error
	if !errors.As(err, &tErr) || tErr.Kind != tapeerr.TapeMiss {
		t.Fatalf("expected TapeMiss, got %v", err)
	}
	if len(tErr.Diagnostic.NearestKeys) == 0 {
		t.Fatal("expected at least one nearest-key suggestion")
	}
}

func TestReplayErrorInjectionIsDeterministicForSeed(t *testing.T) {
	store := newStore(t)
	run := func(seed int64) error {
		tr := New(store, match.Rules{}, Identity{Program: "bash"}, Options{ErrorRate: 1, Seed: seed})
		ctx := context.Background()
		_ = tr.SendLine(ctx, "echo hi")
		_, err := tr.Expect(ctx, 0, time.Second)
		return err
	}
	err1 := run(42)
	err2 := run(42)
	if err1 == nil || err2 == nil {
		t.Fatal("expected injected error with errorRate=1")
	}
	var e1, e2 *tapeerr.Error
	errors.As(err1, &e1)
	errors.As(err2, &e2)
	if e1.Kind != e2.Kind {
		t.Fatalf("same seed produced different injected kinds: %v vs %v", e1.Kind, e2.Kind)
	}
}
