package facade

import (
	"context"
	"io/fs"
	"path/filepath"
	"testing"
	"time"

	"github.com/tapedeck-dev/tapedeck/internal/live"
	"github.com/tapedeck-dev/tapedeck/internal/tapeerr"
)

func countTapeFiles(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".json5" {
			n++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", dir, err)
	}
	return n
}

func recordOnce(t *testing.T, ctx context.Context, dir string, mode RecordMode) {
	t.Helper()
	s, err := Open(ctx, Config{
		Record:  mode,
		Program: "/bin/cat",
		PTY:     live.Size{Rows: 24, Cols: 80},
		TapeDir: dir,
		Tag:     "fixture",
		Silent:  true,
	})
	if err != nil {
		t.Fatalf("Open(record): %v", err)
	}
	if err := s.SendLine(ctx, "hi"); err != nil {
		t.Fatalf("SendLine: %v", err)
	}
	if _, err := s.Expect(ctx, 100*time.Millisecond, 2*time.Second); err != nil {
		t.Fatalf("Expect: %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// RecordNew never re-records a session identity it already has a tape for:
// the second Open attaches a replay instead of spawning another live
// process, so no second tape file appears on disk.
func TestRecordNewReusesExistingTapeInsteadOfRerecording(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	recordOnce(t, ctx, dir, RecordNew)
	if got := countTapeFiles(t, dir); got != 1 {
		t.Fatalf("after first recording: %d tape files, want 1", got)
	}

	s, err := Open(ctx, Config{
		Record:  RecordNew,
		Program: "/bin/cat",
		TapeDir: dir,
	})
	if err != nil {
		t.Fatalf("Open(second): %v", err)
	}
	if s.rec != nil {
		t.Fatal("expected the second open to attach a replay, not a recorder")
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := countTapeFiles(t, dir); got != 1 {
		t.Fatalf("after reusing the existing tape: %d tape files, want still 1", got)
	}
}

// RecordOverwrite always records live and always writes to the same
// stable, timestamp-free path, so repeat runs truncate one file rather
// than accumulating a new tape per run.
func TestRecordOverwriteReusesStablePath(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	recordOnce(t, ctx, dir, RecordOverwrite)
	if got := countTapeFiles(t, dir); got != 1 {
		t.Fatalf("after first overwrite recording: %d tape files, want 1", got)
	}
	recordOnce(t, ctx, dir, RecordOverwrite)
	if got := countTapeFiles(t, dir); got != 1 {
		t.Fatalf("after second overwrite recording: %d tape files, want still 1", got)
	}
}

// disabled + proxy + no tape for this identity goes straight to a live,
// unrecorded session: no tape file appears afterward.
func TestRecordDisabledWithProxyFallsBackToLiveWithoutRecording(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(ctx, Config{
		Record:   RecordDisabled,
		MissMode: MissProxy,
		Program:  "/bin/cat",
		PTY:      live.Size{Rows: 24, Cols: 80},
		TapeDir:  dir,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.rec != nil {
		t.Fatal("expected no recorder attached in live-no-record mode")
	}
	if err := s.SendLine(ctx, "hi"); err != nil {
		t.Fatalf("SendLine: %v", err)
	}
	if _, err := s.Expect(ctx, 100*time.Millisecond, 2*time.Second); err != nil {
		t.Fatalf("Expect: %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := countTapeFiles(t, dir); got != 0 {
		t.Fatalf("expected no tape written, found %d", got)
	}
}

func TestRecordThenReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	rec, err := Open(ctx, Config{
		Record:  RecordNew,
		Program: "/bin/cat",
		PTY:     live.Size{Rows: 24, Cols: 80},
		TapeDir: dir,
		Tag:     "roundtrip",
		Silent:  true,
	})
	if err != nil {
		t.Fatalf("Open(record): %v", err)
	}
	if err := rec.SendLine(ctx, "hello"); err != nil {
		t.Fatalf("SendLine: %v", err)
	}
	if _, err := rec.Expect(ctx, 100*time.Millisecond, 2*time.Second); err != nil {
		t.Fatalf("Expect: %v", err)
	}
	if err := rec.Close(ctx); err != nil {
		t.Fatalf("Close(record): %v", err)
	}

	replaySession, err := Open(ctx, Config{
		Record:   RecordDisabled,
		Program:  "/bin/cat",
		TapeDir:  dir,
		MissMode: MissNotFound,
	})
	if err != nil {
		t.Fatalf("Open(replay): %v", err)
	}
	defer replaySession.Close(ctx)

	if err := replaySession.SendLine(ctx, "hello"); err != nil {
		t.Fatalf("replay SendLine: %v", err)
	}
	out, err := replaySession.Expect(ctx, 0, time.Second)
	if err != nil {
		t.Fatalf("replay Expect: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("expected replayed output")
	}
}

// With recording disabled, no tape for this identity, and on-miss set to
// not_found, Open itself fails fast rather than waiting for the first
// SendLine to discover there's nothing to replay.
func TestReplayMissWithoutProxyReturnsTapeMiss(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	_, err := Open(ctx, Config{
		Record:   RecordDisabled,
		Program:  "/bin/cat",
		TapeDir:  dir,
		MissMode: MissNotFound,
	})
	if err == nil {
		t.Fatal("expected tape-miss error")
	}
	tErr, ok := err.(*tapeerr.Error)
	if !ok || tErr.Kind != tapeerr.TapeMiss {
		t.Fatalf("expected TapeMiss, got %v", err)
	}
}
