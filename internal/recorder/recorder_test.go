package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tapedeck-dev/tapedeck/internal/live"
	"github.com/tapedeck-dev/tapedeck/internal/sink"
	"github.com/tapedeck-dev/tapedeck/internal/tapeerr"
)

func spawnCat(t *testing.T) *live.Transport {
	t.Helper()
	tr, err := live.Spawn(context.Background(), "/bin/cat", nil, nil, "", live.Size{Rows: 24, Cols: 80})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func drainInto(r *Recorder, ch <-chan sink.Chunk, done <-chan struct{}) {
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return
			}
			r.Observe(c)
		case <-done:
			return
		}
	}
}

func TestRecorderCapturesOneExchange(t *testing.T) {
	tr := spawnCat(t)
	rec := New(tr, Config{Program: "cat"})

	done := make(chan struct{})
	go drainInto(rec, tr.Chunks(), done)

	if err := rec.OnSend(context.Background(), "line", "hello", nil); err != nil {
		t.Fatalf("OnSend: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	close(done)

	ex, err := rec.OnExchangeEnd(context.Background(), "")
	if err != nil {
		t.Fatalf("OnExchangeEnd: %v", err)
	}
	if ex.Input.Text != "hello" {
		t.Fatalf("input = %+v", ex.Input)
	}
	if len(ex.Output.Chunks) == 0 {
		t.Fatal("expected at least one output chunk from cat echoing input")
	}
}

func TestRecorderReentrancyDuringCapture(t *testing.T) {
	tr := spawnCat(t)
	rec := New(tr, Config{Program: "cat"})

	if err := rec.OnSend(context.Background(), "line", "first", nil); err != nil {
		t.Fatalf("OnSend: %v", err)
	}
	err := rec.OnSend(context.Background(), "line", "second", nil)
	if err == nil {
		t.Fatal("expected reentrancy error on second concurrent on_send")
	}
	var tErr *tapeerr.Error
	if !errors.As(err, &tErr) || tErr.Kind != tapeerr.RecorderReentrancy {
		t.Fatalf("expected RecorderReentrancy, got %v", err)
	}
}

func TestRecorderClosedAfterProcessExit(t *testing.T) {
	tr := spawnCat(t)
	rec := New(tr, Config{Program: "cat"})
	rec.OnProcessExit(0, "")

	err := rec.OnSend(context.Background(), "line", "too late", nil)
	var tErr *tapeerr.Error
	if !errors.As(err, &tErr) || tErr.Kind != tapeerr.SessionClosed {
		t.Fatalf("expected SessionClosed after process exit, got %v", err)
	}
}
