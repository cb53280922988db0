package live

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tapedeck-dev/tapedeck/internal/tapeerr"
)

func TestSpawnEchoAndExpect(t *testing.T) {
	ctx := context.Background()
	tr, err := Spawn(ctx, "/bin/cat", nil, nil, "", Size{Rows: 24, Cols: 80})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer tr.Close()

	if !tr.IsAlive() {
		t.Fatal("expected process to be alive immediately after spawn")
	}

	if err := tr.SendLine(ctx, "hello"); err != nil {
		t.Fatalf("SendLine: %v", err)
	}

	out, err := tr.Expect(ctx, 200*time.Millisecond, 2*time.Second)
	if err != nil {
		t.Fatalf("Expect: %v", err)
	}
	if !strings.Contains(string(out), "hello") {
		t.Fatalf("expected echoed input, got %q", out)
	}
}

func TestExpectTimesOutWithoutOutput(t *testing.T) {
	ctx := context.Background()
	tr, err := Spawn(ctx, "/bin/sleep", []string{"5"}, nil, "", Size{Rows: 24, Cols: 80})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer tr.Close()

	_, err = tr.Expect(ctx, 50*time.Millisecond, 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	tErr, ok := err.(*tapeerr.Error)
	if !ok || tErr.Kind != tapeerr.Timeout {
		t.Fatalf("expected Timeout kind, got %v", err)
	}
}

func TestCloseKillsProcess(t *testing.T) {
	ctx := context.Background()
	tr, err := Spawn(ctx, "/bin/sleep", []string{"30"}, nil, "", Size{Rows: 24, Cols: 80})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if tr.IsAlive() {
		t.Fatal("expected process to be dead after Close")
	}
}
