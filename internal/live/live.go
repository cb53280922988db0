// Package live drives a real program through a PTY: the transport a
// recorder tees into a tape, and the transport a replay falls back to
// under proxy mode.
package live

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/tapedeck-dev/tapedeck/internal/sink"
	"github.com/tapedeck-dev/tapedeck/internal/tapeerr"
)

// Size is the PTY's terminal dimensions.
type Size struct {
	Rows uint16
	Cols uint16
}

// Transport owns one spawned process's PTY master, tee'd through a sink
// for consumers (a recorder, or a caller driving the program directly).
type Transport struct {
	cmd  *exec.Cmd
	ptmx *os.File
	sink *sink.Sink

	mu     sync.Mutex
	closed bool

	waitDone   chan struct{}
	exitCode   int
	exitSignal string

	tailMu sync.Mutex
	tail   []byte // last ~4KB seen, for timeout diagnostics
}

const (
	tailLimit    = 4096
	maxTailLines = 50
)

// Spawn starts program under a PTY of the given size and begins reading
// its output immediately.
func Spawn(ctx context.Context, program string, argv []string, env []string, dir string, size Size) (*Transport, error) {
	cmd := exec.Command(program, argv...)
	cmd.Dir = dir
	if env != nil {
		cmd.Env = env
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: size.Rows, Cols: size.Cols})
	if err != nil {
		return nil, tapeerr.New(tapeerr.ProcessError, fmt.Sprintf("spawn %s: %v", program, err)).
			WithIdentity(tapeerr.Identity{Program: program, Args: argv, Cwd: dir}).
			WithCause(err)
	}

	t := &Transport{cmd: cmd, ptmx: ptmx, waitDone: make(chan struct{})}
	t.sink = sink.New(ctx, ptmx, 64)
	go t.trackTail()
	go t.wait()
	return t, nil
}

// wait reaps the child exactly once and records its exit status. Every
// other caller observes the result through waitDone instead of calling
// cmd.Wait itself, since os/exec forbids calling Wait twice.
func (t *Transport) wait() {
	err := t.cmd.Wait()
	if status, ok := exitStatus(t.cmd.ProcessState); ok {
		t.exitCode, t.exitSignal = status.code, status.signal
	} else if err == nil {
		t.exitCode = 0
	} else {
		t.exitCode = t.cmd.ProcessState.ExitCode()
	}
	close(t.waitDone)
}

func (t *Transport) trackTail() {
	for c := range t.sink.Chunks() {
		t.tailMu.Lock()
		t.tail = append(t.tail, c.Data...)
		if len(t.tail) > tailLimit {
			t.tail = t.tail[len(t.tail)-tailLimit:]
		}
		t.tailMu.Unlock()
	}
}

// Chunks exposes the raw chunk stream for a recorder to tee into a tape.
func (t *Transport) Chunks() <-chan sink.Chunk {
	return t.sink.Chunks()
}

// Resize changes the PTY window size, e.g. on a terminal SIGWINCH.
func (t *Transport) Resize(size Size) error {
	return pty.Setsize(t.ptmx, &pty.Winsize{Rows: size.Rows, Cols: size.Cols})
}

// Send writes raw bytes to the program's stdin.
func (t *Transport) Send(ctx context.Context, p []byte) error {
	if !t.IsAlive() {
		return tapeerr.New(tapeerr.SessionClosed, "session is closed")
	}
	_, err := t.ptmx.Write(p)
	if err != nil {
		return tapeerr.New(tapeerr.ProcessError, fmt.Sprintf("write: %v", err)).WithCause(err)
	}
	return nil
}

// SendLine writes line followed by a newline.
func (t *Transport) SendLine(ctx context.Context, line string) error {
	return t.Send(ctx, []byte(line+"\n"))
}

// Expect waits for output, returning once quiet has elapsed with no new
// chunk, or timeout is reached, whichever comes first. A timeout with no
// bytes seen since the call started is a tapeerr.Timeout carrying the
// buffer tail (at most the last 50 lines) for diagnostics.
func (t *Transport) Expect(ctx context.Context, quiet, timeout time.Duration) ([]byte, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	idle := time.NewTimer(quiet)
	defer idle.Stop()

	var collected []byte
	for {
		select {
		case c, ok := <-t.sink.Chunks():
			if !ok {
				if len(collected) == 0 {
					return nil, tapeerr.New(tapeerr.SessionClosed, "transport closed while waiting for output")
				}
				return collected, nil
			}
			collected = append(collected, c.Data...)
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(quiet)
		case <-idle.C:
			return collected, nil
		case <-deadline.C:
			if len(collected) > 0 {
				return collected, nil
			}
			tail := t.tailSnapshot()
			if lines := bytes.SplitAfter(tail, []byte("\n")); len(lines) > maxTailLines {
				tail = bytes.Join(lines[len(lines)-maxTailLines:], nil)
			}
			return nil, tapeerr.New(tapeerr.Timeout, fmt.Sprintf("no output within %s", timeout)).
				WithDiagnostic(tapeerr.Diagnostic{BufferTail: string(tail)})
		case <-ctx.Done():
			return collected, ctx.Err()
		}
	}
}

func (t *Transport) tailSnapshot() []byte {
	t.tailMu.Lock()
	defer t.tailMu.Unlock()
	return append([]byte{}, t.tail...)
}

// IsAlive reports whether the child process is believed to still be
// running.
func (t *Transport) IsAlive() bool {
	select {
	case <-t.waitDone:
		return false
	default:
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// Wait blocks until the process exits and returns its exit code and, on
// POSIX, the terminating signal name if any.
func (t *Transport) Wait() (code int, signal string) {
	<-t.waitDone
	return t.exitCode, t.exitSignal
}

// Close kills the process if still running and releases the PTY.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	select {
	case <-t.waitDone:
	default:
		if t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
		<-t.waitDone
	}
	return t.ptmx.Close()
}
