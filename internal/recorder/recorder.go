// Package recorder captures a live transport's exchanges into a tape,
// one exchange at a time: prompt seen, input sent, timed output chunks
// received, until the caller closes the exchange or the process exits.
package recorder

import (
	"compress/gzip"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tapedeck-dev/tapedeck/internal/live"
	"github.com/tapedeck-dev/tapedeck/internal/redact"
	"github.com/tapedeck-dev/tapedeck/internal/sink"
	"github.com/tapedeck-dev/tapedeck/internal/tape"
	"github.com/tapedeck-dev/tapedeck/internal/tapeerr"
	"github.com/tapedeck-dev/tapedeck/internal/tapelog"
)

// State is the recorder's exchange-boundary state machine. A recorder
// starts idle, moves to capturing on a send, to flushing once the caller
// asks for the exchange to end, then back to idle — or to closed, the
// terminal state, once the process exits or Close is called.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateFlushing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateFlushing:
		return "flushing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// OutputDecorator transforms captured output bytes before they are
// redacted and stored. Decorators run in registration order.
type OutputDecorator func([]byte) []byte

// TapeDecorator inspects or amends the tape after an exchange is appended,
// before persistence — e.g. to attach annotations.
type TapeDecorator func(*tape.Tape)

// defaultResourceCeiling bounds in-memory exchange output before a
// recorder spills the remainder to a temp file, mirroring the bounded
// in-memory window a PTY replay buffer keeps before it has to do
// something other than grow unboundedly.
const defaultResourceCeiling = 16 * 1024 * 1024

// Recorder captures one session's worth of exchanges from a live
// transport.
type Recorder struct {
	mu    sync.Mutex
	state State

	transport *live.Transport
	redactor  *redact.Engine

	outputDecorators []OutputDecorator
	tapeDecorators   []TapeDecorator

	resourceCeiling int64

	t *tape.Tape

	lastPrompt   string
	pendingInput tape.Input
	chunkBuf     []tape.Chunk
	chunkBytes   int64
	spill        *spillFile
	sendAt       time.Time
	lastChunkAt  time.Time
}

// Config configures a new Recorder.
type Config struct {
	Program         string
	Args            []string
	Env             map[string]string
	Cwd             string
	PTY             *tape.PTYSize
	Tag             string
	Redactor        *redact.Engine
	ResourceCeiling int64
	OutputDecorators []OutputDecorator
	TapeDecorators   []TapeDecorator
}

// New starts a recorder bound to transport.
func New(transport *live.Transport, cfg Config) *Recorder {
	redactor := cfg.Redactor
	if redactor == nil {
		redactor = redact.Default
	}
	ceiling := cfg.ResourceCeiling
	if ceiling <= 0 {
		ceiling = defaultResourceCeiling
	}
	return &Recorder{
		state:            StateIdle,
		transport:        transport,
		redactor:         redactor,
		outputDecorators: cfg.OutputDecorators,
		tapeDecorators:   cfg.TapeDecorators,
		resourceCeiling:  ceiling,
		t: &tape.Tape{
			SchemaVersion: tape.CurrentSchemaVersion,
			Meta: tape.Meta{
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
				Program:   cfg.Program,
				Args:      cfg.Args,
				Env:       cfg.Env,
				Cwd:       cfg.Cwd,
				PTY:       cfg.PTY,
				Tag:       cfg.Tag,
			},
			Session: tape.Session{Recorder: "tapedeck/" + uuid.New().String(), Platform: platform()},
		},
	}
}

// OnSend begins capturing a new exchange: the prompt seen so far becomes
// Pre.Prompt, input is written to the transport, and output chunks start
// accumulating until OnExchangeEnd. Calling OnSend while already
// capturing is a recorder-reentrancy error — the caller must end the
// current exchange first.
func (r *Recorder) OnSend(ctx context.Context, kind, text string, raw []byte) error {
	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return tapeerr.New(tapeerr.SessionClosed, "recorder is closed")
	}
	if r.state != StateIdle {
		r.mu.Unlock()
		return tapeerr.New(tapeerr.RecorderReentrancy, fmt.Sprintf("on_send called while state is %s", r.state))
	}
	r.state = StateCapturing
	r.pendingInput = tape.Input{Kind: kind, Text: text}
	if kind == "raw" {
		r.pendingInput.BytesB64 = base64.StdEncoding.EncodeToString(raw)
	}
	r.sendAt = time.Now()
	r.lastChunkAt = r.sendAt
	r.chunkBuf = nil
	r.chunkBytes = 0
	r.mu.Unlock()

	var err error
	if kind == "line" {
		err = r.transport.Send(ctx, []byte(text+"\n"))
	} else {
		err = r.transport.Send(ctx, raw)
	}
	if err != nil {
		r.mu.Lock()
		r.state = StateIdle
		r.mu.Unlock()
		return err
	}
	return nil
}

// Observe feeds one chunk from the transport's tee into the exchange
// currently being captured. It is the pull-side counterpart to the
// transport's reader goroutine: call it from a loop draining
// transport.Chunks() while state is capturing.
func (r *Recorder) Observe(c sink.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateCapturing {
		return nil
	}
	delay := c.At.Sub(r.lastChunkAt)
	r.lastChunkAt = c.At

	data := c.Data
	for _, dec := range r.outputDecorators {
		data = dec(data)
	}
	data = r.redactor.Redact(data)

	if r.chunkBytes+int64(len(data)) > r.resourceCeiling {
		if err := r.ensureSpill(); err != nil {
			return err
		}
		if err := r.spill.write(int(delay.Milliseconds()), data, c.IsUTF8); err != nil {
			return err
		}
		r.chunkBytes += int64(len(data))
		return nil
	}

	r.chunkBuf = append(r.chunkBuf, tape.Chunk{
		DelayMs: int(delay.Milliseconds()),
		DataB64: base64.StdEncoding.EncodeToString(data),
		IsUTF8:  c.IsUTF8,
	})
	r.chunkBytes += int64(len(data))
	return nil
}

func (r *Recorder) ensureSpill() error {
	if r.spill != nil {
		return nil
	}
	s, err := newSpillFile()
	if err != nil {
		return err
	}
	r.spill = s
	return nil
}

// OnExchangeEnd finalizes the exchange being captured and appends it to
// the tape. nextPrompt is the text the caller observed afterward (the next
// prompt), recorded so the following exchange's Pre.Prompt reflects it.
func (r *Recorder) OnExchangeEnd(ctx context.Context, nextPrompt string) (*tape.Exchange, error) {
	r.mu.Lock()
	if r.state != StateCapturing {
		r.mu.Unlock()
		return nil, tapeerr.New(tapeerr.RecorderReentrancy, fmt.Sprintf("on_exchange_end called while state is %s", r.state))
	}
	r.state = StateFlushing

	chunks := r.chunkBuf
	if r.spill != nil {
		spilled, err := r.spill.readAll()
		r.spill.close()
		r.spill = nil
		if err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("read spilled exchange output: %w", err)
		}
		chunks = append(chunks, spilled...)
	}

	ex := tape.Exchange{
		Pre:    tape.PreState{Prompt: r.lastPrompt},
		Input:  r.pendingInput,
		Output: tape.Output{Chunks: chunks},
		DurMs:  int(time.Since(r.sendAt).Milliseconds()),
	}
	r.lastPrompt = nextPrompt
	r.t.Exchanges = append(r.t.Exchanges, ex)
	for _, dec := range r.tapeDecorators {
		dec(r.t)
	}
	r.state = StateIdle
	r.mu.Unlock()

	return &r.t.Exchanges[len(r.t.Exchanges)-1], nil
}

// OnProcessExit records the final exit status and moves the recorder to
// its terminal closed state. If an exchange was still being captured, it
// is finalized first with whatever output had arrived.
func (r *Recorder) OnProcessExit(code int, signal string) {
	r.mu.Lock()
	capturing := r.state == StateCapturing
	r.mu.Unlock()
	if capturing {
		if _, err := r.OnExchangeEnd(context.Background(), ""); err != nil {
			tapelog.Log.Warn("failed to flush final exchange on process exit", "error", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.t.Exchanges); n > 0 {
		r.t.Exchanges[n-1].Exit = &tape.ExitInfo{Code: code, Signal: signal}
	}
	r.state = StateClosed
}

// Close moves the recorder to its terminal state without a process-exit
// status, e.g. when the caller stops recording early.
func (r *Recorder) Close() {
	r.mu.Lock()
	r.state = StateClosed
	r.mu.Unlock()
}

// Tape returns the tape built so far. Safe to call at any point, including
// mid-capture; the in-progress exchange is not included until
// OnExchangeEnd appends it.
func (r *Recorder) Tape() *tape.Tape {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *r.t
	cp.Exchanges = append([]tape.Exchange{}, r.t.Exchanges...)
	return &cp
}

// spillFile accumulates chunk data past the resource ceiling in a gzip
// compressed temp file instead of memory: only each chunk's length,
// delay, and encoding flag are kept in memory while capturing, so a
// single long exchange costs kilobytes of bookkeeping rather than the
// full byte stream.
type spillFile struct {
	f      *os.File
	gw     *gzip.Writer
	lens   []int
	delays []int
	isUTF8 []bool
}

func newSpillFile() (*spillFile, error) {
	f, err := os.CreateTemp("", "tapedeck-spill-*.gz")
	if err != nil {
		return nil, fmt.Errorf("create spill file: %w", err)
	}
	return &spillFile{f: f, gw: gzip.NewWriter(f)}, nil
}

func (s *spillFile) write(delayMs int, data []byte, isUTF8 bool) error {
	if _, err := s.gw.Write(data); err != nil {
		return fmt.Errorf("write spill data: %w", err)
	}
	s.lens = append(s.lens, len(data))
	s.delays = append(s.delays, delayMs)
	s.isUTF8 = append(s.isUTF8, isUTF8)
	return nil
}

// readAll flushes the gzip stream, rewinds, and replays it back into
// chunks sized per the recorded length index.
func (s *spillFile) readAll() ([]tape.Chunk, error) {
	if err := s.gw.Close(); err != nil {
		return nil, fmt.Errorf("flush spill file: %w", err)
	}
	if _, err := s.f.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("rewind spill file: %w", err)
	}
	gr, err := gzip.NewReader(s.f)
	if err != nil {
		return nil, fmt.Errorf("open spill file for read: %w", err)
	}
	defer gr.Close()

	chunks := make([]tape.Chunk, len(s.lens))
	for i, n := range s.lens {
		buf := make([]byte, n)
		if _, err := io.ReadFull(gr, buf); err != nil {
			return nil, fmt.Errorf("read spilled chunk %d: %w", i, err)
		}
		chunks[i] = tape.Chunk{
			DelayMs: s.delays[i],
			DataB64: base64.StdEncoding.EncodeToString(buf),
			IsUTF8:  s.isUTF8[i],
		}
	}
	return chunks, nil
}

func (s *spillFile) close() {
	s.f.Close()
	os.Remove(s.f.Name())
}

func platform() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}
