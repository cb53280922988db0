// Package facade presents one Transport interface to callers regardless
// of whether a session is recording a live process or replaying a tape,
// and owns the mode-selection and fallback logic between the two.
package facade

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tapedeck-dev/tapedeck/internal/live"
	"github.com/tapedeck-dev/tapedeck/internal/match"
	"github.com/tapedeck-dev/tapedeck/internal/namegen"
	"github.com/tapedeck-dev/tapedeck/internal/recorder"
	"github.com/tapedeck-dev/tapedeck/internal/redact"
	"github.com/tapedeck-dev/tapedeck/internal/replay"
	"github.com/tapedeck-dev/tapedeck/internal/tape"
	"github.com/tapedeck-dev/tapedeck/internal/tapeerr"
	"github.com/tapedeck-dev/tapedeck/internal/tapelog"
	"github.com/tapedeck-dev/tapedeck/internal/tapestore"
)

// RecordMode controls whether, and how, a session records against the
// tape store. It is one axis of the selection table Open implements.
type RecordMode string

const (
	RecordNew       RecordMode = "new"
	RecordOverwrite RecordMode = "overwrite"
	RecordDisabled  RecordMode = "disabled"
)

// MissMode controls what a replay session does on a tape-miss.
type MissMode string

const (
	MissNotFound MissMode = "not_found"
	MissProxy    MissMode = "proxy"
)

// Transport is the shape both live and replay transports satisfy.
type Transport interface {
	Send(ctx context.Context, p []byte) error
	SendLine(ctx context.Context, line string) error
	Expect(ctx context.Context, quiet, timeout time.Duration) ([]byte, error)
	IsAlive() bool
	Close() error
}

// Config selects a session's recording policy and its program identity.
type Config struct {
	Record   RecordMode
	MissMode MissMode

	Program string
	Args    []string
	Env     map[string]string
	Cwd     string
	PTY     live.Size

	TapeDir string
	Tag     string
	Namer   namegen.Namer

	Rules           match.Rules
	Redactor        *redact.Engine
	LatencyOverride *tape.Latency
	ErrorRate       float64
	Seed            int64
	ResourceCeiling int64

	Silent bool
}

func (cfg Config) identityCtx() match.Context {
	return match.Context{Program: cfg.Program, Argv: cfg.Args, Env: cfg.Env, Cwd: cfg.Cwd}
}

// Session is one open recording or replay, exposed behind a single
// Transport-shaped surface.
type Session struct {
	cfg   Config
	store *tapestore.Store

	mu         sync.Mutex
	transport  Transport
	fellBackTo bool
	rec        *recorder.Recorder
}

// Open starts a session per the record/fallback/tape-exists selection
// table:
//
//	record    | fallback  | tape exists | action
//	new       | any       | yes         | replay
//	new       | any       | no          | record + live
//	overwrite | any       | any         | record + live
//	disabled  | not_found | yes         | replay
//	disabled  | not_found | no          | fail-fast
//	disabled  | proxy     | yes         | replay
//	disabled  | proxy     | no          | live (no record)
//
// "Tape exists" means the store index contains a tape recorded under the
// same session identity (program + filtered argv + filtered env + cwd),
// independent of any particular exchange.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Record == "" {
		cfg.Record = RecordNew
	}
	if cfg.MissMode == "" {
		cfg.MissMode = MissNotFound
	}

	store, err := tapestore.Build(cfg.TapeDir, cfg.Rules)
	if err != nil {
		return nil, err
	}
	exists := store.HasIdentity(cfg.identityCtx())

	switch {
	case cfg.Record == RecordOverwrite:
		return openRecord(ctx, cfg)
	case cfg.Record == RecordNew && exists:
		return openReplayWithStore(cfg, store)
	case cfg.Record == RecordNew && !exists:
		return openRecord(ctx, cfg)
	case cfg.Record == RecordDisabled && exists:
		return openReplayWithStore(cfg, store)
	case cfg.Record == RecordDisabled && cfg.MissMode == MissNotFound: // and !exists
		return nil, tapeerr.New(tapeerr.TapeMiss, "no tape for this session identity and recording is disabled").
			WithIdentity(tapeerr.Identity{Program: cfg.Program, Args: cfg.Args, Cwd: cfg.Cwd})
	default: // disabled, proxy, !exists
		return openLiveNoRecord(ctx, cfg)
	}
}

func openRecord(ctx context.Context, cfg Config) (*Session, error) {
	tr, err := live.Spawn(ctx, cfg.Program, cfg.Args, envSlice(cfg.Env), cfg.Cwd, cfg.PTY)
	if err != nil {
		return nil, err
	}
	rec := recorder.New(tr, recorder.Config{
		Program:         cfg.Program,
		Args:            cfg.Args,
		Env:             cfg.Env,
		Cwd:             cfg.Cwd,
		PTY:             &tape.PTYSize{Rows: int(cfg.PTY.Rows), Cols: int(cfg.PTY.Cols)},
		Tag:             cfg.Tag,
		Redactor:        cfg.Redactor,
		ResourceCeiling: cfg.ResourceCeiling,
	})

	s := &Session{cfg: cfg, transport: tr, rec: rec}
	go func() {
		for c := range tr.Chunks() {
			rec.Observe(c)
		}
	}()
	return s, nil
}

func openReplayWithStore(cfg Config, store *tapestore.Store) (*Session, error) {
	tr := replay.New(store, cfg.Rules, replay.Identity{
		Program: cfg.Program, Argv: cfg.Args, Env: cfg.Env, Cwd: cfg.Cwd,
	}, replay.Options{
		LatencyOverride: cfg.LatencyOverride,
		ErrorRate:       cfg.ErrorRate,
		Seed:            cfg.Seed,
	})
	return &Session{cfg: cfg, store: store, transport: tr}, nil
}

// openLiveNoRecord spawns a live process with no recorder attached: the
// disabled+proxy+no-tape cell of the selection table, where the caller
// gets a working session but nothing is captured.
func openLiveNoRecord(ctx context.Context, cfg Config) (*Session, error) {
	tr, err := live.Spawn(ctx, cfg.Program, cfg.Args, envSlice(cfg.Env), cfg.Cwd, cfg.PTY)
	if err != nil {
		return nil, err
	}
	go func() {
		for range tr.Chunks() {
		}
	}()
	return &Session{cfg: cfg, transport: tr}, nil
}

// Send writes input. While recording, it is routed through the recorder so
// the bytes and their eventual reply become a tape exchange; otherwise it
// falls back to a freshly spawned live transport on a tape-miss if the
// session was opened with MissProxy.
func (s *Session) Send(ctx context.Context, p []byte) error {
	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()
	if rec != nil {
		return rec.OnSend(ctx, "raw", "", p)
	}
	return s.withFallback(ctx, func(t Transport) error { return t.Send(ctx, p) })
}

// SendLine is Send for a line of text.
func (s *Session) SendLine(ctx context.Context, line string) error {
	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()
	if rec != nil {
		return rec.OnSend(ctx, "line", line, nil)
	}
	return s.withFallback(ctx, func(t Transport) error { return t.SendLine(ctx, line) })
}

func (s *Session) withFallback(ctx context.Context, call func(Transport) error) error {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()

	err := call(t)
	if err == nil || s.store == nil || s.cfg.MissMode != MissProxy || s.fellBackTo {
		return err
	}
	tErr, ok := err.(*tapeerr.Error)
	if !ok || tErr.Kind != tapeerr.TapeMiss {
		return err
	}

	tapelog.Log.Warn("tape miss, falling back to live process", "program", s.cfg.Program)
	liveTr, spawnErr := live.Spawn(ctx, s.cfg.Program, s.cfg.Args, envSlice(s.cfg.Env), s.cfg.Cwd, s.cfg.PTY)
	if spawnErr != nil {
		return err
	}
	s.mu.Lock()
	s.transport = liveTr
	s.fellBackTo = true
	s.mu.Unlock()
	return call(liveTr)
}

// Expect reads the next output. While recording, the exchange opened by
// the last Send/SendLine is closed with whatever came back, the same way
// internal/recorder's own tests drive OnSend/OnExchangeEnd directly.
func (s *Session) Expect(ctx context.Context, quiet, timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	t := s.transport
	rec := s.rec
	s.mu.Unlock()

	out, expectErr := t.Expect(ctx, quiet, timeout)
	if rec != nil {
		if _, endErr := rec.OnExchangeEnd(ctx, string(out)); endErr != nil {
			tapelog.Log.Warn("failed to close exchange", "error", endErr)
		}
	}
	return out, expectErr
}

// IsAlive reports the current transport's liveness.
func (s *Session) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport.IsAlive()
}

// Close ends the session: for a recording with at least one captured
// exchange, flushes the tape to disk and prints a new/unused summary
// unless Silent; for a replay, or a recording that captured nothing, it
// just closes the transport.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	t := s.transport
	rec := s.rec
	s.mu.Unlock()

	if rec != nil {
		// Only an already-exited process has an exit status to record;
		// waiting on one that is still running would block forever.
		if lt, ok := t.(*live.Transport); ok && !lt.IsAlive() {
			rec.OnProcessExit(lt.Wait())
		} else {
			rec.Close()
		}

		recorded := rec.Tape()
		if len(recorded.Exchanges) > 0 {
			if err := s.writeTape(recorded); err != nil {
				return err
			}
		}
	}
	return t.Close()
}

func (s *Session) writeTape(t *tape.Tape) error {
	store, err := tapestore.Build(s.cfg.TapeDir, s.cfg.Rules)
	if err != nil {
		return err
	}

	var relPath string
	if s.cfg.Record == RecordOverwrite {
		relPath, err = namegen.Stable(s.cfg.Program, s.cfg.Tag)
	} else {
		namer := s.cfg.Namer
		if namer == nil {
			namer = namegen.Default(time.Now().UnixMilli())
		}
		identityKey := match.IdentityKey(s.cfg.identityCtx(), s.cfg.Rules)
		relPath, err = namer(s.cfg.Program, s.cfg.Tag, identityKey)
	}
	if err != nil {
		return err
	}
	if err := namegen.Validate(relPath); err != nil {
		return err
	}

	path := filepath.Join(s.cfg.TapeDir, relPath)
	if err := store.Write(path, t); err != nil {
		return err
	}
	store.MarkNew(path)
	if !s.cfg.Silent {
		printSummary(store.Summary())
	}
	return nil
}

func printSummary(sum tapestore.Summary) {
	for _, p := range sum.New {
		info, err := os.Stat(p)
		size := "?"
		if err == nil {
			size = humanize.Bytes(uint64(info.Size()))
		}
		fmt.Fprintf(os.Stderr, "tapedeck: wrote new tape %s (%s)\n", p, size)
	}
	for _, p := range sum.Unused {
		fmt.Fprintf(os.Stderr, "tapedeck: tape never consulted: %s\n", p)
	}
}

func envSlice(m map[string]string) []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}
