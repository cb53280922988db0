// Package replay drives a Transport from previously recorded exchanges
// instead of a live process: matching each send against a tapestore,
// pacing output chunks to approximate recorded timing, and optionally
// injecting simulated failures for resilience testing.
package replay

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/tapedeck-dev/tapedeck/internal/match"
	"github.com/tapedeck-dev/tapedeck/internal/tape"
	"github.com/tapedeck-dev/tapedeck/internal/tapeerr"
	"github.com/tapedeck-dev/tapedeck/internal/tapestore"
)

const maxNearestKeys = 5

// Identity is the program identity a replay was recorded under, used to
// build the matching context for every send.
type Identity struct {
	Program string
	Argv    []string
	Env     map[string]string
	Cwd     string
}

// Options configures error injection and pacing overrides for one
// transport instance.
type Options struct {
	LatencyOverride *tape.Latency
	ErrorRate       float64
	Seed            int64
}

// Transport satisfies the same shape as live.Transport but answers every
// send from a tapestore.Store instead of a spawned process.
type Transport struct {
	store    *tapestore.Store
	rules    match.Rules
	identity Identity
	pacer    *pacer
	rng      *rand.Rand
	errRate  float64

	mu         sync.Mutex
	lastPrompt string
	pending    []tape.Chunk
	pendingExit *tape.ExitInfo
	closed     bool
	exited     bool
}

// New constructs a replay transport bound to store.
func New(store *tapestore.Store, rules match.Rules, id Identity, opts Options) *Transport {
	rng := rand.New(rand.NewSource(opts.Seed))
	return &Transport{
		store:    store,
		rules:    rules,
		identity: id,
		pacer:    newPacer(opts.LatencyOverride, rng),
		rng:      rng,
		errRate:  opts.ErrorRate,
	}
}

// Send matches the bytes against the store and queues the resulting
// exchange's output for Expect to drain. A miss returns a tape-miss error
// with up to 5 nearest-key suggestions; it does not queue anything.
func (t *Transport) Send(ctx context.Context, p []byte) error {
	return t.dispatch(match.Context{
		Program: t.identity.Program, Argv: t.identity.Argv, Env: t.identity.Env, Cwd: t.identity.Cwd,
		Prompt: t.lastPrompt, InputKind: "raw", InputRaw: p,
	})
}

// SendLine matches line against the store the same way Send does.
func (t *Transport) SendLine(ctx context.Context, line string) error {
	return t.dispatch(match.Context{
		Program: t.identity.Program, Argv: t.identity.Argv, Env: t.identity.Env, Cwd: t.identity.Cwd,
		Prompt: t.lastPrompt, InputKind: "line", InputText: line,
	})
}

func (t *Transport) dispatch(mctx match.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return tapeerr.New(tapeerr.SessionClosed, "replay transport is closed")
	}

	ex, path, ok := t.store.Lookup(mctx)
	if !ok {
		key := match.Key(mctx, t.rules)
		return tapeerr.New(tapeerr.TapeMiss, fmt.Sprintf("no recorded exchange matches key %s", key)).
			WithIdentity(tapeerr.Identity{Program: t.identity.Program, Args: t.identity.Argv, Cwd: t.identity.Cwd}).
			WithDiagnostic(tapeerr.Diagnostic{NearestKeys: nearestKeys(key, t.store.NearestKeys())})
	}
	t.store.MarkUsed(path)
	t.pending = ex.Output.Chunks
	t.pendingExit = ex.Exit
	return nil
}

// Expect drains the chunks queued by the last Send/SendLine, pacing each
// one per the configured latency policy. If error injection fires for this
// exchange it returns a simulated-timeout or simulated-exit instead of the
// recorded output. quiet and timeout are accepted for interface parity
// with live.Transport.Expect but do not bound replay, whose chunk count is
// already fixed by the matched exchange. If ctx is canceled mid-pacing,
// Expect returns the bytes paced so far with ctx's error and leaves the
// remaining chunks queued for the next call.
func (t *Transport) Expect(ctx context.Context, quiet, timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	chunks := t.pending
	exit := t.pendingExit
	t.pending = nil
	t.pendingExit = nil
	t.mu.Unlock()

	if t.errRate > 0 && t.rng.Float64() < t.errRate {
		if t.rng.Intn(2) == 0 {
			return nil, tapeerr.New(tapeerr.SimulatedTimeout, "injected timeout")
		}
		t.mu.Lock()
		t.exited = true
		t.mu.Unlock()
		return nil, tapeerr.New(tapeerr.SimulatedExit, "injected process exit")
	}

	var out []byte
	for i, c := range chunks {
		if err := t.pacer.wait(ctx, c.DelayMs); err != nil {
			// Keep the unpaced chunks queued so the next Expect
			// continues from here.
			t.mu.Lock()
			t.pending, t.pendingExit = chunks[i:], exit
			t.mu.Unlock()
			return out, err
		}
		data, err := decodeChunk(c)
		if err != nil {
			return out, tapeerr.New(tapeerr.SchemaError, fmt.Sprintf("corrupt chunk: %v", err)).WithCause(err)
		}
		out = append(out, data...)
	}

	t.mu.Lock()
	t.lastPrompt = string(out)
	if exit != nil {
		t.exited = true
	}
	t.mu.Unlock()
	return out, nil
}

// nearestKeys ranks candidates by edit distance to want, ascending,
// capped at maxNearestKeys.
func nearestKeys(want string, candidates []string) []tapeerr.NearestKey {
	type scored struct {
		key  string
		dist int
	}
	scoredKeys := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		scoredKeys = append(scoredKeys, scored{c, levenshtein.ComputeDistance(want, c)})
	}
	sort.Slice(scoredKeys, func(i, j int) bool { return scoredKeys[i].dist < scoredKeys[j].dist })
	n := len(scoredKeys)
	if n > maxNearestKeys {
		n = maxNearestKeys
	}
	out := make([]tapeerr.NearestKey, n)
	for i := 0; i < n; i++ {
		out[i] = tapeerr.NearestKey{Key: scoredKeys[i].key, Distance: scoredKeys[i].dist}
	}
	return out
}

func decodeChunk(c tape.Chunk) ([]byte, error) {
	return base64.StdEncoding.DecodeString(c.DataB64)
}

// IsAlive reports whether the matched exchange stream has signaled a
// process exit, either recorded or injected.
func (t *Transport) IsAlive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed && !t.exited
}

// Close marks the transport closed; there is no process to kill.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}
