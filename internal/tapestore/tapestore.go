// Package tapestore indexes a directory tree of tape files by their
// exchanges' match keys, and brokers atomic writes back to disk.
package tapestore

import (
	"context"
	"encoding/base64"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dchest/safefile"
	"github.com/gofrs/flock"

	"github.com/tapedeck-dev/tapedeck/internal/match"
	"github.com/tapedeck-dev/tapedeck/internal/tape"
	"github.com/tapedeck-dev/tapedeck/internal/tapeerr"
	"github.com/tapedeck-dev/tapedeck/internal/tapelog"
)

const lockTimeout = 30 * time.Second

// entry is one exchange's indexed position within a tape file.
type entry struct {
	path  string
	index int
}

// Store is an in-memory index over every *.json5 tape under a root
// directory, keyed by each exchange's deterministic match key.
type Store struct {
	mu    sync.RWMutex
	root  string
	rules match.Rules

	byKey  map[string]entry
	shadow map[string][]string // key -> every path that produced it, for diagnostics

	tapes map[string]*tape.Tape // path -> decoded tape, cached for writes

	used map[string]bool
	new  map[string]bool
}

// Build walks root for *.json5 files, decodes each, and indexes every
// exchange's match key. A key collision across files or within one file is
// not an error: the later exchange (in filepath.WalkDir order) shadows the
// earlier one. A collision between two files is logged; one within a
// single file is not.
func Build(root string, rules match.Rules) (*Store, error) {
	s := &Store{
		root:   root,
		rules:  rules,
		byKey:  make(map[string]entry),
		shadow: make(map[string][]string),
		tapes:  make(map[string]*tape.Tape),
		used:   make(map[string]bool),
		new:    make(map[string]bool),
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return nil // empty store directory is fine
			}
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json5" {
			return nil
		}
		return s.indexFile(path)
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("index tape store %s: %w", root, err)
	}
	return s, nil
}

func (s *Store) indexFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	t, err := tape.Decode(data)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	s.tapes[path] = t

	for i, ex := range t.Exchanges {
		key := exchangeKey(t, ex, s.rules)
		s.shadow[key] = append(s.shadow[key], path)
		if prev, exists := s.byKey[key]; exists && prev.path != path {
			tapelog.Log.Warn("match key collision, shadowing earlier tape",
				"key", key, "shadowed", prev.path, "winner", path)
		}
		s.byKey[key] = entry{path: path, index: i}
	}
	return nil
}

func exchangeKey(t *tape.Tape, ex tape.Exchange, rules match.Rules) string {
	var raw []byte
	if ex.Input.BytesB64 != "" {
		raw, _ = base64.StdEncoding.DecodeString(ex.Input.BytesB64)
	}
	return match.Key(match.Context{
		Program:   t.Meta.Program,
		Argv:      t.Meta.Args,
		Env:       t.Meta.Env,
		Cwd:       t.Meta.Cwd,
		Prompt:    ex.Pre.Prompt,
		InputKind: ex.Input.Kind,
		InputText: ex.Input.Text,
		InputRaw:  raw,
		StateHash: ex.Pre.StateHash,
	}, rules)
}

// Lookup finds the exchange matching ctx, if any.
func (s *Store) Lookup(ctx match.Context) (*tape.Exchange, string, bool) {
	key := match.Key(ctx, s.rules)
	s.mu.RLock()
	e, ok := s.byKey[key]
	if !ok {
		s.mu.RUnlock()
		return nil, "", false
	}
	t := s.tapes[e.path]
	s.mu.RUnlock()
	if t == nil || e.index >= len(t.Exchanges) {
		return nil, "", false
	}
	return &t.Exchanges[e.index], e.path, true
}

// HasIdentity reports whether any indexed tape was recorded under the same
// session identity as ctx (program + filtered argv + filtered env + cwd),
// regardless of which exchange, prompt, or input it holds. Used by the
// facade to decide between replay and a fresh recording before any
// exchange has happened.
func (s *Store) HasIdentity(ctx match.Context) bool {
	want := match.IdentityKey(ctx, s.rules)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tapes {
		got := match.IdentityKey(match.Context{
			Program: t.Meta.Program,
			Argv:    t.Meta.Args,
			Env:     t.Meta.Env,
			Cwd:     t.Meta.Cwd,
		}, s.rules)
		if got == want {
			return true
		}
	}
	return false
}

// NearestKeys returns every indexed key, unordered, as the candidate set
// for tape-miss diagnostics; ranking and capping are left to the caller.
func (s *Store) NearestKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.byKey))
	for k := range s.byKey {
		keys = append(keys, k)
	}
	return keys
}

// MarkUsed records that path was consulted during a replay, for the
// end-of-session new/unused summary.
func (s *Store) MarkUsed(path string) {
	s.mu.Lock()
	s.used[path] = true
	s.mu.Unlock()
}

// MarkNew records that path was created during this session (a fresh
// recording, not an edit of an existing tape).
func (s *Store) MarkNew(path string) {
	s.mu.Lock()
	s.new[path] = true
	s.mu.Unlock()
}

// Summary reports which tapes were newly written and which existing tapes
// were never consulted, both sorted for stable output.
type Summary struct {
	New    []string
	Unused []string
}

func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum Summary
	for path := range s.tapes {
		if s.new[path] {
			sum.New = append(sum.New, path)
			continue
		}
		if !s.used[path] {
			sum.Unused = append(sum.Unused, path)
		}
	}
	sort.Strings(sum.New)
	sort.Strings(sum.Unused)
	return sum
}

// Write atomically persists t to path, taking an exclusive cross-process
// lock on path+".lock" so concurrent recorders never interleave writes to
// the same file. A lock held longer than 30s surfaces as store-busy rather
// than blocking forever.
func (s *Store) Write(path string, t *tape.Tape) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create tape directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil || !locked {
		return tapeerr.New(tapeerr.StoreBusy, fmt.Sprintf("tape store locked: %s", path)).WithCause(err)
	}
	defer lock.Unlock()

	encoded, err := tape.Encode(t)
	if err != nil {
		return err
	}

	fout, err := safefile.Create(path, 0o644)
	if err != nil {
		return fmt.Errorf("open %s for atomic write: %w", path, err)
	}
	if _, err := fout.Write(encoded); err != nil {
		fout.File.Close()
		os.Remove(fout.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := fout.Commit(); err != nil {
		fout.File.Close()
		os.Remove(fout.Name())
		return fmt.Errorf("commit %s: %w", path, err)
	}

	s.mu.Lock()
	s.tapes[path] = t
	for i, ex := range t.Exchanges {
		key := exchangeKey(t, ex, s.rules)
		s.byKey[key] = entry{path: path, index: i}
	}
	s.mu.Unlock()
	return nil
}
