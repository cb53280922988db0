// Package match builds the deterministic composite key used to find a
// recorded exchange from a live input.
package match

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tapedeck-dev/tapedeck/internal/normalize"
)

// CommandMatcher overrides step 1 (program resolution). Implementations
// must be pure and side-effect free.
type CommandMatcher interface {
	MatchCommand(program string, argv []string) string
}

// StdinMatcher overrides step 6 (input decoding). Implementations must be
// pure and side-effect free.
type StdinMatcher interface {
	MatchStdin(kind string, text string, raw []byte) string
}

// Rules configures the allow/ignore lists honored while building a key.
type Rules struct {
	AllowEnv       []string // if non-empty, restrict env to these keys
	IgnoreEnv      []string
	IgnoreArgs     []string // values or "#N" positional indices, replaced with <IGN>
	IgnoreStdin    bool
	CommandMatcher CommandMatcher
	StdinMatcher   StdinMatcher
}

// Context is constructed per lookup: immutable for the lifetime of the
// lookup.
type Context struct {
	Program    string
	Argv       []string
	Env        map[string]string
	Cwd        string
	Prompt     string
	InputKind  string // "line" or "raw"
	InputText  string
	InputRaw   []byte
	StateHash  string // optional, caller-supplied
}

// canonical is the structure hashed to produce the key. Field order is
// fixed so json.Marshal output (and therefore the hash) is deterministic.
type canonical struct {
	Program   string            `json:"program"`
	Argv      []string          `json:"argv"`
	Env       map[string]string `json:"env"`
	Cwd       string            `json:"cwd,omitempty"`
	Prompt    string            `json:"prompt"`
	Input     string            `json:"input"`
	StateHash string            `json:"stateHash,omitempty"`
}

// Key computes the SHA-256 of a canonical JSON encoding of the matching
// context, honoring the rules' allow/ignore lists and optional matcher
// overrides. It is pure: Key(ctx, r) == Key(ctx, r) across runs and
// machines.
func Key(ctx Context, r Rules) string {
	c := canonical{
		Program: resolveProgram(ctx.Program, ctx.Argv, r),
		Argv:    filterArgs(ctx.Argv, r.IgnoreArgs),
		Env:     filterEnv(ctx.Env, r.AllowEnv, r.IgnoreEnv),
		Cwd:     resolveCwd(ctx.Cwd),
		Prompt:  normalize.Normalize(ctx.Prompt),
		Input:   resolveInput(ctx, r),
	}
	if ctx.StateHash != "" {
		c.StateHash = ctx.StateHash
	}
	b, _ := json.Marshal(c) // canonical struct never fails to marshal
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// identityCanonical is the subset of canonical that does not depend on a
// particular exchange: no prompt, no input, no state hash. Field order is
// fixed for the same determinism reason as canonical.
type identityCanonical struct {
	Program string            `json:"program"`
	Argv    []string          `json:"argv"`
	Env     map[string]string `json:"env"`
	Cwd     string            `json:"cwd,omitempty"`
}

// IdentityKey computes the session-identity key: program + filtered argv +
// filtered env + cwd, with no dependency on prompt, input, or state. Used
// to decide whether a tape already exists for a session before any
// exchange has happened.
func IdentityKey(ctx Context, r Rules) string {
	c := identityCanonical{
		Program: resolveProgram(ctx.Program, ctx.Argv, r),
		Argv:    filterArgs(ctx.Argv, r.IgnoreArgs),
		Env:     filterEnv(ctx.Env, r.AllowEnv, r.IgnoreEnv),
		Cwd:     resolveCwd(ctx.Cwd),
	}
	b, _ := json.Marshal(c)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func resolveProgram(program string, argv []string, r Rules) string {
	if r.CommandMatcher != nil {
		return r.CommandMatcher.MatchCommand(program, argv)
	}
	return filepath.Base(program)
}

func resolveCwd(cwd string) string {
	if cwd == "" {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(cwd); err == nil {
		return resolved
	}
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return cwd
	}
	return abs
}

func resolveInput(ctx Context, r Rules) string {
	if r.IgnoreStdin {
		return ""
	}
	if r.StdinMatcher != nil {
		return r.StdinMatcher.MatchStdin(ctx.InputKind, ctx.InputText, ctx.InputRaw)
	}
	text := ctx.InputText
	if ctx.InputKind == "line" {
		text = strings.TrimSuffix(text, "\r\n")
		text = strings.TrimSuffix(text, "\n")
	}
	return text
}

func filterArgs(argv []string, ignore []string) []string {
	if len(ignore) == 0 {
		return append([]string{}, argv...)
	}
	ignoreIdx := make(map[int]bool)
	ignoreVal := make(map[string]bool)
	for _, spec := range ignore {
		if strings.HasPrefix(spec, "#") {
			if n, err := strconv.Atoi(spec[1:]); err == nil {
				ignoreIdx[n] = true
				continue
			}
		}
		ignoreVal[spec] = true
	}
	out := make([]string, len(argv))
	for i, a := range argv {
		if ignoreIdx[i] || ignoreVal[a] {
			out[i] = "<IGN>"
			continue
		}
		out[i] = a
	}
	return out
}

func filterEnv(env map[string]string, allow, ignore []string) map[string]string {
	out := make(map[string]string)
	if len(allow) > 0 {
		allowSet := make(map[string]bool, len(allow))
		for _, k := range allow {
			allowSet[k] = true
		}
		for k, v := range env {
			if allowSet[k] {
				out[k] = v
			}
		}
		return sortedCopy(out)
	}
	ignoreSet := make(map[string]bool, len(ignore))
	for _, k := range ignore {
		ignoreSet[k] = true
	}
	for k, v := range env {
		if !ignoreSet[k] {
			out[k] = v
		}
	}
	return sortedCopy(out)
}

// sortedCopy returns a copy; Go's encoding/json already sorts map keys on
// marshal, so this exists only to make the "sorted by key" contract
// explicit and testable independent of json.Marshal's behavior.
func sortedCopy(m map[string]string) map[string]string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]string, len(m))
	for _, k := range keys {
		out[k] = m[k]
	}
	return out
}
