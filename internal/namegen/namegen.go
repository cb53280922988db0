// Package namegen derives the on-disk filename a recorded tape is written
// to, deterministically enough to be predictable but unique enough that
// concurrent recorders never collide.
package namegen

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

// Namer produces the tape directory-relative path for a completed
// recording. identityKey is the session-identity match key
// (match.IdentityKey), used to derive a reproducible short hash.
// Implementations must return a path ending in ".json5" with no ".."
// segments and no leading "/".
type Namer func(program, tag, identityKey string) (string, error)

// Default names tapes "<program>/<tag-or-unnamed>-<unix-ms>-<short-hash>.json5",
// where short-hash is the first 8 hex chars of the SHA-256 of the
// session-identity key: two recordings of the same program+args+env+cwd get
// the same short hash even in different processes, while the unix-ms
// component still keeps repeat recordings of the same identity from
// colliding on disk.
func Default(nowUnixMs int64) Namer {
	return func(program, tag, identityKey string) (string, error) {
		if program == "" {
			return "", fmt.Errorf("namegen: program must not be empty")
		}
		label := tag
		if label == "" {
			label = "unnamed"
		}
		token := shortToken(identityKey)
		name := fmt.Sprintf("%s-%d-%s.json5", sanitize(label), nowUnixMs, token)
		return filepath.Join(sanitize(program), name), nil
	}
}

// Stable names a tape deterministically from program and tag alone, with
// no timestamp or identity hash: overwrite-mode recordings reuse this so
// repeat runs of the same program truncate the same file instead of
// accumulating a new one per run.
func Stable(program, tag string) (string, error) {
	if program == "" {
		return "", fmt.Errorf("namegen: program must not be empty")
	}
	label := tag
	if label == "" {
		label = "unnamed"
	}
	return filepath.Join(sanitize(program), sanitize(label)+".json5"), nil
}

func shortToken(identityKey string) string {
	sum := sha256.Sum256([]byte(identityKey))
	return hex.EncodeToString(sum[:4])
}

// sanitize replaces path separators and whitespace so program/tag names
// can never escape the tape directory or produce an invalid filename.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, string(filepath.Separator), "_")
	s = strings.ReplaceAll(s, " ", "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// Validate rejects a Namer's output before it's used for a write: no
// absolute paths, no parent-directory escapes, and the right extension.
func Validate(path string) error {
	if path == "" {
		return fmt.Errorf("namegen: empty path")
	}
	if filepath.IsAbs(path) {
		return fmt.Errorf("namegen: %q must be relative to the tape directory", path)
	}
	clean := filepath.Clean(path)
	if clean != path || strings.HasPrefix(clean, "..") {
		return fmt.Errorf("namegen: %q escapes the tape directory", path)
	}
	if filepath.Ext(path) != ".json5" {
		return fmt.Errorf("namegen: %q must end in .json5", path)
	}
	return nil
}
