package namegen

import (
	"strings"
	"testing"
)

func TestDefaultProducesValidPath(t *testing.T) {
	namer := Default(1735689600000)
	path, err := namer("bash", "login-flow", "abc123")
	if err != nil {
		t.Fatalf("namer: %v", err)
	}
	if err := Validate(path); err != nil {
		t.Fatalf("Validate(%q): %v", path, err)
	}
	if !strings.HasPrefix(path, "bash/") {
		t.Fatalf("expected program-prefixed path, got %q", path)
	}
	if !strings.Contains(path, "login-flow") {
		t.Fatalf("expected tag in filename, got %q", path)
	}
}

func TestDefaultFallsBackToUnnamed(t *testing.T) {
	namer := Default(0)
	path, err := namer("bash", "", "abc123")
	if err != nil {
		t.Fatalf("namer: %v", err)
	}
	if !strings.Contains(path, "unnamed") {
		t.Fatalf("expected unnamed fallback, got %q", path)
	}
}

func TestDefaultRejectsEmptyProgram(t *testing.T) {
	namer := Default(0)
	if _, err := namer("", "tag", "abc123"); err == nil {
		t.Fatal("expected error for empty program")
	}
}

func TestShortHashIsReproducibleForSameIdentity(t *testing.T) {
	namer := Default(1735689600000)
	a, err := namer("bash", "", "same-identity-key")
	if err != nil {
		t.Fatalf("namer: %v", err)
	}
	b, err := namer("bash", "", "same-identity-key")
	if err != nil {
		t.Fatalf("namer: %v", err)
	}
	// Both are generated at the same nowUnixMs, so identical identity keys
	// must produce identical short hashes and therefore identical paths.
	if a != b {
		t.Fatalf("expected reproducible short hash for the same identity key, got %q and %q", a, b)
	}

	c, err := namer("bash", "", "different-identity-key")
	if err != nil {
		t.Fatalf("namer: %v", err)
	}
	if a == c {
		t.Fatalf("expected different identity keys to produce different short hashes, both gave %q", a)
	}
}

func TestValidateRejectsEscapesAndAbsolutePaths(t *testing.T) {
	cases := []string{
		"/etc/passwd.json5",
		"../escape.json5",
		"bash/ok.txt",
		"",
	}
	for _, c := range cases {
		if err := Validate(c); err == nil {
			t.Errorf("Validate(%q) = nil, want error", c)
		}
	}
}
