// Package rules loads the optional on-disk rule file: allow/ignore lists
// for the matcher pipeline and custom redaction patterns. This supplements
// facade.Config's programmatic fields; loading a rule file is never
// required.
package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of a rule file, typically ".tapedeck.yaml".
type File struct {
	AllowEnv  []string          `yaml:"allow_env,omitempty"`
	IgnoreEnv []string          `yaml:"ignore_env,omitempty"`
	IgnoreArgs []string         `yaml:"ignore_args,omitempty"`
	IgnoreStdin bool            `yaml:"ignore_stdin,omitempty"`
	CustomRedactions map[string]string `yaml:"custom_redactions,omitempty"`
}

// Load reads and parses a rule file. A missing file is not an error; it
// returns a zero-value *File so callers can merge unconditionally.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("read rule file %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rule file %s: %w", path, err)
	}
	return &f, nil
}
