package main

import (
	"encoding/base64"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tapedeck-dev/tapedeck/internal/tape"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <tape-or-dir>...",
		Short: "Check tape files against the current schema",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(args)
		},
	}
}

func runValidate(roots []string) error {
	var failures int
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || filepath.Ext(path) != ".json5" {
				return nil
			}
			if err := validateFile(path); err != nil {
				fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", path, err)
				failures++
				return nil
			}
			fmt.Printf("OK   %s\n", path)
			return nil
		})
		if err != nil {
			return err
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d tape(s) failed validation", failures)
	}
	return nil
}

func validateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	t, err := tape.Decode(data)
	if err != nil {
		return err
	}
	for i, ex := range t.Exchanges {
		for j, c := range ex.Output.Chunks {
			if _, err := base64.StdEncoding.DecodeString(c.DataB64); err != nil {
				return fmt.Errorf("exchanges[%d].output.chunks[%d].dataB64 is not valid base64: %w", i, j, err)
			}
		}
	}
	return nil
}
