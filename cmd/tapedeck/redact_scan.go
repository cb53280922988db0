package main

import (
	"encoding/base64"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tapedeck-dev/tapedeck/internal/redact"
	"github.com/tapedeck-dev/tapedeck/internal/tape"
)

func redactScanCmd() *cobra.Command {
	var rulesPath string
	cmd := &cobra.Command{
		Use:   "redact-scan <tape-or-dir>...",
		Short: "Report secrets that survived redaction in recorded tapes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, engine, err := loadRulesAndRedactor(rulesPath)
			if err != nil {
				return err
			}
			return runRedactScan(args, engine)
		},
	}
	cmd.Flags().StringVar(&rulesPath, "rules", "", "optional rule file (custom redactions apply to the scan too)")
	return cmd
}

func runRedactScan(roots []string, engine *redact.Engine) error {
	var findings int
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || filepath.Ext(path) != ".json5" {
				return nil
			}
			cats, err := scanFile(path, engine)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			for _, cat := range cats {
				fmt.Printf("%s: unredacted %s\n", path, cat)
				findings++
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	if findings > 0 {
		return fmt.Errorf("%d unredacted secret(s) found", findings)
	}
	fmt.Println("no unredacted secrets found")
	return nil
}

func scanFile(path string, engine *redact.Engine) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := tape.Decode(data)
	if err != nil {
		return nil, err
	}
	found := make(map[string]bool)
	merge := func(b []byte) {
		for cat := range engine.Scan(b) {
			found[cat] = true
		}
	}
	for _, ex := range t.Exchanges {
		merge([]byte(ex.Pre.Prompt))
		merge([]byte(ex.Input.Text))
		for _, c := range ex.Output.Chunks {
			raw, err := base64.StdEncoding.DecodeString(c.DataB64)
			if err == nil {
				merge(raw)
			}
		}
	}
	cats := make([]string, 0, len(found))
	for c := range found {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats, nil
}
