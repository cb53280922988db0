package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tapedeck-dev/tapedeck/internal/facade"
	"github.com/tapedeck-dev/tapedeck/internal/live"
)

func recordCmd() *cobra.Command {
	var tapeDir, tag, rulesPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "record -- <program> [args...]",
		Short: "Run a program interactively and capture its exchanges to a tape",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd.Context(), args[0], args[1:], tapeDir, tag, rulesPath, overwrite)
		},
	}
	cmd.Flags().StringVar(&tapeDir, "tape-dir", "tapes", "directory tapes are written under")
	cmd.Flags().StringVar(&tag, "tag", "", "human-readable tag embedded in the tape filename")
	cmd.Flags().StringVar(&rulesPath, "rules", "", "optional rule file (allow/ignore lists, custom redactions)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "re-record even if a tape already exists for this program+args+env+cwd")
	return cmd
}

func runRecord(ctx context.Context, program string, args []string, tapeDir, tag, rulesPath string, overwrite bool) error {
	rules, redactor, err := loadRulesAndRedactor(rulesPath)
	if err != nil {
		return err
	}

	recordMode := facade.RecordNew
	if overwrite {
		recordMode = facade.RecordOverwrite
	}

	rows, cols := termSize()
	session, err := facade.Open(ctx, facade.Config{
		Record:   recordMode,
		Program:  program,
		Args:     args,
		Cwd:      mustGetwd(),
		PTY:      live.Size{Rows: rows, Cols: cols},
		TapeDir:  tapeDir,
		Tag:      tag,
		Rules:    rules,
		Redactor: redactor,
	})
	if err != nil {
		return fmt.Errorf("open recording session: %w", err)
	}
	defer session.Close(ctx)

	fmt.Fprintf(os.Stderr, "tapedeck: recording %s into %s (blank line or Ctrl-D to stop)\n", program, tapeDir)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		if err := session.SendLine(ctx, line); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		out, err := session.Expect(ctx, quietWindow, expectTimeout)
		if err != nil {
			return fmt.Errorf("expect: %w", err)
		}
		os.Stdout.Write(out)
		if !session.IsAlive() {
			break
		}
	}
	return scanner.Err()
}

func termSize() (rows, cols uint16) {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return 24, 80
	}
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 || h <= 0 {
		return 24, 80
	}
	return uint16(h), uint16(w)
}

func mustGetwd() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}
