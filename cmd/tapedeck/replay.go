package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tapedeck-dev/tapedeck/internal/facade"
	"github.com/tapedeck-dev/tapedeck/internal/live"
)

func replayCmd() *cobra.Command {
	var tapeDir, rulesPath, missMode string
	var errorRate float64
	var seed int64

	cmd := &cobra.Command{
		Use:   "replay -- <program> [args...]",
		Short: "Drive recorded tapes as if program were running",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), args[0], args[1:], tapeDir, rulesPath, facade.MissMode(missMode), errorRate, seed)
		},
	}
	cmd.Flags().StringVar(&tapeDir, "tape-dir", "tapes", "directory tapes are read from")
	cmd.Flags().StringVar(&rulesPath, "rules", "", "optional rule file (allow/ignore lists, custom redactions)")
	cmd.Flags().StringVar(&missMode, "on-miss", string(facade.MissNotFound), "not_found or proxy")
	cmd.Flags().Float64Var(&errorRate, "error-rate", 0, "probability (0-1) of injecting a simulated failure per exchange")
	cmd.Flags().Int64Var(&seed, "seed", 0, "seed for deterministic error injection and latency sampling")
	return cmd
}

func runReplay(ctx context.Context, program string, args []string, tapeDir, rulesPath string, missMode facade.MissMode, errorRate float64, seed int64) error {
	rules, _, err := loadRulesAndRedactor(rulesPath)
	if err != nil {
		return err
	}

	session, err := facade.Open(ctx, facade.Config{
		Record:    facade.RecordDisabled,
		Program:   program,
		Args:      args,
		Cwd:       mustGetwd(),
		PTY:       live.Size{Rows: 24, Cols: 80},
		TapeDir:   tapeDir,
		Rules:     rules,
		MissMode:  missMode,
		ErrorRate: errorRate,
		Seed:      seed,
	})
	if err != nil {
		return fmt.Errorf("open replay session: %w", err)
	}
	defer session.Close(ctx)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := session.SendLine(ctx, scanner.Text()); err != nil {
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
