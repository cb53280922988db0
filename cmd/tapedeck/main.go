// Command tapedeck records and replays interactive PTY sessions.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tapedeck-dev/tapedeck/internal/tapelog"
)

func main() {
	var logLevel string
	var logFile string

	root := &cobra.Command{
		Use:   "tapedeck",
		Short: "tapedeck — record and replay interactive PTY sessions",
		Long:  "Captures a program's PTY output with timing into an editable tape, then replays it byte-for-byte without the real program.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return tapelog.Init(logLevel, logFile)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
	root.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file")

	root.AddCommand(recordCmd())
	root.AddCommand(replayCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(redactScanCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
