// Command irs is the CLI front end for the invocation record store: it
// wires the storage backends, lifecycle manager, recovery coordinator,
// sync engine, and query gateway behind a single binary, mirroring the
// teacher's bd command's root-command/persistent-flag/signal-aware-
// context shape.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/invocationstore/irs/internal/config"
)

var (
	storeRoot  string
	jsonOutput bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "irs",
	Short: "irs - invocation record store",
	Long:  "A query-first archive of shell-command executions: attempts, outcomes, captured output, and parsed diagnostics.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		if storeRoot == "" {
			storeRoot = os.Getenv("STORE_ROOT")
		}
		if storeRoot == "" {
			if dir, err := os.UserHomeDir(); err == nil {
				storeRoot = filepath.Join(dir, ".irs")
			} else {
				storeRoot = ".irs"
			}
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if rootCancel != nil {
			rootCancel()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storeRoot, "store-root", "", "Store root path (default: $STORE_ROOT or ~/.irs)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Accepted but has no effect: every command prints plain text")

	rootCmd.AddCommand(initCmd, captureCmd, queryCmd, gcCmd, compactCmd, archiveCmd, recoverCmd, syncCmd, doctorCmd)
}

func loadConfig() (config.Config, error) {
	return config.Load(storeRoot)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
