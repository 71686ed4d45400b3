package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/invocationstore/irs/internal/recovery"
	"github.com/invocationstore/irs/internal/storage"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Transition abandoned in-flight attempts to the orphaned state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		backend, err := storage.Open(storeRoot, cfg)
		if err != nil {
			return err
		}
		defer backend.Close()

		coordinator, err := recovery.New(backend, cfg.MaxAgeHours)
		if err != nil {
			return err
		}

		result, err := coordinator.Run(rootCtx)
		if err != nil {
			return err
		}
		fmt.Printf("scanned=%d orphaned=%d still_running=%d duplicate_outcome=%d\n",
			result.Scanned, result.Orphaned, result.StillRunning, result.DuplicateOutcome)
		return nil
	},
}
