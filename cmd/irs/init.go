package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/invocationstore/irs/internal/blobstore"
	"github.com/invocationstore/irs/internal/config"
	"github.com/invocationstore/irs/internal/storage"
)

var initBackend string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new store at --store-root",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(storeRoot, 0o755); err != nil {
			return fmt.Errorf("create store root: %w", err)
		}

		cfg := config.Default()
		if initBackend != "" {
			cfg.Backend = config.Backend(initBackend)
		}
		if err := config.Save(storeRoot, cfg); err != nil {
			return err
		}

		backend, err := storage.Open(storeRoot, cfg)
		if err != nil {
			return fmt.Errorf("initialize backend: %w", err)
		}
		defer backend.Close()

		blobs, err := blobstore.Open(storeRoot)
		if err != nil {
			return fmt.Errorf("initialize blob store: %w", err)
		}
		defer blobs.Close()

		errorsLog := filepath.Join(storeRoot, "errors.log")
		if _, err := os.OpenFile(errorsLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err != nil {
			return fmt.Errorf("create errors.log: %w", err)
		}

		fmt.Printf("initialized store at %s (backend=%s)\n", storeRoot, cfg.Backend)
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initBackend, "backend", "", "multi-writer or single-writer (default: multi-writer)")
}
