package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/invocationstore/irs/internal/blobstore"
	"github.com/invocationstore/irs/internal/capture"
	"github.com/invocationstore/irs/internal/storage"
	"github.com/invocationstore/irs/internal/types"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Record one command's attempt/output/outcome as a single shot",
	Long: "Runs the three capture steps in one call: open an attempt, read stdin as " +
		"the combined output stream, and close with the given exit code. For " +
		"incremental capture from a long-running wrapper, use the library API directly.",
}

var (
	captureCmd_sessionID  string
	captureCmd_sourceClnt string
	captureCmd_machineID  string
	captureCmd_runnerID   string
	captureCmd_exitCode   int
	captureCmd_durationMs int64
	captureCmd_tag        string
)

var captureRunCmd = &cobra.Command{
	Use:   "run -- <cmd...>",
	Short: "Open an attempt, capture stdin as output, close with the given exit code",
	Args:  cobra.MinimumNArgs(1),
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

		blobs, err := blobstore.Open(storeRoot, blobstore.WithInlineThreshold(cfg.InlineThresholdBytes))
		if err != nil {
			return err
		}
		defer blobs.Close()

		facade := capture.New(storeRoot, backend, blobs, cfg)

		cwd, _ := os.Getwd()
		hostname, _ := os.Hostname()
		attemptID := facade.OpenAttempt(rootCtx, capture.AttemptDescriptor{
			Cmd:                joinArgs(args),
			Cwd:                cwd,
			SessionID:          captureCmd_sessionID,
			SourceClient:       captureCmd_sourceClnt,
			MachineID:          captureCmd_machineID,
			Hostname:           hostname,
			RunnerID:           captureCmd_runnerID,
			Tag:                captureCmd_tag,
			InheritedAttemptID: os.Getenv("INVOCATION_ID"),
		})

		data, _ := io.ReadAll(os.Stdin)
		facade.AppendOutput(attemptID, types.StreamCombined, data, args[0])
		facade.FinishOutput(rootCtx, attemptID, types.StreamCombined)

		exitCode := captureCmd_exitCode
		if err := facade.CloseAttempt(rootCtx, attemptID, &exitCode, captureCmd_durationMs, nil, false, nil); err != nil {
			return fmt.Errorf("close attempt: %w", err)
		}

		fmt.Println(attemptID)
		return nil
	},
}

func joinArgs(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}

func init() {
	captureRunCmd.Flags().StringVar(&captureCmd_sessionID, "session-id", "cli", "Session grouping label")
	captureRunCmd.Flags().StringVar(&captureCmd_sourceClnt, "source-client", "irs-cli", "Producer identity")
	captureRunCmd.Flags().StringVar(&captureCmd_machineID, "machine-id", "", "Machine identifier")
	captureRunCmd.Flags().StringVar(&captureCmd_runnerID, "runner-id", "pid:"+strconv.Itoa(os.Getpid()), "Runner-id for liveness probing")
	captureRunCmd.Flags().IntVar(&captureCmd_exitCode, "exit-code", 0, "Exit code to record")
	captureRunCmd.Flags().Int64Var(&captureCmd_durationMs, "duration-ms", 0, "Duration in milliseconds")
	captureRunCmd.Flags().StringVar(&captureCmd_tag, "tag", "", "Optional tag")
	captureCmd.AddCommand(captureRunCmd)
}
