package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/erasure/internal/ledger"
	"github.com/JakeFAU/erasure/internal/records"
)

func newRunCmd() *cobra.Command {
	var (
		input       string
		writeStatus bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every record of the input CSV",
		Long: `Sends one deletion request per input row and waits for each
confirmation, inline or on background workers (workflow.confirm_workers).
Rows already complete in the ledger are skipped; pending rows resume their
confirmation wait without a second email.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if input == "" {
				input = rt.cfg.Workflow.InputPath
			}
			return runRecords(cmd, rt, input, writeStatus)
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "input CSV (default workflow.input_path)")
	cmd.Flags().BoolVar(&writeStatus, "write-status", false, "write each outcome back to a status column of the input CSV")
	return cmd
}

func runRecords(cmd *cobra.Command, rt *services, input string, writeStatus bool) error {
	logger := rt.app.Logger()
	f, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	src, err := records.NewReader(f)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	var onOutcome func(records.Record, ledger.Status)
	if writeStatus {
		var mu sync.Mutex
		onOutcome = func(rec records.Record, status ledger.Status) {
			mu.Lock()
			defer mu.Unlock()
			if err := records.WriteStatus(input, rec.Index, string(status)); err != nil {
				logger.Warn("status write-back failed",
					zap.Int("row", rec.Index), zap.String("website", rec.Website), zap.Error(err))
			}
		}
	}

	runner, err := rt.app.Runner(onOutcome)
	if err != nil {
		return fmt.Errorf("build runner: %w", err)
	}
	summary, runErr := runner.Run(cmd.Context(), src)
	logger.Info("run finished",
		zap.Int("records", summary.Records),
		zap.Int("skipped", summary.Skipped),
		zap.Int("resumed", summary.Resumed),
		zap.Int("sent", summary.Sent),
		zap.Int("complete", summary.Complete),
		zap.Int("timeout", summary.Timeout),
		zap.Int("error", summary.Error),
		zap.Int("failed", summary.Failed),
		zap.Int("interrupted", summary.Interrupted),
	)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("run: %w", runErr)
	}
	return nil
}
