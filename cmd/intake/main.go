package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/wolfman30/clinic-intake/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinic-intake/internal/config"
	"github.com/wolfman30/clinic-intake/internal/intake"
	"github.com/wolfman30/clinic-intake/internal/terminal"
	"github.com/wolfman30/clinic-intake/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	rootCmd := &cobra.Command{
		Use:           "intake",
		Short:         "Register or edit clinic patients from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("log-level", "", "override LOG_LEVEL")

	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(editCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Register a new patient",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWizard(cmd, "")
		},
	}
}

func editCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <record-id>",
		Short: "Edit an existing patient record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWizard(cmd, args[0])
		},
	}
}

func runWizard(cmd *cobra.Command, recordID string) error {
	cfg := appconfig.Load()
	level := cfg.LogLevel
	if override, _ := cmd.Flags().GetString("log-level"); override != "" {
		level = override
	}
	// Logs go to stderr so they never interleave with the prompts.
	logger := logging.NewWithWriter(level, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.BuildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("runtime close failed", "error", err)
		}
	}()

	var rec *intake.Record
	if recordID != "" {
		rec, err = rt.Patients.GetRecord(ctx, recordID)
		if err != nil {
			return fmt.Errorf("load patient %s: %w", recordID, err)
		}
	}

	console := terminal.NewConsole(cmd.InOrStdin(), cmd.OutOrStdout())
	w := intake.New(intake.Config{
		ID:             "cli-" + recordIDOrNew(recordID),
		DefaultCountry: cfg.DefaultCountry,
		Orchestrator:   intake.NewOrchestrator(rt.Patients, rt.OrchestratorOptions(cfg.SubmitLockTTL, nil, logger)...),
		Notifier:       console,
		Logger:         logger,
	})
	if rec != nil {
		w.Initialize(rec)
		if rt.Audit != nil {
			if err := rt.Audit.LogRecordOpened(ctx, w.ID(), rec.ID); err != nil {
				logger.Warn("failed to audit record open", "error", err)
			}
		}
	}

	_, err = console.Run(ctx, w)
	return err
}

// Edits of the same record share a lock key across terminals.
func recordIDOrNew(recordID string) string {
	if recordID == "" {
		return uuid.NewString()
	}
	return recordID
}
