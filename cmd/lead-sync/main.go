package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"client_portal_backend/internal/airtable"
	"client_portal_backend/internal/events"
	"client_portal_backend/internal/leadsync"
	"client_portal_backend/platform/config"
	"client_portal_backend/platform/db"
	"client_portal_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	clientFlag string
	modeFlag   string
)

var rootCmd = &cobra.Command{
	Use:           "lead-sync",
	Short:         "Run one Airtable lead reconciliation for a client",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&clientFlag, "client", "", "client id (uuid) to reconcile")
	rootCmd.Flags().StringVar(&modeFlag, "mode", string(leadsync.ModeFull), "full or incremental")
	_ = rootCmd.MarkFlagRequired("client")
}

// exitError carries a process exit code out of RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "lead-sync:", err)
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	clientID, err := uuid.Parse(clientFlag)
	if err != nil {
		return fmt.Errorf("invalid --client: %w", err)
	}
	mode, err := leadsync.ParseMode(modeFlag)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	mapper, err := leadsync.NewMapperFromConfig(cfg)
	if err != nil {
		return err
	}

	svc, guard := leadsync.NewSyncService(pool, airtable.NewFromConfig(cfg, log), mapper, events.NewInMemoryBus(log), nil, cfg, log)
	defer guard.Close(context.Background())

	summary, runErr := svc.Run(ctx, leadsync.RunRequest{ClientID: clientID, Mode: mode}, nil)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return err
	}

	if code := exitCode(summary.Status, runErr); code != 0 {
		if runErr == nil {
			runErr = fmt.Errorf("sync finished with status %s", summary.Status)
		}
		return &exitError{code: code, err: runErr}
	}
	return nil
}

// exitCode maps a run outcome to the process exit code: 0 completed,
// 2 completed with record errors, 1 anything else.
func exitCode(status leadsync.Status, err error) int {
	switch {
	case err != nil:
		return 1
	case status == leadsync.StatusCompleted:
		return 0
	case status == leadsync.StatusCompletedWithErrors:
		return 2
	default:
		return 1
	}
}
