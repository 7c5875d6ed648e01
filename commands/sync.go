package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ashare_backend/config"
	"ashare_backend/services/syncer"
)

var (
	syncMode    string
	syncStart   string
	syncEnd     string
	syncRefresh bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync in the foreground",
	Long: `Run one sync in the foreground and exit.

Examples:
  # Incremental update of every stored instrument
  ashare-backend sync --mode daily

  # Backfill the listed universe from 2024-01-01, refreshing stock_basic first
  ashare-backend sync --mode full --start 2024-01-01 --refresh-instruments`,
	RunE: runSync,
}

var instrumentsCmd = &cobra.Command{
	Use:   "instruments",
	Short: "Manage the instrument set",
}

var instrumentsRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Replace stock_basic with the provider's listed A-shares",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(syncer.RunRequest{Mode: syncer.ModeInstrumentRefresh})
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncMode, "mode", "daily", "sync mode: daily or full")
	syncCmd.Flags().StringVar(&syncStart, "start", "", "floor date for instruments without stored bars (YYYY-MM-DD)")
	syncCmd.Flags().StringVar(&syncEnd, "end", "", "last date to fetch (YYYY-MM-DD), defaults to today")
	syncCmd.Flags().BoolVar(&syncRefresh, "refresh-instruments", false, "replace stock_basic before a full import")

	instrumentsCmd.AddCommand(instrumentsRefreshCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(instrumentsCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	req, err := buildRunRequest(syncMode, syncStart, syncEnd, syncRefresh)
	if err != nil {
		return err
	}
	return runOnce(req)
}

// buildRunRequest validates the sync flags.
func buildRunRequest(mode, start, end string, refresh bool) (syncer.RunRequest, error) {
	m, ok := syncer.ParseMode(mode)
	if !ok || m == syncer.ModeInstrumentRefresh {
		return syncer.RunRequest{}, fmt.Errorf("invalid mode %q: use daily or full", mode)
	}
	req := syncer.RunRequest{Mode: m, RefreshInstruments: refresh}

	if start != "" {
		t, err := time.Parse(config.DateLayout, start)
		if err != nil {
			return req, fmt.Errorf("invalid --start %q: expected YYYY-MM-DD", start)
		}
		req.StartDate = t
	}
	if end != "" {
		t, err := time.Parse(config.DateLayout, end)
		if err != nil {
			return req, fmt.Errorf("invalid --end %q: expected YYYY-MM-DD", end)
		}
		req.EndDate = t
	}
	if !req.StartDate.IsZero() && !req.EndDate.IsZero() && req.EndDate.Before(req.StartDate) {
		return req, fmt.Errorf("--end %s is before --start %s", end, start)
	}
	if refresh && m != syncer.ModeFullImport {
		return req, fmt.Errorf("--refresh-instruments requires --mode full")
	}
	return req, nil
}

// runOnce executes req on this goroutine. Ctrl-C cancels the run.
func runOnce(req syncer.RunRequest) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	runErr := a.orch.Run(ctx, req)
	snap := a.orch.Status()
	logger.Info().
		Str("mode", string(snap.Mode)).
		Str("progress", snap.Progress).
		Int64("total", snap.Counts.Total).
		Int64("synced", snap.Counts.Synced).
		Int64("skipped", snap.Counts.Skipped).
		Int64("failed", snap.Counts.Failed).
		Int64("rows", snap.Counts.Rows).
		Msg("Sync finished")
	return runErr
}
