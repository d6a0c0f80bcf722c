package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/vietddude/streamledger/internal/control"
)

var rewindTo uint64

var rewindCmd = &cobra.Command{
	Use:   "rewind",
	Short: "Roll the ledger back so that --to is the highest applied block",
	Long: `Rewind compensates every checkpointed block above the given height, newest
first, exactly as a chainhook rollback would. Chainhook must redeliver the
blocks afterwards.`,
	Run: runRewind,
}

func init() {
	rewindCmd.Flags().Uint64Var(&rewindTo, "to", 0, "height to keep as the new tip")
	_ = rewindCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(rewindCmd)
}

func runRewind(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Database.URL == "" {
		slog.Error("database.url is required")
		os.Exit(1)
	}

	ctx := context.Background()
	app, err := control.NewApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize app", "error", err)
		os.Exit(1)
	}

	n, err := app.Reconciler().Rewind(ctx, rewindTo)
	_ = app.Stop(ctx)
	if err != nil {
		slog.Error("Rewind failed", "to", rewindTo, "rolledBack", n, "error", err)
		os.Exit(1)
	}
	slog.Info("Rewind complete", "to", rewindTo, "rolledBack", n)
}
