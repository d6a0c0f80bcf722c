package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/streamledger/internal/control"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the checkpoint and ledger counters of the configured chain",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	store, _, err := control.OpenStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()

	cp, err := store.Checkpoints().Latest(ctx)
	if err != nil {
		slog.Error("Failed to read checkpoint", "error", err)
		os.Exit(1)
	}
	streams, err := store.Streams().Count(ctx)
	if err != nil {
		slog.Error("Failed to count streams", "error", err)
		os.Exit(1)
	}
	failures, err := store.Failures().GetPending(ctx)
	if err != nil {
		slog.Error("Failed to read failures", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "CHAIN\tHEIGHT\tHASH\tPROCESSED\tSTREAMS\tFAILURES")
	height, hash, processed := "-", "-", "-"
	if cp != nil {
		height = fmt.Sprint(cp.Height)
		hash = cp.BlockHash
		processed = cp.ProcessedAt.Format(time.RFC3339)
	}
	_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n", store.ChainID(), height, hash, processed, streams, len(failures))
	_ = w.Flush()

	if len(failures) == 0 {
		return
	}

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "HEIGHT\tHASH\tKIND\tATTEMPTS\tLAST ATTEMPT\tERROR")
	for _, f := range failures {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n", f.Height, f.BlockHash, f.Kind, f.Attempts, f.LastAttempt.Format(time.RFC3339), f.Error)
	}
	_ = w.Flush()
}
