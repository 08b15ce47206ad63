package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/llmrouter/internal/infra/storage"
	"github.com/vietddude/llmrouter/internal/infra/storage/postgres"
)

var (
	decisionsTier  string
	decisionsLimit int
	decisionsSince time.Duration
)

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Show recent routing decisions from the database",
	Run:   runDecisions,
}

func init() {
	decisionsCmd.Flags().StringVar(&decisionsTier, "tier", "", "only show this tier")
	decisionsCmd.Flags().IntVar(&decisionsLimit, "limit", 20, "maximum rows")
	decisionsCmd.Flags().DurationVar(&decisionsSince, "since", 0, "only show decisions newer than this (e.g. 1h)")
	rootCmd.AddCommand(decisionsCmd)
}

func runDecisions(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Database.URL == "" {
		slog.Error("database.url is not configured; decisions are only kept in memory")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	repo := postgres.NewDecisionRepo(db)
	defer func() {
		_ = repo.Close()
	}()

	filter := storage.DecisionFilter{Tier: decisionsTier, Limit: decisionsLimit}
	if decisionsSince > 0 {
		filter.Since = time.Now().Add(-decisionsSince)
	}

	decisions, err := repo.List(ctx, filter)
	if err != nil {
		slog.Error("Failed to list decisions", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "TIME\tTIER\tTYPE\tCOMPLEXITY\tBACKEND\tATTEMPTS\tCOST\tOK")

	for _, d := range decisions {
		backend := "-"
		if d.Provider != "" {
			backend = d.Provider + "/" + d.ModelID
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%.6f\t%t\n",
			d.CreatedAt.Format(time.RFC3339),
			d.Tier,
			d.QueryType,
			d.Complexity,
			backend,
			d.Attempts,
			d.EstimatedCost,
			d.Success,
		)
	}
	_ = w.Flush()
}
