package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/llmrouter/internal/core/domain"
	redisclient "github.com/vietddude/llmrouter/internal/infra/redis"
	"github.com/vietddude/llmrouter/internal/routing/health"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show backend health published by every running replica",
	Run:   runHealth,
}

var healthInstance string

func init() {
	healthCmd.Flags().StringVar(&healthInstance, "instance", "", "only show this replica")
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Redis.URL == "" {
		slog.Error("redis.url is not configured; no snapshots to read")
		os.Exit(1)
	}

	client, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = client.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var snaps []redisclient.HealthSnapshot
	if healthInstance != "" {
		snap, err := client.GetSnapshot(ctx, healthInstance)
		if err != nil {
			slog.Error("Failed to read health snapshot", "instance", healthInstance, "error", err)
			os.Exit(1)
		}
		if snap == nil {
			slog.Error("No live snapshot for instance", "instance", healthInstance)
			os.Exit(1)
		}
		snaps = append(snaps, *snap)
	} else {
		snaps, err = client.ListSnapshots(ctx)
		if err != nil {
			slog.Error("Failed to list health snapshots", "error", err)
			os.Exit(1)
		}
	}

	// States are re-derived with this config's threshold and cool-down.
	tracker := health.NewTracker(cfg.Routing.Health)
	now := time.Now()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "INSTANCE\tBACKEND\tSTATE\tFAILURES\tLAST FAILURE\tPUBLISHED")

	for _, snap := range snaps {
		keys := make([]domain.BackendKey, 0, len(snap.Backends))
		for k := range snap.Backends {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

		for _, k := range keys {
			rec := snap.Backends[k]
			lastFailure := "-"
			if rec.LastFailureAt != nil {
				lastFailure = rec.LastFailureAt.Format(time.RFC3339)
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				snap.Instance,
				k,
				tracker.StateOf(rec, now),
				rec.FailureCount,
				lastFailure,
				snap.PublishedAt.Format(time.RFC3339),
			)
		}
	}
	_ = w.Flush()
}
