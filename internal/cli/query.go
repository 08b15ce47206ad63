package cli

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vietddude/llmrouter/internal/control"
	"github.com/vietddude/llmrouter/internal/core/domain"
	"github.com/vietddude/llmrouter/internal/routing/failover"
)

var (
	declaredType string
	tierOverride string
	maxAttempts  int
)

var classifyCmd = &cobra.Command{
	Use:   "classify [query]",
	Short: "Classify a query and show the tier it would use",
	Args:  cobra.MinimumNArgs(1),
	Run:   runClassify,
}

var routeCmd = &cobra.Command{
	Use:   "route [query]",
	Short: "Route a query through the configured backends",
	Args:  cobra.MinimumNArgs(1),
	Run:   runRoute,
}

func init() {
	for _, c := range []*cobra.Command{classifyCmd, routeCmd} {
		c.Flags().StringVar(&declaredType, "type", "", "declared query type")
		c.Flags().StringVar(&tierOverride, "tier", "", "force a tier")
		rootCmd.AddCommand(c)
	}
	routeCmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "attempt limit (0 uses routing.max_attempts)")
}

func override() *string {
	if tierOverride == "" {
		return nil
	}
	return &tierOverride
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func runClassify(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	eng, err := control.NewEngine(cfg, slog.Default())
	if err != nil {
		slog.Error("Failed to initialize router", "error", err)
		os.Exit(1)
	}

	c := eng.Classify(strings.Join(args, " "), declaredType)
	printJSON(map[string]any{
		"classification": c,
		"tier":           eng.SelectTier(c, override()),
	})
}

func runRoute(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	app, err := control.NewApp(cmd.Context(), cfg)
	if err != nil {
		slog.Error("Failed to initialize router", "error", err)
		os.Exit(1)
	}
	defer func() { _ = app.Stop(context.Background()) }()

	q := domain.Query{Text: strings.Join(args, " "), DeclaredType: declaredType}
	res, err := app.Engine().Route(cmd.Context(), q, override(), maxAttempts)
	if res != nil {
		printJSON(res)
	}
	if err != nil {
		if errors.Is(err, failover.ErrChainExhausted) {
			slog.Error("All backends failed", "error", err)
		} else {
			slog.Error("Route failed", "error", err)
		}
		_ = app.Stop(context.Background())
		os.Exit(1)
	}
}
