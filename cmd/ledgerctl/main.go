// Command ledgerctl runs operator tasks against the ledger database.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yungbote/biograph-backend/internal/app"
	domainagg "github.com/yungbote/biograph-backend/internal/domain/aggregates"
	"github.com/yungbote/biograph-backend/internal/jobs"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operator tools for the biograph assertion ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create tables, install guards and seed the license allow-list",
		RunE:  runMigrate,
	})

	// Record evidence
	recordCmd := &cobra.Command{
		Use:   "record-evidence",
		Short: "Record or refresh one evidence item",
		RunE:  runRecordEvidence,
	}
	recordCmd.Flags().String("source", "", "Source system (e.g. SEC_EDGAR, CT_GOV)")
	recordCmd.Flags().String("record-id", "", "Source record id")
	recordCmd.Flags().String("observed-at", "", "Observation time (YYYY-MM-DD or RFC3339), defaults to now")
	recordCmd.Flags().String("license", "", "License code from the allow-list")
	recordCmd.Flags().String("uri", "", "Canonical URI of the record")
	recordCmd.Flags().String("snippet", "", "Optional short excerpt")
	recordCmd.Flags().String("checksum", "", "Optional content checksum")
	recordCmd.Flags().String("actor", "ledgerctl", "Recorded as created_by")
	for _, f := range []string{"source", "record-id", "license", "uri"} {
		_ = recordCmd.MarkFlagRequired(f)
	}
	rootCmd.AddCommand(recordCmd)

	// Materialize
	materializeCmd := &cobra.Command{
		Use:   "materialize",
		Short: "Rebuild explanation chains for one date",
		RunE:  runMaterialize,
	}
	materializeCmd.Flags().String("as-of", "", "Date to materialize (YYYY-MM-DD), defaults to today")
	materializeCmd.Flags().StringSlice("root", nil, "Root ids to rebuild; all roots when empty")
	rootCmd.AddCommand(materializeCmd)

	// Diff
	diffCmd := &cobra.Command{
		Use:   "diff",
		Short: "Compare materialized chains between two dates",
		RunE:  runDiff,
	}
	diffCmd.Flags().String("since", "", "Earlier date (YYYY-MM-DD)")
	diffCmd.Flags().String("as-of", "", "Later date (YYYY-MM-DD), defaults to today")
	diffCmd.Flags().String("root", "", "Restrict to one root id")
	_ = diffCmd.MarkFlagRequired("since")
	rootCmd.AddCommand(diffCmd)

	// Projection
	projectionCmd := &cobra.Command{
		Use:   "projection",
		Short: "Graph projection maintenance",
	}
	rebuildCmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Copy one date of authoritative chains into the projection",
		RunE:  runProjectionRebuild,
	}
	rebuildCmd.Flags().String("as-of", "", "Date to rebuild (YYYY-MM-DD), defaults to today")
	projectionCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(projectionCmd)

	// Lookup cache
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Lookup cache maintenance",
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired lookup cache entries",
		RunE:  runCacheCleanup,
	})
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show lookup cache statistics per source",
		RunE:  runCacheStats,
	})
	rootCmd.AddCommand(cacheCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// withApp wires the application without starting its server or scheduler.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	cfg.MetricsEnabled = false
	a, err := app.NewWithConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	cfg.AutoMigrate = true
	cfg.MetricsEnabled = false
	a, err := app.NewWithConfig(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	a.Close()
	fmt.Println("migrations applied")
	return nil
}

func runRecordEvidence(cmd *cobra.Command, args []string) error {
	source, _ := cmd.Flags().GetString("source")
	recordID, _ := cmd.Flags().GetString("record-id")
	observedRaw, _ := cmd.Flags().GetString("observed-at")
	license, _ := cmd.Flags().GetString("license")
	uri, _ := cmd.Flags().GetString("uri")
	snippet, _ := cmd.Flags().GetString("snippet")
	checksum, _ := cmd.Flags().GetString("checksum")
	actor, _ := cmd.Flags().GetString("actor")

	observedAt, err := parseDate(observedRaw, time.Now().UTC())
	if err != nil {
		return err
	}
	in := domainagg.RecordEvidenceInput{
		SourceSystem:   source,
		SourceRecordID: recordID,
		ObservedAt:     observedAt,
		License:        license,
		URI:            uri,
		Checksum:       checksum,
		CreatedBy:      actor,
	}
	if strings.TrimSpace(snippet) != "" {
		in.Snippet = &snippet
	}
	return withApp(func(ctx context.Context, a *app.App) error {
		res, err := a.Services.Evidence.RecordEvidence(ctx, in)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"evidence_id":       res.EvidenceID,
			"created":           res.Created,
			"snippet_truncated": res.Truncated,
		})
	})
}

func runMaterialize(cmd *cobra.Command, args []string) error {
	asOfRaw, _ := cmd.Flags().GetString("as-of")
	roots, _ := cmd.Flags().GetStringSlice("root")
	asOf, err := parseDate(asOfRaw, time.Now().UTC())
	if err != nil {
		return err
	}
	return withApp(func(ctx context.Context, a *app.App) error {
		stats, err := a.Services.Materializer.Materialize(ctx, asOf, roots)
		if err != nil {
			return err
		}
		if a.Services.ProjectionSync != nil {
			if err := a.Services.ProjectionSync.SyncNow(ctx, asOf, roots); err != nil {
				a.Log.Warn("projection sync failed; run projection rebuild later", "error", err)
			}
		}
		return printJSON(stats)
	})
}

func runDiff(cmd *cobra.Command, args []string) error {
	sinceRaw, _ := cmd.Flags().GetString("since")
	asOfRaw, _ := cmd.Flags().GetString("as-of")
	root, _ := cmd.Flags().GetString("root")
	since, err := parseDate(sinceRaw, time.Time{})
	if err != nil {
		return err
	}
	asOf, err := parseDate(asOfRaw, time.Now().UTC())
	if err != nil {
		return err
	}
	return withApp(func(ctx context.Context, a *app.App) error {
		diff, err := a.Services.Materializer.Diff(ctx, since, asOf, strings.TrimSpace(root))
		if err != nil {
			return err
		}
		return printJSON(diff)
	})
}

func runProjectionRebuild(cmd *cobra.Command, args []string) error {
	asOfRaw, _ := cmd.Flags().GetString("as-of")
	asOf, err := parseDate(asOfRaw, time.Now().UTC())
	if err != nil {
		return err
	}
	return withApp(func(ctx context.Context, a *app.App) error {
		if a.Services.ProjectionSync == nil {
			return fmt.Errorf("no graph projection configured (GRAPH_BACKEND=%s)", a.Cfg.GraphBackend)
		}
		n, err := a.Services.ProjectionSync.Rebuild(ctx, asOf)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"as_of_date": asOf.Format("2006-01-02"), "roots": n})
	})
}

func runCacheCleanup(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		if a.Services.Scheduler != nil {
			return a.Services.Scheduler.RunNow(jobs.JobCacheCleanup)
		}
		n, err := a.Services.Cache.CleanupExpired(ctx)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"deleted": n})
	})
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		stats, err := a.Services.Cache.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"backend": a.Services.Cache.Backend(), "sources": stats})
	})
}

func parseDate(raw string, def time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC3339", raw)
	}
	return t.UTC(), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
