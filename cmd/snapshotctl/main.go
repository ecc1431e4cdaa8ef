package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zacharyr0th/aptos-stables/internal/config"
	"github.com/zacharyr0th/aptos-stables/internal/models"
	"github.com/zacharyr0th/aptos-stables/internal/services"
)

const commandTimeout = 30 * time.Second

var errNoStore = errors.New("MONGODB_URI is required")

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "snapshotctl",
		Short:        "Manage persisted supply snapshots",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("env-file", ".env", "optional env file to load before reading the environment")

	root.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the snapshot collection indexes",
		RunE:  withStore(runInit),
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print every stored snapshot",
		RunE:  withStore(runList),
	})

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete snapshots older than a cutoff",
		RunE:  withStore(runPurge),
	}
	purgeCmd.Flags().Duration("older-than", 7*24*time.Hour, "delete snapshots fetched before now minus this duration")
	root.AddCommand(purgeCmd)

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Run the snapshot store health checks",
		RunE:  withStore(runHealth),
	})

	return root
}

type storeCommand func(ctx context.Context, cmd *cobra.Command, cfg *config.Config, store *services.MongoSnapshotStore) error

// withStore loads configuration and connects the MongoDB store around fn
func withStore(fn storeCommand) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		cfg, err := config.Load(envFile)
		if err != nil {
			return err
		}
		if cfg.Snapshot.URI == "" {
			return errNoStore
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
		defer cancel()

		store, err := services.NewMongoSnapshotStore(ctx, &cfg.Snapshot)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			_ = store.Close(closeCtx)
		}()

		return fn(ctx, cmd, cfg, store)
	}
}

func runInit(ctx context.Context, cmd *cobra.Command, cfg *config.Config, store *services.MongoSnapshotStore) error {
	names, err := store.EnsureIndexes(ctx)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Collection %s.%s ready\n", cfg.Snapshot.Database, store.CollectionName())
	for _, name := range names {
		fmt.Fprintf(out, "  index %s\n", name)
	}
	return nil
}

func runList(ctx context.Context, cmd *cobra.Command, cfg *config.Config, store *services.MongoSnapshotStore) error {
	snapshots, err := store.LoadAll(ctx)
	if err != nil {
		return err
	}
	return writeSnapshots(cmd.OutOrStdout(), snapshots, cfg.Assets, time.Now())
}

func runPurge(ctx context.Context, cmd *cobra.Command, _ *config.Config, store *services.MongoSnapshotStore) error {
	olderThan, _ := cmd.Flags().GetDuration("older-than")

	cutoff, err := purgeCutoff(time.Now(), olderThan)
	if err != nil {
		return err
	}

	deleted, err := store.Purge(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge snapshots: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d snapshots fetched before %s\n", deleted, cutoff.Format(time.RFC3339))
	return nil
}

func runHealth(_ context.Context, cmd *cobra.Command, cfg *config.Config, store *services.MongoSnapshotStore) error {
	checks := services.NewDatabaseHealthChecker(store, config.AssetKeys(cfg.Assets)).GetDetailedHealth()
	return reportHealth(cmd.OutOrStdout(), checks)
}

// purgeCutoff rejects durations that would delete everything or nothing
func purgeCutoff(now time.Time, olderThan time.Duration) (time.Time, error) {
	if olderThan <= 0 {
		return time.Time{}, fmt.Errorf("--older-than must be positive, got %s", olderThan)
	}
	return now.Add(-olderThan), nil
}

// writeSnapshots prints one row per snapshot and flags configured assets with none
func writeSnapshots(w io.Writer, snapshots []models.Snapshot, assets []config.Asset, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tSUPPLY\tAGE\tKEY")

	stored := make(map[string]bool, len(snapshots))
	for _, snapshot := range snapshots {
		stored[snapshot.Key] = true
		age := now.Sub(snapshot.FetchedAt).Truncate(time.Second)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", snapshot.Symbol, snapshot.Supply, age, snapshot.Key)
	}

	for _, asset := range assets {
		if !stored[asset.Key] {
			fmt.Fprintf(tw, "%s\t-\tnever\t%s\n", asset.Symbol, asset.Key)
		}
	}

	return tw.Flush()
}

// reportHealth prints each check and fails when any is unhealthy
func reportHealth(w io.Writer, checks map[string]*services.HealthCheck) error {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var failed []string
	for _, name := range names {
		check := checks[name]
		mark := "ok"
		if check.Status != services.HealthStatusHealthy {
			mark = string(check.Status)
		}
		fmt.Fprintf(w, "%-12s %-10s %v\n", name, mark, check.ResponseTime)
		if check.Message != "" {
			fmt.Fprintf(w, "    %s\n", check.Message)
		}
		if check.Status == services.HealthStatusUnhealthy {
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("health check failed for %v", failed)
	}
	return nil
}
