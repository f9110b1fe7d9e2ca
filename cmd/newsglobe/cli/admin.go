// Package cli implements the "newsglobe admin" subcommand tree:
// operator tooling for inspecting supervisor state and forcing
// clustering maintenance against the local stores.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/mihasm/news-globe/internal/clustering"
	"github.com/mihasm/news-globe/internal/store"
	"github.com/mihasm/news-globe/internal/supervisor"
)

// NewAdminCommand returns the "admin" command with all subcommands wired in.
func NewAdminCommand(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Inspect and maintain a newsglobe deployment",
	}

	cmd.PersistentFlags().String("db", "newsglobe.db", "item/cluster store path")
	cmd.PersistentFlags().String("state", "supervisor.json", "supervisor state file path")
	cmd.PersistentFlags().String("intake-addr", "http://localhost:8001", "intake queue base URL")

	cmd.AddCommand(
		newStateCmd(),
		newHealthCmd(),
		newStatsCmd(),
		newClusterPassCmd(logger),
		newRecalcCmd(),
		newCleanupCmd(logger),
	)
	return cmd
}

func openDB(cmd *cobra.Command) (*store.DB, error) {
	path, _ := cmd.Flags().GetString("db")
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", path, err)
	}
	return db, nil
}

// newStateCmd prints the persisted supervisor state.
func newStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print supervisor schedules and connector cursors",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("state")
			st, err := supervisor.NewStateStore(path).Load()
			if err != nil {
				return err
			}
			if st == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no supervisor state at", path)
				return nil
			}
			out, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

// newHealthCmd queries the running intake queue's health endpoint.
func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Query the intake queue health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("intake-addr")
			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Get(addr + "/get/health")
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(body))
			return nil
		},
	}
}

// newStatsCmd prints item/cluster counts straight from the store.
func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print item and cluster counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			items, err := db.Items().Count(ctx)
			if err != nil {
				return err
			}
			clustered, err := db.Items().ClusteredCount(ctx)
			if err != nil {
				return err
			}
			clusters, err := db.Clusters(nil).Count(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "items: %d\nclustered items: %d\nclusters: %d\n", items, clustered, clusters)
			return nil
		},
	}
}

// newClusterPassCmd forces one clustering pass over unassigned items.
func newClusterPassCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "cluster-pass",
		Short: "Force one clustering pass over unassigned items",
		Long:  "Run against a stopped service only: the clustering engine assumes a single writer to the cluster store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			engine := clustering.NewEngine(db.Clusters(nil), db.Items(), nil, logger)
			stats, err := engine.RunPass(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned: %d\nassigned: %d\ncreated: %d\nstale: %d\n",
				stats.Scanned, stats.Assigned, stats.Created, stats.Stale)
			return nil
		},
	}
}

// newRecalcCmd recomputes every cluster's aggregates from its members.
func newRecalcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recalc",
		Short: "Recompute every cluster's aggregates from its members",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			clusters := db.Clusters(nil)
			all, err := clusters.RecentSince(ctx, time.Unix(0, 0), 1<<30)
			if err != nil {
				return err
			}
			for _, c := range all {
				if err := clusters.RecalculateStats(ctx, c.ID, db.Items()); err != nil {
					return fmt.Errorf("recalculate %s: %w", c.ID, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recalculated %d clusters\n", len(all))
			return nil
		},
	}
}

// newCleanupCmd prunes clusters inactive past the horizon.
func newCleanupCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete clusters inactive past the horizon, detaching members",
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")
			if days <= 0 {
				return fmt.Errorf("days must be positive, got %d", days)
			}

			db, err := openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			engine := clustering.NewEngine(db.Clusters(nil), db.Items(), nil, logger)
			removed, err := engine.Cleanup(cmd.Context(), time.Duration(days)*24*time.Hour)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d clusters\n", removed)
			return nil
		},
	}
	cmd.Flags().Int("days", 7, "inactivity horizon in days")
	return cmd
}
