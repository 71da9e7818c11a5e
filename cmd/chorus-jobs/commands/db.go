package commands

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chorus/jobs/db"
	"github.com/chorus/jobs/errors"
	"github.com/chorus/jobs/pulse/async"
	"github.com/chorus/jobs/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the scheduler database",
	Long: sym.DB + ` db — Manage the scheduler database

Examples:
  chorus-jobs db migrate          # Apply pending migrations
  chorus-jobs db stats            # Show plan and queue counts`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show plan, task, result and queue counts",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	versions, err := db.MigrationVersions()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s is at migration %s (%d total)\n",
		sym.DB, cfg.GetDatabasePath(), versions[len(versions)-1], len(versions))
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "%s Database Statistics\n", sym.DB)
	fmt.Fprintf(cmd.OutOrStdout(), "Database Path: %s\n\n", cfg.GetDatabasePath())
	return writeDbStats(cmd.Context(), cmd.OutOrStdout(), database)
}

// writeDbStats prints row counts for the scheduler tables and the queue
// broken down by status.
func writeDbStats(ctx context.Context, out io.Writer, database *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	counts := []struct {
		label string
		query string
	}{
		{"Job plans", "SELECT COUNT(*) FROM job_plans"},
		{"  enabled", "SELECT COUNT(*) FROM job_plans WHERE enabled = 1"},
		{"  on demand", "SELECT COUNT(*) FROM job_plans WHERE interval_unit = 'on_demand'"},
		{"Tasks", "SELECT COUNT(*) FROM job_tasks"},
		{"Run results", "SELECT COUNT(*) FROM job_results"},
		{"Data sources", "SELECT COUNT(*) FROM data_sources"},
	}
	for _, c := range counts {
		var n int
		if err := database.QueryRowContext(ctx, c.query).Scan(&n); err != nil {
			return errors.Wrapf(err, "failed to count %s", strings.TrimSpace(c.label))
		}
		fmt.Fprintf(out, "%-14s %d\n", c.label+":", n)
	}

	stats, err := async.NewQueue(database).GetStats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nQueue: %d queued, %d running, %d completed, %d failed (%d total)\n",
		stats.Queued, stats.Running, stats.Completed, stats.Failed, stats.Total)
	return nil
}
