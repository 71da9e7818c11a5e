package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chorus/jobs/am"
	"github.com/chorus/jobs/errors"
	"github.com/chorus/jobs/logger"
	"github.com/chorus/jobs/sym"
)

// ServeCmd runs the scheduler daemon and its HTTP API
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: sym.Pulse + " Run the scheduler, workers, and HTTP API",
	Long: sym.Pulse + ` serve — run the job scheduler in the foreground.

The daemon:
- Serves the job plan and data source API
- Ticks every scheduler.ticker_interval_seconds and dispatches due plans
- Runs queued jobs on worker.workers goroutines
- Reloads the ticker interval when the config file changes
- Shuts down gracefully on Ctrl+C, re-queuing interrupted jobs

Examples:
  chorus-jobs serve                 # Use the configured port
  chorus-jobs serve --port 9000     # Override the port
  chorus-jobs serve --workers 8     # More local workers

With dispatch.backend = "queue" at least one worker is required, since
only a local worker starting a job frees its dispatch key.`,
	RunE: runServe,
}

func init() {
	ServeCmd.Flags().Int("port", 0, "HTTP port (overrides server.port)")
	ServeCmd.Flags().Int("workers", -1, "Worker goroutines (overrides worker.workers)")
	ServeCmd.Flags().Bool("no-banner", false, "Skip the startup banner")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	if workers, _ := cmd.Flags().GetInt("workers"); workers >= 0 {
		cfg.Worker.Workers = workers
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	d, err := newDaemon(cfg, database, logger.Logger)
	if err != nil {
		return err
	}
	if err := d.start(); err != nil {
		_ = d.stop(context.Background())
		return err
	}

	if path := watchedConfigFile(); path != "" {
		watcher, err := am.NewConfigWatcher(path, logger.Logger)
		if err != nil {
			logger.Logger.Warnw("Config hot reload disabled", "path", path, logger.FieldError, err)
		} else {
			watcher.OnReload(d.applyConfig)
			watcher.Start()
			defer watcher.Stop()
		}
	}

	if noBanner, _ := cmd.Flags().GetBool("no-banner"); !noBanner {
		printStartupBanner(cfg)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- d.server.ListenAndServe(fmt.Sprintf(":%d", cfg.GetServerPort()))
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		fmt.Printf("\n%s Shutting down...\n", sym.PulseClose)
	case err := <-serveErr:
		if err != nil {
			_ = d.stop(context.Background())
			return err
		}
	}

	if err := d.stop(context.Background()); err != nil {
		return err
	}
	fmt.Printf("%s Stopped\n", sym.PulseClose)
	return nil
}
