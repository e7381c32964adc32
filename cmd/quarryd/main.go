// quarryd hosts the worker pool as a long-running service: it loads
// configuration, supervises the pool, journals completed calls, and serves
// the status API. With --watch it additionally renders the terminal monitor.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/quarrylabs/quarry/internal/api"
	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/events"
	"github.com/quarrylabs/quarry/internal/joblog"
	"github.com/quarrylabs/quarry/internal/log"
	"github.com/quarrylabs/quarry/internal/tui"
	"github.com/quarrylabs/quarry/internal/workers"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	watch := flag.Bool("watch", false, "render the terminal monitor")
	flag.Parse()

	if err := run(*configPath, *watch); err != nil {
		fmt.Fprintln(os.Stderr, "quarryd:", err)
		os.Exit(1)
	}
}

func run(configPath string, watch bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("quarryd")
	logger.Info("starting", "network", cfg.Service.Network, "workers", cfg.Workers.Size)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := events.NewHub(256)

	var journal *joblog.Store
	if cfg.JobLog.Path != "" {
		journal, err = joblog.Open(ctx, cfg.JobLog.Path)
		if err != nil {
			return err
		}
		defer journal.Close()

		if pruned, err := journal.Prune(ctx, cfg.JobLog.Retention); err != nil {
			logger.Warn("joblog prune failed", "error", err)
		} else if pruned > 0 {
			logger.Info("joblog pruned", "records", pruned)
		}
	}

	pool, err := workers.New(cfg.Workers, cfg.Service.Network, workers.Options{
		Notifier: workers.HubNotifier{Hub: hub},
		JobLog:   journal,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.API.Enabled {
		server := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
		}, pool, hub, journal)
		go func() {
			if err := server.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("status API failed", "error", err)
				stop()
			}
		}()
	}

	if watch {
		if err := tui.Run(pool, hub); err != nil {
			return fmt.Errorf("monitor: %w", err)
		}
		return nil
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
