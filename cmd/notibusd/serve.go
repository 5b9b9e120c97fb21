package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/notibus/internal/config"
	"github.com/jmylchreest/notibus/internal/daemon"
	"github.com/jmylchreest/notibus/internal/dbus"
)

// runServe runs the notification service until SIGINT or SIGTERM.
// It returns nil without serving when another server is detected.
func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting notibusd", "version", version, "bus", dbus.BusKind(cfg.Bus.System))

	conn, err := dbus.Connect(cfg.Bus.System)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Debug("error closing bus connection", "error", err)
		}
	}()
	logger.Debug("connected to bus", "unique_name", conn.UniqueName())

	svc := daemon.NewService(conn, cfg, logger)
	svc.SetBuildVersion(version)

	state, err := svc.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	if state == daemon.StateYielded {
		return nil
	}

	watcher, err := watchConfig(ctx, cmd.Flags(), svc)
	if err != nil {
		logger.Warn("config hot reload disabled", "path", configPath(), "error", err)
	} else {
		defer watcher.Stop()
	}

	if err := svc.Run(ctx); err != nil {
		return fmt.Errorf("service stopped: %w", err)
	}
	logger.Info("notibusd stopped")
	return nil
}

// reloader receives configurations from the config watcher.
type reloader interface {
	Reload(cfg *config.DaemonConfig)
	ReloadFailed(err error)
}

// watchConfig watches the config file and hands every changed, valid
// version to r with command line overrides applied. The watcher tracks the
// file as loaded, so rewriting identical content is not a change.
func watchConfig(ctx context.Context, flagSet *pflag.FlagSet, r reloader) (*config.Watcher, error) {
	watcher, err := config.NewWatcher(configPath(), logger)
	if err != nil {
		return nil, err
	}
	watcher.SetReloadCallback(func(next *config.DaemonConfig) {
		r.Reload(withOverrides(next, flagSet))
	})
	watcher.SetErrorCallback(r.ReloadFailed)
	if err := watcher.Start(ctx, fileCfg); err != nil {
		watcher.Stop()
		return nil, err
	}
	return watcher, nil
}
