package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/datasync/internal/application"
	"github.com/jbctechsolutions/datasync/internal/infrastructure/config"
	"github.com/jbctechsolutions/datasync/internal/infrastructure/logging"
)

// NewWatchCmd creates the watch command.
func NewWatchCmd() *cobra.Command {
	var (
		interval time.Duration
		once     bool
		noReload bool
	)

	cmd := &cobra.Command{
		Use:   "watch [entity...]",
		Short: "Synchronize periodically until interrupted",
		Long: `Run a push-then-pull cycle immediately and then every interval until
interrupted. Edits to the configuration file are picked up without a
restart: the store, remote client and engine are rebuilt and the next
cycle uses them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx := GetAppContext()
			if appCtx == nil {
				return fmt.Errorf("application not initialized")
			}
			if !cmd.Flags().Changed("interval") {
				interval = appCtx.Config.Sync.Interval
			}
			if interval <= 0 {
				return fmt.Errorf("interval must be positive, got %s", interval)
			}

			var reloads <-chan config.WatchEvent
			if !noReload && !once {
				w, err := startConfigWatcher(appCtx.ConfigPath)
				if err != nil {
					formatter := GetFormatter()
					formatter.Warning("Configuration reload disabled: %v", err)
					if err := formatter.Err(); err != nil {
						return err
					}
				} else {
					defer w.Close()
					reloads = w.Events()
				}
			}

			return runWatch(cmd.Context(), args, watchSchedule{
				interval: interval,
				once:     once,
				follow:   !cmd.Flags().Changed("interval"),
			}, reloads)
		},
	}

	cmd.Flags().DurationVarP(&interval, "interval", "i", config.DefaultSyncInterval, "time between cycles (default from config)")
	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")
	cmd.Flags().BoolVar(&noReload, "no-reload", false, "do not reload the configuration file on change")

	return cmd
}

type watchSchedule struct {
	interval time.Duration
	once     bool
	follow   bool // take the interval from reloaded configuration
}

func startConfigWatcher(path string) (*config.Watcher, error) {
	w, err := config.NewWatcher(path, config.DefaultWatcherConfig())
	if err != nil {
		return nil, err
	}
	if err := w.Start(); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// runWatch runs sync cycles until ctx is done. A failing cycle is reported
// and the loop continues; a failing write to the output ends it.
func runWatch(ctx context.Context, entityTypes []string, schedule watchSchedule, reloads <-chan config.WatchEvent) error {
	ticker := time.NewTicker(schedule.interval)
	defer ticker.Stop()

	formatter := GetFormatter()
	for {
		c, err := requireContainer()
		if err != nil {
			return err
		}

		logger := c.Logger().With("component", "watch")
		cycleCtx := logging.WithCorrelationID(ctx, uuid.NewString())
		start := time.Now()
		reports, err := runSync(cycleCtx, c, entityTypes)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			logger.ErrorContext(cycleCtx, "sync cycle failed", "error", err)
			formatter.Error("Sync cycle failed: %v", err)
		default:
			logger.InfoContext(cycleCtx, "sync cycle completed", "duration", time.Since(start))
			if err := printReports(formatter, reports...); err != nil {
				return err
			}
		}
		if werr := formatter.Err(); werr != nil {
			return werr
		}

		if schedule.once {
			if err != nil {
				return err
			}
			return reportsError(reports...)
		}

	wait:
		for {
			if err := formatter.Err(); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				break wait
			case ev, ok := <-reloads:
				if !ok {
					reloads = nil
					continue
				}
				if ev.Type == config.WatchEventRemove {
					formatter.Warning("Configuration file %s was removed; keeping current settings", ev.Path)
					continue
				}
				cfg, err := reloadContainer(ev.Path)
				if err != nil {
					formatter.Warning("Configuration reload failed: %v", err)
					continue
				}
				formatter.Info("Configuration reloaded from %s", ev.Path)
				if schedule.follow && cfg.Sync.Interval > 0 && cfg.Sync.Interval != schedule.interval {
					schedule.interval = cfg.Sync.Interval
					ticker.Reset(schedule.interval)
				}
			}
		}
	}
}

// reloadContainer builds a container from the config file and swaps it in.
// The current container stays in place when the new configuration is
// invalid.
func reloadContainer(path string) (*config.Config, error) {
	loader, err := config.NewLoader("")
	if err != nil {
		return nil, err
	}
	cfg, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	verbose := false
	if appCtx := GetAppContext(); appCtx != nil && appCtx.Flags != nil {
		verbose = appCtx.Flags.Verbose
	}
	c, err := application.NewContainer(cfg, verbose)
	if err != nil {
		return nil, err
	}
	if old := setContainer(cfg, c); old != nil {
		_ = old.Close()
	}
	return cfg, nil
}
