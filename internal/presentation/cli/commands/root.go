// Package commands implements the CLI commands for datasync.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/datasync/internal/application"
	"github.com/jbctechsolutions/datasync/internal/infrastructure/config"
	"github.com/jbctechsolutions/datasync/internal/presentation/cli/output"
)

// Version information - set at build time via ldflags.
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// GlobalFlags holds the global CLI flags.
type GlobalFlags struct {
	ConfigFile string
	Output     string
	Verbose    bool
}

// AppContext holds the application runtime context.
type AppContext struct {
	Config     *config.Config
	ConfigPath string
	Formatter  *output.Formatter
	Flags      *GlobalFlags
	Container  *application.Container
}

var (
	globalFlags GlobalFlags
	appCtx      *AppContext
	appCtxMu    sync.RWMutex // Protects appCtx for thread-safe access
)

// NewRootCmd creates the root command for the datasync CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "datasync",
		Short: "Datasync - offline-first table synchronization",
		Long: `Datasync keeps a local SQLite copy of remote tables in sync with a
table service.

Local changes are recorded in an operations queue and pushed to the
service; remote changes are pulled incrementally using per-query delta
tokens. Conflicts are settled by a configurable resolver.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := output.ParseFormat(globalFlags.Output); err != nil {
				return fmt.Errorf("--output: %w", err)
			}
			// Skip initialization for help, version, init, and completion commands
			if cmd.Name() == "help" || cmd.Name() == "version" || cmd.Name() == "completion" || cmd.Name() == "init" {
				return nil
			}
			return initializeApp()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			Shutdown()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&globalFlags.ConfigFile, "config", "c", "", "config file path (default: ~/.datasync/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&globalFlags.Output, "output", "o", "text", "output format: text, table, json")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(NewVersionCmd())
	rootCmd.AddCommand(NewInitCmd())
	rootCmd.AddCommand(NewPushCmd())
	rootCmd.AddCommand(NewPullCmd())
	rootCmd.AddCommand(NewSyncCmd())
	rootCmd.AddCommand(NewWatchCmd())
	rootCmd.AddCommand(NewQueueCmd())
	rootCmd.AddCommand(NewEntitiesCmd())
	rootCmd.AddCommand(NewTokensCmd())

	return rootCmd
}

// newFormatter builds a formatter for the --output flag.
func newFormatter() *output.Formatter {
	format, err := output.ParseFormat(globalFlags.Output)
	if err != nil {
		format = output.FormatText
	}
	return output.NewFormatter(
		output.WithFormat(format),
		output.WithColor(format != output.FormatJSON && output.IsColorSupported()),
	)
}

// initializeApp loads the configuration and builds the container.
func initializeApp() error {
	formatter := newFormatter()

	cfg, path, err := loadConfig(globalFlags.ConfigFile)
	if err != nil {
		return err
	}

	container, err := application.NewContainer(cfg, globalFlags.Verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	appCtxMu.Lock()
	appCtx = &AppContext{
		Config:     cfg,
		ConfigPath: path,
		Formatter:  formatter,
		Flags:      &globalFlags,
		Container:  container,
	}
	appCtxMu.Unlock()

	return nil
}

// loadConfig loads configuration from the specified file or default location
// and returns the path it was read from.
func loadConfig(configPath string) (*config.Config, string, error) {
	loader, err := config.NewLoader("")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create config loader: %w", err)
	}

	if configPath == "" {
		configPath = loader.DefaultConfigPath()
	}
	cfg, err := loader.Load(configPath)
	if err != nil {
		return nil, "", err
	}
	return cfg, configPath, nil
}

// GetAppContext returns the current application context.
// Returns nil if the app hasn't been initialized.
func GetAppContext() *AppContext {
	appCtxMu.RLock()
	defer appCtxMu.RUnlock()
	return appCtx
}

// GetFormatter returns the output formatter.
// Creates a default formatter if app context is not initialized.
func GetFormatter() *output.Formatter {
	appCtxMu.RLock()
	ctx := appCtx
	appCtxMu.RUnlock()

	if ctx != nil {
		return ctx.Formatter
	}
	return newFormatter()
}

// GetContainer returns the application container.
// Returns nil if the app hasn't been initialized.
func GetContainer() *application.Container {
	appCtxMu.RLock()
	ctx := appCtx
	appCtxMu.RUnlock()

	if ctx != nil {
		return ctx.Container
	}
	return nil
}

// requireContainer returns the container or an error when the command ran
// without initialization.
func requireContainer() (*application.Container, error) {
	c := GetContainer()
	if c == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return c, nil
}

// setContainer swaps the container after a configuration reload and
// returns the previous one.
func setContainer(cfg *config.Config, c *application.Container) *application.Container {
	appCtxMu.Lock()
	defer appCtxMu.Unlock()
	if appCtx == nil {
		return nil
	}
	old := appCtx.Container
	appCtx.Config = cfg
	appCtx.Container = c
	return old
}

// Shutdown closes the container and clears the application context.
func Shutdown() {
	appCtxMu.Lock()
	defer appCtxMu.Unlock()

	if appCtx != nil && appCtx.Container != nil {
		_ = appCtx.Container.Close()
	}
	appCtx = nil
}

// Execute runs the root command. The first SIGINT or SIGTERM cancels the
// command's context so in-flight requests finish and results are reported;
// a second signal exits immediately.
func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- NewRootCmd().ExecuteContext(ctx)
	}()

	interrupted := false
	for {
		select {
		case err := <-errChan:
			if err != nil {
				GetFormatter().Error("%s", err.Error())
				Shutdown()
				os.Exit(1)
			}
			if interrupted {
				os.Exit(130) // Standard exit code for SIGINT
			}
			return

		case sig := <-sigChan:
			if interrupted {
				Shutdown()
				os.Exit(130)
			}
			interrupted = true
			GetFormatter().Warning("Received signal %v, finishing in-flight requests...", sig)
			cancel()
		}
	}
}
