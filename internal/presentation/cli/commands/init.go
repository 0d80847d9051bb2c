package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/datasync/internal/domain/conflict"
	"github.com/jbctechsolutions/datasync/internal/infrastructure/config"
	"github.com/jbctechsolutions/datasync/internal/presentation/cli/output"
)

// InitResult holds the result of the init command for JSON output.
type InitResult struct {
	ConfigFile  string   `json:"config_file"`
	Database    string   `json:"database"`
	BaseURL     string   `json:"base_url"`
	Entities    []string `json:"entities"`
	Initialized bool     `json:"initialized"`
}

// initOptions holds the flags of the init command.
type initOptions struct {
	force    bool
	baseURL  string
	database string
	strategy string
	entities []string
}

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	var opts initOptions

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize datasync configuration",
		Long: `Initialize datasync configuration.

Prompts for the table service URL, the local database path, the tables to
synchronize and the conflict strategy, then writes ~/.datasync/config.yaml.
With --output json no prompts are shown and the flags are used as given.

Examples:
  datasync init
  datasync init -o json --base-url https://example.azurewebsites.net --entities movies,genres`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, os.Stdin)
		},
	}

	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "overwrite existing configuration")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "", "base URL of the table service")
	cmd.Flags().StringVar(&opts.database, "database", config.DefaultDatabasePath, "path of the local sqlite database")
	cmd.Flags().StringVar(&opts.strategy, "strategy", config.DefaultConflictStrategy, "conflict strategy: "+strategyNames())
	cmd.Flags().StringSliceVar(&opts.entities, "entities", nil, "tables to synchronize (comma separated)")

	return cmd
}

// prompter handles interactive user input.
type prompter struct {
	reader    *bufio.Reader
	formatter *output.Formatter
}

// newPrompter creates a new prompter.
func newPrompter(in io.Reader, formatter *output.Formatter) *prompter {
	return &prompter{
		reader:    bufio.NewReader(in),
		formatter: formatter,
	}
}

// prompt asks a question and returns the answer (or default if empty).
func (p *prompter) prompt(question, defaultValue string) (string, error) {
	if defaultValue != "" {
		p.formatter.Print("%s [%s]: ", question, defaultValue)
	} else {
		p.formatter.Print("%s: ", question)
	}

	answer, err := p.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read input: %w", err)
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return defaultValue, nil
	}
	return answer, nil
}

func runInit(opts initOptions, in io.Reader) error {
	formatter := newFormatter()
	format := formatter.Format()

	loader, err := config.NewLoader("")
	if err != nil {
		return fmt.Errorf("failed to create config loader: %w", err)
	}
	configFile := globalFlags.ConfigFile
	if configFile == "" {
		configFile = loader.DefaultConfigPath()
	}

	if _, err := os.Stat(configFile); err == nil && !opts.force {
		if format == output.FormatJSON {
			return formatter.JSON(InitResult{ConfigFile: configFile, Initialized: false})
		}
		formatter.Warning("Configuration already exists at %s", configFile)
		formatter.Info("Use --force to overwrite existing configuration")
		return formatter.Err()
	}

	if format != output.FormatJSON {
		formatter.Header("Datasync Configuration")
		formatter.Println("")

		p := newPrompter(in, formatter)
		if opts.baseURL, err = p.prompt("Table service URL", opts.baseURL); err != nil {
			return err
		}
		if opts.database, err = p.prompt("Local database", opts.database); err != nil {
			return err
		}
		tables, err := p.prompt("Tables to synchronize (comma separated)", strings.Join(opts.entities, ","))
		if err != nil {
			return err
		}
		opts.entities = splitList(tables)
		if opts.strategy, err = p.prompt("Conflict strategy ("+strategyNames()+")", opts.strategy); err != nil {
			return err
		}
		formatter.Println("")
	}

	cfg, err := buildInitConfig(opts)
	if err != nil {
		return err
	}
	if err := loader.Save(cfg, configFile); err != nil {
		return err
	}

	result := InitResult{
		ConfigFile:  configFile,
		Database:    cfg.Database.Path,
		BaseURL:     cfg.Service.BaseURL,
		Entities:    make([]string, 0, len(cfg.Entities)),
		Initialized: true,
	}
	for _, e := range cfg.Entities {
		result.Entities = append(result.Entities, e.Name)
	}

	if format == output.FormatJSON {
		return formatter.JSON(result)
	}

	formatter.Success("Configuration initialized successfully!")
	formatter.Println("")
	formatter.Item("Config file", configFile)
	formatter.Item("Service", result.BaseURL)
	formatter.Item("Database", result.Database)
	if len(result.Entities) > 0 {
		formatter.Item("Tables", strings.Join(result.Entities, ", "))
	}
	formatter.Println("")
	formatter.Info("Run 'datasync pull' to fetch the tables")
	formatter.Info("Run 'datasync watch' to keep them synchronized")

	return formatter.Err()
}

// buildInitConfig builds and validates a configuration from the init
// answers. Each table is served from tables/<name> with default fields.
func buildInitConfig(opts initOptions) (*config.Config, error) {
	cfg := config.NewDefaultConfig()
	cfg.Service.BaseURL = strings.TrimSpace(opts.baseURL)
	if opts.database != "" {
		cfg.Database.Path = opts.database
	}
	if opts.strategy != "" {
		cfg.Sync.ConflictStrategy = opts.strategy
	}
	for _, name := range opts.entities {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		cfg.Entities = append(cfg.Entities, config.EntityConfig{
			Name:     name,
			Endpoint: "tables/" + name,
		})
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func strategyNames() string {
	names := make([]string, 0, len(conflict.ValidStrategies))
	for s := range conflict.ValidStrategies {
		names = append(names, string(s))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
