package commands

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/datasync/internal/domain/query"
	"github.com/jbctechsolutions/datasync/internal/presentation/cli/output"
)

// EntityInfo is the JSON form of a registered entity type.
type EntityInfo struct {
	Name        string     `json:"name"`
	Endpoint    string     `json:"endpoint"`
	QueryID     string     `json:"query_id"`
	Incremental bool       `json:"incremental"`
	DeltaToken  *time.Time `json:"delta_token,omitempty"`
	Queued      int        `json:"queued"`
	Local       int        `json:"local"`
}

// NewEntitiesCmd creates the entities command.
func NewEntitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "List synchronized entity types",
		Long: `List the entity types in the configuration with their default query id,
delta token, number of queued operations and number of local rows.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireContainer()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var infos []EntityInfo
			for _, cfg := range c.Registry().Entities() {
				queryID, err := c.Engine().QueryIDFor(cfg.DefaultPullRequest())
				if err != nil {
					return err
				}
				info := EntityInfo{
					Name:        cfg.Name,
					Endpoint:    cfg.Endpoint,
					QueryID:     queryID,
					Incremental: cfg.Descriptor.SupportsIncremental(),
				}
				if info.Incremental {
					token, err := c.Store().Tokens.Get(ctx, queryID)
					if err != nil {
						return err
					}
					if !token.Equal(query.Epoch) {
						info.DeltaToken = &token
					}
				}
				if info.Queued, err = c.Store().Queue.Count(ctx, cfg.Name); err != nil {
					return err
				}
				if info.Local, err = c.Store().Entities.Count(ctx, cfg.Name); err != nil {
					return err
				}
				infos = append(infos, info)
			}

			formatter := GetFormatter()
			if infos == nil {
				infos = []EntityInfo{}
			}
			if len(infos) == 0 && formatter.Format() != output.FormatJSON {
				formatter.Info("No entities configured; add them under 'entities' in %s", configPathHint())
				return formatter.Err()
			}

			table := output.TableData{
				Columns: []output.TableColumn{
					{Header: "Entity"},
					{Header: "Endpoint"},
					{Header: "Delta Token"},
					{Header: "Queued", Align: output.AlignRight},
					{Header: "Local", Align: output.AlignRight},
				},
			}
			for _, info := range infos {
				token := "never pulled"
				switch {
				case !info.Incremental:
					token = "full pull"
				case info.DeltaToken != nil:
					token = query.FormatTime(*info.DeltaToken)
				}
				table.Rows = append(table.Rows, []string{
					info.Name,
					info.Endpoint,
					token,
					strconv.Itoa(info.Queued),
					strconv.Itoa(info.Local),
				})
			}
			return formatter.Render(infos, table)
		},
	}
}

// configPathHint names the config file in messages.
func configPathHint() string {
	if ctx := GetAppContext(); ctx != nil && ctx.ConfigPath != "" {
		return ctx.ConfigPath
	}
	return "~/.datasync/config.yaml"
}
