package commands

import (
	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/datasync/internal/domain/query"
	"github.com/jbctechsolutions/datasync/internal/presentation/cli/output"
)

// TokenInfo is the JSON form of a stored delta token.
type TokenInfo struct {
	QueryID string `json:"query_id"`
	Value   string `json:"value"`
}

// NewTokensCmd creates the tokens command group.
func NewTokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Inspect and reset delta tokens",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored delta tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireContainer()
			if err != nil {
				return err
			}

			tokens, err := c.Store().Tokens.List(cmd.Context())
			if err != nil {
				return err
			}

			infos := make([]TokenInfo, 0, len(tokens))
			for _, t := range tokens {
				infos = append(infos, TokenInfo{QueryID: t.QueryID, Value: query.FormatTime(t.Value)})
			}

			formatter := GetFormatter()
			if len(infos) == 0 && formatter.Format() != output.FormatJSON {
				formatter.Info("No delta tokens stored")
				return formatter.Err()
			}

			table := output.TableData{Columns: []output.TableColumn{{Header: "Query ID"}, {Header: "Value"}}}
			for _, info := range infos {
				table.Rows = append(table.Rows, []string{info.QueryID, info.Value})
			}
			return formatter.Render(infos, table)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset <query-id>...",
		Short: "Forget delta tokens so the next pull starts over",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireContainer()
			if err != nil {
				return err
			}

			formatter := GetFormatter()
			for _, id := range args {
				if err := c.Engine().ResetToken(cmd.Context(), id); err != nil {
					return err
				}
				if formatter.Format() != output.FormatJSON {
					formatter.Success("Reset %s", id)
				}
			}
			if formatter.Format() == output.FormatJSON {
				return formatter.JSON(map[string][]string{"reset": args})
			}
			return formatter.Err()
		},
	})

	return cmd
}
