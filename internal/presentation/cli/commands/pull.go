package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/datasync/internal/application"
	"github.com/jbctechsolutions/datasync/internal/application/datasync"
	"github.com/jbctechsolutions/datasync/internal/domain/query"
)

// pullFlags holds the flags of the pull command.
type pullFlags struct {
	parallel    int
	savePerPage bool
	reset       bool
	queryID     string
	filter      string
	endpoint    string
}

// NewPullCmd creates the pull command.
func NewPullCmd() *cobra.Command {
	var flags pullFlags

	cmd := &cobra.Command{
		Use:   "pull [entity...]",
		Short: "Fetch remote changes into the local store",
		Long: `Fetch remote changes into the local store.

Each query remembers the newest updatedAt it has seen (its delta token) so
the next pull only asks for newer rows. Rows of entities with queued local
changes are skipped until those changes are pushed.

Examples:
  # Pull every entity type with its configured query
  datasync pull

  # Pull highly rated movies under their own delta token
  datasync pull movies --filter "rating gt 3" --query-id movies-top

  # Forget the delta token and pull everything again
  datasync pull movies --reset`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireContainer()
			if err != nil {
				return err
			}

			requests, err := buildPullRequests(c, args, flags)
			if err != nil {
				return err
			}

			opts := c.PullOptions()
			if cmd.Flags().Changed("parallel") {
				opts.ParallelOperations = flags.parallel
			}
			if cmd.Flags().Changed("save-per-page") {
				opts.SaveAfterEveryPage = flags.savePerPage
			}

			if flags.reset {
				for _, req := range requests {
					id, err := c.Engine().QueryIDFor(req)
					if err != nil {
						return err
					}
					if err := c.Engine().ResetToken(cmd.Context(), id); err != nil {
						return err
					}
				}
			}

			result, err := c.Engine().Pull(cmd.Context(), requests, opts)
			if err != nil {
				return err
			}

			report := newResultReport("Pull", &result.Result)
			if err := printReports(GetFormatter(), report); err != nil {
				return err
			}
			return reportsError(report)
		},
	}

	cmd.Flags().IntVarP(&flags.parallel, "parallel", "p", 1, "concurrent queries (1-8, default from config)")
	cmd.Flags().BoolVar(&flags.savePerPage, "save-per-page", true, "advance the delta token after every page")
	cmd.Flags().BoolVar(&flags.reset, "reset", false, "reset the delta token before pulling")
	cmd.Flags().StringVar(&flags.queryID, "query-id", "", "explicit query id (requires one entity)")
	cmd.Flags().StringVar(&flags.filter, "filter", "", "OData filter (requires one entity)")
	cmd.Flags().StringVar(&flags.endpoint, "endpoint", "", "override the table endpoint (requires one entity)")

	return cmd
}

// buildPullRequests turns the arguments into pull requests. With no
// arguments every registered entity is pulled with its default query.
func buildPullRequests(c *application.Container, args []string, flags pullFlags) ([]datasync.PullRequest, error) {
	custom := flags.queryID != "" || flags.filter != "" || flags.endpoint != ""
	if custom && len(args) != 1 {
		return nil, fmt.Errorf("--query-id, --filter and --endpoint need exactly one entity")
	}

	names := args
	if len(names) == 0 {
		names = c.Registry().List()
	}

	requests := make([]datasync.PullRequest, 0, len(names))
	for _, name := range names {
		cfg, err := c.Registry().GetRequired(name)
		if err != nil {
			return nil, err
		}
		req := cfg.DefaultPullRequest()
		if custom {
			if flags.filter != "" {
				req.Query = query.Description{Filter: flags.filter}
				req.QueryID = ""
			}
			if flags.queryID != "" {
				req.QueryID = flags.queryID
			}
			req.Endpoint = flags.endpoint
		}
		requests = append(requests, req)
	}
	return requests, nil
}
