package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/datasync/internal/application"
)

// NewSyncCmd creates the sync command.
func NewSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync [entity...]",
		Short: "Push queued changes, then pull remote changes",
		Long: `Push queued local changes, then pull remote changes, using the
parallelism and token settings of the configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireContainer()
			if err != nil {
				return err
			}

			reports, err := runSync(cmd.Context(), c, args)
			if err != nil {
				return err
			}
			if err := printReports(GetFormatter(), reports...); err != nil {
				return err
			}
			return reportsError(reports...)
		},
	}

	return cmd
}

// runSync runs one push-then-pull cycle.
func runSync(ctx context.Context, c *application.Container, entityTypes []string) ([]ResultReport, error) {
	pushed, pulled, err := c.Engine().Sync(ctx, entityTypes, c.PushOptions(), c.PullOptions())
	if err != nil {
		return nil, err
	}
	return []ResultReport{
		newResultReport("Push", &pushed.Result),
		newResultReport("Pull", &pulled.Result),
	}, nil
}
