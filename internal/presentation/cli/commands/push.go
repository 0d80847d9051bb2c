package commands

import (
	"github.com/spf13/cobra"
)

// NewPushCmd creates the push command.
func NewPushCmd() *cobra.Command {
	var parallel int

	cmd := &cobra.Command{
		Use:   "push [entity...]",
		Short: "Send queued local changes to the service",
		Long: `Send queued local changes to the table service.

Operations are sent in queue order; operations for different entities
are sent concurrently up to --parallel requests. Operations that fail stay
queued for the next push.

Examples:
  # Push every entity type
  datasync push

  # Push only movies, four requests at a time
  datasync push movies --parallel 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireContainer()
			if err != nil {
				return err
			}

			opts := c.PushOptions()
			if cmd.Flags().Changed("parallel") {
				opts.ParallelOperations = parallel
			}

			result, err := c.Engine().Push(cmd.Context(), args, opts)
			if err != nil {
				return err
			}

			report := newResultReport("Push", &result.Result)
			if err := printReports(GetFormatter(), report); err != nil {
				return err
			}
			return reportsError(report)
		},
	}

	cmd.Flags().IntVarP(&parallel, "parallel", "p", 1, "concurrent requests (1-8, default from config)")

	return cmd
}
