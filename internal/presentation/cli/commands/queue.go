package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/datasync/internal/application/datasync"
	"github.com/jbctechsolutions/datasync/internal/domain/operation"
	"github.com/jbctechsolutions/datasync/internal/presentation/cli/output"
)

// OperationInfo is the JSON form of a queued operation.
type OperationInfo struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	State         string          `json:"state"`
	EntityType    string          `json:"entity_type"`
	ItemID        string          `json:"item_id"`
	EntityVersion string          `json:"entity_version,omitempty"`
	Sequence      int64           `json:"sequence"`
	Version       int64           `json:"version"`
	HTTPStatus    int             `json:"http_status,omitempty"`
	LastAttempt   *time.Time      `json:"last_attempt,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	Item          json.RawMessage `json:"item,omitempty"`
}

func newOperationInfo(op *operation.Operation, withItem bool) OperationInfo {
	info := OperationInfo{
		ID:            op.ID,
		Kind:          string(op.Kind),
		State:         string(op.State),
		EntityType:    op.EntityType,
		ItemID:        op.ItemID,
		EntityVersion: op.EntityVersion,
		Sequence:      op.Sequence,
		Version:       op.Version,
		HTTPStatus:    op.HTTPStatus,
		LastAttempt:   op.LastAttempt,
		CreatedAt:     op.CreatedAt,
	}
	if withItem {
		info.Item = op.Item
	}
	return info
}

// NewQueueCmd creates the queue command group.
func NewQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage queued local changes",
		Long: `Inspect and manage the operations queue.

Every entity has at most one queued operation. Push never gives up on an
operation by itself: a failing operation stays pending. Use 'queue hold'
to park it, 'queue retry' to return it, or 'queue discard' to drop it.`,
	}

	cmd.AddCommand(newQueueListCmd())
	cmd.AddCommand(newQueueShowCmd())
	cmd.AddCommand(newQueueTransitionCmd("hold", "Park an operation so push skips it",
		(*datasync.Engine).Hold, "held"))
	cmd.AddCommand(newQueueTransitionCmd("retry", "Return a held operation to the queue",
		(*datasync.Engine).Retry, "queued for the next push"))
	cmd.AddCommand(newQueueTransitionCmd("discard", "Drop an operation without sending it",
		(*datasync.Engine).Discard, "discarded"))

	return cmd
}

func newQueueListCmd() *cobra.Command {
	var entityType string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued operations in processing order",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireContainer()
			if err != nil {
				return err
			}

			ops, err := c.Store().Queue.List(cmd.Context(), entityType)
			if err != nil {
				return err
			}

			formatter := GetFormatter()
			if len(ops) == 0 && formatter.Format() != output.FormatJSON {
				formatter.Info("The operations queue is empty")
				return formatter.Err()
			}

			table := output.TableData{
				Columns: []output.TableColumn{
					{Header: "Seq", Align: output.AlignRight},
					{Header: "ID"},
					{Header: "Kind"},
					{Header: "Entity"},
					{Header: "Item"},
					{Header: "State", Color: output.StateColor},
					{Header: "Last Status", Align: output.AlignRight},
				},
			}
			infos := make([]OperationInfo, 0, len(ops))
			for _, op := range ops {
				infos = append(infos, newOperationInfo(op, false))
				status := "-"
				if op.HTTPStatus != 0 {
					status = strconv.Itoa(op.HTTPStatus)
				}
				table.Rows = append(table.Rows, []string{
					strconv.FormatInt(op.Sequence, 10),
					op.ID,
					string(op.Kind),
					op.EntityType,
					op.ItemID,
					string(op.State),
					status,
				})
			}
			return formatter.Render(infos, table)
		},
	}

	cmd.Flags().StringVarP(&entityType, "entity", "e", "", "only list operations of this entity type")

	return cmd
}

func newQueueShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <operation-id>",
		Short: "Show one queued operation with its entity snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireContainer()
			if err != nil {
				return err
			}

			op, err := c.Store().Queue.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			formatter := GetFormatter()
			info := newOperationInfo(op, true)
			if formatter.Format() == output.FormatJSON {
				return formatter.JSON(info)
			}

			formatter.Header("Operation " + op.ID)
			formatter.Item("Kind", info.Kind)
			formatter.Item("Entity", info.EntityType+"/"+info.ItemID)
			formatter.Item("State", formatter.State(info.State))
			formatter.Item("Sequence", strconv.FormatInt(info.Sequence, 10))
			if info.EntityVersion != "" {
				formatter.Item("Expected version", info.EntityVersion)
			}
			if info.LastAttempt != nil {
				formatter.Item("Last attempt", fmt.Sprintf("%s (HTTP %d)", info.LastAttempt.Format(time.RFC3339), info.HTTPStatus))
			}
			formatter.Item("Queued", info.CreatedAt.Format(time.RFC3339))
			if len(op.Item) > 0 {
				formatter.Println("")
				formatter.Println("%s", string(op.Item))
			}
			return formatter.Err()
		},
	}
}

// newQueueTransitionCmd builds a command that changes one operation.
func newQueueTransitionCmd(use, short string, apply func(*datasync.Engine, context.Context, string) error, done string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <operation-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireContainer()
			if err != nil {
				return err
			}
			if err := apply(c.Engine(), cmd.Context(), args[0]); err != nil {
				return err
			}

			formatter := GetFormatter()
			if formatter.Format() == output.FormatJSON {
				return formatter.JSON(map[string]string{"id": args[0], "result": use})
			}
			formatter.Success("Operation %s %s", args[0], done)
			return formatter.Err()
		},
	}
}
