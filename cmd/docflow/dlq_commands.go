package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"docflow/internal/api"
)

func newDLQCommand(ctx *commandContext) *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered tasks",
	}

	dlqCmd.AddCommand(newDLQListCommand(ctx))
	dlqCmd.AddCommand(newDLQReplayCommand(ctx))

	return dlqCmd
}

func newDLQListCommand(ctx *commandContext) *cobra.Command {
	var (
		all    bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			records, err := api.ListDeadLetters(cmd.Context(), cfg, !all)
			if err != nil {
				return err
			}

			if asJSON {
				rows := make([]map[string]any, 0, len(records))
				for _, record := range records {
					row := map[string]any{
						"id":         record.ID,
						"task":       record.Name,
						"queue":      record.QueueName,
						"retries":    record.Retries,
						"reason":     record.Reason,
						"created_at": record.CreatedAt,
					}
					if record.ReplayedAt != nil {
						row["replayed_at"] = *record.ReplayedAt
					}
					rows = append(rows, row)
				}
				return writeJSON(cmd, rows)
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "Dead-letter queue is empty")
				return nil
			}
			rows := make([][]string, 0, len(records))
			for _, record := range records {
				rows = append(rows, []string{
					record.ID,
					record.Name,
					record.QueueName,
					fmt.Sprint(record.Retries),
					truncateText(record.Reason, 50),
					formatOptionalTime(record.ReplayedAt),
				})
			}
			fmt.Fprintln(out, renderTable([]string{"ID", "Task", "Queue", "Retries", "Reason", "Replayed"}, rows))
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include already replayed records")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newDLQReplayCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <dead-letter-id>...",
		Short: "Replay dead-lettered tasks with a fresh retry budget",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, id := range args {
				task, err := api.ReplayDeadLetter(cmd.Context(), cfg, id)
				if err != nil {
					return fmt.Errorf("replay %s: %w", id, err)
				}
				fmt.Fprintf(out, "Replayed %s as task %s on queue %s\n", id, task.ID, task.QueueName)
			}
			return nil
		},
	}
}
