package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"docflow/internal/api"
	"docflow/internal/tasks"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pipeline and queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			summary, err := api.Status(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, statusJSON(summary))
			}
			printStatus(cmd, summary)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}

func statusJSON(summary *api.StatusSummary) map[string]any {
	docs := make(map[string]int, len(summary.Documents))
	for status, count := range summary.Documents {
		docs[string(status)] = count
	}
	queue := make(map[string]int, len(summary.Tasks))
	for status, count := range summary.Tasks {
		queue[string(status)] = count
	}
	pools := make([]map[string]any, 0, len(summary.Dashboard.Pools))
	for _, pool := range summary.Dashboard.Pools {
		pools = append(pools, map[string]any{
			"category":   pool.Category,
			"count":      pool.Count,
			"processing": pool.Processing,
		})
	}
	return map[string]any{
		"total":               summary.Dashboard.Total,
		"processed":           summary.Dashboard.Processed,
		"failed":              summary.Dashboard.Failed,
		"in_flight":           summary.Dashboard.InFlight,
		"uncategorized":       summary.Dashboard.Uncategorized,
		"avg_processing_sec":  summary.Dashboard.AvgProcessingSec,
		"documents_by_status": docs,
		"tasks_by_status":     queue,
		"categories":          pools,
	}
}

func printStatus(cmd *cobra.Command, summary *api.StatusSummary) {
	out := cmd.OutOrStdout()
	dash := summary.Dashboard

	fmt.Fprintln(out, "Documents")
	rows := [][]string{
		{"Total", fmt.Sprint(dash.Total)},
		{"Processed", fmt.Sprint(dash.Processed)},
		{"In flight", fmt.Sprint(dash.InFlight)},
		{"Failed", fmt.Sprint(dash.Failed)},
		{"Uncategorized", fmt.Sprint(dash.Uncategorized)},
		{"Avg processing", formatSeconds(dash.AvgProcessingSec)},
	}
	fmt.Fprintln(out, renderTable([]string{"Metric", "Value"}, rows))

	if len(dash.Pools) > 0 {
		fmt.Fprintln(out, "Categories")
		poolRows := make([][]string, 0, len(dash.Pools))
		for _, pool := range dash.Pools {
			poolRows = append(poolRows, []string{
				titleCaser.String(pool.Category),
				fmt.Sprint(pool.Count),
				fmt.Sprint(pool.Processing),
			})
		}
		fmt.Fprintln(out, renderTable([]string{"Category", "Documents", "Processing"}, poolRows))
	}

	fmt.Fprintln(out, "Task queue")
	fmt.Fprintln(out, renderTable([]string{"Status", "Count"}, taskStatusRows(summary.Tasks)))
}

func taskStatusRows(stats map[tasks.Status]int) [][]string {
	statuses := make([]string, 0, len(stats))
	for status := range stats {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)

	rows := make([][]string, 0, len(statuses))
	for _, status := range statuses {
		rows = append(rows, []string{titleCaser.String(status), fmt.Sprint(stats[tasks.Status(status)])})
	}
	if len(rows) == 0 {
		rows = append(rows, []string{"Queued", "0"})
	}
	return rows
}
