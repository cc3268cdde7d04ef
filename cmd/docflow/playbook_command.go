package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"docflow/internal/api"
	"docflow/internal/documents"
)

func newPlaybookCommand(ctx *commandContext) *cobra.Command {
	playbookCmd := &cobra.Command{
		Use:   "playbook",
		Short: "Run category playbooks",
	}

	playbookCmd.AddCommand(newPlaybookRunCommand(ctx))

	return playbookCmd
}

func newPlaybookRunCommand(ctx *commandContext) *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "run <document-id>",
		Short: "Run a playbook against a document and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			run, err := api.RunPlaybook(cmd.Context(), cfg, nil, args[0], category)
			if err != nil {
				return err
			}
			printPlaybookRun(cmd, run)
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Override the document's assigned category")
	return cmd
}

func printPlaybookRun(cmd *cobra.Command, run *documents.PlaybookRun) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s (%s) finished %s\n", run.ID, run.PlaybookID, run.Status)

	rows := make([][]string, 0, len(run.Steps))
	for _, step := range run.Steps {
		rows = append(rows, []string{
			fmt.Sprint(step.Order),
			step.Name,
			step.TaskType,
			titleCaser.String(string(step.Status)),
			truncateText(step.ResultJSON, 60),
		})
	}
	fmt.Fprintln(out, renderTable([]string{"#", "Step", "Type", "Status", "Result"}, rows))
}
