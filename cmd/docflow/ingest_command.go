package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"docflow/internal/api"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Ingest files and queue them for processing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, arg := range args {
				path, err := filepath.Abs(arg)
				if err != nil {
					return fmt.Errorf("resolve %s: %w", arg, err)
				}
				info, err := os.Stat(path)
				if err != nil {
					return fmt.Errorf("stat %s: %w", arg, err)
				}
				if info.IsDir() {
					return fmt.Errorf("%s is a directory", arg)
				}

				result, err := api.Ingest(cmd.Context(), api.IngestRequest{
					Config: cfg,
					Path:   path,
					Actor:  actor,
				})
				if err != nil {
					return fmt.Errorf("ingest %s: %w", arg, err)
				}
				fmt.Fprintf(out, "Ingested %s as document %s (task %s)\n",
					result.Document.Filename, result.Document.ID, result.TaskID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "Actor recorded in the audit log")
	return cmd
}
