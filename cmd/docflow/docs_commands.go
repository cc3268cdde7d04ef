package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"docflow/internal/api"
	"docflow/internal/documents"
)

func newDocsCommand(ctx *commandContext) *cobra.Command {
	docsCmd := &cobra.Command{
		Use:   "docs",
		Short: "Inspect and manage documents",
	}

	docsCmd.AddCommand(newDocsListCommand(ctx))
	docsCmd.AddCommand(newDocsShowCommand(ctx))
	docsCmd.AddCommand(newDocsSearchCommand(ctx))
	docsCmd.AddCommand(newDocsDeleteCommand(ctx))
	docsCmd.AddCommand(newDocsRestoreCommand(ctx))
	docsCmd.AddCommand(newDocsReprocessCommand(ctx))
	docsCmd.AddCommand(newDocsSetKVPCommand(ctx))
	docsCmd.AddCommand(newDocsRecategorizeCommand(ctx))
	docsCmd.AddCommand(newDocsSimilarCommand(ctx))

	return docsCmd
}

func newDocsListCommand(ctx *commandContext) *cobra.Command {
	var (
		category       string
		statusFilters  []string
		includeDeleted bool
		asJSON         bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			opts := documents.ListOptions{
				Category:       category,
				IncludeDeleted: includeDeleted,
			}
			for _, raw := range statusFilters {
				status, ok := documents.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("unknown status %q", raw)
				}
				opts.Statuses = append(opts.Statuses, status)
			}

			docs, err := api.ListDocuments(cmd.Context(), cfg, opts)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, documentRowsJSON(docs))
			}
			printDocumentTable(cmd, docs)
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Filter by assigned category")
	cmd.Flags().StringSliceVar(&statusFilters, "status", nil, "Filter by status (repeatable)")
	cmd.Flags().BoolVar(&includeDeleted, "deleted", false, "Include soft-deleted documents")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newDocsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <document-id>",
		Short: "Show a document with its audit trail and playbook runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			view, err := api.PipelineStatus(cmd.Context(), cfg, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, documentViewJSON(view))
			}
			printDocumentView(cmd, view)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newDocsSearchCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search documents by filename or extracted text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			docs, err := api.SearchDocuments(cmd.Context(), cfg, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, documentRowsJSON(docs))
			}
			printDocumentTable(cmd, docs)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newDocsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Soft-delete a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := api.SoftDelete(cmd.Context(), cfg, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Document %s deleted\n", args[0])
			return nil
		},
	}
}

func newDocsRestoreCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <document-id>",
		Short: "Restore a soft-deleted document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := api.Restore(cmd.Context(), cfg, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Document %s restored\n", args[0])
			return nil
		},
	}
}

func newDocsReprocessCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess <document-id>",
		Short: "Reset a document and queue it for a fresh pipeline run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			taskID, err := api.Reprocess(cmd.Context(), cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Document %s queued for reprocessing (task %s)\n", args[0], taskID)
			return nil
		},
	}
}

func newDocsSetKVPCommand(ctx *commandContext) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "set-kvp <document-id> <key=value>...",
		Short: "Correct extracted key-value pairs and mark the document validated",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			values := make(map[string]string, len(args)-1)
			for _, pair := range args[1:] {
				key, value, ok := strings.Cut(pair, "=")
				if !ok || strings.TrimSpace(key) == "" {
					return fmt.Errorf("invalid pair %q, expected key=value", pair)
				}
				values[key] = value
			}

			if err := api.UpdateKVPs(cmd.Context(), cfg, args[0], values, actor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %d field(s) on document %s\n", len(values), args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "Actor recorded in the audit log")
	return cmd
}

func newDocsRecategorizeCommand(ctx *commandContext) *cobra.Command {
	var (
		actor       string
		explanation string
	)

	cmd := &cobra.Command{
		Use:   "recategorize <document-id> <category>",
		Short: "Manually assign a document category",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := api.Recategorize(cmd.Context(), cfg, args[0], args[1], explanation, actor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Document %s recategorized as %s\n", args[0], strings.ToLower(args[1]))
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "Actor recorded in the audit log")
	cmd.Flags().StringVar(&explanation, "reason", "", "Explanation stored with the correction")
	return cmd
}

func newDocsSimilarCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "similar <document-id>",
		Short: "Find documents with similar embeddings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			matches, err := api.SearchSimilar(cmd.Context(), cfg, args[0], limit)
			if err != nil {
				return err
			}
			if len(matches) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No similar documents found")
				return nil
			}

			rows := make([][]string, 0, len(matches))
			for _, match := range matches {
				rows = append(rows, []string{
					match.Document.ID,
					match.Document.Filename,
					dashIfEmpty(match.Document.Category),
					fmt.Sprintf("%.3f", match.Similarity),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "Filename", "Category", "Similarity"}, rows))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of matches")
	return cmd
}

func printDocumentTable(cmd *cobra.Command, docs []*documents.Document) {
	out := cmd.OutOrStdout()
	if len(docs) == 0 {
		fmt.Fprintln(out, "No documents found")
		return
	}

	colorize := shouldColorize(out)
	rows := make([][]string, 0, len(docs))
	for _, doc := range docs {
		rows = append(rows, []string{
			doc.ID,
			truncateText(doc.Filename, 40),
			statusLabel(doc.Status, colorize),
			dashIfEmpty(doc.Category),
			formatTimestamp(doc.CreatedAt),
		})
	}
	fmt.Fprintln(out, renderTable([]string{"ID", "Filename", "Status", "Category", "Created"}, rows))
}

func printDocumentView(cmd *cobra.Command, view *api.DocumentView) {
	out := cmd.OutOrStdout()
	doc := view.Document
	colorize := shouldColorize(out)

	fmt.Fprintf(out, "Document %s\n", doc.ID)
	rows := [][]string{
		{"Filename", doc.Filename},
		{"Status", statusLabel(doc.Status, colorize)},
		{"Category", dashIfEmpty(doc.Category)},
		{"Content type", dashIfEmpty(doc.ContentType)},
		{"Created", formatTimestamp(doc.CreatedAt)},
		{"Processed", formatOptionalTime(doc.ProcessedAt)},
		{"Deleted", formatOptionalTime(doc.DeletedAt)},
	}
	if doc.PageCount != nil {
		rows = append(rows, []string{"Pages", fmt.Sprint(*doc.PageCount)})
	}
	if doc.ErrorMessage != "" {
		rows = append(rows, []string{"Error", truncateText(doc.ErrorMessage, 80)})
	}
	fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows))

	if len(doc.KVPs) > 0 {
		fmt.Fprintln(out, "Extracted fields")
		keys := make([]string, 0, len(doc.KVPs))
		for key := range doc.KVPs {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		kvpRows := make([][]string, 0, len(keys))
		for _, key := range keys {
			kvp := doc.KVPs[key]
			kvpRows = append(kvpRows, []string{key, truncateText(kvp.Value, 60), kvp.Provenance})
		}
		fmt.Fprintln(out, renderTable([]string{"Key", "Value", "Provenance"}, kvpRows))
	}

	if len(view.Runs) > 0 {
		fmt.Fprintln(out, "Playbook runs")
		for _, run := range view.Runs {
			fmt.Fprintf(out, "Run %s (%s, %s)\n", run.ID, run.PlaybookID, run.Status)
			stepRows := make([][]string, 0, len(run.Steps))
			for _, step := range run.Steps {
				stepRows = append(stepRows, []string{
					fmt.Sprint(step.Order),
					step.Name,
					step.TaskType,
					titleCaser.String(string(step.Status)),
					dashIfEmpty(step.WorkerID),
				})
			}
			fmt.Fprintln(out, renderTable([]string{"#", "Step", "Type", "Status", "Worker"}, stepRows))
		}
	}

	if len(view.Audit) > 0 {
		fmt.Fprintln(out, "Audit trail")
		auditRows := make([][]string, 0, len(view.Audit))
		for _, entry := range view.Audit {
			auditRows = append(auditRows, []string{
				formatTimestamp(entry.CreatedAt),
				entry.Action,
				dashIfEmpty(entry.Actor),
				truncateText(entry.Details, 60),
			})
		}
		fmt.Fprintln(out, renderTable([]string{"When", "Action", "Actor", "Details"}, auditRows))
	}
}

func documentRowsJSON(docs []*documents.Document) []map[string]any {
	rows := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		rows = append(rows, documentJSON(doc))
	}
	return rows
}

func documentJSON(doc *documents.Document) map[string]any {
	row := map[string]any{
		"id":           doc.ID,
		"filename":     doc.Filename,
		"status":       string(doc.Status),
		"category":     doc.Category,
		"content_type": doc.ContentType,
		"created_at":   doc.CreatedAt,
	}
	if doc.PageCount != nil {
		row["page_count"] = *doc.PageCount
	}
	if doc.ProcessedAt != nil {
		row["processed_at"] = *doc.ProcessedAt
	}
	if doc.DeletedAt != nil {
		row["deleted_at"] = *doc.DeletedAt
	}
	if doc.ErrorMessage != "" {
		row["error"] = doc.ErrorMessage
	}
	if len(doc.KVPs) > 0 {
		row["kvps"] = doc.KVPs
	}
	return row
}

func documentViewJSON(view *api.DocumentView) map[string]any {
	audit := make([]map[string]any, 0, len(view.Audit))
	for _, entry := range view.Audit {
		audit = append(audit, map[string]any{
			"action":     entry.Action,
			"actor":      entry.Actor,
			"details":    entry.Details,
			"created_at": entry.CreatedAt,
		})
	}
	runs := make([]map[string]any, 0, len(view.Runs))
	for _, run := range view.Runs {
		steps := make([]map[string]any, 0, len(run.Steps))
		for _, step := range run.Steps {
			steps = append(steps, map[string]any{
				"order":     step.Order,
				"name":      step.Name,
				"task_type": step.TaskType,
				"status":    string(step.Status),
				"worker_id": step.WorkerID,
				"result":    step.ResultJSON,
			})
		}
		runs = append(runs, map[string]any{
			"id":          run.ID,
			"playbook_id": run.PlaybookID,
			"category":    run.Category,
			"status":      string(run.Status),
			"steps":       steps,
		})
	}
	return map[string]any{
		"document": documentJSON(view.Document),
		"audit":    audit,
		"runs":     runs,
	}
}
