package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const documentColumns = "id, filename, content_type, blob_id, page_count, status, category, category_explanation, text, kvps_json, embedding_json, error_message, task_id, created_at, updated_at, processed_at, deleted_at"

// Create inserts a new document record in the queued state.
func (s *Store) Create(ctx context.Context, filename, contentType, blobID string, pageCount *int) (*Document, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, errors.New("filename is required")
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	id := uuid.NewString()

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO documents (id, filename, content_type, blob_id, page_count, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		filename,
		nullableString(contentType),
		nullableString(blobID),
		nullableInt(pageCount),
		StatusQueued,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a document by identifier, excluding soft-deleted records.
func (s *Store) GetByID(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ? AND deleted_at IS NULL`,
		id,
	)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// GetIncludingDeleted fetches a document regardless of soft-delete state.
func (s *Store) GetIncludingDeleted(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// ListOptions filters document listings.
type ListOptions struct {
	Category       string
	Statuses       []Status
	IncludeDeleted bool
}

// List returns documents ordered by creation time, excluding soft-deleted
// records unless IncludeDeleted is set.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*Document, error) {
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if !opts.IncludeDeleted {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	if category := strings.TrimSpace(opts.Category); category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, category)
	}
	if len(opts.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(opts.Statuses))+")")
		for _, status := range opts.Statuses {
			args = append(args, status)
		}
	}

	query := `SELECT ` + documentColumns + ` FROM documents`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Search returns non-deleted documents whose filename or extracted text
// matches the query.
func (s *Store) Search(ctx context.Context, query string) ([]*Document, error) {
	pattern := "%" + strings.TrimSpace(query) + "%"
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+documentColumns+` FROM documents
         WHERE deleted_at IS NULL AND (filename LIKE ? OR text LIKE ?)
         ORDER BY created_at`,
		pattern,
		pattern,
	)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Update persists changes to an existing document record.
func (s *Store) Update(ctx context.Context, doc *Document) error {
	if doc == nil {
		return errors.New("document is nil")
	}
	doc.UpdatedAt = time.Now().UTC()

	kvpsJSON, err := marshalKVPs(doc.KVPs)
	if err != nil {
		return err
	}
	embeddingJSON, err := marshalEmbedding(doc.Embedding)
	if err != nil {
		return err
	}

	_, err = s.execWithRetry(
		ctx,
		`UPDATE documents
         SET filename = ?, content_type = ?, blob_id = ?, page_count = ?, status = ?,
             category = ?, category_explanation = ?, text = ?, kvps_json = ?,
             embedding_json = ?, error_message = ?, task_id = ?, updated_at = ?,
             processed_at = ?, deleted_at = ?
         WHERE id = ?`,
		doc.Filename,
		nullableString(doc.ContentType),
		nullableString(doc.BlobID),
		nullableInt(doc.PageCount),
		doc.Status,
		nullableString(doc.Category),
		nullableString(doc.CategoryExplanation),
		nullableString(doc.Text),
		nullableString(kvpsJSON),
		nullableString(embeddingJSON),
		nullableString(doc.ErrorMessage),
		nullableString(doc.TaskID),
		doc.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(doc.ProcessedAt),
		nullableTime(doc.DeletedAt),
		doc.ID,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return nil
}

// SetTaskID records the in-flight queue task for a document.
func (s *Store) SetTaskID(ctx context.Context, id, taskID string) error {
	_, err := s.execWithRetry(
		ctx,
		`UPDATE documents SET task_id = ?, updated_at = ? WHERE id = ?`,
		nullableString(taskID),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("set task id: %w", err)
	}
	return nil
}

// SoftDelete marks a document as deleted. Returns false when the document was
// already deleted or does not exist.
func (s *Store) SoftDelete(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE documents SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now,
		now,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("soft delete document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		if err := s.AppendAudit(ctx, id, "soft_delete", "", nil); err != nil {
			return true, err
		}
	}
	return affected > 0, nil
}

// Restore clears the soft-delete marker. Returns false when the document was
// not deleted.
func (s *Store) Restore(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE documents SET deleted_at = NULL, updated_at = ? WHERE id = ? AND deleted_at IS NOT NULL`,
		now,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("restore document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		if err := s.AppendAudit(ctx, id, "restore", "", nil); err != nil {
			return true, err
		}
	}
	return affected > 0, nil
}

// UpdateKVPs replaces the extracted key-value pairs after manual correction
// and marks the document validated. Review actions apply only to documents
// that have finished the pipeline.
func (s *Store) UpdateKVPs(ctx context.Context, id string, kvps map[string]KVP, actor string) error {
	kvpsJSON, err := marshalKVPs(kvps)
	if err != nil {
		return err
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE documents SET kvps_json = ?, status = ?, updated_at = ?
         WHERE id = ? AND deleted_at IS NULL AND status IN (?, ?, ?)`,
		nullableString(kvpsJSON),
		StatusValidated,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusProcessed,
		StatusValidated,
		StatusRecategorized,
	)
	if err != nil {
		return fmt.Errorf("update kvps: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.reviewGateError(ctx, id, StatusValidated)
	}
	return s.AppendAudit(ctx, id, "kvp_update", actor, map[string]any{"keys": kvpKeys(kvps)})
}

// Recategorize assigns a manually corrected category with its explanation.
func (s *Store) Recategorize(ctx context.Context, id, category, explanation, actor string) error {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		return errors.New("category is required")
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE documents SET category = ?, category_explanation = ?, status = ?, updated_at = ?
         WHERE id = ? AND deleted_at IS NULL AND status IN (?, ?, ?)`,
		category,
		nullableString(explanation),
		StatusRecategorized,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusProcessed,
		StatusValidated,
		StatusRecategorized,
	)
	if err != nil {
		return fmt.Errorf("recategorize document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.reviewGateError(ctx, id, StatusRecategorized)
	}
	return s.AppendAudit(ctx, id, "recategorize", actor, map[string]any{"category": category})
}

// reviewGateError distinguishes a missing document from one whose current
// status does not permit the requested review transition.
func (s *Store) reviewGateError(ctx context.Context, id string, to Status) error {
	doc, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("document %s is %s, cannot move to %s: %w", id, doc.Status, to, ErrInvalidTransition)
}

// ResetForReprocessing clears pipeline artifacts and returns the document to
// the queued state. Legal from any state, including failed.
func (s *Store) ResetForReprocessing(ctx context.Context, id string) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE documents
         SET status = ?, category = NULL, category_explanation = NULL, text = NULL,
             kvps_json = NULL, embedding_json = NULL, error_message = NULL,
             processed_at = NULL, task_id = NULL, updated_at = ?
         WHERE id = ? AND deleted_at IS NULL`,
		StatusQueued,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("reset for reprocessing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return s.AppendAudit(ctx, id, "reprocess", "", nil)
}

// DocumentVector pairs a document id with its stored embedding.
type DocumentVector struct {
	DocumentID string
	Vector     []float64
}

// Embeddings returns vectors for all non-deleted documents that have one.
func (s *Store) Embeddings(ctx context.Context) ([]DocumentVector, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, embedding_json FROM documents
         WHERE deleted_at IS NULL AND embedding_json IS NOT NULL`,
	)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var vectors []DocumentVector
	for rows.Next() {
		var (
			id  string
			raw string
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var vector []float64
		if err := json.Unmarshal([]byte(raw), &vector); err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", id, err)
		}
		vectors = append(vectors, DocumentVector{DocumentID: id, Vector: vector})
	}
	return vectors, rows.Err()
}

func scanDocument(scanner interface{ Scan(dest ...any) error }) (*Document, error) {
	var (
		id           string
		filename     string
		contentType  sql.NullString
		blobID       sql.NullString
		pageCount    sql.NullInt64
		statusStr    string
		category     sql.NullString
		explanation  sql.NullString
		text         sql.NullString
		kvpsRaw      sql.NullString
		embeddingRaw sql.NullString
		errorMessage sql.NullString
		taskID       sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		processedRaw sql.NullString
		deletedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&filename,
		&contentType,
		&blobID,
		&pageCount,
		&statusStr,
		&category,
		&explanation,
		&text,
		&kvpsRaw,
		&embeddingRaw,
		&errorMessage,
		&taskID,
		&createdRaw,
		&updatedRaw,
		&processedRaw,
		&deletedRaw,
	); err != nil {
		return nil, err
	}

	doc := &Document{
		ID:                  id,
		Filename:            filename,
		ContentType:         contentType.String,
		BlobID:              blobID.String,
		Status:              Status(statusStr),
		Category:            category.String,
		CategoryExplanation: explanation.String,
		Text:                text.String,
		ErrorMessage:        errorMessage.String,
		TaskID:              taskID.String,
	}
	if pageCount.Valid {
		count := int(pageCount.Int64)
		doc.PageCount = &count
	}
	if kvpsRaw.Valid && kvpsRaw.String != "" {
		kvps := make(map[string]KVP)
		if err := json.Unmarshal([]byte(kvpsRaw.String), &kvps); err != nil {
			return nil, fmt.Errorf("decode kvps: %w", err)
		}
		doc.KVPs = kvps
	}
	if embeddingRaw.Valid && embeddingRaw.String != "" {
		var vector []float64
		if err := json.Unmarshal([]byte(embeddingRaw.String), &vector); err != nil {
			return nil, fmt.Errorf("decode embedding: %w", err)
		}
		doc.Embedding = vector
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		doc.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		doc.UpdatedAt = updated
	}
	if processedRaw.Valid {
		if processed, err := parseTimeString(processedRaw.String); err == nil {
			doc.ProcessedAt = &processed
		}
	}
	if deletedRaw.Valid {
		if deleted, err := parseTimeString(deletedRaw.String); err == nil {
			doc.DeletedAt = &deleted
		}
	}
	return doc, nil
}

func marshalKVPs(kvps map[string]KVP) (string, error) {
	if len(kvps) == 0 {
		return "", nil
	}
	data, err := json.Marshal(kvps)
	if err != nil {
		return "", fmt.Errorf("encode kvps: %w", err)
	}
	return string(data), nil
}

func marshalEmbedding(vector []float64) (string, error) {
	if len(vector) == 0 {
		return "", nil
	}
	data, err := json.Marshal(vector)
	if err != nil {
		return "", fmt.Errorf("encode embedding: %w", err)
	}
	return string(data), nil
}

func kvpKeys(kvps map[string]KVP) []string {
	keys := make([]string, 0, len(kvps))
	for key := range kvps {
		keys = append(keys, key)
	}
	return keys
}
