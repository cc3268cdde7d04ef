package documents

import (
	"context"
	"database/sql"
	"fmt"
)

// CategoryPool summarizes documents grouped by assigned category.
type CategoryPool struct {
	Category   string
	Count      int
	Processing int
}

// DashboardStats aggregates document counts for status output.
type DashboardStats struct {
	Total            int
	Processed        int
	Failed           int
	InFlight         int
	Uncategorized    int
	AvgProcessingSec float64
	Pools            []CategoryPool
}

// Stats returns a count of non-deleted documents grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT status, COUNT(1) FROM documents WHERE deleted_at IS NULL GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("document stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Dashboard aggregates document state for the operator status view.
func (s *Store) Dashboard(ctx context.Context) (DashboardStats, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return DashboardStats{}, err
	}

	dash := DashboardStats{}
	for status, count := range stats {
		dash.Total += count
		switch status {
		case StatusProcessed, StatusValidated, StatusRecategorized:
			dash.Processed += count
		case StatusFailed:
			dash.Failed += count
		default:
			if IsProcessingStatus(status) || status == StatusQueued {
				dash.InFlight += count
			}
		}
	}

	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM documents WHERE deleted_at IS NULL AND category IS NULL`,
	)
	if err := row.Scan(&dash.Uncategorized); err != nil {
		return DashboardStats{}, fmt.Errorf("count uncategorized: %w", err)
	}

	var avg sql.NullFloat64
	row = s.db.QueryRowContext(
		ctx,
		`SELECT AVG((julianday(processed_at) - julianday(created_at)) * 86400.0)
         FROM documents WHERE deleted_at IS NULL AND processed_at IS NOT NULL`,
	)
	if err := row.Scan(&avg); err != nil {
		return DashboardStats{}, fmt.Errorf("average processing time: %w", err)
	}
	if avg.Valid {
		dash.AvgProcessingSec = avg.Float64
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT category,
                COUNT(1),
                SUM(CASE WHEN status IN (?, ?, ?, ?, ?) THEN 1 ELSE 0 END)
         FROM documents
         WHERE deleted_at IS NULL AND category IS NOT NULL
         GROUP BY category ORDER BY category`,
		StatusQueued,
		StatusExtracting,
		StatusClassifying,
		StatusEmbedding,
		StatusIndexing,
	)
	if err != nil {
		return DashboardStats{}, fmt.Errorf("category pools: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pool CategoryPool
		if err := rows.Scan(&pool.Category, &pool.Count, &pool.Processing); err != nil {
			return DashboardStats{}, err
		}
		dash.Pools = append(dash.Pools, pool)
	}
	return dash, rows.Err()
}
