package store

import (
	"context"
	"fmt"
	"time"
)

// StatEntry is one appended operational metric sample.
type StatEntry struct {
	ID             int64
	Operation      string
	Duration       time.Duration
	ItemsProcessed int
	ErrorCount     int
	RecordedAt     time.Time
}

// StatSummary aggregates samples of one operation type over a window.
type StatSummary struct {
	Operation      string
	Runs           int
	ItemsProcessed int
	ErrorCount     int
	TotalDuration  time.Duration
}

// RecordStat appends a metric sample. The statistics family is append-only.
func (s *Store) RecordStat(ctx context.Context, operation string, duration time.Duration, items, errs int) error {
	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO sync_stats (operation, duration_ms, items_processed, error_count, recorded_at)
	VALUES (?, ?, ?, ?, ?)`,
		operation, duration.Milliseconds(), items, errs,
		s.now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to record stat: %w", err)
	}
	return nil
}

// AggregateStats summarizes samples recorded at or after since, grouped by
// operation type.
func (s *Store) AggregateStats(ctx context.Context, since time.Time) ([]*StatSummary, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT operation, COUNT(*), SUM(items_processed), SUM(error_count), SUM(duration_ms)
	FROM sync_stats
	WHERE recorded_at >= ?
	GROUP BY operation
	ORDER BY operation ASC`,
		since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}
	defer rows.Close()

	var summaries []*StatSummary
	for rows.Next() {
		var sum StatSummary
		var durationMs int64
		if err := rows.Scan(&sum.Operation, &sum.Runs, &sum.ItemsProcessed, &sum.ErrorCount, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan stat summary: %w", err)
		}
		sum.TotalDuration = time.Duration(durationMs) * time.Millisecond
		summaries = append(summaries, &sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stat summaries: %w", err)
	}
	return summaries, nil
}

// ActivityCount returns the number of sync operations recorded at or after
// since that did real work. Idle passes record samples with zero items and
// zero errors; counting those would make a periodic daemon look busy to
// the adaptive interval calculation.
func (s *Store) ActivityCount(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM sync_stats
	WHERE recorded_at >= ? AND (items_processed > 0 OR error_count > 0)`,
		since.UTC().Format(time.RFC3339Nano)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count activity: %w", err)
	}
	return count, nil
}

// TrimStats deletes samples recorded before cutoff, bounding table growth.
func (s *Store) TrimStats(ctx context.Context, cutoff time.Time) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM sync_stats WHERE recorded_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to trim stats: %w", err)
	}
	return nil
}
