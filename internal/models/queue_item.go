// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/listenarr/listenarr/internal/dbinterface"
	"github.com/listenarr/listenarr/internal/pipeline"
)

var (
	ErrQueueItemNotFound = errors.New("queue item not found")
	// ErrAlreadyActive is returned by Enqueue when a non-terminal item for the
	// same catalog identifier already exists.
	ErrAlreadyActive = errors.New("catalog item already active in queue")
	// ErrInvalidTransition is returned by Transition when the requested edge
	// is not in the state graph or the item moved concurrently.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrProgressRegression is returned by SetProgress when the write would
	// decrease recorded progress while the item is downloading.
	ErrProgressRegression = errors.New("progress must be monotone non-decreasing")
)

// QueueItem is the persistent queue entity. The schema is closed: adapters
// return their own value types and the orchestrator writes item fields through
// the store only.
type QueueItem struct {
	ID                 int64            `json:"id"`
	CatalogID          string           `json:"catalog_id"`
	Title              string           `json:"title"`
	Author             string           `json:"author"`
	Status             pipeline.Status  `json:"status"`
	Priority           int              `json:"priority"`
	Kind               pipeline.Kind    `json:"kind"`
	PreSelectedSource  *string          `json:"pre_selected_source,omitempty"`
	SourceURL          *string          `json:"source_url,omitempty"`
	SourceInfoHash     *string          `json:"source_info_hash,omitempty"`
	IndexerName        *string          `json:"indexer_name,omitempty"`
	ClientName         *string          `json:"client_name,omitempty"`
	ClientID           *string          `json:"client_id,omitempty"`
	TempPath           *string          `json:"temp_path,omitempty"`
	VoucherPath        *string          `json:"voucher_path,omitempty"`
	ConvertedPath      *string          `json:"converted_path,omitempty"`
	FinalPath          *string          `json:"final_path,omitempty"`
	Format             *string          `json:"format,omitempty"`
	Quality            *string          `json:"quality,omitempty"`
	Progress           *float64         `json:"progress,omitempty"`
	ETASeconds         *int64           `json:"eta_seconds,omitempty"`
	RetryCount         int              `json:"retry_count"`
	NextRetryAt        *time.Time       `json:"next_retry_at,omitempty"`
	LastError          *string          `json:"last_error,omitempty"`
	SeedingRatio       *float64         `json:"seeding_ratio,omitempty"`
	SeedingTimeSeconds *int64           `json:"seeding_time_seconds,omitempty"`
	QueuedAt           time.Time        `json:"queued_at"`
	StartedAt          *time.Time       `json:"started_at,omitempty"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// RetryEligible reports whether the item may be picked up now, honoring
// next_retry_at.
func (i *QueueItem) RetryEligible(now time.Time) bool {
	return i.NextRetryAt == nil || !i.NextRetryAt.After(now)
}

// EnqueueParams carries everything Enqueue needs to create an item.
type EnqueueParams struct {
	CatalogID         string
	Title             string
	Author            string
	Priority          int
	Kind              pipeline.Kind
	PreSelectedSource *string
	SourceInfoHash    *string
	Format            *string
	Quality           *string
}

const queueItemColumns = `
	id, catalog_id, title, author, status, priority, kind,
	pre_selected_source, source_url, source_info_hash, indexer_name,
	client_name, client_id, temp_path, voucher_path, converted_path,
	final_path, format, quality, progress, eta_seconds, retry_count,
	next_retry_at, last_error, seeding_ratio, seeding_time_seconds,
	queued_at, started_at, completed_at, updated_at`

// QueueStore manages queue items in the database. It is the single source of
// truth for item state; no component caches items across loop iterations.
type QueueStore struct {
	db  dbinterface.Querier
	now func() time.Time
}

// NewQueueStore creates a QueueStore.
func NewQueueStore(db dbinterface.Querier) *QueueStore {
	return &QueueStore{db: db, now: time.Now}
}

// SetNowFunc overrides the store clock. Tests only.
func (s *QueueStore) SetNowFunc(now func() time.Time) {
	s.now = now
}

// Enqueue creates a new item in status queued. It returns ErrAlreadyActive
// when a non-terminal item for the same catalog identifier exists; the
// partial unique index on catalog_id is the authority.
func (s *QueueStore) Enqueue(ctx context.Context, params EnqueueParams) (*QueueItem, error) {
	if params.CatalogID == "" {
		return nil, errors.New("catalog id cannot be empty")
	}
	switch params.Kind {
	case pipeline.KindTorrent, pipeline.KindMagnet, pipeline.KindCatalog:
	default:
		return nil, fmt.Errorf("unknown item kind %q", params.Kind)
	}
	if params.Priority < 1 || params.Priority > 10 {
		params.Priority = 5
	}

	now := s.now().UTC()
	query := `
		INSERT INTO queue_items (
			catalog_id, title, author, status, priority, kind,
			pre_selected_source, source_info_hash, format, quality,
			queued_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		params.CatalogID, params.Title, params.Author, pipeline.StatusQueued,
		params.Priority, params.Kind, params.PreSelectedSource,
		params.SourceInfoHash, params.Format, params.Quality, now, now)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrAlreadyActive
		}
		return nil, fmt.Errorf("failed to enqueue item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return s.Get(ctx, id)
}

// Get retrieves an item by ID.
func (s *QueueStore) Get(ctx context.Context, id int64) (*QueueItem, error) {
	query := `SELECT` + queueItemColumns + ` FROM queue_items WHERE id = ?`
	item, err := scanQueueItem(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQueueItemNotFound
		}
		return nil, fmt.Errorf("failed to get queue item %d: %w", id, err)
	}
	return item, nil
}

// GetActiveByCatalog returns the single non-terminal item for a catalog
// identifier, or ErrQueueItemNotFound.
func (s *QueueStore) GetActiveByCatalog(ctx context.Context, catalogID string) (*QueueItem, error) {
	query := `SELECT` + queueItemColumns + `
		FROM queue_items
		WHERE catalog_id = ?
		  AND status NOT IN (
			'imported', 'seeding_complete', 'cancelled',
			'search_failed', 'download_failed', 'audible_download_failed',
			'conversion_failed', 'import_failed'
		  )
		LIMIT 1`
	item, err := scanQueueItem(s.db.QueryRowContext(ctx, query, catalogID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQueueItemNotFound
		}
		return nil, fmt.Errorf("failed to get active item for %s: %w", catalogID, err)
	}
	return item, nil
}

// List returns items ordered by priority DESC, queued_at ASC. A nil status
// lists all items. limit <= 0 means no limit.
func (s *QueueStore) List(ctx context.Context, status *pipeline.Status, limit, offset int) ([]*QueueItem, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT` + queueItemColumns + ` FROM queue_items`)
	args := make([]any, 0, 3)
	if status != nil {
		sb.WriteString(" WHERE status = ?")
		args = append(args, *status)
	}
	sb.WriteString(" ORDER BY priority DESC, queued_at ASC, id ASC")
	if limit > 0 {
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	defer rows.Close()

	var items []*QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Transition moves an item along the edge current -> to. The current status
// is re-checked in the UPDATE so a concurrent move is rejected rather than
// silently overwritten. Lifecycle timestamps are stamped per the state graph
// and progress is reset when the edge requires it.
func (s *QueueStore) Transition(ctx context.Context, id int64, to pipeline.Status) (*QueueItem, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !pipeline.CanTransition(item.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, item.Status, to)
	}

	now := s.now().UTC()
	stamps := pipeline.TransitionStamps(item.Status, to, now)

	var sb strings.Builder
	sb.WriteString("UPDATE queue_items SET status = ?, updated_at = ?")
	args := []any{to, now}
	if stamps.StartedAt != nil {
		sb.WriteString(", started_at = ?")
		args = append(args, *stamps.StartedAt)
	}
	if stamps.CompletedAt != nil {
		sb.WriteString(", completed_at = ?")
		args = append(args, *stamps.CompletedAt)
	}
	if stamps.ResetProgress {
		sb.WriteString(", progress = NULL, eta_seconds = NULL")
	}
	if stamps.ResetRetry {
		// Completing a stage releases its consumed retries; the next stage
		// starts with a full budget.
		sb.WriteString(", retry_count = 0, next_retry_at = NULL")
	}
	sb.WriteString(" WHERE id = ? AND status = ?")
	args = append(args, id, item.Status)

	result, err := s.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to transition item %d to %s: %w", id, to, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: item %d moved concurrently", ErrInvalidTransition, id)
	}

	return s.Get(ctx, id)
}

// SetProgress writes download progress and ETA. While the item is in a
// downloading state the write is guarded to keep progress monotone
// non-decreasing; a regressing write returns ErrProgressRegression.
func (s *QueueStore) SetProgress(ctx context.Context, id int64, progress float64, etaSeconds *int64) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("progress %.2f out of range [0, 100]", progress)
	}

	query := `
		UPDATE queue_items
		SET progress = ?, eta_seconds = ?, updated_at = ?
		WHERE id = ? AND (progress IS NULL OR progress <= ?)
	`
	result, err := s.db.ExecContext(ctx, query, progress, etaSeconds, s.now().UTC(), id, progress)
	if err != nil {
		return fmt.Errorf("failed to set progress for item %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrProgressRegression
	}
	return nil
}

// SetSource records the chosen candidate source.
func (s *QueueStore) SetSource(ctx context.Context, id int64, sourceURL string, infoHash, indexerName *string) error {
	return s.exec(ctx,
		`UPDATE queue_items SET source_url = ?, source_info_hash = COALESCE(?, source_info_hash), indexer_name = ?, updated_at = ? WHERE id = ?`,
		sourceURL, infoHash, indexerName, s.now().UTC(), id)
}

// SetClient records which external client owns the in-flight download and its
// internal identifier for it.
func (s *QueueStore) SetClient(ctx context.Context, id int64, clientName string, clientID *string) error {
	return s.exec(ctx,
		`UPDATE queue_items SET client_name = ?, client_id = ?, updated_at = ? WHERE id = ?`,
		clientName, clientID, s.now().UTC(), id)
}

// SetTempPath records where the artifact is expected to materialize.
func (s *QueueStore) SetTempPath(ctx context.Context, id int64, tempPath string) error {
	return s.exec(ctx,
		`UPDATE queue_items SET temp_path = ?, updated_at = ? WHERE id = ?`,
		tempPath, s.now().UTC(), id)
}

// SetArtifact records the downloaded artifact format and optional voucher.
func (s *QueueStore) SetArtifact(ctx context.Context, id int64, format string, voucherPath *string) error {
	return s.exec(ctx,
		`UPDATE queue_items SET format = ?, voucher_path = ?, updated_at = ? WHERE id = ?`,
		format, voucherPath, s.now().UTC(), id)
}

// SetConvertedPath records the conversion output.
func (s *QueueStore) SetConvertedPath(ctx context.Context, id int64, convertedPath string) error {
	return s.exec(ctx,
		`UPDATE queue_items SET converted_path = ?, updated_at = ? WHERE id = ?`,
		convertedPath, s.now().UTC(), id)
}

// SetFinalPath records the imported library path.
func (s *QueueStore) SetFinalPath(ctx context.Context, id int64, finalPath string) error {
	return s.exec(ctx,
		`UPDATE queue_items SET final_path = ?, updated_at = ? WHERE id = ?`,
		finalPath, s.now().UTC(), id)
}

// SetSeedingStats records the ratio and seed time reported by the client.
func (s *QueueStore) SetSeedingStats(ctx context.Context, id int64, ratio float64, seedingTimeSeconds int64) error {
	return s.exec(ctx,
		`UPDATE queue_items SET seeding_ratio = ?, seeding_time_seconds = ?, updated_at = ? WHERE id = ?`,
		ratio, seedingTimeSeconds, s.now().UTC(), id)
}

// RecordFailure applies a retry decision for the given failure kind. A
// permanent decision parks the item in the failure status; a granted retry
// moves it straight to the retry target with an incremented retry count and
// the next eligibility time. Both edges of a retry (into the failure status
// and out to the target) are validated, but the write is a single statement:
// failure statuses are excluded from the active-item unique index, so the
// item must never be observable resting in one mid-retry.
func (s *QueueStore) RecordFailure(ctx context.Context, id int64, kind pipeline.FailureKind, message string, decision pipeline.Decision) (*QueueItem, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !pipeline.CanTransition(item.Status, kind) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, item.Status, kind)
	}

	now := s.now().UTC()

	if decision.Permanent {
		return s.guardedUpdate(ctx, id, item.Status,
			`UPDATE queue_items SET status = ?, last_error = ?, next_retry_at = NULL, updated_at = ? WHERE id = ? AND status = ?`,
			kind, message, now, id, item.Status)
	}

	if !pipeline.CanTransition(kind, decision.Target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, kind, decision.Target)
	}

	var nextRetryAt *time.Time
	if decision.Backoff > 0 {
		t := now.Add(decision.Backoff)
		nextRetryAt = &t
	}

	var sb strings.Builder
	sb.WriteString(`UPDATE queue_items SET status = ?, retry_count = retry_count + 1, last_error = ?, next_retry_at = ?, updated_at = ?`)
	args := []any{decision.Target, message, nextRetryAt, now}
	if pipeline.ResetsProgress(decision.Target) {
		sb.WriteString(", progress = NULL, eta_seconds = NULL")
	}
	sb.WriteString(" WHERE id = ? AND status = ?")
	args = append(args, id, item.Status)

	return s.guardedUpdate(ctx, id, item.Status, sb.String(), args...)
}

// guardedUpdate runs an UPDATE whose WHERE clause re-checks the expected
// current status, so a concurrent move is rejected rather than overwritten.
func (s *QueueStore) guardedUpdate(ctx context.Context, id int64, expected pipeline.Status, query string, args ...any) (*QueueItem, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update item %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: item %d left %s concurrently", ErrInvalidTransition, id, expected)
	}
	return s.Get(ctx, id)
}

// ResetForRetry is the administrative retry: it zeroes the retry count and
// re-enters the retry target of the failure state the item rests in. It only
// applies to items parked in a failure status.
func (s *QueueStore) ResetForRetry(ctx context.Context, id int64, target pipeline.Status) (*QueueItem, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !pipeline.IsFailure(item.Status) {
		return nil, fmt.Errorf("item %d is not in a failure state (%s)", id, item.Status)
	}
	if err := s.exec(ctx,
		`UPDATE queue_items SET retry_count = 0, next_retry_at = NULL, last_error = NULL, updated_at = ? WHERE id = ?`,
		s.now().UTC(), id); err != nil {
		return nil, err
	}
	return s.Transition(ctx, id, target)
}

// Delete removes an item.
func (s *QueueStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM queue_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete queue item %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrQueueItemNotFound
	}
	return nil
}

// Statistics returns the count of items per status.
func (s *QueueStore) Statistics(ctx context.Context) (map[pipeline.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM queue_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue statistics: %w", err)
	}
	defer rows.Close()

	stats := make(map[pipeline.Status]int)
	for rows.Next() {
		var status pipeline.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan statistics row: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// CountByStatus returns the number of items currently in any of the given
// statuses. The orchestrator uses it to enforce concurrency limits.
func (s *QueueStore) CountByStatus(ctx context.Context, statuses ...pipeline.Status) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	placeholders := strings.Repeat("?, ", len(statuses))
	placeholders = placeholders[:len(placeholders)-2]
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_items WHERE status IN (`+placeholders+`)`, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count items by status: %w", err)
	}
	return count, nil
}

func (s *QueueStore) exec(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("queue item update failed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrQueueItemNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueItem(row rowScanner) (*QueueItem, error) {
	var item QueueItem
	var (
		preSelected, sourceURL, infoHash, indexerName    sql.NullString
		clientName, clientID, tempPath, voucherPath      sql.NullString
		convertedPath, finalPath, format, quality        sql.NullString
		lastError                                        sql.NullString
		progress, seedingRatio                           sql.NullFloat64
		etaSeconds, seedingTime                          sql.NullInt64
		nextRetryAt, startedAt, completedAt              sql.NullTime
	)

	err := row.Scan(
		&item.ID, &item.CatalogID, &item.Title, &item.Author, &item.Status,
		&item.Priority, &item.Kind, &preSelected, &sourceURL, &infoHash,
		&indexerName, &clientName, &clientID, &tempPath, &voucherPath,
		&convertedPath, &finalPath, &format, &quality, &progress, &etaSeconds,
		&item.RetryCount, &nextRetryAt, &lastError, &seedingRatio,
		&seedingTime, &item.QueuedAt, &startedAt, &completedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.PreSelectedSource = nullString(preSelected)
	item.SourceURL = nullString(sourceURL)
	item.SourceInfoHash = nullString(infoHash)
	item.IndexerName = nullString(indexerName)
	item.ClientName = nullString(clientName)
	item.ClientID = nullString(clientID)
	item.TempPath = nullString(tempPath)
	item.VoucherPath = nullString(voucherPath)
	item.ConvertedPath = nullString(convertedPath)
	item.FinalPath = nullString(finalPath)
	item.Format = nullString(format)
	item.Quality = nullString(quality)
	item.LastError = nullString(lastError)
	if progress.Valid {
		item.Progress = &progress.Float64
	}
	if etaSeconds.Valid {
		item.ETASeconds = &etaSeconds.Int64
	}
	if seedingRatio.Valid {
		item.SeedingRatio = &seedingRatio.Float64
	}
	if seedingTime.Valid {
		item.SeedingTimeSeconds = &seedingTime.Int64
	}
	if nextRetryAt.Valid {
		t := nextRetryAt.Time
		item.NextRetryAt = &t
	}
	if startedAt.Valid {
		t := startedAt.Time
		item.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		item.CompletedAt = &t
	}
	return &item, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
