package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomline-systems/loomline/internal/events"
	"github.com/loomline-systems/loomline/internal/models"
)

const defaultListLimit = 100

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// =============================================================================
// Pipeline items
// =============================================================================

// SaveItem inserts or updates a pipeline item.
func (s *PostgresStore) SaveItem(ctx context.Context, item *models.PipelineItem) error {
	history, err := json.Marshal(item.StageHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal stage history: %w", err)
	}
	pending, err := json.Marshal(item.PendingValidationIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal pending validation ids: %w", err)
	}
	approvals, err := json.Marshal(item.Approvals)
	if err != nil {
		return fmt.Errorf("failed to marshal approvals: %w", err)
	}
	rejections, err := json.Marshal(item.Rejections)
	if err != nil {
		return fmt.Errorf("failed to marshal rejections: %w", err)
	}

	query := `
		INSERT INTO pipeline_items (
			id, name, description, current_stage, stage_history,
			pending_validation_ids, approvals, rejections,
			blocked, blocked_reason, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			current_stage = EXCLUDED.current_stage,
			stage_history = EXCLUDED.stage_history,
			pending_validation_ids = EXCLUDED.pending_validation_ids,
			approvals = EXCLUDED.approvals,
			rejections = EXCLUDED.rejections,
			blocked = EXCLUDED.blocked,
			blocked_reason = EXCLUDED.blocked_reason,
			updated_at = EXCLUDED.updated_at
	`

	_, err = s.pool.Exec(ctx, query,
		item.ID, item.Name, item.Description, item.CurrentStage, history,
		pending, approvals, rejections,
		item.Blocked, item.BlockedReason, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save pipeline item: %w", err)
	}

	return nil
}

// GetItem retrieves a pipeline item by ID
func (s *PostgresStore) GetItem(ctx context.Context, id string) (*models.PipelineItem, error) {
	query := `
		SELECT id, name, description, current_stage, stage_history,
		       pending_validation_ids, approvals, rejections,
		       blocked, blocked_reason, created_at, updated_at
		FROM pipeline_items
		WHERE id = $1
	`

	item, err := scanItem(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get pipeline item: %w", err)
	}

	return item, nil
}

// ListItems retrieves pipeline items, newest first
func (s *PostgresStore) ListItems(ctx context.Context, req *models.ListItemsRequest) ([]*models.PipelineItem, error) {
	whereClause := "WHERE 1=1"
	args := []interface{}{}
	argPos := 1

	if req.Stage != "" {
		whereClause += fmt.Sprintf(" AND current_stage = $%d", argPos)
		args = append(args, req.Stage)
		argPos++
	}
	if req.Blocked != nil {
		whereClause += fmt.Sprintf(" AND blocked = $%d", argPos)
		args = append(args, *req.Blocked)
		argPos++
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, name, description, current_stage, stage_history,
		       pending_validation_ids, approvals, rejections,
		       blocked, blocked_reason, created_at, updated_at
		FROM pipeline_items
		%s
		ORDER BY created_at DESC
		LIMIT $%d
	`, whereClause, argPos)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipeline items: %w", err)
	}
	defer rows.Close()

	items := []*models.PipelineItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pipeline item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*models.PipelineItem, error) {
	item := &models.PipelineItem{}
	var history, pending, approvals, rejections []byte

	if err := row.Scan(
		&item.ID, &item.Name, &item.Description, &item.CurrentStage, &history,
		&pending, &approvals, &rejections,
		&item.Blocked, &item.BlockedReason, &item.CreatedAt, &item.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(history, &item.StageHistory); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stage history: %w", err)
	}
	if err := json.Unmarshal(pending, &item.PendingValidationIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending validation ids: %w", err)
	}
	if err := json.Unmarshal(approvals, &item.Approvals); err != nil {
		return nil, fmt.Errorf("failed to unmarshal approvals: %w", err)
	}
	if err := json.Unmarshal(rejections, &item.Rejections); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rejections: %w", err)
	}

	return item, nil
}

// =============================================================================
// Alerts
// =============================================================================

// SaveAlert inserts or updates an alert.
func (s *PostgresStore) SaveAlert(ctx context.Context, alert *models.Alert) error {
	var sourceEvent []byte
	if alert.SourceEvent != nil {
		data, err := json.Marshal(alert.SourceEvent)
		if err != nil {
			return fmt.Errorf("failed to marshal source event: %w", err)
		}
		sourceEvent = data
	}

	query := `
		INSERT INTO alerts (
			id, severity, category, title, message, source_event,
			status, created_at, resolved_at, resolved_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			severity = EXCLUDED.severity,
			category = EXCLUDED.category,
			title = EXCLUDED.title,
			message = EXCLUDED.message,
			status = EXCLUDED.status,
			resolved_at = EXCLUDED.resolved_at,
			resolved_by = EXCLUDED.resolved_by
	`

	_, err := s.pool.Exec(ctx, query,
		alert.ID, alert.Severity, alert.Category, alert.Title, alert.Message, sourceEvent,
		alert.Status, alert.CreatedAt, alert.ResolvedAt, alert.ResolvedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}

	return nil
}

// GetAlert retrieves an alert by ID
func (s *PostgresStore) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	query := `
		SELECT id, severity, category, title, message, source_event,
		       status, created_at, resolved_at, resolved_by
		FROM alerts
		WHERE id = $1
	`

	alert, err := scanAlert(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}

	return alert, nil
}

// ListAlerts retrieves alerts, newest first
func (s *PostgresStore) ListAlerts(ctx context.Context, req *models.ListAlertsRequest) ([]*models.Alert, error) {
	whereClause := "WHERE 1=1"
	args := []interface{}{}
	argPos := 1

	if req.Status != "" {
		whereClause += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, req.Status)
		argPos++
	}
	if req.Severity != "" {
		whereClause += fmt.Sprintf(" AND severity = $%d", argPos)
		args = append(args, req.Severity)
		argPos++
	}
	if req.Category != "" {
		whereClause += fmt.Sprintf(" AND category = $%d", argPos)
		args = append(args, req.Category)
		argPos++
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, severity, category, title, message, source_event,
		       status, created_at, resolved_at, resolved_by
		FROM alerts
		%s
		ORDER BY created_at DESC
		LIMIT $%d
	`, whereClause, argPos)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*models.Alert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return alerts, nil
}

// DeleteAlert removes an alert
func (s *PostgresStore) DeleteAlert(ctx context.Context, id string) error {
	result, err := s.pool.Exec(ctx, "DELETE FROM alerts WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete alert: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrAlertNotFound
	}

	return nil
}

// CountOpenAlerts returns the number of open alerts
func (s *PostgresStore) CountOpenAlerts(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM alerts WHERE status = $1", models.AlertStatusOpen).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count open alerts: %w", err)
	}
	return count, nil
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	alert := &models.Alert{}
	var sourceEvent []byte

	if err := row.Scan(
		&alert.ID, &alert.Severity, &alert.Category, &alert.Title, &alert.Message, &sourceEvent,
		&alert.Status, &alert.CreatedAt, &alert.ResolvedAt, &alert.ResolvedBy,
	); err != nil {
		return nil, err
	}

	if len(sourceEvent) > 0 {
		var env events.Envelope
		if err := json.Unmarshal(sourceEvent, &env); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source event: %w", err)
		}
		alert.SourceEvent = &env
	}

	return alert, nil
}

// =============================================================================
// Event journal
// =============================================================================

// RecordEvent appends a journal entry and fills in its assigned id.
func (s *PostgresStore) RecordEvent(ctx context.Context, entry *models.JournalEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO event_journal (envelope_id, direction, module, event_type, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	var payload []byte
	if len(entry.Payload) > 0 {
		payload = entry.Payload
	}

	err := s.pool.QueryRow(ctx, query,
		entry.EnvelopeID, entry.Direction, entry.Module, entry.EventType,
		payload, entry.Status, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}

	return nil
}

// ListEvents retrieves journal entries, newest first
func (s *PostgresStore) ListEvents(ctx context.Context, req *models.ListJournalRequest) ([]*models.JournalEntry, error) {
	whereClause := "WHERE 1=1"
	args := []interface{}{}
	argPos := 1

	if req.Direction != "" {
		whereClause += fmt.Sprintf(" AND direction = $%d", argPos)
		args = append(args, req.Direction)
		argPos++
	}
	if req.Module != "" {
		whereClause += fmt.Sprintf(" AND module = $%d", argPos)
		args = append(args, req.Module)
		argPos++
	}
	if req.EventType != "" {
		whereClause += fmt.Sprintf(" AND event_type = $%d", argPos)
		args = append(args, req.EventType)
		argPos++
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, envelope_id, direction, module, event_type, payload, status, created_at
		FROM event_journal
		%s
		ORDER BY id DESC
		LIMIT $%d
	`, whereClause, argPos)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	entries := []*models.JournalEntry{}
	for rows.Next() {
		entry := &models.JournalEntry{}
		var payload []byte
		if err := rows.Scan(
			&entry.ID, &entry.EnvelopeID, &entry.Direction, &entry.Module,
			&entry.EventType, &payload, &entry.Status, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		if len(payload) > 0 {
			entry.Payload = payload
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return entries, nil
}

// Close closes the database connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
