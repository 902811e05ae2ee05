package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mkserv/keyserv/internal/models"
)

// AuditLogFilter defines filters for querying the audit trail.
type AuditLogFilter struct {
	AppID  *int64
	KeyID  *int64
	Event  *models.Event
	Limit  int
	Offset int
}

// insertAuditLogTx appends one journal entry inside an existing
// transaction, stamping its public identifier from the assigned id.
func insertAuditLogTx(ctx context.Context, tx pgx.Tx, entry *models.AuditLog) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO audit_logs (app_id, key_id, event_type, message, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, entry.AppID, entry.KeyID, int(entry.Event), entry.Message, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}

	entry.PublicID, err = stampPublicID(ctx, tx, "audit_logs", entry.ID)
	return err
}

// AppendAuditLog appends one journal entry in its own transaction.
func (db *DB) AppendAuditLog(ctx context.Context, entry *models.AuditLog) error {
	err := db.ExecTx(ctx, func(tx pgx.Tx) error {
		return insertAuditLogTx(ctx, tx, entry)
	})
	if err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

// ListAuditLogs returns journal entries matching the filter, newest
// first.
func (db *DB) ListAuditLogs(ctx context.Context, filter AuditLogFilter) ([]*models.AuditLog, error) {
	query := `
		SELECT id, public_id, app_id, key_id, event_type, message, created_at
		FROM audit_logs
		WHERE true
	`
	args := []any{}
	argIdx := 1

	if filter.AppID != nil {
		query += fmt.Sprintf(" AND app_id = $%d", argIdx)
		args = append(args, *filter.AppID)
		argIdx++
	}
	if filter.KeyID != nil {
		query += fmt.Sprintf(" AND key_id = $%d", argIdx)
		args = append(args, *filter.KeyID)
		argIdx++
	}
	if filter.Event != nil {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, int(*filter.Event))
		argIdx++
	}

	query += " ORDER BY created_at DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		var entry models.AuditLog
		if err := rows.Scan(&entry.ID, &entry.PublicID, &entry.AppID, &entry.KeyID,
			&entry.Event, &entry.Message, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		entry.EventName = entry.Event.String()
		logs = append(logs, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}
	return logs, nil
}

// CountAuditLogs returns the number of journal entries matching the
// filter.
func (db *DB) CountAuditLogs(ctx context.Context, filter AuditLogFilter) (int64, error) {
	query := `SELECT COUNT(*) FROM audit_logs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.AppID != nil {
		query += fmt.Sprintf(" AND app_id = $%d", argIdx)
		args = append(args, *filter.AppID)
		argIdx++
	}
	if filter.KeyID != nil {
		query += fmt.Sprintf(" AND key_id = $%d", argIdx)
		args = append(args, *filter.KeyID)
		argIdx++
	}
	if filter.Event != nil {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, int(*filter.Event))
	}

	var count int64
	if err := db.Pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count audit logs: %w", err)
	}
	return count, nil
}
