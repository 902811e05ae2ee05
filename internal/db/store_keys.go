package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mkserv/keyserv/internal/models"
)

const keyColumns = `id, public_id, app_id, token, remaining, enabled, hwid, memo,
	valid_until, total_activations, total_checks,
	last_activation_ts, last_activation_ip, last_check_ts, last_check_ip, created_at`

func scanKey(row pgx.Row) (*models.Key, error) {
	var key models.Key
	err := row.Scan(
		&key.ID, &key.PublicID, &key.AppID, &key.Token, &key.Remaining, &key.Enabled,
		&key.HWID, &key.Memo, &key.ValidUntil, &key.TotalActivations, &key.TotalChecks,
		&key.LastActivationTS, &key.LastActivationIP, &key.LastCheckTS, &key.LastCheckIP,
		&key.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &key, nil
}

// CreateKey inserts a new key, stamps its public identifier from the
// assigned internal id, and appends the issue audit entry, all in one
// transaction.
func (db *DB) CreateKey(ctx context.Context, key *models.Key, entry *models.AuditLog) error {
	err := db.ExecTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO keys (app_id, token, remaining, enabled, hwid, memo, valid_until, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`, key.AppID, key.Token, key.Remaining, key.Enabled, key.HWID, key.Memo,
			key.ValidUntil, key.CreatedAt).Scan(&key.ID)
		if err != nil {
			return mapUniqueViolation(err)
		}

		if key.PublicID, err = stampPublicID(ctx, tx, "keys", key.ID); err != nil {
			return err
		}

		if entry != nil {
			keyID := key.ID
			appID := key.AppID
			entry.KeyID = &keyID
			entry.AppID = &appID
			if err := insertAuditLogTx(ctx, tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create key: %w", err)
	}
	return nil
}

// GetKeyByID returns a key by internal id, or nil if none exists.
func (db *DB) GetKeyByID(ctx context.Context, id int64) (*models.Key, error) {
	key, err := scanKey(db.Pool.QueryRow(ctx,
		`SELECT `+keyColumns+` FROM keys WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get key: %w", err)
	}
	return key, nil
}

// GetKeyByToken returns the key matching a presented token, or nil if
// none exists.
func (db *DB) GetKeyByToken(ctx context.Context, token string) (*models.Key, error) {
	key, err := scanKey(db.Pool.QueryRow(ctx,
		`SELECT `+keyColumns+` FROM keys WHERE token = $1`, token))
	if err != nil {
		return nil, fmt.Errorf("get key by token: %w", err)
	}
	return key, nil
}

// ListKeysByAppID returns all keys owned by an application, newest first.
func (db *DB) ListKeysByAppID(ctx context.Context, appID int64) ([]*models.Key, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+keyColumns+` FROM keys WHERE app_id = $1 ORDER BY created_at DESC`, appID)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var result []*models.Key
	for rows.Next() {
		var key models.Key
		if err := rows.Scan(
			&key.ID, &key.PublicID, &key.AppID, &key.Token, &key.Remaining, &key.Enabled,
			&key.HWID, &key.Memo, &key.ValidUntil, &key.TotalActivations, &key.TotalChecks,
			&key.LastActivationTS, &key.LastActivationIP, &key.LastCheckTS, &key.LastCheckIP,
			&key.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		result = append(result, &key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return result, nil
}

// ApplyActivation performs the activation write as a single conditional
// update: it only takes effect while the key is enabled, unexpired,
// budgeted, and either unbound or bound to the presenting hardware. The
// predicate is re-evaluated by the database at write time, so two
// concurrent activations against one remaining unit cannot both apply.
// When the update applies, the audit entry is inserted in the same
// transaction; when it does not, the transaction writes nothing and the
// caller re-reads to classify the failure.
func (db *DB) ApplyActivation(ctx context.Context, keyID int64, hwid, ip string, now time.Time, entry *models.AuditLog) (bool, error) {
	applied := false
	err := db.ExecTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE keys
			SET remaining = CASE WHEN remaining = -1 THEN -1 ELSE remaining - 1 END,
			    hwid = $2,
			    total_activations = total_activations + 1,
			    last_activation_ts = $3,
			    last_activation_ip = $4
			WHERE id = $1
			  AND enabled
			  AND valid_until >= $3
			  AND (remaining = -1 OR remaining > 0)
			  AND (hwid = '' OR hwid = $2)
		`, keyID, hwid, now, ip)
		if err != nil {
			return fmt.Errorf("conditional activation update: %w", err)
		}

		if tag.RowsAffected() == 0 {
			return nil
		}
		applied = true

		return insertAuditLogTx(ctx, tx, entry)
	})
	if err != nil {
		return false, fmt.Errorf("apply activation: %w", err)
	}
	return applied, nil
}

// RecordCheck bumps the check counters and snapshot fields and appends
// the access audit entry in one transaction. Checks never touch the
// activation budget.
func (db *DB) RecordCheck(ctx context.Context, keyID int64, ip string, now time.Time, entry *models.AuditLog) error {
	err := db.ExecTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE keys
			SET total_checks = total_checks + 1,
			    last_check_ts = $2,
			    last_check_ip = $3
			WHERE id = $1
		`, keyID, now, ip)
		if err != nil {
			return fmt.Errorf("update check counters: %w", err)
		}
		return insertAuditLogTx(ctx, tx, entry)
	})
	if err != nil {
		return fmt.Errorf("record check: %w", err)
	}
	return nil
}

// SetKeyEnabled toggles the kill-switch and appends the modification
// audit entry in one transaction.
func (db *DB) SetKeyEnabled(ctx context.Context, keyID int64, enabled bool, entry *models.AuditLog) error {
	err := db.ExecTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE keys SET enabled = $2 WHERE id = $1`, keyID, enabled)
		if err != nil {
			return fmt.Errorf("update enabled flag: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("key %d not found", keyID)
		}
		return insertAuditLogTx(ctx, tx, entry)
	})
	if err != nil {
		return fmt.Errorf("set key enabled: %w", err)
	}
	return nil
}
