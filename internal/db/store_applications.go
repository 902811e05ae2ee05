package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mkserv/keyserv/internal/keys"
	"github.com/mkserv/keyserv/internal/models"
	"github.com/mkserv/keyserv/internal/uid"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint errors.
const uniqueViolation = "23505"

// mapUniqueViolation translates unique-constraint errors into the domain
// sentinels the service layer branches on.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case "keys_token_key":
		return keys.ErrDuplicateToken
	case "applications_name_key":
		return keys.ErrDuplicateName
	default:
		return err
	}
}

// stampPublicID derives the public identifier from a freshly assigned
// internal id and persists it in the same transaction. The two steps
// cannot be merged: the codec consumes the id, which exists only after
// the insert.
func stampPublicID(ctx context.Context, tx pgx.Tx, table string, id int64) (string, error) {
	pub, err := uid.FromID(id)
	if err != nil {
		return "", fmt.Errorf("derive public id for %s %d: %w", table, id, err)
	}
	_, err = tx.Exec(ctx, fmt.Sprintf("UPDATE %s SET public_id = $1 WHERE id = $2", table), pub.String(), id)
	if err != nil {
		return "", fmt.Errorf("stamp public id on %s %d: %w", table, id, err)
	}
	return pub.String(), nil
}

// CreateApplication inserts a new application, stamps its public
// identifier, and appends the registration audit entry, all in one
// transaction.
func (db *DB) CreateApplication(ctx context.Context, app *models.Application, entry *models.AuditLog) error {
	err := db.ExecTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO applications (name, support_message, created_at)
			VALUES ($1, $2, $3)
			RETURNING id
		`, app.Name, app.SupportMessage, app.CreatedAt).Scan(&app.ID)
		if err != nil {
			return mapUniqueViolation(err)
		}

		if app.PublicID, err = stampPublicID(ctx, tx, "applications", app.ID); err != nil {
			return err
		}

		if entry != nil {
			appID := app.ID
			entry.AppID = &appID
			if err := insertAuditLogTx(ctx, tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	return nil
}

const applicationColumns = `id, public_id, name, support_message, created_at`

func scanApplication(row pgx.Row) (*models.Application, error) {
	var app models.Application
	err := row.Scan(&app.ID, &app.PublicID, &app.Name, &app.SupportMessage, &app.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &app, nil
}

// GetApplicationByID returns an application by internal id, or nil if
// none exists.
func (db *DB) GetApplicationByID(ctx context.Context, id int64) (*models.Application, error) {
	app, err := scanApplication(db.Pool.QueryRow(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get application: %w", err)
	}
	return app, nil
}

// GetApplicationByName returns an application by its unique name, or nil
// if none exists.
func (db *DB) GetApplicationByName(ctx context.Context, name string) (*models.Application, error) {
	app, err := scanApplication(db.Pool.QueryRow(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE name = $1`, name))
	if err != nil {
		return nil, fmt.Errorf("get application by name: %w", err)
	}
	return app, nil
}

// ListApplications returns all applications ordered by creation time.
func (db *DB) ListApplications(ctx context.Context) ([]*models.Application, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+applicationColumns+` FROM applications ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var apps []*models.Application
	for rows.Next() {
		var app models.Application
		if err := rows.Scan(&app.ID, &app.PublicID, &app.Name, &app.SupportMessage, &app.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		apps = append(apps, &app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applications: %w", err)
	}
	return apps, nil
}
