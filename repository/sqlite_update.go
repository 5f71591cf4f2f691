package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/akinalp/meshchat/database"
	"github.com/akinalp/meshchat/models"
)

// sqliteUpdateRepo, UpdateRepository interface'inin SQLite implementasyonu.
type sqliteUpdateRepo struct {
	db *sql.DB
}

// NewSQLiteUpdateRepo, constructor — interface döner.
func NewSQLiteUpdateRepo(db *sql.DB) UpdateRepository {
	return &sqliteUpdateRepo{db: db}
}

func (r *sqliteUpdateRepo) Append(ctx context.Context, workspaceID, payload string, encrypted bool) error {
	return insertUpdate(ctx, r.db, workspaceID, payload, encrypted)
}

func (r *sqliteUpdateRepo) ListByWorkspace(ctx context.Context, workspaceID string) ([]models.DocUpdate, error) {
	query := `
		SELECT id, workspace_id, payload, encrypted, created_at
		FROM doc_updates
		WHERE workspace_id = ?
		ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list doc updates: %w", err)
	}
	defer rows.Close()

	var updates []models.DocUpdate
	for rows.Next() {
		var u models.DocUpdate
		if err := rows.Scan(&u.ID, &u.WorkspaceID, &u.Payload, &u.Encrypted, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan doc update: %w", err)
		}
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating doc update rows: %w", err)
	}

	return updates, nil
}

func (r *sqliteUpdateRepo) Count(ctx context.Context, workspaceID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM doc_updates WHERE workspace_id = ?`, workspaceID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count doc updates: %w", err)
	}
	return n, nil
}

// Compact, DELETE + INSERT'i tek transaction'da çalıştırır: yarıda kalırsa
// eski satırlar yerinde kalır.
func (r *sqliteUpdateRepo) Compact(ctx context.Context, workspaceID, payload string, encrypted bool) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM doc_updates WHERE workspace_id = ?`, workspaceID); err != nil {
			return fmt.Errorf("failed to clear doc updates: %w", err)
		}
		return insertUpdate(ctx, tx, workspaceID, payload, encrypted)
	})
}

func (r *sqliteUpdateRepo) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM doc_updates WHERE workspace_id = ?`, workspaceID); err != nil {
		return fmt.Errorf("failed to delete workspace updates: %w", err)
	}
	return nil
}

func insertUpdate(ctx context.Context, q database.TxQuerier, workspaceID, payload string, encrypted bool) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO doc_updates (workspace_id, payload, encrypted) VALUES (?, ?, ?)`,
		workspaceID, payload, encrypted,
	)
	if err != nil {
		return fmt.Errorf("failed to insert doc update: %w", err)
	}
	return nil
}
