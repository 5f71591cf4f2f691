package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/akinalp/meshchat/database"
	"github.com/akinalp/meshchat/pkg"
)

// sqliteSettingsRepo, SettingsRepository interface'inin SQLite implementasyonu.
type sqliteSettingsRepo struct {
	db database.TxQuerier
}

// NewSQLiteSettingsRepo, constructor — interface döner.
func NewSQLiteSettingsRepo(db database.TxQuerier) SettingsRepository {
	return &sqliteSettingsRepo{db: db}
}

func (r *sqliteSettingsRepo) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: setting %s", pkg.ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting: %w", err)
	}
	return value, nil
}

// Set, upsert: anahtar varsa değeri günceller.
func (r *sqliteSettingsRepo) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key)
		DO UPDATE SET value = excluded.value,
		              updated_at = excluded.updated_at`

	if _, err := r.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

func (r *sqliteSettingsRepo) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete setting: %w", err)
	}
	return nil
}
