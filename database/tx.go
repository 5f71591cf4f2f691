package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// TxQuerier, *sql.DB ve *sql.Tx'in ortak sorgu yüzeyi. Aynı repository
// fonksiyonu hem tek başına hem bir transaction içinde çağrılabilir.
type TxQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx, fn'i tek bir transaction içinde çalıştırır. fn nil dönerse commit,
// hata dönerse veya panic ederse rollback yapılır (panic yeniden fırlatılır).
//
// Kullanan yerler: migration'lar (dosya + user_version atomik) ve update
// log compaction'ı (silme + birleşik satır atomik).
//
//	err := database.WithTx(ctx, db.Conn, func(tx *sql.Tx) error {
//		if _, err := tx.ExecContext(ctx, "DELETE ..."); err != nil {
//			return err
//		}
//		_, err := tx.ExecContext(ctx, "INSERT ...")
//		return err
//	})
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		rbErr := tx.Rollback()
		if p := recover(); p != nil {
			panic(p)
		}
		if rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}
