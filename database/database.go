// Package database, peer'ın yerel SQLite bağlantısını ve migration sistemini
// yönetir.
//
// Yerel veritabanı iki şey tutar: workspace başına document update log'u
// (doc_updates) ve cihaz ayarları (settings). Replike veri document'te
// yaşar; SQLite yalnızca onun kalıcı kopyasıdır.
//
// Şema sürümü SQLite'ın kendi `PRAGMA user_version` sayacında tutulur.
// Migration dosyaları "NNN_ad.sql" biçimindedir; NNN sürüm numarasıdır.
// Her dosya, sürüm güncellemesiyle birlikte tek bir transaction içinde
// uygulanır: yarım kalmış migration olmaz.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// MemoryPath, diske hiçbir şey yazmayan geçici veritabanı.
const MemoryPath = ":memory:"

// DB, veritabanı bağlantısını saran struct.
type DB struct {
	Conn *sql.DB
	log  *zap.Logger
}

// migration, sürüm numarası çözümlenmiş bir migration dosyası.
type migration struct {
	version int
	file    string
}

// New, SQLite dosyasını açar (yoksa oluşturur) ve bekleyen migration'ları
// uygular. dbPath MemoryPath ise veritabanı process ömrüyle sınırlıdır.
func New(dbPath string, migrationsFS fs.FS, log *zap.Logger) (*DB, error) {
	if log == nil {
		log = zap.NewNop()
	}

	dsn := dbPath
	if dbPath != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		// journal_mode(WAL): persistence yazarken CLI okuyabilir.
		// busy_timeout: aynı dosyayı açan ikinci bir peer SQLITE_BUSY yerine bekler.
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == MemoryPath {
		// her bağlantı ayrı bir :memory: veritabanı görür
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{Conn: conn, log: log.Named("database")}

	version, err := db.migrate(context.Background(), migrationsFS)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db.log.Info("database ready", zap.String("path", dbPath), zap.Int("schema_version", version))
	return db, nil
}

// Close, veritabanı bağlantısını kapatır.
func (db *DB) Close() error {
	return db.Conn.Close()
}

// SchemaVersion, uygulanmış son migration'ın numarası.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := db.Conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

// migrate, user_version'dan büyük numaralı migration'ları sırayla uygular
// ve son sürümü döner.
func (db *DB) migrate(ctx context.Context, migrationsFS fs.FS) (int, error) {
	pending, err := listMigrations(migrationsFS)
	if err != nil {
		return 0, err
	}

	current, err := db.SchemaVersion(ctx)
	if err != nil {
		return 0, err
	}

	for _, m := range pending {
		if m.version <= current {
			continue
		}
		content, err := fs.ReadFile(migrationsFS, m.file)
		if err != nil {
			return current, fmt.Errorf("failed to read migration %s: %w", m.file, err)
		}

		err = WithTx(ctx, db.Conn, func(tx *sql.Tx) error {
			for i, stmt := range splitStatements(string(content)) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("migration %s (statement %d): %w", m.file, i+1, err)
				}
			}
			// PRAGMA parametre almaz; version dosya adından gelen bir int.
			_, err := tx.ExecContext(ctx, "PRAGMA user_version = "+strconv.Itoa(m.version))
			return err
		})
		if err != nil {
			return current, err
		}

		current = m.version
		db.log.Info("migration applied", zap.String("file", m.file), zap.Int("version", m.version))
	}
	return current, nil
}

// listMigrations, "NNN_*.sql" dosyalarını sürüm sırasıyla döner.
// Aynı numarayı taşıyan iki dosya hatadır.
func listMigrations(migrationsFS fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var out []migration
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		version, err := strconv.Atoi(prefix)
		if !ok || err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s: name must start with a positive number followed by '_'", name)
		}
		out = append(out, migration{version: version, file: name})
	}

	slices.SortFunc(out, func(a, b migration) int { return a.version - b.version })
	for i := 1; i < len(out); i++ {
		if out[i].version == out[i-1].version {
			return nil, fmt.Errorf("migrations %s and %s share version %d", out[i-1].file, out[i].file, out[i].version)
		}
	}
	return out, nil
}

// splitStatements, SQL metnini ';' ile statement'lara böler. Tek tırnaklı
// string literal'lerin içindeki ';' ve "--" satır yorumları dikkate
// alınmaz; yorumlar çıktıdan atılır.
func splitStatements(src string) []string {
	var (
		out      []string
		current  strings.Builder
		inString bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			out = append(out, s)
		}
		current.Reset()
	}

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case inString:
			current.WriteByte(c)
			if c == '\'' {
				// '' kaçışı literal içinde kalır
				if i+1 < len(src) && src[i+1] == '\'' {
					current.WriteByte('\'')
					i++
				} else {
					inString = false
				}
			}
		case c == '\'':
			inString = true
			current.WriteByte(c)
		case c == '-' && i+1 < len(src) && src[i+1] == '-':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			current.WriteByte('\n')
		case c == ';':
			flush()
		default:
			current.WriteByte(c)
		}
	}
	flush()
	return out
}
