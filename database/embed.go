// Package database embed dosyası — migration SQL dosyalarını binary'ye gömer.
//
// CLI peer tek binary olarak dağıtılır; migration dosyaları yanında taşınmaz.
package database

import (
	"embed"
	"io/fs"
)

// EmbeddedMigrations, migrations/ dizinindeki SQL dosyalarını içerir.
// Kullanım: fs.Sub(EmbeddedMigrations, "migrations") ile alt dizine eriş.
//
//go:embed migrations/*.sql
var EmbeddedMigrations embed.FS

// Migrations, EmbeddedMigrations'ın migrations/ alt dizini.
func Migrations() fs.FS {
	sub, err := fs.Sub(EmbeddedMigrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}
