// Package static, relay'in durum sayfasını binary'ye gömer.
//
// Sayfa /api/rooms ve /api/health endpoint'lerini periyodik olarak
// sorgulayan tek bir HTML dosyasıdır; build adımı gerektirmez.
package static

import (
	"embed"
	"io/fs"
)

//go:embed all:dist
var statusFS embed.FS

// StatusFS, dist/ dizininin kökünü döner (index.html doğrudan "/" altında).
func StatusFS() fs.FS {
	sub, err := fs.Sub(statusFS, "dist")
	if err != nil {
		// dist embed edildiği için oluşamaz.
		panic(err)
	}
	return sub
}
