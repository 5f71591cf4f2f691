// Package pkg, projede paylaşılan utility'leri barındırır.
// Bu dosya domain-level error tanımlarını içerir.
//
// Karşılaştırma her zaman errors.Is ile yapılır, wrap edilmiş error'lar
// da eşleşir:
//
//	if errors.Is(err, pkg.ErrTransport) { ... }
//
// Mutation API (services.ChatService) bu error'ları dışarı sızdırmaz;
// bulunamayan entity için sentinel değer ("" / false) döner. Error'lar
// repository, persistence, transport ve relay katmanlarında kullanılır.
package pkg

import "errors"

// Domain-level error'lar.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrBadRequest    = errors.New("bad request")

	// ErrTransport, peer transport'un bağlanamadığı veya koptuğu durumlar.
	// WorkspaceManager.BindWorkspace bu error'ı wrap ederek döner.
	ErrTransport = errors.New("transport error")

	// ErrClosed, kapatılmış bir session/provider üzerinde işlem denendiğinde döner.
	ErrClosed = errors.New("closed")
)
