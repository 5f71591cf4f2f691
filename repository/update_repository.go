package repository

import (
	"context"

	"github.com/akinalp/meshchat/models"
)

// UpdateRepository, workspace document'lerinin kalıcı update log'u için interface.
//
// Append: tek bir update satırı ekler (payload opak: JSON veya şifreli base64).
// ListByWorkspace: satırları yazılma sırasıyla döner.
// Compact: workspace'in tüm satırlarını tek bir satırla atomik olarak değiştirir.
type UpdateRepository interface {
	Append(ctx context.Context, workspaceID, payload string, encrypted bool) error
	ListByWorkspace(ctx context.Context, workspaceID string) ([]models.DocUpdate, error)
	Count(ctx context.Context, workspaceID string) (int, error)
	Compact(ctx context.Context, workspaceID, payload string, encrypted bool) error
	DeleteWorkspace(ctx context.Context, workspaceID string) error
}
