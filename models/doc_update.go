package models

import "time"

// DocUpdate, sqlite doc_updates tablosundaki tek bir satır: bir workspace'in
// document'ine uygulanmış op'ların (JSON) kalıcı kopyası.
type DocUpdate struct {
	ID          int64     `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Payload     string    `json:"payload"`
	Encrypted   bool      `json:"encrypted"`
	CreatedAt   time.Time `json:"created_at"`
}
