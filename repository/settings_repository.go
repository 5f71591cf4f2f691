package repository

import "context"

// Ayar anahtarları.
const (
	SettingCurrentUserID = "current_user_id"
	SettingDarkMode      = "dark_mode"
)

// SettingCurrentChannel, workspace'e özel seçili kanal anahtarı.
// Kanal id'leri workspace'ler arasında anlamsız olduğu için workspace ile
// ayrıştırılır.
func SettingCurrentChannel(workspaceID string) string {
	return "current_channel_id:" + workspaceID
}

// SettingsRepository, cihaz ayarları (key-value) için interface.
// Get, anahtar yoksa ErrNotFound döner.
type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
