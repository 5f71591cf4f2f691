package repository

import "github.com/akinalp/meshchat/models"

// MessageRepository, document'teki mesajlar ve reaksiyonları için interface.
//
// Kanal yoksa yazma metodları ErrNotFound döner. Reaksiyon ekleme/çıkarma
// idempotenttir; son kullanıcı çıkınca emoji key'i de silinir.
type MessageRepository interface {
	Create(channelID string, msg *models.Message) error
	GetByID(channelID, id string) (*models.Message, error)
	ListByChannel(channelID string) ([]models.Message, error)
	IDs(channelID string) []string
	UpdateText(channelID, id, text string, at int64) error
	SoftDelete(channelID, id string, at int64) error
	AddReaction(channelID, id, emoji, userID string) error
	RemoveReaction(channelID, id, emoji, userID string) error
	ClearChannel(channelID string) (int, error)
}
