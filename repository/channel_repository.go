package repository

import "github.com/akinalp/meshchat/models"

// ChannelRepository, document'teki kanallar için interface.
//
// Create: kanalı boş messages/members map'leriyle birlikte oluşturur.
// Delete: kanalı mesajlarıyla birlikte kaldırır; eşzamanlı gelen mesajlar
// görünmez kalır.
type ChannelRepository interface {
	Create(channel *models.Channel) error
	GetByID(id string) (*models.Channel, error)
	List() []models.Channel
	Update(id, name, description string) error
	ToggleLock(id string) (bool, error)
	Delete(id string) error
	Exists(id string) bool
	Count() int
}
