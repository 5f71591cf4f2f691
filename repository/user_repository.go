package repository

import "github.com/akinalp/meshchat/models"

// UserRepository, document'teki kullanıcılar için interface.
//
// Create: meta + alanları tek transaction'da yazar; id zaten varsa ErrAlreadyExists.
// UpdateProfile: sadece verilen alanları yazar, meta'ya dokunmaz.
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id string) (*models.User, error)
	FindByUsername(username string) (*models.User, error)
	List() []models.User
	UpdateProfile(id string, profile models.UserProfile) error
	Exists(id string) bool
}
