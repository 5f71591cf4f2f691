package repository

import (
	"fmt"

	"github.com/akinalp/meshchat/crdt"
	"github.com/akinalp/meshchat/models"
	"github.com/akinalp/meshchat/pkg"
)

type docUserRepo struct {
	doc *crdt.Doc
}

// NewDocUserRepo, constructor — interface döner.
func NewDocUserRepo(doc *crdt.Doc) UserRepository {
	return &docUserRepo{doc: doc}
}

func (r *docUserRepo) Create(user *models.User) error {
	var err error
	r.doc.Transact(func(tx *crdt.Tx) {
		id := user.Meta.ID
		if tx.Has(UserPath(id)...) {
			err = fmt.Errorf("%w: user %s", pkg.ErrAlreadyExists, id)
			return
		}
		tx.EnsureMap(KeyUsers)
		tx.SetMap(UserPath(id)...)
		tx.Set(UserPath(id, KeyMeta), user.Meta)
		tx.Set(UserPath(id, fieldUsername), user.Username)
		tx.Set(UserPath(id, fieldFullName), user.FullName)
		tx.Set(UserPath(id, fieldAvatar), user.Avatar)
	})
	return err
}

func (r *docUserRepo) GetByID(id string) (*models.User, error) {
	var user *models.User
	r.doc.Read(func(rd crdt.Reader) {
		user = readUser(rd, id)
	})
	if user == nil {
		return nil, fmt.Errorf("%w: user %s", pkg.ErrNotFound, id)
	}
	return user, nil
}

// FindByUsername, username'i eşleşen ilk kullanıcıyı (createdAt sırasıyla) döner.
func (r *docUserRepo) FindByUsername(username string) (*models.User, error) {
	for _, u := range r.List() {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("%w: username %s", pkg.ErrNotFound, username)
}

// List, meta'sı okunabilen tüm kullanıcıları createdAt sırasıyla döner.
func (r *docUserRepo) List() []models.User {
	var users []models.User
	r.doc.Read(func(rd crdt.Reader) {
		for _, id := range rd.Keys(KeyUsers) {
			if u := readUser(rd, id); u != nil {
				users = append(users, *u)
			}
		}
	})
	sortByCreated(users, func(u models.User) (int64, string) { return u.Meta.CreatedAt, u.Meta.ID })
	return users
}

func (r *docUserRepo) UpdateProfile(id string, profile models.UserProfile) error {
	var err error
	r.doc.Transact(func(tx *crdt.Tx) {
		if !tx.IsMap(UserPath(id)...) {
			err = fmt.Errorf("%w: user %s", pkg.ErrNotFound, id)
			return
		}
		if profile.Username != nil {
			tx.Set(UserPath(id, fieldUsername), *profile.Username)
		}
		if profile.FullName != nil {
			tx.Set(UserPath(id, fieldFullName), *profile.FullName)
		}
		if profile.Avatar != nil {
			tx.Set(UserPath(id, fieldAvatar), *profile.Avatar)
		}
	})
	return err
}

func (r *docUserRepo) Exists(id string) bool {
	return r.doc.IsMap(UserPath(id)...)
}

// readUser, users/<id>'yi okur. Meta eksikse (henüz senkronize olmamış
// veya bozuk) nil döner.
func readUser(rd crdt.Reader, id string) *models.User {
	var u models.User
	if !rd.Lookup(&u.Meta, UserPath(id, KeyMeta)...) || u.Meta.ID == "" {
		return nil
	}
	rd.Lookup(&u.Username, UserPath(id, fieldUsername)...)
	rd.Lookup(&u.FullName, UserPath(id, fieldFullName)...)
	rd.Lookup(&u.Avatar, UserPath(id, fieldAvatar)...)
	return &u
}
