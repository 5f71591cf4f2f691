package repository

import (
	"fmt"

	"github.com/akinalp/meshchat/crdt"
	"github.com/akinalp/meshchat/models"
	"github.com/akinalp/meshchat/pkg"
)

type docChannelRepo struct {
	doc *crdt.Doc
}

// NewDocChannelRepo, constructor — interface döner.
func NewDocChannelRepo(doc *crdt.Doc) ChannelRepository {
	return &docChannelRepo{doc: doc}
}

func (r *docChannelRepo) Create(ch *models.Channel) error {
	var err error
	r.doc.Transact(func(tx *crdt.Tx) {
		id := ch.Meta.ID
		if tx.Has(ChannelPath(id)...) {
			err = fmt.Errorf("%w: channel %s", pkg.ErrAlreadyExists, id)
			return
		}
		tx.EnsureMap(KeyChannels)
		tx.SetMap(ChannelPath(id)...)
		tx.Set(ChannelPath(id, KeyMeta), ch.Meta)
		tx.Set(ChannelPath(id, fieldName), ch.Name)
		tx.Set(ChannelPath(id, fieldDescription), ch.Description)
		tx.Set(ChannelPath(id, fieldLocked), ch.Locked)
		tx.SetMap(ChannelPath(id, KeyMessages)...)
		tx.SetMap(ChannelPath(id, KeyMembers)...)
	})
	return err
}

func (r *docChannelRepo) GetByID(id string) (*models.Channel, error) {
	var ch *models.Channel
	r.doc.Read(func(rd crdt.Reader) {
		ch = readChannel(rd, id)
	})
	if ch == nil {
		return nil, fmt.Errorf("%w: channel %s", pkg.ErrNotFound, id)
	}
	return ch, nil
}

// List, kanalları createdAt sırasıyla döner.
func (r *docChannelRepo) List() []models.Channel {
	var channels []models.Channel
	r.doc.Read(func(rd crdt.Reader) {
		for _, id := range rd.Keys(KeyChannels) {
			if ch := readChannel(rd, id); ch != nil {
				channels = append(channels, *ch)
			}
		}
	})
	sortByCreated(channels, func(c models.Channel) (int64, string) { return c.Meta.CreatedAt, c.Meta.ID })
	return channels
}

func (r *docChannelRepo) Update(id, name, description string) error {
	var err error
	r.doc.Transact(func(tx *crdt.Tx) {
		if !tx.IsMap(ChannelPath(id)...) {
			err = fmt.Errorf("%w: channel %s", pkg.ErrNotFound, id)
			return
		}
		tx.Set(ChannelPath(id, fieldName), name)
		tx.Set(ChannelPath(id, fieldDescription), description)
	})
	return err
}

// ToggleLock, locked alanını tersine çevirir ve yeni değeri döner.
// Alan eksikse false kabul edilir.
func (r *docChannelRepo) ToggleLock(id string) (bool, error) {
	var (
		locked bool
		err    error
	)
	r.doc.Transact(func(tx *crdt.Tx) {
		if !tx.IsMap(ChannelPath(id)...) {
			err = fmt.Errorf("%w: channel %s", pkg.ErrNotFound, id)
			return
		}
		tx.Lookup(&locked, ChannelPath(id, fieldLocked)...)
		locked = !locked
		tx.Set(ChannelPath(id, fieldLocked), locked)
	})
	return locked, err
}

func (r *docChannelRepo) Delete(id string) error {
	var err error
	r.doc.Transact(func(tx *crdt.Tx) {
		if !tx.Delete(ChannelPath(id)...) {
			err = fmt.Errorf("%w: channel %s", pkg.ErrNotFound, id)
		}
	})
	return err
}

func (r *docChannelRepo) Exists(id string) bool {
	return r.doc.IsMap(ChannelPath(id)...)
}

func (r *docChannelRepo) Count() int {
	return len(r.doc.Keys(KeyChannels))
}

// readChannel, channels/<id>'yi okur. Meta eksikse nil.
func readChannel(rd crdt.Reader, id string) *models.Channel {
	var ch models.Channel
	if !rd.Lookup(&ch.Meta, ChannelPath(id, KeyMeta)...) || ch.Meta.ID == "" {
		return nil
	}
	rd.Lookup(&ch.Name, ChannelPath(id, fieldName)...)
	rd.Lookup(&ch.Description, ChannelPath(id, fieldDescription)...)
	rd.Lookup(&ch.Locked, ChannelPath(id, fieldLocked)...)
	return &ch
}
