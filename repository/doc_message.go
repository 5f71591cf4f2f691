package repository

import (
	"fmt"
	"slices"

	"github.com/akinalp/meshchat/crdt"
	"github.com/akinalp/meshchat/models"
	"github.com/akinalp/meshchat/pkg"
)

type docMessageRepo struct {
	doc *crdt.Doc
}

// NewDocMessageRepo, constructor — interface döner.
func NewDocMessageRepo(doc *crdt.Doc) MessageRepository {
	return &docMessageRepo{doc: doc}
}

func (r *docMessageRepo) Create(channelID string, msg *models.Message) error {
	var err error
	r.doc.Transact(func(tx *crdt.Tx) {
		if !tx.IsMap(ChannelPath(channelID)...) {
			err = fmt.Errorf("%w: channel %s", pkg.ErrNotFound, channelID)
			return
		}
		id := msg.Meta.ID
		if tx.Has(MessagePath(channelID, id)...) {
			err = fmt.Errorf("%w: message %s", pkg.ErrAlreadyExists, id)
			return
		}
		tx.EnsureMap(ChannelPath(channelID, KeyMessages)...)
		tx.SetMap(MessagePath(channelID, id)...)
		tx.Set(MessagePath(channelID, id, KeyMeta), msg.Meta)
		tx.Set(MessagePath(channelID, id, fieldText), msg.Text)
		tx.SetMap(MessagePath(channelID, id, KeyReactions)...)
	})
	return err
}

func (r *docMessageRepo) GetByID(channelID, id string) (*models.Message, error) {
	var msg *models.Message
	r.doc.Read(func(rd crdt.Reader) {
		msg = readMessage(rd, channelID, id)
	})
	if msg == nil {
		return nil, fmt.Errorf("%w: message %s/%s", pkg.ErrNotFound, channelID, id)
	}
	return msg, nil
}

// ListByChannel, kanaldaki tüm mesajları (thread yanıtları dahil) createdAt
// sırasıyla döner. Meta'sı okunamayan mesajlar atlanır.
func (r *docMessageRepo) ListByChannel(channelID string) ([]models.Message, error) {
	var (
		msgs   []models.Message
		exists bool
	)
	r.doc.Read(func(rd crdt.Reader) {
		exists = rd.IsMap(ChannelPath(channelID)...)
		for _, id := range rd.Keys(ChannelPath(channelID, KeyMessages)...) {
			if m := readMessage(rd, channelID, id); m != nil {
				msgs = append(msgs, *m)
			}
		}
	})
	if !exists {
		return nil, fmt.Errorf("%w: channel %s", pkg.ErrNotFound, channelID)
	}
	sortByCreated(msgs, func(m models.Message) (int64, string) { return m.Meta.CreatedAt, m.Meta.ID })
	return msgs, nil
}

func (r *docMessageRepo) IDs(channelID string) []string {
	return r.doc.Keys(ChannelPath(channelID, KeyMessages)...)
}

func (r *docMessageRepo) UpdateText(channelID, id, text string, at int64) error {
	var err error
	r.doc.Transact(func(tx *crdt.Tx) {
		if !tx.IsMap(MessagePath(channelID, id)...) {
			err = fmt.Errorf("%w: message %s/%s", pkg.ErrNotFound, channelID, id)
			return
		}
		tx.Set(MessagePath(channelID, id, fieldText), text)
		tx.Set(MessagePath(channelID, id, fieldUpdatedAt), at)
	})
	return err
}

// SoftDelete, mesajı silinmiş olarak işaretler. Meta, text ve reaksiyonlar
// korunur; mesaj map'ten hiç çıkarılmaz.
func (r *docMessageRepo) SoftDelete(channelID, id string, at int64) error {
	var err error
	r.doc.Transact(func(tx *crdt.Tx) {
		if !tx.IsMap(MessagePath(channelID, id)...) {
			err = fmt.Errorf("%w: message %s/%s", pkg.ErrNotFound, channelID, id)
			return
		}
		tx.Set(MessagePath(channelID, id, fieldDeleted), true)
		tx.Set(MessagePath(channelID, id, fieldUpdatedAt), at)
	})
	return err
}

// AddReaction, kullanıcıyı emoji kümesine ekler. Zaten ekliyse hiçbir Op
// üretilmez.
func (r *docMessageRepo) AddReaction(channelID, id, emoji, userID string) error {
	var err error
	r.doc.Transact(func(tx *crdt.Tx) {
		if !tx.IsMap(MessagePath(channelID, id)...) {
			err = fmt.Errorf("%w: message %s/%s", pkg.ErrNotFound, channelID, id)
			return
		}
		userPath := MessagePath(channelID, id, KeyReactions, emoji, userID)
		var present bool
		if tx.Lookup(&present, userPath...) && present {
			return
		}
		tx.EnsureMap(MessagePath(channelID, id, KeyReactions)...)
		tx.EnsureMap(MessagePath(channelID, id, KeyReactions, emoji)...)
		tx.Set(userPath, true)
	})
	return err
}

// RemoveReaction, kullanıcıyı emoji kümesinden çıkarır; küme boşalırsa
// emoji key'ini de siler. Kullanıcı kümede değilse no-op.
func (r *docMessageRepo) RemoveReaction(channelID, id, emoji, userID string) error {
	var err error
	r.doc.Transact(func(tx *crdt.Tx) {
		if !tx.IsMap(MessagePath(channelID, id)...) {
			err = fmt.Errorf("%w: message %s/%s", pkg.ErrNotFound, channelID, id)
			return
		}
		emojiPath := MessagePath(channelID, id, KeyReactions, emoji)
		if !tx.Delete(append(slices.Clone(emojiPath), userID)...) {
			return
		}
		if len(tx.Keys(emojiPath...)) == 0 {
			tx.Delete(emojiPath...)
		}
	})
	return err
}

// ClearChannel, o an görülen tüm mesaj key'lerini siler (observed-remove):
// silme anında bu replica'ya henüz ulaşmamış mesajlar kalır.
// Silinen mesaj sayısını döner.
func (r *docMessageRepo) ClearChannel(channelID string) (int, error) {
	var (
		n   int
		err error
	)
	r.doc.Transact(func(tx *crdt.Tx) {
		if !tx.IsMap(ChannelPath(channelID)...) {
			err = fmt.Errorf("%w: channel %s", pkg.ErrNotFound, channelID)
			return
		}
		for _, id := range tx.Keys(ChannelPath(channelID, KeyMessages)...) {
			if tx.Delete(MessagePath(channelID, id)...) {
				n++
			}
		}
	})
	return n, err
}

// readMessage, bir mesajı reaksiyonlarıyla birlikte okur. Meta eksikse nil.
func readMessage(rd crdt.Reader, channelID, id string) *models.Message {
	m := models.Message{ChannelID: channelID}
	if !rd.Lookup(&m.Meta, MessagePath(channelID, id, KeyMeta)...) || m.Meta.ID == "" {
		return nil
	}
	rd.Lookup(&m.Text, MessagePath(channelID, id, fieldText)...)
	rd.Lookup(&m.UpdatedAt, MessagePath(channelID, id, fieldUpdatedAt)...)
	rd.Lookup(&m.Deleted, MessagePath(channelID, id, fieldDeleted)...)
	m.Reactions = readReactions(rd, MessagePath(channelID, id, KeyReactions))
	return &m
}

// readReactions, reactions map'ini emoji sırasıyla gruplar. Boş kalmış
// emoji key'leri (eşzamanlı prune/add yarışından) atlanır.
func readReactions(rd crdt.Reader, path []string) []models.ReactionGroup {
	groups := []models.ReactionGroup{}
	for _, emoji := range rd.Keys(path...) {
		emojiPath := append(slices.Clone(path), emoji)
		var users []string
		for _, userID := range rd.Keys(emojiPath...) {
			var present bool
			if rd.Lookup(&present, append(slices.Clone(emojiPath), userID)...) && present {
				users = append(users, userID)
			}
		}
		if len(users) == 0 {
			continue
		}
		groups = append(groups, models.ReactionGroup{Emoji: emoji, Count: len(users), Users: users})
	}
	return groups
}
