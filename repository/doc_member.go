package repository

import (
	"fmt"

	"github.com/akinalp/meshchat/crdt"
	"github.com/akinalp/meshchat/pkg"
)

type docMemberRepo struct {
	doc *crdt.Doc
}

// NewDocMemberRepo, constructor — interface döner.
func NewDocMemberRepo(doc *crdt.Doc) MemberRepository {
	return &docMemberRepo{doc: doc}
}

// Join, kullanıcıyı kanala ekler; değer katılma zamanıdır (Unix ms).
// Zaten üyeyse no-op.
func (r *docMemberRepo) Join(channelID, userID string, at int64) error {
	var err error
	r.doc.Transact(func(tx *crdt.Tx) {
		if !tx.IsMap(ChannelPath(channelID)...) {
			err = fmt.Errorf("%w: channel %s", pkg.ErrNotFound, channelID)
			return
		}
		if tx.Has(MemberPath(channelID, userID)...) {
			return
		}
		tx.EnsureMap(ChannelPath(channelID, KeyMembers)...)
		tx.Set(MemberPath(channelID, userID), at)
	})
	return err
}

// Leave, kullanıcıyı kanaldan çıkarır. Üye değilse no-op.
func (r *docMemberRepo) Leave(channelID, userID string) error {
	var err error
	r.doc.Transact(func(tx *crdt.Tx) {
		if !tx.IsMap(ChannelPath(channelID)...) {
			err = fmt.Errorf("%w: channel %s", pkg.ErrNotFound, channelID)
			return
		}
		tx.Delete(MemberPath(channelID, userID)...)
	})
	return err
}

func (r *docMemberRepo) IsMember(channelID, userID string) bool {
	return r.doc.Has(MemberPath(channelID, userID)...)
}

// JoinedAt, kullanıcının kanala katılma zamanı. Üye değilse false.
func (r *docMemberRepo) JoinedAt(channelID, userID string) (int64, bool) {
	var at int64
	ok := r.doc.Lookup(&at, MemberPath(channelID, userID)...)
	return at, ok
}

func (r *docMemberRepo) List(channelID string) ([]string, error) {
	var (
		members []string
		exists  bool
	)
	r.doc.Read(func(rd crdt.Reader) {
		exists = rd.IsMap(ChannelPath(channelID)...)
		members = rd.Keys(ChannelPath(channelID, KeyMembers)...)
	})
	if !exists {
		return nil, fmt.Errorf("%w: channel %s", pkg.ErrNotFound, channelID)
	}
	if members == nil {
		members = []string{}
	}
	return members, nil
}
