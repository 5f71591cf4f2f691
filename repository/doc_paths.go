// Package repository, veri erişim katmanıdır.
//
// İki tür repository vardır:
//   - doc_*: replike document (crdt.Doc) üzerinde tipli okuma/yazma.
//     Tüm replica'larda aynı şema; her yazma tek bir doc.Transact'tir.
//   - sqlite_*: peer'ın yerel SQLite veritabanı (update log, ayarlar).
//
// Her repository bir interface ve ona ait unexported implementasyondan
// oluşur; constructor interface döner.
package repository

import (
	"cmp"
	"slices"
)

// Document key'leri.
//
//	users/<userId>/meta|username|fullName|avatar
//	channels/<chId>/meta|name|description|locked
//	channels/<chId>/messages/<msgId>/meta|text|updatedAt|deleted
//	channels/<chId>/messages/<msgId>/reactions/<emoji>/<userId> = true
//	channels/<chId>/members/<userId> = joinedAt
const (
	KeyUsers     = "users"
	KeyChannels  = "channels"
	KeyMessages  = "messages"
	KeyMembers   = "members"
	KeyReactions = "reactions"
	KeyMeta      = "meta"

	fieldUsername    = "username"
	fieldFullName    = "fullName"
	fieldAvatar      = "avatar"
	fieldName        = "name"
	fieldDescription = "description"
	fieldLocked      = "locked"
	fieldText        = "text"
	fieldUpdatedAt   = "updatedAt"
	fieldDeleted     = "deleted"
)

// UserPath, users/<id>/<rest...>.
func UserPath(id string, rest ...string) []string {
	return append([]string{KeyUsers, id}, rest...)
}

// ChannelPath, channels/<id>/<rest...>.
func ChannelPath(id string, rest ...string) []string {
	return append([]string{KeyChannels, id}, rest...)
}

// MessagePath, channels/<ch>/messages/<id>/<rest...>.
func MessagePath(channelID, id string, rest ...string) []string {
	return append([]string{KeyChannels, channelID, KeyMessages, id}, rest...)
}

// MemberPath, channels/<ch>/members/<userId>.
func MemberPath(channelID, userID string) []string {
	return []string{KeyChannels, channelID, KeyMembers, userID}
}

// sortByCreated, createdAt artan, eşitlikte id artan sıralar.
// Document map'lerinin ekleme sırası yoktur; her liste bu sırayla okunur.
func sortByCreated[T any](items []T, key func(T) (int64, string)) {
	slices.SortFunc(items, func(a, b T) int {
		ac, aid := key(a)
		bc, bid := key(b)
		if c := cmp.Compare(ac, bc); c != 0 {
			return c
		}
		return cmp.Compare(aid, bid)
	})
}
