package services

import (
	"github.com/akinalp/meshchat/crdt"
	"github.com/akinalp/meshchat/repository"
)

// DocEventKind, document değişikliğinin bildirimler açısından anlamı.
type DocEventKind string

const (
	EventUserAdded      DocEventKind = "user_added"
	EventChannelAdded   DocEventKind = "channel_added"
	EventChannelRemoved DocEventKind = "channel_removed"
	EventMessageAdded   DocEventKind = "message_added"
	EventMessageUpdated DocEventKind = "message_updated"
	EventMemberJoined   DocEventKind = "member_joined"
	EventMemberLeft     DocEventKind = "member_left"
)

// DocEvent, crdt.Change'in path şeklinden çıkarılan tipli olay.
// Sadece olaya ait id alanları doludur.
type DocEvent struct {
	Kind      DocEventKind
	UserID    string
	ChannelID string
	MessageID string
	Origin    crdt.Origin
}

// ClassifyChange, değişikliği path şekline göre sınıflandırır. Bildirim
// üretmeyen değişiklikler (profil alanları, reaksiyonlar, kanal adı...)
// için false döner.
//
// Bir entity ilk kez göründüğünde iki değişiklik gelebilir: map'in kendisi
// ve meta alanı. İkisi de "added" sayılır; meta olmadan okunan entity
// atlanır ve meta geldiğinde tekrar değerlendirilir.
func ClassifyChange(c crdt.Change) (DocEvent, bool) {
	p := c.FullPath()
	ev := DocEvent{Origin: c.Origin}
	added := c.Action == crdt.ActionAdd

	switch {
	// users/<id>, users/<id>/meta
	case len(p) == 2 && p[0] == repository.KeyUsers && added,
		len(p) == 3 && p[0] == repository.KeyUsers && p[2] == repository.KeyMeta && added:
		ev.Kind, ev.UserID = EventUserAdded, p[1]

	// channels/<id>
	case len(p) == 2 && p[0] == repository.KeyChannels:
		ev.ChannelID = p[1]
		switch c.Action {
		case crdt.ActionAdd:
			ev.Kind = EventChannelAdded
		case crdt.ActionDelete:
			ev.Kind = EventChannelRemoved
		default:
			return ev, false
		}

	// channels/<ch>/members/<user>
	case len(p) == 4 && p[0] == repository.KeyChannels && p[2] == repository.KeyMembers:
		ev.ChannelID, ev.UserID = p[1], p[3]
		if c.Action == crdt.ActionDelete {
			ev.Kind = EventMemberLeft
		} else {
			ev.Kind = EventMemberJoined
		}

	// channels/<ch>/messages/<id>[/meta]
	case len(p) == 4 && p[0] == repository.KeyChannels && p[2] == repository.KeyMessages && added,
		len(p) == 5 && p[0] == repository.KeyChannels && p[2] == repository.KeyMessages && p[4] == repository.KeyMeta && added:
		ev.Kind, ev.ChannelID, ev.MessageID = EventMessageAdded, p[1], p[3]

	// channels/<ch>/messages/<id>/text|deleted|updatedAt
	case len(p) == 5 && p[0] == repository.KeyChannels && p[2] == repository.KeyMessages && p[4] != repository.KeyReactions:
		ev.Kind, ev.ChannelID, ev.MessageID = EventMessageUpdated, p[1], p[3]

	default:
		return ev, false
	}
	return ev, true
}
