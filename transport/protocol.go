// Package transport, bir workspace document'ini ve awareness kanalını
// peer'lar arasında taşıyan provider'ları içerir.
//
// Tüm provider'lar aynı frame protokolünü konuşur (Envelope). Taşıma
// katmanı (websocket relay, redis pub/sub, in-memory) yalnızca frame'leri
// oda (workspace) içindeki diğer peer'lara iletir; senkronizasyon mantığı
// provider'lar arasında ortaktır (peer.go).
//
// Akış:
//
//	join      → sync1{sv} (broadcast) + awareness{local}
//	sync1     → sync2{diff} (to: gönderen) [+ sync1{sv} + awareness, broadcast sync1 ise]
//	sync2     → doc.Apply
//	update    → doc.Apply [+ sync1{sv} (to: gönderen), pending op kaldıysa]
//	awareness → awareness.ApplyUpdate
//	leave     → awareness.RemoveStates (relay, kopan peer için üretir)
//	resync    → sync1{sv} + awareness{local} (broadcast; relay, frame'leri
//	            rate limit'e takılan peer'a cooldown bitince gönderir)
package transport

import (
	"github.com/akinalp/meshchat/awareness"
	"github.com/akinalp/meshchat/crdt"
)

// FrameType, Envelope türü.
type FrameType string

const (
	FrameSync1     FrameType = "sync1"
	FrameSync2     FrameType = "sync2"
	FrameUpdate    FrameType = "update"
	FrameAwareness FrameType = "awareness"
	FrameLeave     FrameType = "leave"
	FrameHeartbeat FrameType = "heartbeat"
	FrameResync    FrameType = "resync"
)

// Envelope, peer'lar arasında taşınan tek frame.
//
// From: gönderen peer id (document replica id'si ile aynı).
// To: boşsa odadaki herkese, doluysa yalnızca o peer'a yöneliktir. Relay'ler
// yönlendirme yapmaz; hedef olmayan peer'lar frame'i yok sayar.
type Envelope struct {
	Type      FrameType         `json:"type"`
	From      string            `json:"from,omitempty"`
	To        string            `json:"to,omitempty"`
	SV        crdt.StateVector  `json:"sv,omitempty"`
	Ops       []crdt.Op         `json:"ops,omitempty"`
	Awareness *awareness.Update `json:"awareness,omitempty"`
}

// Valid, frame'in türüne göre gerekli alanları taşıyıp taşımadığı.
func (e Envelope) Valid() bool {
	switch e.Type {
	case FrameSync1, FrameSync2, FrameUpdate, FrameLeave:
		return e.From != ""
	case FrameAwareness:
		return e.From != "" && e.Awareness != nil
	case FrameHeartbeat, FrameResync:
		return true
	}
	return false
}
