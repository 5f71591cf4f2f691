// Package ws, peer'lar arası frame'leri oda bazında dağıtan WebSocket
// relay'idir.
//
// Relay document'i anlamaz: her frame'in yalnızca başlığını (type, from, to)
// okur ve ham byte'ları aynı odadaki diğer peer'lara iletir. Senkronizasyon
// mantığı tamamen peer'lardadır (transport paketi).
//
// Mimari:
//   - Hub: oda → client kümesi; register/unregister tek goroutine'den işlenir.
//   - Client: tek WebSocket bağlantısı; ReadPump + WritePump goroutine'leri.
//   - Handler: HTTP → WebSocket upgrade, ?room=&peer= doğrulaması.
//
// Frame akışı:
//  1. Peer frame yazar → ReadPump başlığı çözer, from'u doğrular.
//  2. heartbeat → yalnızca gönderene geri yazılır.
//  3. to doluysa yalnızca hedef peer'a, boşsa odadaki diğer herkese iletilir.
//  4. Bağlantı koptuğunda Hub odaya {type: leave, from: peer} yayınlar.
//  5. Rate limit'e takılıp frame'i düşen peer, cooldown sonrası ilk kabul
//     edilen frame'inden sonra {type: resync} alır ve yeniden announce eder.
//     resync'i yalnızca relay üretir; peer'dan gelirse geçersiz sayılır.
package ws

import (
	"encoding/json"

	"github.com/akinalp/meshchat/transport"
)

// frameHeader, relay'in yönlendirme için okuduğu alanlar. Payload
// (ops, sv, awareness) çözülmeden iletilir.
type frameHeader struct {
	Type transport.FrameType `json:"type"`
	From string              `json:"from,omitempty"`
	To   string              `json:"to,omitempty"`
}

func parseHeader(raw []byte) (frameHeader, bool) {
	var h frameHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return h, false
	}
	switch h.Type {
	case transport.FrameSync1, transport.FrameSync2, transport.FrameUpdate,
		transport.FrameAwareness, transport.FrameLeave, transport.FrameHeartbeat:
		return h, true
	}
	return h, false
}

// resyncFrame, frame'leri düşürülmüş peer'a gönderilen frame.
var resyncFrame, _ = json.Marshal(transport.Envelope{Type: transport.FrameResync})

// leaveFrame, kopan peer için diğerlerine gönderilen frame.
func leaveFrame(peerID string) []byte {
	data, _ := json.Marshal(transport.Envelope{Type: transport.FrameLeave, From: peerID})
	return data
}
