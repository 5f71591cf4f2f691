package ws

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/akinalp/meshchat/pkg"
	"github.com/akinalp/meshchat/pkg/ratelimit"
)

// maxIDLength, room ve peer parametrelerinin üst sınırı.
const maxIDLength = 128

// upgrader, HTTP bağlantısını WebSocket bağlantısına yükseltir.
// Relay kimlik doğrulaması yapmaz; oda adı paylaşılan bir sırdır.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler, relay bağlantı isteklerini işleyen HTTP handler'ı.
type Handler struct {
	hub         *Hub
	connLimiter *ratelimit.ConnLimiter
	log         *zap.Logger
}

// NewHandler, yeni bir relay handler oluşturur. connLimiter nil ise IP
// başına bağlantı limiti uygulanmaz.
func NewHandler(hub *Hub, connLimiter *ratelimit.ConnLimiter) *Handler {
	return &Handler{
		hub:         hub,
		connLimiter: connLimiter,
		log:         hub.log,
	}
}

// HandleConnection, HTTP bağlantısını WebSocket'e yükseltir ve peer'ı
// odasına kaydeder.
//
//	ws://relay/ws?room=<workspace>&peer=<replica id>
//
// Flow:
//  1. IP bağlantı limitini kontrol et
//  2. room ve peer parametrelerini doğrula
//  3. HTTP → WebSocket upgrade
//  4. Client oluştur, Hub'a kaydet ve odaya eklenmesini bekle
//  5. WritePump ayrı goroutine'de, ReadPump bu goroutine'de çalışır
//
// Pump'lar kayıttan önce başlarsa ilk frame'ler (sync1, awareness) route
// edilirken client henüz odada olmaz ve düşer.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	ip := ratelimit.ExtractIP(r)
	if h.connLimiter != nil && !h.connLimiter.Allow(ip) {
		retry := h.connLimiter.RetryAfterSeconds(ip)
		pkg.ErrorWithMessage(w, http.StatusTooManyRequests, ratelimit.FormatRetryMessage(retry))
		return
	}

	room := r.URL.Query().Get("room")
	peer := r.URL.Query().Get("peer")
	if room == "" || peer == "" {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "room and peer are required")
		return
	}
	if len(room) > maxIDLength || len(peer) > maxIDLength {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "room or peer too long")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed", zap.String("ip", ip), zap.Error(err))
		return
	}

	client := &Client{
		hub:    h.hub,
		conn:   conn,
		room:   room,
		peerID: peer,
		ip:     ip,
		log:    h.log.With(zap.String("room", room), zap.String("peer", peer)),
		send:   make(chan []byte, sendBufferSize),

		registered: make(chan struct{}),
	}

	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		conn.Close()
		return
	}
	select {
	case <-client.registered:
	case <-h.hub.done:
		conn.Close()
		return
	}

	go client.WritePump()
	client.ReadPump()
}
