package ws

import (
	"cmp"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/akinalp/meshchat/pkg/logger"
	"github.com/akinalp/meshchat/pkg/ratelimit"
)

// RoomInfo, /api/rooms yanıtındaki tek oda.
type RoomInfo struct {
	Name  string `json:"name"`
	Peers int    `json:"peers"`
}

// Hub, odaları ve bağlı peer'ları yönetir.
//
// register/unregister channel'ları Run goroutine'inde işlenir; frame
// dağıtımı ise ReadPump goroutine'lerinden RLock altında yapılır.
type Hub struct {
	// rooms: oda → client kümesi.
	rooms map[string]map[*Client]struct{}
	mu    sync.RWMutex

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once

	metrics *Metrics
	limiter *ratelimit.FrameLimiter
	log     *zap.Logger
}

// NewHub, yeni bir Hub oluşturur. limiter nil ise frame limiti uygulanmaz.
func NewHub(metrics *Metrics, limiter *ratelimit.FrameLimiter, log *zap.Logger) *Hub {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Hub{
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		metrics:    metrics,
		limiter:    limiter,
		log:        logger.OrNop(log).Named("relay"),
	}
}

// Run, Hub'ın ana event loop'udur. main.go'da `go hub.Run()` ile başlatılır;
// Shutdown çağrılınca döner.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case <-h.done:
			return
		}
	}
}

// addClient, client'ı odasına ekler. Aynı peer id ile açık eski bir
// bağlantı varsa kapatılır (yeniden bağlanan peer).
func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for existing := range h.rooms[client.room] {
		if existing.peerID == client.peerID {
			existing.replaced.Store(true)
			h.dropLocked(existing)
		}
	}

	room, ok := h.rooms[client.room]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[client.room] = room
		h.metrics.rooms.Inc()
	}
	room[client] = struct{}{}
	h.metrics.connections.Inc()
	close(client.registered)

	h.log.Debug("peer connected",
		zap.String("room", client.room),
		zap.String("peer", client.peerID),
		zap.Int("peers", len(room)),
	)
}

// removeClient, client'ı odasından çıkarır ve diğer peer'lara leave frame'i
// yayınlar. Zaten çıkarılmışsa no-op.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[client.room]
	if !ok {
		return
	}
	if _, exists := room[client]; !exists {
		return
	}
	h.dropLocked(client)

	if client.replaced.Load() {
		return
	}
	leave := leaveFrame(client.peerID)
	for peer := range h.rooms[client.room] {
		peer.enqueue(leave)
	}

	h.log.Debug("peer disconnected", zap.String("room", client.room), zap.String("peer", client.peerID))
}

// dropLocked, client'ı map'ten siler ve send'i kapatır. h.mu tutulmalıdır.
func (h *Hub) dropLocked(client *Client) {
	room := h.rooms[client.room]
	delete(room, client)
	close(client.send)
	h.metrics.connections.Dec()

	if h.limiter != nil && !client.replaced.Load() {
		h.limiter.Forget(client.limiterKey())
	}
	if len(room) == 0 {
		delete(h.rooms, client.room)
		h.metrics.rooms.Dec()
	}
}

// route, frame'i odadaki hedeflere iletir: to doluysa yalnızca o peer'a,
// boşsa gönderen hariç herkese.
func (h *Hub) route(from *Client, header frameHeader, raw []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room, ok := h.rooms[from.room]
	if !ok {
		return
	}
	if _, member := room[from]; !member {
		return
	}

	for peer := range room {
		if peer == from {
			continue
		}
		if header.To != "" && peer.peerID != header.To {
			continue
		}
		peer.enqueue(raw)
	}
}

// reply, frame'i yalnızca gönderene geri yazar (heartbeat).
func (h *Hub) reply(to *Client, raw []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.rooms[to.room][to]; ok {
		to.enqueue(raw)
	}
}

// Rooms, aktif odalar (isim sırasıyla).
func (h *Hub) Rooms() []RoomInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]RoomInfo, 0, len(h.rooms))
	for name, clients := range h.rooms {
		out = append(out, RoomInfo{Name: name, Peers: len(clients)})
	}
	slices.SortFunc(out, func(a, b RoomInfo) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// Room, tek bir odanın bilgisi. Oda boşsa (hiç peer yoksa) false döner.
func (h *Hub) Room(name string) (RoomInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.rooms[name]
	if !ok {
		return RoomInfo{}, false
	}
	return RoomInfo{Name: name, Peers: len(clients)}, true
}

// PeerCount, bağlı peer sayısı.
func (h *Hub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, clients := range h.rooms {
		n += len(clients)
	}
	return n
}

// Shutdown, tüm bağlantıları kapatır ve Run döngüsünü durdurur.
// Birden fazla çağrılabilir.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		defer h.mu.Unlock()

		for _, clients := range h.rooms {
			for client := range clients {
				close(client.send)
			}
		}
		h.rooms = make(map[string]map[*Client]struct{})
		h.metrics.connections.Set(0)
		h.metrics.rooms.Set(0)
		h.log.Info("hub shut down, all connections closed")
	})
}
