package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/akinalp/meshchat/transport"
)

// WebSocket bağlantı sabitleri
const (
	// writeWait: Bir frame'i yazmak için maksimum bekleme süresi.
	writeWait = 10 * time.Second

	// pongWait: Peer'dan frame gelmeden geçebilecek en uzun süre.
	// Peer'lar 30s'de bir heartbeat gönderir; 3 kaçırma = kopmuş.
	pongWait = 90 * time.Second

	// maxFrameSize: Tek frame'in üst sınırı. İlk sync2 tüm document'i
	// taşıyabildiği için büyük tutulur.
	maxFrameSize = 8 << 20

	// sendBufferSize: Her client'ın send channel'ının buffer boyutu.
	// Buffer doluysa (peer yavaş) bağlantı kapatılır.
	sendBufferSize = 256
)

// Client, relay'e bağlı tek bir peer bağlantısı.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	room   string
	peerID string
	ip     string
	log    *zap.Logger

	send chan []byte
	mu   sync.Mutex // conn.WriteMessage çağrılarını korur

	// registered, Hub client'ı odasına ekleyince kapanır.
	registered chan struct{}

	// replaced: aynı peer id yeni bir bağlantıyla geldi; bu bağlantı
	// kapanırken odaya leave yayınlanmaz.
	replaced atomic.Bool

	// throttled: frame limiter en az bir frame düşürdü; bir sonraki kabul
	// edilen frame'den sonra peer'a resync gönderilir.
	throttled atomic.Bool
}

// limiterKey, frame limiter'da bağlantıyı tanımlar.
func (c *Client) limiterKey() string {
	return c.room + "/" + c.peerID
}

// ReadPump, peer'dan gelen frame'leri okur ve Hub'a iletir.
// Bağlantı kapanana kadar bloklar.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("failed to set read deadline", zap.Error(err))
		return
	}

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("unexpected close", zap.Error(err))
			}
			return
		}

		// Her frame bağlantının canlı olduğunu gösterir.
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return
		}
		c.hub.metrics.bytes.Add(float64(len(raw)))

		c.handleFrame(raw)
	}
}

func (c *Client) handleFrame(raw []byte) {
	header, ok := parseHeader(raw)
	if !ok {
		c.hub.metrics.dropped.WithLabelValues(dropInvalid).Inc()
		return
	}
	c.hub.metrics.frames.WithLabelValues(string(header.Type)).Inc()

	if header.Type == transport.FrameHeartbeat {
		c.hub.reply(c, raw)
		return
	}

	// Peer yalnızca kendi adına konuşabilir.
	if header.From != c.peerID {
		c.hub.metrics.dropped.WithLabelValues(dropSpoofed).Inc()
		c.log.Debug("spoofed frame dropped", zap.String("from", header.From))
		return
	}

	if c.hub.limiter != nil && !c.hub.limiter.Allow(c.limiterKey()) {
		c.hub.metrics.dropped.WithLabelValues(dropRateLimited).Inc()
		c.throttled.Store(true)
		return
	}

	c.hub.route(c, header, raw)

	// Düşen frame'ler odadaki peer'larda boşluk bıraktı; peer state
	// vector'ünü yeniden yayınlasın.
	if c.throttled.CompareAndSwap(true, false) {
		c.log.Debug("peer left cooldown, requesting resync")
		c.hub.reply(c, resyncFrame)
	}
}

// enqueue, frame'i send buffer'ına koyar. Buffer doluysa bağlantı kapatılır.
// Hub lock'u altında çağrılır; send bu sırada kapatılamaz.
func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		c.hub.metrics.dropped.WithLabelValues(dropSlowPeer).Inc()
		go func() {
			select {
			case c.hub.unregister <- c:
			case <-c.hub.done:
			}
		}()
	}
}

// WritePump, send channel'ındaki frame'leri WebSocket'e yazar.
// send kapandığında (Hub client'ı çıkardığında) close frame'i gönderir.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for {
		message, ok := <-c.send
		if !ok {
			c.writeMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}

		if err := c.writeMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// writeMessage, WebSocket'e mesaj yazar (mutex ile korunur).
func (c *Client) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
