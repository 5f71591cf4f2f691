package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/akinalp/meshchat/awareness"
	"github.com/akinalp/meshchat/crdt"
	"github.com/akinalp/meshchat/pkg"
	"github.com/akinalp/meshchat/pkg/logger"
)

// OriginWebsocket, WebsocketProvider'ın document/awareness origin'i.
const OriginWebsocket = "websocket"

// WebSocket bağlantı sabitleri
const (
	// writeWait: Bir frame'i yazmak için maksimum bekleme süresi.
	writeWait = 10 * time.Second

	// defaultHeartbeat: Relay'e heartbeat gönderme aralığı. Relay heartbeat'i
	// geri yansıtır; 3 heartbeat boyunca hiçbir frame gelmezse bağlantı
	// kopmuş sayılır.
	defaultHeartbeat = 30 * time.Second

	// maxFrameSize: Relay'den okunabilecek maksimum frame boyutu (byte).
	// sync2 frame'leri tüm document'i taşıyabilir.
	maxFrameSize = 8 << 20

	// sendBufferSize: Giden frame kuyruğu. Dolarsa bağlantı kapatılır ve
	// yeniden bağlanınca sync ile telafi edilir.
	sendBufferSize = 256

	defaultReconnectDelay = time.Second
	maxReconnectDelay     = 30 * time.Second
)

// WebsocketOptions, WebsocketProvider ayarları.
type WebsocketOptions struct {
	// URL, relay'in base adresi (ör: "ws://localhost:9090").
	URL               string
	Dialer            *websocket.Dialer
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	Logger            *zap.Logger
}

// WebsocketFactory, relay'e bağlanan provider'lar üretir.
func WebsocketFactory(opts WebsocketOptions) Factory {
	return func(workspaceID string, doc *crdt.Doc, aw *awareness.Awareness) (Provider, error) {
		return NewWebsocketProvider(workspaceID, doc, aw, opts)
	}
}

// WebsocketProvider, relay sunucusu üzerinden (/ws?room=&peer=) peer'lara
// bağlanır. Bağlantı koparsa artan bekleme ile yeniden bağlanır ve tekrar
// sync1 yayınlar.
type WebsocketProvider struct {
	statusHolder

	endpoint  string
	dialer    *websocket.Dialer
	heartbeat time.Duration
	delay     time.Duration
	log       *zap.Logger
	peer      *peer

	mu      sync.Mutex
	current *wsSession
	started bool
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWebsocketProvider, room için provider oluşturur; Connect'e kadar ağa
// dokunmaz.
func NewWebsocketProvider(room string, doc *crdt.Doc, aw *awareness.Awareness, opts WebsocketOptions) (*WebsocketProvider, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid relay url: %v", pkg.ErrBadRequest, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("%w: unsupported relay url scheme %q", pkg.ErrBadRequest, u.Scheme)
	}
	u.Path = "/ws"
	q := url.Values{}
	q.Set("room", room)
	q.Set("peer", doc.Replica())
	u.RawQuery = q.Encode()

	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeat
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}

	p := &WebsocketProvider{
		endpoint:  u.String(),
		dialer:    opts.Dialer,
		heartbeat: opts.HeartbeatInterval,
		delay:     opts.ReconnectDelay,
		log:       logger.OrNop(opts.Logger).Named("transport").With(zap.String("room", room)),
		done:      make(chan struct{}),
	}
	p.peer = newPeer(doc, aw, OriginWebsocket, p.publish, p.log)
	return p, nil
}

// Connect, relay'e ilk bağlantıyı kurar. Başarısız olursa yeniden denemez;
// error pkg.ErrTransport wrap eder.
func (p *WebsocketProvider) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return pkg.ErrClosed
	}
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.setStatus(StatusConnecting)
	s, err := p.dial(ctx)
	if err != nil {
		p.setStatus(StatusDisconnected)
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		s.close()
		return pkg.ErrClosed
	}
	p.started = true
	p.current = s
	p.wg.Add(1)
	p.mu.Unlock()

	p.setStatus(StatusConnected)
	p.log.Info("connected to relay", zap.String("url", p.endpoint))

	go p.serve(s)
	p.peer.start()
	return nil
}

// Close, bağlantıyı kapatır. Kuyruktaki frame'ler (örn. awareness'ın son
// null state'i) önce gönderilir.
func (p *WebsocketProvider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	s := p.current
	p.mu.Unlock()

	p.peer.stop()
	if s != nil {
		s.close()
	}
	p.wg.Wait()
	p.setStatus(StatusDisconnected)
	return nil
}

// ─── Internals ───

// wsSession, tek bir relay bağlantısı ve onun yazma kuyruğu.
type wsSession struct {
	conn      *websocket.Conn
	writeDone chan struct{}

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// enqueue, frame'i kuyruğa ekler. Kuyruk doluysa false döner; kapanmış
// session'a yazılan frame sessizce düşer.
func (s *wsSession) enqueue(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// close, yazma kuyruğunu kapatır; write loop kalanları gönderip bağlantıyı
// kapatır. Birden fazla çağrılabilir.
func (s *wsSession) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

func (p *WebsocketProvider) dial(ctx context.Context) (*wsSession, error) {
	conn, _, err := p.dialer.DialContext(ctx, p.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial relay: %v", pkg.ErrTransport, err)
	}
	conn.SetReadLimit(maxFrameSize)

	s := &wsSession{
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		writeDone: make(chan struct{}),
	}
	go p.writeLoop(s)
	return s, nil
}

// serve, bağlantı koptukça yeniden bağlanır; Close çağrılınca döner.
func (p *WebsocketProvider) serve(s *wsSession) {
	defer p.wg.Done()

	for {
		p.readLoop(s)
		s.close()
		<-s.writeDone

		p.mu.Lock()
		if p.current == s {
			p.current = nil
		}
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}

		p.setStatus(StatusDisconnected)
		p.log.Warn("relay connection lost, reconnecting")

		s = p.redial()
		if s == nil {
			return
		}
		p.setStatus(StatusConnected)
		p.log.Info("reconnected to relay")
		p.peer.announce()
	}
}

// redial, Close çağrılana kadar artan bekleme ile yeniden bağlanmayı dener.
func (p *WebsocketProvider) redial() *wsSession {
	delay := p.delay
	for {
		select {
		case <-p.done:
			return nil
		case <-time.After(delay):
		}

		p.setStatus(StatusConnecting)
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		s, err := p.dial(ctx)
		cancel()
		if err == nil {
			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				s.close()
				<-s.writeDone
				return nil
			}
			p.current = s
			p.mu.Unlock()
			return s
		}

		p.log.Debug("reconnect failed", zap.Duration("delay", delay), zap.Error(err))
		p.setStatus(StatusDisconnected)
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (p *WebsocketProvider) readLoop(s *wsSession) {
	deadline := 3 * p.heartbeat
	if err := s.conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
		return
	}

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.log.Warn("unexpected close", zap.Error(err))
			}
			return
		}
		// Her frame (heartbeat yansıması dahil) bağlantının canlı olduğunu gösterir.
		if err := s.conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			p.log.Warn("invalid frame from relay", zap.Error(err))
			continue
		}
		p.peer.handle(env)
	}
}

func (p *WebsocketProvider) writeLoop(s *wsSession) {
	defer close(s.writeDone)
	defer s.conn.Close()

	ticker := time.NewTicker(p.heartbeat)
	defer ticker.Stop()

	heartbeat, _ := json.Marshal(Envelope{Type: FrameHeartbeat})

	for {
		select {
		case msg, ok := <-s.send:
			if !ok {
				_ = s.write(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.write(websocket.TextMessage, msg); err != nil {
				p.log.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.TextMessage, heartbeat); err != nil {
				return
			}
		}
	}
}

func (s *wsSession) write(messageType int, data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, data)
}

// publish, frame'i aktif bağlantının kuyruğuna ekler. Bağlantı yoksa frame
// düşer; yeniden bağlanınca sync1 eksikleri tamamlar.
func (p *WebsocketProvider) publish(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		p.log.Error("failed to marshal frame", zap.Error(err))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.current
	if s == nil {
		return
	}
	if !s.enqueue(data) {
		// Kuyruk dolu, relay yavaş: bağlantıyı kapat, serve yeniden bağlanır.
		p.log.Warn("send buffer full, dropping connection")
		s.close()
		p.current = nil
	}
}
