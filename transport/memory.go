package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/akinalp/meshchat/awareness"
	"github.com/akinalp/meshchat/crdt"
	"github.com/akinalp/meshchat/pkg"
	"github.com/akinalp/meshchat/pkg/logger"
)

// OriginMemory, MemoryProvider'ın document/awareness origin'i.
const OriginMemory = "memory"

// MemoryNetwork, aynı process içindeki peer'lar için oda bazlı relay.
// Frame'ler senkron ve JSON üzerinden (wire formatıyla) iletilir.
// Testler ve tek process'te çoklu replica demoları için.
type MemoryNetwork struct {
	log *zap.Logger

	mu          sync.Mutex
	rooms       map[string]map[*MemoryProvider]struct{}
	unreachable bool
}

// NewMemoryNetwork, boş bir ağ oluşturur.
func NewMemoryNetwork(log *zap.Logger) *MemoryNetwork {
	return &MemoryNetwork{
		log:   logger.OrNop(log).Named("transport"),
		rooms: make(map[string]map[*MemoryProvider]struct{}),
	}
}

// Factory, WorkspaceManager'a verilecek provider üreticisi.
func (n *MemoryNetwork) Factory() Factory {
	return func(workspaceID string, doc *crdt.Doc, aw *awareness.Awareness) (Provider, error) {
		return n.Provider(workspaceID, doc, aw), nil
	}
}

// Provider, room'a bağlanacak bir MemoryProvider oluşturur.
func (n *MemoryNetwork) Provider(room string, doc *crdt.Doc, aw *awareness.Awareness) *MemoryProvider {
	p := &MemoryProvider{net: n, room: room}
	p.peer = newPeer(doc, aw, OriginMemory, p.publish, n.log.With(zap.String("room", room)))
	return p
}

// SetReachable, false iken Connect ErrTransport döner. Bağlantı hatası
// senaryoları için.
func (n *MemoryNetwork) SetReachable(ok bool) {
	n.mu.Lock()
	n.unreachable = !ok
	n.mu.Unlock()
}

// Peers, room'daki bağlı provider sayısı.
func (n *MemoryNetwork) Peers(room string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.rooms[room])
}

func (n *MemoryNetwork) join(p *MemoryProvider) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.unreachable {
		return fmt.Errorf("%w: memory network unreachable", pkg.ErrTransport)
	}
	members, ok := n.rooms[p.room]
	if !ok {
		members = make(map[*MemoryProvider]struct{})
		n.rooms[p.room] = members
	}
	members[p] = struct{}{}
	return nil
}

func (n *MemoryNetwork) leave(p *MemoryProvider) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	members := n.rooms[p.room]
	if _, ok := members[p]; !ok {
		return false
	}
	delete(members, p)
	if len(members) == 0 {
		delete(n.rooms, p.room)
	}
	return true
}

// broadcast, frame'i gönderen hariç room'daki herkese iletir. Handler'lar
// lock tutulmadan çağrılır.
func (n *MemoryNetwork) broadcast(from *MemoryProvider, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		n.log.Error("failed to marshal frame", zap.Error(err))
		return
	}

	n.mu.Lock()
	targets := make([]*MemoryProvider, 0, len(n.rooms[from.room]))
	for p := range n.rooms[from.room] {
		if p != from {
			targets = append(targets, p)
		}
	}
	n.mu.Unlock()

	for _, p := range targets {
		var decoded Envelope
		if err := json.Unmarshal(data, &decoded); err != nil {
			n.log.Error("failed to unmarshal frame", zap.Error(err))
			return
		}
		p.peer.handle(decoded)
	}
}

// MemoryProvider, MemoryNetwork üzerindeki tek bir peer.
type MemoryProvider struct {
	statusHolder

	net  *MemoryNetwork
	room string
	peer *peer

	mu        sync.Mutex
	connected bool
}

// Connect, room'a katılır ve senkronizasyonu başlatır.
func (p *MemoryProvider) Connect(_ context.Context) error {
	if p.Status() == StatusConnected {
		return nil
	}
	p.setStatus(StatusConnecting)

	p.mu.Lock()
	if err := p.net.join(p); err != nil {
		p.mu.Unlock()
		p.setStatus(StatusDisconnected)
		return err
	}
	p.connected = true
	p.mu.Unlock()

	p.setStatus(StatusConnected)
	p.peer.start()
	return nil
}

// Close, room'dan ayrılır; diğer peer'lara leave frame'i gider.
func (p *MemoryProvider) Close() error {
	p.mu.Lock()
	wasConnected := p.connected
	p.connected = false
	p.mu.Unlock()

	p.peer.stop()
	if wasConnected && p.net.leave(p) {
		// Relay'in kopan peer için yaptığını taklit eder.
		p.net.broadcast(p, Envelope{Type: FrameLeave, From: p.peer.id})
	}
	p.setStatus(StatusDisconnected)
	return nil
}

func (p *MemoryProvider) publish(env Envelope) {
	p.mu.Lock()
	connected := p.connected
	p.mu.Unlock()
	if !connected {
		return
	}
	p.net.broadcast(p, env)
}
