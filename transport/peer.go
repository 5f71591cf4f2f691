package transport

import (
	"sync"

	"go.uber.org/zap"

	"github.com/akinalp/meshchat/awareness"
	"github.com/akinalp/meshchat/crdt"
	"github.com/akinalp/meshchat/pkg/emitter"
	"github.com/akinalp/meshchat/pkg/logger"
)

// ─── Status ───

// statusHolder, provider'ların ortak Status/OnStatus implementasyonu.
type statusHolder struct {
	mu     sync.Mutex
	status Status
	events emitter.Emitter[Status]
}

// Status, son bilinen bağlantı durumu.
func (s *statusHolder) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == "" {
		return StatusDisconnected
	}
	return s.status
}

// OnStatus, durum her değiştiğinde çağrılır.
func (s *statusHolder) OnStatus(fn func(Status)) func() {
	return s.events.Subscribe(fn)
}

func (s *statusHolder) setStatus(st Status) {
	s.mu.Lock()
	changed := s.status != st
	s.status = st
	s.mu.Unlock()

	if changed {
		s.events.Emit(st)
	}
}

// ─── Peer binding ───

// peer, bir document + awareness çiftini frame protokolüne bağlar.
// Taşıma katmanından bağımsızdır: frame'leri send ile gönderir, gelenleri
// handle ile işler.
type peer struct {
	id     string
	origin string
	doc    *crdt.Doc
	aw     *awareness.Awareness
	send   func(Envelope)
	log    *zap.Logger

	mu     sync.Mutex
	unsubs []func()
}

func newPeer(doc *crdt.Doc, aw *awareness.Awareness, origin string, send func(Envelope), log *zap.Logger) *peer {
	return &peer{
		id:     doc.Replica(),
		origin: origin,
		doc:    doc,
		aw:     aw,
		send:   send,
		log:    logger.OrNop(log),
	}
}

// start, document/awareness değişikliklerini yayınlamaya başlar ve odaya
// kendini duyurur.
func (p *peer) start() {
	unsubDoc := p.doc.OnUpdate(func(ops []crdt.Op, origin crdt.Origin) {
		// Bu transport'tan gelen op'lar zaten odada.
		if origin == crdt.Origin(p.origin) {
			return
		}
		p.send(Envelope{Type: FrameUpdate, From: p.id, Ops: ops})
	})
	unsubAw := p.aw.OnUpdate(func(clients []string, origin string) {
		if origin != awareness.OriginLocal {
			return
		}
		u := p.aw.Encode(clients)
		p.send(Envelope{Type: FrameAwareness, From: p.id, Awareness: &u})
	})

	p.mu.Lock()
	p.unsubs = append(p.unsubs, unsubDoc, unsubAw)
	p.mu.Unlock()

	p.announce()
}

// announce, state vector'ü ve local awareness state'ini odaya yayınlar.
// Yeniden bağlanmada ve gönderilemeyen frame'lerden sonra da çağrılır:
// cevap olarak gelen sync1'ler kayıp op'ları geri getirir.
func (p *peer) announce() {
	p.send(Envelope{Type: FrameSync1, From: p.id, SV: p.doc.StateVector()})
	p.sendLocalAwareness("")
}

func (p *peer) sendLocalAwareness(to string) {
	u := p.aw.Encode([]string{p.aw.ClientID()})
	p.send(Envelope{Type: FrameAwareness, From: p.id, To: to, Awareness: &u})
}

// handle, odadan gelen tek bir frame'i işler. Kendi frame'leri ve başka
// peer'a yönelik frame'ler yok sayılır.
func (p *peer) handle(env Envelope) {
	if !env.Valid() {
		p.log.Debug("dropping invalid frame", zap.String("type", string(env.Type)))
		return
	}
	if env.From == p.id || (env.To != "" && env.To != p.id) {
		return
	}

	switch env.Type {
	case FrameSync1:
		p.send(Envelope{Type: FrameSync2, From: p.id, To: env.From, Ops: p.doc.Diff(env.SV)})
		// Broadcast sync1 yeni katılan bir peer'dır: o da bizden eksiklerini
		// istesin ve awareness'ımızı görsün.
		if env.To == "" {
			p.send(Envelope{Type: FrameSync1, From: p.id, To: env.From, SV: p.doc.StateVector()})
			p.sendLocalAwareness(env.From)
		}

	case FrameSync2, FrameUpdate:
		if len(env.Ops) > 0 {
			p.doc.Apply(env.Ops, crdt.Origin(p.origin))
		}
		// Pending op kaldıysa aradaki bir frame kaybolmuştur; eksikleri
		// gönderenden iste. sync2 cevabı tekrar istek üretmez, yoksa iki
		// peer'da da olmayan bir op için sync1/sync2 döngüsü oluşur.
		if env.Type == FrameUpdate && p.doc.PendingLen() > 0 {
			p.log.Debug("gap detected, requesting missing ops",
				zap.String("from", env.From), zap.Int("pending", p.doc.PendingLen()))
			p.send(Envelope{Type: FrameSync1, From: p.id, To: env.From, SV: p.doc.StateVector()})
		}

	case FrameResync:
		p.announce()

	case FrameAwareness:
		p.aw.ApplyUpdate(*env.Awareness, p.origin)

	case FrameLeave:
		p.aw.RemoveStates([]string{env.From}, p.origin)
	}
}

// stop, abonelikleri bırakır. Birden fazla çağrılabilir.
func (p *peer) stop() {
	p.mu.Lock()
	unsubs := p.unsubs
	p.unsubs = nil
	p.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
}
