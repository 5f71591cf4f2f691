// Package awareness, peer'lar arası ephemeral state kanalıdır.
//
// Her client (peer) kendi local state'ini yayınlar; diğer client'ların son
// bilinen state'leri clock ile birlikte tutulur. Document'ten farkı: hiçbir
// şey kalıcı değildir ve çakışma çözümü yoktur, her client yalnızca kendi
// state'ini yazar.
//
// Outdated state: bir client'tan outdatedTimeout boyunca güncelleme gelmezse
// state'i düşer ve "removed" olarak bildirilir. Bunun için her client kendi
// state'ini renewInterval aralığıyla yeniden yayınlar.
package awareness

import (
	"encoding/json"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akinalp/meshchat/pkg/cache"
	"github.com/akinalp/meshchat/pkg/emitter"
	"github.com/akinalp/meshchat/pkg/logger"
)

// Varsayılan zamanlamalar.
const (
	DefaultOutdatedTimeout = 30 * time.Second
	DefaultRenewInterval   = 15 * time.Second
)

// Origin değerleri. Transport'lar kendi origin'lerini kullanır.
const (
	OriginLocal   = "local"
	OriginTimeout = "timeout"
)

// ClientState, bir client'ın wire üzerindeki state'i. State null ise client
// state'ini kaldırmıştır (offline).
type ClientState struct {
	Clock uint64          `json:"clock"`
	State json.RawMessage `json:"state"`
}

func (s ClientState) removed() bool {
	return len(s.State) == 0 || string(s.State) == "null"
}

// Update, bir veya daha fazla client'ın state'ini taşıyan mesaj.
type Update struct {
	Clients map[string]ClientState `json:"clients"`
}

// Change, state değişikliği bildirimi.
type Change struct {
	Added   []string
	Updated []string
	Removed []string
	Origin  string
}

func (c Change) empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// Options, Awareness ayarları.
type Options struct {
	OutdatedTimeout time.Duration
	RenewInterval   time.Duration
	Logger          *zap.Logger
}

// Awareness, bir workspace session'ının awareness kanalı.
type Awareness struct {
	clientID string
	log      *zap.Logger

	mu         sync.Mutex
	localClock uint64
	localState json.RawMessage
	// clocks, her remote client için görülen son clock. State düştükten sonra
	// da tutulur; eski clock'lu gecikmiş mesajlar state'i geri getiremez.
	clocks    map[string]uint64
	remote    *cache.TTLCache[string, ClientState]
	closed    bool
	closeOnce sync.Once

	changes emitter.Emitter[Change]
	updates emitter.Emitter[updateEvent]

	stopRenew chan struct{}
	renewDone chan struct{}
}

type updateEvent struct {
	clients []string
	origin  string
}

// New, clientID için Awareness oluşturur ve renew döngüsünü başlatır.
func New(clientID string, opts Options) *Awareness {
	if opts.OutdatedTimeout <= 0 {
		opts.OutdatedTimeout = DefaultOutdatedTimeout
	}
	if opts.RenewInterval <= 0 {
		opts.RenewInterval = DefaultRenewInterval
	}

	a := &Awareness{
		clientID:  clientID,
		log:       logger.OrNop(opts.Logger),
		clocks:    make(map[string]uint64),
		remote:    cache.New[string, ClientState](opts.OutdatedTimeout, opts.OutdatedTimeout/10),
		stopRenew: make(chan struct{}),
		renewDone: make(chan struct{}),
	}
	a.remote.OnEvict(a.onExpired)

	go a.renewLoop(opts.RenewInterval)

	return a
}

// ClientID, bu client'ın id'si.
func (a *Awareness) ClientID() string {
	return a.clientID
}

// SetLocalState, local state'i v'nin JSON karşılığıyla değiştirir ve
// yayınlar. v nil ise local state kaldırılır.
func (a *Awareness) SetLocalState(v any) error {
	var raw json.RawMessage
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		raw = b
	}
	if string(raw) == "null" {
		raw = nil
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	prev := a.localState
	a.localClock++
	a.localState = raw
	a.mu.Unlock()

	change := Change{Origin: OriginLocal}
	switch {
	case prev == nil && raw != nil:
		change.Added = []string{a.clientID}
	case prev != nil && raw == nil:
		change.Removed = []string{a.clientID}
	case prev != nil && string(prev) != string(raw):
		change.Updated = []string{a.clientID}
	}

	if !change.empty() {
		a.changes.Emit(change)
	}
	a.updates.Emit(updateEvent{clients: []string{a.clientID}, origin: OriginLocal})
	return nil
}

// LocalState, local state'i out'a decode eder. State yoksa false.
func (a *Awareness) LocalState(out any) bool {
	a.mu.Lock()
	raw := a.localState
	a.mu.Unlock()

	if raw == nil {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// GetStates, local dahil tüm canlı client state'leri.
func (a *Awareness) GetStates() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage)

	a.mu.Lock()
	if a.localState != nil {
		out[a.clientID] = a.localState
	}
	a.mu.Unlock()

	a.remote.Range(func(client string, st ClientState) bool {
		out[client] = st.State
		return true
	})
	return out
}

// OnChange, state içeriği değiştiğinde çağrılır (ekleme, güncelleme, kaldırma).
func (a *Awareness) OnChange(fn func(Change)) func() {
	return a.changes.Subscribe(fn)
}

// OnUpdate, yayınlanması gereken her güncellemede çağrılır (renew dahil).
// Transport provider'ları origin local olanları peer'lara iletir.
func (a *Awareness) OnUpdate(fn func(clients []string, origin string)) func() {
	return a.updates.Subscribe(func(e updateEvent) { fn(e.clients, e.origin) })
}

// Encode, verilen client'ların (nil ise local + tüm canlı remote) güncel
// state'lerini Update olarak paketler.
func (a *Awareness) Encode(clients []string) Update {
	a.mu.Lock()
	defer a.mu.Unlock()

	if clients == nil {
		clients = append(clients, a.clientID)
		a.remote.Range(func(client string, _ ClientState) bool {
			clients = append(clients, client)
			return true
		})
	}

	u := Update{Clients: make(map[string]ClientState, len(clients))}
	for _, c := range clients {
		if c == a.clientID {
			u.Clients[c] = ClientState{Clock: a.localClock, State: a.localState}
			continue
		}
		if st, ok := a.remote.Get(c); ok {
			u.Clients[c] = st
		}
	}
	return u
}

// ApplyUpdate, bir peer'dan gelen Update'i uygular. Clock'u bilinenden
// küçük state'ler yok sayılır; eşit clock'lu null state kaldırma sayılır.
func (a *Awareness) ApplyUpdate(u Update, origin string) {
	change := Change{Origin: origin}
	var renewed []string

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}

	clients := make([]string, 0, len(u.Clients))
	for c := range u.Clients {
		clients = append(clients, c)
	}
	slices.Sort(clients)

	for _, client := range clients {
		st := u.Clients[client]
		if client == a.clientID || client == "" {
			continue
		}

		known := a.clocks[client]
		prev, hasPrev := a.remote.Get(client)

		if st.Clock < known || (st.Clock == known && !(st.removed() && hasPrev)) {
			continue
		}
		a.clocks[client] = st.Clock

		if st.removed() {
			if hasPrev {
				a.remote.Delete(client)
				change.Removed = append(change.Removed, client)
			}
			continue
		}

		a.remote.Set(client, st)
		switch {
		case !hasPrev:
			change.Added = append(change.Added, client)
		case string(prev.State) != string(st.State):
			change.Updated = append(change.Updated, client)
		default:
			renewed = append(renewed, client)
		}
	}
	a.mu.Unlock()

	if !change.empty() {
		a.changes.Emit(change)
	}
	if !change.empty() || len(renewed) > 0 {
		all := slices.Concat(change.Added, change.Updated, change.Removed, renewed)
		a.updates.Emit(updateEvent{clients: all, origin: origin})
	}
}

// RemoveStates, verilen remote client'ların state'lerini düşürür
// (örn. relay'den leave frame'i geldiğinde).
func (a *Awareness) RemoveStates(clients []string, origin string) {
	change := Change{Origin: origin}

	a.mu.Lock()
	for _, c := range clients {
		if c == a.clientID {
			continue
		}
		if a.remote.Delete(c) {
			change.Removed = append(change.Removed, c)
		}
	}
	a.mu.Unlock()

	if !change.empty() {
		a.changes.Emit(change)
		a.updates.Emit(updateEvent{clients: change.Removed, origin: origin})
	}
}

// Close, local state'i kaldırır (peer'lara null yayınlanır), renew döngüsünü
// ve expiry cache'ini durdurur. Birden fazla çağrılabilir.
func (a *Awareness) Close() {
	a.closeOnce.Do(func() {
		if err := a.SetLocalState(nil); err != nil {
			a.log.Warn("clear local state", zap.Error(err))
		}

		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()

		close(a.stopRenew)
		<-a.renewDone
		a.remote.Close()
	})
}

// ExpireNow, süresi dolmuş remote state'leri hemen düşürür.
// Normalde cache'in cleanup döngüsü çağırır; testler ve CLI kullanır.
func (a *Awareness) ExpireNow() {
	a.remote.EvictExpired()
}

// SetClock, outdated hesabında kullanılan zaman kaynağını değiştirir.
func (a *Awareness) SetClock(now func() time.Time) {
	a.remote.SetClock(now)
}

// ─── Internals ───

func (a *Awareness) onExpired(client string, _ ClientState) {
	a.log.Debug("awareness state expired", zap.String("client", client))
	a.changes.Emit(Change{Removed: []string{client}, Origin: OriginTimeout})
}

// renewLoop, local state'i periyodik olarak yeniden yayınlar; böylece
// diğer peer'larda outdated olarak düşmez.
func (a *Awareness) renewLoop(interval time.Duration) {
	defer close(a.renewDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.mu.Lock()
			hasState := a.localState != nil
			if hasState {
				a.localClock++
			}
			a.mu.Unlock()

			if hasState {
				a.updates.Emit(updateEvent{clients: []string{a.clientID}, origin: OriginLocal})
			}
		case <-a.stopRenew:
			return
		}
	}
}
