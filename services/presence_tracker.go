package services

import (
	"encoding/json"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/akinalp/meshchat/awareness"
	"github.com/akinalp/meshchat/crdt"
	"github.com/akinalp/meshchat/models"
	"github.com/akinalp/meshchat/pkg/emitter"
	"github.com/akinalp/meshchat/pkg/logger"
	"github.com/akinalp/meshchat/repository"
)

// ─── Pure helpers ───

// ComputeOnline, awareness state'lerinden çevrimiçi kullanıcıları çıkarır:
// user.id taşıyan her state bir kullanıcıyı çevrimiçi yapar. Aynı kullanıcı
// birden fazla bağlantıdan görünebilir; sonuç id'ye göre tekildir.
// Çözülemeyen state'ler atlanır.
func ComputeOnline(states map[string]json.RawMessage) map[string]models.PresenceUser {
	online := make(map[string]models.PresenceUser, len(states))

	clients := make([]string, 0, len(states))
	for c := range states {
		clients = append(clients, c)
	}
	// Aynı kullanıcının birden fazla bağlantısında özet deterministik olsun.
	slices.Sort(clients)

	for _, c := range clients {
		var st models.AwarenessState
		if err := json.Unmarshal(states[c], &st); err != nil {
			continue
		}
		if st.User == nil || st.User.ID == "" {
			continue
		}
		if _, seen := online[st.User.ID]; !seen {
			online[st.User.ID] = *st.User
		}
	}
	return online
}

// DiffSets, entered = next \ prev, exited = prev \ next. Sonuçlar sıralıdır.
func DiffSets[V any](prev, next map[string]V) (entered, exited []string) {
	for id := range next {
		if _, ok := prev[id]; !ok {
			entered = append(entered, id)
		}
	}
	for id := range prev {
		if _, ok := next[id]; !ok {
			exited = append(exited, id)
		}
	}
	slices.Sort(entered)
	slices.Sort(exited)
	return entered, exited
}

// ConnectionStatusFor, local kullanıcı dışında çevrimiçi biri varsa
// connected. Local kullanıcı yoksa her zaman disconnected.
func ConnectionStatusFor[V any](online map[string]V, self string) models.ConnectionStatus {
	if self == "" {
		return models.StatusDisconnected
	}
	for id := range online {
		if id != self {
			return models.StatusConnected
		}
	}
	return models.StatusDisconnected
}

// ─── PresenceTracker ───

// PresenceTracker, awareness state'lerinden çevrimiçi kullanıcı kümesini
// türetir. Her değişiklikte küme baştan hesaplanır ve önceki snapshot ile
// karşılaştırılır; artımlı bir kayıt tutulmaz.
type PresenceTracker struct {
	aw       *awareness.Awareness
	doc      *crdt.Doc
	userRepo repository.UserRepository
	log      *zap.Logger

	// recomputeMu, snapshot okuma + diff + emit adımlarını tek parça yapar.
	// Aksi halde eski bir snapshot yenisinin üzerine yazılabilir ve
	// delta'lar sırasız yayılır.
	recomputeMu sync.Mutex

	mu      sync.Mutex
	self    string
	online  map[string]models.PresenceUser
	known   map[string]models.PresenceUser
	status  models.ConnectionStatus
	started bool
	unsubs  []func()

	deltas   emitter.Emitter[models.PresenceDelta]
	statuses emitter.Emitter[models.ConnectionStatus]
}

// NewPresenceTracker, tracker oluşturur. Start çağrılana kadar dinlemez.
func NewPresenceTracker(aw *awareness.Awareness, doc *crdt.Doc, userRepo repository.UserRepository, log *zap.Logger) *PresenceTracker {
	return &PresenceTracker{
		aw:       aw,
		doc:      doc,
		userRepo: userRepo,
		log:      logger.OrNop(log).Named("presence"),
		online:   make(map[string]models.PresenceUser),
		known:    make(map[string]models.PresenceUser),
		status:   models.StatusDisconnected,
	}
}

// Start, mevcut durumu sessizce baseline olarak alır ve awareness/profil
// değişikliklerini dinlemeye başlar. Dönen fonksiyon tüm abonelikleri
// bırakır; birden fazla çağrılabilir.
func (t *PresenceTracker) Start() func() {
	t.recomputeMu.Lock()
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		t.recomputeMu.Unlock()
		return t.Stop
	}
	t.started = true
	t.online = ComputeOnline(t.aw.GetStates())
	for id, u := range t.online {
		t.known[id] = u
	}
	t.status = ConnectionStatusFor(t.online, t.self)
	t.mu.Unlock()
	t.recomputeMu.Unlock()

	unsubAw := t.aw.OnChange(func(awareness.Change) { t.recompute() })
	unsubDoc := t.doc.Observe([]string{repository.KeyUsers}, t.onUsersChanged)

	t.mu.Lock()
	t.unsubs = append(t.unsubs, unsubAw, unsubDoc)
	t.mu.Unlock()

	return t.Stop
}

// Stop, abonelikleri bırakır.
func (t *PresenceTracker) Stop() {
	t.mu.Lock()
	unsubs := t.unsubs
	t.unsubs = nil
	t.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
}

// SetLocalUser, local kullanıcıyı belirler ve awareness'a yayınlar.
// Kullanıcı document'te henüz yoksa (sync bekleniyor) false döner; kayıt
// geldiğinde yayın otomatik yapılır.
func (t *PresenceTracker) SetLocalUser(id string) bool {
	t.mu.Lock()
	t.self = id
	t.mu.Unlock()

	user, err := t.userRepo.GetByID(id)
	if err != nil {
		t.recompute()
		return false
	}

	t.publish(user)
	t.recompute()
	return true
}

// ClearLocalUser, local kullanıcıyı kaldırır; awareness state'i null olur.
func (t *PresenceTracker) ClearLocalUser() {
	t.mu.Lock()
	t.self = ""
	t.mu.Unlock()

	if err := t.aw.SetLocalState(nil); err != nil {
		t.log.Warn("failed to clear awareness state", zap.Error(err))
	}
	t.recompute()
}

// LocalUserID, local kullanıcı id'si ("" = yok).
func (t *PresenceTracker) LocalUserID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.self
}

// Online, çevrimiçi kullanıcı id'leri (local kullanıcı dahil), sıralı.
func (t *PresenceTracker) Online() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.online))
	for id := range t.online {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// IsOnline, kullanıcının çevrimiçi olup olmadığı.
func (t *PresenceTracker) IsOnline(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.online[id]
	return ok
}

// PresenceUser, kullanıcının awareness'ta görülen son özeti.
func (t *PresenceTracker) PresenceUser(id string) (models.PresenceUser, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.known[id]
	return u, ok
}

// Status, bağlantı durumu.
func (t *PresenceTracker) Status() models.ConnectionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// OnDelta, çevrimiçi küme her değiştiğinde çağrılır.
func (t *PresenceTracker) OnDelta(fn func(models.PresenceDelta)) func() {
	return t.deltas.Subscribe(fn)
}

// OnStatus, bağlantı durumu değiştiğinde çağrılır.
func (t *PresenceTracker) OnStatus(fn func(models.ConnectionStatus)) func() {
	return t.statuses.Subscribe(fn)
}

// ─── Internals ───

func (t *PresenceTracker) recompute() {
	t.recomputeMu.Lock()
	defer t.recomputeMu.Unlock()

	next := ComputeOnline(t.aw.GetStates())

	t.mu.Lock()
	entered, exited := DiffSets(t.online, next)

	delta := models.PresenceDelta{
		Entered: entered,
		Exited:  exited,
		Users:   make(map[string]models.PresenceUser, len(entered)+len(exited)),
	}
	for _, id := range exited {
		delta.Users[id] = t.known[id]
	}
	for id, u := range next {
		t.known[id] = u
	}
	for _, id := range entered {
		delta.Users[id] = next[id]
	}
	t.online = next
	for id := range next {
		delta.Online = append(delta.Online, id)
	}
	slices.Sort(delta.Online)

	status := ConnectionStatusFor(next, t.self)
	statusChanged := status != t.status
	t.status = status
	t.mu.Unlock()

	if len(entered) > 0 || len(exited) > 0 {
		t.log.Debug("presence changed",
			zap.Strings("entered", entered),
			zap.Strings("exited", exited),
		)
		t.deltas.Emit(delta)
	}
	if statusChanged {
		t.statuses.Emit(status)
	}
}

// onUsersChanged, local kullanıcının profili değişince awareness'ı günceller.
func (t *PresenceTracker) onUsersChanged(changes []crdt.Change) {
	self := t.LocalUserID()
	if self == "" {
		return
	}

	for _, c := range changes {
		path := c.FullPath()
		if len(path) >= 2 && path[1] == self {
			if user, err := t.userRepo.GetByID(self); err == nil {
				t.publish(user)
			}
			return
		}
	}
}

func (t *PresenceTracker) publish(user *models.User) {
	state := models.AwarenessState{User: &models.PresenceUser{
		ID:       user.ID(),
		Username: user.Username,
		FullName: user.FullName,
		Avatar:   user.Avatar,
	}}
	if err := t.aw.SetLocalState(state); err != nil {
		t.log.Warn("failed to publish awareness state", zap.Error(err))
	}
}
