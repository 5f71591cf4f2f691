package services

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akinalp/meshchat/crdt"
	"github.com/akinalp/meshchat/models"
	"github.com/akinalp/meshchat/pkg/i18n"
	"github.com/akinalp/meshchat/pkg/logger"
	"github.com/akinalp/meshchat/repository"
)

// Reconciler varsayılanları.
const (
	DefaultRecencyWindow = 5 * time.Second
	previewLength        = 30
)

// ReconcilerDeps, NotificationReconciler'ın okuduğu kaynaklar.
type ReconcilerDeps struct {
	Doc       *crdt.Doc
	Users     repository.UserRepository
	Channels  repository.ChannelRepository
	Messages  repository.MessageRepository
	Members   repository.MemberRepository
	Tracker   *PresenceTracker
	Selection *Selection
	Sink      NotificationSink
	Localizer *i18n.Localizer
}

// ReconcilerOptions, zamanlama ayarları. Sıfır değerler varsayılana döner.
type ReconcilerOptions struct {
	RecencyWindow   time.Duration
	MessageTimeout  time.Duration
	PresenceTimeout time.Duration
	Now             func() time.Time
	Logger          *zap.Logger
}

// NotificationReconciler, document ve presence değişikliklerinden kullanıcıya
// gösterilecek bildirimleri üretir.
//
// Kurallar:
//   - Setup anında var olan her şey baseline'dır, bildirilmez.
//   - Her entity en fazla bir kez bildirilir (seen kümeleri sadece büyür).
//   - Local kullanıcının kendi eylemleri bildirilmez.
//   - createdAt'i şimdiden RecencyWindow'dan uzak olanlar backlog sayılır.
//   - Aktif kanaldaki mesajlar zaten görünür olduğu için bildirilmez.
type NotificationReconciler struct {
	deps ReconcilerDeps
	opts ReconcilerOptions
	log  *zap.Logger

	mu           sync.Mutex
	seenUsers    map[string]struct{}
	seenMessages map[string]struct{}
	// members, kanal → üye kümesi. Üyelik bildirimleri bu kümedeki geçişlerden
	// üretilir; aynı durum tekrar gelirse bildirim olmaz.
	members map[string]map[string]struct{}
	closed  bool

	cancelOnce sync.Once
	unsubs     []func()
}

// NewNotificationReconciler, reconciler oluşturur. Setup çağrılana kadar dinlemez.
func NewNotificationReconciler(deps ReconcilerDeps, opts ReconcilerOptions) *NotificationReconciler {
	if opts.RecencyWindow <= 0 {
		opts.RecencyWindow = DefaultRecencyWindow
	}
	if opts.MessageTimeout <= 0 {
		opts.MessageTimeout = MessageToastTimeout
	}
	if opts.PresenceTimeout <= 0 {
		opts.PresenceTimeout = DefaultToastTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Localizer == nil {
		deps.Localizer = i18n.NewLocalizer(i18n.DefaultLanguage)
	}

	return &NotificationReconciler{
		deps:         deps,
		opts:         opts,
		log:          logger.OrNop(opts.Logger).Named("notifications"),
		seenUsers:    make(map[string]struct{}),
		seenMessages: make(map[string]struct{}),
		members:      make(map[string]map[string]struct{}),
	}
}

// Setup, mevcut document durumunu baseline olarak kaydeder ve ardından
// document ile presence değişikliklerini dinlemeye başlar. Dönen cancel
// tüm abonelikleri bırakır ve birden fazla çağrılabilir.
func (r *NotificationReconciler) Setup() (cancel func()) {
	r.takeBaseline()

	unsubDoc := r.deps.Doc.Observe(nil, r.onDocChanges)
	unsubPresence := func() {}
	if r.deps.Tracker != nil {
		unsubPresence = r.deps.Tracker.OnDelta(r.onPresence)
	}

	r.mu.Lock()
	r.unsubs = []func(){unsubDoc, unsubPresence}
	r.mu.Unlock()

	return r.cancel
}

func (r *NotificationReconciler) cancel() {
	r.cancelOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		unsubs := r.unsubs
		r.unsubs = nil
		r.mu.Unlock()

		for _, u := range unsubs {
			u()
		}
	})
}

// ─── Baseline ───

func (r *NotificationReconciler) takeBaseline() {
	users := 0
	messages := 0

	r.deps.Doc.Read(func(rd crdt.Reader) {
		r.mu.Lock()
		defer r.mu.Unlock()

		for _, id := range rd.Keys(repository.KeyUsers) {
			r.seenUsers[id] = struct{}{}
			users++
		}
		for _, ch := range rd.Keys(repository.KeyChannels) {
			for _, id := range rd.Keys(repository.KeyChannels, ch, repository.KeyMessages) {
				r.seenMessages[messageKey(ch, id)] = struct{}{}
				messages++
			}
			set := make(map[string]struct{})
			for _, u := range rd.Keys(repository.KeyChannels, ch, repository.KeyMembers) {
				set[u] = struct{}{}
			}
			r.members[ch] = set
		}
	})

	r.log.Debug("baseline recorded", zap.Int("users", users), zap.Int("messages", messages))
}

func messageKey(channelID, id string) string {
	return channelID + "/" + id
}

// ─── Document events ───

func (r *NotificationReconciler) onDocChanges(changes []crdt.Change) {
	if r.isClosed() {
		return
	}

	events := make([]DocEvent, 0, len(changes))
	fresh := make(map[string]bool)
	for _, c := range changes {
		ev, ok := ClassifyChange(c)
		if !ok {
			continue
		}
		if ev.Kind == EventChannelAdded {
			fresh[ev.ChannelID] = true
		}
		events = append(events, ev)
	}

	for _, ev := range events {
		switch ev.Kind {
		case EventChannelAdded:
			// Sonraki batch'lerdeki üyelikler bu kümeye göre bildirilir.
			r.mu.Lock()
			if _, ok := r.members[ev.ChannelID]; !ok {
				r.members[ev.ChannelID] = make(map[string]struct{})
			}
			r.mu.Unlock()
		case EventUserAdded:
			r.considerUser(ev)
		case EventMessageAdded:
			r.considerMessage(ev)
		case EventMemberJoined, EventMemberLeft:
			r.considerMembership(ev, fresh[ev.ChannelID])
		case EventChannelRemoved:
			r.mu.Lock()
			delete(r.members, ev.ChannelID)
			r.mu.Unlock()
		}
	}
}

// markSeen, key'i kümeye ekler; zaten varsa false.
func (r *NotificationReconciler) markSeen(set map[string]struct{}, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := set[key]; ok {
		return false
	}
	set[key] = struct{}{}
	return true
}

func (r *NotificationReconciler) seen(set map[string]struct{}, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := set[key]
	return ok
}

func (r *NotificationReconciler) considerUser(ev DocEvent) {
	if r.seen(r.seenUsers, ev.UserID) {
		return
	}
	user, err := r.deps.Users.GetByID(ev.UserID)
	if err != nil {
		// Meta henüz gelmedi; meta değişikliğiyle tekrar değerlendirilir.
		r.log.Debug("user without meta", zap.String("user", ev.UserID))
		return
	}
	if !r.markSeen(r.seenUsers, ev.UserID) {
		return
	}

	if ev.Origin != crdt.OriginLocal && ev.Origin != crdt.OriginPersistence &&
		user.ID() != r.localUserID() && r.recent(user.Meta.CreatedAt) {
		r.notify("notify.userJoined", map[string]string{
			"name": user.DisplayName(r.someone()),
		}, models.ToastInfo, r.opts.PresenceTimeout)
	}
}

func (r *NotificationReconciler) considerMessage(ev DocEvent) {
	key := messageKey(ev.ChannelID, ev.MessageID)
	if r.seen(r.seenMessages, key) {
		return
	}
	msg, err := r.deps.Messages.GetByID(ev.ChannelID, ev.MessageID)
	if err != nil {
		r.log.Debug("message without meta", zap.String("channel", ev.ChannelID), zap.String("message", ev.MessageID))
		return
	}
	if !r.markSeen(r.seenMessages, key) {
		return
	}

	switch {
	case ev.Origin == crdt.OriginLocal, ev.Origin == crdt.OriginPersistence:
		return
	case msg.Deleted:
		return
	case msg.Meta.UserID != "" && msg.Meta.UserID == r.localUserID():
		return
	case !r.recent(msg.Meta.CreatedAt):
		return
	case r.deps.Selection != nil && r.deps.Selection.ChannelID() == ev.ChannelID:
		return
	}

	ch, err := r.deps.Channels.GetByID(ev.ChannelID)
	if err != nil {
		r.log.Debug("message for unknown channel", zap.String("channel", ev.ChannelID))
		return
	}

	r.notify("notify.message", map[string]string{
		"name":    r.displayName(msg.Meta.UserID, nil),
		"channel": ch.Name,
		"preview": models.Preview(msg.Text, previewLength),
	}, models.ToastInfo, r.opts.MessageTimeout)
}

// considerMembership, üyelik kümesindeki geçişleri bildirir. Yeni görülen
// bir kanalın (aynı batch'te oluşturulmuş veya baseline'da olmayan)
// üyelikleri sessizce kaydedilir.
func (r *NotificationReconciler) considerMembership(ev DocEvent, freshChannel bool) {
	r.mu.Lock()
	set, known := r.members[ev.ChannelID]
	if !known {
		set = make(map[string]struct{})
		r.members[ev.ChannelID] = set
	}
	_, wasMember := set[ev.UserID]
	joined := ev.Kind == EventMemberJoined
	if joined == wasMember {
		r.mu.Unlock()
		return
	}
	if joined {
		set[ev.UserID] = struct{}{}
	} else {
		delete(set, ev.UserID)
	}
	r.mu.Unlock()

	if !known || freshChannel || ev.Origin == crdt.OriginLocal || ev.Origin == crdt.OriginPersistence {
		return
	}
	if ev.UserID == r.localUserID() {
		return
	}
	if joined {
		at, ok := r.deps.Members.JoinedAt(ev.ChannelID, ev.UserID)
		if !ok || !r.recent(at) {
			return
		}
	}

	ch, err := r.deps.Channels.GetByID(ev.ChannelID)
	if err != nil {
		return
	}

	key := "notify.channelLeft"
	if joined {
		key = "notify.channelJoined"
	}
	r.notify(key, map[string]string{
		"name":    r.displayName(ev.UserID, nil),
		"channel": ch.Name,
	}, models.ToastInfo, r.opts.PresenceTimeout)
}

// ─── Presence events ───

func (r *NotificationReconciler) onPresence(delta models.PresenceDelta) {
	if r.isClosed() {
		return
	}
	self := r.localUserID()
	if self == "" {
		return
	}

	for _, id := range delta.Entered {
		if id == self {
			continue
		}
		u, ok := delta.Users[id]
		r.notify("notify.entered", map[string]string{
			"name": r.displayName(id, presenceOrNil(u, ok)),
		}, models.ToastInfo, r.opts.PresenceTimeout)
	}
	for _, id := range delta.Exited {
		if id == self {
			continue
		}
		u, ok := delta.Users[id]
		r.notify("notify.exited", map[string]string{
			"name": r.displayName(id, presenceOrNil(u, ok)),
		}, models.ToastInfo, r.opts.PresenceTimeout)
	}
}

func presenceOrNil(u models.PresenceUser, ok bool) *models.PresenceUser {
	if !ok {
		return nil
	}
	return &u
}

// ─── Helpers ───

func (r *NotificationReconciler) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *NotificationReconciler) localUserID() string {
	if r.deps.Tracker != nil {
		if id := r.deps.Tracker.LocalUserID(); id != "" {
			return id
		}
	}
	if r.deps.Selection != nil {
		return r.deps.Selection.UserID()
	}
	return ""
}

// recent, createdAt'in şimdiye RecencyWindow kadar yakın olup olmadığı.
// Saat kayması iki yönde de olabileceği için fark mutlak değerle alınır.
func (r *NotificationReconciler) recent(createdAt int64) bool {
	diff := r.opts.Now().UnixMilli() - createdAt
	if diff < 0 {
		diff = -diff
	}
	return diff <= r.opts.RecencyWindow.Milliseconds()
}

func (r *NotificationReconciler) someone() string {
	return r.deps.Localizer.T("notify.someone")
}

// displayName: document'teki kullanıcı → awareness özeti → "Someone".
func (r *NotificationReconciler) displayName(userID string, presence *models.PresenceUser) string {
	if userID != "" {
		if u, err := r.deps.Users.GetByID(userID); err == nil {
			if name := u.DisplayName(""); name != "" {
				return name
			}
		}
	}
	if presence == nil && r.deps.Tracker != nil && userID != "" {
		if u, ok := r.deps.Tracker.PresenceUser(userID); ok {
			presence = &u
		}
	}
	if presence != nil {
		return presence.DisplayName(r.someone())
	}
	return r.someone()
}

// notify, metni çevirip sink'e iletir. Sink hatası session'ı etkilemez.
func (r *NotificationReconciler) notify(key string, params map[string]string, severity models.ToastSeverity, timeout time.Duration) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("notification sink failed", zap.String("key", key), zap.Error(fmt.Errorf("%v", rec)))
		}
	}()

	if r.deps.Sink == nil {
		return
	}
	text := r.deps.Localizer.TWithParams(key, params)
	r.deps.Sink.Add(text, severity, timeout)
	r.log.Debug("notification", zap.String("key", key))
}
