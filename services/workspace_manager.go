package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akinalp/meshchat/awareness"
	"github.com/akinalp/meshchat/crdt"
	"github.com/akinalp/meshchat/persistence"
	"github.com/akinalp/meshchat/pkg"
	"github.com/akinalp/meshchat/pkg/crypto"
	"github.com/akinalp/meshchat/pkg/i18n"
	"github.com/akinalp/meshchat/pkg/logger"
	"github.com/akinalp/meshchat/repository"
	"github.com/akinalp/meshchat/transport"
)

// ManagerDeps, WorkspaceManager'ın dışarıdan aldığı bağımlılıklar.
// Nil alanlar ilgili özelliği kapatır (ör. Transport nil → offline session).
type ManagerDeps struct {
	Updates   repository.UpdateRepository
	Settings  repository.SettingsRepository
	Cipher    *crypto.Cipher
	Transport transport.Factory
	Feed      *ToastFeed
	Localizer *i18n.Localizer
}

// ManagerOptions, session'lara aktarılan ayarlar.
type ManagerOptions struct {
	Reconciler       ReconcilerOptions
	Awareness        awareness.Options
	CompactThreshold int
	// NewReplicaID, her session için document replica id'si üretir.
	NewReplicaID func() string
	Logger       *zap.Logger
}

// WorkspaceManager, aynı anda tek bir aktif workspace session'ını yönetir.
// Başka bir workspace'e bağlanmak önceki session'ı tamamen kapatır.
type WorkspaceManager struct {
	deps ManagerDeps
	opts ManagerOptions
	log  *zap.Logger

	bindMu  sync.Mutex // BindWorkspace/Close çağrılarını sıralar
	mu      sync.Mutex
	current *Session
	closed  bool
}

// NewWorkspaceManager, manager oluşturur. Feed nil ise yeni bir ToastFeed açılır.
func NewWorkspaceManager(deps ManagerDeps, opts ManagerOptions) *WorkspaceManager {
	if deps.Feed == nil {
		deps.Feed = NewToastFeed()
	}
	if deps.Localizer == nil {
		deps.Localizer = i18n.NewLocalizer(i18n.DefaultLanguage)
	}
	if opts.NewReplicaID == nil {
		opts.NewReplicaID = uuid.NewString
	}
	log := logger.OrNop(opts.Logger)
	if opts.Awareness.Logger == nil {
		opts.Awareness.Logger = log
	}
	if opts.Reconciler.Logger == nil {
		opts.Reconciler.Logger = log
	}

	return &WorkspaceManager{
		deps: deps,
		opts: opts,
		log:  log.Named("workspace"),
	}
}

// Feed, tüm session'ların bildirimlerini toplayan toast feed'i.
func (m *WorkspaceManager) Feed() *ToastFeed {
	return m.deps.Feed
}

// Session, aktif session (yoksa nil).
func (m *WorkspaceManager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// BindWorkspace, id'li workspace'e bağlanır.
//
// Sıra: önceki session kapanır → persistence yüklenir → yerel seçimler
// okunur → servisler kurulur → reconciler baseline'ı alınır → transport
// bağlanır. Persistence hatası loglanır ve session kalıcılık olmadan devam
// eder; transport hatası session'ı kapatır ve pkg.ErrTransport wrap eden
// error döner.
//
// Zaten bağlı olunan workspace için mevcut session döner.
func (m *WorkspaceManager) BindWorkspace(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: workspace id is required", pkg.ErrBadRequest)
	}

	m.bindMu.Lock()
	defer m.bindMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, pkg.ErrClosed
	}
	prev := m.current
	if prev != nil && prev.WorkspaceID == id {
		m.mu.Unlock()
		return prev, nil
	}
	m.current = nil
	m.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			m.log.Warn("previous session close failed", zap.String("workspace", prev.WorkspaceID), zap.Error(err))
		}
		m.deps.Feed.Clear()
	}

	s, err := m.openSession(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()

	m.log.Info("workspace bound",
		zap.String("workspace", id),
		zap.String("replica", s.Doc.Replica()),
	)
	return s, nil
}

// Close, aktif session'ı kapatır. Sonraki BindWorkspace çağrıları ErrClosed döner.
func (m *WorkspaceManager) Close() error {
	m.bindMu.Lock()
	defer m.bindMu.Unlock()

	m.mu.Lock()
	s := m.current
	m.current = nil
	m.closed = true
	m.mu.Unlock()

	m.deps.Feed.Clear()
	if s == nil {
		return nil
	}
	return s.Close()
}

func (m *WorkspaceManager) openSession(ctx context.Context, id string) (*Session, error) {
	log := m.log.With(zap.String("workspace", id))
	replica := m.opts.NewReplicaID()

	doc := crdt.NewDoc(replica)
	s := &Session{
		WorkspaceID: id,
		Doc:         doc,
		Awareness:   awareness.New(replica, m.opts.Awareness),
		log:         log,
	}

	// 1. Persistence
	if m.deps.Updates != nil {
		p := persistence.New(id, doc, m.deps.Updates, persistence.Options{
			Cipher:           m.deps.Cipher,
			CompactThreshold: m.opts.CompactThreshold,
			Logger:           m.opts.Logger,
		})
		if err := p.Start(ctx); err != nil {
			log.Warn("persistence unavailable, continuing without it", zap.Error(err))
			_ = p.Close()
		} else {
			s.Persistence = p
		}
	}

	// 2. Yerel seçimler
	s.Selection = NewSelection(id, m.deps.Settings, m.opts.Logger)
	if err := s.Selection.Load(ctx); err != nil {
		log.Warn("failed to load selection", zap.Error(err))
	}

	// 3. Servisler
	users := repository.NewDocUserRepo(doc)
	channels := repository.NewDocChannelRepo(doc)
	messages := repository.NewDocMessageRepo(doc)
	members := repository.NewDocMemberRepo(doc)

	var chatOpts []ChatOption
	if m.opts.Reconciler.Now != nil {
		chatOpts = append(chatOpts, WithClock(m.opts.Reconciler.Now))
	}
	s.Chat = NewChatService(users, channels, messages, s.Selection, m.opts.Logger, chatOpts...)
	s.Membership = NewMembershipService(members, users, m.opts.Reconciler.Now, m.opts.Logger)
	s.Tracker = NewPresenceTracker(s.Awareness, doc, users, m.opts.Logger)
	s.addStop(s.Tracker.Start())

	if uid := s.Selection.UserID(); uid != "" {
		s.Tracker.SetLocalUser(uid)
	}

	// 4. Reconciler: baseline transport'tan önce alınır
	s.Reconciler = NewNotificationReconciler(ReconcilerDeps{
		Doc:       doc,
		Users:     users,
		Channels:  channels,
		Messages:  messages,
		Members:   members,
		Tracker:   s.Tracker,
		Selection: s.Selection,
		Sink:      m.deps.Feed,
		Localizer: m.deps.Localizer,
	}, m.opts.Reconciler)
	s.addStop(s.Reconciler.Setup())

	// 5. Transport
	if m.deps.Transport != nil {
		tp, err := m.deps.Transport(id, doc, s.Awareness)
		if err == nil {
			s.Transport = tp
			err = tp.Connect(ctx)
		}
		if err != nil {
			_ = s.Close()
			if !errors.Is(err, pkg.ErrTransport) {
				err = fmt.Errorf("%w: %w", pkg.ErrTransport, err)
			}
			return nil, fmt.Errorf("bind workspace %s: %w", id, err)
		}
	}

	return s, nil
}

// ─── Session ───

// Session, bağlı bir workspace'in tüm parçaları. Alanlar session
// kapanana kadar sabittir; Persistence ve Transport nil olabilir.
type Session struct {
	WorkspaceID string
	Doc         *crdt.Doc
	Awareness   *awareness.Awareness
	Persistence *persistence.Provider
	Transport   transport.Provider
	Selection   *Selection
	Chat        ChatService
	Membership  MembershipService
	Tracker     *PresenceTracker
	Reconciler  *NotificationReconciler

	log       *zap.Logger
	stops     []func()
	closeOnce sync.Once
	closeErr  error
}

// SetLocalUser, local kullanıcıyı seçer ve presence'a yayınlar.
// Kullanıcı document'te yoksa false.
func (s *Session) SetLocalUser(id string) bool {
	if !s.Chat.SelectUser(id) {
		return false
	}
	if id == "" {
		s.Tracker.ClearLocalUser()
		return true
	}
	s.Tracker.SetLocalUser(id)
	return true
}

// Close, session'ı ters sırayla kapatır: önce dinleyiciler, sonra
// awareness (null state peer'lara iletilir), transport ve persistence.
// Birden fazla çağrılabilir.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		for i := len(s.stops) - 1; i >= 0; i-- {
			s.stops[i]()
		}

		s.Awareness.Close()

		var errs []error
		if s.Transport != nil {
			if err := s.Transport.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close transport: %w", err))
			}
		}
		if s.Persistence != nil {
			if err := s.Persistence.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close persistence: %w", err))
			}
		}
		s.closeErr = errors.Join(errs...)
		s.log.Info("session closed")
	})
	return s.closeErr
}

func (s *Session) addStop(fn func()) {
	s.stops = append(s.stops, fn)
}
