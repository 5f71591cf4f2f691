package services

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/akinalp/meshchat/pkg"
	"github.com/akinalp/meshchat/pkg/emitter"
	"github.com/akinalp/meshchat/pkg/logger"
	"github.com/akinalp/meshchat/repository"
)

// SelectionState, session'ın UI seçimlerinin anlık görüntüsü.
type SelectionState struct {
	UserID     string
	ChannelID  string
	ThreadID   string
	ThreadOpen bool
	DarkMode   bool
}

// Selection, replike document'in parçası olmayan yerel seçimler: aktif
// kullanıcı, aktif kanal, açık thread ve tema.
//
// Kullanıcı, kanal ve tema settings repository'ye yazılır; thread seçimi
// kalıcı değildir. Kanal anahtarı workspace'e özeldir.
type Selection struct {
	workspaceID string
	settings    repository.SettingsRepository
	log         *zap.Logger

	mu    sync.Mutex
	state SelectionState

	changes emitter.Emitter[SelectionState]
}

// NewSelection, boş bir seçim oluşturur. settings nil olabilir (kalıcılık yok).
func NewSelection(workspaceID string, settings repository.SettingsRepository, log *zap.Logger) *Selection {
	return &Selection{
		workspaceID: workspaceID,
		settings:    settings,
		log:         logger.OrNop(log).Named("selection"),
		state:       SelectionState{DarkMode: true},
	}
}

// Load, kayıtlı seçimleri okur. Kayıt yoksa varsayılanlar kalır.
func (s *Selection) Load(ctx context.Context) error {
	if s.settings == nil {
		return nil
	}

	userID, err := s.get(ctx, repository.SettingCurrentUserID)
	if err != nil {
		return err
	}
	channelID, err := s.get(ctx, repository.SettingCurrentChannel(s.workspaceID))
	if err != nil {
		return err
	}
	dark, err := s.get(ctx, repository.SettingDarkMode)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.state.UserID = userID
	s.state.ChannelID = channelID
	if b, err := strconv.ParseBool(dark); err == nil {
		s.state.DarkMode = b
	}
	state := s.state
	s.mu.Unlock()

	s.changes.Emit(state)
	return nil
}

// State, seçimlerin kopyası.
func (s *Selection) State() SelectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID, aktif kullanıcı id'si ("" = seçilmemiş).
func (s *Selection) UserID() string {
	return s.State().UserID
}

// ChannelID, aktif kanal id'si ("" = seçilmemiş).
func (s *Selection) ChannelID() string {
	return s.State().ChannelID
}

// SetUser, aktif kullanıcıyı değiştirir. "" seçimi temizler.
func (s *Selection) SetUser(id string) {
	s.update(func(st *SelectionState) bool {
		if st.UserID == id {
			return false
		}
		st.UserID = id
		return true
	})
	s.persist(repository.SettingCurrentUserID, id)
}

// SetChannel, aktif kanalı değiştirir; açık thread kapanır.
func (s *Selection) SetChannel(id string) {
	s.update(func(st *SelectionState) bool {
		if st.ChannelID == id {
			return false
		}
		st.ChannelID = id
		st.ThreadID = ""
		st.ThreadOpen = false
		return true
	})
	s.persist(repository.SettingCurrentChannel(s.workspaceID), id)
}

// ClearChannelIf, aktif kanal id ise seçimi temizler.
func (s *Selection) ClearChannelIf(id string) bool {
	cleared := s.update(func(st *SelectionState) bool {
		if id == "" || st.ChannelID != id {
			return false
		}
		st.ChannelID = ""
		st.ThreadID = ""
		st.ThreadOpen = false
		return true
	})
	if cleared {
		s.persist(repository.SettingCurrentChannel(s.workspaceID), "")
	}
	return cleared
}

// OpenThread, messageID'nin thread panelini açar.
func (s *Selection) OpenThread(messageID string) {
	s.update(func(st *SelectionState) bool {
		st.ThreadID = messageID
		st.ThreadOpen = messageID != ""
		return true
	})
}

// CloseThread, thread panelini kapatır.
func (s *Selection) CloseThread() {
	s.OpenThread("")
}

// SetDarkMode, tema tercihini değiştirir.
func (s *Selection) SetDarkMode(on bool) {
	s.update(func(st *SelectionState) bool {
		if st.DarkMode == on {
			return false
		}
		st.DarkMode = on
		return true
	})
	s.persist(repository.SettingDarkMode, strconv.FormatBool(on))
}

// OnChange, her seçim değişikliğinde yeni durumla çağrılır.
func (s *Selection) OnChange(fn func(SelectionState)) func() {
	return s.changes.Subscribe(fn)
}

// ─── Internals ───

func (s *Selection) update(fn func(st *SelectionState) bool) bool {
	s.mu.Lock()
	changed := fn(&s.state)
	state := s.state
	s.mu.Unlock()

	if changed {
		s.changes.Emit(state)
	}
	return changed
}

func (s *Selection) get(ctx context.Context, key string) (string, error) {
	v, err := s.settings.Get(ctx, key)
	if errors.Is(err, pkg.ErrNotFound) {
		return "", nil
	}
	return v, err
}

// persist, ayarı yazar; "" değer anahtarı siler. Hata yalnızca loglanır:
// seçim bellekte geçerli kalır.
func (s *Selection) persist(key, value string) {
	if s.settings == nil {
		return
	}

	ctx := context.Background()
	var err error
	if value == "" {
		err = s.settings.Delete(ctx, key)
	} else {
		err = s.settings.Set(ctx, key, value)
	}
	if err != nil {
		s.log.Warn("failed to persist setting", zap.String("key", key), zap.Error(err))
	}
}
