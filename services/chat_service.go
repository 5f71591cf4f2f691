package services

import (
	"errors"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akinalp/meshchat/models"
	"github.com/akinalp/meshchat/pkg"
	"github.com/akinalp/meshchat/pkg/logger"
	"github.com/akinalp/meshchat/repository"
)

// Varsayılan kanallar: document'te hiç kanal yoksa InitializeDefaults oluşturur.
var defaultChannels = []struct{ name, description string }{
	{"general", "General discussions"},
	{"random", "Random stuff"},
	{"help", "Get help with YJS Chat"},
}

// ChatService, document'i değiştirmenin tek yolu olan mutation API'si ve
// ondan türetilen okuma görünümleri.
//
// Hiçbir metod error dönmez: referans verilen entity yoksa (eşzamanlı bir
// remote silme ile yarışmış olabilir) "" veya false döner. Ayırt etmek
// isteyen çağıran document'i okur.
type ChatService interface {
	// ─── Users ───
	CreateUser(username, fullName, avatar string) string
	// GetOrCreateUser, username'i eşleşen kullanıcıyı döner, yoksa oluşturur.
	GetOrCreateUser(username string) (id string, created bool)
	UpdateUserProfile(id string, profile models.UserProfile) bool
	FindUserByUsername(username string) (*models.User, bool)
	User(id string) (*models.User, bool)
	Users() []models.User

	// ─── Channels ───
	InitializeDefaults() bool
	IsInitialized() bool
	CreateChannel(name, description string) string
	UpdateChannel(id, name, description string) bool
	ClearChannelMessages(id string) bool
	DeleteChannel(id string) bool
	ToggleChannelLock(id string) bool
	Channel(id string) (*models.Channel, bool)
	Channels() []models.Channel

	// ─── Messages ───
	AddMessage(channelID, userID, text, parentID string) string
	UpdateMessage(channelID, id, text string) bool
	DeleteMessage(channelID, id string) bool
	AddReaction(channelID, id, userID, emoji string) bool
	RemoveReaction(channelID, id, userID, emoji string) bool
	Message(channelID, id string) (*models.Message, bool)
	// Messages, kanalın thread yanıtı olmayan mesajları, createdAt artan.
	Messages(channelID string) []models.Message
	// ThreadReplies, parentID'ye verilen yanıtlar, createdAt artan. Sequence
	// her iterasyonda document'i yeniden okur.
	ThreadReplies(channelID, parentID string) iter.Seq[models.Message]

	// ─── Selection ───
	SelectUser(id string) bool
	SelectChannel(id string) bool
	OpenThread(channelID, messageID string) bool
	CurrentUser() (*models.User, bool)
	CurrentChannel() (*models.Channel, bool)
}

// ChatOption, chatService ayarı.
type ChatOption func(*chatService)

// WithClock, createdAt/updatedAt için zaman kaynağını değiştirir.
func WithClock(now func() time.Time) ChatOption {
	return func(s *chatService) { s.now = now }
}

// WithIDGenerator, entity id üreticisini değiştirir.
func WithIDGenerator(gen func() string) ChatOption {
	return func(s *chatService) { s.newID = gen }
}

type chatService struct {
	userRepo    repository.UserRepository
	channelRepo repository.ChannelRepository
	messageRepo repository.MessageRepository
	selection   *Selection
	log         *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewChatService, constructor — interface döner.
func NewChatService(
	userRepo repository.UserRepository,
	channelRepo repository.ChannelRepository,
	messageRepo repository.MessageRepository,
	selection *Selection,
	log *zap.Logger,
	opts ...ChatOption,
) ChatService {
	s := &chatService{
		userRepo:    userRepo,
		channelRepo: channelRepo,
		messageRepo: messageRepo,
		selection:   selection,
		log:         logger.OrNop(log).Named("chat"),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *chatService) nowMillis() int64 {
	return s.now().UnixMilli()
}

// soft, repository error'unu sentinel'e çevirir. Not-found beklenen bir
// durumdur; diğerleri loglanır.
func (s *chatService) soft(op string, err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, pkg.ErrNotFound) {
		s.log.Debug("mutation skipped", zap.String("op", op), zap.Error(err))
	} else {
		s.log.Warn("mutation failed", zap.String("op", op), zap.Error(err))
	}
	return false
}

// ─── Users ───

func (s *chatService) CreateUser(username, fullName, avatar string) string {
	user := &models.User{
		Meta:     models.UserMeta{ID: s.newID(), CreatedAt: s.nowMillis()},
		Username: username,
		FullName: fullName,
		Avatar:   avatar,
	}
	if !s.soft("createUser", s.userRepo.Create(user)) {
		return ""
	}
	return user.Meta.ID
}

func (s *chatService) GetOrCreateUser(username string) (string, bool) {
	if u, ok := s.FindUserByUsername(username); ok {
		return u.ID(), false
	}
	id := s.CreateUser(username, "", "")
	return id, id != ""
}

func (s *chatService) UpdateUserProfile(id string, profile models.UserProfile) bool {
	return s.soft("updateUserProfile", s.userRepo.UpdateProfile(id, profile))
}

func (s *chatService) FindUserByUsername(username string) (*models.User, bool) {
	u, err := s.userRepo.FindByUsername(username)
	return u, err == nil
}

func (s *chatService) User(id string) (*models.User, bool) {
	u, err := s.userRepo.GetByID(id)
	return u, err == nil
}

func (s *chatService) Users() []models.User {
	return s.userRepo.List()
}

// ─── Channels ───

// InitializeDefaults, document'te hiç kanal yoksa varsayılan kanalları
// oluşturur ve general'ı seçer. Bir şey oluşturduysa true.
func (s *chatService) InitializeDefaults() bool {
	if s.channelRepo.Count() > 0 {
		return false
	}

	now := s.nowMillis()
	var firstID string
	for _, def := range defaultChannels {
		ch := &models.Channel{
			Meta:        models.ChannelMeta{ID: s.newID(), CreatedAt: now},
			Name:        def.name,
			Description: def.description,
		}
		if !s.soft("initializeDefaults", s.channelRepo.Create(ch)) {
			continue
		}
		if firstID == "" {
			firstID = ch.Meta.ID
		}
	}

	if firstID == "" {
		return false
	}
	if s.selection != nil {
		s.selection.SetChannel(firstID)
	}
	s.log.Info("default channels created")
	return true
}

func (s *chatService) IsInitialized() bool {
	return s.channelRepo.Count() > 0
}

func (s *chatService) CreateChannel(name, description string) string {
	ch := &models.Channel{
		Meta:        models.ChannelMeta{ID: s.newID(), CreatedAt: s.nowMillis()},
		Name:        name,
		Description: description,
	}
	if !s.soft("createChannel", s.channelRepo.Create(ch)) {
		return ""
	}
	return ch.Meta.ID
}

func (s *chatService) UpdateChannel(id, name, description string) bool {
	return s.soft("updateChannel", s.channelRepo.Update(id, name, description))
}

func (s *chatService) ClearChannelMessages(id string) bool {
	_, err := s.messageRepo.ClearChannel(id)
	return s.soft("clearChannelMessages", err)
}

// DeleteChannel, kanal key'ini siler. Ön koşulu yoktur: kanal zaten yoksa
// da true döner. Aktif kanal buysa seçim temizlenir.
func (s *chatService) DeleteChannel(id string) bool {
	if err := s.channelRepo.Delete(id); err != nil && !errors.Is(err, pkg.ErrNotFound) {
		s.log.Warn("mutation failed", zap.String("op", "deleteChannel"), zap.Error(err))
	}
	if s.selection != nil {
		s.selection.ClearChannelIf(id)
	}
	return true
}

func (s *chatService) ToggleChannelLock(id string) bool {
	_, err := s.channelRepo.ToggleLock(id)
	return s.soft("toggleChannelLock", err)
}

func (s *chatService) Channel(id string) (*models.Channel, bool) {
	ch, err := s.channelRepo.GetByID(id)
	return ch, err == nil
}

func (s *chatService) Channels() []models.Channel {
	return s.channelRepo.List()
}

// ─── Messages ───

func (s *chatService) AddMessage(channelID, userID, text, parentID string) string {
	msg := &models.Message{
		Meta: models.MessageMeta{
			ID:        s.newID(),
			UserID:    userID,
			CreatedAt: s.nowMillis(),
			ParentID:  parentID,
		},
		Text: text,
	}
	if !s.soft("addMessage", s.messageRepo.Create(channelID, msg)) {
		return ""
	}
	return msg.Meta.ID
}

func (s *chatService) UpdateMessage(channelID, id, text string) bool {
	return s.soft("updateMessage", s.messageRepo.UpdateText(channelID, id, text, s.nowMillis()))
}

func (s *chatService) DeleteMessage(channelID, id string) bool {
	return s.soft("deleteMessage", s.messageRepo.SoftDelete(channelID, id, s.nowMillis()))
}

func (s *chatService) AddReaction(channelID, id, userID, emoji string) bool {
	if emoji == "" || userID == "" {
		return false
	}
	return s.soft("addReaction", s.messageRepo.AddReaction(channelID, id, emoji, userID))
}

func (s *chatService) RemoveReaction(channelID, id, userID, emoji string) bool {
	if emoji == "" || userID == "" {
		return false
	}
	return s.soft("removeReaction", s.messageRepo.RemoveReaction(channelID, id, emoji, userID))
}

func (s *chatService) Message(channelID, id string) (*models.Message, bool) {
	m, err := s.messageRepo.GetByID(channelID, id)
	return m, err == nil
}

func (s *chatService) Messages(channelID string) []models.Message {
	all, err := s.messageRepo.ListByChannel(channelID)
	if err != nil {
		return nil
	}
	top := all[:0]
	for _, m := range all {
		if !m.IsReply() {
			top = append(top, m)
		}
	}
	return top
}

func (s *chatService) ThreadReplies(channelID, parentID string) iter.Seq[models.Message] {
	return func(yield func(models.Message) bool) {
		if parentID == "" {
			return
		}
		all, err := s.messageRepo.ListByChannel(channelID)
		if err != nil {
			return
		}
		for _, m := range all {
			if m.Meta.ParentID != parentID {
				continue
			}
			if !yield(m) {
				return
			}
		}
	}
}

// ─── Selection ───

func (s *chatService) SelectUser(id string) bool {
	if s.selection == nil || (id != "" && !s.userRepo.Exists(id)) {
		return false
	}
	s.selection.SetUser(id)
	return true
}

func (s *chatService) SelectChannel(id string) bool {
	if s.selection == nil || (id != "" && !s.channelRepo.Exists(id)) {
		return false
	}
	s.selection.SetChannel(id)
	return true
}

// OpenThread, mesaj kanalda varsa thread panelini açar.
func (s *chatService) OpenThread(channelID, messageID string) bool {
	if s.selection == nil {
		return false
	}
	if _, ok := s.Message(channelID, messageID); !ok {
		return false
	}
	s.selection.OpenThread(messageID)
	return true
}

func (s *chatService) CurrentUser() (*models.User, bool) {
	if s.selection == nil {
		return nil, false
	}
	id := s.selection.UserID()
	if id == "" {
		return nil, false
	}
	return s.User(id)
}

func (s *chatService) CurrentChannel() (*models.Channel, bool) {
	if s.selection == nil {
		return nil, false
	}
	id := s.selection.ChannelID()
	if id == "" {
		return nil, false
	}
	return s.Channel(id)
}
