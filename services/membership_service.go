package services

import (
	"time"

	"go.uber.org/zap"

	"github.com/akinalp/meshchat/pkg/logger"
	"github.com/akinalp/meshchat/repository"
)

// MembershipService, kanal üyelikleri. Üyelik document'te tutulur
// (channels/<ch>/members) ve tüm replica'larda görünür; katılma/ayrılma
// bildirimleri NotificationReconciler'dan gelir.
type MembershipService interface {
	JoinChannel(channelID, userID string) bool
	LeaveChannel(channelID, userID string) bool
	IsMember(channelID, userID string) bool
	Members(channelID string) []string
}

type membershipService struct {
	memberRepo repository.MemberRepository
	userRepo   repository.UserRepository
	log        *zap.Logger
	now        func() time.Time
}

// NewMembershipService, constructor — interface döner. now nil ise time.Now.
func NewMembershipService(
	memberRepo repository.MemberRepository,
	userRepo repository.UserRepository,
	now func() time.Time,
	log *zap.Logger,
) MembershipService {
	if now == nil {
		now = time.Now
	}
	return &membershipService{
		memberRepo: memberRepo,
		userRepo:   userRepo,
		log:        logger.OrNop(log).Named("membership"),
		now:        now,
	}
}

// JoinChannel, kullanıcıyı kanala ekler. Kanal veya kullanıcı yoksa false.
func (s *membershipService) JoinChannel(channelID, userID string) bool {
	if !s.userRepo.Exists(userID) {
		return false
	}
	if err := s.memberRepo.Join(channelID, userID, s.now().UnixMilli()); err != nil {
		s.log.Debug("join skipped", zap.String("channel", channelID), zap.Error(err))
		return false
	}
	return true
}

// LeaveChannel, kullanıcıyı kanaldan çıkarır. Üye değilse no-op (true).
func (s *membershipService) LeaveChannel(channelID, userID string) bool {
	if err := s.memberRepo.Leave(channelID, userID); err != nil {
		s.log.Debug("leave skipped", zap.String("channel", channelID), zap.Error(err))
		return false
	}
	return true
}

func (s *membershipService) IsMember(channelID, userID string) bool {
	return s.memberRepo.IsMember(channelID, userID)
}

// Members, kanal üyeleri (id sırasıyla). Kanal yoksa nil.
func (s *membershipService) Members(channelID string) []string {
	members, err := s.memberRepo.List(channelID)
	if err != nil {
		return nil
	}
	return members
}
