package repository

// MemberRepository, kanal üyelik kümesi (channels/<ch>/members/<userId>)
// için interface. Değer katılma zamanıdır (Unix ms).
type MemberRepository interface {
	Join(channelID, userID string, at int64) error
	Leave(channelID, userID string) error
	IsMember(channelID, userID string) bool
	JoinedAt(channelID, userID string) (int64, bool)
	List(channelID string) ([]string, error)
}
