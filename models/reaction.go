package models

// ReactionGroup, bir mesajdaki aynı emojinin toplu görünümü.
//
// Document'te reaksiyonlar reactions/<emoji>/<userId> = true şeklinde bir
// küme olarak tutulur; ReactionGroup bu kümenin okunmuş halidir.
// Örnek: 👍 3 [user1, user2, user3]
type ReactionGroup struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// HasUser, userID'nin bu emojiyle tepki verip vermediği.
func (g ReactionGroup) HasUser(userID string) bool {
	for _, u := range g.Users {
		if u == userID {
			return true
		}
	}
	return false
}
