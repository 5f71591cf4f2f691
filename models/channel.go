package models

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ChannelMeta, kanalın write-once kimlik kutusu.
type ChannelMeta struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
}

// Channel, document'teki bir kanalın görünümü.
// Mesajlar ayrıca okunur (MessageRepository).
type Channel struct {
	Meta        ChannelMeta `json:"meta"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Locked      bool        `json:"locked"`
}

// ID, meta.id kısayolu.
func (c Channel) ID() string {
	return c.Meta.ID
}

// CreateChannelRequest, CLI'dan gelen kanal oluşturma isteği.
type CreateChannelRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Validate, kanal adı 1-50 karakter; harf, rakam, tire, alt çizgi.
// Ad küçük harfe çevrilir, boşluklar tireye dönüşür ("General Chat" → "general-chat").
func (r *CreateChannelRequest) Validate() error {
	r.Name = NormalizeChannelName(r.Name)
	n := utf8.RuneCountInString(r.Name)
	if n < 1 || n > 50 {
		return fmt.Errorf("channel name must be between 1 and 50 characters")
	}
	for _, ch := range r.Name {
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '-' && ch != '_' {
			return fmt.Errorf("channel name can only contain letters, numbers, hyphens and underscores")
		}
	}

	r.Description = strings.TrimSpace(r.Description)
	if utf8.RuneCountInString(r.Description) > 1024 {
		return fmt.Errorf("channel description must be at most 1024 characters")
	}
	return nil
}

// NormalizeChannelName, kanal adını "#" önekinden arındırır ve normalize eder.
func NormalizeChannelName(name string) string {
	name = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(name), "#"))
	name = strings.ToLower(name)
	return strings.Join(strings.Fields(name), "-")
}
