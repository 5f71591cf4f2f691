package models

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxMessageLength, CLI tarafında uygulanan mesaj uzunluğu sınırı.
const MaxMessageLength = 2000

// MessageMeta, mesajın write-once kimlik kutusu. ParentID boş değilse mesaj
// bir thread yanıtıdır.
type MessageMeta struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	CreatedAt int64  `json:"created_at"`
	ParentID  string `json:"parent_id,omitempty"`
}

// Message, document'teki bir mesajın görünümü.
//
// Silme soft delete'tir: Deleted true olur, meta ve Text korunur.
// UpdatedAt, son düzenleme/silme zamanı (hiç düzenlenmediyse 0).
type Message struct {
	Meta      MessageMeta     `json:"meta"`
	ChannelID string          `json:"channel_id"`
	Text      string          `json:"text"`
	UpdatedAt int64           `json:"updated_at,omitempty"`
	Deleted   bool            `json:"deleted"`
	Reactions []ReactionGroup `json:"reactions"`
}

// ID, meta.id kısayolu.
func (m Message) ID() string {
	return m.Meta.ID
}

// IsReply, mesajın bir thread yanıtı olup olmadığı.
func (m Message) IsReply() bool {
	return m.Meta.ParentID != ""
}

// Edited, mesajın düzenlenip düzenlenmediği.
func (m Message) Edited() bool {
	return m.UpdatedAt != 0 && !m.Deleted
}

// CreateMessageRequest, CLI'dan gelen mesaj gönderme isteği.
type CreateMessageRequest struct {
	Text     string `json:"text"`
	ParentID string `json:"parent_id,omitempty"`
}

// Validate, içerik 1-2000 karakter arası olmalı.
func (r *CreateMessageRequest) Validate() error {
	r.Text = strings.TrimSpace(r.Text)
	n := utf8.RuneCountInString(r.Text)
	if n < 1 {
		return fmt.Errorf("message text is required")
	}
	if n > MaxMessageLength {
		return fmt.Errorf("message text must be at most %d characters", MaxMessageLength)
	}
	return nil
}

// Preview, metnin ilk n karakteri (rune bazlı).
func Preview(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n])
}
