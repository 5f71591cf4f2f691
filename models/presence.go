package models

import "strings"

// ConnectionStatus, session'ın bağlantı durumu. "connected": local kullanıcı
// dışında en az bir çevrimiçi kullanıcı görülüyor.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// PresenceUser, awareness üzerinden yayınlanan kullanıcı özeti.
type PresenceUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Avatar   string `json:"avatar"`
}

// AwarenessState, bir peer'ın awareness payload'ı. User nil ise peer
// anonimdir (online kümesine girmez).
type AwarenessState struct {
	User *PresenceUser `json:"user,omitempty"`
}

// PresenceDelta, iki online kümesi snapshot'ı arasındaki fark.
type PresenceDelta struct {
	Online  []string
	Entered []string
	Exited  []string
	// Users, entered/exited kullanıcıların bilinen son awareness özeti.
	Users map[string]PresenceUser
}

// DisplayName: fullName → username → fallback.
func (p PresenceUser) DisplayName(fallback string) string {
	if name := strings.TrimSpace(p.FullName); name != "" {
		return name
	}
	if name := strings.TrimSpace(p.Username); name != "" {
		return name
	}
	return fallback
}
