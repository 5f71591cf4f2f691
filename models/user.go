// Package models, replike document'in şemasını ve ondan türetilen
// görünümleri tanımlar.
//
// Document'te her entity iki parçadan oluşur:
//   - meta: oluşturulurken bir kez yazılan kimlik kutusu (id, createdAt, ...).
//     Hiçbir mutation meta'yı değiştirmez.
//   - alanlar: her biri ayrı LWW register (username, fullName, ...).
//
// Zaman damgaları Unix milisaniyedir (int64).
package models

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// UserMeta, kullanıcının write-once kimlik kutusu.
type UserMeta struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
}

// User, document'teki bir kullanıcının görünümü.
type User struct {
	Meta     UserMeta `json:"meta"`
	Username string   `json:"username"`
	FullName string   `json:"full_name"`
	Avatar   string   `json:"avatar"`
}

// ID, meta.id kısayolu.
func (u User) ID() string {
	return u.Meta.ID
}

// DisplayName, bildirimlerde kullanılan isim: fullName → username → fallback.
func (u *User) DisplayName(fallback string) string {
	if u == nil {
		return fallback
	}
	if name := strings.TrimSpace(u.FullName); name != "" {
		return name
	}
	if name := strings.TrimSpace(u.Username); name != "" {
		return name
	}
	return fallback
}

// UserProfile, updateUserProfile için kısmi güncelleme.
// nil alanlar değişmez.
type UserProfile struct {
	Username *string `json:"username"`
	FullName *string `json:"full_name"`
	Avatar   *string `json:"avatar"`
}

// Empty, hiçbir alanın verilmediği güncelleme.
func (p UserProfile) Empty() bool {
	return p.Username == nil && p.FullName == nil && p.Avatar == nil
}

// CreateUserRequest, CLI'dan gelen kullanıcı oluşturma isteği.
// Mutation API kendisi validation yapmaz; giriş noktaları (CLI) Validate çağırır.
type CreateUserRequest struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Avatar   string `json:"avatar"`
}

// Validate, CreateUserRequest'in geçerli olup olmadığını kontrol eder.
//   - Username: 3-32 karakter, alfanumerik + alt çizgi
//   - FullName: opsiyonel, max 64 karakter
func (r *CreateUserRequest) Validate() error {
	r.Username = strings.TrimSpace(r.Username)
	if err := ValidateUsername(r.Username); err != nil {
		return err
	}

	r.FullName = strings.TrimSpace(r.FullName)
	if utf8.RuneCountInString(r.FullName) > 64 {
		return fmt.Errorf("full name must be at most 64 characters")
	}
	return nil
}

// ValidateUsername, username kurallarını kontrol eder.
func ValidateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < 3 || n > 32 {
		return fmt.Errorf("username must be between 3 and 32 characters")
	}
	for _, ch := range username {
		if !isValidUsernameChar(ch) {
			return fmt.Errorf("username can only contain letters, numbers, and underscores")
		}
	}
	return nil
}

// isValidUsernameChar, username'de izin verilen karakterleri kontrol eder.
func isValidUsernameChar(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') ||
		(ch >= 'A' && ch <= 'Z') ||
		(ch >= '0' && ch <= '9') ||
		ch == '_'
}
