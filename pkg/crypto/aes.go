// Package crypto — AES-256-GCM şifreleme/çözümleme.
//
// Persistence provider'ın sqlite'a yazdığı document update'lerini at-rest
// şifrelemek için kullanılır (PERSIST_ENCRYPTION_KEY).
//
// Her şifrelemede rastgele 12-byte nonce üretilir; çıktı base64(nonce +
// ciphertext + tag) formatındadır. Additional data olarak workspace id
// verilir: bir workspace'in kaydı başka bir workspace'e kopyalanırsa
// çözülemez.
//
// Kullanım:
//
//	c, _ := crypto.NewCipher("hex-encoded-32-byte-key")
//	sealed, _ := c.Seal([]byte(`[...]`), "workspace-1")
//	plain, _ := c.Open(sealed, "workspace-1")
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrDecrypt, yanlış anahtar, yanlış additional data veya bozuk veri.
var ErrDecrypt = errors.New("decryption failed")

// DeriveKey, hex-encoded string'den 32-byte AES-256 anahtarı oluşturur.
// Input tam 64 hex karakter (= 32 byte) olmalıdır.
func DeriveKey(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid hex key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be exactly 32 bytes (64 hex chars), got %d bytes", len(key))
	}
	return key, nil
}

// Cipher, tek bir anahtar için hazırlanmış AEAD. Eşzamanlı kullanım güvenlidir.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher, hex anahtardan Cipher oluşturur.
func NewCipher(hexKey string) (*Cipher, error) {
	key, err := DeriveKey(hexKey)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &Cipher{aead: gcm}, nil
}

// Seal, plaintext'i şifreler ve base64 string döner.
func (c *Cipher) Seal(plaintext []byte, additionalData string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce generation: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, plaintext, []byte(additionalData))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open, Seal çıktısını çözer.
func (c *Cipher) Open(encoded string, additionalData string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, []byte(additionalData))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}
