// Package config, uygulamanın tüm konfigürasyonunu merkezi olarak yönetir.
// Environment variable'lardan okur, .env dosyasını da destekler.
//
// Hem relay server'ı (meshchat kökü) hem de peer CLI'ı (cmd/meshchat) aynı
// Config'i kullanır; her biri kendi ilgilendiği bölümleri okur.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Transport türleri.
const (
	TransportWebsocket = "websocket"
	TransportRedis     = "redis"
	TransportMemory    = "memory"
)

// Config, uygulamanın tüm konfigürasyon değerlerini taşır.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Transport     TransportConfig
	Notifications NotificationConfig
	RateLimit     RateLimitConfig
	Log           LogConfig

	// Language, bildirim metinlerinin dili (en, tr).
	Language string
	// EncryptionKey, update log'unu şifrelemek için 32 byte hex anahtar.
	// Boşsa update'ler düz yazılır.
	EncryptionKey string
}

// ServerConfig, relay HTTP server ayarları.
type ServerConfig struct {
	Host string
	Port int
}

// DatabaseConfig, peer'ın yerel SQLite database ayarları.
type DatabaseConfig struct {
	Path string // SQLite dosya yolu (ör: ./data/meshchat.db)
	// CompactThreshold, workspace update sayısı bunu aşınca log tek
	// snapshot'a indirilir.
	CompactThreshold int
}

// TransportConfig, peer'ların birbirine nasıl bağlandığı.
type TransportConfig struct {
	Kind              string // websocket | redis | memory
	RelayURL          string // websocket relay (ör: http://localhost:9090)
	RedisURL          string // redis://localhost:6379/0
	RedisPrefix       string
	HeartbeatInterval time.Duration
}

// NotificationConfig, toast ve reconciler zamanlamaları.
type NotificationConfig struct {
	RecencyWindow   time.Duration
	MessageTimeout  time.Duration
	PresenceTimeout time.Duration
}

// RateLimitConfig, relay'in bağlantı ve frame limitleri.
type RateLimitConfig struct {
	ConnPerMinute   int // IP başına dakikada yeni bağlantı
	FramesPerWindow int // bağlantı başına pencere içinde frame
	FrameWindow     time.Duration
	FrameCooldown   time.Duration
}

// LogConfig, zap ayarları.
type LogConfig struct {
	Level       string
	Development bool
}

// Load, environment variable'lardan Config oluşturur.
// .env dosyası varsa önce onu yükler.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := getInt("SERVER_PORT", 9090)
	if err != nil {
		return nil, err
	}
	compact, err := getInt("MESHCHAT_COMPACT_THRESHOLD", 500)
	if err != nil {
		return nil, err
	}
	connPerMin, err := getInt("RELAY_CONN_PER_MINUTE", 30)
	if err != nil {
		return nil, err
	}
	frames, err := getInt("RELAY_FRAMES_PER_WINDOW", 200)
	if err != nil {
		return nil, err
	}
	dev, err := strconv.ParseBool(getEnv("LOG_DEVELOPMENT", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_DEVELOPMENT: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: port,
		},
		Database: DatabaseConfig{
			Path:             getEnv("DATABASE_PATH", "./data/meshchat.db"),
			CompactThreshold: compact,
		},
		Transport: TransportConfig{
			Kind:        getEnv("MESHCHAT_TRANSPORT", TransportWebsocket),
			RelayURL:    getEnv("MESHCHAT_RELAY_URL", "http://localhost:9090"),
			RedisURL:    getEnv("MESHCHAT_REDIS_URL", "redis://localhost:6379/0"),
			RedisPrefix: getEnv("MESHCHAT_REDIS_PREFIX", "meshchat:"),
		},
		RateLimit: RateLimitConfig{
			ConnPerMinute:   connPerMin,
			FramesPerWindow: frames,
		},
		Log: LogConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: dev,
		},
		Language:      getEnv("MESHCHAT_LANG", ""),
		EncryptionKey: getEnv("PERSIST_ENCRYPTION_KEY", ""),
	}

	for _, d := range []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"MESHCHAT_HEARTBEAT_INTERVAL", 30 * time.Second, &cfg.Transport.HeartbeatInterval},
		{"MESHCHAT_RECENCY_WINDOW", 5 * time.Second, &cfg.Notifications.RecencyWindow},
		{"MESHCHAT_MESSAGE_TOAST_TIMEOUT", 8 * time.Second, &cfg.Notifications.MessageTimeout},
		{"MESHCHAT_PRESENCE_TOAST_TIMEOUT", 5 * time.Second, &cfg.Notifications.PresenceTimeout},
		{"RELAY_FRAME_WINDOW", 10 * time.Second, &cfg.RateLimit.FrameWindow},
		{"RELAY_FRAME_COOLDOWN", 30 * time.Second, &cfg.RateLimit.FrameCooldown},
	} {
		v, err := getDuration(d.key, d.fallback)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Transport.Kind {
	case TransportWebsocket, TransportRedis, TransportMemory:
	default:
		return fmt.Errorf("invalid MESHCHAT_TRANSPORT %q (websocket|redis|memory)", c.Transport.Kind)
	}
	if c.EncryptionKey != "" && len(c.EncryptionKey) != 64 {
		return fmt.Errorf("PERSIST_ENCRYPTION_KEY must be 64 hex characters")
	}
	return nil
}

// Addr, HTTP server'ın dinleyeceği adresi döner (ör: "0.0.0.0:9090").
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// getEnv, environment variable'ı okur, yoksa fallback değeri döner.
func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, fallback.String()))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
