// Package logger — zap tabanlı structured logging kurulumu.
//
// Global logger yoktur: main bir root logger oluşturur, her bileşen
// kendi adıyla child logger alır (logger.Named("ws"), "presence", ...).
// nil logger kabul eden constructor'lar OrNop ile zap.NewNop()'a düşer.
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config, logger ayarları. config.LogConfig'ten doldurulur.
type Config struct {
	Level       string // debug, info, warn, error
	Development bool   // true → console encoder, false → JSON
}

// New, stdout'a yazan bir zap.Logger oluşturur.
//
// Development modunda console encoder (renkli level, okunabilir zaman),
// aksi halde JSON encoder kullanılır. Warn ve üstü stderr'e de yazılır.
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var encoder zapcore.Encoder
	if cfg.Development {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	infoCore := zapcore.NewCore(
		encoder,
		zapcore.AddSync(os.Stdout),
		zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= level && l < zapcore.WarnLevel
		}),
	)
	warnCore := zapcore.NewCore(
		encoder.Clone(),
		zapcore.AddSync(os.Stderr),
		zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= level && l >= zapcore.WarnLevel
		}),
	)

	return zap.New(zapcore.NewTee(infoCore, warnCore), zap.AddCaller()), nil
}

// OrNop, nil logger yerine no-op logger döner.
func OrNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
