// Package main, meshchat relay sunucusunun giriş noktasıdır.
//
// Relay, peer'ların workspace document'lerini birbirine taşıyan oda bazlı
// bir WebSocket dağıtıcısıdır; hiçbir chat verisini saklamaz ya da
// yorumlamaz. Peer tarafı cmd/meshchat altındadır.
//
// Bu dosyanın görevi — Dependency Injection "wire-up":
//  1. Config'i yükle
//  2. Logger'ı kur
//  3. Prometheus registry + relay metrikleri
//  4. Rate limiter'lar + Hub
//  5. Handler'lar
//  6. HTTP router + CORS
//  7. HTTP Server'ı başlat
//  8. Graceful shutdown
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/akinalp/meshchat/config"
	"github.com/akinalp/meshchat/pkg/logger"
)

func main() {
	// ─── 1. Config ───
	cfg, err := config.Load()
	if err != nil {
		// Logger henüz yok; config olmadan level bilinmez.
		fmt.Fprintf(os.Stderr, "[main] failed to load config: %v\n", err)
		os.Exit(1)
	}

	// ─── 2. Logger ───
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		fmt.Fprintf(os.Stderr, "[main] failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	log.Info("meshchat relay starting", zap.Int("port", cfg.Server.Port))

	// ─── 3. Metrics ───
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// ─── 4. Rate limiters + Hub ───
	limiters := initRateLimiters(cfg)
	defer limiters.Stop()

	hub := initHub(reg, limiters, log)
	go hub.Run()

	// ─── 5. Handlers ───
	h := initHandlers(hub, limiters)

	// ─── 6. Router + CORS ───
	mux := http.NewServeMux()
	initRoutes(mux, h, reg)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})

	// ─── 7. HTTP Server ───
	//
	// WriteTimeout yok: hijack edilen WebSocket bağlantıları kendi
	// deadline'larını yönetir (ws.writeWait).
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           corsHandler.Handler(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("relay listening", zap.String("addr", cfg.Server.Addr()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// ─── 8. Graceful Shutdown ───
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	<-done
	log.Info("shutting down...")

	// Önce peer bağlantılarını kapat, sonra HTTP server'ı.
	hub.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
		return
	}

	log.Info("relay stopped gracefully")
}
