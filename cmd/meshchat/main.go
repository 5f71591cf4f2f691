// Command meshchat, satır tabanlı bir chat peer'ıdır.
//
// Her çalıştırma bir replica'dır: workspace document'ini yerel SQLite'ta
// tutar, seçilen transport (websocket relay, redis, in-memory) üzerinden
// diğer peer'larla senkronize olur ve gelen bildirimleri terminale yazar.
//
//	meshchat -workspace team -nick alice
//	> /join random
//	> selam
//
// Bu dosyanın görevi — wire-up:
//  1. Config + logger + i18n
//  2. Database (update log, settings)
//  3. Transport factory
//  4. WorkspaceManager + toast feed
//  5. İlk workspace'e bağlan, REPL'i çalıştır
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/akinalp/meshchat/config"
	"github.com/akinalp/meshchat/database"
	"github.com/akinalp/meshchat/pkg/crypto"
	"github.com/akinalp/meshchat/pkg/i18n"
	"github.com/akinalp/meshchat/pkg/logger"
	"github.com/akinalp/meshchat/repository"
	"github.com/akinalp/meshchat/services"
	"github.com/akinalp/meshchat/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "meshchat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	workspace := flag.String("workspace", "default", "workspace to join")
	nick := flag.String("nick", "", "username to chat as (created if missing)")
	dbPath := flag.String("db", "", "sqlite file (overrides DATABASE_PATH)")
	kind := flag.String("transport", "", "websocket | redis | memory (overrides MESHCHAT_TRANSPORT)")
	syncWait := flag.Duration("sync-wait", 750*time.Millisecond, "how long to wait for peers before creating default channels")
	flag.Parse()

	// ─── 1. Config + logger + i18n ───
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *kind != "" {
		cfg.Transport.Kind = *kind
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	i18n.MustLoadEmbedded()
	lang := cfg.Language
	if lang == "" {
		lang = i18n.DetectLanguage(os.Getenv("LANG"))
	}
	localizer := i18n.NewLocalizer(lang)

	// ─── 2. Database ───
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	db, err := database.New(cfg.Database.Path, database.Migrations(), log)
	if err != nil {
		return err
	}
	defer db.Close()

	var cipher *crypto.Cipher
	if cfg.EncryptionKey != "" {
		if cipher, err = crypto.NewCipher(cfg.EncryptionKey); err != nil {
			return fmt.Errorf("init update cipher: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ─── 3. Transport ───
	factory, closeTransport, err := newTransportFactory(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeTransport()

	// ─── 4. WorkspaceManager ───
	manager := services.NewWorkspaceManager(services.ManagerDeps{
		Updates:   repository.NewSQLiteUpdateRepo(db.Conn),
		Settings:  repository.NewSQLiteSettingsRepo(db.Conn),
		Cipher:    cipher,
		Transport: factory,
		Localizer: localizer,
	}, services.ManagerOptions{
		Reconciler: services.ReconcilerOptions{
			RecencyWindow:   cfg.Notifications.RecencyWindow,
			MessageTimeout:  cfg.Notifications.MessageTimeout,
			PresenceTimeout: cfg.Notifications.PresenceTimeout,
		},
		CompactThreshold: cfg.Database.CompactThreshold,
		Logger:           log,
	})
	defer func() {
		if err := manager.Close(); err != nil {
			log.Warn("workspace close failed", zap.Error(err))
		}
	}()

	out := newConsole(os.Stdout)
	defer out.watchFeed(manager.Feed())()

	app := newApp(manager, out, localizer, appOptions{
		RelayURL: cfg.Transport.RelayURL,
		SyncWait: *syncWait,
	})

	// ─── 5. Bind + REPL ───
	if err := app.bind(ctx, *workspace); err != nil {
		return err
	}
	if *nick != "" {
		if err := app.exec(ctx, command{Name: "nick", Args: []string{*nick}, raw: *nick}); err != nil {
			out.Printf("%v\n", err)
		}
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd, ok := parseLine(line)
			if !ok {
				continue
			}
			if err := app.exec(ctx, cmd); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				out.Printf("%v\n", err)
			}
		}
	}
}

// newTransportFactory, config'teki türe göre provider factory'si kurar.
// Dönen kapatma fonksiyonu paylaşılan kaynakları (redis client) bırakır.
func newTransportFactory(ctx context.Context, cfg *config.Config, log *zap.Logger) (transport.Factory, func(), error) {
	noop := func() {}

	switch cfg.Transport.Kind {
	case config.TransportWebsocket:
		return transport.WebsocketFactory(transport.WebsocketOptions{
			URL:               cfg.Transport.RelayURL,
			HeartbeatInterval: cfg.Transport.HeartbeatInterval,
			Logger:            log,
		}), noop, nil

	case config.TransportRedis:
		client, err := transport.NewRedisClient(ctx, cfg.Transport.RedisURL)
		if err != nil {
			return nil, noop, err
		}
		return transport.RedisFactory(transport.RedisOptions{
				Client: client,
				Prefix: cfg.Transport.RedisPrefix,
				Logger: log,
			}), func() {
				if err := client.Close(); err != nil {
					log.Warn("redis close failed", zap.Error(err))
				}
			}, nil

	case config.TransportMemory:
		// Tek process içinde; yalnızca offline deneme için kullanışlı.
		return transport.NewMemoryNetwork(log).Factory(), noop, nil
	}
	return nil, noop, fmt.Errorf("unknown transport %q", cfg.Transport.Kind)
}
