package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/JasonSowers/twitch-pubsub/internal/app"
	"github.com/JasonSowers/twitch-pubsub/internal/config"
	"github.com/JasonSowers/twitch-pubsub/internal/crypto"
	"github.com/JasonSowers/twitch-pubsub/internal/database"
	"github.com/JasonSowers/twitch-pubsub/internal/logging"
	"github.com/JasonSowers/twitch-pubsub/internal/notifier"
	"github.com/JasonSowers/twitch-pubsub/internal/pubsub"
	"github.com/JasonSowers/twitch-pubsub/internal/redis"
	"github.com/JasonSowers/twitch-pubsub/internal/server"
	"github.com/JasonSowers/twitch-pubsub/internal/twitch"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized.
		log.Fatalf("Failed to load config: %v", err)
	}

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	clock := clockwork.NewRealClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	setupCtx, setupCancel := context.WithTimeout(ctx, 30*time.Second)
	defer setupCancel()

	pool, err := database.Connect(setupCtx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(setupCtx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	rdb, err := redis.NewClient(setupCtx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() { _ = rdb.Close() }()

	var encryptor crypto.Encryptor = crypto.NoopEncryptor{}
	if cfg.TokenEncryptionKey != "" {
		encryptor, err = crypto.NewAESGCMEncryptor(cfg.TokenEncryptionKey)
		if err != nil {
			slog.Error("Failed to create token encryptor", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("TOKEN_ENCRYPTION_KEY not set, refresh tokens stored in plaintext")
	}

	broadcasterRepo := database.NewBroadcasterRepo(pool, encryptor)
	redemptionRepo := database.NewRedemptionRepo(pool)
	tokenCache := redis.NewTokenCache(rdb)

	tokens := twitch.NewTokenProvider(broadcasterRepo, tokenCache, cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.OAuthTokenURL)
	rewards, err := twitch.NewRewardsClient(cfg.TwitchClientID, cfg.TwitchClientSecret, tokens)
	if err != nil {
		slog.Error("Failed to create rewards client", "error", err)
		os.Exit(1)
	}

	notify := notifier.New(cfg.NotifierURL)

	manager := pubsub.NewManager(pubsub.WebsocketDialer(cfg.PubSubURL), clock)
	subs := pubsub.NewSubscriber(manager, tokens)
	dispatcher := pubsub.NewDispatcher(manager, broadcasterRepo, redemptionRepo, notify, clock)
	manager.SetHandler(dispatcher)

	appSvc := app.NewService(broadcasterRepo, redemptionRepo, rewards, tokens, subs)

	// Every successful connect (including the first) re-subscribes the whole
	// broadcaster set; the manager itself holds no subscription state.
	manager.SetOnOpen(appSvc.ResubscribeAll)

	dispatcher.Start(ctx)
	go func() {
		if err := manager.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("PubSub manager stopped", "error", err)
		}
	}()

	srv := server.NewServer(cfg, appSvc, pool, rdb)
	done := runGracefulShutdown(cancel, srv, dispatcher)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}

func runGracefulShutdown(cancel context.CancelFunc, srv *server.Server, dispatcher *pubsub.Dispatcher) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		cancel()
		dispatcher.Stop()

		close(done)
	}()

	return done
}
