package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/studybuddy/tooty/internal/audit"
	"github.com/studybuddy/tooty/internal/chat"
	"github.com/studybuddy/tooty/internal/config"
	"github.com/studybuddy/tooty/internal/gateway"
	"github.com/studybuddy/tooty/internal/logging"
	"github.com/studybuddy/tooty/internal/messaging"
	"github.com/studybuddy/tooty/internal/moderation"
	"github.com/studybuddy/tooty/internal/ratelimit"
	"github.com/studybuddy/tooty/internal/storage"
	"github.com/studybuddy/tooty/internal/strike"
	"github.com/studybuddy/tooty/internal/ws"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()

	// --- Postgres ---
	db, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatal("connect to Redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	cancel()
	defer rdb.Close()

	// --- NATS ---
	natsConfig := messaging.DefaultConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "tooty-gateway"
	natsClient, err := messaging.NewClient(natsConfig, log)
	if err != nil {
		log.Fatal("connect to NATS", zap.Error(err))
	}

	// --- Moderation ---
	var screener chat.Screener
	switch cfg.ModerationMode {
	case config.ModeRemote:
		screener = moderation.NewClient(natsClient, cfg.ModerationTimeout)
	default:
		filter, err := moderation.LoadFilter(cfg.BlocklistFile)
		if err != nil {
			log.Fatal("load blocklist", zap.String("file", cfg.BlocklistFile), zap.Error(err))
		}
		screener = filter
	}

	limiter := ratelimit.NewLimiter(rdb, log)

	sender := chat.NewSender(chat.Deps{
		Screener:  screener,
		Store:     chat.NewPGStore(db),
		Publisher: natsClient,
		Limiter:   limiter,
		Strikes:   strike.NewStore(rdb),
		Auditor:   audit.NewStore(db),
		Recent:    chat.NewRecentBuffer(cfg.RecentMessages),
		Log:       log,
	})

	gw := gateway.New(sender, natsClient, cfg.ModerationTimeout+3*time.Second, log)

	dispatcher := ws.NewMessageDispatcher(log)
	gw.Register(dispatcher)

	serverConfig := ws.DefaultServerConfig()
	serverConfig.ListenAddr = cfg.ListenAddr
	serverConfig.MaxConnections = cfg.MaxConnections

	server := ws.NewServer(serverConfig, limiter, log, dispatcher.Dispatch)
	server.SetOnDisconnect(func(conn *ws.Connection) {
		gw.Disconnect(conn.ID)
	})

	log.Info("tooty gateway starting",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("nats_url", cfg.NATSURL),
		zap.String("redis_addr", cfg.RedisAddr),
		zap.String("moderation_mode", cfg.ModerationMode),
		zap.Int("recent_messages", cfg.RecentMessages),
	)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Info("received signal, shutting down", zap.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
		natsClient.Close()
	}()

	if err := server.Start(); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
	<-stopped
}
