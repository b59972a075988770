package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/globalchat/chat-relay/internal/archive"
	"github.com/globalchat/chat-relay/internal/config"
	"github.com/globalchat/chat-relay/internal/messaging"
	"github.com/globalchat/chat-relay/internal/ratelimit"
	"github.com/globalchat/chat-relay/internal/relay"
	"github.com/globalchat/chat-relay/internal/sweeper"
	"github.com/globalchat/chat-relay/internal/synthetic"
	"github.com/globalchat/chat-relay/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	log.Printf("Chat relay starting")
	log.Printf("  listen_addr:     %s", cfg.ListenAddr)
	log.Printf("  worker_pool:     %d", cfg.WorkerPoolSize)
	log.Printf("  max_connections: %d", cfg.MaxConnections)
	log.Printf("  max_users:       %d", cfg.MaxUsers)
	log.Printf("  presence_mode:   %s", cfg.PresenceMode)
	log.Printf("  room_assignment: %s", cfg.RoomAssignment)
	log.Printf("  retention:       %s (sweep every %s)", cfg.RetentionWindow, cfg.CleanupInterval)
	log.Printf("  inactive:        %s", cfg.InactiveTimeout)
	log.Printf("  synthetic:       %v (every %s)", cfg.SyntheticEnabled, cfg.SyntheticInterval)
	log.Printf("  admin_login:     %v", cfg.AdminPassword != "")
	log.Printf("  trust_proxy:     %v", cfg.TrustProxyHeaders)
	log.Printf("  redis_addr:      %s", orNone(cfg.RedisAddr))
	log.Printf("  nats_url:        %s", orNone(cfg.NATSURL))
	log.Printf("  archive:         %v", cfg.ArchiveURL != "")
	log.Printf("  server_name:     %s", cfg.ServerName)
	if cfg.AdminPassword == "" {
		log.Printf("relay: admin login disabled (ADMIN_PASSWORD is empty)")
	}

	// --- Rate limiting ---
	var limiter ratelimit.Checker
	var redisLimiter *ratelimit.RedisLimiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			cancel()
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		cancel()
		redisLimiter = ratelimit.NewRedisLimiter(rdb)
		limiter = redisLimiter
	} else {
		limiter = ratelimit.NewMemoryLimiter()
	}

	// Declare the dispatcher early so the server callback can capture it.
	var dispatcher *ws.MessageDispatcher
	server := ws.NewServer(ws.ServerConfigFrom(cfg), limiter, func(c *ws.Connection, data []byte) {
		dispatcher.Dispatch(c, data)
	})

	stores := relay.NewStores(cfg)
	engine := relay.NewEngine(cfg, stores, server)

	dispatcher = ws.NewMessageDispatcher(engine, limiter)
	dispatcher.SetSender(server)
	server.SetOnConnect(engine.Connected)
	server.SetOnDisconnect(func(connID string) {
		dispatcher.Forget(connID)
		engine.Disconnected(connID)
	})

	// --- NATS live-update mirror ---
	var natsClient *messaging.NATSClient
	var mirror *messaging.LiveMirror
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = "chat-relay-" + cfg.ServerName
		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		mirror = messaging.NewLiveMirror(natsClient, cfg.ServerName, 1024)
		engine.SetMirror(mirror)
	}

	// --- Snapshot archive ---
	var archiveStore *archive.Store
	if cfg.ArchiveURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		archiveStore, err = archive.Open(ctx, cfg.ArchiveURL, cfg.ServerName)
		if err != nil {
			cancel()
			log.Fatalf("failed to open archive: %v", err)
		}
		if last, err := archiveStore.Latest(ctx, 1); err != nil {
			log.Printf("archive: reading last snapshot: %v", err)
		} else if len(last) > 0 {
			log.Printf("archive: last snapshot id=%d server=%s taken_at=%s",
				last[0].ID, last[0].Server, last[0].TakenAt.Format(time.RFC3339))
		}
		cancel()
		engine.SetArchiver(archiveStore)
	}

	// --- Synthetic participants ---
	var poster *synthetic.Poster
	if cfg.SyntheticEnabled {
		pool := synthetic.Default()
		if cfg.SyntheticConfig != "" {
			if pool, err = synthetic.Load(cfg.SyntheticConfig); err != nil {
				log.Fatalf("failed to load synthetic pool: %v", err)
			}
		}
		profiles, err := pool.Profiles()
		if err != nil {
			log.Fatalf("invalid synthetic pool: %v", err)
		}
		// Seeded before the loop starts, so no task is needed.
		if err := engine.SeedSynthetic(profiles); err != nil {
			log.Fatalf("failed to seed synthetic participants: %v", err)
		}
		poster = synthetic.NewPoster(pool, engine, cfg.SyntheticInterval, time.Now().UnixNano())
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go engine.Run(ctx)

	if poster != nil {
		poster.Start(ctx)
	}

	sweep := sweeper.New(sweeper.Config{
		Interval:  cfg.CleanupInterval,
		Retention: cfg.RetentionWindow,
		Inactive:  cfg.InactiveTimeout,
	}, stores.Log, engine, engine)
	sweep.Start(ctx)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		log.Printf("server error: %v", err)
		exitCode = 1
	}

	if poster != nil {
		poster.Stop()
	}
	sweep.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	cancel()
	stop()
	<-engine.Done()

	if mirror != nil {
		mirror.Close()
	}
	if natsClient != nil {
		natsClient.Close()
	}
	if archiveStore != nil {
		if err := archiveStore.Close(); err != nil {
			log.Printf("archive close error: %v", err)
		}
	}
	if redisLimiter != nil {
		if err := redisLimiter.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
	}

	os.Exit(exitCode)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
