package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/redis/go-redis/v9"

	"github.com/Logan27/1000-messenger-sub002/auth"
	"github.com/Logan27/1000-messenger-sub002/bus"
	"github.com/Logan27/1000-messenger-sub002/infrastructure/ws"
	"github.com/Logan27/1000-messenger-sub002/internal"
	"github.com/Logan27/1000-messenger-sub002/limiter"
	"github.com/Logan27/1000-messenger-sub002/moderation"
	"github.com/Logan27/1000-messenger-sub002/presence"
	"github.com/Logan27/1000-messenger-sub002/repositories"
	"github.com/Logan27/1000-messenger-sub002/runtime"
	"github.com/Logan27/1000-messenger-sub002/runtime/workers"
	"github.com/Logan27/1000-messenger-sub002/services"
	"github.com/Logan27/1000-messenger-sub002/typing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// This pattern is preferred over calling os.Exit or panic directly because:
// 1. It ensures all 'defer' statements (like database cleanup) are executed before the program exits.
// 2. It improves testability by decoupling the initialization logic from the main entry point.
// 3. It provides a structured way to handle graceful shutdowns for the socket server and workers.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	if config.ProcessID == "" {
		hostname, _ := os.Hostname()
		config.ProcessID = fmt.Sprintf("%s-%d", hostname, os.Getpid())
	}

	replacement, err := characterRune(config.ModerationCharReplacement)
	if err != nil {
		return err
	}

	// 2. Durable store (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.INFO))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	//  Defer will be executed before run() returned anything to main()
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Shared coordination (Redis): bus, counters, presence
	eventBus, err := bus.NewRedisBus(ctx, config.RedisURL, log)
	if err != nil {
		return fmt.Errorf("bus connection failed: %w", err)
	}
	defer eventBus.Close()

	opt, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return fmt.Errorf("redis url: %w", err)
	}
	client := redis.NewClient(opt)
	defer func() { _ = client.Close() }()

	// 5. Core components
	rateLimiter := limiter.New(limiter.NewRedisCounters(client), limiter.DefaultRules(), log)
	directory := repositories.NewDirectoryRepository(db, log)
	presenceManager := presence.NewManager(presence.NewRedisStore(client), eventBus, directory, config.PresenceGrace, log)
	typingCoordinator := typing.NewCoordinator(eventBus, config.TypingTTL, log)
	registry := runtime.NewRegistry(presenceManager, log)

	moderator, err := moderation.NewDefaultModerator(replacement)
	if err != nil {
		return fmt.Errorf("moderation setup failed: %w", err)
	}

	chatService := services.NewChatService(
		log, rateLimiter, directory, registry, eventBus,
		repositories.NewMessageRepository(db, log, config.LimitMessages),
		repositories.NewDeliveryRepository(client, log),
		moderator, config.DrainBatchSize,
	)
	registry.Bind(chatService, chatService)

	// 6. Supervision & Orchestration
	sup := workers.NewSupervisor(log, config.RestartInterval)
	orchestrator := runtime.NewOrchestrator(log, sup, registry, eventBus,
		typingCoordinator, presenceManager, runtime.OrchestratorOptions{
			TypingSweepInterval:  config.TypingSweepInterval,
			PresenceReapInterval: config.PresenceReapInterval,
			HeartbeatInterval:    config.HeartbeatSweepInterval,
			HeartbeatTimeout:     config.HeartbeatTimeout,
		})
	// Start blocks until every supervised worker unwinds, so it runs in
	// its own goroutine like the socket server below.
	errChan := make(chan error, 2)
	go func() {
		if err := orchestrator.Start(ctx); err != nil {
			errChan <- fmt.Errorf("orchestrator stopped: %w", err)
		}
	}()

	health, err := internal.NewHealthServer(log, registry, eventBus, config.ProcessID)
	if err != nil {
		return fmt.Errorf("health server setup failed: %w", err)
	}
	health.Start(config.HealthPort)

	// 7. Socket server
	wsServer := ws.NewServer(log, auth.NewVerifier(config.JWTSecret), registry,
		rateLimiter, directory, chatService, typingCoordinator, presenceManager, ws.Options{
			ProcessID:       config.ProcessID,
			SendBufferSize:  config.ConnectionBufferSize,
			PingPeriod:      config.PingPeriod,
			PongWait:        config.HeartbeatTimeout,
			MaxPayloadSize:  config.MaxPayloadBytes,
			FramesPerSecond: config.FramesPerSecond,
			FrameBurst:      config.FrameBurst,
		})

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{Addr: address, Handler: wsServer.Handler()}

	// Capture Serve() issues on the same error channel
	go func() {
		log.Info("Starting socket server", "address", address, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("socket server error: %w", err)
		}
	}()

	// 8. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 9. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	orchestrator.Stop()
	log.Info("Program stopped cleanly")

	return nil
}

func characterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"MODERATION_CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
