package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/Oat2Milk/immortal-legacy/internal/api"
	"github.com/Oat2Milk/immortal-legacy/internal/auth"
	"github.com/Oat2Milk/immortal-legacy/internal/cache"
	"github.com/Oat2Milk/immortal-legacy/internal/chat"
	"github.com/Oat2Milk/immortal-legacy/internal/config"
	"github.com/Oat2Milk/immortal-legacy/internal/db"
	"github.com/Oat2Milk/immortal-legacy/internal/game"
	"github.com/Oat2Milk/immortal-legacy/internal/leaderboard"
	"github.com/Oat2Milk/immortal-legacy/internal/memstore"
	"github.com/Oat2Milk/immortal-legacy/internal/monitoring"
	"github.com/Oat2Milk/immortal-legacy/internal/notify"
	"github.com/Oat2Milk/immortal-legacy/internal/payments"
	"github.com/Oat2Milk/immortal-legacy/internal/security"
)

// store is what the handlers need from persistence.
type store interface {
	game.Store
	payments.Store
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.Release() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		accounts store
		board    leaderboard.Source
	)
	if cfg.DatabaseURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		pg, err := db.Connect(connectCtx, cfg.DatabaseURL)
		if err != nil {
			cancel()
			log.Fatalf("Failed to connect to database: %v", err)
		}
		if err := pg.Migrate(connectCtx); err != nil {
			cancel()
			log.Fatalf("Failed to migrate database: %v", err)
		}
		ranks, err := leaderboard.Open(connectCtx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			log.Fatalf("Failed to open leaderboard: %v", err)
		}
		defer pg.Close()
		defer ranks.Close()
		accounts, board = pg, ranks
		log.Printf("storage: postgres")
	} else {
		mem := memstore.New()
		accounts, board = mem, mem
		log.Printf("storage: DATABASE_URL not set, using in-memory store; data is lost on restart")
	}

	rdb, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		log.Printf("Warning: redis unavailable, continuing without it: %v", err)
		rdb = nil
	}
	if rdb != nil {
		defer rdb.Close()
		board = leaderboard.NewCached(board, cache.NewJSON(rdb, "immortal:leaderboard:"), 30*time.Second)
	}

	metrics := monitoring.New()
	if cfg.MetricsPort > 0 {
		go func() {
			if err := metrics.StartServer(cfg.MetricsPort); err != nil {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	var provider payments.Provider
	if p := payments.NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookSecret); p != nil {
		provider = p
	} else {
		log.Printf("payments: STRIPE_SECRET_KEY not set, checkout is disabled")
	}
	var notifier payments.Notifier
	tg, err := notify.NewTelegram(cfg.BotToken, cfg.AdminChatID)
	if err != nil {
		log.Printf("Warning: telegram notifications disabled: %v", err)
	} else if tg != nil {
		notifier = tg
	}

	hub := chat.NewHub(chat.DefaultConfig(), rdb, metrics)
	go hub.Run(ctx)
	defer hub.Close()

	battleLimiter := security.NewKeyedLimiter(rate.Limit(cfg.BattleRatePerSec), cfg.BattleRateBurst, 10*time.Minute)
	authLimiter := security.NewKeyedLimiter(rate.Limit(cfg.AuthRatePerMin/60), 5, 10*time.Minute)
	go battleLimiter.Run(ctx, time.Minute)
	go authLimiter.Run(ctx, time.Minute)

	checkout := payments.NewService(provider, accounts, notifier, cfg.AppURL)
	srv := &api.Server{
		Accounts:       accounts,
		Engine:         game.NewEngine(accounts, game.RegenPolicy{Every: cfg.ActionRegenEvery, Max: cfg.ActionsMax}),
		Tokens:         auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL),
		Payments:       checkout,
		Leaderboard:    board,
		Chat:           hub,
		Metrics:        metrics,
		BattleLimiter:  battleLimiter,
		AuthLimiter:    authLimiter,
		TrustedProxies: cfg.TrustedProxies,
		StaticDir:      cfg.StaticDir,
		Errors:         api.NewErrorHandler(log.New(os.Stderr, "", 0)),
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Handler(cfg.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()
	log.Printf("Immortal Legacy server started on port %d", cfg.Port)

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	if err := metrics.Shutdown(shutdownCtx); err != nil {
		log.Printf("Metrics server shutdown: %v", err)
	}
	checkout.Wait()
	log.Println("Server exited")
}
