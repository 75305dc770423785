package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stockdash/trading-engine/internal/api"
	"github.com/stockdash/trading-engine/internal/auth"
	"github.com/stockdash/trading-engine/internal/config"
	"github.com/stockdash/trading-engine/internal/engine"
	"github.com/stockdash/trading-engine/internal/ledger"
	"github.com/stockdash/trading-engine/internal/market"
	"github.com/stockdash/trading-engine/internal/metrics"
	"github.com/stockdash/trading-engine/internal/position"
	"github.com/stockdash/trading-engine/internal/store"
	"github.com/stockdash/trading-engine/internal/stream"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Core services ---
	sim := market.NewSimulator(market.Instruments)
	ledg := ledger.New(st)
	positions := position.NewManager(st)
	authMgr := auth.NewManager(cfg.JWTSecret, cfg.TokenTTL)

	hub := stream.NewHub(authMgr, positions)
	eng := engine.New(ledg, positions, sim, hub)
	svc := api.NewService(st, authMgr, eng, ledg, positions, sim, hub)

	// --- Tick driver ---
	tickCtx, stopTicks := context.WithCancel(context.Background())
	go stream.RunBroadcaster(tickCtx, cfg.TickInterval, sim, hub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"trading-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	// WebSocket endpoint for streaming price and notification events.
	r.Get("/ws", hub.HandleWS)

	// Public auth endpoints.
	r.Post("/auth/register", svc.Register)
	r.Post("/auth/login", svc.Login)

	// Authenticated API.
	r.Group(func(r chi.Router) {
		r.Use(authMgr.Middleware)

		r.Get("/me", svc.Me)
		r.Post("/wallet/deposit", svc.Deposit)
		r.Post("/wallet/withdraw", svc.Withdraw)
		r.Get("/profile/history", svc.History)
		r.Post("/profile/update", svc.UpdateProfile)
		r.Post("/profile/change-password", svc.ChangePassword)
		r.Post("/trade/buy", svc.Buy)
		r.Post("/trade/sell", svc.Sell)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("trading-engine listening", "port", cfg.Port, "tick_interval", cfg.TickInterval.String())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopTicks()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down trading-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("trading-engine stopped")
}
