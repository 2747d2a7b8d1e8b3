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
	"github.com/shopspring/decimal"

	"github.com/emx/market-engine/internal/api"
	"github.com/emx/market-engine/internal/fees"
	"github.com/emx/market-engine/internal/market"
	"github.com/emx/market-engine/internal/metrics"
	"github.com/emx/market-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
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

	// --- Future markets ---
	// The future window shares one fee and clearing configuration.
	futureFee := fees.Config{Kind: fees.Constant, Rate: decimal.Zero}
	if rate := os.Getenv("FUTURE_FEE_RATE"); rate != "" {
		parsed, err := decimal.NewFromString(rate)
		if err != nil {
			slog.Error("invalid FUTURE_FEE_RATE", "err", err)
			os.Exit(1)
		}
		futureFee.Rate = parsed
	}
	futures := market.NewFutureMarkets(market.Config{
		Name: "future",
		Fee:  futureFee,
	})

	// --- Market registry ---
	registry := market.NewRegistry()

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	// --- API service ---
	svc := api.NewService(st, registry, futures, wsHub)

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
		w.Write([]byte(`{"status":"ok","service":"market-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time order and trade updates.
		r.Get("/ws", wsHub.HandleWS)

		// Market management.
		r.Get("/markets", svc.ListMarkets)
		r.Post("/markets", svc.CreateMarket)
		r.Get("/markets/{marketID}", svc.GetMarket)
		r.Post("/markets/{marketID}/close", svc.CloseMarket)
		r.Get("/markets/{marketID}/stats", svc.GetStats)
		r.Get("/markets/{marketID}/history", svc.GetMarketHistory)

		// Order book.
		r.Get("/markets/{marketID}/offers", svc.ListOffers)
		r.Post("/markets/{marketID}/offers", svc.PostOffer)
		r.Delete("/markets/{marketID}/offers/{offerID}", svc.DeleteOffer)
		r.Post("/markets/{marketID}/offers/{offerID}/accept", svc.AcceptOffer)
		r.Get("/markets/{marketID}/bids", svc.ListBids)
		r.Post("/markets/{marketID}/bids", svc.PostBid)
		r.Delete("/markets/{marketID}/bids/{bidID}", svc.DeleteBid)
		r.Post("/markets/{marketID}/bids/{bidID}/accept", svc.AcceptBid)

		// Matching and settlement.
		r.Post("/markets/{marketID}/match", svc.MatchRecommendations)
		r.Post("/markets/{marketID}/clear", svc.ClearMarket)
		r.Get("/markets/{marketID}/trades", svc.GetTrades)

		// Future delivery slots.
		r.Get("/future/slots", svc.ListFutureSlots)
		r.Post("/future/slots", svc.CreateFutureSlots)
		r.Get("/future/orders", svc.GetFutureOrders)
		r.Post("/future/offers", svc.PostFutureOffer)
		r.Post("/future/bids", svc.PostFutureBid)
		r.Post("/future/expire", svc.ExpireFutureSlots)

		// Trader ledger queries.
		r.Get("/traders/{trader}/summary", svc.GetTraderSummary)
		r.Get("/traders/{trader}/trades", svc.GetTraderTrades)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("market-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down market-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("market-engine stopped")
}
