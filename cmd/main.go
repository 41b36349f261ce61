// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
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

	"github.com/campuspark/coordinator/internal/broadcast"
	"github.com/campuspark/coordinator/internal/database"
	"github.com/campuspark/coordinator/internal/feed"
	"github.com/campuspark/coordinator/internal/handler"
	"github.com/campuspark/coordinator/internal/repository"
	"github.com/campuspark/coordinator/internal/reservation"
	"github.com/campuspark/coordinator/internal/supervisor"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── 1. Connect to PostgreSQL and Redis ───────────────────────────────
	pool, err := database.NewPool(ctx)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()
	log.Println("✓ Connected to PostgreSQL")

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("schema: %v", err)
	}

	rdb, err := database.NewRedisClient(ctx)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer rdb.Close()
	log.Println("✓ Connected to Redis")

	// ── 2. Wire up layers ────────────────────────────────────────────────
	st := repository.NewPostgresStore(pool)
	changeFeed := feed.NewRedisFeed(rdb, getEnv("FEED_CHANNEL", "parking-events"))
	svc := reservation.NewService(st, changeFeed)
	notes := repository.NewNotificationLog(pool)

	sweepEvery, err := time.ParseDuration(getEnv("SWEEP_INTERVAL", "5m"))
	if err != nil {
		log.Fatalf("SWEEP_INTERVAL: %v", err)
	}
	super := supervisor.New(changeFeed, notes, st, sweepEvery)
	go super.Run(ctx)

	hub := broadcast.NewHub()
	go hub.Run()
	defer hub.Stop()
	go hub.Consume(ctx, changeFeed)

	h := handler.New(svc, notes)

	// ── 3. Build the router ───────────────────────────────────────────────
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(handler.Logger)          // structured access log
	r.Use(cors.AllowAll().Handler) // permissive CORS for the dashboard

	// Health
	r.Get("/health", handler.HealthCheck)

	// API routes
	r.Route("/slots", func(r chi.Router) {
		r.Get("/", h.Snapshot)
		r.Post("/{id}/reserve", h.Reserve)
		r.Post("/{id}/release", h.Release)
		r.Post("/{id}/force-release", h.ForceRelease)
	})
	r.Get("/zones", h.Zones)
	r.Route("/users/{id}", func(r chi.Router) {
		r.Get("/quota", h.Quota)
		r.Get("/notifications", h.Notifications)
	})

	// Live event stream for connected dashboards.
	r.Get("/ws", hub.ServeWS)

	// ── 4. Start server with graceful shutdown ────────────────────────────
	port := getEnv("PORT", "8080")
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Run in background goroutine so we can listen for shutdown signal.
	go func() {
		log.Printf("✓ Server listening on http://localhost:%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server…")
	cancel() // stop the supervisor and feed consumers
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("graceful shutdown failed: %v", err)
	}
	log.Println("server stopped")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
