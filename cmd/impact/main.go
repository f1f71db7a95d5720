package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/strikelab/impact.report/internal/api"
	"github.com/strikelab/impact.report/internal/config"
	"github.com/strikelab/impact.report/internal/db"
	"github.com/strikelab/impact.report/internal/ingest"
	"github.com/strikelab/impact.report/internal/metrics"
	"github.com/strikelab/impact.report/internal/presence"
	"github.com/strikelab/impact.report/internal/round"
	"github.com/strikelab/impact.report/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	log.Printf("impact.report %s", version.String())

	database, err := db.NewDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := database.MigrateUp(); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// The broker address comes from the operator settings unless the
	// process config overrides it.
	brokerURL := cfg.BrokerURL
	if brokerURL == "" {
		settings, err := database.Settings()
		if err != nil {
			log.Fatalf("failed to load settings: %v", err)
		}
		brokerURL = fmt.Sprintf("tcp://%s:%d", settings.Broker, settings.Port)
	}

	m := metrics.New()
	tracker := presence.NewTracker()
	rounds := round.NewLifecycle(database)
	pipeline := &ingest.Pipeline{
		Presence: tracker,
		Rounds:   rounds,
		Metrics:  m,
	}
	subscriber := ingest.NewSubscriber(brokerURL, cfg.Namespace, pipeline)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// broker subscription goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := subscriber.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("broker subscription failed: %v", err)
		}
		log.Print("ingest routine terminated")
	}()

	// stale presence sweep goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(presence.Window)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				tracker.Compact(now)
			case <-ctx.Done():
				log.Print("presence sweep terminated")
				return
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(database, rounds, tracker, m).ServeMux()
		server := &http.Server{
			Addr:    cfg.Addr,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", cfg.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
