package main

import (
	"context"
	"contest_engine/internal/api"
	"contest_engine/internal/app/broadcast"
	"contest_engine/internal/app/service"
	"contest_engine/internal/app/worker"
	"contest_engine/internal/common/security"
	"contest_engine/internal/domain/repository"
	"contest_engine/internal/platform/cache"
	"contest_engine/internal/platform/config"
	"contest_engine/internal/platform/database"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	// 1. Load Configuration
	cfg := config.Load()
	log.Println("Configuration loaded.")

	// 2. Initialize Database
	db, err := database.Connect(cfg.DBConnStr)
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected.")

	if err := database.Migrate(context.Background(), db); err != nil {
		log.Fatalf("Could not run migrations: %v", err)
	}
	log.Println("Migrations applied.")

	// 3. Initialize Redis
	rdb, err := cache.Connect(context.Background(), cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("Could not connect to Redis: %v", err)
	}
	defer rdb.Close()
	log.Println("Redis connected.")

	// 4. Initialize JWT verifier
	tokenAuth := security.NewTokenAuth(cfg.JWTKey, cfg.JWTExp)

	// 5. Initialize Repositories
	contestRepo := repository.NewPgContestRepository(db)
	participantRepo := repository.NewPgParticipantRepository(db)

	// 6. Initialize cache, broadcast hub and runtime settings
	contestCache := service.NewRedisCache(rdb)
	hub := broadcast.NewHub(rdb, cfg.HeartbeatInterval)
	defer hub.Close()
	settings := service.NewSettings(rdb, cfg.DecayRate, cfg.MaxRetryAttempts, cfg.RetryDelay, cfg.SettingsRefresh)

	// 7. Initialize Services
	contestService := service.NewContestService(contestRepo, participantRepo, contestCache, hub, cfg.LeaderboardCacheTTL)
	leaderboardService := service.NewLeaderboardService(contestRepo, participantRepo, contestCache, cfg.LeaderboardCacheTTL)
	standingService := service.NewStandingService(contestRepo, participantRepo, contestCache, hub, settings)

	// 8. Initialize status sweep worker
	sweepWorker := worker.NewSweepWorker(contestService, cfg.SweepInterval)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	sweepWorker.Start(workerCtx)
	log.Println("Sweep worker started.")

	// 9. Initialize Router & HTTP Server
	router := api.NewRouter(tokenAuth, contestService, leaderboardService, standingService, hub, cfg.WebhookSecret)

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 10. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on port %s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
		}
	}()
	log.Println("Server started successfully.")

	<-stop

	log.Println("Shutting down server...")
	workerCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}

	log.Println("Server and worker stopped gracefully.")
}
