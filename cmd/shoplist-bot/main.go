package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shoplist/internal/clipper"
	"shoplist/internal/command"
	"shoplist/internal/config"
	"shoplist/internal/llm"
	"shoplist/internal/metrics"
	"shoplist/internal/roster"
	"shoplist/internal/store"
	"shoplist/internal/store/pgstore"
	"shoplist/internal/store/sqlitestore"
	"shoplist/internal/telegram"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	// 2. Initialize the oracle
	geminiClient, err := llm.NewGeminiClient(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create Gemini client: %v", err)
	}
	defer geminiClient.Close()

	// 3. Initialize storage. DATABASE_URL selects Postgres; the default is the
	// embedded sqlite store.
	var st store.Store
	var metricsStore *metrics.Store
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize postgres store: %v", err)
		}
		defer pg.Close()
		st = pg
		metricsStore = metrics.NewPostgresStore(pg.DB())
	} else {
		lite, err := sqlitestore.New(cfg.DatabasePath)
		if err != nil {
			log.Fatalf("Failed to initialize sqlite store: %v", err)
		}
		defer lite.Close()
		st = lite
		metricsStore = metrics.NewStore(lite.DB())
	}

	// 4. Initialize Services
	interp := command.NewInterpreter(geminiClient)
	rosterSvc := roster.NewService(st, cfg.InviteSigningKey)
	clip := clipper.NewClipper(geminiClient)

	// 5. Initialize Telegram Bot
	bot, err := telegram.NewBot(cfg, st, rosterSvc, interp, clip, metricsStore)
	if err != nil {
		log.Fatalf("Failed to initialize Telegram Bot: %v", err)
	}

	// 6. Start Server with Graceful Shutdown
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	bot.RegisterHandlers()

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: nil,
	}

	go func() {
		log.Printf("Shoplist Bot Server listening on port %s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting")
}
