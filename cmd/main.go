package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/gorm"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/api"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/cli"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/config"
	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := ensureDirs(cfg); err != nil {
		log.Fatalf("Failed to create data directories: %v", err)
	}
	db, err := database.Initialize(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// With arguments the binary acts as the operations CLI; without any
	// it serves the API until interrupted.
	if len(os.Args) > 1 {
		cli.Execute(db, cfg)
		return
	}
	serve(db, cfg)
}

func serve(db *gorm.DB, cfg *config.Config) {
	router, authManager, scheduler, err := api.SetupRouter(db, cfg)
	if err != nil {
		log.Fatalf("Failed to set up the API: %v", err)
	}

	log.Printf("Exo Trace Archiver listening on :%s", cfg.APIPort)
	log.Printf("Data directory: %s", cfg.DataDir)
	log.Printf("Certificates directory: %s", cfg.GetCertsDir())
	log.Printf("Database path: %s", cfg.DatabasePath)
	log.Printf("API Key: %s", authManager.APIKeyManager.GetCurrentKey())

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Forced shutdown: %v", err)
	}
}

// ensureDirs creates the data directory and the certificate store directory.
func ensureDirs(cfg *config.Config) error {
	for _, dir := range []string{cfg.DataDir, cfg.GetCertsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
