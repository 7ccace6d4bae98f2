package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"oa-worksheets/internal/config"
	"oa-worksheets/internal/handler"
	"oa-worksheets/internal/llm"
	"oa-worksheets/internal/service"
	"oa-worksheets/internal/storage"
	"oa-worksheets/pkg/logger"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	store, err := storage.New(cfg.Storage.Type, cfg.Storage.DataDir, cfg.Storage.CacheSize)
	if err != nil {
		logger.Fatalf("Failed to create storage: %v", err)
	}
	if err := store.Init(); err != nil {
		logger.Fatalf("Failed to init storage: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	cm, err := llm.NewChatModel(ctx, cfg.LLM)
	if err != nil {
		logger.Fatalf("Failed to create chat model: %v", err)
	}
	generator, err := service.NewGenerator(ctx, store, cm, cfg.Generator)
	if err != nil {
		logger.Fatalf("Failed to create generator: %v", err)
	}

	worksheetHandler := handler.NewWorksheetHandler(generator, service.NewWorksheetService(store), cfg.Server, cfg.API.Delimiter)
	router := handler.SetupRouter(cfg, worksheetHandler)

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	stopBackups := startBackups(store, cfg.Storage.BackupInterval)
	defer stopBackups()

	go func() {
		logger.Infof("Server listening on port %d (storage: %s, provider: %s)", cfg.Server.Port, cfg.Storage.Type, cfg.LLM.Provider)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	logger.Info("Server stopped")
}

// startBackups snapshots the store every interval until the returned func is
// called. A zero interval disables backups.
func startBackups(store storage.Storage, interval time.Duration) func() {
	if interval <= 0 {
		return func() {}
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := store.Backup(); err != nil {
					logger.Warnf("Backup failed: %v", err)
				} else {
					logger.Info("Backup completed")
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}
