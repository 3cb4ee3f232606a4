package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jsonlined/jsonlined/internal/config"
	"github.com/jsonlined/jsonlined/internal/engine"
	"github.com/jsonlined/jsonlined/internal/server"
)

func main() {
	// Command-line flags; non-empty values override the config file.
	configPath := flag.String("config", "", "Path to YAML config file")
	host := flag.String("host", "", "Bind host (overrides config)")
	port := flag.Int("port", 0, "Bind port (overrides config)")
	filePath := flag.String("file", "", "JSONL log file path (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Invalid config: %v", err)
		}
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *filePath != "" {
		cfg.Log.Path = *filePath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	eng := engine.New(engine.Config{
		Path:       cfg.Log.Path,
		MaxRetries: cfg.Log.MaxRetries,
		RetryDelay: cfg.Log.Delay(),
		Workers:    cfg.Log.Workers,
	})

	srv := server.New(eng, cfg)
	go func() {
		zap.S().Infow("listening", "addr", cfg.Server.Addr(), "file", cfg.Log.Path)
		if err := srv.Start(); err != nil {
			zap.S().Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	zap.S().Infof("Received signal: %v. Shutting down...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zap.S().Errorf("Server shutdown error: %v", err)
	}

	// Let queued appends drain so no accepted request loses its write.
	eng.Close()
	zap.S().Info("jsonlined exited gracefully")
}
