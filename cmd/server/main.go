package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/PortExtender/internal/auth"
	"github.com/KevinKickass/PortExtender/internal/config"
	"github.com/KevinKickass/PortExtender/internal/system"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration")
	genHostToken := flag.Bool("gen-host-token", false, "print a new host controller token and its hash, then exit")
	hashPassword := flag.String("hash-password", "", "print the argon2id hash of the given admin password, then exit")
	flag.Parse()

	if *genHostToken {
		token, hash, err := auth.GenerateHostToken()
		if err != nil {
			log.Fatalf("Failed to generate host token: %v", err)
		}
		fmt.Printf("token: %s\nauth.host_token_hash: %s\n", token, hash)
		return
	}
	if *hashPassword != "" {
		hash, err := auth.NewPasswordHasher().HashPassword(*hashPassword)
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		fmt.Printf("auth.admin_password_hash: %s\n", hash)
		return
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := loadConfig(*configPath, logger)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx := context.Background()

	lifecycle, err := system.NewLifecycleManager(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create system", zap.Error(err))
	}

	if err := lifecycle.Start(ctx); err != nil {
		logger.Fatal("Failed to start system", zap.Error(err))
	}

	logger.Info("PortExtender started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := lifecycle.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("PortExtender stopped successfully")
}

// loadConfig falls back to built-in defaults when the file does not exist.
func loadConfig(path string, logger *zap.Logger) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Config file not found, using defaults", zap.String("path", path))
		return config.Default()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Info("Config loaded successfully", zap.String("path", path))
	return cfg, nil
}
