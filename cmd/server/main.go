package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"soundvault/internal/app"
	"soundvault/internal/config"
	"soundvault/internal/extract"
	"soundvault/internal/server"
	"soundvault/internal/tiering"
	"soundvault/internal/usertoken"
	"soundvault/internal/util"
	"soundvault/pkg/notify"
	"soundvault/pkg/storage"
	"soundvault/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	trackStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init track store: %v", err)
	}

	localTier, err := tiering.NewLocalTier(cfg.DataDir)
	if err != nil {
		log.Fatalf("failed to init local tier: %v", err)
	}

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioPrefix, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init durable tier: %v", err)
		}
		objects = minioStore
	} else {
		slog.Warn("durable tier disabled, serving from local disk only")
	}

	var notifier notify.Notifier
	if cfg.AMQPURL != "" {
		publisher, err := notify.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			log.Fatalf("failed to init progress publisher: %v", err)
		}
		defer publisher.Close()
		notifier = publisher
	}

	appCore, err := app.New(app.Config{
		Store:        trackStore,
		Objects:      objects,
		Local:        localTier,
		Extractor:    extract.NewYTDLP(cfg.YTDLPPath),
		Notifier:     notifier,
		StreamURLTTL: cfg.StreamURLTTL(),
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                      appCore,
		TokenVerifier:            tokenVerifier,
		RedisAddr:                cfg.RedisAddr,
		RedisPassword:            cfg.RedisPassword,
		SubmitRateLimitPerMinute: cfg.SubmitRateLimitPerMinute,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // audio delivery streams large bodies
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("soundvault server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
}
