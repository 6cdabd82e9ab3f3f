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

	"github.com/geoshout/geoshout-backend/internal/auth"
	"github.com/geoshout/geoshout-backend/internal/config"
	"github.com/geoshout/geoshout-backend/internal/geo"
	"github.com/geoshout/geoshout-backend/internal/handler"
	"github.com/geoshout/geoshout-backend/internal/metrics"
	"github.com/geoshout/geoshout-backend/internal/mqtt"
	"github.com/geoshout/geoshout-backend/internal/repository"
	"github.com/geoshout/geoshout-backend/pkg/utils"
)

var (
	// Version будет установлен при сборке через ldflags
	Version = "dev"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализируем логирование
	logger := utils.NewLogger(config.LogLevel(), config.LogFormat())
	logger.WithField("version", Version).Info("Starting GeoShout Backend")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Инициализируем Redis репозиторий
	repo, err := repository.NewRedisRepository(&cfg.Redis, cfg.Messages.TTL, logger)
	if err != nil {
		logger.WithField("error", err).Fatal("Failed to initialize Redis repository")
	}
	defer repo.Close()

	// Проверяем соединение с Redis
	if err := repo.Ping(ctx); err != nil {
		logger.WithField("error", err).Fatal("Failed to connect to Redis")
	}
	logger.Info("Connected to Redis")

	// Создаем HTTP сервер
	server := handler.NewServer(cfg, repo, logger)
	hub := server.Hub()

	// MQTT мост публикаций (опционально)
	var mqttClient *mqtt.Client
	if cfg.MQTT.URL != "" {
		messageHandler := func(ctx context.Context, post *mqtt.PostPayload) error {
			user, err := repo.GetUser(ctx, auth.HashToken(post.Token))
			if errors.Is(err, repository.ErrUserNotFound) {
				metrics.MQTTRejected.WithLabelValues("not_registered").Inc()
				return nil
			}
			if err != nil {
				return err
			}

			cell := geo.EncodePoint(post.Longitude, post.Latitude, geo.HighSteps)
			msg, err := repo.SaveMessage(ctx, user.ID, user.Name, cell, post.Message)
			if err != nil {
				return err
			}
			metrics.MessagesPosted.WithLabelValues("mqtt").Inc()
			hub.Broadcast(msg, cell)
			return nil
		}

		mqttClient, err = mqtt.NewClient(&cfg.MQTT, logger, messageHandler)
		if err != nil {
			logger.WithField("error", err).Fatal("Failed to create MQTT client")
		}
		if err := mqttClient.Connect(); err != nil {
			logger.WithField("error", err).Fatal("Failed to connect to MQTT broker")
		}
		defer mqttClient.Disconnect()
	}

	// Запускаем HTTP сервер в горутине
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithField("error", err).Fatal("Failed to start HTTP server")
		}
	}()

	// Ждем сигнала остановки
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.WithField("signal", sig).Info("Received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err).Error("HTTP server shutdown error")
	}

	logger.Info("Server stopped gracefully")
}
