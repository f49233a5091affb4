package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	segkafka "github.com/segmentio/kafka-go"

	"github.com/prabath1998/event-ticketing-web-backend/internal/audit"
	"github.com/prabath1998/event-ticketing-web-backend/internal/config"
	"github.com/prabath1998/event-ticketing-web-backend/internal/database"
	"github.com/prabath1998/event-ticketing-web-backend/internal/kafka"
	"github.com/prabath1998/event-ticketing-web-backend/internal/logger"
)

// audit-consumer drains the audit topic into admin_audit_logs.
func main() {
	log := logger.NewLogger("audit-consumer")
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("Invalid configuration: %v", err))
	}
	if !cfg.Kafka.Enabled {
		log.Fatal("CONFIG", "KAFKA_ENABLED is false, nothing to consume")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open database: %v", err))
	}
	defer bunDB.Close()

	sink := audit.NewDBSink(bunDB, log)
	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, []string{cfg.Kafka.Topics.Audit}, cfg.Kafka.GroupID, log)
	defer consumer.Close()

	log.Info("KAFKA", fmt.Sprintf("Consuming %s into admin_audit_logs", cfg.Kafka.Topics.Audit))
	err = consumer.Start(ctx, func(ctx context.Context, msg segkafka.Message) error {
		return sink.HandleMessage(ctx, msg.Value)
	})
	if err != nil {
		log.Error("KAFKA", fmt.Sprintf("Consumer stopped: %v", err))
	}
	log.Info("APP", "Audit consumer shut down")
}
