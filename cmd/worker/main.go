// Worker drains the event topic (request telemetry and forwarded webhooks) into Loki.
// Needs KAFKA_BROKERS and LOKI_URL; TELEMETRY_KAFKA_TOPIC and KAFKA_GROUP_ID have defaults.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"esim-gateway/internal/config"
	"esim-gateway/internal/telemetry/consumer"
	"esim-gateway/internal/telemetry/loki"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	brokers := cfg.TelemetryKafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("worker: KAFKA_BROKERS is required")
	}
	sink, err := loki.NewClient(cfg.LokiURL, nil)
	if err != nil {
		log.Fatalf("worker: LOKI_URL: %v", err)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.TelemetryKafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("worker: %s (group %s) -> %s", cfg.TelemetryKafkaTopic, cfg.KafkaGroupID, cfg.LokiURL)
	if err := consumer.New(reader, sink, 10*time.Second).Run(ctx); err != nil {
		log.Printf("worker: %v", err)
	}
	log.Println("worker: stopped")
}
