package main

import (
	"context"
	"fmt"
	"time"

	"github.com/zeddlyf/EyyBack/internal/config"
	"github.com/zeddlyf/EyyBack/internal/logger"
	"github.com/zeddlyf/EyyBack/internal/repo"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

func main() {
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	repository := repo.NewRepository(gdb, rdb, kw, log)

	interval := cfg.Kafka.PollInterval()
	batch := cfg.Kafka.BatchSize()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Infof("wallet outbox relay started: every %s, batch %d, topic %s", interval, batch, cfg.Kafka.Topic)
	for range ticker.C {
		ctx := context.Background()
		events, err := repository.PollOutbox(ctx, batch)
		if err != nil {
			log.Errorf("poll outbox: %v", err)
			continue
		}
		for _, evt := range events {
			if err := repository.PublishEvent(ctx, evt); err != nil {
				log.Errorf("publish %s id=%d: %v", evt.EventType, evt.ID, err)
				continue
			}
			if err := repository.MarkOutboxProcessed(ctx, evt.ID); err != nil {
				log.Errorf("mark processed id=%d: %v", evt.ID, err)
			} else {
				log.Debugf("relayed %s for wallet %d", evt.EventType, evt.AggregateID)
			}
		}
	}
}
