package main

import (
	"context"
	"fmt"
	"time"

	"github.com/KiloMates/ShipBox/config"
	"github.com/KiloMates/ShipBox/internal/broker/kafka"
	"github.com/KiloMates/ShipBox/internal/services/sweeper"
	"github.com/KiloMates/ShipBox/internal/storage/pgshipping"
)

type sweeperFactories struct {
	newStorage  func(cfg *config.Config) (repo sweeper.Repository, closeFn func(), err error)
	newProducer func(cfg *config.Config) sweeper.Producer
}

func defaultSweeperFactories() sweeperFactories {
	return sweeperFactories{
		newStorage: func(cfg *config.Config) (sweeper.Repository, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgshipping.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) sweeper.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
	}
}

func buildSweeper(cfg *config.Config, f sweeperFactories) (*sweeper.Sweeper, func(), error) {
	topic := cfg.Kafka.RequestTransitionsTopicName
	if topic == "" {
		topic = "shipbox.request.transitions"
	}

	interval := time.Duration(cfg.ShipBox.SweeperIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	pendingTTL := time.Duration(cfg.ShipBox.SweeperPendingTTLHours) * time.Hour
	if pendingTTL <= 0 {
		pendingTTL = 72 * time.Hour
	}
	batchSize := cfg.ShipBox.SweeperBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return nil, nil, err
	}

	s := sweeper.New(repo, f.newProducer(cfg), topic).
		WithSettings(interval, pendingTTL, batchSize)
	return s, closeFn, nil
}

func RunShipSweeper(ctx context.Context, cfg *config.Config, f sweeperFactories) error {
	s, closeFn, err := buildSweeper(cfg, f)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	return s.Run(ctx)
}
