package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/KiloMates/ShipBox/config"
	"github.com/KiloMates/ShipBox/internal/broker/kafka"
	"github.com/KiloMates/ShipBox/internal/services/notifier"
	"github.com/KiloMates/ShipBox/internal/storage/pgshipping"
)

type notifierFactories struct {
	newStorage  func(cfg *config.Config) (repo notifier.Repository, closeFn func(), err error)
	newConsumer func(cfg *config.Config, topic, group string) consumer
	newSender   func(cfg *config.Config) notifier.Sender
}

type consumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
	Close() error
}

func defaultNotifierFactories() notifierFactories {
	return notifierFactories{
		newStorage: func(cfg *config.Config) (notifier.Repository, func(), error) {
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
		newConsumer: func(cfg *config.Config, topic, group string) consumer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewConsumer(brokers, topic, group)
		},
		newSender: func(cfg *config.Config) notifier.Sender {
			return notifier.LogSender{}
		},
	}
}

func RunShipNotifier(ctx context.Context, cfg *config.Config, f notifierFactories) error {
	topic := cfg.Kafka.RequestTransitionsTopicName
	if topic == "" {
		topic = "shipbox.request.transitions"
	}
	group := cfg.ShipBox.KafkaConsumerGroup
	if group == "" {
		group = "ship-notifier"
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	cons := f.newConsumer(cfg, topic, group)
	defer func() { _ = cons.Close() }()

	n := notifier.New(repo, f.newSender(cfg))

	slog.Info("notifier consumer started", "topic", topic, "group", group)
	return cons.Consume(ctx, n.Handle(ctx))
}
