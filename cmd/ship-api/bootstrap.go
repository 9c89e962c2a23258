package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/KiloMates/ShipBox/config"
	"github.com/KiloMates/ShipBox/internal/broker/kafka"
	"github.com/KiloMates/ShipBox/internal/cache/rediscache"
	"github.com/KiloMates/ShipBox/internal/integrations/payments"
	paymentsfake "github.com/KiloMates/ShipBox/internal/integrations/payments/fake"
	"github.com/KiloMates/ShipBox/internal/integrations/payments/paygatehttp"
	"github.com/KiloMates/ShipBox/internal/services/escrow"
	"github.com/KiloMates/ShipBox/internal/services/requests"
	"github.com/KiloMates/ShipBox/internal/storage/pgshipping"
)

type shipAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   shipAPIOpts

	svc      *requests.Service
	producer *kafka.Producer
	closeDB  func()
}

func mustBootstrapShipAPI() *shipAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.ShipBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	topic := cfg.Kafka.RequestTransitionsTopicName
	if topic == "" {
		topic = "shipbox.request.transitions"
	}
	cacheTTL := time.Duration(cfg.ShipBox.CurrentStatusTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	st := mustOpenPostgresWithRetry(connString(cfg), 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	rl := rediscache.NewRateLimiter(redisAddr)

	// Без настроенного шлюза (локальная разработка, демо) платежи ходят
	// в in-memory fake.
	var provider payments.Provider
	if cfg.ShipBox.PaymentGatewayBaseURL != "" {
		provider = paygatehttp.New(cfg.ShipBox.PaymentGatewayBaseURL, cfg.ShipBox.PaymentGatewayAPIKey)
	} else {
		slog.Warn("payment gateway base_url is empty, using fake provider")
		provider = paymentsfake.New()
	}

	feePercent := decimal.Zero
	if cfg.ShipBox.FeePercent != "" {
		feePercent, err = decimal.NewFromString(cfg.ShipBox.FeePercent)
		if err != nil {
			panic(fmt.Sprintf("bad fee_percent %q: %v", cfg.ShipBox.FeePercent, err))
		}
	}

	orc := escrow.New(st, provider, feePercent, cfg.ShipBox.RefundPolicy)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)

	admins := make([]uuid.UUID, 0, len(cfg.ShipBox.AdminIDs))
	for _, raw := range cfg.ShipBox.AdminIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			panic(fmt.Sprintf("bad admin id %q: %v", raw, err))
		}
		admins = append(admins, id)
	}

	svc := requests.New(st, orc, rc, cacheTTL).
		WithEvents(producer, topic).
		WithConfirmLimits(rl, int64(cfg.ShipBox.ConfirmAttemptLimit),
			time.Duration(cfg.ShipBox.ConfirmAttemptWindowSeconds)*time.Second).
		WithFeePercent(feePercent).
		WithAdmins(admins)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &shipAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: shipAPIOpts{
			httpAddr:    httpAddr,
			swaggerPath: swaggerPath,
		},
		svc:      svc,
		producer: producer,
		closeDB:  st.Close,
	}
}

func connString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgshipping.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgshipping.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *shipAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.producer != nil {
		_ = a.producer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *shipAPIApp) Run() error {
	return runShipAPI(a.ctx, a.opts, a.svc)
}
