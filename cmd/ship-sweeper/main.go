package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KiloMates/ShipBox/config"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s, closeFn, err := buildSweeper(cfg, defaultSweeperFactories())
	if err != nil {
		panic(err)
	}
	if closeFn != nil {
		defer closeFn()
	}

	go func() {
		err := runSweeperHTTPServer(ctx, sweeperHTTPOpts{
			httpAddr: cfg.ShipBox.SweeperHTTPAddr,
			sweeper:  s,
			cfg:      cfg,
			onListen: func(addr string) {
				slog.Info("sweeper admin HTTP listening", "addr", addr)
			},
		})
		if err != nil && err != http.ErrServerClosed {
			slog.Error("sweeper http server", "error", err.Error())
		}
	}()

	// Первый цикл сразу после старта, не дожидаясь тикера.
	go func() {
		time.Sleep(time.Second)
		s.Trigger()
	}()

	if err := s.Run(ctx); err != nil && err != context.Canceled {
		panic(err)
	}
}
