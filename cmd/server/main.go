// Package main запускает сервис координации заказов бара.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MegrimInc/RedisMicroService-sub000/internal/archive"
	"github.com/MegrimInc/RedisMicroService-sub000/internal/config"
	"github.com/MegrimInc/RedisMicroService-sub000/internal/dispatch"
	"github.com/MegrimInc/RedisMicroService-sub000/internal/fanout"
	"github.com/MegrimInc/RedisMicroService-sub000/internal/handler"
	"github.com/MegrimInc/RedisMicroService-sub000/internal/machine"
	"github.com/MegrimInc/RedisMicroService-sub000/internal/registry"
	"github.com/MegrimInc/RedisMicroService-sub000/internal/store"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	s, err := store.New(store.Options{
		Addr:       cfg.RedisAddress,
		Password:   cfg.RedisPassword,
		SessionsDB: cfg.SessionsDB,
		OrdersDB:   cfg.OrdersDB,
		FlagsDB:    cfg.FlagsDB,
	})
	if err != nil {
		sugar.Fatalw("store initialization error", "error", err.Error())
	}
	defer s.Close()

	var archiveClient *archive.Client
	if cfg.ArchiveAddress != "" {
		archiveClient = archive.NewClient(cfg.ArchiveAddress)
	}

	reg := registry.New(s, logger)

	deps := dispatch.Deps{
		Store:    s,
		Machine:  machine.New(s),
		Registry: reg,
		Fanout:   fanout.New(reg, logger),
		Archive:  archiveClient,
		Logger:   logger,
	}

	h := handler.NewHandler(deps, logger)
	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting order coordination server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
