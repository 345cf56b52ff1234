// Package main запускает HTTP-сервер сервиса бартерных заказов.
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

	"github.com/mmeshcher/barter-system/internal/config"
	"github.com/mmeshcher/barter-system/internal/handler"
	"github.com/mmeshcher/barter-system/internal/middleware"
	"github.com/mmeshcher/barter-system/internal/notify"
	"github.com/mmeshcher/barter-system/internal/repository"
	"github.com/mmeshcher/barter-system/internal/scheduler"
	"github.com/mmeshcher/barter-system/internal/service"
	"github.com/mmeshcher/barter-system/internal/telegram"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	tgClient := telegram.NewClient(cfg.TelegramToken)
	dispatcher := notify.NewDispatcher(tgClient, repo, logger)

	svc := service.NewService(repo, dispatcher, service.Config{
		CooldownDays:     cfg.CooldownDays,
		LoyaltyThreshold: cfg.LoyaltyThreshold,
	}, logger)
	defer svc.Close()

	jobs := scheduler.New(repo, dispatcher, scheduler.Config{
		CooldownDays:     cfg.CooldownDays,
		CooldownInterval: cfg.CooldownInterval,
		ReminderInterval: cfg.ReminderInterval,
		TopUpInterval:    cfg.TopUpInterval,
	}, logger)

	authMiddleware := middleware.NewAuthMiddleware(cfg.AdminToken)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фоновых задач сверки
	g.Go(func() error {
		jobs.Run(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting barter server", "addr", cfg.RunAddress)
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
