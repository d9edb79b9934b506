package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"esimstore/backend/internal/config"
	"esimstore/backend/internal/db"
	"esimstore/backend/internal/fulfillment"
	"esimstore/backend/internal/logging"
	"esimstore/backend/internal/notify"
	"esimstore/backend/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, cleanup, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("log error: %v", err)
	}
	defer func() {
		_ = cleanup()
	}()
	logger = logger.With("service", "worker")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db error", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := repository.New(pool)
	engine := fulfillment.NewEngine(repo, repo, logger)
	reconciler := fulfillment.NewReconciler(repo, repo, engine, logger)

	var dispatcher *notify.Dispatcher
	if cfg.Telegram.BotToken != "" && len(cfg.Telegram.ChatIDs) > 0 {
		dispatcher = notify.NewDispatcher(notify.NewTelegramClient(cfg.Telegram.BotToken), cfg.Telegram.ChatIDs, logger)
	}

	interval := cfg.Worker.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	logger.Info("worker_started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		runOnce(ctx, repo, reconciler, dispatcher, logger)
		select {
		case <-ctx.Done():
			logger.Info("shutdown", "service", "worker")
			return
		case <-ticker.C:
		}
	}
}

func runOnce(ctx context.Context, repo *repository.Repository, reconciler *fulfillment.Reconciler, dispatcher *notify.Dispatcher, logger *slog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	report, err := reconciler.Run(runCtx)
	if err != nil {
		logger.Error("reconcile_error", "error", err)
		return
	}
	if report.Repaired > 0 || len(report.Conflicts) > 0 || len(report.Allocated) > 0 || len(report.Exhausted) > 0 {
		logger.Info("reconcile_done",
			"repaired", report.Repaired,
			"conflicts", len(report.Conflicts),
			"allocated", len(report.Allocated),
			"exhausted", len(report.Exhausted))
	}
	if dispatcher == nil {
		return
	}

	for _, order := range report.Allocated {
		claimed, err := repo.ClaimNotificationSlot(runCtx, order.ID, fulfillment.NotificationQuietPeriod)
		if err != nil {
			logger.Warn("notification_slot_error", "order_id", order.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		voucher, err := repo.GetVoucherByOrder(runCtx, order.ID)
		if err != nil {
			logger.Warn("voucher_lookup_error", "order_id", order.ID, "error", err)
			continue
		}
		dispatcher.Dispatch(runCtx, notify.SaleMessage(order, voucher))
	}

	for _, order := range report.Exhausted {
		claimed, err := repo.ClaimNotificationSlot(runCtx, order.ID, fulfillment.NotificationQuietPeriod)
		if err != nil {
			logger.Warn("notification_slot_error", "order_id", order.ID, "error", err)
			continue
		}
		if claimed {
			dispatcher.Dispatch(runCtx, notify.NoVoucherMessage(order))
		}
	}
}
