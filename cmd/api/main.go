package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"esimstore/backend/internal/config"
	"esimstore/backend/internal/db"
	"esimstore/backend/internal/http/handlers"
	"esimstore/backend/internal/http/middleware"
	"esimstore/backend/internal/integrations"
	"esimstore/backend/internal/logging"
	"esimstore/backend/internal/notify"
	"esimstore/backend/internal/repository"
	"esimstore/backend/internal/wata"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
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
	logger = logger.With("service", "api")
	slog.SetDefault(logger)

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Error("migrate error", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db error", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := repository.New(pool)

	var wataClient *wata.Client
	if cfg.Wata.APIKey != "" {
		wataClient = wata.NewClient(wata.Config{
			APIKey:     cfg.Wata.APIKey,
			PaymentURL: cfg.Wata.PaymentURL,
			AuthHeader: cfg.Wata.AuthHeader,
			AuthScheme: cfg.Wata.AuthScheme,
		}, nil, logger)
	}

	var dispatcher *notify.Dispatcher
	if cfg.Telegram.BotToken != "" && len(cfg.Telegram.ChatIDs) > 0 {
		dispatcher = notify.NewDispatcher(notify.NewTelegramClient(cfg.Telegram.BotToken), cfg.Telegram.ChatIDs, logger)
	}

	var s3Client *integrations.S3Client
	if cfg.S3.Bucket != "" {
		s3Client, err = integrations.NewS3(ctx, cfg.S3)
		if err != nil {
			logger.Error("s3 error", "error", err)
			os.Exit(1)
		}
	}

	h := handlers.New(repo, wataClient, dispatcher, s3Client, cfg, logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(10 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/plans", h.ListPlans)
	r.Post("/orders", h.CreateOrder)
	r.Get("/orders/{id}", h.GetOrder)
	r.Get("/orders/{id}/voucher", h.OrderVoucher)
	r.Get("/orders/{id}/voucher/qr.png", h.VoucherQR)
	r.Post("/payments/wata/webhook", h.WataWebhook)

	r.Post("/auth/admin", h.AuthAdmin)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AdminAuthMiddleware(cfg.JWTSecret))
		r.Get("/admin/plans", h.ListAdminPlans)
		r.Post("/admin/plans", h.CreateAdminPlan)
		r.Post("/admin/plans/{id}/active", h.SetAdminPlanActive)
		r.Post("/admin/vouchers", h.CreateAdminVoucher)
		r.Post("/admin/vouchers/upload", h.UploadAdminVoucherImage)
		r.Get("/admin/vouchers", h.ListAdminVouchers)
		r.Get("/admin/vouchers/stats", h.AdminVoucherStats)
		r.Post("/admin/vouchers/{id}/release", h.ReleaseAdminVoucher)
		r.Get("/admin/orders", h.ListAdminOrders)
		r.Get("/admin/orders/{id}", h.GetAdminOrder)
		r.Post("/admin/orders/{id}/allocate", h.AllocateAdminOrder)
		r.Get("/admin/stats/sales", h.AdminSalesStats)
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		logger.Info("api_listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown", "service", "api")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-Signature")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
