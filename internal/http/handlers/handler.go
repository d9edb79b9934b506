package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"esimstore/backend/internal/config"
	"esimstore/backend/internal/fulfillment"
	authmw "esimstore/backend/internal/http/middleware"
	"esimstore/backend/internal/integrations"
	"esimstore/backend/internal/notify"
	"esimstore/backend/internal/rate"
	"esimstore/backend/internal/repository"
	"esimstore/backend/internal/wata"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

type Handler struct {
	repo         *repository.Repository
	wata         *wata.Client
	dispatcher   *notify.Dispatcher
	s3           *integrations.S3Client
	engine       *fulfillment.Engine
	processor    *fulfillment.Processor
	cfg          *config.Config
	logger       *slog.Logger
	validator    *validator.Validate
	orderLimiter *rate.WindowLimiter
}

func New(repo *repository.Repository, wataClient *wata.Client, dispatcher *notify.Dispatcher, s3 *integrations.S3Client, cfg *config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	engine := fulfillment.NewEngine(repo, repo, logger)
	return &Handler{
		repo:         repo,
		wata:         wataClient,
		dispatcher:   dispatcher,
		s3:           s3,
		engine:       engine,
		processor:    fulfillment.NewProcessor(repo, repo, engine, logger),
		cfg:          cfg,
		logger:       logger,
		validator:    validator.New(),
		orderLimiter: rate.NewWindowLimiter(10, time.Minute),
	}
}

func (h *Handler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 5*time.Second)
}

func (h *Handler) loggerForRequest(r *http.Request) *slog.Logger {
	logger := h.logger
	if logger == nil {
		return slog.Default()
	}
	if reqID := chimw.GetReqID(r.Context()); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	if login, ok := authmw.AdminLoginFromContext(r.Context()); ok {
		logger = logger.With("admin", login)
	}
	return logger
}
