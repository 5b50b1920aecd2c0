package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"

	"feedback-hub/internal/adapters/form"
	"feedback-hub/internal/adapters/notify"
	"feedback-hub/internal/adapters/relay"
	"feedback-hub/internal/adapters/repo"
	"feedback-hub/internal/adapters/store"
	"feedback-hub/internal/adapters/ws"
	"feedback-hub/internal/domain"
	"feedback-hub/internal/hub"
	"feedback-hub/internal/infra/config"
	"feedback-hub/internal/infra/db"
	httpinfra "feedback-hub/internal/infra/http"
	"feedback-hub/internal/infra/log"
	"feedback-hub/internal/infra/metrics"
	"feedback-hub/internal/usecase/feedback"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv, "api")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger, fmt.Sprintf(":%d", cfg.MetricsPort))

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	sessionStore := store.NewRedis(redisClient)

	var audit domain.AuditRepo
	if cfg.PGDSN != "" {
		pool, err := db.Connect(cfg.PGDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: нет подключения к БД")
		}
		defer pool.Close()
		audit = repo.NewPostgres(pool)
	} else {
		logger.Info().Msg("api: аудит отключён (PG_DSN пуст)")
	}

	connHub := hub.New(logger.With().Str("component", "hub").Logger())
	go connHub.Run(ctx)

	notifiers := []domain.Notifier{connHub}
	if cfg.AMQP.URL != "" {
		eventRelay, err := relay.NewAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange, logger.With().Str("component", "relay").Logger())
		if err != nil {
			logger.Fatal().Err(err).Msg("api: нет подключения к брокеру")
		}
		defer eventRelay.Close()
		notifiers = append(notifiers, eventRelay)
	} else {
		logger.Info().Msg("api: ретрансляция событий отключена (AMQP_URL пуст)")
	}

	service := feedback.NewService(
		sessionStore,
		notify.NewBridge(logger.With().Str("component", "notify").Logger(), notifiers...),
		audit,
		logger.With().Str("component", "feedback").Logger(),
	)

	api := &apiHandlers{service: service, hub: connHub, audit: audit, baseURL: cfg.BaseURL}

	srv := httpinfra.NewServer(logger)
	r := srv.Router

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Публичные эндпоинты: по ним ходит человек, получивший ссылку.
	r.Get("/feedback/{sessionID}", form.NewHandler(service, logger.With().Str("component", "form").Logger()).ServeHTTP)
	r.Get("/ws/feedback/{sessionID}", ws.NewHandler(connHub, cfg.WS.AllowedOrigin, logger.With().Str("component", "ws").Logger()).ServeHTTP)
	r.Get("/api/feedback/{sessionID}/status", api.status)
	r.Post("/api/feedback/{sessionID}/submit", api.submit)

	r.Group(func(protected chi.Router) {
		protected.Use(httpinfra.APIKeyMiddleware(cfg.APIKey))

		protected.Post("/api/feedback/create", api.create)
		protected.Get("/api/feedback/{sessionID}/result", api.result)
		protected.Get("/api/feedback/list", api.list)
		protected.Get("/api/admin/connections", api.connections)
		protected.Get("/api/admin/history", api.history)
	})

	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Fatal().Err(err).Msg("api: сервер остановился с ошибкой")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: ошибка остановки сервера")
	}
	logger.Info().Msg("api: сервис остановлен")
}

type apiHandlers struct {
	service *feedback.Service
	hub     *hub.Hub
	audit   domain.AuditRepo
	baseURL string
}

type createRequest struct {
	Title             string         `json:"title"`
	Message           string         `json:"message"`
	AIContent         string         `json:"aiContent"`
	PredefinedOptions []string       `json:"predefinedOptions"`
	TimeoutSeconds    int            `json:"timeout"`
	Metadata          map[string]any `json:"metadata"`
}

type createResponse struct {
	SessionID   string `json:"sessionId"`
	FeedbackURL string `json:"feedbackUrl"`
	StatusURL   string `json:"statusUrl"`
	ExpiresAt   string `json:"expiresAt"`
}

func (h *apiHandlers) create(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, httpinfra.CodeInvalidRequest, "некорректное тело запроса")
		return
	}

	created, err := h.service.CreateSession(r.Context(), feedback.CreateRequest{
		Title:             req.Title,
		Message:           req.Message,
		AIContent:         req.AIContent,
		PredefinedOptions: req.PredefinedOptions,
		TimeoutSeconds:    req.TimeoutSeconds,
		Metadata:          req.Metadata,
		Source:            "api",
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	httpinfra.WriteSuccess(w, createResponse{
		SessionID:   created.SessionID,
		FeedbackURL: fmt.Sprintf("%s/feedback/%s", h.baseURL, created.SessionID),
		StatusURL:   fmt.Sprintf("%s/api/feedback/%s/status", h.baseURL, created.SessionID),
		ExpiresAt:   created.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *apiHandlers) status(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.GetSessionStatus(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpinfra.WriteSuccess(w, map[string]any{
		"sessionId":   status.SessionID,
		"status":      status.Status,
		"createdAt":   status.CreatedAt.UTC().Format(time.RFC3339),
		"expiresAt":   status.ExpiresAt.UTC().Format(time.RFC3339),
		"submittedAt": formatOptionalTime(status.SubmittedAt),
	})
}

type submitRequest struct {
	SelectedOptions []string       `json:"selectedOptions"`
	FreeText        string         `json:"freeText"`
	Metadata        map[string]any `json:"metadata"`
}

func (h *apiHandlers) submit(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, httpinfra.CodeInvalidRequest, "некорректное тело запроса")
		return
	}

	submitted, err := h.service.SubmitFeedback(r.Context(), chi.URLParam(r, "sessionID"), feedback.SubmitRequest{
		SelectedOptions: req.SelectedOptions,
		FreeText:        req.FreeText,
		Metadata:        req.Metadata,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpinfra.WriteSuccess(w, map[string]any{
		"sessionId":   submitted.SessionID,
		"status":      submitted.Status,
		"submittedAt": submitted.SubmittedAt.UTC().Format(time.RFC3339),
	})
}

func (h *apiHandlers) result(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.GetFeedbackResult(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpinfra.WriteSuccess(w, map[string]any{
		"sessionId":   result.SessionID,
		"feedback":    result.Feedback,
		"submittedAt": result.SubmittedAt.UTC().Format(time.RFC3339),
		"metadata":    result.Metadata,
	})
}

func (h *apiHandlers) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	statusFilter := domain.SessionStatus(r.URL.Query().Get("status"))

	listed, err := h.service.ListSessions(r.Context(), statusFilter, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(listed.Items))
	for _, item := range listed.Items {
		items = append(items, map[string]any{
			"sessionId":    item.SessionID,
			"title":        item.Title,
			"message":      item.Message,
			"status":       item.Status,
			"createdAt":    item.CreatedAt.UTC().Format(time.RFC3339),
			"expiresAt":    item.ExpiresAt.UTC().Format(time.RFC3339),
			"submittedAt":  formatOptionalTime(item.SubmittedAt),
			"hasAiContent": item.HasAIContent,
		})
	}
	httpinfra.WriteSuccess(w, map[string]any{
		"sessions":  items,
		"total":     listed.Total,
		"pending":   listed.Pending,
		"completed": listed.Completed,
	})
}

func (h *apiHandlers) connections(w http.ResponseWriter, _ *http.Request) {
	httpinfra.WriteSuccess(w, h.hub.Stats())
}

func (h *apiHandlers) history(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		httpinfra.WriteError(w, http.StatusNotFound, httpinfra.CodeInternalError, "аудит не сконфигурирован")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	history, err := h.audit.ListSessionHistory(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	rows := make([]map[string]any, 0, len(history))
	for _, row := range history {
		rows = append(rows, map[string]any{
			"sessionId":   row.SessionID,
			"title":       row.Title,
			"message":     row.Message,
			"status":      row.Status,
			"source":      row.Source,
			"createdAt":   row.CreatedAt.UTC().Format(time.RFC3339),
			"expiresAt":   row.ExpiresAt.UTC().Format(time.RFC3339),
			"submittedAt": formatOptionalTime(row.SubmittedAt),
		})
	}
	httpinfra.WriteSuccess(w, map[string]any{"history": rows})
}

// writeServiceError переводит бизнес-ошибки менеджера сессий в коды API.
func writeServiceError(w http.ResponseWriter, err error) {
	var validation *feedback.ValidationError
	switch {
	case errors.As(err, &validation):
		httpinfra.WriteValidationError(w, validation.Field, validation.Reason)
	case errors.Is(err, feedback.ErrSessionNotFound):
		httpinfra.WriteError(w, http.StatusNotFound, httpinfra.CodeSessionNotFound, err.Error())
	case errors.Is(err, feedback.ErrSessionExpired):
		httpinfra.WriteError(w, http.StatusGone, httpinfra.CodeSessionExpired, err.Error())
	case errors.Is(err, feedback.ErrAlreadySubmitted):
		httpinfra.WriteError(w, http.StatusConflict, httpinfra.CodeAlreadySubmitted, err.Error())
	case errors.Is(err, feedback.ErrNoFeedback):
		httpinfra.WriteError(w, http.StatusNotFound, httpinfra.CodeNoFeedbackAvailable, err.Error())
	default:
		httpinfra.WriteError(w, http.StatusInternalServerError, httpinfra.CodeInternalError, "внутренняя ошибка")
	}
}

func formatOptionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
