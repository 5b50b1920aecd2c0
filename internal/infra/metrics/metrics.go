package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	SessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedback_sessions_created_total",
		Help: "Созданные сессии обратной связи",
	})
	SessionsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedback_sessions_completed_total",
		Help: "Сессии, завершённые отправкой обратной связи",
	})
	SessionsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedback_sessions_expired_total",
		Help: "Сессии, истёкшие без ответа",
	})
	SubmitValidationErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedback_submit_validation_errors_total",
		Help: "Ошибки валидации при отправке обратной связи",
	}, []string{"field"})

	WSConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections",
		Help: "Текущее число live-соединений",
	})
	WSBroadcasts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_broadcasts_total",
		Help: "Рассылки событий по live-соединениям",
	}, []string{"event"})
	WSEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_connections_evicted_total",
		Help: "Соединения, закрытые по неактивности",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		SessionsCreated,
		SessionsCompleted,
		SessionsExpired,
		SubmitValidationErrors,
		WSConnections,
		WSBroadcasts,
		WSEvicted,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}
