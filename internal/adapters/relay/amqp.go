// Package relay ретранслирует события жизненного цикла сессий во
// внешний брокер, чтобы сторонние потребители (боты, панели) могли
// подписаться, не держа live-соединение с самим сервисом.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"feedback-hub/internal/domain"
	"feedback-hub/internal/infra/metrics"
)

const publishTimeout = 5 * time.Second

// AMQPRelay публикует события в fanout-обменник. Доставка best-effort:
// ошибка публикации логируется и не влияет на жизненный цикл сессии.
type AMQPRelay struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	log      zerolog.Logger
}

var _ domain.Notifier = (*AMQPRelay)(nil)

// NewAMQP подключается к брокеру и объявляет обменник.
func NewAMQP(url, exchange string, logger zerolog.Logger) (*AMQPRelay, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("подключение к amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("открытие канала amqp: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("объявление обменника: %w", err)
	}
	return &AMQPRelay{conn: conn, channel: channel, exchange: exchange, log: logger}, nil
}

// Close закрывает канал и соединение.
func (r *AMQPRelay) Close() error {
	if err := r.channel.Close(); err != nil {
		return err
	}
	return r.conn.Close()
}

// StatusChanged реализует domain.Notifier.
func (r *AMQPRelay) StatusChanged(sessionID string, oldStatus, newStatus domain.SessionStatus) {
	r.publish(domain.Notification{
		SessionID: sessionID,
		Kind:      domain.NotifyStatusChanged,
		Data: domain.StatusChangedData{
			SessionID: sessionID,
			OldStatus: oldStatus,
			NewStatus: newStatus,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// FeedbackSubmitted реализует domain.Notifier.
func (r *AMQPRelay) FeedbackSubmitted(sessionID, preview string) {
	r.publish(domain.Notification{
		SessionID: sessionID,
		Kind:      domain.NotifyFeedbackSubmitted,
		Data: domain.FeedbackSubmittedData{
			SessionID:   sessionID,
			SubmittedBy: "user",
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
			Preview:     preview,
		},
	})
}

// SessionExpired реализует domain.Notifier.
func (r *AMQPRelay) SessionExpired(sessionID, reason string) {
	r.publish(domain.Notification{
		SessionID: sessionID,
		Kind:      domain.NotifySessionExpired,
		Data: domain.SessionExpiredData{
			SessionID: sessionID,
			Reason:    reason,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (r *AMQPRelay) publish(notification domain.Notification) {
	payload, err := json.Marshal(notification)
	if err != nil {
		r.log.Error().Err(err).Msg("relay: сериализация события")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	start := time.Now()
	err = r.channel.PublishWithContext(ctx, r.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
		Timestamp:   time.Now(),
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", r.exchange, start, err)
	if err != nil {
		r.log.Warn().Err(err).Str("session_id", notification.SessionID).Str("kind", string(notification.Kind)).Msg("relay: публикация события не удалась")
	}
}
