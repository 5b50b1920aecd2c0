// Package hub содержит реестр live-соединений. Реестр — одиночный
// актор: вся работа с картой соединений (регистрация, входящие
// сообщения, рассылки, выселение по неактивности) выполняется в одной
// горутине через канал команд, без блокировок.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"feedback-hub/internal/domain"
	"feedback-hub/internal/infra/metrics"
)

const (
	sweepInterval = 30 * time.Second
	idleTimeout   = 5 * time.Minute
	sendTimeout   = 5 * time.Second
	commandBuffer = 64
)

// ErrUnauthorized возвращается при отказе в регистрации соединения.
var ErrUnauthorized = errors.New("соединение не авторизовано")

// Виды клиентов live-канала.
const (
	KindWeb = "web"
	KindApp = "app"
)

// Sender абстрагирует транспорт одного live-соединения.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
	Close(reason string) error
}

type liveConn struct {
	id           string
	sessionID    string
	kind         string
	sender       Sender
	connectedAt  time.Time
	lastActivity time.Time
	// seq задаёт порядок регистрации: рассылка идёт по нему.
	seq uint64
}

// Hub — единственный на процесс реестр соединений всех сессий.
type Hub struct {
	log   zerolog.Logger
	now   func() time.Time
	cmds  chan func()
	conns map[string]*liveConn
	seq   uint64
}

var _ domain.Notifier = (*Hub)(nil)

// New создаёт реестр. Актор запускается методом Run.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		log:   logger,
		now:   time.Now,
		cmds:  make(chan func(), commandBuffer),
		conns: make(map[string]*liveConn),
	}
}

// Run выполняет команды актора и периодическую проверку неактивности.
// Блокируется до отмены контекста.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case cmd := <-h.cmds:
			cmd()
		case <-ticker.C:
			h.sweep(h.now())
		}
	}
}

// do выполняет команду в акторе и ждёт её завершения.
func (h *Hub) do(fn func()) {
	done := make(chan struct{})
	h.cmds <- func() {
		fn()
		close(done)
	}
	<-done
}

// tryDo ставит команду без ожидания; при переполненной очереди команда
// отбрасывается — уведомления доставляются не более одного раза.
func (h *Hub) tryDo(fn func()) {
	select {
	case h.cmds <- fn:
	default:
		h.log.Warn().Msg("hub: очередь команд переполнена, событие отброшено")
	}
}

// Accept регистрирует соединение и немедленно шлёт ему
// connection_established. authorized — результат внешней проверки
// ключа; здесь только булев гейт.
func (h *Hub) Accept(sessionID, kind string, authorized bool, sender Sender) (string, error) {
	if sessionID == "" || !authorized {
		return "", ErrUnauthorized
	}
	if kind != KindApp {
		kind = KindWeb
	}

	connectionID := uuid.NewString()
	h.do(func() {
		now := h.now()
		h.seq++
		conn := &liveConn{
			id:           connectionID,
			sessionID:    sessionID,
			kind:         kind,
			sender:       sender,
			connectedAt:  now,
			lastActivity: now,
			seq:          h.seq,
		}
		h.conns[connectionID] = conn
		metrics.WSConnections.Inc()
		h.log.Info().Str("connection_id", connectionID).Str("session_id", sessionID).Str("kind", kind).Msg("hub: соединение установлено")
		h.send(conn, domain.Envelope{
			Type: domain.EventConnectionEstablished,
			Data: domain.ConnectionEstablishedData{
				SessionID:  sessionID,
				ClientID:   connectionID,
				ServerTime: now.UTC().Format(time.RFC3339),
			},
		})
	})
	return connectionID, nil
}

// Message обрабатывает входящее сообщение соединения.
func (h *Hub) Message(connectionID string, raw []byte) {
	h.do(func() {
		conn, ok := h.conns[connectionID]
		if !ok {
			return
		}
		conn.lastActivity = h.now()

		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Type == "" {
			h.send(conn, h.errorEnvelope("MESSAGE_PARSE_ERROR", "неверный формат сообщения"))
			return
		}

		switch msg.Type {
		case domain.MessagePing:
			h.send(conn, domain.Envelope{
				Type:      domain.EventPong,
				Timestamp: h.now().UTC().Format(time.RFC3339),
			})
		case domain.MessageAppRegister:
			var reg domain.AppRegisterData
			if len(msg.Data) > 0 {
				if err := json.Unmarshal(msg.Data, &reg); err != nil {
					h.send(conn, h.errorEnvelope("MESSAGE_PARSE_ERROR", "неверный формат регистрации"))
					return
				}
			}
			h.log.Info().Str("connection_id", connectionID).Str("platform", reg.Platform).Str("app_version", reg.AppVersion).Msg("hub: клиент зарегистрирован")
			h.send(conn, domain.Envelope{
				Type: domain.EventAppRegistrationConfirmed,
				Data: map[string]string{
					"sessionId": conn.sessionID,
					"clientId":  conn.id,
					"timestamp": h.now().UTC().Format(time.RFC3339),
				},
			})
		default:
			h.log.Warn().Str("type", msg.Type).Msg("hub: неизвестный тип сообщения")
		}
	})
}

// CloseConn убирает соединение из реестра. Ошибок не возвращает:
// закрытие транспорта уже произошло или произойдёт на стороне клиента.
func (h *Hub) CloseConn(connectionID string) {
	h.do(func() {
		h.remove(connectionID, "")
	})
}

// StatusChanged реализует domain.Notifier.
func (h *Hub) StatusChanged(sessionID string, oldStatus, newStatus domain.SessionStatus) {
	h.tryDo(func() {
		h.broadcast(sessionID, domain.Envelope{
			Type: domain.EventSessionStatusChanged,
			Data: domain.StatusChangedData{
				SessionID: sessionID,
				OldStatus: oldStatus,
				NewStatus: newStatus,
				Timestamp: h.now().UTC().Format(time.RFC3339),
			},
		})
	})
}

// FeedbackSubmitted реализует domain.Notifier.
func (h *Hub) FeedbackSubmitted(sessionID, preview string) {
	h.tryDo(func() {
		h.broadcast(sessionID, domain.Envelope{
			Type: domain.EventFeedbackSubmitted,
			Data: domain.FeedbackSubmittedData{
				SessionID:   sessionID,
				SubmittedBy: "user",
				Timestamp:   h.now().UTC().Format(time.RFC3339),
				Preview:     preview,
			},
		})
	})
}

// SessionExpired реализует domain.Notifier.
func (h *Hub) SessionExpired(sessionID, reason string) {
	h.tryDo(func() {
		h.broadcast(sessionID, domain.Envelope{
			Type: domain.EventSessionExpired,
			Data: domain.SessionExpiredData{
				SessionID: sessionID,
				Reason:    reason,
				Timestamp: h.now().UTC().Format(time.RFC3339),
			},
		})
	})
}

// Stats возвращает срез состояния реестра.
func (h *Hub) Stats() domain.ConnectionStats {
	var stats domain.ConnectionStats
	h.do(func() {
		stats = domain.ConnectionStats{
			TotalConnections: len(h.conns),
			SessionCounts:    make(map[string]int),
			ClientKinds:      make(map[string]int),
		}
		for _, conn := range h.conns {
			stats.SessionCounts[conn.sessionID]++
			stats.ClientKinds[conn.kind]++
		}
	})
	return stats
}

// broadcast шлёт событие всем соединениям сессии в порядке регистрации.
// Ошибка отправки убирает только отказавшее соединение.
func (h *Hub) broadcast(sessionID string, envelope domain.Envelope) {
	var targets []*liveConn
	for _, conn := range h.conns {
		if conn.sessionID == sessionID {
			targets = append(targets, conn)
		}
	}
	for i := 1; i < len(targets); i++ {
		for j := i; j > 0 && targets[j].seq < targets[j-1].seq; j-- {
			targets[j], targets[j-1] = targets[j-1], targets[j]
		}
	}

	sent := 0
	for _, conn := range targets {
		if h.send(conn, envelope) {
			sent++
		}
	}
	metrics.WSBroadcasts.WithLabelValues(envelope.Type).Inc()
	h.log.Debug().Str("session_id", sessionID).Str("event", envelope.Type).Int("delivered", sent).Msg("hub: рассылка события")
}

// send сериализует и отправляет конверт; при ошибке соединение
// убирается из реестра. Возвращает успешность отправки.
func (h *Hub) send(conn *liveConn, envelope domain.Envelope) bool {
	payload, err := json.Marshal(envelope)
	if err != nil {
		h.log.Error().Err(err).Str("event", envelope.Type).Msg("hub: сериализация события")
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := conn.sender.Send(ctx, payload); err != nil {
		h.log.Warn().Err(err).Str("connection_id", conn.id).Msg("hub: отправка не удалась, соединение убрано")
		h.remove(conn.id, "ошибка отправки")
		return false
	}
	return true
}

// sweep закрывает соединения, неактивные дольше idleTimeout.
// Единственная проактивная чистка реестра.
func (h *Hub) sweep(now time.Time) {
	for id, conn := range h.conns {
		if now.Sub(conn.lastActivity) > idleTimeout {
			h.log.Info().Str("connection_id", id).Msg("hub: соединение выселено по неактивности")
			_ = conn.sender.Close("таймаут неактивности")
			delete(h.conns, id)
			metrics.WSConnections.Dec()
			metrics.WSEvicted.Inc()
		}
	}
}

func (h *Hub) remove(connectionID, reason string) {
	conn, ok := h.conns[connectionID]
	if !ok {
		return
	}
	if reason != "" {
		_ = conn.sender.Close(reason)
	}
	delete(h.conns, connectionID)
	metrics.WSConnections.Dec()
	h.log.Info().Str("connection_id", connectionID).Msg("hub: соединение закрыто")
}

func (h *Hub) closeAll() {
	for id, conn := range h.conns {
		_ = conn.sender.Close("остановка сервиса")
		delete(h.conns, id)
		metrics.WSConnections.Dec()
	}
}

func (h *Hub) errorEnvelope(code, message string) domain.Envelope {
	return domain.Envelope{
		Type: domain.EventError,
		Data: domain.ErrorData{
			Code:      code,
			Message:   message,
			Timestamp: h.now().UTC().Format(time.RFC3339),
		},
	}
}
