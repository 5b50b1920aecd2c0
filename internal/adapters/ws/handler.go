// Package ws поднимает WebSocket-транспорт live-канала и передаёт
// соединения реестру.
package ws

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"feedback-hub/internal/hub"
)

// Handler принимает WebSocket-соединения для сессии.
type Handler struct {
	hub           *hub.Hub
	allowedOrigin string
	log           zerolog.Logger
}

// NewHandler создаёт обработчик подключений.
func NewHandler(h *hub.Hub, allowedOrigin string, logger zerolog.Logger) *Handler {
	return &Handler{hub: h, allowedOrigin: allowedOrigin, log: logger}
}

// ServeHTTP реализует http.Handler: GET /ws/feedback/{sessionID}.
// Проверяется только присутствие ключа; валидация содержимого ключа —
// забота внешнего слоя авторизации.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	apiKey := r.URL.Query().Get("apiKey")
	clientKind := r.URL.Query().Get("clientType")

	if sessionID == "" || apiKey == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{h.allowedOrigin},
	})
	if err != nil {
		h.log.Warn().Err(err).Str("session_id", sessionID).Msg("ws: не удалось принять соединение")
		return
	}

	connectionID, err := h.hub.Accept(sessionID, clientKind, true, &wsSender{conn: conn})
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "unauthorized")
		return
	}
	defer h.hub.CloseConn(connectionID)
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "соединение завершено")
	}()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.log.Debug().Str("connection_id", connectionID).Msg("ws: клиент закрыл соединение")
			} else {
				h.log.Warn().Err(err).Str("connection_id", connectionID).Msg("ws: ошибка чтения")
			}
			return
		}
		h.hub.Message(connectionID, data)
	}
}

// wsSender адаптирует websocket.Conn к hub.Sender.
type wsSender struct {
	conn *websocket.Conn
}

func (s *wsSender) Send(ctx context.Context, payload []byte) error {
	return s.conn.Write(ctx, websocket.MessageText, payload)
}

func (s *wsSender) Close(reason string) error {
	return s.conn.Close(websocket.StatusNormalClosure, reason)
}
