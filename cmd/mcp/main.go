// Команда mcp поднимает инструментальный фронт поверх менеджера сессий:
// JSON-RPC 2.0 через stdin/stdout. Агент создаёт сессию инструментом
// interactive_feedback, человек отвечает через веб-форму API-процесса,
// инструмент дожидается результата через общее хранилище.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"feedback-hub/internal/adapters/notify"
	"feedback-hub/internal/adapters/relay"
	"feedback-hub/internal/adapters/store"
	"feedback-hub/internal/domain"
	"feedback-hub/internal/infra/config"
	"feedback-hub/internal/infra/log"
	"feedback-hub/internal/usecase/feedback"
)

const (
	serverName      = "feedback-hub"
	serverVersion   = "1.0.0"
	protocolVersion = "2024-11-05"

	// pollInterval — шаг опроса хранилища в ожидании ответа человека.
	pollInterval = 2 * time.Second
)

// JSONRPCRequest — входящий запрос JSON-RPC 2.0.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse — исходящий ответ JSON-RPC 2.0.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError — ошибка JSON-RPC 2.0.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Коды ошибок JSON-RPC.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// Tool — описание инструмента в протоколе.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// sessionService — срез менеджера сессий, нужный инструментам.
type sessionService interface {
	CreateSession(ctx context.Context, req feedback.CreateRequest) (feedback.CreateResult, error)
	GetSessionStatus(ctx context.Context, sessionID string) (feedback.StatusResult, error)
	GetFeedbackResult(ctx context.Context, sessionID string) (feedback.Result, error)
}

// Handler диспетчеризует запросы протокола на инструменты.
type Handler struct {
	service sessionService
	baseURL string
	poll    time.Duration
	log     zerolog.Logger
}

// NewHandler создаёт диспетчер инструментов.
func NewHandler(service sessionService, baseURL string, logger zerolog.Logger) *Handler {
	return &Handler{service: service, baseURL: baseURL, poll: pollInterval, log: logger}
}

// HandleRequest обрабатывает один запрос протокола.
func (h *Handler) HandleRequest(ctx context.Context, req JSONRPCRequest) JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return h.handleInitialize(req)
	case "initialized", "notifications/initialized":
		return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{}`)}
	case "ping":
		return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{}`)}
	case "tools/list":
		return h.handleToolsList(req)
	case "tools/call":
		return h.handleToolsCall(ctx, req)
	default:
		return errorResponse(req.ID, codeMethodNotFound, "метод не поддерживается: "+req.Method)
	}
}

func (h *Handler) handleInitialize(req JSONRPCRequest) JSONRPCResponse {
	result := map[string]any{
		"protocolVersion": protocolVersion,
		"serverInfo":      map[string]any{"name": serverName, "version": serverVersion},
		"capabilities":    map[string]any{"tools": map[string]any{}},
	}
	payload, _ := json.Marshal(result)
	return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: payload}
}

func (h *Handler) handleToolsList(req JSONRPCRequest) JSONRPCResponse {
	payload, _ := json.Marshal(map[string]any{"tools": toolCatalog()})
	return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: payload}
}

func toolCatalog() []Tool {
	return []Tool{
		{
			Name:        "interactive_feedback",
			Description: "Создаёт сессию обратной связи, отдаёт ссылку человеку и ждёт его ответа до завершения или истечения сессии.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message":            map[string]any{"type": "string", "description": "Вопрос к человеку"},
					"title":              map[string]any{"type": "string", "description": "Заголовок страницы"},
					"aiContent":          map[string]any{"type": "string", "description": "Черновик или контекст для ревью"},
					"predefined_options": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Готовые варианты ответа"},
					"timeout":            map[string]any{"type": "integer", "description": "Время ожидания в секундах"},
				},
				"required": []string{"message"},
			},
		},
		{
			Name:        "check_feedback_status",
			Description: "Возвращает статус сессии обратной связи без ожидания.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"session_id": map[string]any{"type": "string", "description": "Идентификатор сессии"},
				},
				"required": []string{"session_id"},
			},
		},
		{
			Name:        "get_feedback_result",
			Description: "Возвращает результат завершённой сессии обратной связи.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"session_id": map[string]any{"type": "string", "description": "Идентификатор сессии"},
				},
				"required": []string{"session_id"},
			},
		},
	}
}

func (h *Handler) handleToolsCall(ctx context.Context, req JSONRPCRequest) JSONRPCResponse {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "некорректные параметры: "+err.Error())
	}

	var text string
	var err error
	switch params.Name {
	case "interactive_feedback":
		text, err = h.interactiveFeedback(ctx, params.Arguments)
	case "check_feedback_status":
		text, err = h.checkFeedbackStatus(ctx, params.Arguments)
	case "get_feedback_result":
		text, err = h.getFeedbackResult(ctx, params.Arguments)
	default:
		return errorResponse(req.ID, codeMethodNotFound, "неизвестный инструмент: "+params.Name)
	}
	if err != nil {
		// Отсутствующая или истёкшая сессия — ошибка аргументов
		// вызывающего, а не сбой сервера.
		var validation *feedback.ValidationError
		switch {
		case errors.As(err, &validation),
			errors.Is(err, feedback.ErrSessionNotFound),
			errors.Is(err, feedback.ErrSessionExpired):
			return errorResponse(req.ID, codeInvalidParams, err.Error())
		default:
			return errorResponse(req.ID, codeInternalError, err.Error())
		}
	}
	return toolResponse(req.ID, text)
}

type interactiveFeedbackArgs struct {
	Message           string   `json:"message"`
	Title             string   `json:"title"`
	AIContent         string   `json:"aiContent"`
	PredefinedOptions []string `json:"predefined_options"`
	TimeoutSeconds    int      `json:"timeout"`
}

// interactiveFeedback создаёт сессию и блокируется до ответа человека,
// истечения сессии или обрыва контекста.
func (h *Handler) interactiveFeedback(ctx context.Context, raw json.RawMessage) (string, error) {
	var args interactiveFeedbackArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("разбор аргументов: %w", err)
	}

	created, err := h.service.CreateSession(ctx, feedback.CreateRequest{
		Title:             args.Title,
		Message:           args.Message,
		AIContent:         args.AIContent,
		PredefinedOptions: args.PredefinedOptions,
		TimeoutSeconds:    args.TimeoutSeconds,
		Source:            "mcp-tool",
	})
	if err != nil {
		return "", err
	}

	feedbackURL := fmt.Sprintf("%s/feedback/%s", h.baseURL, created.SessionID)
	h.log.Info().Str("session_id", created.SessionID).Str("url", feedbackURL).Msg("mcp: сессия создана, ждём ответа")
	fmt.Fprintf(os.Stderr, "Откройте форму обратной связи: %s\n", feedbackURL)

	// Ждём чуть дольше самой сессии: ленивое истечение должно успеть
	// перевести её в expired при последнем опросе.
	deadline := created.ExpiresAt.Add(2 * h.poll)
	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()
	for {
		select {
		case <-waitCtx.Done():
			return fmt.Sprintf("Ответ не получен: время ожидания истекло.\nСсылка на сессию: %s", feedbackURL), nil
		case <-ticker.C:
			result, err := h.service.GetFeedbackResult(waitCtx, created.SessionID)
			switch {
			case err == nil:
				return formatResult(result), nil
			case errors.Is(err, feedback.ErrNoFeedback):
				status, statusErr := h.service.GetSessionStatus(waitCtx, created.SessionID)
				if statusErr == nil && status.Status == domain.StatusExpired {
					return fmt.Sprintf("Ответ не получен: сессия %s истекла.", created.SessionID), nil
				}
			case errors.Is(err, feedback.ErrSessionNotFound), errors.Is(err, feedback.ErrSessionExpired):
				return fmt.Sprintf("Ответ не получен: сессия %s истекла.", created.SessionID), nil
			default:
				h.log.Warn().Err(err).Str("session_id", created.SessionID).Msg("mcp: ошибка опроса результата")
			}
		}
	}
}

type sessionIDArgs struct {
	SessionID string `json:"session_id"`
}

func (h *Handler) checkFeedbackStatus(ctx context.Context, raw json.RawMessage) (string, error) {
	var args sessionIDArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("разбор аргументов: %w", err)
	}
	status, err := h.service.GetSessionStatus(ctx, args.SessionID)
	if err != nil {
		return "", err
	}
	lines := []string{
		fmt.Sprintf("Сессия %s: %s", status.SessionID, status.Status),
		fmt.Sprintf("Создана: %s", status.CreatedAt.UTC().Format(time.RFC3339)),
		fmt.Sprintf("Действует до: %s", status.ExpiresAt.UTC().Format(time.RFC3339)),
	}
	if status.SubmittedAt != nil {
		lines = append(lines, fmt.Sprintf("Ответ получен: %s", status.SubmittedAt.UTC().Format(time.RFC3339)))
	}
	return strings.Join(lines, "\n"), nil
}

func (h *Handler) getFeedbackResult(ctx context.Context, raw json.RawMessage) (string, error) {
	var args sessionIDArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("разбор аргументов: %w", err)
	}
	result, err := h.service.GetFeedbackResult(ctx, args.SessionID)
	if err != nil {
		return "", err
	}
	return formatResult(result), nil
}

func formatResult(result feedback.Result) string {
	return fmt.Sprintf("Ответ по сессии %s (получен %s):\n%s",
		result.SessionID,
		result.SubmittedAt.UTC().Format(time.RFC3339),
		result.Feedback.CombinedFeedback,
	)
}

func toolResponse(id any, text string) JSONRPCResponse {
	payload, _ := json.Marshal(map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
	})
	return JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: payload}
}

func errorResponse(id any, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &JSONRPCError{Code: code, Message: message}}
}

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv, "mcp")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	var notifier domain.Notifier = notify.Noop{}
	if cfg.AMQP.URL != "" {
		eventRelay, err := relay.NewAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange, logger.With().Str("component", "relay").Logger())
		if err != nil {
			logger.Fatal().Err(err).Msg("mcp: нет подключения к брокеру")
		}
		defer eventRelay.Close()
		notifier = eventRelay
	}

	service := feedback.NewService(
		store.NewRedis(redisClient),
		notifier,
		nil,
		logger.With().Str("component", "feedback").Logger(),
	)
	handler := NewHandler(service, cfg.BaseURL, logger)

	encoder := json.NewEncoder(os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var req JSONRPCRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			_ = encoder.Encode(errorResponse(nil, codeParseError, "разбор запроса: "+err.Error()))
			continue
		}
		// Уведомления без id не требуют ответа.
		if req.ID == nil && strings.HasPrefix(req.Method, "notifications/") {
			continue
		}
		if err := encoder.Encode(handler.HandleRequest(ctx, req)); err != nil {
			logger.Error().Err(err).Msg("mcp: запись ответа")
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Error().Err(err).Msg("mcp: чтение stdin")
	}
	logger.Info().Msg("mcp: stdin закрыт, завершение")
}
