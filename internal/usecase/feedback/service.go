package feedback

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"feedback-hub/internal/domain"
	"feedback-hub/internal/infra/metrics"
)

// Ошибки жизненного цикла сессии. Это ожидаемые бизнес-исходы,
// возвращаемые вызывающему как типизированные значения.
var (
	ErrSessionNotFound  = errors.New("сессия не найдена")
	ErrSessionExpired   = errors.New("сессия истекла")
	ErrAlreadySubmitted = errors.New("обратная связь уже отправлена")
	ErrNoFeedback       = errors.New("результат обратной связи недоступен")
)

const previewLength = 100

// auditTimeout ограничивает фоновые записи в аудит.
const auditTimeout = 5 * time.Second

// CreateRequest — параметры создания сессии.
type CreateRequest struct {
	Title             string
	Message           string
	AIContent         string
	PredefinedOptions []string
	TimeoutSeconds    int
	Metadata          map[string]any
	// Source помечает происхождение сессии в аудите (api, mcp-tool).
	Source string
}

// CreateResult — результат создания сессии.
type CreateResult struct {
	SessionID string
	ExpiresAt time.Time
}

// StatusResult — проекция статуса сессии.
type StatusResult struct {
	SessionID   string
	Status      domain.SessionStatus
	CreatedAt   time.Time
	ExpiresAt   time.Time
	SubmittedAt *time.Time
}

// SubmitRequest — параметры отправки обратной связи.
type SubmitRequest struct {
	SelectedOptions []string
	FreeText        string
	Metadata        map[string]any
}

// SubmitResult — результат отправки обратной связи.
type SubmitResult struct {
	SessionID   string
	Status      domain.SessionStatus
	SubmittedAt time.Time
}

// Result — результат завершённой сессии.
type Result struct {
	SessionID   string
	Feedback    domain.Feedback
	SubmittedAt time.Time
	Metadata    map[string]any
}

// ListItem — позиция административного листинга сессий.
type ListItem struct {
	SessionID    string
	Title        string
	Message      string
	Status       domain.SessionStatus
	CreatedAt    time.Time
	ExpiresAt    time.Time
	SubmittedAt  *time.Time
	HasAIContent bool
}

// ListResult — листинг сессий со сводкой по статусам.
type ListResult struct {
	Items     []ListItem
	Total     int
	Pending   int
	Completed int
}

// Service реализует жизненный цикл сессий обратной связи.
type Service struct {
	store    domain.SessionStore
	notifier domain.Notifier
	audit    domain.AuditRepo
	log      zerolog.Logger
	now      func() time.Time
}

// NewService создаёт менеджер сессий. audit может быть nil.
func NewService(store domain.SessionStore, notifier domain.Notifier, audit domain.AuditRepo, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		audit:    audit,
		log:      logger,
		now:      time.Now,
	}
}

// CreateSession создаёт сессию и сохраняет её с TTL,
// равным запрошенному тайм-ауту после приведения к диапазону.
func (s *Service) CreateSession(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if err := validateCreateRequest(req); err != nil {
		return CreateResult{}, err
	}

	timeout := domain.ClampTimeout(req.TimeoutSeconds)
	now := s.now().UTC()
	session := domain.FeedbackSession{
		SessionID:         uuid.NewString(),
		Title:             strings.TrimSpace(req.Title),
		Message:           req.Message,
		AIContent:         req.AIContent,
		PredefinedOptions: req.PredefinedOptions,
		Status:            domain.StatusPending,
		CreatedAt:         now,
		ExpiresAt:         now.Add(time.Duration(timeout) * time.Second),
		Metadata:          req.Metadata,
	}

	if err := s.store.SaveSession(ctx, session, time.Duration(timeout)*time.Second); err != nil {
		return CreateResult{}, fmt.Errorf("создание сессии: %w", err)
	}

	metrics.SessionsCreated.Inc()
	s.auditAsync(func(ctx context.Context) error {
		return s.audit.RecordSessionCreated(ctx, session, req.Source)
	})

	return CreateResult{SessionID: session.SessionID, ExpiresAt: session.ExpiresAt}, nil
}

// GetSession читает сессию и лениво фиксирует истечение: Pending-сессия
// с прошедшим expiresAt перезаписывается как Expired с коротким
// остаточным TTL, чтобы запрос статуса после истечения вернул
// "expired", а не "not found". Перезапись идемпотентна.
func (s *Service) GetSession(ctx context.Context, sessionID string) (domain.FeedbackSession, error) {
	session, err := s.store.LoadSession(ctx, sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return domain.FeedbackSession{}, ErrSessionNotFound
	}
	if err != nil {
		return domain.FeedbackSession{}, fmt.Errorf("получение сессии: %w", err)
	}

	if session.Status == domain.StatusPending && session.ExpiredAt(s.now()) {
		session.Status = domain.StatusExpired
		if err := s.store.SaveSession(ctx, session, domain.ExpiredRetention); err != nil {
			// Фиксация не обязана успеть: статус уже выведен из
			// expiresAt и будет выведен снова при следующем чтении.
			s.log.Warn().Err(err).Str("session_id", sessionID).Msg("feedback: не удалось зафиксировать истечение")
		}
		metrics.SessionsExpired.Inc()
		s.notifier.SessionExpired(sessionID, "timeout")
		s.auditAsync(func(ctx context.Context) error {
			return s.audit.RecordStatusChange(ctx, sessionID, domain.StatusExpired, nil)
		})
	}

	return session, nil
}

// GetSessionStatus возвращает проекцию статуса сессии.
func (s *Service) GetSessionStatus(ctx context.Context, sessionID string) (StatusResult, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return StatusResult{}, err
	}
	return StatusResult{
		SessionID:   session.SessionID,
		Status:      session.Status,
		CreatedAt:   session.CreatedAt,
		ExpiresAt:   session.ExpiresAt,
		SubmittedAt: session.SubmittedAt,
	}, nil
}

// SubmitFeedback валидирует и принимает обратную связь. Переход
// Pending→Completed выполняется ровно один раз: перед записью ставится
// атомарная отметка отправки, проигравший конкурентный вызов получает
// ErrAlreadySubmitted.
func (s *Service) SubmitFeedback(ctx context.Context, sessionID string, req SubmitRequest) (SubmitResult, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return SubmitResult{}, err
	}

	switch session.Status {
	case domain.StatusCompleted:
		return SubmitResult{}, ErrAlreadySubmitted
	case domain.StatusExpired:
		return SubmitResult{}, ErrSessionExpired
	}
	if session.ExpiredAt(s.now()) {
		return SubmitResult{}, ErrSessionExpired
	}

	if err := validateSubmitRequest(req, session); err != nil {
		return SubmitResult{}, err
	}

	acquired, err := s.store.AcquireSubmitMark(ctx, sessionID, domain.CompletedRetention)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("отправка обратной связи: %w", err)
	}
	if !acquired {
		return SubmitResult{}, ErrAlreadySubmitted
	}

	submittedAt := s.now().UTC()
	combined := combineFeedback(req.SelectedOptions, req.FreeText)
	session.Feedback = &domain.Feedback{
		SelectedOptions:  req.SelectedOptions,
		FreeText:         req.FreeText,
		CombinedFeedback: combined,
	}
	session.Status = domain.StatusCompleted
	session.SubmittedAt = &submittedAt
	session.Metadata = mergeMetadata(session.Metadata, req.Metadata)

	if err := s.store.SaveSession(ctx, session, domain.CompletedRetention); err != nil {
		// Запись не состоялась: отметку надо снять, иначе повторная
		// попытка упрётся в ErrAlreadySubmitted при живой pending-сессии.
		if releaseErr := s.store.ReleaseSubmitMark(ctx, sessionID); releaseErr != nil {
			s.log.Warn().Err(releaseErr).Str("session_id", sessionID).Msg("feedback: не удалось снять отметку отправки")
		}
		return SubmitResult{}, fmt.Errorf("сохранение обратной связи: %w", err)
	}

	metrics.SessionsCompleted.Inc()
	s.notifier.StatusChanged(sessionID, domain.StatusPending, domain.StatusCompleted)
	s.notifier.FeedbackSubmitted(sessionID, preview(combined))
	s.auditAsync(func(ctx context.Context) error {
		if err := s.audit.RecordStatusChange(ctx, sessionID, domain.StatusCompleted, &submittedAt); err != nil {
			return err
		}
		return s.audit.RecordSubmission(ctx, sessionID, *session.Feedback, submittedAt)
	})

	return SubmitResult{SessionID: sessionID, Status: domain.StatusCompleted, SubmittedAt: submittedAt}, nil
}

// GetFeedbackResult возвращает результат завершённой сессии.
func (s *Service) GetFeedbackResult(ctx context.Context, sessionID string) (Result, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	if session.Status != domain.StatusCompleted || session.Feedback == nil || session.SubmittedAt == nil {
		return Result{}, ErrNoFeedback
	}
	return Result{
		SessionID:   session.SessionID,
		Feedback:    *session.Feedback,
		SubmittedAt: *session.SubmittedAt,
		Metadata:    session.Metadata,
	}, nil
}

// ListSessions возвращает хранимые сессии, отсортированные по времени
// создания по убыванию, с опциональным фильтром по статусу. Сводка
// по статусам считается до применения фильтра и лимита.
func (s *Service) ListSessions(ctx context.Context, statusFilter domain.SessionStatus, limit int) (ListResult, error) {
	ids, err := s.store.ListSessionIDs(ctx)
	if err != nil {
		return ListResult{}, fmt.Errorf("листинг сессий: %w", err)
	}
	if limit <= 0 {
		limit = 50
	}

	var sessions []domain.FeedbackSession
	for _, id := range ids {
		session, err := s.GetSession(ctx, id)
		if err != nil {
			// Запись могла истечь между Scan и Get.
			if errors.Is(err, ErrSessionNotFound) {
				continue
			}
			s.log.Warn().Err(err).Str("session_id", id).Msg("feedback: пропущена запись листинга")
			continue
		}
		sessions = append(sessions, session)
	}

	result := ListResult{Total: len(sessions)}
	for _, session := range sessions {
		switch session.Status {
		case domain.StatusPending:
			result.Pending++
		case domain.StatusCompleted:
			result.Completed++
		}
	}

	filtered := sessions
	if statusFilter != "" {
		filtered = nil
		for _, session := range sessions {
			if session.Status == statusFilter {
				filtered = append(filtered, session)
			}
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}

	for _, session := range filtered {
		result.Items = append(result.Items, ListItem{
			SessionID:    session.SessionID,
			Title:        session.Title,
			Message:      session.Message,
			Status:       session.Status,
			CreatedAt:    session.CreatedAt,
			ExpiresAt:    session.ExpiresAt,
			SubmittedAt:  session.SubmittedAt,
			HasAIContent: session.AIContent != "",
		})
	}
	return result, nil
}

// combineFeedback склеивает выбранные варианты и свободный текст:
// варианты построчно, затем пустая строка и обрезанный текст;
// пустые сегменты опускаются.
func combineFeedback(selectedOptions []string, freeText string) string {
	var parts []string
	if len(selectedOptions) > 0 {
		parts = append(parts, strings.Join(selectedOptions, "\n"))
	}
	if trimmed := strings.TrimSpace(freeText); trimmed != "" {
		parts = append(parts, trimmed)
	}
	return strings.Join(parts, "\n\n")
}

func mergeMetadata(base, overlay map[string]any) map[string]any {
	if len(overlay) == 0 {
		return base
	}
	merged := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

func preview(combined string) string {
	runes := []rune(combined)
	if len(runes) <= previewLength {
		return combined
	}
	return string(runes[:previewLength]) + "..."
}

func (s *Service) auditAsync(fn func(ctx context.Context) error) {
	if s.audit == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.log.Warn().Err(err).Msg("feedback: запись в аудит не удалась")
		}
	}()
}
