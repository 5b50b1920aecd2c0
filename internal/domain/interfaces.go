package domain

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound возвращается хранилищем, когда записи нет.
var ErrSessionNotFound = errors.New("сессия не найдена")

// SessionStore — контракт key-value хранилища сессий с TTL.
// Хранилище владеет сериализованной формой записи; TTL — лишь страховка
// для освобождения памяти, источником истины по истечению остаётся
// менеджер сессий.
type SessionStore interface {
	SaveSession(ctx context.Context, session FeedbackSession, ttl time.Duration) error
	LoadSession(ctx context.Context, sessionID string) (FeedbackSession, error)
	// AcquireSubmitMark атомарно помечает сессию как принимающую
	// отправку. Возвращает false, если отметка уже стоит.
	AcquireSubmitMark(ctx context.Context, sessionID string, ttl time.Duration) (bool, error)
	// ReleaseSubmitMark снимает отметку, если запись отправки не
	// состоялась, возвращая сессии право принять повторную попытку.
	ReleaseSubmitMark(ctx context.Context, sessionID string) error
	ListSessionIDs(ctx context.Context) ([]string, error)
}

// Notifier рассылает события жизненного цикла сессии. Вызовы не
// блокируют и не возвращают ошибок: доставка best-effort, неудача
// логируется и не откатывает состояние сессии.
type Notifier interface {
	StatusChanged(sessionID string, oldStatus, newStatus SessionStatus)
	FeedbackSubmitted(sessionID, preview string)
	SessionExpired(sessionID, reason string)
}

// SessionAuditRow — строка истории сессий в аудит-хранилище.
type SessionAuditRow struct {
	SessionID   string
	Title       string
	Message     string
	Status      SessionStatus
	Source      string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	SubmittedAt *time.Time
}

// AuditRepo пишет историю сессий для отчётности. Ядро не зависит от
// его доступности: ошибки записи логируются и не влияют на результат.
type AuditRepo interface {
	RecordSessionCreated(ctx context.Context, session FeedbackSession, source string) error
	RecordStatusChange(ctx context.Context, sessionID string, status SessionStatus, submittedAt *time.Time) error
	RecordSubmission(ctx context.Context, sessionID string, feedback Feedback, submittedAt time.Time) error
	ListSessionHistory(ctx context.Context, limit, offset int) ([]SessionAuditRow, error)
}

// ConnectionStats — срез состояния реестра live-соединений.
type ConnectionStats struct {
	TotalConnections int            `json:"totalConnections"`
	SessionCounts    map[string]int `json:"sessionCounts"`
	ClientKinds      map[string]int `json:"clientKinds"`
}
