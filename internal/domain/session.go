package domain

import "time"

// SessionStatus описывает состояние сессии обратной связи.
type SessionStatus string

const (
	// StatusPending — сессия создана и ждёт ответа пользователя.
	StatusPending SessionStatus = "pending"
	// StatusCompleted — пользователь отправил обратную связь.
	StatusCompleted SessionStatus = "completed"
	// StatusExpired — срок действия сессии истёк без ответа.
	StatusExpired SessionStatus = "expired"
)

// Terminal сообщает, является ли статус конечным.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired
}

// Ограничения сессий обратной связи.
const (
	DefaultTimeoutSeconds = 300
	MinTimeoutSeconds     = 60
	MaxTimeoutSeconds     = 3600

	MaxMessageLength  = 1000
	MaxFreeTextLength = 1000
	MaxOptionsCount   = 10
	MaxOptionLength   = 100
)

// Сроки хранения записей после перехода в конечный статус.
const (
	// CompletedRetention — завершённая сессия хранится ещё час,
	// чтобы вызывающий успел забрать результат.
	CompletedRetention = time.Hour
	// ExpiredRetention — истёкшая сессия хранится ещё минуту,
	// чтобы запрос статуса вернул "expired", а не "not found".
	ExpiredRetention = time.Minute
)

// ClampTimeout приводит запрошенный тайм-аут к допустимому диапазону.
// Нулевое значение означает тайм-аут по умолчанию.
func ClampTimeout(seconds int) int {
	if seconds == 0 {
		seconds = DefaultTimeoutSeconds
	}
	if seconds < MinTimeoutSeconds {
		return MinTimeoutSeconds
	}
	if seconds > MaxTimeoutSeconds {
		return MaxTimeoutSeconds
	}
	return seconds
}

// Feedback содержит ответ пользователя по завершённой сессии.
type Feedback struct {
	SelectedOptions  []string `json:"selectedOptions,omitempty"`
	FreeText         string   `json:"freeText,omitempty"`
	CombinedFeedback string   `json:"combinedFeedback"`
}

// FeedbackSession представляет один запрос обратной связи от ИИ-агента.
// Инвариант: Status == StatusCompleted тогда и только тогда, когда
// заполнены Feedback и SubmittedAt.
type FeedbackSession struct {
	SessionID         string         `json:"sessionId"`
	Title             string         `json:"title,omitempty"`
	Message           string         `json:"message"`
	AIContent         string         `json:"aiContent,omitempty"`
	PredefinedOptions []string       `json:"predefinedOptions,omitempty"`
	Status            SessionStatus  `json:"status"`
	CreatedAt         time.Time      `json:"createdAt"`
	ExpiresAt         time.Time      `json:"expiresAt"`
	SubmittedAt       *time.Time     `json:"submittedAt,omitempty"`
	Feedback          *Feedback      `json:"feedback,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// ExpiredAt сообщает, истекла ли сессия к моменту now.
func (s FeedbackSession) ExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
