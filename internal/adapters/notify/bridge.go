// Package notify содержит мост уведомлений: шов между менеджером
// сессий и приёмниками событий. Вызовы асинхронные, at-most-once,
// без повторов: потерянное уведомление не откатывает зафиксированное
// состояние сессии.
package notify

import (
	"github.com/rs/zerolog"

	"feedback-hub/internal/domain"
)

// Bridge размножает события по приёмникам, не блокируя вызывающего.
type Bridge struct {
	targets []domain.Notifier
	log     zerolog.Logger
}

var _ domain.Notifier = (*Bridge)(nil)

// NewBridge создаёт мост. nil-приёмники отбрасываются.
func NewBridge(logger zerolog.Logger, targets ...domain.Notifier) *Bridge {
	b := &Bridge{log: logger}
	for _, target := range targets {
		if target != nil {
			b.targets = append(b.targets, target)
		}
	}
	return b
}

// StatusChanged реализует domain.Notifier.
func (b *Bridge) StatusChanged(sessionID string, oldStatus, newStatus domain.SessionStatus) {
	b.dispatch(func(target domain.Notifier) {
		target.StatusChanged(sessionID, oldStatus, newStatus)
	})
}

// FeedbackSubmitted реализует domain.Notifier.
func (b *Bridge) FeedbackSubmitted(sessionID, preview string) {
	b.dispatch(func(target domain.Notifier) {
		target.FeedbackSubmitted(sessionID, preview)
	})
}

// SessionExpired реализует domain.Notifier.
func (b *Bridge) SessionExpired(sessionID, reason string) {
	b.dispatch(func(target domain.Notifier) {
		target.SessionExpired(sessionID, reason)
	})
}

func (b *Bridge) dispatch(fn func(target domain.Notifier)) {
	for _, target := range b.targets {
		go func(target domain.Notifier) {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error().Any("panic", r).Msg("notify: приёмник уведомлений упал")
				}
			}()
			fn(target)
		}(target)
	}
}

// Noop — заглушка для процессов без live-канала и брокера.
type Noop struct{}

var _ domain.Notifier = Noop{}

func (Noop) StatusChanged(string, domain.SessionStatus, domain.SessionStatus) {}
func (Noop) FeedbackSubmitted(string, string)                                 {}
func (Noop) SessionExpired(string, string)                                    {}
