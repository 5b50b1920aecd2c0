// Package repo пишет историю сессий обратной связи в Postgres.
// Аудит не лежит на критическом пути: ядро работает и без него.
package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"feedback-hub/internal/domain"
	"feedback-hub/internal/infra/metrics"
)

// Postgres реализует domain.AuditRepo на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.AuditRepo = (*Postgres)(nil)

// NewPostgres создаёт адаптер аудита.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// RecordSessionCreated сохраняет созданную сессию в историю.
func (p *Postgres) RecordSessionCreated(ctx context.Context, session domain.FeedbackSession, source string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var payload []byte
	if session.Metadata != nil {
		if data, err := json.Marshal(session.Metadata); err == nil {
			payload = data
		}
	}
	if source == "" {
		source = "api"
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO feedback_sessions (id, title, message, status, source, metadata, created_at, expires_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
ON CONFLICT (id) DO NOTHING
`, session.SessionID, session.Title, session.Message, string(session.Status), source, payload, session.CreatedAt, session.ExpiresAt)
	metrics.ObserveNetworkRequest("postgres", "session_insert", "feedback_sessions", start, err)
	return err
}

// RecordStatusChange обновляет статус сессии в истории.
func (p *Postgres) RecordStatusChange(ctx context.Context, sessionID string, status domain.SessionStatus, submittedAt *time.Time) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var submitted sql.NullTime
	if submittedAt != nil {
		submitted = sql.NullTime{Time: *submittedAt, Valid: true}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE feedback_sessions
SET status = $2, submitted_at = $3, updated_at = now()
WHERE id = $1
`, sessionID, string(status), submitted)
	metrics.ObserveNetworkRequest("postgres", "session_status_update", "feedback_sessions", start, err)
	return err
}

// RecordSubmission сохраняет содержимое отправленной обратной связи.
func (p *Postgres) RecordSubmission(ctx context.Context, sessionID string, feedback domain.Feedback, submittedAt time.Time) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var options []byte
	if feedback.SelectedOptions != nil {
		if data, err := json.Marshal(feedback.SelectedOptions); err == nil {
			options = data
		}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO feedback_responses (session_id, selected_options, free_text, combined_feedback, submitted_at)
VALUES ($1, $2, $3, $4, $5)
`, sessionID, options, feedback.FreeText, feedback.CombinedFeedback, submittedAt)
	metrics.ObserveNetworkRequest("postgres", "response_insert", "feedback_responses", start, err)
	return err
}

// ListSessionHistory возвращает историю сессий по убыванию создания.
func (p *Postgres) ListSessionHistory(ctx context.Context, limit, offset int) ([]domain.SessionAuditRow, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, title, message, status, source, created_at, expires_at, submitted_at
FROM feedback_sessions
ORDER BY created_at DESC
LIMIT $1 OFFSET $2
`, limit, offset)
	metrics.ObserveNetworkRequest("postgres", "session_history", "feedback_sessions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []domain.SessionAuditRow
	for rows.Next() {
		var row domain.SessionAuditRow
		var status string
		var submitted sql.NullTime
		if err := rows.Scan(&row.SessionID, &row.Title, &row.Message, &status, &row.Source, &row.CreatedAt, &row.ExpiresAt, &submitted); err != nil {
			return nil, err
		}
		row.Status = domain.SessionStatus(status)
		if submitted.Valid {
			row.SubmittedAt = &submitted.Time
		}
		history = append(history, row)
	}
	return history, rows.Err()
}
