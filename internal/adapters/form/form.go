// Package form отдаёт HTML-страницу сбора обратной связи: человек
// открывает ссылку сессии в браузере, видит вопрос и варианты ответа
// и отправляет форму в submit-эндпоинт API.
package form

import (
	"errors"
	"html/template"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"feedback-hub/internal/domain"
	"feedback-hub/internal/usecase/feedback"
)

// Handler рендерит страницу сессии.
type Handler struct {
	service *feedback.Service
	tmpl    *template.Template
	log     zerolog.Logger
}

// NewHandler создаёт обработчик страницы формы.
func NewHandler(service *feedback.Service, logger zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		tmpl:    template.Must(template.New("feedback").Parse(pageTemplate)),
		log:     logger,
	}
}

type pageData struct {
	SessionID         string
	Title             string
	Message           string
	AIContent         string
	PredefinedOptions []string
	Status            domain.SessionStatus
	ExpiresAt         string
	MaxFreeTextLength int
}

// ServeHTTP реализует http.Handler: GET /feedback/{sessionID}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.service.GetSession(r.Context(), sessionID)
	switch {
	case errors.Is(err, feedback.ErrSessionNotFound):
		http.Error(w, "сессия не найдена", http.StatusNotFound)
		return
	case err != nil:
		h.log.Error().Err(err).Str("session_id", sessionID).Msg("form: не удалось получить сессию")
		http.Error(w, "внутренняя ошибка", http.StatusInternalServerError)
		return
	}

	data := pageData{
		SessionID:         session.SessionID,
		Title:             session.Title,
		Message:           session.Message,
		AIContent:         session.AIContent,
		PredefinedOptions: session.PredefinedOptions,
		Status:            session.Status,
		ExpiresAt:         session.ExpiresAt.UTC().Format(time.RFC3339),
		MaxFreeTextLength: domain.MaxFreeTextLength,
	}
	if data.Title == "" {
		data.Title = "Обратная связь"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.tmpl.Execute(w, data); err != nil {
		h.log.Error().Err(err).Str("session_id", sessionID).Msg("form: рендер страницы")
	}
}

const pageTemplate = `<!DOCTYPE html>
<html lang="ru">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; max-width: 720px; margin: 2rem auto; padding: 0 1rem; color: #1a1a1a; }
h1 { font-size: 1.4rem; }
.message { white-space: pre-wrap; background: #f5f5f5; border-radius: 8px; padding: 1rem; }
.ai-content { white-space: pre-wrap; border-left: 3px solid #6b7280; padding: 0.5rem 1rem; margin: 1rem 0; color: #374151; }
.option { display: block; margin: 0.4rem 0; }
textarea { width: 100%; min-height: 6rem; margin-top: 0.5rem; font: inherit; }
button { margin-top: 1rem; padding: 0.6rem 1.4rem; font: inherit; cursor: pointer; }
.done { color: #166534; }
.expired { color: #991b1b; }
.error { color: #991b1b; margin-top: 0.5rem; }
.deadline { color: #6b7280; font-size: 0.85rem; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<div class="message">{{.Message}}</div>
{{if .AIContent}}<div class="ai-content">{{.AIContent}}</div>{{end}}

{{if eq .Status "completed"}}
<p class="done">Обратная связь уже отправлена. Спасибо!</p>
{{else if eq .Status "expired"}}
<p class="expired">Время ожидания ответа истекло.</p>
{{else}}
<form id="feedback-form">
{{range .PredefinedOptions}}
<label class="option"><input type="checkbox" name="option" value="{{.}}"> {{.}}</label>
{{end}}
<textarea name="freeText" maxlength="{{.MaxFreeTextLength}}" placeholder="Свободный комментарий"></textarea>
<button type="submit">Отправить</button>
<p class="error" id="error" hidden></p>
<p class="deadline">Сессия действует до {{.ExpiresAt}}</p>
</form>
<script>
document.getElementById("feedback-form").addEventListener("submit", async function (e) {
	e.preventDefault();
	var selected = Array.from(document.querySelectorAll('input[name="option"]:checked')).map(function (el) { return el.value; });
	var freeText = document.querySelector('textarea[name="freeText"]').value;
	var errEl = document.getElementById("error");
	errEl.hidden = true;
	try {
		var resp = await fetch("/api/feedback/{{.SessionID}}/submit", {
			method: "POST",
			headers: { "Content-Type": "application/json" },
			body: JSON.stringify({ selectedOptions: selected, freeText: freeText })
		});
		var body = await resp.json();
		if (body.success) {
			document.body.innerHTML = '<h1>Спасибо!</h1><p class="done">Обратная связь отправлена.</p>';
			return;
		}
		errEl.textContent = body.error && body.error.message ? body.error.message : "не удалось отправить";
		errEl.hidden = false;
	} catch (err) {
		errEl.textContent = "сеть недоступна, попробуйте ещё раз";
		errEl.hidden = false;
	}
});
</script>
{{end}}
</body>
</html>
`
