package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"feedback-hub/internal/domain"
)

// journal фиксирует доставку событий по всем отправителям,
// чтобы проверять порядок рассылки.
type journal struct {
	mu      sync.Mutex
	entries []journalEntry
}

type journalEntry struct {
	sender string
	event  string
}

func (j *journal) add(sender, event string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, journalEntry{sender: sender, event: event})
}

func (j *journal) ofEvent(event string) []journalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []journalEntry
	for _, e := range j.entries {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type fakeSender struct {
	name     string
	journal  *journal
	mu       sync.Mutex
	payloads [][]byte
	failSend bool
	closed   bool
}

func (s *fakeSender) Send(_ context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSend {
		return errors.New("транспорт закрыт")
	}
	s.payloads = append(s.payloads, payload)
	if s.journal != nil {
		var envelope domain.Envelope
		_ = json.Unmarshal(payload, &envelope)
		s.journal.add(s.name, envelope.Type)
	}
	return nil
}

func (s *fakeSender) Close(string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSender) events(t *testing.T) []string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var types []string
	for _, payload := range s.payloads {
		var envelope domain.Envelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			t.Fatalf("не удалось разобрать конверт: %v", err)
		}
		types = append(types, envelope.Type)
	}
	return types
}

func (s *fakeSender) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func hasEvent(events []string, event string) bool {
	for _, e := range events {
		if e == event {
			return true
		}
	}
	return false
}

func TestAcceptPushesConnectionEstablished(t *testing.T) {
	h := startHub(t)
	sender := &fakeSender{}
	id, err := h.Accept("session-x", KindWeb, true, sender)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	events := sender.events(t)
	if len(events) != 1 || events[0] != domain.EventConnectionEstablished {
		t.Fatalf("ожидали connection_established, получили %v", events)
	}

	var envelope struct {
		Data domain.ConnectionEstablishedData `json:"data"`
	}
	if err := json.Unmarshal(sender.payloads[0], &envelope); err != nil {
		t.Fatalf("не удалось разобрать данные: %v", err)
	}
	if envelope.Data.ClientID != id || envelope.Data.SessionID != "session-x" {
		t.Fatalf("неверные данные подтверждения: %+v", envelope.Data)
	}
}

func TestAcceptUnauthorized(t *testing.T) {
	h := startHub(t)
	if _, err := h.Accept("", KindWeb, true, &fakeSender{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("пустой sessionId должен отклоняться: %v", err)
	}
	if _, err := h.Accept("session-x", KindWeb, false, &fakeSender{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("неавторизованное соединение должно отклоняться: %v", err)
	}
	if h.Stats().TotalConnections != 0 {
		t.Fatalf("отклонённые соединения не должны регистрироваться")
	}
}

func TestBroadcastIsolation(t *testing.T) {
	h := startHub(t)
	j := &journal{}
	firstX := &fakeSender{name: "x1", journal: j}
	secondX := &fakeSender{name: "x2", journal: j}
	onlyY := &fakeSender{name: "y1", journal: j}

	if _, err := h.Accept("session-x", KindWeb, true, firstX); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := h.Accept("session-x", KindApp, true, secondX); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := h.Accept("session-y", KindWeb, true, onlyY); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	h.StatusChanged("session-x", domain.StatusPending, domain.StatusCompleted)
	h.Stats() // барьер: актор обработал рассылку

	delivered := j.ofEvent(domain.EventSessionStatusChanged)
	if len(delivered) != 2 {
		t.Fatalf("событие должно дойти ровно до двух соединений X, дошло до %d", len(delivered))
	}
	if delivered[0].sender != "x1" || delivered[1].sender != "x2" {
		t.Fatalf("рассылка должна идти в порядке регистрации: %v", delivered)
	}
	if hasEvent(onlyY.events(t), domain.EventSessionStatusChanged) {
		t.Fatalf("событие сессии X не должно доходить до соединения Y")
	}
}

func TestPingPong(t *testing.T) {
	h := startHub(t)
	sender := &fakeSender{}
	id, err := h.Accept("session-x", KindWeb, true, sender)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	h.Message(id, []byte(`{"type":"ping"}`))
	if events := sender.events(t); !hasEvent(events, domain.EventPong) {
		t.Fatalf("ожидали pong, получили %v", events)
	}
}

func TestAppRegister(t *testing.T) {
	h := startHub(t)
	sender := &fakeSender{}
	id, err := h.Accept("session-x", KindApp, true, sender)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	h.Message(id, []byte(`{"type":"app_register","data":{"platform":"ios","appVersion":"1.2.0"}}`))
	if events := sender.events(t); !hasEvent(events, domain.EventAppRegistrationConfirmed) {
		t.Fatalf("ожидали подтверждение регистрации, получили %v", events)
	}
}

func TestMalformedMessage(t *testing.T) {
	h := startHub(t)
	sender := &fakeSender{}
	id, err := h.Accept("session-x", KindWeb, true, sender)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	h.Message(id, []byte(`{не json`))
	events := sender.events(t)
	if !hasEvent(events, domain.EventError) {
		t.Fatalf("ожидали событие error, получили %v", events)
	}
	var envelope struct {
		Data domain.ErrorData `json:"data"`
	}
	if err := json.Unmarshal(sender.payloads[len(sender.payloads)-1], &envelope); err != nil {
		t.Fatalf("не удалось разобрать данные: %v", err)
	}
	if envelope.Data.Code != "MESSAGE_PARSE_ERROR" {
		t.Fatalf("ожидали код MESSAGE_PARSE_ERROR, получили %s", envelope.Data.Code)
	}
}

func TestUnknownMessageIgnored(t *testing.T) {
	h := startHub(t)
	sender := &fakeSender{}
	id, err := h.Accept("session-x", KindWeb, true, sender)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	h.Message(id, []byte(`{"type":"unknown_kind"}`))
	if events := sender.events(t); len(events) != 1 {
		t.Fatalf("неизвестный тип не должен порождать ответ: %v", events)
	}
}

func TestSweepEvictsIdle(t *testing.T) {
	h := startHub(t)
	idle := &fakeSender{}
	active := &fakeSender{}
	idleID, err := h.Accept("session-x", KindWeb, true, idle)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	activeID, err := h.Accept("session-x", KindWeb, true, active)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	_ = idleID

	// Активное соединение подало признак жизни позже.
	future := time.Now().Add(4 * time.Minute)
	h.do(func() {
		h.conns[activeID].lastActivity = future
	})

	h.do(func() { h.sweep(time.Now().Add(6 * time.Minute)) })

	stats := h.Stats()
	if stats.TotalConnections != 1 {
		t.Fatalf("ожидали одно живое соединение, получили %d", stats.TotalConnections)
	}
	if !idle.isClosed() {
		t.Fatalf("неактивное соединение должно быть закрыто")
	}

	h.StatusChanged("session-x", domain.StatusPending, domain.StatusCompleted)
	h.Stats()
	if hasEvent(idle.events(t), domain.EventSessionStatusChanged) {
		t.Fatalf("выселенное соединение не должно получать события")
	}
	if !hasEvent(active.events(t), domain.EventSessionStatusChanged) {
		t.Fatalf("живое соединение должно получать события")
	}
}

func TestSendFailureRemovesConnection(t *testing.T) {
	h := startHub(t)
	healthy := &fakeSender{}
	broken := &fakeSender{failSend: true}

	// Отказавший транспорт отваливается уже на приветствии.
	if _, err := h.Accept("session-x", KindWeb, true, broken); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := h.Accept("session-x", KindWeb, true, healthy); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	stats := h.Stats()
	if stats.TotalConnections != 1 {
		t.Fatalf("отказавшее соединение должно быть убрано, осталось %d", stats.TotalConnections)
	}

	h.FeedbackSubmitted("session-x", "превью")
	h.Stats()
	if !hasEvent(healthy.events(t), domain.EventFeedbackSubmitted) {
		t.Fatalf("живое соединение должно получить событие")
	}
}

func TestCloseConnRemoves(t *testing.T) {
	h := startHub(t)
	sender := &fakeSender{}
	id, err := h.Accept("session-x", KindWeb, true, sender)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	h.CloseConn(id)
	if h.Stats().TotalConnections != 0 {
		t.Fatalf("соединение должно быть убрано из реестра")
	}
}

func TestStats(t *testing.T) {
	h := startHub(t)
	if _, err := h.Accept("session-x", KindWeb, true, &fakeSender{}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := h.Accept("session-x", KindApp, true, &fakeSender{}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := h.Accept("session-y", KindWeb, true, &fakeSender{}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	stats := h.Stats()
	if stats.TotalConnections != 3 {
		t.Fatalf("ожидали 3 соединения, получили %d", stats.TotalConnections)
	}
	if stats.SessionCounts["session-x"] != 2 || stats.SessionCounts["session-y"] != 1 {
		t.Fatalf("неверная разбивка по сессиям: %v", stats.SessionCounts)
	}
	if stats.ClientKinds[KindWeb] != 2 || stats.ClientKinds[KindApp] != 1 {
		t.Fatalf("неверная разбивка по клиентам: %v", stats.ClientKinds)
	}
}
