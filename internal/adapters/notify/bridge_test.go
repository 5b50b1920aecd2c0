package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"feedback-hub/internal/domain"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) StatusChanged(sessionID string, _, _ domain.SessionStatus) {
	n.add("status_changed:" + sessionID)
}

func (n *recordingNotifier) FeedbackSubmitted(sessionID, _ string) {
	n.add("feedback_submitted:" + sessionID)
}

func (n *recordingNotifier) SessionExpired(sessionID, _ string) {
	n.add("session_expired:" + sessionID)
}

func (n *recordingNotifier) add(event string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type panicNotifier struct{}

func (panicNotifier) StatusChanged(string, domain.SessionStatus, domain.SessionStatus) {
	panic("сломанный приёмник")
}
func (panicNotifier) FeedbackSubmitted(string, string) { panic("сломанный приёмник") }
func (panicNotifier) SessionExpired(string, string)    { panic("сломанный приёмник") }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("условие не выполнилось за отведённое время")
}

func TestBridgeFanOut(t *testing.T) {
	first := &recordingNotifier{}
	second := &recordingNotifier{}
	bridge := NewBridge(zerolog.Nop(), first, second, nil)

	bridge.StatusChanged("s1", domain.StatusPending, domain.StatusCompleted)
	bridge.FeedbackSubmitted("s1", "превью")
	bridge.SessionExpired("s2", "timeout")

	waitFor(t, func() bool { return first.count() == 3 && second.count() == 3 })
}

func TestBridgeSurvivesPanickingTarget(t *testing.T) {
	healthy := &recordingNotifier{}
	bridge := NewBridge(zerolog.Nop(), panicNotifier{}, healthy)

	bridge.StatusChanged("s1", domain.StatusPending, domain.StatusCompleted)
	waitFor(t, func() bool { return healthy.count() == 1 })
}
