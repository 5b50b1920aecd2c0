package domain

import (
	"testing"
	"time"
)

func TestClampTimeout(t *testing.T) {
	cases := map[int]int{
		0:    DefaultTimeoutSeconds,
		10:   MinTimeoutSeconds,
		60:   60,
		300:  300,
		3600: 3600,
		7200: MaxTimeoutSeconds,
	}
	for input, expected := range cases {
		if got := ClampTimeout(input); got != expected {
			t.Fatalf("ClampTimeout(%d): ожидали %d, получили %d", input, expected, got)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusPending.Terminal() {
		t.Fatalf("pending не должен быть конечным")
	}
	if !StatusCompleted.Terminal() || !StatusExpired.Terminal() {
		t.Fatalf("completed и expired должны быть конечными")
	}
}

func TestSessionExpiredAt(t *testing.T) {
	now := time.Now()
	session := FeedbackSession{ExpiresAt: now.Add(time.Minute)}
	if session.ExpiredAt(now) {
		t.Fatalf("сессия ещё не истекла")
	}
	if !session.ExpiredAt(now.Add(61 * time.Second)) {
		t.Fatalf("сессия должна была истечь")
	}
}
