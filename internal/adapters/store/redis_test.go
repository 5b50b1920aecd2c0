package store

import (
	"testing"
	"time"
)

func TestSessionKeys(t *testing.T) {
	if sessionKey("abc") != "session:abc" {
		t.Fatalf("неверный ключ сессии: %s", sessionKey("abc"))
	}
	if submitKey("abc") != "session:submit:abc" {
		t.Fatalf("неверный ключ отметки: %s", submitKey("abc"))
	}
}

func TestClampTTL(t *testing.T) {
	cases := map[time.Duration]time.Duration{
		time.Second:      minBackendTTL,
		30 * time.Second: minBackendTTL,
		minBackendTTL:    minBackendTTL,
		time.Hour:        time.Hour,
	}
	for input, expected := range cases {
		if got := clampTTL(input); got != expected {
			t.Fatalf("clampTTL(%v): ожидали %v, получили %v", input, expected, got)
		}
	}
}
