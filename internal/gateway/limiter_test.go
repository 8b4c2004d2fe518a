package gateway

import (
	"testing"
	"time"
)

func TestUserLimiterRefills(t *testing.T) {
	at := now
	l := newUserLimiter(2, 2, func() time.Time { return at })

	for i := 0; i < 2; i++ {
		if ok, _ := l.allow("u1"); !ok {
			t.Fatalf("call %d within burst was denied", i)
		}
	}
	ok, wait := l.allow("u1")
	if ok || wait != 500*time.Millisecond {
		t.Fatalf("expected denial with 500ms wait, got %v %v", ok, wait)
	}
	if ok, _ := l.allow("u2"); !ok {
		t.Fatalf("buckets must be per user")
	}

	at = at.Add(500 * time.Millisecond)
	if ok, _ := l.allow("u1"); !ok {
		t.Fatalf("expected a token after refill")
	}
}

func TestUserLimiterDropsIdleBuckets(t *testing.T) {
	at := now
	l := newUserLimiter(1, 1, func() time.Time { return at })
	l.allow("u1")
	at = at.Add(limiterIdleTTL + 2*time.Minute)
	l.allow("u2")

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.buckets["u1"]; ok {
		t.Fatalf("idle bucket was not swept")
	}
}
