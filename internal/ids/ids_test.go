package ids

import (
	"testing"
	"time"
)

func TestNewIsSortable(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewAt(at)
	b := NewAt(at)
	c := NewAt(at.Add(time.Second))
	if !(a < b && b < c) {
		t.Fatalf("ids not ordered: %s %s %s", a, b, c)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got, ok := Time(NewAt(at))
	if !ok {
		t.Fatal("expected id to parse")
	}
	if !got.Equal(at) {
		t.Fatalf("unexpected time: %v", got)
	}
	if _, ok := Time("not-an-id"); ok {
		t.Fatal("expected parse failure")
	}
}
