package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"turnstile.app/internal/auth"
	"turnstile.app/internal/obs"
)

func TestLogEvent(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = auth.ContextWithIdentity(ctx, auth.Identity{UserID: "user-42", SessionID: "sess-1"})

	if err := LogEvent(ctx, AllowlistDownloaded, map[string]any{"event_id": "e1", "entries": 5}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" || entry["event"] != AllowlistDownloaded {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["request_id"] != "req-123" || entry["user_id"] != "user-42" || entry["session_id"] != "sess-1" {
		t.Fatalf("missing context fields: %v", entry)
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["event_id"] != "e1" || fields["entries"] != float64(5) {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event")
	}
}
