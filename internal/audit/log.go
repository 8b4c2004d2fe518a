// Package audit records who did what to check-in data: allowlist downloads
// and scan uploads. Entries go to the shared JSON log with type "audit".
package audit

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"turnstile.app/internal/auth"
	"turnstile.app/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// Events.
const (
	AllowlistDownloaded = "checkin.allowlist_downloaded"
	ScansSynced         = "checkin.scans_synced"
)

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with the request id and the
// authenticated identity found in ctx.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":     time.Now().UTC().Format(time.RFC3339Nano),
		"type":   "audit",
		"event":  event,
		"fields": map[string]any{},
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if id, ok := auth.IdentityFromContext(ctx); ok {
		entry["user_id"] = id.UserID
		entry["session_id"] = id.SessionID
	}
	if len(fields) > 0 {
		entry["fields"] = maps.Clone(fields)
	}
	obs.LogRequest(entry)
	return nil
}
