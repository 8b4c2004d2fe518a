// Package notify dispatches push notifications. The gateway treats every
// dispatch as best effort; Nop is the default when no broker is configured.
package notify

import "context"

// Kinds of notification emitted by gateway functions.
const (
	KindMessage            = "message"
	KindConversationInvite = "conversation_invite"
	KindEventCancelled     = "event_cancelled"
	KindRoomKicked         = "room_kicked"
)

type Notification struct {
	Kind    string            `json:"kind"`
	UserIDs []string          `json:"user_ids"`
	Title   string            `json:"title,omitempty"`
	Body    string            `json:"body,omitempty"`
	Data    map[string]string `json:"data,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notification) error

func (f Func) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }
