// Package domain holds the core records written through the gateway and the
// Repository port that is the only path to persist them.
package domain

import (
	"slices"
	"time"
)

type User struct {
	ID          string    `json:"id"`
	AuthUserID  string    `json:"-"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

type Message struct {
	ID              string     `json:"id"`
	ConversationID  string     `json:"conversation_id"`
	SenderID        string     `json:"sender_id"`
	ClientMessageID string     `json:"client_message_id"`
	Body            string     `json:"body"`
	CreatedAt       time.Time  `json:"created_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

type EventStatus string

const (
	EventDraft     EventStatus = "draft"
	EventPublished EventStatus = "published"
	EventCancelled EventStatus = "cancelled"
	EventEnded     EventStatus = "ended"
)

type Event struct {
	ID            string      `json:"id"`
	HostID        string      `json:"host_id"`
	Title         string      `json:"title"`
	StartsAt      time.Time   `json:"starts_at"`
	Capacity      int         `json:"capacity"`
	Status        EventStatus `json:"status"`
	CheckinSecret []byte      `json:"-"`
	CreatedAt     time.Time   `json:"created_at"`
}

type TicketStatus string

const (
	TicketValid   TicketStatus = "valid"
	TicketRevoked TicketStatus = "revoked"
)

type Ticket struct {
	ID          string       `json:"id"`
	EventID     string       `json:"event_id"`
	OrderID     string       `json:"order_id,omitempty"`
	HolderID    string       `json:"holder_id"`
	QRToken     string       `json:"-"`
	Status      TicketStatus `json:"status"`
	CheckedInAt *time.Time   `json:"checked_in_at,omitempty"`
	CheckedInBy string       `json:"checked_in_by,omitempty"`
}

// CheckIn is one scan reported by a door device.
type CheckIn struct {
	EventID string
	QRToken string
	At      time.Time
	// By is the door label or staff user id recorded on the ticket.
	By string
}

type CheckInOutcome string

const (
	CheckedIn        CheckInOutcome = "checked_in"
	CheckInDuplicate CheckInOutcome = "duplicate"
	CheckInUnknown   CheckInOutcome = "unknown"
)

type HoldStatus string

const (
	HoldActive   HoldStatus = "active"
	HoldExpired  HoldStatus = "expired"
	HoldConsumed HoldStatus = "consumed"
)

// Hold is a time-boxed reservation of purchase capacity. Only an active hold
// whose ExpiresAt is still ahead counts against capacity.
type Hold struct {
	ID        string     `json:"id"`
	EventID   string     `json:"event_id"`
	UserID    string     `json:"user_id"`
	Quantity  int        `json:"quantity"`
	Status    HoldStatus `json:"status"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// Reserves reports whether h still holds capacity at now.
func (h Hold) Reserves(now time.Time) bool {
	return h.Status == HoldActive && h.ExpiresAt.After(now)
}

type OrderStatus string

const (
	OrderPaymentPending OrderStatus = "payment_pending"
	OrderPaid           OrderStatus = "paid"
	OrderPaymentFailed  OrderStatus = "payment_failed"
)

type Order struct {
	ID                string      `json:"id"`
	EventID           string      `json:"event_id"`
	UserID            string      `json:"user_id"`
	Status            OrderStatus `json:"status"`
	PaymentIntentID   string      `json:"payment_intent_id,omitempty"`
	CheckoutSessionID string      `json:"checkout_session_id,omitempty"`
	AmountCents       int64       `json:"amount_cents"`
	CreatedAt         time.Time   `json:"created_at"`
	PaidAt            *time.Time  `json:"paid_at,omitempty"`
}

// Timeline entry types and sources.
const (
	TimelineReconciled       = "reconciled"
	TimelineReconciledFailed = "reconciled_failed"
	TimelineWebhookPaid      = "webhook_paid"
	TimelineWebhookFailed    = "webhook_failed"

	SourceReconciliation = "reconciliation"
	SourceWebhook        = "webhook"
)

type TimelineEntry struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type RoomStatus string

const (
	RoomOpen  RoomStatus = "open"
	RoomEnded RoomStatus = "ended"
)

type RoomRole string

const (
	RoleHost      RoomRole = "host"
	RoleModerator RoomRole = "moderator"
	RoleSpeaker   RoomRole = "speaker"
	RoleListener  RoomRole = "listener"
)

type Room struct {
	ID        string     `json:"id"`
	HostID    string     `json:"host_id"`
	Status    RoomStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

type RoomMember struct {
	RoomID string   `json:"room_id"`
	UserID string   `json:"user_id"`
	Role   RoomRole `json:"role"`
}

// RoomEvent is an append-only log line for a room.
type RoomEvent struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	Kind      string    `json:"kind"`
	ActorID   string    `json:"actor_id"`
	TargetID  string    `json:"target_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CampaignStatus string

const (
	CampaignPending   CampaignStatus = "pending"
	CampaignActive    CampaignStatus = "active"
	CampaignCancelled CampaignStatus = "cancelled"
	CampaignCompleted CampaignStatus = "completed"
)

// CancellableCampaign lists statuses from which a campaign may be cancelled.
var CancellableCampaign = []CampaignStatus{CampaignActive, CampaignPending}

// CancellableEvent lists statuses from which an event may be cancelled.
var CancellableEvent = []EventStatus{EventDraft, EventPublished}

type Campaign struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"owner_id"`
	Name      string         `json:"name"`
	Status    CampaignStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

type CampaignEvent struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaign_id"`
	Kind       string    `json:"kind"`
	ActorID    string    `json:"actor_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// In reports whether s is one of set.
func In[S ~string](s S, set []S) bool {
	return slices.Contains(set, s)
}
