package domain

import (
	"context"
	"time"
)

// Repository is the single write path to core tables. Gateway functions and
// the reconciliation job depend on it; nothing else issues write statements.
// State transitions are compare-and-swap: methods returning (bool, error)
// report false when no row was in an allowed source state.
type Repository interface {
	Users
	Messaging
	Events
	Rooms
	Campaigns
	Orders
}

type Users interface {
	User(ctx context.Context, id string) (User, error)
	// MissingUsers returns the ids in ids that have no user row.
	MissingUsers(ctx context.Context, ids []string) ([]string, error)
	SetAvatar(ctx context.Context, userID, avatarURL string) error
}

type Messaging interface {
	Conversation(ctx context.Context, id string) (Conversation, error)
	ConversationMembers(ctx context.Context, id string) ([]string, error)
	IsConversationMember(ctx context.Context, conversationID, userID string) (bool, error)
	CreateConversation(ctx context.Context, conv Conversation, memberIDs []string) (Conversation, error)
	// InsertMessage is idempotent on (sender, client message id); created is
	// false when an earlier insert already stored it, and the stored message
	// is returned.
	InsertMessage(ctx context.Context, m Message) (stored Message, created bool, err error)
	Message(ctx context.Context, id string) (Message, error)
	SoftDeleteMessage(ctx context.Context, id string, at time.Time) (bool, error)
}

type Events interface {
	Event(ctx context.Context, id string) (Event, error)
	CreateEvent(ctx context.Context, e Event) (Event, error)
	TransitionEvent(ctx context.Context, id string, from []EventStatus, to EventStatus) (bool, error)
	// AssignCheckinSecret sets the secret only if none is set yet.
	AssignCheckinSecret(ctx context.Context, eventID string, secret []byte) (bool, error)
	IsEventStaff(ctx context.Context, eventID, userID string) (bool, error)
	ValidTickets(ctx context.Context, eventID string) ([]Ticket, error)
	TicketHolders(ctx context.Context, eventID string) ([]string, error)
	// CheckIn marks the ticket matching the scan as checked in once.
	CheckIn(ctx context.Context, c CheckIn) (CheckInOutcome, string, error)
	// CreateHold inserts h when unreserved capacity at now covers h.Quantity,
	// else ErrCapacity.
	CreateHold(ctx context.Context, h Hold, now time.Time) (Hold, error)
	ExpireEventHolds(ctx context.Context, eventID string) (int64, error)
}

type Rooms interface {
	Room(ctx context.Context, id string) (Room, error)
	RoomMember(ctx context.Context, roomID, userID string) (RoomMember, error)
	RemoveRoomMember(ctx context.Context, roomID, userID string) (bool, error)
	EndRoom(ctx context.Context, roomID string, at time.Time) (bool, error)
	ClearRoomMembers(ctx context.Context, roomID string) (int64, error)
	AppendRoomEvent(ctx context.Context, ev RoomEvent) error
}

type Campaigns interface {
	Campaign(ctx context.Context, id string) (Campaign, error)
	TransitionCampaign(ctx context.Context, id string, from []CampaignStatus, to CampaignStatus) (bool, error)
	AppendCampaignEvent(ctx context.Context, ev CampaignEvent) error
}

const (
	DefaultOrderPage = 200
	MaxOrderPage     = 1000
)

// OrderCursor is a keyset position in (created_at, id) order. The zero
// value starts from the beginning.
type OrderCursor struct {
	CreatedAt time.Time
	ID        string
}

// After reports whether o sorts strictly after c.
func (c OrderCursor) After(o Order) bool {
	if o.CreatedAt.Equal(c.CreatedAt) {
		return o.ID > c.ID
	}
	return o.CreatedAt.After(c.CreatedAt)
}

// ClampOrderPage normalizes a page size for StuckOrders.
func ClampOrderPage(n int) int {
	switch {
	case n <= 0:
		return DefaultOrderPage
	case n > MaxOrderPage:
		return MaxOrderPage
	}
	return n
}

type Orders interface {
	Order(ctx context.Context, id string) (Order, error)
	OrderByPaymentRef(ctx context.Context, paymentIntentID, checkoutSessionID string) (Order, error)
	OrderTimeline(ctx context.Context, orderID string) ([]TimelineEntry, error)
	// ExpireHolds moves active holds past their expiry to expired.
	ExpireHolds(ctx context.Context, now time.Time) (int64, error)
	// StuckOrders pages payment_pending orders created before createdBefore
	// in (created_at, id) order, strictly after the after cursor. limit is
	// clamped to 1..MaxOrderPage, with DefaultOrderPage for limit <= 0.
	StuckOrders(ctx context.Context, createdBefore time.Time, after OrderCursor, limit int) ([]Order, error)
	// ResolveOrder moves a payment_pending order to to (paid stamps paid_at)
	// and appends entry, atomically. False means the order had already left
	// payment_pending and nothing was written.
	ResolveOrder(ctx context.Context, orderID string, to OrderStatus, at time.Time, entry TimelineEntry) (bool, error)
}
