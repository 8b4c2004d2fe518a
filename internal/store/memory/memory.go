// Package memory is an in-process domain.Repository and auth.SessionStore.
// It backs gateway and reconciliation tests and local runs without Postgres;
// every transition follows the same compare-and-swap rules as store/pg.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"turnstile.app/internal/auth"
	"turnstile.app/internal/domain"
)

type Store struct {
	mu sync.RWMutex

	users    map[string]domain.User
	byAuthID map[string]string
	sessions map[string]auth.Session

	conversations map[string]domain.Conversation
	convMembers   map[string]map[string]bool
	messages      map[string]domain.Message
	clientMsgIDs  map[string]string // sender + "\x00" + client id -> message id

	events  map[string]domain.Event
	staff   map[string]map[string]bool
	tickets []domain.Ticket
	holds   []domain.Hold

	orders   map[string]domain.Order
	timeline map[string][]domain.TimelineEntry

	rooms       map[string]domain.Room
	roomMembers map[string]map[string]domain.RoomMember
	roomEvents  []domain.RoomEvent

	campaigns      map[string]domain.Campaign
	campaignEvents []domain.CampaignEvent
}

var (
	_ domain.Repository = (*Store)(nil)
	_ auth.SessionStore = (*Store)(nil)
)

func New() *Store {
	return &Store{
		users:         make(map[string]domain.User),
		byAuthID:      make(map[string]string),
		sessions:      make(map[string]auth.Session),
		conversations: make(map[string]domain.Conversation),
		convMembers:   make(map[string]map[string]bool),
		messages:      make(map[string]domain.Message),
		clientMsgIDs:  make(map[string]string),
		events:        make(map[string]domain.Event),
		staff:         make(map[string]map[string]bool),
		orders:        make(map[string]domain.Order),
		timeline:      make(map[string][]domain.TimelineEntry),
		rooms:         make(map[string]domain.Room),
		roomMembers:   make(map[string]map[string]domain.RoomMember),
		campaigns:     make(map[string]domain.Campaign),
	}
}

// Sessions

func (s *Store) Session(ctx context.Context, id string) (auth.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return auth.Session{}, auth.ErrNotFound
	}
	return sess, nil
}

func (s *Store) UserIDByAuthID(ctx context.Context, authUserID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byAuthID[authUserID]
	if !ok {
		return "", auth.ErrNotFound
	}
	return id, nil
}

// Users

func (s *Store) User(ctx context.Context, id string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (s *Store) MissingUsers(ctx context.Context, ids []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var missing []string
	for _, id := range ids {
		if _, ok := s.users[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (s *Store) SetAvatar(ctx context.Context, userID, avatarURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.AvatarURL = avatarURL
	s.users[userID] = u
	return nil
}

// Messaging

func (s *Store) Conversation(ctx context.Context, id string) (domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return domain.Conversation{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *Store) ConversationMembers(ctx context.Context, id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := make([]string, 0, len(s.convMembers[id]))
	for uid := range s.convMembers[id] {
		members = append(members, uid)
	}
	sort.Strings(members)
	return members, nil
}

func (s *Store) IsConversationMember(ctx context.Context, conversationID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.convMembers[conversationID][userID], nil
}

func (s *Store) CreateConversation(ctx context.Context, conv domain.Conversation, memberIDs []string) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conversations[conv.ID]; exists {
		return domain.Conversation{}, domain.ErrConflict
	}
	for _, id := range memberIDs {
		if _, ok := s.users[id]; !ok {
			return domain.Conversation{}, domain.ErrNotFound
		}
	}
	s.conversations[conv.ID] = conv
	members := make(map[string]bool, len(memberIDs))
	for _, id := range memberIDs {
		members[id] = true
	}
	s.convMembers[conv.ID] = members
	return conv, nil
}

func (s *Store) InsertMessage(ctx context.Context, m domain.Message) (domain.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[m.ConversationID]; !ok {
		return domain.Message{}, false, domain.ErrNotFound
	}
	key := m.SenderID + "\x00" + m.ClientMessageID
	if id, ok := s.clientMsgIDs[key]; ok {
		return s.messages[id], false, nil
	}
	s.messages[m.ID] = m
	s.clientMsgIDs[key] = m.ID
	return m, true, nil
}

func (s *Store) Message(ctx context.Context, id string) (domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return domain.Message{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *Store) SoftDeleteMessage(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.DeletedAt != nil {
		return false, nil
	}
	m.DeletedAt = &at
	s.messages[id] = m
	return true, nil
}

// Events and tickets

func (s *Store) Event(ctx context.Context, id string) (domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	e.CheckinSecret = slices.Clone(e.CheckinSecret)
	return e, nil
}

func (s *Store) CreateEvent(ctx context.Context, e domain.Event) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[e.ID]; exists {
		return domain.Event{}, domain.ErrConflict
	}
	s.events[e.ID] = e
	return e, nil
}

func (s *Store) TransitionEvent(ctx context.Context, id string, from []domain.EventStatus, to domain.EventStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok || !domain.In(e.Status, from) {
		return false, nil
	}
	e.Status = to
	s.events[id] = e
	return true, nil
}

func (s *Store) AssignCheckinSecret(ctx context.Context, eventID string, secret []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[eventID]
	if !ok || len(e.CheckinSecret) > 0 {
		return false, nil
	}
	e.CheckinSecret = slices.Clone(secret)
	s.events[eventID] = e
	return true, nil
}

func (s *Store) IsEventStaff(ctx context.Context, eventID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.staff[eventID][userID], nil
}

func (s *Store) ValidTickets(ctx context.Context, eventID string) ([]domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Ticket
	for _, t := range s.tickets {
		if t.EventID == eventID && t.Status == domain.TicketValid {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) TicketHolders(ctx context.Context, eventID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, t := range s.tickets {
		if t.EventID == eventID && t.Status == domain.TicketValid && !seen[t.HolderID] {
			seen[t.HolderID] = true
			out = append(out, t.HolderID)
		}
	}
	return out, nil
}

func (s *Store) CheckIn(ctx context.Context, c domain.CheckIn) (domain.CheckInOutcome, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tickets {
		t := &s.tickets[i]
		if t.EventID != c.EventID || t.QRToken != c.QRToken || t.Status != domain.TicketValid {
			continue
		}
		if t.CheckedInAt != nil {
			return domain.CheckInDuplicate, t.ID, nil
		}
		at := c.At
		t.CheckedInAt = &at
		t.CheckedInBy = c.By
		return domain.CheckedIn, t.ID, nil
	}
	return domain.CheckInUnknown, "", nil
}

func (s *Store) CreateHold(ctx context.Context, h domain.Hold, now time.Time) (domain.Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[h.EventID]
	if !ok {
		return domain.Hold{}, domain.ErrNotFound
	}
	reserved := 0
	for _, t := range s.tickets {
		if t.EventID == h.EventID && t.Status == domain.TicketValid {
			reserved++
		}
	}
	for _, other := range s.holds {
		if other.EventID == h.EventID && other.Reserves(now) {
			reserved += other.Quantity
		}
	}
	if e.Capacity-reserved < h.Quantity {
		return domain.Hold{}, domain.ErrCapacity
	}
	s.holds = append(s.holds, h)
	return h, nil
}

func (s *Store) ExpireEventHolds(ctx context.Context, eventID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.holds {
		if s.holds[i].EventID == eventID && s.holds[i].Status == domain.HoldActive {
			s.holds[i].Status = domain.HoldExpired
			n++
		}
	}
	return n, nil
}

// Rooms

func (s *Store) Room(ctx context.Context, id string) (domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return domain.Room{}, domain.ErrNotFound
	}
	return r, nil
}

func (s *Store) RoomMember(ctx context.Context, roomID, userID string) (domain.RoomMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.roomMembers[roomID][userID]
	if !ok {
		return domain.RoomMember{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *Store) RemoveRoomMember(ctx context.Context, roomID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roomMembers[roomID][userID]; !ok {
		return false, nil
	}
	delete(s.roomMembers[roomID], userID)
	return true, nil
}

func (s *Store) EndRoom(ctx context.Context, roomID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok || r.Status != domain.RoomOpen {
		return false, nil
	}
	r.Status = domain.RoomEnded
	r.EndedAt = &at
	s.rooms[roomID] = r
	return true, nil
}

func (s *Store) ClearRoomMembers(ctx context.Context, roomID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.roomMembers[roomID]))
	delete(s.roomMembers, roomID)
	return n, nil
}

func (s *Store) AppendRoomEvent(ctx context.Context, ev domain.RoomEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomEvents = append(s.roomEvents, ev)
	return nil
}

// Campaigns

func (s *Store) Campaign(ctx context.Context, id string) (domain.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	if !ok {
		return domain.Campaign{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *Store) TransitionCampaign(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || !domain.In(c.Status, from) {
		return false, nil
	}
	c.Status = to
	s.campaigns[id] = c
	return true, nil
}

func (s *Store) AppendCampaignEvent(ctx context.Context, ev domain.CampaignEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaignEvents = append(s.campaignEvents, ev)
	return nil
}

// Orders

func (s *Store) Order(ctx context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *Store) OrderByPaymentRef(ctx context.Context, paymentIntentID, checkoutSessionID string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if (paymentIntentID != "" && o.PaymentIntentID == paymentIntentID) ||
			(checkoutSessionID != "" && o.CheckoutSessionID == checkoutSessionID) {
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrNotFound
}

func (s *Store) OrderTimeline(ctx context.Context, orderID string) ([]domain.TimelineEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.timeline[orderID]), nil
}

func (s *Store) ExpireHolds(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.holds {
		h := &s.holds[i]
		if h.Status == domain.HoldActive && h.ExpiresAt.Before(now) {
			h.Status = domain.HoldExpired
			n++
		}
	}
	return n, nil
}

func (s *Store) StuckOrders(ctx context.Context, createdBefore time.Time, after domain.OrderCursor, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.Status == domain.OrderPaymentPending && o.CreatedAt.Before(createdBefore) && after.After(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit = domain.ClampOrderPage(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ResolveOrder(ctx context.Context, orderID string, to domain.OrderStatus, at time.Time, entry domain.TimelineEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.Status != domain.OrderPaymentPending {
		return false, nil
	}
	o.Status = to
	if to == domain.OrderPaid {
		paidAt := at
		o.PaidAt = &paidAt
	}
	s.orders[orderID] = o
	entry.OrderID = orderID
	s.timeline[orderID] = append(s.timeline[orderID], entry)
	return true, nil
}
