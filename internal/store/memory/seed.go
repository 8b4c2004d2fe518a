package memory

import (
	"slices"

	"turnstile.app/internal/auth"
	"turnstile.app/internal/domain"
)

// Seeding and inspection helpers. These bypass the Repository rules and
// exist for fixtures.

func (s *Store) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	if u.AuthUserID != "" {
		s.byAuthID[u.AuthUserID] = u.ID
	}
}

func (s *Store) PutSession(sess auth.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

func (s *Store) PutConversation(c domain.Conversation, memberIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
	members := make(map[string]bool, len(memberIDs))
	for _, id := range memberIDs {
		members[id] = true
	}
	s.convMembers[c.ID] = members
}

func (s *Store) PutEvent(e domain.Event, staffIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = e
	if len(staffIDs) > 0 {
		staff := make(map[string]bool, len(staffIDs))
		for _, id := range staffIDs {
			staff[id] = true
		}
		s.staff[e.ID] = staff
	}
}

func (s *Store) PutTicket(t domain.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets = append(s.tickets, t)
}

func (s *Store) PutHold(h domain.Hold) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holds = append(s.holds, h)
}

func (s *Store) PutOrder(o domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
}

func (s *Store) PutRoom(r domain.Room, members ...domain.RoomMember) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[r.ID] = r
	byUser := make(map[string]domain.RoomMember, len(members))
	for _, m := range members {
		m.RoomID = r.ID
		byUser[m.UserID] = m
	}
	s.roomMembers[r.ID] = byUser
}

func (s *Store) PutCampaign(c domain.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = c
}

func (s *Store) Ticket(id string) (domain.Ticket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tickets {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Ticket{}, false
}

func (s *Store) Holds(eventID string) []domain.Hold {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Hold
	for _, h := range s.holds {
		if h.EventID == eventID {
			out = append(out, h)
		}
	}
	return out
}

func (s *Store) RoomEvents(roomID string) []domain.RoomEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.RoomEvent
	for _, ev := range s.roomEvents {
		if ev.RoomID == roomID {
			out = append(out, ev)
		}
	}
	return out
}

func (s *Store) CampaignEvents(campaignID string) []domain.CampaignEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.CampaignEvent
	for _, ev := range s.campaignEvents {
		if ev.CampaignID == campaignID {
			out = append(out, ev)
		}
	}
	return out
}

func (s *Store) Messages(conversationID string) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b domain.Message) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}
