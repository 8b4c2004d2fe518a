package gateway

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"turnstile.app/internal/allowlist"
	"turnstile.app/internal/domain"
	"turnstile.app/internal/ids"
	"turnstile.app/internal/notify"
)

const (
	maxEventCapacity = 100000
	maxHoldQuantity  = 10
)

type createEventRequest struct {
	Title    string    `json:"title"`
	StartsAt time.Time `json:"starts_at"`
	Capacity int       `json:"capacity"`
}

func (r *createEventRequest) Validate() error {
	r.Title = strings.TrimSpace(r.Title)
	switch {
	case r.Title == "":
		return invalid("title is required")
	case utf8.RuneCountInString(r.Title) > 200:
		return invalid("title must be at most 200 characters")
	case r.StartsAt.IsZero():
		return invalid("starts_at is required")
	case r.Capacity <= 0:
		return invalid("capacity must be positive")
	case r.Capacity > maxEventCapacity:
		return invalid("capacity must be at most %d", maxEventCapacity)
	}
	return nil
}

func (g *Gateway) createEvent(ctx context.Context, c call, req *createEventRequest) (any, error) {
	now := g.now()
	if !req.StartsAt.After(now) {
		return nil, invalid("starts_at must be in the future")
	}
	secret, err := allowlist.NewSecret()
	if err != nil {
		return nil, err
	}
	ev, err := g.repo.CreateEvent(ctx, domain.Event{
		ID:            ids.NewAt(now),
		HostID:        c.userID(),
		Title:         req.Title,
		StartsAt:      req.StartsAt.UTC(),
		Capacity:      req.Capacity,
		Status:        domain.EventPublished,
		CheckinSecret: secret,
		CreatedAt:     now,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"event": ev}, nil
}

type eventRequest struct {
	EventID string `json:"event_id"`
}

func (r *eventRequest) Validate() error {
	r.EventID = strings.TrimSpace(r.EventID)
	if r.EventID == "" {
		return invalid("event_id is required")
	}
	return nil
}

type cancelEventResponse struct {
	EventID      string             `json:"event_id"`
	Status       domain.EventStatus `json:"status"`
	ExpiredHolds int64              `json:"expired_holds"`
}

func (g *Gateway) cancelEvent(ctx context.Context, c call, req *eventRequest) (any, error) {
	ev, err := g.repo.Event(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	if ev.HostID != c.userID() {
		return nil, fail(CodeForbidden, "only the host can cancel this event")
	}
	if !domain.In(ev.Status, domain.CancellableEvent) {
		return nil, fail(CodeConflict, "event is %s and cannot be cancelled", ev.Status)
	}
	ok, err := g.repo.TransitionEvent(ctx, ev.ID, domain.CancellableEvent, domain.EventCancelled)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fail(CodeConflict, "event changed state, reload and retry")
	}

	var expired int64
	g.bestEffort(ctx, c, "expire_holds", func(ctx context.Context) error {
		n, err := g.repo.ExpireEventHolds(ctx, ev.ID)
		expired = n
		return err
	})
	g.dispatch(ctx, c, func(ctx context.Context) (notify.Notification, error) {
		holders, err := g.repo.TicketHolders(ctx, ev.ID)
		if err != nil {
			return notify.Notification{}, err
		}
		return notify.Notification{
			Kind:    notify.KindEventCancelled,
			UserIDs: others(holders, c.userID()),
			Title:   ev.Title,
			Body:    "This event has been cancelled.",
			Data:    map[string]string{"event_id": ev.ID},
		}, nil
	})
	return cancelEventResponse{EventID: ev.ID, Status: domain.EventCancelled, ExpiredHolds: expired}, nil
}

type createHoldRequest struct {
	EventID  string `json:"event_id"`
	Quantity int    `json:"quantity"`
}

func (r *createHoldRequest) Validate() error {
	r.EventID = strings.TrimSpace(r.EventID)
	if r.EventID == "" {
		return invalid("event_id is required")
	}
	if r.Quantity < 1 || r.Quantity > maxHoldQuantity {
		return invalid("quantity must be between 1 and %d", maxHoldQuantity)
	}
	return nil
}

func (g *Gateway) createHold(ctx context.Context, c call, req *createHoldRequest) (any, error) {
	ev, err := g.repo.Event(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	if ev.Status != domain.EventPublished {
		return nil, fail(CodeConflict, "event is %s, tickets are not on sale", ev.Status)
	}
	now := g.now()
	hold, err := g.repo.CreateHold(ctx, domain.Hold{
		ID:        ids.NewAt(now),
		EventID:   ev.ID,
		UserID:    c.userID(),
		Quantity:  req.Quantity,
		Status:    domain.HoldActive,
		ExpiresAt: now.Add(g.cfg.HoldTTL),
		CreatedAt: now,
	}, now)
	if err != nil {
		return nil, err
	}
	return map[string]any{"hold": hold}, nil
}
