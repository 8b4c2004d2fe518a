package gateway

import (
	"context"
	"strings"
	"time"

	"turnstile.app/internal/allowlist"
	"turnstile.app/internal/audit"
	"turnstile.app/internal/domain"
	"turnstile.app/internal/obs"
)

const (
	maxSyncScans    = 500
	maxQRTokenLen   = 2048
	maxScannedByLen = 200
)

type allowlistRequest struct {
	EventID string `json:"eventId"`
}

func (r *allowlistRequest) Validate() error {
	r.EventID = strings.TrimSpace(r.EventID)
	if r.EventID == "" {
		return invalid("eventId is required")
	}
	return nil
}

type allowlistResponse struct {
	EventID     string            `json:"eventId"`
	Secret      string            `json:"secret"`
	Entries     []allowlist.Entry `json:"entries"`
	GeneratedAt time.Time         `json:"generatedAt"`
}

func (g *Gateway) checkinAllowlist(ctx context.Context, c call, req *allowlistRequest) (any, error) {
	ev, err := g.doorEvent(ctx, req.EventID, c.userID())
	if err != nil {
		return nil, err
	}
	if ev.Status == domain.EventCancelled {
		return nil, fail(CodeConflict, "event is cancelled")
	}

	secret := ev.CheckinSecret
	if len(secret) == 0 {
		if secret, err = g.provisionSecret(ctx, ev.ID); err != nil {
			return nil, err
		}
	}

	tickets, err := g.repo.ValidTickets(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	in := make([]allowlist.Ticket, 0, len(tickets))
	for _, t := range tickets {
		in = append(in, allowlist.Ticket{ID: t.ID, Token: t.QRToken})
	}
	entries, err := allowlist.Build(secret, in)
	if err != nil {
		return nil, err
	}

	g.bestEffort(ctx, c, "audit", func(ctx context.Context) error {
		return audit.LogEvent(ctx, audit.AllowlistDownloaded, map[string]any{
			"event_id": ev.ID,
			"entries":  len(entries),
		})
	})
	return allowlistResponse{
		EventID:     ev.ID,
		Secret:      allowlist.EncodeSecret(secret),
		Entries:     entries,
		GeneratedAt: g.now(),
	}, nil
}

// provisionSecret assigns a secret to an event created before check-in
// secrets existed. A concurrent download may win the assignment, in which
// case its secret is used.
func (g *Gateway) provisionSecret(ctx context.Context, eventID string) ([]byte, error) {
	fresh, err := allowlist.NewSecret()
	if err != nil {
		return nil, err
	}
	ok, err := g.repo.AssignCheckinSecret(ctx, eventID, fresh)
	if err != nil {
		return nil, err
	}
	if ok {
		return fresh, nil
	}
	ev, err := g.repo.Event(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if len(ev.CheckinSecret) == 0 {
		return nil, allowlist.ErrNoSecret
	}
	return ev.CheckinSecret, nil
}

// doorEvent loads the event and requires the caller to be its host or staff.
func (g *Gateway) doorEvent(ctx context.Context, eventID, userID string) (domain.Event, error) {
	ev, err := g.repo.Event(ctx, eventID)
	if err != nil {
		return domain.Event{}, err
	}
	if ev.HostID == userID {
		return ev, nil
	}
	staff, err := g.repo.IsEventStaff(ctx, ev.ID, userID)
	if err != nil {
		return domain.Event{}, err
	}
	if !staff {
		return domain.Event{}, fail(CodeForbidden, "only event host or staff can run check-in")
	}
	return ev, nil
}

type syncScan struct {
	QRToken   string    `json:"qrToken"`
	ScannedAt time.Time `json:"scannedAt"`
	ScannedBy string    `json:"scannedBy"`
}

type syncRequest struct {
	EventID string     `json:"eventId"`
	Scans   []syncScan `json:"scans"`
}

func (r *syncRequest) Validate() error {
	r.EventID = strings.TrimSpace(r.EventID)
	if r.EventID == "" {
		return invalid("eventId is required")
	}
	if len(r.Scans) == 0 {
		return invalid("scans must contain at least one scan")
	}
	if len(r.Scans) > maxSyncScans {
		return invalid("scans must contain at most %d scans", maxSyncScans)
	}
	for i := range r.Scans {
		s := &r.Scans[i]
		s.QRToken = strings.TrimSpace(s.QRToken)
		s.ScannedBy = strings.TrimSpace(s.ScannedBy)
		switch {
		case s.QRToken == "":
			return invalid("scans[%d].qrToken is required", i)
		case len(s.QRToken) > maxQRTokenLen:
			return invalid("scans[%d].qrToken is too long", i)
		case s.ScannedAt.IsZero():
			return invalid("scans[%d].scannedAt is required", i)
		case len(s.ScannedBy) > maxScannedByLen:
			return invalid("scans[%d].scannedBy is too long", i)
		}
	}
	return nil
}

type syncResult struct {
	QRToken  string                `json:"qrToken"`
	Status   domain.CheckInOutcome `json:"status"`
	TicketID string                `json:"ticketId,omitempty"`
}

type syncResponse struct {
	EventID      string       `json:"eventId"`
	Acknowledged []string     `json:"acknowledged"`
	Results      []syncResult `json:"results"`
}

// checkinSync applies uploaded scans. Every scan that reached a definite
// outcome is acknowledged, including duplicates and unknown tokens, so the
// device stops retrying them. Scans whose write failed are left
// unacknowledged and come back on the next flush.
func (g *Gateway) checkinSync(ctx context.Context, c call, req *syncRequest) (any, error) {
	ev, err := g.doorEvent(ctx, req.EventID, c.userID())
	if err != nil {
		return nil, err
	}

	resp := syncResponse{
		EventID:      ev.ID,
		Acknowledged: make([]string, 0, len(req.Scans)),
		Results:      make([]syncResult, 0, len(req.Scans)),
	}
	counts := map[domain.CheckInOutcome]int{}
	failed := 0
	for _, s := range req.Scans {
		by := s.ScannedBy
		if by == "" {
			by = c.userID()
		}
		outcome, ticketID, err := g.repo.CheckIn(ctx, domain.CheckIn{
			EventID: ev.ID,
			QRToken: s.QRToken,
			At:      s.ScannedAt.UTC(),
			By:      by,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failed++
			obs.Warn("scan_sync_failed", map[string]any{
				"request_id": c.RequestID,
				"event_id":   ev.ID,
				"error":      err,
			})
			continue
		}
		counts[outcome]++
		resp.Acknowledged = append(resp.Acknowledged, s.QRToken)
		resp.Results = append(resp.Results, syncResult{QRToken: s.QRToken, Status: outcome, TicketID: ticketID})
	}

	g.bestEffort(ctx, c, "audit", func(ctx context.Context) error {
		return audit.LogEvent(ctx, audit.ScansSynced, map[string]any{
			"event_id":   ev.ID,
			"scans":      len(req.Scans),
			"checked_in": counts[domain.CheckedIn],
			"duplicate":  counts[domain.CheckInDuplicate],
			"unknown":    counts[domain.CheckInUnknown],
			"failed":     failed,
		})
	})
	return resp, nil
}
