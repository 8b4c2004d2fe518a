package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"turnstile.app/internal/domain"
)

func (s *Store) Event(ctx context.Context, id string) (domain.Event, error) {
	var e domain.Event
	err := s.db.QueryRowContext(ctx, `
		select id, host_id, title, starts_at, capacity, status, checkin_secret, created_at
		from events
		where id = $1
	`, id).Scan(&e.ID, &e.HostID, &e.Title, &e.StartsAt, &e.Capacity, &e.Status, &e.CheckinSecret, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Event{}, domain.ErrNotFound
	}
	return e, err
}

func (s *Store) CreateEvent(ctx context.Context, e domain.Event) (domain.Event, error) {
	_, err := s.db.ExecContext(ctx, `
		insert into events (id, host_id, title, starts_at, capacity, status, checkin_secret, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.HostID, e.Title, e.StartsAt, e.Capacity, e.Status, e.CheckinSecret, e.CreatedAt)
	if err != nil {
		return domain.Event{}, mapWriteErr(err)
	}
	return e, nil
}

func (s *Store) TransitionEvent(ctx context.Context, id string, from []domain.EventStatus, to domain.EventStatus) (bool, error) {
	return affected(s.db.ExecContext(ctx, `
		update events set status = $2 where id = $1 and status = any($3)
	`, id, to, statusList(from)))
}

func (s *Store) AssignCheckinSecret(ctx context.Context, eventID string, secret []byte) (bool, error) {
	return affected(s.db.ExecContext(ctx, `
		update events set checkin_secret = $2 where id = $1 and checkin_secret is null
	`, eventID, secret))
}

func (s *Store) IsEventStaff(ctx context.Context, eventID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from event_staff where event_id = $1 and user_id = $2)
	`, eventID, userID).Scan(&exists)
	return exists, err
}

func (s *Store) ValidTickets(ctx context.Context, eventID string) ([]domain.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, event_id, coalesce(order_id, ''), holder_id, qr_token, status
		from tickets
		where event_id = $1 and status = 'valid'
		order by id
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Ticket
	for rows.Next() {
		var t domain.Ticket
		if err := rows.Scan(&t.ID, &t.EventID, &t.OrderID, &t.HolderID, &t.QRToken, &t.Status); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) TicketHolders(ctx context.Context, eventID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select distinct holder_id from tickets where event_id = $1 and status = 'valid' order by holder_id
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) CheckIn(ctx context.Context, c domain.CheckIn) (domain.CheckInOutcome, string, error) {
	var ticketID string
	err := s.db.QueryRowContext(ctx, `
		update tickets set checked_in_at = $3, checked_in_by = $4
		where event_id = $1 and qr_token = $2 and status = 'valid' and checked_in_at is null
		returning id
	`, c.EventID, c.QRToken, c.At, c.By).Scan(&ticketID)
	if err == nil {
		return domain.CheckedIn, ticketID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", "", err
	}
	err = s.db.QueryRowContext(ctx, `
		select id from tickets where event_id = $1 and qr_token = $2 and status = 'valid'
	`, c.EventID, c.QRToken).Scan(&ticketID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CheckInUnknown, "", nil
	}
	if err != nil {
		return "", "", err
	}
	return domain.CheckInDuplicate, ticketID, nil
}

// CreateHold locks the event row so concurrent holds for one event are
// admitted one at a time.
func (s *Store) CreateHold(ctx context.Context, h domain.Hold, now time.Time) (domain.Hold, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var capacity int
		err := tx.QueryRowContext(ctx, `select capacity from events where id = $1 for update`, h.EventID).Scan(&capacity)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		var sold, held int
		if err := tx.QueryRowContext(ctx, `
			select count(*) from tickets where event_id = $1 and status = 'valid'
		`, h.EventID).Scan(&sold); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `
			select coalesce(sum(quantity), 0) from ticket_holds
			where event_id = $1 and status = 'active' and expires_at > $2
		`, h.EventID, now).Scan(&held); err != nil {
			return err
		}
		if capacity-sold-held < h.Quantity {
			return fmt.Errorf("%w: %d of %d remaining", domain.ErrCapacity, max(capacity-sold-held, 0), capacity)
		}
		_, err = tx.ExecContext(ctx, `
			insert into ticket_holds (id, event_id, user_id, quantity, status, expires_at, created_at)
			values ($1, $2, $3, $4, $5, $6, $7)
		`, h.ID, h.EventID, h.UserID, h.Quantity, h.Status, h.ExpiresAt, h.CreatedAt)
		return mapWriteErr(err)
	})
	if err != nil {
		return domain.Hold{}, err
	}
	return h, nil
}

func (s *Store) ExpireEventHolds(ctx context.Context, eventID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update ticket_holds set status = 'expired' where event_id = $1 and status = 'active'
	`, eventID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func statusList[S ~string](set []S) []string {
	out := make([]string, len(set))
	for i, s := range set {
		out[i] = string(s)
	}
	return out
}
