package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"turnstile.app/internal/domain"
)

const orderColumns = `id, event_id, user_id, status, coalesce(payment_intent_id, ''), coalesce(checkout_session_id, ''), amount_cents, created_at, paid_at`

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o    domain.Order
		paid sql.NullTime
	)
	if err := row.Scan(&o.ID, &o.EventID, &o.UserID, &o.Status, &o.PaymentIntentID, &o.CheckoutSessionID, &o.AmountCents, &o.CreatedAt, &paid); err != nil {
		return domain.Order{}, err
	}
	o.PaidAt = timePtr(paid)
	return o, nil
}

func (s *Store) Order(ctx context.Context, id string) (domain.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `select `+orderColumns+` from orders where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, err
}

func (s *Store) OrderByPaymentRef(ctx context.Context, paymentIntentID, checkoutSessionID string) (domain.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `
		select `+orderColumns+` from orders
		where ($1::text is not null and payment_intent_id = $1)
		   or ($2::text is not null and checkout_session_id = $2)
		limit 1
	`, nullIfEmpty(paymentIntentID), nullIfEmpty(checkoutSessionID)))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, err
}

func (s *Store) OrderTimeline(ctx context.Context, orderID string) ([]domain.TimelineEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, order_id, type, source, note, created_at
		from order_timeline
		where order_id = $1
		order by created_at, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TimelineEntry
	for rows.Next() {
		var e domain.TimelineEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Type, &e.Source, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ExpireHolds(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update ticket_holds set status = 'expired' where status = 'active' and expires_at < $1
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) StuckOrders(ctx context.Context, createdBefore time.Time, after domain.OrderCursor, limit int) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+orderColumns+` from orders
		where status = 'payment_pending' and created_at < $1
		  and (created_at, id) > ($2, $3)
		order by created_at, id
		limit $4
	`, createdBefore, after.CreatedAt, after.ID, domain.ClampOrderPage(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) ResolveOrder(ctx context.Context, orderID string, to domain.OrderStatus, at time.Time, entry domain.TimelineEntry) (bool, error) {
	var paidAt sql.NullTime
	if to == domain.OrderPaid {
		paidAt = sql.NullTime{Time: at, Valid: true}
	}
	var moved bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		ok, err := affected(tx.ExecContext(ctx, `
			update orders set status = $2, paid_at = coalesce($3, paid_at)
			where id = $1 and status = 'payment_pending'
		`, orderID, to, paidAt))
		if err != nil || !ok {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into order_timeline (id, order_id, type, source, note, created_at)
			values ($1, $2, $3, $4, $5, $6)
		`, entry.ID, orderID, entry.Type, entry.Source, entry.Note, entry.CreatedAt); err != nil {
			return err
		}
		moved = true
		return nil
	})
	return moved, err
}
