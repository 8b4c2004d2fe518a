package pg

import (
	"context"
	"database/sql"
	"errors"

	"turnstile.app/internal/domain"
)

func (s *Store) Campaign(ctx context.Context, id string) (domain.Campaign, error) {
	var c domain.Campaign
	err := s.db.QueryRowContext(ctx, `
		select id, owner_id, name, status, created_at from campaigns where id = $1
	`, id).Scan(&c.ID, &c.OwnerID, &c.Name, &c.Status, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Campaign{}, domain.ErrNotFound
	}
	return c, err
}

func (s *Store) TransitionCampaign(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus) (bool, error) {
	return affected(s.db.ExecContext(ctx, `
		update campaigns set status = $2 where id = $1 and status = any($3)
	`, id, to, statusList(from)))
}

func (s *Store) AppendCampaignEvent(ctx context.Context, ev domain.CampaignEvent) error {
	_, err := s.db.ExecContext(ctx, `
		insert into campaign_events (id, campaign_id, kind, actor_id, created_at)
		values ($1, $2, $3, $4, $5)
	`, ev.ID, ev.CampaignID, ev.Kind, ev.ActorID, ev.CreatedAt)
	return mapWriteErr(err)
}
