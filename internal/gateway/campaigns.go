package gateway

import (
	"context"
	"strings"

	"turnstile.app/internal/domain"
	"turnstile.app/internal/ids"
)

type campaignRequest struct {
	CampaignID string `json:"campaign_id"`
}

func (r *campaignRequest) Validate() error {
	r.CampaignID = strings.TrimSpace(r.CampaignID)
	if r.CampaignID == "" {
		return invalid("campaign_id is required")
	}
	return nil
}

func (g *Gateway) cancelCampaign(ctx context.Context, c call, req *campaignRequest) (any, error) {
	camp, err := g.repo.Campaign(ctx, req.CampaignID)
	if err != nil {
		return nil, err
	}
	if camp.OwnerID != c.userID() {
		return nil, fail(CodeForbidden, "only the owner can cancel this campaign")
	}
	if !domain.In(camp.Status, domain.CancellableCampaign) {
		return nil, fail(CodeConflict, "campaign is %s and cannot be cancelled", camp.Status)
	}
	ok, err := g.repo.TransitionCampaign(ctx, camp.ID, domain.CancellableCampaign, domain.CampaignCancelled)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fail(CodeConflict, "campaign changed state, reload and retry")
	}

	g.bestEffort(ctx, c, "campaign_event", func(ctx context.Context) error {
		now := g.now()
		return g.repo.AppendCampaignEvent(ctx, domain.CampaignEvent{
			ID:         ids.NewAt(now),
			CampaignID: camp.ID,
			Kind:       "cancelled",
			ActorID:    c.userID(),
			CreatedAt:  now,
		})
	})
	return map[string]any{"campaign_id": camp.ID, "status": domain.CampaignCancelled}, nil
}
