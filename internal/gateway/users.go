package gateway

import (
	"context"
	"net/url"
	"strings"
)

const maxAvatarURLLen = 2048

type setAvatarRequest struct {
	AvatarURL string `json:"avatar_url"`
	// UserID may name the caller; anyone else is forbidden.
	UserID string `json:"user_id"`
}

func (r *setAvatarRequest) Validate() error {
	r.AvatarURL = strings.TrimSpace(r.AvatarURL)
	r.UserID = strings.TrimSpace(r.UserID)
	if r.AvatarURL == "" {
		return invalid("avatar_url is required")
	}
	if len(r.AvatarURL) > maxAvatarURLLen {
		return invalid("avatar_url is too long")
	}
	u, err := url.Parse(r.AvatarURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return invalid("avatar_url must be an https URL")
	}
	return nil
}

func (g *Gateway) setAvatar(ctx context.Context, c call, req *setAvatarRequest) (any, error) {
	if req.UserID != "" && req.UserID != c.userID() {
		return nil, fail(CodeForbidden, "you can only change your own avatar")
	}
	if err := g.repo.SetAvatar(ctx, c.userID(), req.AvatarURL); err != nil {
		return nil, err
	}
	return map[string]string{"user_id": c.userID(), "avatar_url": req.AvatarURL}, nil
}
