package gateway

import (
	"context"
	"errors"
	"strings"

	"turnstile.app/internal/domain"
	"turnstile.app/internal/ids"
	"turnstile.app/internal/notify"
)

// Room event log kinds.
const (
	roomMemberKicked = "member_kicked"
	roomEnded        = "room_ended"
)

type kickRequest struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

func (r *kickRequest) Validate() error {
	r.RoomID = strings.TrimSpace(r.RoomID)
	r.UserID = strings.TrimSpace(r.UserID)
	switch {
	case r.RoomID == "":
		return invalid("room_id is required")
	case r.UserID == "":
		return invalid("user_id is required")
	}
	return nil
}

func (g *Gateway) kickFromRoom(ctx context.Context, c call, req *kickRequest) (any, error) {
	if req.UserID == c.userID() {
		return nil, invalid("you cannot kick yourself")
	}
	room, err := g.repo.Room(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	role, err := g.roomRole(ctx, room, c.userID())
	if err != nil {
		return nil, err
	}
	if role != domain.RoleHost && role != domain.RoleModerator {
		return nil, fail(CodeForbidden, "only the host or a moderator can remove members")
	}
	if req.UserID == room.HostID {
		return nil, fail(CodeForbidden, "the host cannot be removed")
	}
	if room.Status != domain.RoomOpen {
		return nil, fail(CodeConflict, "room has ended")
	}
	target, err := g.repo.RoomMember(ctx, room.ID, req.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fail(CodeConflict, "user is not in this room")
	}
	if err != nil {
		return nil, err
	}
	if target.Role == domain.RoleHost {
		return nil, fail(CodeForbidden, "the host cannot be removed")
	}

	ok, err := g.repo.RemoveRoomMember(ctx, room.ID, target.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fail(CodeConflict, "user already left the room")
	}

	g.bestEffort(ctx, c, "room_event", func(ctx context.Context) error {
		return g.repo.AppendRoomEvent(ctx, g.roomEvent(room.ID, roomMemberKicked, c.userID(), target.UserID))
	})
	g.dispatch(ctx, c, func(context.Context) (notify.Notification, error) {
		return notify.Notification{
			Kind:    notify.KindRoomKicked,
			UserIDs: []string{target.UserID},
			Body:    "You were removed from the room.",
			Data:    map[string]string{"room_id": room.ID},
		}, nil
	})
	return map[string]string{"room_id": room.ID, "user_id": target.UserID}, nil
}

// roomRole returns the caller's role in room, empty when not a member. The
// room's HostID is authoritative even without a membership row.
func (g *Gateway) roomRole(ctx context.Context, room domain.Room, userID string) (domain.RoomRole, error) {
	if room.HostID == userID {
		return domain.RoleHost, nil
	}
	m, err := g.repo.RoomMember(ctx, room.ID, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return m.Role, nil
}

func (g *Gateway) roomEvent(roomID, kind, actor, target string) domain.RoomEvent {
	now := g.now()
	return domain.RoomEvent{
		ID:        ids.NewAt(now),
		RoomID:    roomID,
		Kind:      kind,
		ActorID:   actor,
		TargetID:  target,
		CreatedAt: now,
	}
}

type roomRequest struct {
	RoomID string `json:"room_id"`
}

func (r *roomRequest) Validate() error {
	r.RoomID = strings.TrimSpace(r.RoomID)
	if r.RoomID == "" {
		return invalid("room_id is required")
	}
	return nil
}

func (g *Gateway) endRoom(ctx context.Context, c call, req *roomRequest) (any, error) {
	room, err := g.repo.Room(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	if room.HostID != c.userID() {
		return nil, fail(CodeForbidden, "only the host can end the room")
	}
	if room.Status != domain.RoomOpen {
		return nil, fail(CodeConflict, "room has already ended")
	}
	at := g.now()
	ok, err := g.repo.EndRoom(ctx, room.ID, at)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fail(CodeConflict, "room has already ended")
	}

	g.bestEffort(ctx, c, "clear_members", func(ctx context.Context) error {
		_, err := g.repo.ClearRoomMembers(ctx, room.ID)
		return err
	})
	g.bestEffort(ctx, c, "room_event", func(ctx context.Context) error {
		return g.repo.AppendRoomEvent(ctx, g.roomEvent(room.ID, roomEnded, c.userID(), ""))
	})
	return map[string]any{"room_id": room.ID, "status": domain.RoomEnded, "ended_at": at}, nil
}
