package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"turnstile.app/internal/domain"
)

func (s *Store) Room(ctx context.Context, id string) (domain.Room, error) {
	var (
		r     domain.Room
		ended sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, host_id, status, created_at, ended_at from rooms where id = $1
	`, id).Scan(&r.ID, &r.HostID, &r.Status, &r.CreatedAt, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Room{}, domain.ErrNotFound
	}
	r.EndedAt = timePtr(ended)
	return r, err
}

func (s *Store) RoomMember(ctx context.Context, roomID, userID string) (domain.RoomMember, error) {
	var m domain.RoomMember
	err := s.db.QueryRowContext(ctx, `
		select room_id, user_id, role from room_members where room_id = $1 and user_id = $2
	`, roomID, userID).Scan(&m.RoomID, &m.UserID, &m.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RoomMember{}, domain.ErrNotFound
	}
	return m, err
}

func (s *Store) RemoveRoomMember(ctx context.Context, roomID, userID string) (bool, error) {
	return affected(s.db.ExecContext(ctx, `
		delete from room_members where room_id = $1 and user_id = $2
	`, roomID, userID))
}

func (s *Store) EndRoom(ctx context.Context, roomID string, at time.Time) (bool, error) {
	return affected(s.db.ExecContext(ctx, `
		update rooms set status = 'ended', ended_at = $2 where id = $1 and status = 'open'
	`, roomID, at))
}

func (s *Store) ClearRoomMembers(ctx context.Context, roomID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from room_members where room_id = $1`, roomID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) AppendRoomEvent(ctx context.Context, ev domain.RoomEvent) error {
	_, err := s.db.ExecContext(ctx, `
		insert into room_events (id, room_id, kind, actor_id, target_id, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, ev.ID, ev.RoomID, ev.Kind, ev.ActorID, ev.TargetID, ev.CreatedAt)
	return mapWriteErr(err)
}
