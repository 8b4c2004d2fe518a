package pg

import (
	"context"
	"database/sql"
	"errors"

	"turnstile.app/internal/auth"
	"turnstile.app/internal/domain"
)

func (s *Store) Session(ctx context.Context, id string) (auth.Session, error) {
	var (
		sess    auth.Session
		revoked sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, auth_user_id, expires_at, revoked_at, created_at
		from sessions
		where id = $1
	`, id).Scan(&sess.ID, &sess.AuthUserID, &sess.ExpiresAt, &revoked, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Session{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Session{}, err
	}
	sess.RevokedAt = timePtr(revoked)
	return sess, nil
}

func (s *Store) UserIDByAuthID(ctx context.Context, authUserID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `select id from users where auth_user_id = $1`, authUserID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", auth.ErrNotFound
	}
	return id, err
}

func (s *Store) User(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx, `
		select id, auth_user_id, display_name, avatar_url, created_at
		from users
		where id = $1
	`, id).Scan(&u.ID, &u.AuthUserID, &u.DisplayName, &u.AvatarURL, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	return u, err
}

func (s *Store) MissingUsers(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select want.id
		from unnest($1::text[]) as want(id)
		left join users u on u.id = want.id
		where u.id is null
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var missing []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		missing = append(missing, id)
	}
	return missing, rows.Err()
}

func (s *Store) SetAvatar(ctx context.Context, userID, avatarURL string) error {
	ok, err := affected(s.db.ExecContext(ctx, `update users set avatar_url = $2 where id = $1`, userID, avatarURL))
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	return nil
}
