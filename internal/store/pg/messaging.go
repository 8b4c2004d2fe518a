package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"turnstile.app/internal/domain"
)

const messageColumns = `id, conversation_id, sender_id, client_message_id, body, created_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (domain.Message, error) {
	var (
		m       domain.Message
		deleted sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ClientMessageID, &m.Body, &m.CreatedAt, &deleted); err != nil {
		return domain.Message{}, err
	}
	m.DeletedAt = timePtr(deleted)
	return m, nil
}

func (s *Store) Conversation(ctx context.Context, id string) (domain.Conversation, error) {
	var c domain.Conversation
	err := s.db.QueryRowContext(ctx, `
		select id, title, created_by, created_at from conversations where id = $1
	`, id).Scan(&c.ID, &c.Title, &c.CreatedBy, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Conversation{}, domain.ErrNotFound
	}
	return c, err
}

func (s *Store) ConversationMembers(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id from conversation_members where conversation_id = $1 order by user_id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		members = append(members, uid)
	}
	return members, rows.Err()
}

func (s *Store) IsConversationMember(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from conversation_members where conversation_id = $1 and user_id = $2)
	`, conversationID, userID).Scan(&exists)
	return exists, err
}

func (s *Store) CreateConversation(ctx context.Context, conv domain.Conversation, memberIDs []string) (domain.Conversation, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			insert into conversations (id, title, created_by, created_at) values ($1, $2, $3, $4)
		`, conv.ID, conv.Title, conv.CreatedBy, conv.CreatedAt); err != nil {
			return mapWriteErr(err)
		}
		for _, uid := range memberIDs {
			if _, err := tx.ExecContext(ctx, `
				insert into conversation_members (conversation_id, user_id, joined_at)
				values ($1, $2, $3)
				on conflict do nothing
			`, conv.ID, uid, conv.CreatedAt); err != nil {
				return mapWriteErr(err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	return conv, nil
}

func (s *Store) InsertMessage(ctx context.Context, m domain.Message) (domain.Message, bool, error) {
	stored, err := scanMessage(s.db.QueryRowContext(ctx, `
		insert into messages (id, conversation_id, sender_id, client_message_id, body, created_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (sender_id, client_message_id) do nothing
		returning `+messageColumns,
		m.ID, m.ConversationID, m.SenderID, m.ClientMessageID, m.Body, m.CreatedAt))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, false, mapWriteErr(err)
	}
	stored, err = scanMessage(s.db.QueryRowContext(ctx, `
		select `+messageColumns+` from messages where sender_id = $1 and client_message_id = $2
	`, m.SenderID, m.ClientMessageID))
	if err != nil {
		return domain.Message{}, false, err
	}
	return stored, false, nil
}

func (s *Store) Message(ctx context.Context, id string) (domain.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, `select `+messageColumns+` from messages where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, domain.ErrNotFound
	}
	return m, err
}

func (s *Store) SoftDeleteMessage(ctx context.Context, id string, at time.Time) (bool, error) {
	return affected(s.db.ExecContext(ctx, `
		update messages set deleted_at = $2 where id = $1 and deleted_at is null
	`, id, at))
}
