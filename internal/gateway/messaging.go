package gateway

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"turnstile.app/internal/domain"
	"turnstile.app/internal/ids"
	"turnstile.app/internal/notify"
)

const (
	maxMessageRunes     = 4000
	maxConversationSize = 50
)

type sendMessageRequest struct {
	ConversationID  string `json:"conversation_id"`
	Body            string `json:"body"`
	ClientMessageID string `json:"client_message_id"`
}

func (r *sendMessageRequest) Validate() error {
	r.ConversationID = strings.TrimSpace(r.ConversationID)
	r.Body = strings.TrimSpace(r.Body)
	switch {
	case r.ConversationID == "":
		return invalid("conversation_id is required")
	case r.Body == "":
		return invalid("body is required")
	case utf8.RuneCountInString(r.Body) > maxMessageRunes:
		return invalid("body must be at most %d characters", maxMessageRunes)
	}
	if r.ClientMessageID != "" {
		if _, err := uuid.Parse(r.ClientMessageID); err != nil {
			return invalid("client_message_id must be a UUID")
		}
	}
	return nil
}

type sendMessageResponse struct {
	Message domain.Message `json:"message"`
	Created bool           `json:"created"`
}

func (g *Gateway) sendMessage(ctx context.Context, c call, req *sendMessageRequest) (any, error) {
	conv, err := g.repo.Conversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	member, err := g.repo.IsConversationMember(ctx, conv.ID, c.userID())
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, fail(CodeForbidden, "not a member of this conversation")
	}

	clientID := req.ClientMessageID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	now := g.now()
	stored, created, err := g.repo.InsertMessage(ctx, domain.Message{
		ID:              ids.NewAt(now),
		ConversationID:  conv.ID,
		SenderID:        c.userID(),
		ClientMessageID: clientID,
		Body:            req.Body,
		CreatedAt:       now,
	})
	if err != nil {
		return nil, err
	}

	if created {
		g.dispatch(ctx, c, func(ctx context.Context) (notify.Notification, error) {
			members, err := g.repo.ConversationMembers(ctx, conv.ID)
			if err != nil {
				return notify.Notification{}, err
			}
			return notify.Notification{
				Kind:    notify.KindMessage,
				UserIDs: others(members, c.userID()),
				Body:    preview(stored.Body),
				Data:    map[string]string{"conversation_id": conv.ID, "message_id": stored.ID},
			}, nil
		})
	}
	return sendMessageResponse{Message: stored, Created: created}, nil
}

func preview(body string) string {
	const n = 120
	if utf8.RuneCountInString(body) <= n {
		return body
	}
	return string([]rune(body)[:n]) + "…"
}

type deleteMessageRequest struct {
	MessageID string `json:"message_id"`
}

func (r *deleteMessageRequest) Validate() error {
	r.MessageID = strings.TrimSpace(r.MessageID)
	if r.MessageID == "" {
		return invalid("message_id is required")
	}
	return nil
}

type deleteMessageResponse struct {
	MessageID string    `json:"message_id"`
	DeletedAt time.Time `json:"deleted_at"`
}

func (g *Gateway) deleteMessage(ctx context.Context, c call, req *deleteMessageRequest) (any, error) {
	m, err := g.repo.Message(ctx, req.MessageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != c.userID() {
		return nil, fail(CodeForbidden, "only the sender can delete a message")
	}
	if m.DeletedAt != nil {
		return nil, fail(CodeConflict, "message already deleted")
	}
	at := g.now()
	ok, err := g.repo.SoftDeleteMessage(ctx, m.ID, at)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fail(CodeConflict, "message already deleted")
	}
	return deleteMessageResponse{MessageID: m.ID, DeletedAt: at}, nil
}

type createConversationRequest struct {
	Title     string   `json:"title"`
	MemberIDs []string `json:"member_ids"`
}

func (r *createConversationRequest) Validate() error {
	r.Title = strings.TrimSpace(r.Title)
	if utf8.RuneCountInString(r.Title) > 200 {
		return invalid("title must be at most 200 characters")
	}
	if len(r.MemberIDs) == 0 {
		return invalid("member_ids must name at least one user")
	}
	if len(r.MemberIDs) > maxConversationSize {
		return invalid("member_ids must name at most %d users", maxConversationSize)
	}
	for i, id := range r.MemberIDs {
		r.MemberIDs[i] = strings.TrimSpace(id)
		if r.MemberIDs[i] == "" {
			return invalid("member_ids must not contain empty ids")
		}
	}
	return nil
}

type createConversationResponse struct {
	Conversation domain.Conversation `json:"conversation"`
	MemberIDs    []string            `json:"member_ids"`
}

func (g *Gateway) createConversation(ctx context.Context, c call, req *createConversationRequest) (any, error) {
	members := []string{c.userID()}
	seen := map[string]bool{c.userID(): true}
	for _, id := range req.MemberIDs {
		if !seen[id] {
			seen[id] = true
			members = append(members, id)
		}
	}
	if len(members) < 2 {
		return nil, invalid("a conversation needs someone besides you")
	}
	missing, err := g.repo.MissingUsers(ctx, members)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, fail(CodeNotFound, "%d member(s) do not exist", len(missing))
	}

	now := g.now()
	conv, err := g.repo.CreateConversation(ctx, domain.Conversation{
		ID:        ids.NewAt(now),
		Title:     req.Title,
		CreatedBy: c.userID(),
		CreatedAt: now,
	}, members)
	if err != nil {
		return nil, err
	}

	invited := others(members, c.userID())
	g.dispatch(ctx, c, func(context.Context) (notify.Notification, error) {
		return notify.Notification{
			Kind:    notify.KindConversationInvite,
			UserIDs: invited,
			Title:   conv.Title,
			Data:    map[string]string{"conversation_id": conv.ID},
		}, nil
	})
	return createConversationResponse{Conversation: conv, MemberIDs: members}, nil
}
