package database

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cityfam/cityfam/internal/model"
	"github.com/google/uuid"
)

type conversationRow struct {
	ID          string `db:"id"`
	PairKey     string `db:"pair_key"`
	LastMessage string `db:"last_message"`
	UpdatedAt   int64  `db:"updated_at"`
	CreatedAt   int64  `db:"created_at"`
}

type messageRow struct {
	ID             string `db:"id"`
	ConversationID string `db:"conversation_id"`
	SenderID       string `db:"sender_id"`
	Text           string `db:"text"`
	CreatedAt      int64  `db:"created_at"`
}

func (r messageRow) toModel() model.Message {
	return model.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		Text:           r.Text,
		CreatedAt:      fromMillis(r.CreatedAt),
	}
}

// pairKey is order-independent so (a, b) and (b, a) share one conversation.
func pairKey(participants []string) string {
	p := append([]string(nil), participants...)
	sort.Strings(p)
	return strings.Join(p, "|")
}

// --- Conversation Methods ---

// CreateConversation inserts a conversation and its participants.
func (q *queries) CreateConversation(ctx context.Context, c *model.Conversation) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	_, err := q.exec(ctx, `INSERT INTO conversations (id, pair_key, last_message, updated_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, pairKey(c.Participants), c.LastMessage, toMillis(c.UpdatedAt), toMillis(c.CreatedAt))
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	for _, p := range c.Participants {
		if _, err := q.exec(ctx, "INSERT INTO conversation_participants (conversation_id, user_id) VALUES (?, ?)", c.ID, p); err != nil {
			return err
		}
	}
	return nil
}

// GetConversation returns a conversation with its participants.
func (q *queries) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var row conversationRow
	if err := q.get(ctx, &row, "SELECT id, pair_key, last_message, updated_at, created_at FROM conversations WHERE id = ?", id); err != nil {
		return nil, err
	}
	return q.loadConversation(ctx, row)
}

// FindConversationByPair returns the two-party conversation between a and b.
func (q *queries) FindConversationByPair(ctx context.Context, a, b string) (*model.Conversation, error) {
	var row conversationRow
	if err := q.get(ctx, &row, "SELECT id, pair_key, last_message, updated_at, created_at FROM conversations WHERE pair_key = ?",
		pairKey([]string{a, b})); err != nil {
		return nil, err
	}
	return q.loadConversation(ctx, row)
}

func (q *queries) loadConversation(ctx context.Context, row conversationRow) (*model.Conversation, error) {
	participants := []string{}
	if err := q.selectRows(ctx, &participants,
		"SELECT user_id FROM conversation_participants WHERE conversation_id = ? ORDER BY user_id", row.ID); err != nil {
		return nil, err
	}
	return &model.Conversation{
		ID:           row.ID,
		Participants: participants,
		LastMessage:  row.LastMessage,
		UpdatedAt:    fromMillis(row.UpdatedAt),
		CreatedAt:    fromMillis(row.CreatedAt),
	}, nil
}

// ListConversations returns the user's conversations, most recently active first.
func (q *queries) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	var rows []conversationRow
	if err := q.selectRows(ctx, &rows, `SELECT c.id, c.pair_key, c.last_message, c.updated_at, c.created_at
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.updated_at DESC, c.id`, userID); err != nil {
		return nil, err
	}
	out := make([]model.Conversation, 0, len(rows))
	for _, r := range rows {
		c, err := q.loadConversation(ctx, r)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// --- Message Methods ---

// AddMessage stores a message and bumps the conversation's last message.
// Timestamps within a conversation are kept strictly increasing so that
// messages sent in the same millisecond keep their send order.
func (q *queries) AddMessage(ctx context.Context, m *model.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	var last int64
	if err := q.get(ctx, &last, "SELECT COALESCE(MAX(created_at), 0) FROM messages WHERE conversation_id = ?",
		m.ConversationID); err != nil {
		return err
	}
	if toMillis(m.CreatedAt) <= last {
		m.CreatedAt = fromMillis(last + 1)
	}
	if _, err := q.exec(ctx, `INSERT INTO messages (id, conversation_id, sender_id, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.SenderID, m.Text, toMillis(m.CreatedAt)); err != nil {
		return err
	}
	return q.execOne(ctx, "UPDATE conversations SET last_message = ?, updated_at = ? WHERE id = ?",
		m.Text, toMillis(m.CreatedAt), m.ConversationID)
}

// ListMessages returns the latest limit messages, oldest first.
func (q *queries) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	var rows []messageRow
	if err := q.selectRows(ctx, &rows, `SELECT id, conversation_id, sender_id, text, created_at FROM messages
		WHERE conversation_id = ? ORDER BY created_at DESC, id DESC`+limitClause(limit), conversationID); err != nil {
		return nil, err
	}
	out := make([]model.Message, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r.toModel()
	}
	return out, nil
}
