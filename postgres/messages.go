package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/toolshare/toolshare/api"
)

// InsertMessage persists a message and bumps the parent conversation's
// last-messaged timestamp in the same transaction, so a durable message is
// never invisible to conversation ordering.
func (pg *Postgres) InsertMessage(ctx context.Context, msg api.Message) (api.Message, error) {
	m := &message{
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		MessageText:    msg.Text,
	}

	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		res, err := tx.NewUpdate().
			Model((*conversation)(nil)).
			Set("last_messaged_at = ?", m.CreatedAt).
			Where("c.id = ?", msg.ConversationID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update conversation: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("update conversation: %w", api.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return api.Message{}, err
	}

	var sender user
	if err := pg.bun.NewSelect().
		Model(&sender).
		Column("u.id", "u.name").
		Where("u.id = ?", msg.SenderID).
		Scan(ctx); err == nil {
		m.Sender = &sender
	}
	return m.APIMessage(), nil
}

// ListMessages returns a conversation's messages ordered ascending by
// creation time, each with a shallow sender projection. A non-zero after
// filters to strictly newer messages; the skew buffer is the caller's
// concern.
func (pg *Postgres) ListMessages(ctx context.Context, conversationID string, after time.Time, limit int, excludeMsgIDs ...string) ([]api.Message, error) {
	var msgs []message
	q := pg.bun.NewSelect().
		Model(&msgs).
		Relation("Sender").
		Where("m.conversation_id = ?", conversationID).
		Order("m.created_at ASC", "m.id ASC").
		Limit(limit)

	if !after.IsZero() {
		q = q.Where("m.created_at > ?", after)
	}
	if len(excludeMsgIDs) > 0 {
		q = q.Where("m.id NOT IN (?)", bun.In(excludeMsgIDs))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	out := make([]api.Message, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].APIMessage()
	}
	return out, nil
}

// GetMessage returns a single message by id.
func (pg *Postgres) GetMessage(ctx context.Context, messageID string) (api.Message, error) {
	var m message
	err := pg.bun.NewSelect().
		Model(&m).
		Relation("Sender").
		Where("m.id = ?", messageID).
		Scan(ctx)
	if err != nil {
		return api.Message{}, fmt.Errorf("select message: %w", notFound(err))
	}
	return m.APIMessage(), nil
}

// DeleteMessage removes a message row. Sender authorization happens in the
// API layer.
func (pg *Postgres) DeleteMessage(ctx context.Context, messageID string) error {
	res, err := pg.bun.NewDelete().
		Model((*message)(nil)).
		Where("m.id = ?", messageID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete message: %w", api.ErrNotFound)
	}
	return nil
}

// UnreadCount counts messages from other participants newer than the
// user's persisted read marker, across all of the user's conversations.
// Conversations without a marker count in full.
func (pg *Postgres) UnreadCount(ctx context.Context, userID string) (int, error) {
	count, err := pg.bun.NewSelect().
		Model((*message)(nil)).
		Join("JOIN conversations AS c ON c.id = m.conversation_id").
		Join("LEFT JOIN conversation_reads AS cr ON cr.conversation_id = m.conversation_id AND cr.user_id = ?", userID).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("c.buyer_id = ?", userID).WhereOr("c.seller_id = ?", userID)
		}).
		Where("m.sender_id != ?", userID).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("cr.last_read_at IS NULL").WhereOr("m.created_at > cr.last_read_at")
		}).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count unread messages: %w", err)
	}
	return count, nil
}

// MarkConversationRead upserts the user's read marker for a conversation.
func (pg *Postgres) MarkConversationRead(ctx context.Context, conversationID, userID string, at time.Time) error {
	marker := &conversationRead{
		ConversationID: conversationID,
		UserID:         userID,
		LastReadAt:     at,
	}
	_, err := pg.bun.NewInsert().
		Model(marker).
		On("CONFLICT (conversation_id, user_id) DO UPDATE").
		Set("last_read_at = EXCLUDED.last_read_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert read marker: %w", err)
	}
	return nil
}
