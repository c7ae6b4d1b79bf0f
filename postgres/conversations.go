package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/toolshare/toolshare/api"
)

// FindConversation looks up an existing thread. For listing threads the
// (listing, buyer, seller) triple must match exactly; for direct messages
// (empty listingID) both role orderings count as the same thread, which is
// what makes conversation creation idempotent.
func (pg *Postgres) FindConversation(ctx context.Context, listingID, buyerID, sellerID string) (api.Conversation, error) {
	var c conversation
	q := pg.bun.NewSelect().Model(&c)

	if listingID == "" {
		q = q.Where("c.listing_id IS NULL").
			WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.
					WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
						return q.Where("c.buyer_id = ?", buyerID).Where("c.seller_id = ?", sellerID)
					}).
					WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
						return q.Where("c.buyer_id = ?", sellerID).Where("c.seller_id = ?", buyerID)
					})
			})
	} else {
		q = q.Where("c.listing_id = ?", listingID).
			Where("c.buyer_id = ?", buyerID).
			Where("c.seller_id = ?", sellerID)
	}

	if err := q.Limit(1).Scan(ctx); err != nil {
		return api.Conversation{}, fmt.Errorf("select conversation: %w", notFound(err))
	}
	return c.APIConversation(), nil
}

// CreateConversation inserts a conversation row.
func (pg *Postgres) CreateConversation(ctx context.Context, in api.Conversation) (api.Conversation, error) {
	c := &conversation{
		ListingID: in.ListingID,
		BuyerID:   in.BuyerID,
		SellerID:  in.SellerID,
	}
	if _, err := pg.bun.NewInsert().Model(c).Exec(ctx); err != nil {
		return api.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return c.APIConversation(), nil
}

// GetConversation returns a conversation with participant and listing
// projections plus its most recent message.
func (pg *Postgres) GetConversation(ctx context.Context, conversationID string) (api.Conversation, error) {
	var c conversation
	err := pg.bun.NewSelect().
		Model(&c).
		Relation("Buyer").
		Relation("Seller").
		Relation("Listing").
		Where("c.id = ?", conversationID).
		Scan(ctx)
	if err != nil {
		return api.Conversation{}, fmt.Errorf("select conversation: %w", notFound(err))
	}

	out := c.APIConversation()
	if err := pg.attachLastMessage(ctx, &out); err != nil {
		return api.Conversation{}, err
	}
	return out, nil
}

// ListUserConversations returns every conversation the user participates in
// (either role), most recently messaged first, each enriched with its last
// message and sender for list-view display.
func (pg *Postgres) ListUserConversations(ctx context.Context, userID string) ([]api.Conversation, error) {
	var cs []conversation
	err := pg.bun.NewSelect().
		Model(&cs).
		Relation("Buyer").
		Relation("Seller").
		Relation("Listing").
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("c.buyer_id = ?", userID).WhereOr("c.seller_id = ?", userID)
		}).
		Order("c.last_messaged_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select conversations: %w", err)
	}

	out := make([]api.Conversation, len(cs))
	for i := range cs {
		out[i] = cs[i].APIConversation()
		if err := pg.attachLastMessage(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DeleteConversation removes the conversation, its messages and its read
// markers in one transaction.
func (pg *Postgres) DeleteConversation(ctx context.Context, conversationID string) error {
	return pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*message)(nil)).
			Where("m.conversation_id = ?", conversationID).
			Exec(ctx); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if _, err := tx.NewDelete().
			Model((*conversationRead)(nil)).
			Where("cr.conversation_id = ?", conversationID).
			Exec(ctx); err != nil {
			return fmt.Errorf("delete read markers: %w", err)
		}
		res, err := tx.NewDelete().
			Model((*conversation)(nil)).
			Where("c.id = ?", conversationID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("delete conversation: %w", api.ErrNotFound)
		}
		return nil
	})
}

func (pg *Postgres) attachLastMessage(ctx context.Context, conv *api.Conversation) error {
	var m message
	err := pg.bun.NewSelect().
		Model(&m).
		Relation("Sender").
		Where("m.conversation_id = ?", conv.ID).
		Order("m.created_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("select last message: %w", err)
	}
	conv.LastMessage = m.MessageText
	if m.Sender != nil {
		conv.LastMessageSender = &api.User{ID: m.Sender.ID, Name: m.Sender.Name}
	}
	return nil
}
