package redis

import (
	"time"

	"github.com/toolshare/toolshare/api"
)

// A message is the flattened cache representation of a chat message. The
// sender projection is denormalized into the hash so the hot polling path
// never touches the relational store.
type message struct {
	ID             string    `redis:"id"`
	ConversationID string    `redis:"conversation_id"`
	SenderID       string    `redis:"sender_id"`
	SenderName     string    `redis:"sender_name"`
	Text           string    `redis:"text"`
	CreatedAt      time.Time `redis:"created_at"`
}

func (m message) APIMessage() api.Message {
	out := api.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Text:           m.Text,
		CreatedAt:      m.CreatedAt,
	}
	if m.SenderID != "" {
		out.Sender = &api.User{ID: m.SenderID, Name: m.SenderName}
	}
	return out
}
