package api

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// defaultMessageLimit caps a single retrieval when the caller does not
	// supply one.
	defaultMessageLimit = 100

	// sinceSkew widens an incremental fetch to tolerate clock and
	// timestamp-precision drift between client and server. The client
	// deduplicates the at-most-one already-seen message this can return.
	sinceSkew = time.Second
)

func (a *API) sendMessage(w http.ResponseWriter, r *http.Request) {
	type request struct {
		ConversationID string `json:"conversation_id" validate:"required,uuid4"`
		SenderID       string `json:"sender_id" validate:"required,uuid4"`
		Text           string `json:"text" validate:"required,max=1000"`
	}
	type response struct {
		Status  string  `json:"status"`
		Message string  `json:"message"`
		Data    Message `json:"data"`
	}

	var body request
	if !a.decodeBody(w, r, &body) {
		return
	}
	body.Text = strings.TrimSpace(body.Text)
	if !a.validateBody(w, &body) {
		return
	}

	conv, err := a.DB.GetConversation(r.Context(), body.ConversationID)
	if err != nil {
		a.respondStorageError(w, err, "Could not load conversation")
		return
	}
	if !conv.IsParticipant(body.SenderID) {
		a.respondError(w, http.StatusForbidden, ErrForbidden, "User is not part of this conversation")
		return
	}

	// One transaction covers the message row and the conversation's
	// last-messaged bump; a message must never be durable without it.
	msg, err := a.DB.InsertMessage(r.Context(), Message{
		ConversationID: body.ConversationID,
		SenderID:       body.SenderID,
		Text:           body.Text,
	})
	if err != nil {
		a.respondStorageError(w, err, "Could not send message")
		return
	}

	if err := a.Cache.InsertMessage(r.Context(), msg); err != nil {
		a.Logger.Error("Could not cache message", "error", err.Error())
	}

	a.respond(w, http.StatusCreated, response{
		Status:  "success",
		Message: "Message sent successfully",
		Data:    msg,
	})
}

func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Message  string    `json:"message"`
		Messages []Message `json:"messages"`
	}

	conversationID := r.PathValue("conversationID")
	if !isUUID(conversationID) {
		a.respondError(w, http.StatusBadRequest, ErrNotFound, "Invalid conversation ID")
		return
	}

	limit := defaultMessageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			a.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw), "Invalid limit")
			return
		}
		limit = n
	}

	// An unparseable since is ignored rather than rejected: the poll loop
	// treats every error as transient, so degrading to a full fetch is the
	// friendlier failure mode.
	var after time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			after = t.Add(-sinceSkew)
		} else {
			a.Logger.Warn("Ignoring invalid since parameter", "since", raw)
		}
	}

	// Recent messages come from the cache; anything older or missed comes
	// from the DB with the cached ids excluded.
	cached, err := a.Cache.ListMessages(r.Context(), conversationID)
	if err != nil {
		a.respondStorageError(w, err, "Could not list messages")
		return
	}
	msgs := make([]Message, 0, len(cached))
	excludeIDs := make([]string, 0, len(cached))
	for _, m := range cached {
		excludeIDs = append(excludeIDs, m.ID)
		if after.IsZero() || m.CreatedAt.After(after) {
			msgs = append(msgs, m)
		}
	}

	dbMsgs, err := a.DB.ListMessages(r.Context(), conversationID, after, limit, excludeIDs...)
	if err != nil {
		a.respondStorageError(w, err, "Could not list messages")
		return
	}
	msgs = append(msgs, dbMsgs...)

	// Ascending by creation time, ties broken by id for determinism.
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	a.respond(w, http.StatusOK, response{
		Message:  "Messages retrieved successfully",
		Messages: msgs,
	})
}

func (a *API) deleteMessage(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Message string `json:"message"`
	}

	messageID := r.PathValue("messageID")
	if !isUUID(messageID) {
		a.respondError(w, http.StatusBadRequest, ErrNotFound, "Invalid message ID")
		return
	}

	msg, err := a.DB.GetMessage(r.Context(), messageID)
	if err != nil {
		a.respondStorageError(w, err, "Could not load message")
		return
	}
	if msg.SenderID != CallerID(r.Context()) {
		a.respondError(w, http.StatusForbidden, ErrForbidden, "You can only delete your own messages")
		return
	}

	if err := a.DB.DeleteMessage(r.Context(), messageID); err != nil {
		a.respondStorageError(w, err, "Could not delete message")
		return
	}
	if err := a.Cache.RemoveMessage(r.Context(), msg.ConversationID, messageID); err != nil {
		a.Logger.Error("Could not evict message from cache", "message_id", messageID, "error", err.Error())
	}

	a.respond(w, http.StatusOK, response{Message: "Message deleted successfully"})
}

func (a *API) unreadCount(w http.ResponseWriter, r *http.Request) {
	type response struct {
		UnreadCount int `json:"unreadCount"`
	}

	userID := r.PathValue("userID")
	if userID == "" {
		userID = CallerID(r.Context())
	}
	if !isUUID(userID) {
		a.respondError(w, http.StatusBadRequest, ErrNotFound, "Invalid user ID")
		return
	}

	count, err := a.DB.UnreadCount(r.Context(), userID)
	if err != nil {
		a.respondStorageError(w, err, "Failed to get unread message count")
		return
	}
	a.respond(w, http.StatusOK, response{UnreadCount: count})
}
