package api

import (
	"errors"
	"net/http"
)

func (a *API) createConversation(w http.ResponseWriter, r *http.Request) {
	type request struct {
		// ListingID is empty for a direct message between two users.
		ListingID string `json:"listing_id" validate:"omitempty,uuid4"`
		BuyerID   string `json:"buyer_id" validate:"required,uuid4"`
		SellerID  string `json:"seller_id" validate:"required,uuid4"`
	}
	type response struct {
		Message      string       `json:"message"`
		Conversation Conversation `json:"conversation"`
	}

	var body request
	if !a.decodeBody(w, r, &body) {
		return
	}
	if !a.validateBody(w, &body) {
		return
	}
	if body.BuyerID == body.SellerID {
		a.respondError(w, http.StatusBadRequest, ErrForbidden, "buyer_id and seller_id must differ")
		return
	}

	if _, err := a.DB.GetUser(r.Context(), body.BuyerID); err != nil {
		a.respondStorageError(w, err, "Could not load buyer")
		return
	}
	if _, err := a.DB.GetUser(r.Context(), body.SellerID); err != nil {
		a.respondStorageError(w, err, "Could not load seller")
		return
	}

	// Idempotent create: an existing thread for the same pair (in either
	// role ordering for direct messages) is returned as-is.
	existing, err := a.DB.FindConversation(r.Context(), body.ListingID, body.BuyerID, body.SellerID)
	if err == nil {
		a.respond(w, http.StatusOK, response{
			Message:      "Conversation already exists",
			Conversation: existing,
		})
		return
	}
	if !errors.Is(err, ErrNotFound) {
		a.respondStorageError(w, err, "Could not create conversation")
		return
	}

	conv, err := a.DB.CreateConversation(r.Context(), Conversation{
		ListingID: body.ListingID,
		BuyerID:   body.BuyerID,
		SellerID:  body.SellerID,
	})
	if err != nil {
		a.respondStorageError(w, err, "Could not create conversation")
		return
	}

	a.respond(w, http.StatusCreated, response{
		Message:      "Conversation created successfully",
		Conversation: conv,
	})
}

func (a *API) getConversation(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Conversation Conversation `json:"conversation"`
	}

	conversationID := r.PathValue("conversationID")
	if !isUUID(conversationID) {
		a.respondError(w, http.StatusBadRequest, ErrNotFound, "Invalid conversation ID")
		return
	}

	conv, err := a.DB.GetConversation(r.Context(), conversationID)
	if err != nil {
		a.respondStorageError(w, err, "Could not load conversation")
		return
	}
	a.respond(w, http.StatusOK, response{Conversation: conv})
}

func (a *API) listConversations(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Message       string         `json:"message"`
		Conversations []Conversation `json:"conversations"`
	}

	convs, err := a.DB.ListUserConversations(r.Context(), CallerID(r.Context()))
	if err != nil {
		a.respondStorageError(w, err, "Could not retrieve conversations")
		return
	}
	if convs == nil {
		convs = []Conversation{}
	}
	a.respond(w, http.StatusOK, response{
		Message:       "Conversations retrieved successfully",
		Conversations: convs,
	})
}

func (a *API) deleteConversation(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Message string `json:"message"`
	}

	conversationID := r.PathValue("conversationID")
	if !isUUID(conversationID) {
		a.respondError(w, http.StatusBadRequest, ErrNotFound, "Invalid conversation ID")
		return
	}

	conv, err := a.DB.GetConversation(r.Context(), conversationID)
	if err != nil {
		a.respondStorageError(w, err, "Could not load conversation")
		return
	}
	if !conv.IsParticipant(CallerID(r.Context())) {
		a.respondError(w, http.StatusForbidden, ErrForbidden, "You do not have permission to delete this conversation")
		return
	}

	if err := a.DB.DeleteConversation(r.Context(), conversationID); err != nil {
		a.respondStorageError(w, err, "Could not delete conversation")
		return
	}

	if err := a.Cache.RemoveConversation(r.Context(), conversationID); err != nil {
		a.Logger.Error("Could not evict conversation from cache", "conversation_id", conversationID, "error", err.Error())
	}

	a.respond(w, http.StatusOK, response{Message: "Conversation deleted successfully"})
}

func (a *API) markConversationRead(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Message string `json:"message"`
	}

	conversationID := r.PathValue("conversationID")
	if !isUUID(conversationID) {
		a.respondError(w, http.StatusBadRequest, ErrNotFound, "Invalid conversation ID")
		return
	}

	conv, err := a.DB.GetConversation(r.Context(), conversationID)
	if err != nil {
		a.respondStorageError(w, err, "Could not load conversation")
		return
	}
	caller := CallerID(r.Context())
	if !conv.IsParticipant(caller) {
		a.respondError(w, http.StatusForbidden, ErrForbidden, "User is not part of this conversation")
		return
	}

	if err := a.DB.MarkConversationRead(r.Context(), conversationID, caller, a.now()); err != nil {
		a.respondStorageError(w, err, "Could not mark conversation as read")
		return
	}
	a.respond(w, http.StatusOK, response{Message: "Conversation marked as read"})
}
