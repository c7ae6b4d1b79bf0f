// Package api provides the REST endpoints for the tool rental marketplace
// and coordinates writes across the relational store and the object store.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Sentinel errors returned by storage implementations. The API maps them to
// HTTP status codes at the boundary.
var (
	// ErrNotFound signals that a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden signals that the caller is not allowed to touch the
	// entity, for example a non-participant posting to a conversation.
	ErrForbidden = errors.New("forbidden")
	// ErrDateConflict signals that a reservation overlaps an existing one
	// for the same listing.
	ErrDateConflict = errors.New("dates conflict with an existing reservation")
)

// A DB provides the relational storage layer. Implementations must run each
// multi-row write inside a single transaction: a method either applies all
// of its writes or none of them.
type DB interface {
	// Listings. CreateListing and UpdateListing only ever see image URLs
	// that already exist in the object store; they never touch the store
	// themselves.
	CreateListing(ctx context.Context, listing Listing, imageURLs []string, tags []string) (Listing, error)
	// UpdateListing returns the URLs of the image rows it removed, read
	// from the rows themselves inside the transaction. Callers must not
	// trust client-supplied URLs for blob cleanup.
	UpdateListing(ctx context.Context, edit ListingEdit) (removedURLs []string, err error)
	DeleteListing(ctx context.Context, listingID string) error
	GetListing(ctx context.Context, listingID string) (Listing, error)
	ListUserListings(ctx context.Context, userID string) ([]Listing, error)
	SearchListings(ctx context.Context, q ListingSearch) ([]Listing, error)

	// Reservations.
	CreateReservation(ctx context.Context, res Reservation) (Reservation, error)
	DeleteReservation(ctx context.Context, reservationID string) error
	ListUserReservations(ctx context.Context, userID string) ([]Reservation, error)

	// Conversations. FindConversation returns ErrNotFound when no thread
	// matches; for direct messages (empty listingID) both participant
	// orderings must be checked.
	FindConversation(ctx context.Context, listingID, buyerID, sellerID string) (Conversation, error)
	CreateConversation(ctx context.Context, conv Conversation) (Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (Conversation, error)
	ListUserConversations(ctx context.Context, userID string) ([]Conversation, error)
	DeleteConversation(ctx context.Context, conversationID string) error

	// Messages. InsertMessage persists the message and bumps the parent
	// conversation's last-messaged timestamp in one transaction.
	InsertMessage(ctx context.Context, msg Message) (Message, error)
	ListMessages(ctx context.Context, conversationID string, since time.Time, limit int, excludeMsgIDs ...string) ([]Message, error)
	GetMessage(ctx context.Context, messageID string) (Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkConversationRead(ctx context.Context, conversationID, userID string, at time.Time) error

	// Reviews. CreateReview inserts the row and refreshes the subject's
	// denormalized average rating in one transaction.
	CreateReview(ctx context.Context, rev Review) (Review, error)
	ListReviews(ctx context.Context, subjectType, subjectID string) ([]Review, error)

	GetUser(ctx context.Context, userID string) (User, error)
}

// A Cache provides a storage layer that caches the most recent messages of
// each conversation, serving the hot polling path.
type Cache interface {
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	InsertMessage(ctx context.Context, msg Message) error
	RemoveMessage(ctx context.Context, conversationID, messageID string) error
	RemoveConversation(ctx context.Context, conversationID string) error
}

// An ObjectStore holds image blobs. It has no transactional relationship to
// the DB: uploads happen before a transaction opens, deletes of committed
// blobs happen only after a commit, and deletes are best-effort.
type ObjectStore interface {
	Upload(ctx context.Context, data []byte) (string, error)
	Delete(ctx context.Context, url string) error
}

// API provides the REST endpoints for the application.
type API struct {
	Logger  *slog.Logger
	DB      DB
	Cache   Cache
	Objects ObjectStore
	Val     *Validator
	Auth    *Auth

	// Now is the clock used for status derivation and read markers. Tests
	// may replace it; nil means time.Now.
	Now func() time.Time

	once sync.Once
	mux  *http.ServeMux
}

func (a *API) setupRoutes() {
	mux := http.NewServeMux()

	auth := a.Auth.Require

	mux.Handle("POST /listing/create-listing", auth(http.HandlerFunc(a.createListing)))
	mux.Handle("PUT /listing/edit-listing", auth(http.HandlerFunc(a.editListing)))
	mux.Handle("DELETE /listing/delete-listing/{listingID}", auth(http.HandlerFunc(a.deleteListing)))
	mux.Handle("GET /listing/{listingID}", auth(http.HandlerFunc(a.getListing)))
	mux.Handle("GET /listing/my-listings", auth(http.HandlerFunc(a.myListings)))
	mux.Handle("GET /listing/search", auth(http.HandlerFunc(a.searchListings)))

	mux.Handle("POST /reservation/create-reservation", auth(http.HandlerFunc(a.createReservation)))
	mux.Handle("DELETE /reservation/delete/{reservationID}", auth(http.HandlerFunc(a.deleteReservation)))
	mux.Handle("GET /reservation/my-reservations", auth(http.HandlerFunc(a.myReservations)))

	mux.Handle("POST /message/conversations", auth(http.HandlerFunc(a.createConversation)))
	mux.Handle("GET /message/conversations", auth(http.HandlerFunc(a.listConversations)))
	mux.Handle("GET /message/conversations/{conversationID}", auth(http.HandlerFunc(a.getConversation)))
	mux.Handle("DELETE /message/conversations/{conversationID}", auth(http.HandlerFunc(a.deleteConversation)))
	mux.Handle("POST /message/conversations/{conversationID}/read", auth(http.HandlerFunc(a.markConversationRead)))
	mux.Handle("GET /message/conversations/{conversationID}/messages", auth(http.HandlerFunc(a.listMessages)))
	mux.Handle("POST /message/messages", auth(http.HandlerFunc(a.sendMessage)))
	mux.Handle("DELETE /message/messages/{messageID}", auth(http.HandlerFunc(a.deleteMessage)))
	mux.Handle("GET /message/unread-count", auth(http.HandlerFunc(a.unreadCount)))
	mux.Handle("GET /message/unread-count/{userID}", auth(http.HandlerFunc(a.unreadCount)))

	mux.Handle("POST /review/listing", auth(http.HandlerFunc(a.createListingReview)))
	mux.Handle("POST /review/user", auth(http.HandlerFunc(a.createUserReview)))
	mux.Handle("GET /review/listing/{listingID}", auth(http.HandlerFunc(a.listListingReviews)))
	mux.Handle("GET /review/user/{userID}", auth(http.HandlerFunc(a.listUserReviews)))

	a.mux = mux
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.once.Do(a.setupRoutes)
	a.Logger.Info("Request received", "method", r.Method, "path", r.URL.Path)
	a.mux.ServeHTTP(w, r)
}

func (a *API) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.Logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, err error, msg string) {
	type response struct {
		Error string `json:"error"`
	}
	a.Logger.Error("Error", "error", err.Error())
	a.respond(w, status, response{Error: msg})
}

// respondStorageError maps sentinel storage errors to their status codes
// and everything else to a generic 500. The underlying error is logged,
// never echoed to the caller.
func (a *API) respondStorageError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, ErrNotFound):
		a.respondError(w, http.StatusNotFound, err, "Not found")
	case errors.Is(err, ErrForbidden):
		a.respondError(w, http.StatusForbidden, err, "Forbidden")
	case errors.Is(err, ErrDateConflict):
		a.respondError(w, http.StatusConflict, err, ErrDateConflict.Error())
	default:
		a.respondError(w, http.StatusInternalServerError, err, msg)
	}
}

func (a *API) validateBody(w http.ResponseWriter, s interface{}) bool {
	errs := a.Val.ValidateStruct(s)
	type response struct {
		Errors []ValidationError `json:"errors"`
	}

	if len(errs) > 0 {
		a.respond(w, http.StatusBadRequest, &response{
			Errors: errs,
		})
		return false
	}
	return true
}

func (a *API) decodeBody(w http.ResponseWriter, r *http.Request, s interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(s); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return false
	}
	if err := r.Body.Close(); err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not close request body")
		return false
	}
	return true
}
