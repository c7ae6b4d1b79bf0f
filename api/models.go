package api

import (
	"math"
	"time"
)

// A User is the shallow projection of an account attached to listings,
// conversations and messages. Credentials never pass through this API.
type User struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Email  string  `json:"email,omitempty"`
	Rating float64 `json:"rating"`
}

// A Listing represents a tool offered for rent.
type Listing struct {
	ID          string         `json:"id"`
	OwnerID     string         `json:"owner_id"`
	Title       string         `json:"title"`
	Category    string         `json:"category"`
	Description string         `json:"description"`
	Rate        float64        `json:"rate"`
	Rating      float64        `json:"rating"`
	Images      []ListingImage `json:"images"`
	Tags        []Tag          `json:"tags"`
	Owner       *User          `json:"owner,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// A ListingImage points at a blob in the object store. The row and the blob
// live in different failure domains; the listing coordinator keeps them
// consistent.
type ListingImage struct {
	ID        string `json:"id"`
	ListingID string `json:"listing_id"`
	URL       string `json:"url"`
	MainPhoto bool   `json:"main_photo"`
}

// A Tag is a lowercase search keyword attached to a listing.
type Tag struct {
	ID        string `json:"id"`
	ListingID string `json:"listing_id"`
	Tag       string `json:"tag"`
}

// A ListingEdit describes an incremental update to a listing: scalar field
// changes plus sets of rows to add and remove. Images and tags are mutated
// incrementally rather than replaced wholesale to minimise object-store
// churn.
type ListingEdit struct {
	ListingID      string
	Title          string
	Category       string
	Description    string
	Rate           float64
	NewImageURLs   []string
	NewTags        []string
	RemoveImageIDs []string
	RemoveTagIDs   []string
}

// A ListingSearch filters the listing catalog. Zero-valued fields are
// ignored. Keyword matching strips spaces and lowercases both sides, so
// "screw driver" finds "screwdriver". AvailableFrom and AvailableTo come
// as a pair and exclude listings with a reservation overlapping the window.
type ListingSearch struct {
	Keyword       string
	Category      string
	PostedAfter   time.Time
	AvailableFrom time.Time
	AvailableTo   time.Time
}

// A Reservation books a listing for a date range. Dates are date-only;
// TotalPrice is derived from the listing rate at creation time.
type Reservation struct {
	ID         string    `json:"id"`
	ListingID  string    `json:"listing_id"`
	UserID     string    `json:"user_id"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	TotalPrice float64   `json:"total_price"`
	Status     string    `json:"status"`
	Listing    *Listing  `json:"listing,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Reservation display statuses. The status shown to users is derived from
// the dates on every read; the stored column is only authoritative for
// cancellation.
const (
	StatusUpcoming  = "Upcoming"
	StatusActive    = "Active"
	StatusCompleted = "Completed"
	StatusCancelled = "Cancelled"

	// storedCancelled is the raw column value written on cancellation.
	storedCancelled = "cancelled"
)

// DisplayStatus derives the user-facing reservation status from the clock
// and the date range. A stored cancellation is terminal and overrides the
// dates.
func DisplayStatus(now time.Time, r Reservation) string {
	switch {
	case r.Status == storedCancelled:
		return StatusCancelled
	case now.Before(r.StartDate):
		return StatusUpcoming
	case !now.After(r.EndDate):
		return StatusActive
	default:
		return StatusCompleted
	}
}

// RentalDays returns the number of billable days between two date-only
// values. Partial days round up.
func RentalDays(start, end time.Time) int {
	return int(math.Ceil(end.Sub(start).Hours() / 24))
}

// A Conversation is a message thread between a buyer and a seller,
// optionally about a listing. An empty ListingID means a direct message;
// there is no placeholder listing row behind it.
type Conversation struct {
	ID                string    `json:"id"`
	ListingID         string    `json:"listing_id,omitempty"`
	BuyerID           string    `json:"buyer_id"`
	SellerID          string    `json:"seller_id"`
	Buyer             *User     `json:"buyer,omitempty"`
	Seller            *User     `json:"seller,omitempty"`
	Listing           *Listing  `json:"listing,omitempty"`
	LastMessage       string    `json:"last_message,omitempty"`
	LastMessageSender *User     `json:"last_message_sender,omitempty"`
	LastMessagedAt    time.Time `json:"last_messaged_at"`
	CreatedAt         time.Time `json:"created_at"`
}

// IsParticipant reports whether the user is one of the two sides of the
// conversation.
func (c Conversation) IsParticipant(userID string) bool {
	return c.BuyerID == userID || c.SellerID == userID
}

// A Message is a single chat message inside a conversation. Messages are
// totally ordered by CreatedAt, ties broken by ID.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"text"`
	Sender         *User     `json:"sender,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Review subject kinds.
const (
	SubjectListing = "listing"
	SubjectUser    = "user"
)

// A Review rates a listing or a user. Writing one recomputes the subject's
// denormalized average rating in the same transaction.
type Review struct {
	ID          string    `json:"id"`
	SubjectType string    `json:"subject_type"`
	SubjectID   string    `json:"subject_id"`
	ReviewerID  string    `json:"reviewer_id"`
	Rating      float64   `json:"rating"`
	Comment     string    `json:"comment"`
	CreatedAt   time.Time `json:"created_at"`
}
