package postgres

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/toolshare/toolshare/api"
)

// A user row backs the shallow account projection the API exposes.
type user struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID        string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	Name      string    `bun:",notnull"`
	Email     string    `bun:",notnull"`
	Rating    float64   `bun:",notnull,default:0"`
	CreatedAt time.Time `bun:",nullzero,default:now()"`
}

type listing struct {
	bun.BaseModel `bun:"table:listings,alias:l"`

	ID          string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	OwnerID     string    `bun:",notnull,type:uuid"`
	Title       string    `bun:",notnull"`
	Category    string    `bun:",notnull"`
	Description string    `bun:""`
	Rate        float64   `bun:",notnull"`
	Rating      float64   `bun:",notnull,default:0"`
	CreatedAt   time.Time `bun:",nullzero,default:now()"`
	UpdatedAt   time.Time `bun:",nullzero,default:now()"`

	Images []listingImage `bun:"rel:has-many,join:id=listing_id"`
	Tags   []tag          `bun:"rel:has-many,join:id=listing_id"`
	Owner  *user          `bun:"rel:belongs-to,join:owner_id=id"`
}

type listingImage struct {
	bun.BaseModel `bun:"table:listing_images,alias:li"`

	ID        string `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	ListingID string `bun:",notnull,type:uuid"`
	URL       string `bun:"url,notnull"`
	MainPhoto bool   `bun:",notnull,default:false"`
}

type tag struct {
	bun.BaseModel `bun:"table:tags,alias:t"`

	ID        string `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	ListingID string `bun:",notnull,type:uuid"`
	Tag       string `bun:"tag,notnull"`
}

type reservation struct {
	bun.BaseModel `bun:"table:reservations,alias:r"`

	ID         string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	ListingID  string    `bun:",notnull,type:uuid"`
	UserID     string    `bun:",notnull,type:uuid"`
	StartDate  time.Time `bun:",notnull"`
	EndDate    time.Time `bun:",notnull"`
	TotalPrice float64   `bun:",notnull"`
	Status     string    `bun:",nullzero"`
	CreatedAt  time.Time `bun:",nullzero,default:now()"`

	Listing *listing `bun:"rel:belongs-to,join:listing_id=id"`
}

// A conversation row. ListingID is NULL for direct messages; there is no
// placeholder listing row.
type conversation struct {
	bun.BaseModel `bun:"table:conversations,alias:c"`

	ID             string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	ListingID      string    `bun:",nullzero,type:uuid"`
	BuyerID        string    `bun:",notnull,type:uuid"`
	SellerID       string    `bun:",notnull,type:uuid"`
	LastMessagedAt time.Time `bun:",nullzero,default:now()"`
	CreatedAt      time.Time `bun:",nullzero,default:now()"`

	Buyer   *user    `bun:"rel:belongs-to,join:buyer_id=id"`
	Seller  *user    `bun:"rel:belongs-to,join:seller_id=id"`
	Listing *listing `bun:"rel:belongs-to,join:listing_id=id"`
}

type message struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID             string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	ConversationID string    `bun:",notnull,type:uuid"`
	SenderID       string    `bun:",notnull,type:uuid"`
	MessageText    string    `bun:"message_text,notnull"`
	CreatedAt      time.Time `bun:",nullzero,default:now()"`

	Sender *user `bun:"rel:belongs-to,join:sender_id=id"`
}

// A conversationRead row persists how far a participant has read into a
// conversation. Unread counts derive from it.
type conversationRead struct {
	bun.BaseModel `bun:"table:conversation_reads,alias:cr"`

	ConversationID string    `bun:",pk,type:uuid"`
	UserID         string    `bun:",pk,type:uuid"`
	LastReadAt     time.Time `bun:",notnull"`
}

type review struct {
	bun.BaseModel `bun:"table:reviews,alias:rv"`

	ID          string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	SubjectType string    `bun:",notnull"`
	SubjectID   string    `bun:",notnull,type:uuid"`
	ReviewerID  string    `bun:",notnull,type:uuid"`
	Rating      float64   `bun:",notnull"`
	Comment     string    `bun:""`
	CreatedAt   time.Time `bun:",nullzero,default:now()"`
}

func (u *user) APIUser() api.User {
	return api.User{
		ID:     u.ID,
		Name:   u.Name,
		Email:  u.Email,
		Rating: u.Rating,
	}
}

func (l *listing) APIListing() api.Listing {
	out := api.Listing{
		ID:          l.ID,
		OwnerID:     l.OwnerID,
		Title:       l.Title,
		Category:    l.Category,
		Description: l.Description,
		Rate:        l.Rate,
		Rating:      l.Rating,
		Images:      make([]api.ListingImage, len(l.Images)),
		Tags:        make([]api.Tag, len(l.Tags)),
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}
	for i, img := range l.Images {
		out.Images[i] = img.APIListingImage()
	}
	for i, t := range l.Tags {
		out.Tags[i] = t.APITag()
	}
	if l.Owner != nil {
		owner := l.Owner.APIUser()
		out.Owner = &owner
	}
	return out
}

func (li *listingImage) APIListingImage() api.ListingImage {
	return api.ListingImage{
		ID:        li.ID,
		ListingID: li.ListingID,
		URL:       li.URL,
		MainPhoto: li.MainPhoto,
	}
}

func (t *tag) APITag() api.Tag {
	return api.Tag{
		ID:        t.ID,
		ListingID: t.ListingID,
		Tag:       t.Tag,
	}
}

func (r *reservation) APIReservation() api.Reservation {
	out := api.Reservation{
		ID:         r.ID,
		ListingID:  r.ListingID,
		UserID:     r.UserID,
		StartDate:  r.StartDate,
		EndDate:    r.EndDate,
		TotalPrice: r.TotalPrice,
		Status:     r.Status,
		CreatedAt:  r.CreatedAt,
	}
	if r.Listing != nil {
		l := r.Listing.APIListing()
		out.Listing = &l
	}
	return out
}

func (c *conversation) APIConversation() api.Conversation {
	out := api.Conversation{
		ID:             c.ID,
		ListingID:      c.ListingID,
		BuyerID:        c.BuyerID,
		SellerID:       c.SellerID,
		LastMessagedAt: c.LastMessagedAt,
		CreatedAt:      c.CreatedAt,
	}
	if c.Buyer != nil {
		buyer := c.Buyer.APIUser()
		out.Buyer = &buyer
	}
	if c.Seller != nil {
		seller := c.Seller.APIUser()
		out.Seller = &seller
	}
	if c.Listing != nil {
		l := c.Listing.APIListing()
		out.Listing = &l
	}
	return out
}

func (m *message) APIMessage() api.Message {
	out := api.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Text:           m.MessageText,
		CreatedAt:      m.CreatedAt,
	}
	if m.Sender != nil {
		out.Sender = &api.User{ID: m.Sender.ID, Name: m.Sender.Name}
	}
	return out
}

func (rv *review) APIReview() api.Review {
	return api.Review{
		ID:          rv.ID,
		SubjectType: rv.SubjectType,
		SubjectID:   rv.SubjectID,
		ReviewerID:  rv.ReviewerID,
		Rating:      rv.Rating,
		Comment:     rv.Comment,
		CreatedAt:   rv.CreatedAt,
	}
}
