package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
)

// Well-formed ids shared across the handler tests.
const (
	testCallerID      = "3f2f3c1e-9b1a-4c5e-8f0d-1a2b3c4d5e6f"
	testOtherID       = "7e8d9c0b-6a5f-4e3d-9c2b-1a0f9e8d7c6b"
	testListingID     = "1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed"
	testConvID        = "84bd9af7-79e6-4027-b284-9d5d875efd5b"
	testMessageID     = "5c52c1b6-71d0-4a4a-9a52-3d0cf2b9f1aa"
	testReservationID = "9d5adf5e-2f54-4a33-8a2c-6f4b1c2d3e4a"
)

var testSecret = []byte("test-secret")

func TestAPI_auth(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{
			name:       "MissingHeader",
			header:     "",
			wantStatus: 401,
		},
		{
			name:       "NotBearer",
			header:     "Basic abc",
			wantStatus: 401,
		},
		{
			name:       "GarbageToken",
			header:     "Bearer not.a.token",
			wantStatus: 401,
		},
		{
			name:       "Valid",
			header:     "valid",
			wantStatus: 200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &testdb{
				T: t,
				unreadCount: func(t *testing.T, userID string) (int, error) {
					if userID != testCallerID {
						t.Errorf("Got userID %q, want %q", userID, testCallerID)
					}
					return 0, nil
				},
			}
			api := &API{
				DB:     db,
				Cache:  &testcache{T: t},
				Logger: slogt.New(t),
				Auth:   &Auth{Secret: testSecret},
			}

			srv := newTestServer(t, api)
			defer srv.Close()

			req, _ := http.NewRequest("GET", srv.URL+"/message/unread-count", nil)
			if tt.header == "valid" {
				token, err := api.Auth.Sign(testCallerID, time.Hour)
				if err != nil {
					t.Fatal(err)
				}
				req.Header.Set("Authorization", "Bearer "+token)
			} else if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			checkStatus(t, resp.StatusCode, tt.wantStatus)
		})
	}
}

func TestAuth_SignExpiry(t *testing.T) {
	auth := &Auth{Secret: testSecret}
	token, err := auth.Sign(testCallerID, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	api := &API{
		DB:     &testdb{T: t},
		Cache:  &testcache{T: t},
		Logger: slogt.New(t),
		Auth:   auth,
	}
	srv := newTestServer(t, api)
	defer srv.Close()

	req, _ := http.NewRequest("GET", srv.URL+"/message/unread-count", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	checkStatus(t, resp.StatusCode, 401)
}

// testdb fakes the DB interface. Unset funcs panic when called, which is
// the failure we want: the test exercised a path it did not declare.
type testdb struct {
	T *testing.T

	createListing    func(t *testing.T, listing Listing, imageURLs, tags []string) (Listing, error)
	updateListing    func(t *testing.T, edit ListingEdit) ([]string, error)
	deleteListing    func(t *testing.T, listingID string) error
	getListing       func(t *testing.T, listingID string) (Listing, error)
	listUserListings func(t *testing.T, userID string) ([]Listing, error)
	searchListings   func(t *testing.T, q ListingSearch) ([]Listing, error)

	createReservation    func(t *testing.T, res Reservation) (Reservation, error)
	deleteReservation    func(t *testing.T, reservationID string) error
	listUserReservations func(t *testing.T, userID string) ([]Reservation, error)

	findConversation      func(t *testing.T, listingID, buyerID, sellerID string) (Conversation, error)
	createConversation    func(t *testing.T, conv Conversation) (Conversation, error)
	getConversation       func(t *testing.T, conversationID string) (Conversation, error)
	listUserConversations func(t *testing.T, userID string) ([]Conversation, error)
	deleteConversation    func(t *testing.T, conversationID string) error

	insertMessage        func(t *testing.T, msg Message) (Message, error)
	listMessages         func(t *testing.T, conversationID string, since time.Time, limit int, excludeMsgIDs ...string) ([]Message, error)
	getMessage           func(t *testing.T, messageID string) (Message, error)
	deleteMessage        func(t *testing.T, messageID string) error
	unreadCount          func(t *testing.T, userID string) (int, error)
	markConversationRead func(t *testing.T, conversationID, userID string, at time.Time) error

	createReview func(t *testing.T, rev Review) (Review, error)
	listReviews  func(t *testing.T, subjectType, subjectID string) ([]Review, error)

	getUser func(t *testing.T, userID string) (User, error)
}

func (db *testdb) CreateListing(_ context.Context, listing Listing, imageURLs, tags []string) (Listing, error) {
	return db.createListing(db.T, listing, imageURLs, tags)
}

func (db *testdb) UpdateListing(_ context.Context, edit ListingEdit) ([]string, error) {
	return db.updateListing(db.T, edit)
}

func (db *testdb) DeleteListing(_ context.Context, listingID string) error {
	return db.deleteListing(db.T, listingID)
}

func (db *testdb) GetListing(_ context.Context, listingID string) (Listing, error) {
	return db.getListing(db.T, listingID)
}

func (db *testdb) ListUserListings(_ context.Context, userID string) ([]Listing, error) {
	return db.listUserListings(db.T, userID)
}

func (db *testdb) SearchListings(_ context.Context, q ListingSearch) ([]Listing, error) {
	return db.searchListings(db.T, q)
}

func (db *testdb) CreateReservation(_ context.Context, res Reservation) (Reservation, error) {
	return db.createReservation(db.T, res)
}

func (db *testdb) DeleteReservation(_ context.Context, reservationID string) error {
	return db.deleteReservation(db.T, reservationID)
}

func (db *testdb) ListUserReservations(_ context.Context, userID string) ([]Reservation, error) {
	return db.listUserReservations(db.T, userID)
}

func (db *testdb) FindConversation(_ context.Context, listingID, buyerID, sellerID string) (Conversation, error) {
	return db.findConversation(db.T, listingID, buyerID, sellerID)
}

func (db *testdb) CreateConversation(_ context.Context, conv Conversation) (Conversation, error) {
	return db.createConversation(db.T, conv)
}

func (db *testdb) GetConversation(_ context.Context, conversationID string) (Conversation, error) {
	return db.getConversation(db.T, conversationID)
}

func (db *testdb) ListUserConversations(_ context.Context, userID string) ([]Conversation, error) {
	return db.listUserConversations(db.T, userID)
}

func (db *testdb) DeleteConversation(_ context.Context, conversationID string) error {
	return db.deleteConversation(db.T, conversationID)
}

func (db *testdb) InsertMessage(_ context.Context, msg Message) (Message, error) {
	return db.insertMessage(db.T, msg)
}

func (db *testdb) ListMessages(_ context.Context, conversationID string, since time.Time, limit int, excludeMsgIDs ...string) ([]Message, error) {
	return db.listMessages(db.T, conversationID, since, limit, excludeMsgIDs...)
}

func (db *testdb) GetMessage(_ context.Context, messageID string) (Message, error) {
	return db.getMessage(db.T, messageID)
}

func (db *testdb) DeleteMessage(_ context.Context, messageID string) error {
	return db.deleteMessage(db.T, messageID)
}

func (db *testdb) UnreadCount(_ context.Context, userID string) (int, error) {
	return db.unreadCount(db.T, userID)
}

func (db *testdb) MarkConversationRead(_ context.Context, conversationID, userID string, at time.Time) error {
	return db.markConversationRead(db.T, conversationID, userID, at)
}

func (db *testdb) CreateReview(_ context.Context, rev Review) (Review, error) {
	return db.createReview(db.T, rev)
}

func (db *testdb) ListReviews(_ context.Context, subjectType, subjectID string) ([]Review, error) {
	return db.listReviews(db.T, subjectType, subjectID)
}

func (db *testdb) GetUser(_ context.Context, userID string) (User, error) {
	if db.getUser == nil {
		return User{ID: userID}, nil
	}
	return db.getUser(db.T, userID)
}

// testcache fakes the Cache interface. Unset funcs are harmless no-ops
// since every cache failure is non-fatal to the handlers anyway.
type testcache struct {
	T *testing.T

	listMessages       func(t *testing.T, conversationID string) ([]Message, error)
	insertMessage      func(t *testing.T, msg Message) error
	removeMessage      func(t *testing.T, conversationID, messageID string) error
	removeConversation func(t *testing.T, conversationID string) error
}

func (c *testcache) ListMessages(_ context.Context, conversationID string) ([]Message, error) {
	if c.listMessages == nil {
		return nil, nil
	}
	return c.listMessages(c.T, conversationID)
}

func (c *testcache) InsertMessage(_ context.Context, msg Message) error {
	if c.insertMessage == nil {
		return nil
	}
	return c.insertMessage(c.T, msg)
}

func (c *testcache) RemoveMessage(_ context.Context, conversationID, messageID string) error {
	if c.removeMessage == nil {
		return nil
	}
	return c.removeMessage(c.T, conversationID, messageID)
}

func (c *testcache) RemoveConversation(_ context.Context, conversationID string) error {
	if c.removeConversation == nil {
		return nil
	}
	return c.removeConversation(c.T, conversationID)
}

// testobjects fakes the ObjectStore and records what was uploaded and
// deleted so tests can assert on compensation behavior.
type testobjects struct {
	T *testing.T

	upload func(t *testing.T, data []byte) (string, error)
	del    func(t *testing.T, url string) error

	uploaded []string
	deleted  []string
}

func (o *testobjects) Upload(_ context.Context, data []byte) (string, error) {
	url, err := o.upload(o.T, data)
	if err == nil {
		o.uploaded = append(o.uploaded, url)
	}
	return url, err
}

func (o *testobjects) Delete(_ context.Context, url string) error {
	o.deleted = append(o.deleted, url)
	if o.del == nil {
		return nil
	}
	return o.del(o.T, url)
}

func newTestServer(t *testing.T, api *API) *httptest.Server {
	t.Helper()
	return httptest.NewServer(api)
}

// authedRequest builds a request carrying a token signed for callerID.
func authedRequest(t *testing.T, method, url, callerID string, body io.Reader) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatal(err)
	}
	auth := &Auth{Secret: testSecret}
	token, err := auth.Sign(callerID, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func checkStatus(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("Got HTTP status %d, want %d", got, want)
	}
}

func checkBody(t *testing.T, resp *http.Response, want string) {
	t.Helper()
	gotBody := normalizeJSON(t, resp.Body)
	wantBody := normalizeJSON(t, bytes.NewReader([]byte(want)))
	if gotBody != wantBody {
		t.Errorf("Body does not match\nGot\n  %s\n\nWant\n  %s", gotBody, wantBody)
	}
}

func checkLog(t *testing.T, buffer *bytes.Buffer, want string) {
	t.Helper()

	if s := buffer.String(); want != "" && !strings.Contains(s, want) {
		t.Errorf("Log does not contain  %s\n", want)
	}
}

func normalizeJSON(t *testing.T, r io.Reader) string {
	t.Helper()
	var buf bytes.Buffer
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("Could not read JSON: %v", err)
	}
	if err := json.Indent(&buf, b, "  ", "  "); err != nil {
		t.Fatalf("Could not indent JSON: %v", err)
	}
	return strings.TrimSpace(buf.String())
}
