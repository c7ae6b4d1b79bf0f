package chatclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestClient_SendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/message/messages" {
			t.Errorf("Got %s %s, want POST /message/messages", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token123" {
			t.Errorf("Got Authorization %q, want Bearer token123", got)
		}
		w.WriteHeader(201)
		w.Write([]byte(`{
			"status": "success",
			"message": "Message sent successfully",
			"data": {
				"id": "m1",
				"conversation_id": "` + convA + `",
				"sender_id": "` + userA + `",
				"text": "hello",
				"created_at": "2024-01-01T00:00:00Z"
			}
		}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, Token: "token123"}
	msg, err := c.SendMessage(context.Background(), convA, userA, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != "m1" || msg.Text != "hello" {
		t.Errorf("Got message %+v, want m1/hello", msg)
	}
}

func TestClient_ListMessages(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 10, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wantPath := "/message/conversations/" + convA + "/messages"
		if r.URL.Path != wantPath {
			t.Errorf("Got path %s, want %s", r.URL.Path, wantPath)
		}
		q := r.URL.Query()
		if got := q.Get("since"); got != "2024-01-01T00:00:10Z" {
			t.Errorf("Got since %q, want 2024-01-01T00:00:10Z", got)
		}
		if got := q.Get("limit"); got != "25" {
			t.Errorf("Got limit %q, want 25", got)
		}
		w.Write([]byte(`{
			"message": "Messages retrieved successfully",
			"messages": [
				{"id": "m1", "conversation_id": "` + convA + `", "sender_id": "` + userB + `", "text": "hi", "created_at": "2024-01-01T00:00:11Z"}
			]
		}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, Token: "token123"}
	msgs, err := c.ListMessages(context.Background(), convA, since, 25)
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	if diff := cmp.Diff([]string{"m1"}, ids); diff != "" {
		t.Errorf("Messages mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":"invalid token"}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, Token: "expired"}
	if _, err := c.ListMessages(context.Background(), convA, time.Time{}, 0); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Got error %v, want ErrUnauthorized", err)
	}
}

func TestClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, Token: "token123"}
	_, err := c.UnreadCount(context.Background())
	if err == nil || errors.Is(err, ErrUnauthorized) {
		t.Errorf("Got error %v, want generic status error", err)
	}
}

func TestClient_MarkConversationRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wantPath := "/message/conversations/" + convA + "/read"
		if r.Method != "POST" || r.URL.Path != wantPath {
			t.Errorf("Got %s %s, want POST %s", r.Method, r.URL.Path, wantPath)
		}
		w.Write([]byte(`{"message":"Conversation marked as read"}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, Token: "token123"}
	if err := c.MarkConversationRead(context.Background(), convA); err != nil {
		t.Fatal(err)
	}
}

func TestClient_CreateConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/message/conversations" {
			t.Errorf("Got %s %s, want POST /message/conversations", r.Method, r.URL.Path)
		}
		w.WriteHeader(201)
		w.Write([]byte(`{
			"message": "Conversation created successfully",
			"conversation": {"id": "` + convA + `", "buyer_id": "` + userA + `", "seller_id": "` + userB + `"}
		}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, Token: "token123"}
	conv, err := c.CreateConversation(context.Background(), "", userA, userB)
	if err != nil {
		t.Fatal(err)
	}
	if conv.ID != convA {
		t.Errorf("Got conversation id %q, want %q", conv.ID, convA)
	}
}
