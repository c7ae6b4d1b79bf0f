package chatclient

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/toolshare/toolshare/api"
)

// tempIDPrefix marks locally generated optimistic ids; a server id can
// never collide with one.
const tempIDPrefix = "tmp-"

// Defaults for the polling loop.
const (
	defaultPollInterval = 2 * time.Second
	defaultMinPollGap   = time.Second
	defaultHighlightTTL = 2 * time.Second
	defaultFetchLimit   = 100
)

// A Messenger is the transport the view talks through. *Client satisfies
// it; tests substitute fakes.
type Messenger interface {
	SendMessage(ctx context.Context, conversationID, senderID, text string) (api.Message, error)
	ListMessages(ctx context.Context, conversationID string, since time.Time, limit int) ([]api.Message, error)
	MarkConversationRead(ctx context.Context, conversationID string) error
}

// An Entry is one message in the locally merged view. Pending entries are
// optimistic echoes awaiting server confirmation; Unseen entries arrived
// via poll and have not yet been highlighted.
type Entry struct {
	api.Message
	Pending bool
	Unseen  bool
}

// View maintains the eventually consistent local picture of one open
// conversation: an ordered, deduplicated message list fed by both
// optimistic sends and the polling loop, plus unread counters for threads
// that are not open.
type View struct {
	UserID    string
	Messenger Messenger
	Logger    *slog.Logger

	// Zero values fall back to the protocol defaults.
	PollInterval time.Duration
	MinPollGap   time.Duration
	HighlightTTL time.Duration
	FetchLimit   int

	// OnAuthExpired fires when a poll discovers the credential has
	// expired, instead of the poll erroring loudly every interval.
	OnAuthExpired func()
	// OnSendFailed fires when an optimistic send is rolled back.
	OnSendFailed func(err error)
	// OnUpdate fires after every change to the merged list.
	OnUpdate func()

	mu             sync.Mutex
	generation     int
	conversationID string
	entries        []Entry
	ids            map[string]struct{}
	draft          string
	lastPollAt     time.Time
	unread         map[string]int
	hidden         bool
	cancel         context.CancelFunc
	nowFn          func() time.Time

	wg sync.WaitGroup
}

func (v *View) now() time.Time {
	if v.nowFn != nil {
		return v.nowFn()
	}
	return time.Now()
}

func (v *View) pollInterval() time.Duration {
	if v.PollInterval > 0 {
		return v.PollInterval
	}
	return defaultPollInterval
}

func (v *View) minPollGap() time.Duration {
	if v.MinPollGap > 0 {
		return v.MinPollGap
	}
	return defaultMinPollGap
}

func (v *View) highlightTTL() time.Duration {
	if v.HighlightTTL > 0 {
		return v.HighlightTTL
	}
	return defaultHighlightTTL
}

func (v *View) fetchLimit() int {
	if v.FetchLimit > 0 {
		return v.FetchLimit
	}
	return defaultFetchLimit
}

// Open selects a conversation: local state and the incremental cursor are
// cleared, the unread counter resets, one fetch runs immediately and the
// fixed-period poll timer starts. Any previously open conversation is
// closed first.
func (v *View) Open(conversationID string) {
	v.Close()

	v.mu.Lock()
	v.generation++
	gen := v.generation
	v.conversationID = conversationID
	v.entries = nil
	v.ids = make(map[string]struct{})
	v.lastPollAt = time.Time{}
	if v.unread == nil {
		v.unread = make(map[string]int)
	}
	v.unread[conversationID] = 0
	ctx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel
	v.mu.Unlock()

	if err := v.Messenger.MarkConversationRead(ctx, conversationID); err != nil {
		v.log().Debug("Could not persist read marker", "conversation_id", conversationID, "error", err.Error())
	}

	v.poll(ctx, gen, conversationID)

	go v.loop(ctx, gen, conversationID)
}

// Close stops the poll loop. Results of polls still in flight are refused
// rather than cancelled; they target a generation that no longer exists.
func (v *View) Close() {
	v.mu.Lock()
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	v.generation++
	v.conversationID = ""
	v.mu.Unlock()
}

func (v *View) loop(ctx context.Context, gen int, conversationID string) {
	ticker := time.NewTicker(v.pollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.poll(ctx, gen, conversationID)
		}
	}
}

// poll performs one incremental fetch and merges the result. It is a no-op
// when the target conversation is no longer the selected one or when the
// previous poll was less than the minimum gap ago.
func (v *View) poll(ctx context.Context, gen int, conversationID string) {
	v.mu.Lock()
	if gen != v.generation || conversationID != v.conversationID {
		v.mu.Unlock()
		return
	}
	if !v.lastPollAt.IsZero() && v.now().Sub(v.lastPollAt) < v.minPollGap() {
		v.mu.Unlock()
		return
	}
	v.lastPollAt = v.now()
	since := v.newestCreatedAtLocked()
	v.mu.Unlock()

	msgs, err := v.Messenger.ListMessages(ctx, conversationID, since, v.fetchLimit())
	if errors.Is(err, ErrUnauthorized) {
		if v.OnAuthExpired != nil {
			v.OnAuthExpired()
		}
		return
	}
	if err != nil {
		// Poll errors are transient by policy; the next tick retries.
		v.log().Debug("Poll failed", "conversation_id", conversationID, "error", err.Error())
		return
	}

	v.merge(gen, conversationID, msgs)
}

// merge folds a poll result into the local list. Entries whose id is
// already known (including optimistic ids since replaced) are discarded;
// novel ones are flagged unseen and the list is re-sorted.
func (v *View) merge(gen int, conversationID string, msgs []api.Message) {
	v.mu.Lock()
	if gen != v.generation || conversationID != v.conversationID {
		v.mu.Unlock()
		return
	}

	added := false
	for _, msg := range msgs {
		if _, ok := v.ids[msg.ID]; ok {
			continue
		}
		v.ids[msg.ID] = struct{}{}
		v.entries = append(v.entries, Entry{Message: msg, Unseen: true})
		added = true
		if msg.SenderID != v.UserID && v.hidden {
			v.unread[conversationID]++
		}
	}
	if added {
		v.sortLocked()
		time.AfterFunc(v.highlightTTL(), func() { v.clearUnseen(gen) })
	}
	v.mu.Unlock()

	if added {
		v.notify()
	}
}

// Send appends an optimistic echo with a temporary id, clears the draft
// and confirms the message with the server in the background. It returns
// the temporary id.
func (v *View) Send(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("empty message")
	}

	v.mu.Lock()
	if v.conversationID == "" {
		v.mu.Unlock()
		return "", errors.New("no conversation open")
	}
	gen := v.generation
	conversationID := v.conversationID
	tempID := tempIDPrefix + uuid.NewString()
	v.entries = append(v.entries, Entry{
		Message: api.Message{
			ID:             tempID,
			ConversationID: conversationID,
			SenderID:       v.UserID,
			Text:           text,
			CreatedAt:      v.now(),
		},
		Pending: true,
	})
	v.ids[tempID] = struct{}{}
	v.sortLocked()
	v.draft = ""
	v.mu.Unlock()

	v.notify()

	v.wg.Add(1)
	go v.completeSend(gen, conversationID, tempID, text)
	return tempID, nil
}

func (v *View) completeSend(gen int, conversationID, tempID, text string) {
	defer v.wg.Done()

	msg, err := v.Messenger.SendMessage(context.Background(), conversationID, v.UserID, text)

	v.mu.Lock()
	if gen != v.generation {
		// The conversation changed under us; the optimistic entry is
		// already gone.
		v.mu.Unlock()
		return
	}

	if err != nil {
		// Roll the echo back and restore the draft so the user can retry.
		v.removeLocked(tempID)
		v.draft = text
		v.mu.Unlock()
		v.log().Error("Could not send message", "conversation_id", conversationID, "error", err.Error())
		if v.OnSendFailed != nil {
			v.OnSendFailed(err)
		}
		v.notify()
		return
	}

	if _, ok := v.ids[msg.ID]; ok {
		// A concurrent poll already delivered the confirmed message; the
		// temporary entry would be a duplicate.
		v.removeLocked(tempID)
	} else {
		for i := range v.entries {
			if v.entries[i].ID == tempID {
				v.entries[i] = Entry{Message: msg}
				break
			}
		}
		delete(v.ids, tempID)
		v.ids[msg.ID] = struct{}{}
		v.sortLocked()
	}
	v.mu.Unlock()
	v.notify()
}

// Messages returns a snapshot of the merged, ordered list.
func (v *View) Messages() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Entry, len(v.entries))
	copy(out, v.entries)
	return out
}

// Draft returns the restored input text after a failed send.
func (v *View) Draft() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.draft
}

// SetVisible records whether the app is in the foreground. Messages
// arriving while hidden count as unread even for the open conversation.
func (v *View) SetVisible(visible bool) {
	v.mu.Lock()
	v.hidden = !visible
	v.mu.Unlock()
}

// UnreadCount returns the local unread counter for a conversation.
func (v *View) UnreadCount(conversationID string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.unread[conversationID]
}

// NoteIncoming records a message discovered outside the open conversation,
// for example by a conversation-list refresh. Known ids and the user's own
// messages never count.
func (v *View) NoteIncoming(msg api.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if msg.SenderID == v.UserID {
		return
	}
	if _, ok := v.ids[msg.ID]; ok {
		return
	}
	if msg.ConversationID == v.conversationID && !v.hidden {
		return
	}
	if v.unread == nil {
		v.unread = make(map[string]int)
	}
	v.unread[msg.ConversationID]++
}

// Flush waits for in-flight sends to settle. Intended for tests and
// shutdown paths.
func (v *View) Flush() {
	v.wg.Wait()
}

func (v *View) clearUnseen(gen int) {
	v.mu.Lock()
	if gen != v.generation {
		v.mu.Unlock()
		return
	}
	changed := false
	for i := range v.entries {
		if v.entries[i].Unseen {
			v.entries[i].Unseen = false
			changed = true
		}
	}
	v.mu.Unlock()
	if changed {
		v.notify()
	}
}

// newestCreatedAtLocked returns the incremental cursor: the newest
// server-confirmed timestamp. Pending echoes carry client-local times and
// must not advance it.
func (v *View) newestCreatedAtLocked() time.Time {
	var newest time.Time
	for i := range v.entries {
		if v.entries[i].Pending {
			continue
		}
		if v.entries[i].CreatedAt.After(newest) {
			newest = v.entries[i].CreatedAt
		}
	}
	return newest
}

func (v *View) removeLocked(id string) {
	delete(v.ids, id)
	for i := range v.entries {
		if v.entries[i].ID == id {
			v.entries = append(v.entries[:i], v.entries[i+1:]...)
			return
		}
	}
}

func (v *View) sortLocked() {
	sort.SliceStable(v.entries, func(i, j int) bool {
		if v.entries[i].CreatedAt.Equal(v.entries[j].CreatedAt) {
			return v.entries[i].ID < v.entries[j].ID
		}
		return v.entries[i].CreatedAt.Before(v.entries[j].CreatedAt)
	})
}

func (v *View) notify() {
	if v.OnUpdate != nil {
		v.OnUpdate()
	}
}

func (v *View) log() *slog.Logger {
	if v.Logger != nil {
		return v.Logger
	}
	return slog.Default()
}
