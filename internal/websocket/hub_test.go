package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cavity/loveline/internal/auth"
	"github.com/cavity/loveline/internal/domain"
	"github.com/cavity/loveline/internal/presence"
	"github.com/cavity/loveline/internal/pubsub"
)

var testPair = []string{"cavity", "cingam"}

type fakeTokens struct{}

func (fakeTokens) ValidateToken(token string) (*auth.Claims, error) {
	username, ok := strings.CutPrefix(token, "tok-")
	if !ok {
		return nil, errors.New("bad token")
	}
	return &auth.Claims{UserID: uuid.New(), Username: username}, nil
}

type fakeMessageStore struct {
	mu      sync.Mutex
	created []*domain.Message
	read    []uuid.UUID
	fail    bool
}

func (s *fakeMessageStore) Create(ctx context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("db down")
	}
	s.created = append(s.created, msg)
	return nil
}

func (s *fakeMessageStore) MarkRead(ctx context.Context, id uuid.UUID, receiver string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return domain.ErrMessageNotFound
	}
	s.read = append(s.read, id)
	return nil
}

type fakeLetterStore struct {
	mu      sync.Mutex
	created []*domain.Letter
}

func (s *fakeLetterStore) Create(ctx context.Context, letter *domain.Letter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, letter)
	return nil
}

type fakeKeepsakeStore struct {
	mu      sync.Mutex
	created []*domain.Keepsake
	fail    bool
}

func (s *fakeKeepsakeStore) Create(ctx context.Context, k *domain.Keepsake) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("db down")
	}
	s.created = append(s.created, k)
	return nil
}

type fakeUserStore struct {
	mu      sync.Mutex
	touched []string
}

func (s *fakeUserStore) TouchLastSeen(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, username)
	return nil
}

type hubFixture struct {
	hub       *Hub
	messages  *fakeMessageStore
	letters   *fakeLetterStore
	keepsakes *fakeKeepsakeStore
	users     *fakeUserStore
}

func newHubFixture(ps pubsub.PubSub) *hubFixture {
	f := &hubFixture{
		messages:  &fakeMessageStore{},
		letters:   &fakeLetterStore{},
		keepsakes: &fakeKeepsakeStore{},
		users:     &fakeUserStore{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.hub = NewHub(presence.NewRegistry(), testPair, fakeTokens{}, f.messages, f.letters, f.keepsakes, f.users, ps, logger)
	return f
}

func newTestClient(h *Hub) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewClient(h, nil, logger)
	h.handleRegister(c)
	return c
}

// recvEvent pulls the next event off a client's send queue
func recvEvent(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Message{}
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("expected no event, got %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func drainEvents(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func announce(t *testing.T, h *Hub, c *Client, identity string) {
	t.Helper()
	payload, err := json.Marshal(UserOnlinePayload{Token: "tok-" + identity})
	require.NoError(t, err)
	h.HandleMessage(c, &Message{Type: EventTypeUserOnline, Payload: payload})
	require.Equal(t, identity, c.Identity())
}

func sendEvent(t *testing.T, h *Hub, c *Client, eventType string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	h.HandleMessage(c, &Message{Type: eventType, Payload: data})
}

func TestAnnounceBroadcastsPresenceToEveryone(t *testing.T) {
	f := newHubFixture(nil)
	a := newTestClient(f.hub)
	b := newTestClient(f.hub)

	announce(t, f.hub, a, "cavity")

	for _, c := range []*Client{a, b} {
		msg := recvEvent(t, c)
		require.Equal(t, EventTypePresence, msg.Type)

		var p PresencePayload
		require.NoError(t, json.Unmarshal(msg.Payload, &p))
		assert.Equal(t, []string{"cavity"}, p.Online)
	}
}

func TestAnnounceRejectsBadToken(t *testing.T) {
	f := newHubFixture(nil)
	c := newTestClient(f.hub)

	sendEvent(t, f.hub, c, EventTypeUserOnline, UserOnlinePayload{Token: "garbage"})

	msg := recvEvent(t, c)
	require.Equal(t, EventTypeError, msg.Type)

	var p ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, "auth_failed", p.Code)
	assert.False(t, c.IsIdentified())
}

func TestAnnounceRejectsUnknownIdentity(t *testing.T) {
	f := newHubFixture(nil)
	c := newTestClient(f.hub)

	sendEvent(t, f.hub, c, EventTypeUserOnline, UserOnlinePayload{Token: "tok-stranger"})

	msg := recvEvent(t, c)
	require.Equal(t, EventTypeError, msg.Type)

	var p ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, "not_invited", p.Code)
}

func TestReconnectTakesOverIdentity(t *testing.T) {
	f := newHubFixture(nil)
	old := newTestClient(f.hub)
	fresh := newTestClient(f.hub)

	announce(t, f.hub, old, "cavity")
	announce(t, f.hub, fresh, "cavity")
	drainEvents(fresh)

	// The stale connection's disconnect must not evict the fresh one
	f.hub.handleUnregister(old)

	msg := recvEvent(t, fresh)
	require.Equal(t, EventTypePresence, msg.Type)

	var p PresencePayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, []string{"cavity"}, p.Online, "cavity should survive the stale disconnect")

	// last_seen only updates when the holder of the identity goes away
	f.users.mu.Lock()
	assert.Empty(t, f.users.touched)
	f.users.mu.Unlock()
}

func TestDisconnectOfCurrentHolderGoesOffline(t *testing.T) {
	f := newHubFixture(nil)
	a := newTestClient(f.hub)
	b := newTestClient(f.hub)

	announce(t, f.hub, a, "cavity")
	announce(t, f.hub, b, "cingam")
	drainEvents(b)

	f.hub.handleUnregister(a)

	msg := recvEvent(t, b)
	require.Equal(t, EventTypePresence, msg.Type)

	var p PresencePayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, []string{"cingam"}, p.Online)

	f.users.mu.Lock()
	assert.Equal(t, []string{"cavity"}, f.users.touched)
	f.users.mu.Unlock()
}

func TestMessageDeliveredToPartnerAndConfirmed(t *testing.T) {
	f := newHubFixture(nil)
	a := newTestClient(f.hub)
	b := newTestClient(f.hub)
	announce(t, f.hub, a, "cavity")
	announce(t, f.hub, b, "cingam")
	drainEvents(a)
	drainEvents(b)

	sendEvent(t, f.hub, a, EventTypeMessageSend, MessageSendPayload{Body: "miss you", TempID: "t1"})

	got := recvEvent(t, b)
	require.Equal(t, EventTypeMessageNew, got.Type)
	var newP MessageNewPayload
	require.NoError(t, json.Unmarshal(got.Payload, &newP))
	assert.Equal(t, "cavity", newP.Sender)
	assert.Equal(t, "miss you", newP.Body)

	conf := recvEvent(t, a)
	require.Equal(t, EventTypeMessageSent, conf.Type)
	var sentP MessageSentPayload
	require.NoError(t, json.Unmarshal(conf.Payload, &sentP))
	assert.Equal(t, "t1", sentP.TempID)
	assert.True(t, sentP.Delivered)
	assert.Equal(t, newP.ID, sentP.ID)

	f.messages.mu.Lock()
	require.Len(t, f.messages.created, 1)
	assert.Equal(t, "cingam", f.messages.created[0].Receiver)
	f.messages.mu.Unlock()
}

func TestMessageToOfflinePartnerIsStoredNotDelivered(t *testing.T) {
	f := newHubFixture(nil)
	a := newTestClient(f.hub)
	announce(t, f.hub, a, "cavity")
	drainEvents(a)

	sendEvent(t, f.hub, a, EventTypeMessageSend, MessageSendPayload{Body: "hello?"})

	conf := recvEvent(t, a)
	require.Equal(t, EventTypeMessageSent, conf.Type)
	var sentP MessageSentPayload
	require.NoError(t, json.Unmarshal(conf.Payload, &sentP))
	assert.False(t, sentP.Delivered)

	f.messages.mu.Lock()
	assert.Len(t, f.messages.created, 1)
	f.messages.mu.Unlock()
}

func TestMessagePersistFailureOnlyNotifiesSender(t *testing.T) {
	f := newHubFixture(nil)
	f.messages.fail = true
	a := newTestClient(f.hub)
	b := newTestClient(f.hub)
	announce(t, f.hub, a, "cavity")
	announce(t, f.hub, b, "cingam")
	drainEvents(a)
	drainEvents(b)

	sendEvent(t, f.hub, a, EventTypeMessageSend, MessageSendPayload{Body: "doomed", TempID: "t9"})

	failed := recvEvent(t, a)
	require.Equal(t, EventTypeMessageFailed, failed.Type)
	var p MessageFailedPayload
	require.NoError(t, json.Unmarshal(failed.Payload, &p))
	assert.Equal(t, "t9", p.TempID)

	assertSilent(t, b)
}

func TestEmptyMessageRejected(t *testing.T) {
	f := newHubFixture(nil)
	a := newTestClient(f.hub)
	announce(t, f.hub, a, "cavity")
	drainEvents(a)

	sendEvent(t, f.hub, a, EventTypeMessageSend, MessageSendPayload{Body: ""})

	msg := recvEvent(t, a)
	require.Equal(t, EventTypeError, msg.Type)

	f.messages.mu.Lock()
	assert.Empty(t, f.messages.created)
	f.messages.mu.Unlock()
}

func TestUnidentifiedCannotSend(t *testing.T) {
	f := newHubFixture(nil)
	c := newTestClient(f.hub)

	sendEvent(t, f.hub, c, EventTypeMessageSend, MessageSendPayload{Body: "sneaky"})

	msg := recvEvent(t, c)
	require.Equal(t, EventTypeError, msg.Type)

	var p ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, "not_identified", p.Code)
}

func TestLetterDeliveredAndConfirmed(t *testing.T) {
	f := newHubFixture(nil)
	a := newTestClient(f.hub)
	b := newTestClient(f.hub)
	announce(t, f.hub, a, "cavity")
	announce(t, f.hub, b, "cingam")
	drainEvents(a)
	drainEvents(b)

	sendEvent(t, f.hub, a, EventTypeLetterSend, LetterSendPayload{Title: "for you", Body: "a long one"})

	got := recvEvent(t, b)
	require.Equal(t, EventTypeLetterNew, got.Type)
	var newP LetterNewPayload
	require.NoError(t, json.Unmarshal(got.Payload, &newP))
	assert.Equal(t, "for you", newP.Title)

	conf := recvEvent(t, a)
	require.Equal(t, EventTypeLetterSent, conf.Type)

	f.letters.mu.Lock()
	require.Len(t, f.letters.created, 1)
	assert.Equal(t, "cingam", f.letters.created[0].Receiver)
	f.letters.mu.Unlock()
}

func TestTypingRelayedToPartnerOnly(t *testing.T) {
	f := newHubFixture(nil)
	a := newTestClient(f.hub)
	b := newTestClient(f.hub)
	announce(t, f.hub, a, "cavity")
	announce(t, f.hub, b, "cingam")
	drainEvents(a)
	drainEvents(b)

	f.hub.HandleMessage(a, &Message{Type: EventTypeTypingStart})

	got := recvEvent(t, b)
	require.Equal(t, EventTypeTyping, got.Type)
	var p TypingBroadcastPayload
	require.NoError(t, json.Unmarshal(got.Payload, &p))
	assert.Equal(t, "cavity", p.Identity)
	assert.True(t, p.IsTyping)

	assertSilent(t, a)

	f.hub.HandleMessage(a, &Message{Type: EventTypeTypingStop})
	got = recvEvent(t, b)
	require.NoError(t, json.Unmarshal(got.Payload, &p))
	assert.False(t, p.IsTyping)
}

func TestReceiptNotifiesPartner(t *testing.T) {
	f := newHubFixture(nil)
	a := newTestClient(f.hub)
	b := newTestClient(f.hub)
	announce(t, f.hub, a, "cavity")
	announce(t, f.hub, b, "cingam")
	drainEvents(a)
	drainEvents(b)

	messageID := uuid.New()
	sendEvent(t, f.hub, b, EventTypeReceiptRead, ReceiptReadPayload{MessageID: messageID.String()})

	got := recvEvent(t, a)
	require.Equal(t, EventTypeReceiptUpdate, got.Type)
	var p ReceiptUpdatePayload
	require.NoError(t, json.Unmarshal(got.Payload, &p))
	assert.Equal(t, messageID, p.MessageID)
	assert.Equal(t, "cingam", p.Reader)

	f.messages.mu.Lock()
	assert.Equal(t, []uuid.UUID{messageID}, f.messages.read)
	f.messages.mu.Unlock()
}

func TestFeedPostBroadcastSkipsAuthor(t *testing.T) {
	ps := pubsub.NewMemoryPubSub()
	defer ps.Close()

	f := newHubFixture(ps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.hub.Run(ctx)

	// Wait for the feed subscription to be in place
	require.Eventually(t, func() bool {
		return ps.SubscriberCount(pubsub.Topics.Feed()) == 1
	}, time.Second, 10*time.Millisecond)

	a := newTestClient(f.hub)
	b := newTestClient(f.hub)
	announce(t, f.hub, a, "cavity")
	announce(t, f.hub, b, "cingam")
	drainEvents(a)
	drainEvents(b)

	sendEvent(t, f.hub, a, EventTypeFeedPosted, FeedPostedPayload{Kind: "confession", Body: "I ate the last cookie"})

	conf := recvEvent(t, a)
	require.Equal(t, EventTypeFeedSaved, conf.Type)

	got := recvEvent(t, b)
	require.Equal(t, EventTypeFeedNew, got.Type)
	var p FeedNewPayload
	require.NoError(t, json.Unmarshal(got.Payload, &p))
	assert.Equal(t, "cavity", p.Author)
	assert.Equal(t, "confession", p.Kind)

	assertSilent(t, a)

	f.keepsakes.mu.Lock()
	require.Len(t, f.keepsakes.created, 1)
	f.keepsakes.mu.Unlock()
}

func TestFeedPostRejectsUnknownKind(t *testing.T) {
	f := newHubFixture(nil)
	a := newTestClient(f.hub)
	announce(t, f.hub, a, "cavity")
	drainEvents(a)

	sendEvent(t, f.hub, a, EventTypeFeedPosted, FeedPostedPayload{Kind: "rant", Body: "nope"})

	msg := recvEvent(t, a)
	require.Equal(t, EventTypeError, msg.Type)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, "invalid_kind", p.Code)
}

func TestReannounceSameIdentityIsIdempotent(t *testing.T) {
	f := newHubFixture(nil)
	a := newTestClient(f.hub)
	b := newTestClient(f.hub)

	announce(t, f.hub, a, "cavity")
	first := recvEvent(t, a)
	require.Equal(t, EventTypePresence, first.Type)
	drainEvents(b)

	// Same identity, same connection: broadcast again, never an error
	announce(t, f.hub, a, "cavity")
	second := recvEvent(t, a)
	require.Equal(t, EventTypePresence, second.Type)

	var p1, p2 PresencePayload
	require.NoError(t, json.Unmarshal(first.Payload, &p1))
	require.NoError(t, json.Unmarshal(second.Payload, &p2))
	assert.Equal(t, p1.Online, p2.Online)
	assert.Equal(t, []string{"cavity"}, p2.Online)

	got := recvEvent(t, b)
	require.Equal(t, EventTypePresence, got.Type)

	assert.Equal(t, 1, f.hub.OnlineCount())
	assertSilent(t, a)
}

func TestLateDeliveryAfterDisconnectIsRefused(t *testing.T) {
	ps := pubsub.NewMemoryPubSub()
	defer ps.Close()

	f := newHubFixture(ps)
	topic := pubsub.Topics.User("cavity")

	// Pubsub dispatches handlers on their own goroutines, so a delivery can
	// land after the connection is unregistered. Hammer that window.
	for i := 0; i < 100; i++ {
		c := newTestClient(f.hub)
		announce(t, f.hub, c, "cavity")

		payload, err := json.Marshal(MessageNewPayload{Body: "catch me"})
		require.NoError(t, err)
		require.NoError(t, ps.Publish(context.Background(), topic, &pubsub.Message{
			Topic:   topic,
			Type:    EventTypeMessageNew,
			Payload: payload,
		}))

		f.hub.handleUnregister(c)
	}

	// A send that lost the race is refused, never a panic
	c := newTestClient(f.hub)
	announce(t, f.hub, c, "cavity")
	f.hub.handleUnregister(c)

	msg, err := NewMessage(EventTypeMessageNew, MessageNewPayload{Body: "too late"})
	require.NoError(t, err)
	assert.Error(t, c.Send(msg))
}

func TestUnknownEventReturnsError(t *testing.T) {
	f := newHubFixture(nil)
	c := newTestClient(f.hub)

	f.hub.HandleMessage(c, &Message{Type: "dance.party"})

	msg := recvEvent(t, c)
	require.Equal(t, EventTypeError, msg.Type)
}
