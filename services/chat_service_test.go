package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/Logan27/1000-messenger-sub002/bus"
	"github.com/Logan27/1000-messenger-sub002/contract"
	"github.com/Logan27/1000-messenger-sub002/domain"
	"github.com/Logan27/1000-messenger-sub002/domain/event"
	"github.com/Logan27/1000-messenger-sub002/errors"
	"github.com/Logan27/1000-messenger-sub002/moderation"
	"github.com/Logan27/1000-messenger-sub002/repositories"
)

type allowAllLimiter struct{ deny bool }

func (l allowAllLimiter) Check(context.Context, string, string) error {
	if l.deny {
		return errors.ErrRateLimited
	}
	return nil
}

type chatDirectory struct {
	participants map[string][]string
}

func (d chatDirectory) ParticipantsOf(_ context.Context, chatID string) ([]string, error) {
	return d.participants[chatID], nil
}

func (d chatDirectory) ContactsOf(context.Context, string) ([]string, error) { return nil, nil }

type registryStub struct {
	pushed []event.DomainEvent
	online map[string]bool
}

func (r *registryStub) Register(context.Context, *domain.Connection, contract.EventSink) error {
	return nil
}
func (r *registryStub) Deregister(context.Context, string)              {}
func (r *registryStub) JoinRoom(string, string) bool                    { return true }
func (r *registryStub) LeaveRoom(string, string)                        {}
func (r *registryStub) InRoom(string, string) bool                      { return true }
func (r *registryStub) DeliverLocal(context.Context, event.DomainEvent) {}
func (r *registryStub) Touch(string)                                    {}
func (r *registryStub) ConnectionCount() int                            { return 0 }

func (r *registryStub) DeliverToUser(_ context.Context, userID string, e event.DomainEvent) bool {
	if !r.online[userID] {
		return false
	}
	r.pushed = append(r.pushed, e)
	return true
}

type topicEvent struct {
	topic string
	event event.DomainEvent
}

type publishRecorder struct {
	published []topicEvent
}

func (b *publishRecorder) Publish(_ context.Context, topic string, e event.DomainEvent) error {
	b.published = append(b.published, topicEvent{topic: topic, event: e})
	return nil
}

func (b *publishRecorder) Subscribe(context.Context, string, func(context.Context, event.DomainEvent)) error {
	return nil
}

func (b *publishRecorder) Healthy() bool { return true }

func (b *publishRecorder) onTopic(topic string) []event.DomainEvent {
	var out []event.DomainEvent
	for _, te := range b.published {
		if te.topic == topic {
			out = append(out, te.event)
		}
	}
	return out
}

type fixture struct {
	service  *ChatService
	registry *registryStub
	bus      *publishRecorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	registry := &registryStub{online: make(map[string]bool)}
	recorder := &publishRecorder{}
	directory := chatDirectory{participants: map[string][]string{
		"chat-1": {"alice", "bob", "carol"},
		"group":  {"alice", "bob", "carol", "dave", "erin"},
	}}
	service := NewChatService(slog.Default(), allowAllLimiter{}, directory, registry, recorder,
		repositories.NewMessageRepository(db, slog.Default(), nil),
		repositories.NewDeliveryRepository(client, slog.Default()),
		nil, 2)
	return fixture{service: service, registry: registry, bus: recorder}
}

func send(t *testing.T, f fixture, chatID, senderID, content string) domain.Message {
	t.Helper()
	message, err := f.service.SendMessage(context.Background(), SendMessageCommand{
		ChatID: chatID, SenderID: senderID, Content: content, ContentType: domain.ContentText,
	})
	require.NoError(t, err)
	return message
}

func TestSendMessage_Publishes_After_Durable_Commit(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	// When alice sends to chat-1
	message := send(t, f, "chat-1", "alice", "hello")

	// Then the fanout event lists every participant except the sender
	fanout := f.bus.onTopic(bus.TopicMessage)
	req.Len(fanout, 1)
	newMsg := fanout[0].(event.MessageNew)
	req.Equal(message.ID, newMsg.Message.ID)
	req.ElementsMatch([]string{"bob", "carol"}, newMsg.Recipients)

	// And the message is durably readable
	current, _, err := f.service.History(context.Background(), "chat-1", "alice", nil)
	req.NoError(err)
	req.Len(current, 1)
	req.Equal("hello", current[0].Content)
}

func TestSendMessage_Rejections(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	// A sender outside the chat is rejected
	_, err := f.service.SendMessage(context.Background(), SendMessageCommand{
		ChatID: "chat-1", SenderID: "mallory", Content: "hi", ContentType: domain.ContentText,
	})
	req.ErrorIs(err, errors.ErrNotParticipant)

	// A rate-limited sender is rejected with the distinct signal
	f.service.limiter = allowAllLimiter{deny: true}
	_, err = f.service.SendMessage(context.Background(), SendMessageCommand{
		ChatID: "chat-1", SenderID: "alice", Content: "hi", ContentType: domain.ContentText,
	})
	req.ErrorIs(err, errors.ErrRateLimited)

	// And nothing reached the bus either way
	req.Empty(f.bus.onTopic(bus.TopicMessage))
}

func TestSendMessage_Censors_Text_Content(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	moderator, err := moderation.NewModerator([]string{"badword"}, '*')
	req.NoError(err)
	f.service.moderator = moderator

	message := send(t, f, "chat-1", "alice", "this badword stays polite")

	req.Equal("this ******* stays polite", message.Content)
}

func TestDrain_Replays_Missed_Messages_On_Reconnect(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	// Given alice sent while bob was offline
	message := send(t, f, "chat-1", "alice", "missed me?")

	// When bob reconnects and the registry triggers the drain
	f.registry.online["bob"] = true
	f.service.Drain(context.Background(), "bob")

	// Then the message was replayed to bob and marked delivered
	req.Len(f.registry.pushed, 1)
	replayed := f.registry.pushed[0].(event.MessageNew)
	req.Equal(message.ID, replayed.Message.ID)
	req.Equal([]string{"bob"}, replayed.Recipients)

	receipts := f.bus.onTopic(bus.TopicReceipt)
	req.Len(receipts, 1)
	delivered := receipts[0].(event.MessageDelivered)
	req.Equal(message.ID, delivered.MessageID)
	req.Equal("bob", delivered.UserID)
	req.Equal([]string{"alice"}, delivered.Targets())

	// And a second drain has nothing left to replay
	f.registry.pushed = nil
	f.service.Drain(context.Background(), "bob")
	req.Empty(f.registry.pushed)
}

func TestDrain_Pages_Through_Large_Backlogs(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.service.now = stepClock(time.Now().UTC())

	// Given five messages queued behind a drain batch of two
	for i := 0; i < 5; i++ {
		send(t, f, "chat-1", "alice", "backlog")
	}

	f.registry.online["bob"] = true
	f.service.Drain(context.Background(), "bob")

	req.Len(f.registry.pushed, 5)
}

// stepClock returns a clock advancing one millisecond per call, so every
// revision gets a distinct timestamp.
func stepClock(start time.Time) func() time.Time {
	calls := 0
	return func() time.Time {
		calls++
		return start.Add(time.Duration(calls) * time.Millisecond)
	}
}

func TestDrain_Skips_Messages_Deleted_While_Away(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.service.now = stepClock(time.Now().UTC())

	// Given a message sent and deleted while bob was offline
	message := send(t, f, "chat-1", "alice", "now you see me")
	req.NoError(f.service.DeleteMessage(context.Background(), message.ID, "alice"))

	// When bob reconnects
	f.registry.online["bob"] = true
	f.service.Drain(context.Background(), "bob")

	// Then nothing is replayed and the queue entry is cleared
	req.Empty(f.registry.pushed)
	f.service.Drain(context.Background(), "bob")
	req.Empty(f.registry.pushed)
}

func TestDrain_Replays_Latest_Edit(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.service.now = stepClock(time.Now().UTC())

	// Given a message edited while bob was offline
	message := send(t, f, "chat-1", "alice", "first draft")
	req.NoError(f.service.EditMessage(context.Background(), message.ID, "alice", "final draft"))

	// When bob reconnects
	f.registry.online["bob"] = true
	f.service.Drain(context.Background(), "bob")

	// Then the replayed content is the edited one
	req.Len(f.registry.pushed, 1)
	req.Equal("final draft", f.registry.pushed[0].(event.MessageNew).Message.Content)
}

func TestMarkDelivered_Two_Devices_One_Receipt(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	message := send(t, f, "chat-1", "alice", "hello")

	// When both of bob's devices report delivery
	req.NoError(f.service.MarkDelivered(context.Background(), message.ID, "bob"))
	req.NoError(f.service.MarkDelivered(context.Background(), message.ID, "bob"))

	// Then the sender sees exactly one receipt
	req.Len(f.bus.onTopic(bus.TopicReceipt), 1)
}

func TestMarkRead_Publishes_Receipt_To_Sender(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	message := send(t, f, "chat-1", "alice", "hello")

	req.NoError(f.service.MarkRead(context.Background(), message.ID, "bob"))

	receipts := f.bus.onTopic(bus.TopicReceipt)
	req.Len(receipts, 1)
	read := receipts[0].(event.MessageRead)
	req.Equal("bob", read.UserID)
	req.Equal([]string{"alice"}, read.Targets())

	// Reading after reading changes nothing
	req.NoError(f.service.MarkRead(context.Background(), message.ID, "bob"))
	req.Len(f.bus.onTopic(bus.TopicReceipt), 1)
}

func TestMarkAllRead_Covers_Pending_And_Delivered(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.service.now = stepClock(time.Now().UTC())

	// Given one delivered and one still-pending message for bob
	first := send(t, f, "chat-1", "alice", "one")
	send(t, f, "chat-1", "alice", "two")
	req.NoError(f.service.MarkDelivered(context.Background(), first.ID, "bob"))

	// When bob reads the whole chat
	req.NoError(f.service.MarkAllRead(context.Background(), "chat-1", "bob"))

	// Then both messages count as read
	for _, messageID := range []uuid.UUID{first.ID} {
		count, err := f.service.ReadCount(context.Background(), messageID)
		req.NoError(err)
		req.Equal(1, count)
	}
	// And carol's records are untouched
	receipts := f.bus.onTopic(bus.TopicReceipt)
	for _, e := range receipts {
		if read, ok := e.(event.MessageRead); ok {
			req.Equal("bob", read.UserID)
		}
	}
}

func TestReadCount_Group_Chat(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	message := send(t, f, "group", "alice", "group hello")

	// When three of the four recipients read it
	for _, userID := range []string{"bob", "carol", "dave"} {
		req.NoError(f.service.MarkRead(context.Background(), message.ID, userID))
	}

	count, err := f.service.ReadCount(context.Background(), message.ID)
	req.NoError(err)
	req.Equal(3, count)
}

func TestEditMessage_Sender_Only(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.service.now = stepClock(time.Now().UTC())
	message := send(t, f, "chat-1", "alice", "mine")

	// When someone else tries to edit or delete
	req.ErrorIs(f.service.EditMessage(context.Background(), message.ID, "bob", "hijacked"), errors.ErrNotSender)
	req.ErrorIs(f.service.DeleteMessage(context.Background(), message.ID, "bob"), errors.ErrNotSender)

	// Then the content is untouched and the sender can still edit
	req.NoError(f.service.EditMessage(context.Background(), message.ID, "alice", "still mine"))
	messages, _, err := f.service.History(context.Background(), "chat-1", "alice", nil)
	req.NoError(err)
	req.Len(messages, 1)
	req.Equal("still mine", messages[0].Content)
}

func TestHistory_Participants_Only(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	send(t, f, "chat-1", "alice", "private")

	_, _, err := f.service.History(context.Background(), "chat-1", "mallory", nil)

	req.ErrorIs(err, errors.ErrNotParticipant)
}

func TestReactions_Flow(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	message := send(t, f, "chat-1", "alice", "react to this")

	// When bob reacts
	req.NoError(f.service.AddReaction(context.Background(), message.ID, "bob", "👍"))

	fanout := f.bus.onTopic(bus.TopicMessage)
	added := fanout[len(fanout)-1].(event.ReactionAdded)
	req.Equal("chat-1", added.ChatID)
	req.Equal("👍", added.Emoji)

	// And an outsider cannot
	err := f.service.AddReaction(context.Background(), message.ID, "mallory", "👍")
	req.ErrorIs(err, errors.ErrNotParticipant)

	// When bob removes it
	req.NoError(f.service.RemoveReaction(context.Background(), message.ID, "bob", "👍"))
	fanout = f.bus.onTopic(bus.TopicMessage)
	_, ok := fanout[len(fanout)-1].(event.ReactionRemoved)
	req.True(ok)
}
