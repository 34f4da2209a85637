package repositories

import (
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Logan27/1000-messenger-sub002/domain"
	"github.com/Logan27/1000-messenger-sub002/errors"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func createdRevision(chatID, senderID, content string, at time.Time) domain.Revision {
	return domain.Revision{
		Kind: domain.RevisionCreated,
		Message: domain.Message{
			ID:          uuid.New(),
			ChatID:      chatID,
			SenderID:    senderID,
			Content:     content,
			ContentType: domain.ContentText,
			CreatedAt:   at,
		},
		At: at,
	}
}

func TestHistory_Newest_First(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), slog.Default(), nil)
	at := time.Now().UTC()

	// Given three messages committed in order
	for i, content := range []string{"first", "second", "third"} {
		rev := createdRevision("chat-1", "alice", content, at.Add(time.Duration(i)*time.Minute))
		req.NoError(repository.Append(rev))
	}

	// When the timeline is read
	messages, cursor, err := repository.History("chat-1", nil)

	// Then messages come back newest first
	req.NoError(err)
	req.NotNil(cursor)
	req.Len(messages, 3)
	req.Equal("third", messages[0].Content)
	req.Equal("first", messages[2].Content)
}

func TestHistory_Cursor_Pagination(t *testing.T) {
	req := require.New(t)
	limit := 2
	repository := NewMessageRepository(openTestDB(t), slog.Default(), &limit)
	at := time.Now().UTC()
	for i := 0; i < 5; i++ {
		rev := createdRevision("chat-1", "alice", "msg", at.Add(time.Duration(i)*time.Second))
		req.NoError(repository.Append(rev))
	}

	// When paging through with the returned cursor
	var fetched int
	var cursor *string
	for {
		page, next, err := repository.History("chat-1", cursor)
		req.NoError(err)
		fetched += len(page)
		if len(page) < limit {
			break
		}
		cursor = next
	}

	// Then every message shows up exactly once
	req.Equal(5, fetched)
}

func TestHistory_Empty_Page_Returns_No_Cursor(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), slog.Default(), nil)

	// An empty chat yields no cursor
	messages, cursor, err := repository.History("chat-1", nil)
	req.NoError(err)
	req.Empty(messages)
	req.Nil(cursor)

	// And paging past the last entry yields no cursor either
	rev := createdRevision("chat-1", "alice", "only one", time.Now().UTC())
	req.NoError(repository.Append(rev))
	_, cursor, err = repository.History("chat-1", nil)
	req.NoError(err)
	req.NotNil(cursor)
	messages, cursor, err = repository.History("chat-1", cursor)
	req.NoError(err)
	req.Empty(messages)
	req.Nil(cursor)
}

func TestCurrent_Reflects_Latest_Edit(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), slog.Default(), nil)
	at := time.Now().UTC()
	rev := createdRevision("chat-1", "alice", "original", at)
	req.NoError(repository.Append(rev))

	// When an edit is appended
	edit := domain.Revision{Kind: domain.RevisionEdited, Message: rev.Message, Content: "edited", At: at.Add(time.Second)}
	req.NoError(repository.Append(edit))

	// Then the current view carries the new content
	current, err := repository.Current(rev.Message.ID)
	req.NoError(err)
	req.Equal("edited", current.Content)
	req.Equal("alice", current.SenderID)
}

func TestCurrent_Deleted_Reads_As_Not_Found(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), slog.Default(), nil)
	at := time.Now().UTC()
	rev := createdRevision("chat-1", "alice", "doomed", at)
	req.NoError(repository.Append(rev))

	// When a delete is appended
	del := domain.Revision{Kind: domain.RevisionDeleted, Message: rev.Message, At: at.Add(time.Second)}
	req.NoError(repository.Append(del))

	// Then the message is gone from both views
	_, err := repository.Current(rev.Message.ID)
	req.ErrorIs(err, errors.ErrMessageNotFound)

	messages, _, err := repository.History("chat-1", nil)
	req.NoError(err)
	req.Empty(messages)
}
