//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/Logan27/1000-messenger-sub002/domain"
	"github.com/Logan27/1000-messenger-sub002/errors"
)

type IMessageRepository interface {
	Append(revision domain.Revision) error
	History(chatID string, cursor *string) ([]domain.Message, *string, error)
	Current(messageID uuid.UUID) (domain.Message, error)
}

// MessageRepository persists the append-only message event log in
// BadgerDB. Two keys are written per revision:
//
//	rev:{chat_id}:{timestamp_padded}:{uuid}  chat timeline, chronological
//	log:{uuid}:{timestamp_padded}            per-message revision log
//
// The 19-digit zero padding keeps lexicographical order equal to time
// order; the UUID disambiguates two revisions in the same nanosecond.
// Commit order of this log is what defines per-chat message ordering.
type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) MessageRepository {
	return MessageRepository{db: db, log: log, limitMessages: limitMessages}
}

type diskRevision struct {
	Kind        string  `json:"kind"`
	ID          string  `json:"id"`
	Chat        string  `json:"chat"`
	Sender      string  `json:"sender"`
	Content     string  `json:"content"`
	ContentType string  `json:"contentType"`
	ReplyTo     *string `json:"replyTo,omitempty"`
	At          int64   `json:"at"`
}

// Append stores a revision under both keys in a single transaction.
// Commit order here is what defines per-chat message ordering; the
// fanout event for a revision is only published after this returns.
func (m MessageRepository) Append(revision domain.Revision) error {
	value, err := json.Marshal(fromRevision(revision))
	if err != nil {
		return err
	}
	timelineKey := fmt.Sprintf("rev:%s:%019d:%s",
		revision.Message.ChatID, revision.At.UnixNano(), revision.Message.ID)
	logKey := fmt.Sprintf("log:%s:%019d", revision.Message.ID, revision.At.UnixNano())

	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(timelineKey), value); err != nil {
			return err
		}
		return txn.Set([]byte(logKey), value)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}
	return nil
}

// History retrieves the chat timeline using a reverse prefix scan with
// cursor pagination, newest first. Deleted messages are folded out.
func (m MessageRepository) History(chatID string, cursor *string) ([]domain.Message, *string, error) {
	var raw [][]byte
	var lastKey string
	err := m.db.View(func(txn *badger.Txn) error {
		prefixStr := fmt.Sprintf("rev:%s:", chatID)
		prefix := []byte(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Seek past the newest possible timestamp, then walk back.
			seekKey = append(prefix, []byte("9999999999999999999")...)
		default:
			seekKey = append(prefix, []byte(*cursor)...)
		}
		it.Seek(seekKey)
		if cursor != nil && it.ValidForPrefix(prefix) && bytes.Equal(it.Item().Key(), seekKey) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(raw) == *m.limitMessages {
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[len(prefixStr):])
			if err := item.Value(func(value []byte) error {
				raw = append(raw, append([]byte(nil), value...))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var messages []domain.Message
	for _, b := range raw {
		var dr diskRevision
		if err = json.Unmarshal(b, &dr); err != nil {
			return nil, nil, err
		}
		if dr.Kind != string(domain.RevisionCreated) {
			continue
		}
		id, err := uuid.Parse(dr.ID)
		if err != nil {
			return nil, nil, err
		}
		msg, ok, err := m.fold(id)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			messages = append(messages, msg)
		}
	}
	// An empty page means the scan is exhausted; handing back a cursor
	// here would re-seek the prefix start on the next call.
	if lastKey == "" {
		return messages, nil, nil
	}
	return messages, &lastKey, nil
}

// Current returns the message as it should be delivered right now:
// the fold of its revision log. Deleted messages read as not found.
func (m MessageRepository) Current(messageID uuid.UUID) (domain.Message, error) {
	msg, ok, err := m.fold(messageID)
	if err != nil {
		return domain.Message{}, err
	}
	if !ok {
		return domain.Message{}, errors.ErrMessageNotFound
	}
	return msg, nil
}

func (m MessageRepository) fold(messageID uuid.UUID) (domain.Message, bool, error) {
	var revisions []domain.Revision
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("log:%s:", messageID))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				var dr diskRevision
				if err := json.Unmarshal(value, &dr); err != nil {
					return err
				}
				revision, err := toRevision(dr)
				if err != nil {
					return err
				}
				revisions = append(revisions, revision)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Message{}, false, err
	}
	msg, ok := domain.Fold(revisions)
	return msg, ok, nil
}

func fromRevision(revision domain.Revision) diskRevision {
	dr := diskRevision{
		Kind:        string(revision.Kind),
		ID:          revision.Message.ID.String(),
		Chat:        revision.Message.ChatID,
		Sender:      revision.Message.SenderID,
		Content:     revision.Message.Content,
		ContentType: string(revision.Message.ContentType),
		At:          revision.At.UnixNano(),
	}
	if revision.Kind != domain.RevisionCreated {
		dr.Content = revision.Content
	}
	if revision.Message.ReplyTo != nil {
		s := revision.Message.ReplyTo.String()
		dr.ReplyTo = &s
	}
	return dr
}

func toRevision(dr diskRevision) (domain.Revision, error) {
	parsedID, err := uuid.Parse(dr.ID)
	if err != nil {
		return domain.Revision{}, err
	}
	msg := domain.Message{
		ID:          parsedID,
		ChatID:      dr.Chat,
		SenderID:    dr.Sender,
		ContentType: domain.ContentType(dr.ContentType),
		CreatedAt:   time.Unix(0, dr.At).UTC(),
	}
	if dr.ReplyTo != nil {
		replyTo, err := uuid.Parse(*dr.ReplyTo)
		if err != nil {
			return domain.Revision{}, err
		}
		msg.ReplyTo = &replyTo
	}
	revision := domain.Revision{
		Kind:    domain.RevisionKind(dr.Kind),
		Message: msg,
		At:      time.Unix(0, dr.At).UTC(),
	}
	if revision.Kind == domain.RevisionCreated {
		revision.Message.Content = dr.Content
	} else {
		revision.Content = dr.Content
	}
	return revision, nil
}
