//go:generate go run go.uber.org/mock/mockgen -source=directory.go -destination=../mocks/mock_directory_repository.go -package=mocks
package repositories

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

// DirectoryRepository is the membership/contact collaborator boundary.
// Chat CRUD and the contact graph live outside this core; this adapter
// only answers the two questions the distribution path needs: who is in
// a chat, and who watches a user's presence.
//
//	member:{chat_id}:{user_id}
//	contact:{user_id}:{peer_id}
type DirectoryRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewDirectoryRepository(db *badger.DB, log *slog.Logger) DirectoryRepository {
	return DirectoryRepository{db: db, log: log}
}

func (d DirectoryRepository) ParticipantsOf(_ context.Context, chatID string) ([]string, error) {
	return d.scanSuffixes(fmt.Sprintf("member:%s:", chatID))
}

func (d DirectoryRepository) ContactsOf(_ context.Context, userID string) ([]string, error) {
	return d.scanSuffixes(fmt.Sprintf("contact:%s:", userID))
}

func (d DirectoryRepository) AddParticipant(chatID, userID string) error {
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(fmt.Sprintf("member:%s:%s", chatID, userID)), nil)
	})
}

func (d DirectoryRepository) RemoveParticipant(chatID, userID string) error {
	return d.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(fmt.Sprintf("member:%s:%s", chatID, userID)))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// AddContact links both directions: presence broadcasts are symmetric.
func (d DirectoryRepository) AddContact(userID, peerID string) error {
	return d.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(fmt.Sprintf("contact:%s:%s", userID, peerID)), nil); err != nil {
			return err
		}
		return txn.Set([]byte(fmt.Sprintf("contact:%s:%s", peerID, userID)), nil)
	})
}

func (d DirectoryRepository) scanSuffixes(prefixStr string) ([]string, error) {
	var out []string
	err := d.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()
		prefix := []byte(prefixStr)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			out = append(out, string(it.Item().Key()[len(prefixStr):]))
		}
		return nil
	})
	return out, err
}
