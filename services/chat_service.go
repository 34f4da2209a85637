//go:generate go run go.uber.org/mock/mockgen -source=chat_service.go -destination=../mocks/mock_chat_service.go -package=mocks
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/Logan27/1000-messenger-sub002/bus"
	"github.com/Logan27/1000-messenger-sub002/contract"
	"github.com/Logan27/1000-messenger-sub002/domain"
	"github.com/Logan27/1000-messenger-sub002/domain/event"
	"github.com/Logan27/1000-messenger-sub002/errors"
	"github.com/Logan27/1000-messenger-sub002/moderation"
	"github.com/Logan27/1000-messenger-sub002/repositories"
)

type SendMessageCommand struct {
	ChatID      string
	SenderID    string
	Content     string
	ContentType domain.ContentType
	ReplyTo     *uuid.UUID
}

type IChatService interface {
	SendMessage(ctx context.Context, cmd SendMessageCommand) (domain.Message, error)
	EditMessage(ctx context.Context, messageID uuid.UUID, editorID, content string) error
	DeleteMessage(ctx context.Context, messageID uuid.UUID, editorID string) error
	MarkDelivered(ctx context.Context, messageID uuid.UUID, userID string) error
	MarkRead(ctx context.Context, messageID uuid.UUID, userID string) error
	MarkAllRead(ctx context.Context, chatID, userID string) error
	AddReaction(ctx context.Context, messageID uuid.UUID, userID, emoji string) error
	RemoveReaction(ctx context.Context, messageID uuid.UUID, userID, emoji string) error
	History(ctx context.Context, chatID, userID string, cursor *string) ([]domain.Message, *string, error)
	ReadCount(ctx context.Context, messageID uuid.UUID) (int, error)
}

// ChatService is the delivery tracker: the single source of truth for
// per-recipient delivery progress, and the owner of the path from
// "message accepted" to "message read". It also materializes the
// offline queue through the pending index on reconnect.
type ChatService struct {
	log        *slog.Logger
	limiter    contract.Limiter
	directory  contract.Directory
	registry   contract.Registry
	bus        contract.Bus
	messages   repositories.IMessageRepository
	deliveries repositories.IDeliveryRepository
	moderator  *moderation.Moderator
	drainBatch int
	now        func() time.Time
}

func NewChatService(log *slog.Logger, limiter contract.Limiter, directory contract.Directory,
	registry contract.Registry, b contract.Bus,
	messages repositories.IMessageRepository, deliveries repositories.IDeliveryRepository,
	moderator *moderation.Moderator, drainBatch int) *ChatService {
	return &ChatService{
		log:        log,
		limiter:    limiter,
		directory:  directory,
		registry:   registry,
		bus:        b,
		messages:   messages,
		deliveries: deliveries,
		moderator:  moderator,
		drainBatch: drainBatch,
		now:        time.Now,
	}
}

// SendMessage commits the message revision, then creates one pending
// delivery record per recipient on the shared store, and only then
// publishes the fanout event. A recipient can therefore never observe
// a message that a crash later makes vanish. A failure in either store
// write is rejected back to the sender as retryable.
func (s *ChatService) SendMessage(ctx context.Context, cmd SendMessageCommand) (domain.Message, error) {
	if err := s.limiter.Check(ctx, cmd.SenderID, "message"); err != nil {
		return domain.Message{}, err
	}
	participants, err := s.directory.ParticipantsOf(ctx, cmd.ChatID)
	if err != nil {
		return domain.Message{}, err
	}
	if !lo.Contains(participants, cmd.SenderID) {
		return domain.Message{}, errors.ErrNotParticipant
	}

	content := cmd.Content
	if cmd.ContentType == domain.ContentText && s.moderator != nil {
		content = s.moderator.Censor(content)
	}

	now := s.now().UTC()
	message := domain.Message{
		ID:          uuid.New(),
		ChatID:      cmd.ChatID,
		SenderID:    cmd.SenderID,
		Content:     content,
		ContentType: cmd.ContentType,
		CreatedAt:   now,
		ReplyTo:     cmd.ReplyTo,
	}
	recipients := lo.Filter(participants, func(userID string, _ int) bool {
		return userID != cmd.SenderID
	})
	records := lo.Map(recipients, func(userID string, _ int) domain.DeliveryRecord {
		return domain.DeliveryRecord{
			MessageID: message.ID,
			ChatID:    cmd.ChatID,
			SenderID:  cmd.SenderID,
			UserID:    userID,
			Status:    domain.StatusPending,
		}
	})

	revision := domain.Revision{Kind: domain.RevisionCreated, Message: message, At: now}
	if err := s.messages.Append(revision); err != nil {
		return domain.Message{}, err
	}
	if err := s.deliveries.Create(ctx, records, now); err != nil {
		// The revision is durable but no recipient is tracked yet, so
		// nothing is published; the sender retries with a fresh message.
		return domain.Message{}, err
	}

	// Publish only after the commit. If the publish ultimately fails the
	// message is still durable; recipients pick it up through the drain
	// path on their next reconnect.
	err = s.bus.Publish(ctx, bus.TopicMessage, event.MessageNew{
		Message:    message,
		Recipients: recipients,
	})
	if err != nil {
		s.log.Warn("Fanout publish failed, relying on reconciliation",
			"message", message.ID, "error", err)
	}
	return message, nil
}

// MarkDelivered advances one (message, recipient) pair to delivered.
// Duplicate calls, e.g. two processes each serving one of the user's
// devices, are absorbed: only the first transition fans out a receipt.
func (s *ChatService) MarkDelivered(ctx context.Context, messageID uuid.UUID, userID string) error {
	record, changed, err := s.deliveries.Advance(ctx, messageID, userID, domain.StatusDelivered, s.now().UTC())
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return s.publishReceipt(ctx, event.MessageDelivered{
		MessageID: messageID,
		ChatID:    record.ChatID,
		UserID:    userID,
		SenderID:  record.SenderID,
		At:        *record.DeliveredAt,
	})
}

// ReportDelivered is the registry's fire-and-forget callback for a
// successful local push.
func (s *ChatService) ReportDelivered(ctx context.Context, messageID uuid.UUID, userID string) {
	if err := s.MarkDelivered(ctx, messageID, userID); err != nil {
		s.log.Warn("markDelivered failed", "message", messageID, "user", userID, "error", err)
	}
}

func (s *ChatService) MarkRead(ctx context.Context, messageID uuid.UUID, userID string) error {
	record, changed, err := s.deliveries.Advance(ctx, messageID, userID, domain.StatusRead, s.now().UTC())
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return s.publishReceipt(ctx, event.MessageRead{
		MessageID: messageID,
		ChatID:    record.ChatID,
		UserID:    userID,
		SenderID:  record.SenderID,
		At:        *record.ReadAt,
	})
}

// MarkAllRead reads everything the user has not read in the chat.
// Pending records jump straight to read; the monotonic advance stamps
// both timestamps on that single transition.
func (s *ChatService) MarkAllRead(ctx context.Context, chatID, userID string) error {
	ids, err := s.deliveries.Unread(ctx, userID, chatID)
	if err != nil {
		return err
	}
	for _, messageID := range ids {
		if err := s.MarkRead(ctx, messageID, userID); err != nil {
			s.log.Warn("markAllRead entry failed", "message", messageID, "user", userID, "error", err)
		}
	}
	return nil
}

// Drain replays the offline queue for a reconnecting user: page through
// pending delivery records, re-fetch the current content of each (so a
// message edited or deleted while the user was away is replayed in its
// latest form), push locally, and mark delivered. Batches are bounded;
// a user offline for weeks drains in pages, not in one scan.
func (s *ChatService) Drain(ctx context.Context, userID string) {
	var cursor *string
	for {
		ids, next, err := s.deliveries.Pending(ctx, userID, cursor, s.drainBatch)
		if err != nil {
			s.log.Warn("Offline drain failed", "user", userID, "error", err)
			return
		}
		if len(ids) == 0 {
			return
		}
		for _, messageID := range ids {
			s.drainOne(ctx, messageID, userID)
		}
		if len(ids) < s.drainBatch {
			return
		}
		cursor = next
	}
}

func (s *ChatService) drainOne(ctx context.Context, messageID uuid.UUID, userID string) {
	message, err := s.messages.Current(messageID)
	if err != nil {
		// A message deleted while the user was away still clears its
		// pending record; there is nothing left to show.
		if err == errors.ErrMessageNotFound {
			if err := s.MarkDelivered(ctx, messageID, userID); err != nil {
				s.log.Warn("Clearing deleted pending entry failed", "message", messageID, "error", err)
			}
			return
		}
		s.log.Warn("Drain fetch failed", "message", messageID, "error", err)
		return
	}
	if !s.registry.DeliverToUser(ctx, userID, event.MessageNew{
		Message:    message,
		Recipients: []string{userID},
	}) {
		// The connection died mid-drain; the record stays pending for
		// the next reconnect.
		return
	}
	if err := s.MarkDelivered(ctx, messageID, userID); err != nil {
		s.log.Warn("markDelivered after drain failed", "message", messageID, "error", err)
	}
}

// EditMessage appends an Edited revision; the original row is never
// touched. Only the sender may revise a message.
func (s *ChatService) EditMessage(ctx context.Context, messageID uuid.UUID, editorID, content string) error {
	message, err := s.messages.Current(messageID)
	if err != nil {
		return err
	}
	if message.SenderID != editorID {
		return errors.ErrNotSender
	}
	if s.moderator != nil && message.ContentType == domain.ContentText {
		content = s.moderator.Censor(content)
	}
	now := s.now().UTC()
	revision := domain.Revision{Kind: domain.RevisionEdited, Message: message, Content: content, At: now}
	if err := s.messages.Append(revision); err != nil {
		return err
	}
	err = s.bus.Publish(ctx, bus.TopicMessage, event.MessageEdited{
		MessageID: messageID, ChatID: message.ChatID, Content: content, At: now,
	})
	if err != nil {
		s.log.Warn("Edit fanout failed", "message", messageID, "error", err)
	}
	return nil
}

func (s *ChatService) DeleteMessage(ctx context.Context, messageID uuid.UUID, editorID string) error {
	message, err := s.messages.Current(messageID)
	if err != nil {
		return err
	}
	if message.SenderID != editorID {
		return errors.ErrNotSender
	}
	now := s.now().UTC()
	revision := domain.Revision{Kind: domain.RevisionDeleted, Message: message, At: now}
	if err := s.messages.Append(revision); err != nil {
		return err
	}
	err = s.bus.Publish(ctx, bus.TopicMessage, event.MessageDeleted{
		MessageID: messageID, ChatID: message.ChatID, At: now,
	})
	if err != nil {
		s.log.Warn("Delete fanout failed", "message", messageID, "error", err)
	}
	return nil
}

func (s *ChatService) AddReaction(ctx context.Context, messageID uuid.UUID, userID, emoji string) error {
	message, err := s.reactionTarget(ctx, messageID, userID)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	reaction := domain.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji, At: now}
	if err := s.deliveries.AddReaction(ctx, reaction); err != nil {
		return err
	}
	return s.bus.Publish(ctx, bus.TopicMessage, event.ReactionAdded{
		MessageID: messageID, ChatID: message.ChatID, UserID: userID, Emoji: emoji, At: now,
	})
}

func (s *ChatService) RemoveReaction(ctx context.Context, messageID uuid.UUID, userID, emoji string) error {
	message, err := s.reactionTarget(ctx, messageID, userID)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	reaction := domain.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji, At: now}
	if err := s.deliveries.RemoveReaction(ctx, reaction); err != nil {
		return err
	}
	return s.bus.Publish(ctx, bus.TopicMessage, event.ReactionRemoved{
		MessageID: messageID, ChatID: message.ChatID, UserID: userID, Emoji: emoji, At: now,
	})
}

func (s *ChatService) reactionTarget(ctx context.Context, messageID uuid.UUID, userID string) (domain.Message, error) {
	if err := s.limiter.Check(ctx, userID, "reaction"); err != nil {
		return domain.Message{}, err
	}
	message, err := s.messages.Current(messageID)
	if err != nil {
		return domain.Message{}, err
	}
	participants, err := s.directory.ParticipantsOf(ctx, message.ChatID)
	if err != nil {
		return domain.Message{}, err
	}
	if !lo.Contains(participants, userID) {
		return domain.Message{}, errors.ErrNotParticipant
	}
	return message, nil
}

func (s *ChatService) History(ctx context.Context, chatID, userID string, cursor *string) ([]domain.Message, *string, error) {
	participants, err := s.directory.ParticipantsOf(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	if !lo.Contains(participants, userID) {
		return nil, nil, errors.ErrNotParticipant
	}
	return s.messages.History(chatID, cursor)
}

func (s *ChatService) ReadCount(ctx context.Context, messageID uuid.UUID) (int, error) {
	return s.deliveries.ReadCount(ctx, messageID)
}

func (s *ChatService) publishReceipt(ctx context.Context, e event.DomainEvent) error {
	if err := s.bus.Publish(ctx, bus.TopicReceipt, e); err != nil {
		return fmt.Errorf("receipt fanout: %w", err)
	}
	return nil
}
