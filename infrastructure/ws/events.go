package ws

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Logan27/1000-messenger-sub002/domain"
	"github.com/Logan27/1000-messenger-sub002/domain/event"
	"github.com/Logan27/1000-messenger-sub002/errors"
)

var validate = validator.New()

// frame is the bidirectional wire envelope: an event name plus its
// JSON payload.
type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client → server payloads.

type sendMessageRequest struct {
	ChatID      string  `json:"chatId" validate:"required"`
	Content     string  `json:"content" validate:"required"`
	ContentType string  `json:"contentType" validate:"omitempty,oneof=text image system"`
	ReplyToID   *string `json:"replyToId" validate:"omitempty,uuid"`
}

type readMessageRequest struct {
	MessageID string `json:"messageId" validate:"required,uuid"`
	ChatID    string `json:"chatId" validate:"required"`
}

type readAllRequest struct {
	ChatID string `json:"chatId" validate:"required"`
}

type editMessageRequest struct {
	MessageID string `json:"messageId" validate:"required,uuid"`
	Content   string `json:"content" validate:"required"`
}

type deleteMessageRequest struct {
	MessageID string `json:"messageId" validate:"required,uuid"`
}

type typingRequest struct {
	ChatID string `json:"chatId" validate:"required"`
}

type reactionRequest struct {
	MessageID string `json:"messageId" validate:"required,uuid"`
	Emoji     string `json:"emoji" validate:"required,max=16"`
}

type roomRequest struct {
	ChatID string `json:"chatId" validate:"required"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=away online"`
}

func decodePayload[T any](payload json.RawMessage) (T, error) {
	var out T
	if len(payload) == 0 {
		return out, errors.ErrInvalidPayload
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, errors.ErrInvalidPayload
	}
	if err := validate.Struct(&out); err != nil {
		return out, errors.ErrInvalidPayload
	}
	return out, nil
}

// Server → client payloads.

type messagePayload struct {
	ID          string  `json:"id"`
	ChatID      string  `json:"chatId"`
	SenderID    string  `json:"senderId"`
	SenderName  string  `json:"senderName,omitempty"`
	Content     string  `json:"content"`
	ContentType string  `json:"contentType"`
	CreatedAt   string  `json:"createdAt"`
	ReplyToID   *string `json:"replyToId,omitempty"`
}

type receiptPayload struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Timestamp string `json:"timestamp"`
}

type typingPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

type statusPayload struct {
	UserID   string `json:"userId"`
	Status   string `json:"status"`
	LastSeen string `json:"lastSeen,omitempty"`
}

type errorPayload struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}

type ackPayload struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	CreatedAt string `json:"createdAt"`
}

func toMessagePayload(message domain.Message, senderName string) messagePayload {
	payload := messagePayload{
		ID:          message.ID.String(),
		ChatID:      message.ChatID,
		SenderID:    message.SenderID,
		SenderName:  senderName,
		Content:     message.Content,
		ContentType: string(message.ContentType),
		CreatedAt:   message.CreatedAt.Format(time.RFC3339Nano),
	}
	if message.ReplyTo != nil {
		id := message.ReplyTo.String()
		payload.ReplyToID = &id
	}
	return payload
}

// encodeEvent turns a fanout event into an outbound frame. The frame's
// event name is the event's own kind.
func encodeEvent(e event.DomainEvent) ([]byte, error) {
	var payload any
	switch v := e.(type) {
	case event.MessageNew:
		payload = toMessagePayload(v.Message, v.SenderName)
	case event.MessageEdited:
		payload = map[string]string{
			"messageId": v.MessageID.String(),
			"chatId":    v.ChatID,
			"content":   v.Content,
			"at":        v.At.Format(time.RFC3339Nano),
		}
	case event.MessageDeleted:
		payload = map[string]string{
			"messageId": v.MessageID.String(),
			"chatId":    v.ChatID,
			"at":        v.At.Format(time.RFC3339Nano),
		}
	case event.MessageDelivered:
		payload = receiptPayload{
			MessageID: v.MessageID.String(),
			UserID:    v.UserID,
			Timestamp: v.At.Format(time.RFC3339Nano),
		}
	case event.MessageRead:
		payload = receiptPayload{
			MessageID: v.MessageID.String(),
			UserID:    v.UserID,
			Timestamp: v.At.Format(time.RFC3339Nano),
		}
	case event.TypingStarted:
		payload = typingPayload{ChatID: v.ChatID, UserID: v.UserID}
	case event.TypingStopped:
		payload = typingPayload{ChatID: v.ChatID, UserID: v.UserID}
	case event.PresenceChanged:
		p := statusPayload{UserID: v.UserID, Status: string(v.Status)}
		if !v.LastSeen.IsZero() {
			p.LastSeen = v.LastSeen.Format(time.RFC3339Nano)
		}
		payload = p
	case event.ReactionAdded:
		payload = map[string]string{
			"messageId": v.MessageID.String(),
			"chatId":    v.ChatID,
			"userId":    v.UserID,
			"emoji":     v.Emoji,
		}
	case event.ReactionRemoved:
		payload = map[string]string{
			"messageId": v.MessageID.String(),
			"chatId":    v.ChatID,
			"userId":    v.UserID,
			"emoji":     v.Emoji,
		}
	default:
		return nil, errors.ErrUnknownEvent
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame{Event: e.Kind(), Payload: raw})
}

func encodeError(err error) ([]byte, error) {
	raw, marshalErr := json.Marshal(errorPayload{
		Message:   err.Error(),
		Code:      errors.Code(err),
		Retryable: errors.Retryable(err),
	})
	if marshalErr != nil {
		return nil, marshalErr
	}
	return json.Marshal(frame{Event: "error", Payload: raw})
}

func encodeAck(message domain.Message) ([]byte, error) {
	raw, err := json.Marshal(ackPayload{
		MessageID: message.ID.String(),
		ChatID:    message.ChatID,
		CreatedAt: message.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame{Event: "message:ack", Payload: raw})
}
