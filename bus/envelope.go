package bus

import (
	"encoding/json"
	"fmt"

	"github.com/Logan27/1000-messenger-sub002/domain/event"
	"github.com/Logan27/1000-messenger-sub002/errors"
)

// Topics are broad, one per logical event category. Per-chat topics do
// not scale; subscribers filter locally by room and user membership.
const (
	TopicMessage  = "events.message"
	TopicReceipt  = "events.receipt"
	TopicTyping   = "events.typing"
	TopicPresence = "events.presence"
)

type envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func Encode(e event.DomainEvent) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Kind: e.Kind(), Payload: payload})
}

// Decode rebuilds the concrete event from the wire envelope. Unknown
// kinds are an error: a process running an older build must not
// silently drop what it cannot parse without logging it.
func Decode(data []byte) (event.DomainEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}
	var e event.DomainEvent
	switch env.Kind {
	case event.MessageNew{}.Kind():
		e = &event.MessageNew{}
	case event.MessageEdited{}.Kind():
		e = &event.MessageEdited{}
	case event.MessageDeleted{}.Kind():
		e = &event.MessageDeleted{}
	case event.MessageDelivered{}.Kind():
		e = &event.MessageDelivered{}
	case event.MessageRead{}.Kind():
		e = &event.MessageRead{}
	case event.TypingStarted{}.Kind():
		e = &event.TypingStarted{}
	case event.TypingStopped{}.Kind():
		e = &event.TypingStopped{}
	case event.PresenceChanged{}.Kind():
		e = &event.PresenceChanged{}
	case event.ReactionAdded{}.Kind():
		e = &event.ReactionAdded{}
	case event.ReactionRemoved{}.Kind():
		e = &event.ReactionRemoved{}
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownEvent, env.Kind)
	}
	if err := json.Unmarshal(env.Payload, e); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}
	return deref(e), nil
}

// deref returns the value, not the pointer, so handlers can type-switch
// on the same concrete types publishers use.
func deref(e event.DomainEvent) event.DomainEvent {
	switch v := e.(type) {
	case *event.MessageNew:
		return *v
	case *event.MessageEdited:
		return *v
	case *event.MessageDeleted:
		return *v
	case *event.MessageDelivered:
		return *v
	case *event.MessageRead:
		return *v
	case *event.TypingStarted:
		return *v
	case *event.TypingStopped:
		return *v
	case *event.PresenceChanged:
		return *v
	case *event.ReactionAdded:
		return *v
	case *event.ReactionRemoved:
		return *v
	default:
		return e
	}
}
