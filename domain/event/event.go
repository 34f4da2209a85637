// Package event defines the fanout events exchanged between server
// processes over the bus. Every event is self-describing: Kind matches
// the wire event name and the scope accessors tell a registry which
// local connections should receive it.
package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/Logan27/1000-messenger-sub002/domain"
)

type DomainEvent interface {
	Kind() string
}

// ChatScoped events reach every connection that joined the chat room.
type ChatScoped interface {
	Chat() string
}

// UserScoped events reach every connection of the listed users,
// regardless of room membership.
type UserScoped interface {
	Targets() []string
}

type MessageNew struct {
	Message    domain.Message `json:"message"`
	SenderName string         `json:"senderName,omitempty"`
	Recipients []string       `json:"recipients"`
}

func (e MessageNew) Kind() string { return "message:new" }
func (e MessageNew) Chat() string { return e.Message.ChatID }

// Targets makes the event reach recipients who are connected but have
// not joined the room yet; without it a message sent in that window
// would sit pending until their next reconnect.
func (e MessageNew) Targets() []string { return e.Recipients }

type MessageEdited struct {
	MessageID uuid.UUID `json:"messageId"`
	ChatID    string    `json:"chatId"`
	Content   string    `json:"content"`
	At        time.Time `json:"at"`
}

func (e MessageEdited) Kind() string { return "message:edited" }
func (e MessageEdited) Chat() string { return e.ChatID }

type MessageDeleted struct {
	MessageID uuid.UUID `json:"messageId"`
	ChatID    string    `json:"chatId"`
	At        time.Time `json:"at"`
}

func (e MessageDeleted) Kind() string { return "message:deleted" }
func (e MessageDeleted) Chat() string { return e.ChatID }

// MessageDelivered travels back toward the sender only.
type MessageDelivered struct {
	MessageID uuid.UUID `json:"messageId"`
	ChatID    string    `json:"chatId"`
	UserID    string    `json:"userId"`
	SenderID  string    `json:"senderId"`
	At        time.Time `json:"at"`
}

func (e MessageDelivered) Kind() string      { return "message:delivered" }
func (e MessageDelivered) Targets() []string { return []string{e.SenderID} }

type MessageRead struct {
	MessageID uuid.UUID `json:"messageId"`
	ChatID    string    `json:"chatId"`
	UserID    string    `json:"userId"`
	SenderID  string    `json:"senderId"`
	At        time.Time `json:"at"`
}

func (e MessageRead) Kind() string      { return "message:read" }
func (e MessageRead) Targets() []string { return []string{e.SenderID} }

type TypingStarted struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

func (e TypingStarted) Kind() string { return "typing:start" }
func (e TypingStarted) Chat() string { return e.ChatID }

type TypingStopped struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

func (e TypingStopped) Kind() string { return "typing:stop" }
func (e TypingStopped) Chat() string { return e.ChatID }

// PresenceChanged is scoped to the user's contacts, computed by the
// directory collaborator at publish time.
type PresenceChanged struct {
	UserID   string                `json:"userId"`
	Status   domain.PresenceStatus `json:"status"`
	LastSeen time.Time             `json:"lastSeen"`
	Contacts []string              `json:"contacts"`
}

func (e PresenceChanged) Kind() string      { return "user:status" }
func (e PresenceChanged) Targets() []string { return e.Contacts }

type ReactionAdded struct {
	MessageID uuid.UUID `json:"messageId"`
	ChatID    string    `json:"chatId"`
	UserID    string    `json:"userId"`
	Emoji     string    `json:"emoji"`
	At        time.Time `json:"at"`
}

func (e ReactionAdded) Kind() string { return "reaction:add" }
func (e ReactionAdded) Chat() string { return e.ChatID }

type ReactionRemoved struct {
	MessageID uuid.UUID `json:"messageId"`
	ChatID    string    `json:"chatId"`
	UserID    string    `json:"userId"`
	Emoji     string    `json:"emoji"`
	At        time.Time `json:"at"`
}

func (e ReactionRemoved) Kind() string { return "reaction:remove" }
func (e ReactionRemoved) Chat() string { return e.ChatID }
