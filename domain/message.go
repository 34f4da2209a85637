// Package domain contains core concepts of the messaging system.
// This file defines Message revisions and the fold that produces the
// current view of a message. No runtime, network, or UI logic here.
package domain

import (
	"time"

	"github.com/google/uuid"
)

type ContentType string

const (
	ContentText   ContentType = "text"
	ContentImage  ContentType = "image"
	ContentSystem ContentType = "system"
)

// Message is the in-flight representation of a chat message. The durable
// record belongs to the message store; once accepted a message is never
// mutated in place, edits and deletes are appended as revisions.
type Message struct {
	ID          uuid.UUID
	ChatID      string
	SenderID    string
	Content     string
	ContentType ContentType
	CreatedAt   time.Time
	ReplyTo     *uuid.UUID
}

type RevisionKind string

const (
	RevisionCreated RevisionKind = "created"
	RevisionEdited  RevisionKind = "edited"
	RevisionDeleted RevisionKind = "deleted"
)

// Revision is one entry of a message's append-only event log. All
// revisions reference the original message ID; Edited carries the new
// content, Deleted carries nothing.
type Revision struct {
	Kind    RevisionKind
	Message Message
	Content string
	At      time.Time
}

// Fold collapses a revision sequence into the message as it should be
// delivered right now. The boolean is false when the sequence is empty
// or ends with a deletion.
func Fold(revisions []Revision) (Message, bool) {
	if len(revisions) == 0 {
		return Message{}, false
	}
	current := revisions[0].Message
	deleted := false
	for _, rev := range revisions[1:] {
		switch rev.Kind {
		case RevisionEdited:
			current.Content = rev.Content
			deleted = false
		case RevisionDeleted:
			deleted = true
		}
	}
	if deleted {
		return Message{}, false
	}
	return current, true
}

// Reaction is a lightweight annotation on a message. Stored as its own
// row, aggregated on read, never part of the message revision log.
type Reaction struct {
	MessageID uuid.UUID
	UserID    string
	Emoji     string
	At        time.Time
}
