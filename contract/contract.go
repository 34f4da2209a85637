//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"github.com/google/uuid"

	"github.com/Logan27/1000-messenger-sub002/domain"
	"github.com/Logan27/1000-messenger-sub002/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink is one connection's inbox. Consume must never block the
// caller beyond its context: a slow sink is the sink's problem.
// Shutdown tears down the underlying transport and must be idempotent;
// the registry calls it whenever it evicts the connection, so a
// heartbeat timeout closes the socket the same way an explicit
// disconnect does.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
	Shutdown(reason string)
}

// Bus broadcasts events to every process. Publish is fire-and-forget;
// durability is layered on top by the delivery tracker, not here.
type Bus interface {
	Publish(ctx context.Context, topic string, e event.DomainEvent) error
	Subscribe(ctx context.Context, topic string, handler func(context.Context, event.DomainEvent)) error
	Healthy() bool
}

// Registry owns the live connections of the local process.
type Registry interface {
	Register(ctx context.Context, conn *domain.Connection, sink EventSink) error
	Deregister(ctx context.Context, connID string)
	JoinRoom(connID, chatID string) bool
	LeaveRoom(connID, chatID string)
	InRoom(connID, chatID string) bool
	DeliverLocal(ctx context.Context, e event.DomainEvent)
	DeliverToUser(ctx context.Context, userID string, e event.DomainEvent) bool
	Touch(connID string)
	ConnectionCount() int
}

// Presence is the cross-process online/away/offline authority.
type Presence interface {
	ConnectionOpened(ctx context.Context, userID string) error
	ConnectionClosed(ctx context.Context, userID string) error
	SetAway(ctx context.Context, userID string) error
	SetOnline(ctx context.Context, userID string) error
	Get(ctx context.Context, userID string) (domain.PresenceRecord, error)
}

// Limiter gates abusive clients before anything else runs. A denial is
// terminal for that call; callers surface it as a distinct signal.
type Limiter interface {
	Check(ctx context.Context, userID, class string) error
}

// Directory is the contact/membership collaborator. Fanout scope and
// presence broadcast scope are computed through it, never guessed.
type Directory interface {
	ParticipantsOf(ctx context.Context, chatID string) ([]string, error)
	ContactsOf(ctx context.Context, userID string) ([]string, error)
}

// Drainer replays a reconnecting user's pending deliveries. The
// registry triggers it on admission; the delivery tracker implements it.
type Drainer interface {
	Drain(ctx context.Context, userID string)
}

// DeliveryReporter receives the registry's report of which local pushes
// of a message succeeded. Implementations must be idempotent: the same
// (message, user) pair is reported once per device.
type DeliveryReporter interface {
	ReportDelivered(ctx context.Context, messageID uuid.UUID, userID string)
}
