// Package runtime owns the per-process moving parts: the connection
// registry, the orchestrator wiring them together, and the supervised
// workers. No business rules live here.
package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Logan27/1000-messenger-sub002/contract"
	"github.com/Logan27/1000-messenger-sub002/domain"
	"github.com/Logan27/1000-messenger-sub002/domain/event"
)

type Set map[string]struct{}

type session struct {
	conn *domain.Connection
	sink contract.EventSink
}

// Registry owns the live connections of this process and nothing else:
// it never holds a handle to a connection accepted elsewhere. Remote
// recipients are reached by whichever process owns them, via the bus.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*session // connection id -> session
	userConns   map[string]Set      // user id -> connection ids
	roomMembers map[string]Set      // chat id -> connection ids

	presence contract.Presence
	drainer  contract.Drainer
	reporter contract.DeliveryReporter
	log      *slog.Logger
	now      func() time.Time
}

func NewRegistry(presence contract.Presence, log *slog.Logger) *Registry {
	return &Registry{
		sessions:    make(map[string]*session),
		userConns:   make(map[string]Set),
		roomMembers: make(map[string]Set),
		presence:    presence,
		log:         log,
		now:         time.Now,
	}
}

// Bind attaches the delivery tracker callbacks. The tracker needs the
// registry to drain into and the registry needs the tracker to report
// to, so one of the two is wired after construction.
func (r *Registry) Bind(drainer contract.Drainer, reporter contract.DeliveryReporter) {
	r.drainer = drainer
	r.reporter = reporter
}

// Register admits a connection: it enters the local tables, the user's
// shared connection count goes up, and the offline queue is drained so
// everything the user missed is replayed through this connection. If a
// message is racing in right now, both the drain path and the fanout
// path may deliver it; markDelivered idempotency makes that harmless.
func (r *Registry) Register(ctx context.Context, conn *domain.Connection, sink contract.EventSink) error {
	r.mu.Lock()
	r.sessions[conn.ID] = &session{conn: conn, sink: sink}
	if _, ok := r.userConns[conn.UserID]; !ok {
		r.userConns[conn.UserID] = make(Set)
	}
	r.userConns[conn.UserID][conn.ID] = struct{}{}
	r.mu.Unlock()

	if err := r.presence.ConnectionOpened(ctx, conn.UserID); err != nil {
		r.log.Warn("Presence increment failed", "user", conn.UserID, "error", err)
	}
	if r.drainer != nil {
		r.drainer.Drain(ctx, conn.UserID)
	}
	return nil
}

// Deregister removes a connection, shuts its sink down, and decrements
// the user's shared connection count, exactly once per admitted
// connection. Explicit disconnects, transport errors, and heartbeat
// timeouts all funnel through here, so the pairing holds and the
// socket actually closes on abnormal paths too.
func (r *Registry) Deregister(ctx context.Context, connID string) {
	r.mu.Lock()
	sess, ok := r.sessions[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, connID)
	userID := sess.conn.UserID
	if conns, ok := r.userConns[userID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.userConns, userID)
		}
	}
	for chatID := range sess.conn.Rooms {
		r.dropFromRoom(chatID, connID)
	}
	r.mu.Unlock()

	sess.sink.Shutdown("connection deregistered")
	if err := r.presence.ConnectionClosed(ctx, userID); err != nil {
		r.log.Warn("Presence decrement failed", "user", userID, "error", err)
	}
}

// JoinRoom is local-only: fanout delivery checks membership on receipt,
// so no cross-process announcement is needed.
func (r *Registry) JoinRoom(connID, chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[connID]
	if !ok {
		return false
	}
	sess.conn.Join(chatID)
	if _, ok := r.roomMembers[chatID]; !ok {
		r.roomMembers[chatID] = make(Set)
	}
	r.roomMembers[chatID][connID] = struct{}{}
	return true
}

func (r *Registry) LeaveRoom(connID, chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[connID]; ok {
		sess.conn.Leave(chatID)
	}
	r.dropFromRoom(chatID, connID)
}

// dropFromRoom requires r.mu held. Empty room sets are removed so the
// map does not accumulate dead rooms over time.
func (r *Registry) dropFromRoom(chatID, connID string) {
	if members, ok := r.roomMembers[chatID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.roomMembers, chatID)
		}
	}
}

// InRoom reports whether any connection of the user joined the chat on
// this process. The gateway uses it to reject operations on rooms the
// connection never joined.
func (r *Registry) InRoom(connID, chatID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[connID]
	return ok && sess.conn.InRoom(chatID)
}

// DeliverLocal pushes a fanout event to every matching local
// connection: room members for chat-scoped events, the listed users for
// user-scoped ones. A failed push means the socket died under us; the
// connection is deregistered and the delivery is never reported as
// successful. One recipient failing never affects the others.
func (r *Registry) DeliverLocal(ctx context.Context, e event.DomainEvent) {
	targets := r.matchLocal(e)
	if len(targets) == 0 {
		return
	}

	msg, isMessage := e.(event.MessageNew)
	recipients := make(Set)
	if isMessage {
		for _, userID := range msg.Recipients {
			recipients[userID] = struct{}{}
		}
	}

	for _, sess := range targets {
		if err := sess.sink.Consume(ctx, e); err != nil {
			r.log.Warn("Local push failed, dropping connection",
				"connection", sess.conn.ID, "user", sess.conn.UserID, "error", err)
			r.Deregister(ctx, sess.conn.ID)
			continue
		}
		if isMessage && r.reporter != nil {
			if _, ok := recipients[sess.conn.UserID]; ok {
				r.reporter.ReportDelivered(ctx, msg.Message.ID, sess.conn.UserID)
			}
		}
	}
}

// matchLocal resolves the event's scope against the local tables under
// a read lock, returning copies so pushes happen without holding it.
func (r *Registry) matchLocal(e event.DomainEvent) []*session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(Set)
	var matched []*session
	add := func(connID string) {
		if _, dup := seen[connID]; dup {
			return
		}
		if sess, ok := r.sessions[connID]; ok {
			seen[connID] = struct{}{}
			matched = append(matched, sess)
		}
	}

	if scoped, ok := e.(event.ChatScoped); ok {
		for connID := range r.roomMembers[scoped.Chat()] {
			add(connID)
		}
	}
	if scoped, ok := e.(event.UserScoped); ok {
		for _, userID := range scoped.Targets() {
			for connID := range r.userConns[userID] {
				add(connID)
			}
		}
	}
	return matched
}

// DeliverToUser pushes an event to every local connection of one user,
// ignoring room scope. The drain path uses it: a reconnecting user has
// not joined any room yet when replay starts. Reports whether at least
// one push succeeded.
func (r *Registry) DeliverToUser(ctx context.Context, userID string, e event.DomainEvent) bool {
	r.mu.RLock()
	var targets []*session
	for connID := range r.userConns[userID] {
		if sess, ok := r.sessions[connID]; ok {
			targets = append(targets, sess)
		}
	}
	r.mu.RUnlock()

	delivered := false
	for _, sess := range targets {
		if err := sess.sink.Consume(ctx, e); err != nil {
			r.log.Warn("Local push failed, dropping connection",
				"connection", sess.conn.ID, "user", userID, "error", err)
			r.Deregister(ctx, sess.conn.ID)
			continue
		}
		delivered = true
	}
	return delivered
}

// Touch stamps the connection's heartbeat.
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[connID]; ok {
		sess.conn.LastHeartbeat = r.now()
	}
}

// Stale returns connections whose last heartbeat is older than timeout.
// The heartbeat sweep deregisters them exactly like an explicit
// disconnect.
func (r *Registry) Stale(timeout time.Duration) []string {
	deadline := r.now().Add(-timeout)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var stale []string
	for connID, sess := range r.sessions {
		if sess.conn.LastHeartbeat.Before(deadline) {
			stale = append(stale, connID)
		}
	}
	return stale
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// UserConnections reports how many local connections a user holds.
func (r *Registry) UserConnections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userConns[userID])
}
