package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Logan27/1000-messenger-sub002/auth"
	"github.com/Logan27/1000-messenger-sub002/contract"
	"github.com/Logan27/1000-messenger-sub002/domain"
	"github.com/Logan27/1000-messenger-sub002/errors"
	"github.com/Logan27/1000-messenger-sub002/presence"
	"github.com/Logan27/1000-messenger-sub002/services"
	"github.com/Logan27/1000-messenger-sub002/typing"
)

type Options struct {
	ProcessID      string
	SendBufferSize int
	PingPeriod     time.Duration
	PongWait       time.Duration
	MaxPayloadSize int64
	// Raw inbound frame budget per connection, enforced before any
	// parsing. The per-user operation-class limits come later.
	FramesPerSecond float64
	FrameBurst      int
}

// Server upgrades client connections, verifies their identity, and
// translates wire frames into operations on the core. One instance
// serves one process.
type Server struct {
	log       *slog.Logger
	verifier  *auth.Verifier
	registry  contract.Registry
	limiter   contract.Limiter
	directory contract.Directory
	chat      services.IChatService
	typing    *typing.Coordinator
	presence  *presence.Manager
	opts      Options
	upgrader  websocket.Upgrader
}

func NewServer(log *slog.Logger, verifier *auth.Verifier, registry contract.Registry,
	limiter contract.Limiter, directory contract.Directory, chat services.IChatService,
	typingCoordinator *typing.Coordinator, presenceManager *presence.Manager, opts Options) *Server {
	return &Server{
		log:       log,
		verifier:  verifier,
		registry:  registry,
		limiter:   limiter,
		directory: directory,
		chat:      chat,
		typing:    typingCoordinator,
		presence:  presenceManager,
		opts:      opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handle)
	return mux
}

// handle runs the whole connection lifecycle: upgrade, identity
// verification, registry admission, read loop, withdrawal. The
// connection is only admitted once the token verified; an unauthorized
// peer is closed before it ever touches the registry.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	socket, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Upgrade failed", "error", err)
		return
	}

	userID, err := s.verifier.Verify(bearerToken(r))
	if err != nil {
		deadline := time.Now().Add(writeWait)
		_ = socket.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"), deadline)
		_ = socket.Close()
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	connID := uuid.NewString()
	conn := newConn(connID, userID, socket, s.opts.SendBufferSize, s.opts.PingPeriod)
	meta := domain.NewConnection(connID, userID, s.opts.ProcessID, now)

	socket.SetReadLimit(s.opts.MaxPayloadSize)
	_ = socket.SetReadDeadline(now.Add(s.opts.PongWait))
	socket.SetPongHandler(func(string) error {
		s.registry.Touch(connID)
		return socket.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	conn.onClose = func() {
		s.registry.Deregister(context.Background(), connID)
	}
	go conn.writeLoop()

	if err := s.registry.Register(ctx, meta, conn); err != nil {
		conn.Close(websocket.CloseInternalServerErr, "registration failed")
		return
	}
	conn.state.Store(stateAuthenticated)
	s.log.Info("Connection admitted", "connection", connID, "user", userID)

	s.readLoop(ctx, conn)
	conn.Close(websocket.CloseNormalClosure, "bye")
	s.log.Info("Connection withdrawn", "connection", connID, "user", userID)
}

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) {
		return header[len(prefix):]
	}
	return ""
}

// readLoop consumes frames until the socket dies. Oversized payloads
// and malformed frames are protocol violations answered on this
// connection only; nothing a misbehaving client sends reaches the bus.
func (s *Server) readLoop(ctx context.Context, conn *Conn) {
	guard := rate.NewLimiter(rate.Limit(s.opts.FramesPerSecond), s.opts.FrameBurst)
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}
		if !conn.authenticated() {
			return
		}
		if !guard.Allow() {
			conn.sendError(fmt.Errorf("%w: frame flood", errors.ErrRateLimited))
			continue
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			conn.sendError(errors.ErrInvalidPayload)
			continue
		}
		if err := s.dispatch(ctx, conn, f); err != nil {
			conn.sendError(err)
		}
	}
}

// dispatch routes one client frame. Room-scoped operations require the
// connection to have joined the room first; operating on a foreign room
// is a violation, not a broadcastable event.
func (s *Server) dispatch(ctx context.Context, conn *Conn, f frame) error {
	switch f.Event {
	case "message:send":
		req, err := decodePayload[sendMessageRequest](f.Payload)
		if err != nil {
			return err
		}
		if !s.registry.InRoom(conn.ID, req.ChatID) {
			return errors.ErrNotParticipant
		}
		contentType := domain.ContentType(req.ContentType)
		if contentType == "" {
			contentType = domain.ContentText
		}
		cmd := services.SendMessageCommand{
			ChatID:      req.ChatID,
			SenderID:    conn.UserID,
			Content:     req.Content,
			ContentType: contentType,
		}
		if req.ReplyToID != nil {
			replyTo, err := uuid.Parse(*req.ReplyToID)
			if err != nil {
				return errors.ErrInvalidPayload
			}
			cmd.ReplyTo = &replyTo
		}
		message, err := s.chat.SendMessage(ctx, cmd)
		if err != nil {
			return err
		}
		ack, err := encodeAck(message)
		if err != nil {
			return err
		}
		return conn.enqueue(ack)

	case "message:read":
		req, err := decodePayload[readMessageRequest](f.Payload)
		if err != nil {
			return err
		}
		return s.chat.MarkRead(ctx, uuid.MustParse(req.MessageID), conn.UserID)

	case "message:read_all":
		req, err := decodePayload[readAllRequest](f.Payload)
		if err != nil {
			return err
		}
		return s.chat.MarkAllRead(ctx, req.ChatID, conn.UserID)

	case "message:edit":
		req, err := decodePayload[editMessageRequest](f.Payload)
		if err != nil {
			return err
		}
		return s.chat.EditMessage(ctx, uuid.MustParse(req.MessageID), conn.UserID, req.Content)

	case "message:delete":
		req, err := decodePayload[deleteMessageRequest](f.Payload)
		if err != nil {
			return err
		}
		return s.chat.DeleteMessage(ctx, uuid.MustParse(req.MessageID), conn.UserID)

	case "typing:start":
		req, err := decodePayload[typingRequest](f.Payload)
		if err != nil {
			return err
		}
		if !s.registry.InRoom(conn.ID, req.ChatID) {
			return errors.ErrNotParticipant
		}
		if err := s.limiter.Check(ctx, conn.UserID, "typing"); err != nil {
			return err
		}
		return s.typing.SignalStart(ctx, req.ChatID, conn.UserID)

	case "typing:stop":
		req, err := decodePayload[typingRequest](f.Payload)
		if err != nil {
			return err
		}
		return s.typing.SignalStop(ctx, req.ChatID, conn.UserID)

	case "reaction:add":
		req, err := decodePayload[reactionRequest](f.Payload)
		if err != nil {
			return err
		}
		return s.chat.AddReaction(ctx, uuid.MustParse(req.MessageID), conn.UserID, req.Emoji)

	case "reaction:remove":
		req, err := decodePayload[reactionRequest](f.Payload)
		if err != nil {
			return err
		}
		return s.chat.RemoveReaction(ctx, uuid.MustParse(req.MessageID), conn.UserID, req.Emoji)

	case "room:join":
		req, err := decodePayload[roomRequest](f.Payload)
		if err != nil {
			return err
		}
		participants, err := s.directory.ParticipantsOf(ctx, req.ChatID)
		if err != nil {
			return err
		}
		if !containsString(participants, conn.UserID) {
			return errors.ErrNotParticipant
		}
		s.registry.JoinRoom(conn.ID, req.ChatID)
		return nil

	case "room:leave":
		req, err := decodePayload[roomRequest](f.Payload)
		if err != nil {
			return err
		}
		s.registry.LeaveRoom(conn.ID, req.ChatID)
		return nil

	case "status:set":
		req, err := decodePayload[statusRequest](f.Payload)
		if err != nil {
			return err
		}
		if req.Status == "away" {
			return s.presence.SetAway(ctx, conn.UserID)
		}
		return s.presence.SetOnline(ctx, conn.UserID)

	default:
		return fmt.Errorf("%w: %q", errors.ErrUnknownEvent, f.Event)
	}
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
