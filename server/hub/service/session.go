package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	commonlog "wellness_hub/server/common/log"
	"wellness_hub/server/hub/domain"
)

type SessionState int32

const (
	StateUnauthenticated SessionState = iota
	StateConnected
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var errSessionClosed = errors.New("session is closed")

// Session is the hub side of one live connection.
type Session struct {
	hub       *Hub
	conn      Conn
	state     atomic.Int32
	closeOnce sync.Once
}

// Authenticate resolves a bearer credential to a user identity.
func (h *Hub) Authenticate(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: missing credential", domain.ErrAuthentication)
	}
	userID, err := h.verifier.VerifyToken(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
	}
	return userID, nil
}

// Accept authenticates token and only then calls dial to open the transport
// for the resolved user. A rejected credential never reaches dial.
func (h *Hub) Accept(token string, dial func(userID string) (Conn, error)) (*Session, error) {
	userID, err := h.Authenticate(token)
	if err != nil {
		commonlog.Infof("event=hub_session action=accept status=rejected error=%v", err)
		return nil, err
	}
	conn, err := dial(userID)
	if err != nil {
		return nil, err
	}
	return h.Connect(conn), nil
}

// Connect registers an authenticated connection and joins its default rooms.
func (h *Hub) Connect(conn Conn) *Session {
	s := &Session{hub: h, conn: conn}
	h.presence.Register(conn)
	h.groups.Join(conn, domain.ForumRoom)
	h.groups.Join(conn, domain.UserRoom(conn.UserID()))
	s.state.Store(int32(StateConnected))
	commonlog.Infof("event=hub_session action=connect status=ok user_id=%s conn_id=%s online=%d", conn.UserID(), conn.ID(), h.presence.Online())
	return s
}

func (s *Session) Conn() Conn { return s.conn }

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Handle applies op on behalf of the session's user. Ping has no result.
func (s *Session) Handle(ctx context.Context, op Operation) (any, error) {
	if s.State() != StateConnected {
		return nil, errSessionClosed
	}
	h, actor := s.hub, s.conn.UserID()
	switch op := op.(type) {
	case SendMessage:
		return h.SendMessage(ctx, actor, s.conn, op)
	case EditMessage:
		return h.EditMessage(ctx, actor, s.conn, op)
	case DeleteMessage:
		return h.DeleteMessage(ctx, actor, s.conn, op)
	case NotifyTyping:
		return nil, h.NotifyTyping(actor, op)
	case SendForumPost:
		return h.SendForumPost(ctx, actor, op)
	case EditForumPost:
		return h.EditForumPost(ctx, actor, op)
	case DeleteForumPost:
		return h.DeleteForumPost(ctx, actor, op)
	case CreateTodo:
		return h.CreateTodo(ctx, actor, op)
	case EditTodo:
		return h.EditTodo(ctx, actor, op)
	case DeleteTodo:
		return h.DeleteTodo(ctx, actor, op)
	case JoinRoom:
		room, err := h.JoinRoom(actor, s.conn, op)
		if err != nil {
			return nil, err
		}
		return roomResult{Room: room}, nil
	case LeaveRoom:
		room, err := h.LeaveRoom(actor, s.conn, op)
		if err != nil {
			return nil, err
		}
		return roomResult{Room: room}, nil
	case Ping:
		return nil, nil
	default:
		return nil, domain.Validationf("unsupported operation %T", op)
	}
}

type roomResult struct {
	Room string `json:"room"`
}

// Close deregisters the connection and drops its group memberships. Only
// the first call has an effect.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		released := s.hub.presence.Release(s.conn.UserID(), s.conn.ID())
		groups := s.hub.groups.RemoveConn(s.conn.ID())
		commonlog.Infof("event=hub_session action=disconnect status=ok user_id=%s conn_id=%s presence_released=%t groups_left=%d online=%d", s.conn.UserID(), s.conn.ID(), released, groups, s.hub.presence.Online())
	})
}
