package service

import (
	"bytes"
	"encoding/json"

	"wellness_hub/server/hub/domain"
)

// Operation is one inbound hub request. The set is closed: every variant is
// declared in this file and handled by Session.Handle.
type Operation interface {
	Kind() string
}

const (
	OpSendMessage     = "send_message"
	OpEditMessage     = "edit_message"
	OpDeleteMessage   = "delete_message"
	OpTyping          = "typing"
	OpSendForumPost   = "send_forum_post"
	OpEditForumPost   = "edit_forum_post"
	OpDeleteForumPost = "delete_forum_post"
	OpCreateTodo      = "create_todo"
	OpEditTodo        = "edit_todo"
	OpDeleteTodo      = "delete_todo"
	OpJoinRoom        = "join_room"
	OpLeaveRoom       = "leave_room"
	OpPing            = "ping"
)

type SendMessage struct {
	SenderID    string `json:"sender_id"`
	ReceiverID  string `json:"receiver_id"`
	Content     string `json:"content"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

type EditMessage struct {
	MessageID int64  `json:"message_id"`
	Content   string `json:"content"`
}

type DeleteMessage struct {
	MessageID int64 `json:"message_id"`
}

type NotifyTyping struct {
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
}

type SendForumPost struct {
	UserID  string  `json:"user_id"`
	Content string  `json:"content"`
	FileRef *string `json:"file_ref,omitempty"`
}

// EditForumPost keeps the stored content when Content is nil. FileRef
// replaces the stored reference unless KeepFile is set.
type EditForumPost struct {
	PostID   int64   `json:"post_id"`
	Content  *string `json:"content,omitempty"`
	FileRef  *string `json:"file_ref,omitempty"`
	KeepFile bool    `json:"keep_file,omitempty"`
}

type DeleteForumPost struct {
	PostID int64 `json:"post_id"`
}

type CreateTodo struct {
	UserID      string `json:"user_id"`
	Task        string `json:"task"`
	Date        string `json:"date"`
	IsCompleted bool   `json:"is_completed"`
}

type EditTodo struct {
	TodoID      int64  `json:"todo_id"`
	Task        string `json:"task"`
	Date        string `json:"date"`
	IsCompleted bool   `json:"is_completed"`
}

type DeleteTodo struct {
	TodoID int64 `json:"todo_id"`
}

type JoinRoom struct {
	UserID   string `json:"user_id"`
	FriendID string `json:"friend_id"`
}

type LeaveRoom struct {
	UserID   string `json:"user_id"`
	FriendID string `json:"friend_id"`
}

type Ping struct{}

func (SendMessage) Kind() string     { return OpSendMessage }
func (EditMessage) Kind() string     { return OpEditMessage }
func (DeleteMessage) Kind() string   { return OpDeleteMessage }
func (NotifyTyping) Kind() string    { return OpTyping }
func (SendForumPost) Kind() string   { return OpSendForumPost }
func (EditForumPost) Kind() string   { return OpEditForumPost }
func (DeleteForumPost) Kind() string { return OpDeleteForumPost }
func (CreateTodo) Kind() string      { return OpCreateTodo }
func (EditTodo) Kind() string        { return OpEditTodo }
func (DeleteTodo) Kind() string      { return OpDeleteTodo }
func (JoinRoom) Kind() string        { return OpJoinRoom }
func (LeaveRoom) Kind() string       { return OpLeaveRoom }
func (Ping) Kind() string            { return OpPing }

// DecodeOperation parses the payload of an inbound frame of the given kind.
// Unknown kinds and malformed payloads are validation errors.
func DecodeOperation(kind string, raw json.RawMessage) (Operation, error) {
	var op Operation
	switch kind {
	case OpSendMessage:
		op = &SendMessage{}
	case OpEditMessage:
		op = &EditMessage{}
	case OpDeleteMessage:
		op = &DeleteMessage{}
	case OpTyping:
		op = &NotifyTyping{}
	case OpSendForumPost:
		op = &SendForumPost{}
	case OpEditForumPost:
		op = &EditForumPost{}
	case OpDeleteForumPost:
		op = &DeleteForumPost{}
	case OpCreateTodo:
		op = &CreateTodo{}
	case OpEditTodo:
		op = &EditTodo{}
	case OpDeleteTodo:
		op = &DeleteTodo{}
	case OpJoinRoom:
		op = &JoinRoom{}
	case OpLeaveRoom:
		op = &LeaveRoom{}
	case OpPing:
		return Ping{}, nil
	default:
		return nil, domain.Validationf("unknown operation %q", kind)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, domain.Validationf("%s: payload is required", kind)
	}
	if err := json.Unmarshal(raw, op); err != nil {
		return nil, domain.Validationf("%s: invalid payload", kind)
	}
	return deref(op), nil
}

func deref(op Operation) Operation {
	switch v := op.(type) {
	case *SendMessage:
		return *v
	case *EditMessage:
		return *v
	case *DeleteMessage:
		return *v
	case *NotifyTyping:
		return *v
	case *SendForumPost:
		return *v
	case *EditForumPost:
		return *v
	case *DeleteForumPost:
		return *v
	case *CreateTodo:
		return *v
	case *EditTodo:
		return *v
	case *DeleteTodo:
		return *v
	case *JoinRoom:
		return *v
	case *LeaveRoom:
		return *v
	}
	return op
}
