package domain

const (
	EventMessageReceived  = "message.received"
	EventMessageUpdated   = "message.updated"
	EventMessageDeleted   = "message.deleted"
	EventTyping           = "typing"
	EventForumPostCreated = "forum_post.created"
	EventForumPostUpdated = "forum_post.updated"
	EventForumPostDeleted = "forum_post.deleted"
	EventTodoCreated      = "todo.created"
	EventTodoUpdated      = "todo.updated"
	EventTodoDeleted      = "todo.deleted"
	EventPong             = "pong"
)

// Event is an outbound push frame.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type MessageDeleted struct {
	ID         int64  `json:"id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
}

type Typing struct {
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
}

// ForumPostView is a forum post with its attachment rendered as a URL.
type ForumPostView struct {
	ForumPost
	FileURL *string `json:"file_url,omitempty"`
}

type Deleted struct {
	ID int64 `json:"id"`
}
