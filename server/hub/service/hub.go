package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	commonlog "wellness_hub/server/common/log"
	"wellness_hub/server/hub/domain"
	"wellness_hub/server/hub/repository"
)

type TokenVerifier interface {
	VerifyToken(token string) (userID string, err error)
}

// Hub owns the shared presence and group state and applies every operation
// as validate, authorize, persist, then notify. The same methods serve the
// WebSocket sessions and the REST handlers; REST callers pass a nil Conn.
type Hub struct {
	store       repository.Store
	verifier    TokenVerifier
	presence    *Presence
	groups      *Groups
	dispatcher  *Dispatcher
	idempotency IdempotencyGuard
	publisher   EventPublisher
	attachments *Attachments
}

func NewHub(store repository.Store, verifier TokenVerifier) *Hub {
	presence := NewPresence()
	groups := NewGroups()
	return &Hub{
		store:      store,
		verifier:   verifier,
		presence:   presence,
		groups:     groups,
		dispatcher: NewDispatcher(presence, groups),
		publisher:  noopPublisher{},
	}
}

// The Use* setters must be called before the hub serves traffic.

func (h *Hub) UseIdempotency(guard IdempotencyGuard) {
	h.idempotency = guard
}

func (h *Hub) UsePublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	h.publisher = p
}

func (h *Hub) UseAttachments(a *Attachments) {
	h.attachments = a
}

func (h *Hub) Attachments() *Attachments { return h.attachments }
func (h *Hub) Presence() *Presence       { return h.presence }
func (h *Hub) Groups() *Groups           { return h.groups }

func (h *Hub) Ping(ctx context.Context) error {
	return h.store.Ping(ctx)
}

func (h *Hub) Close() {
	h.publisher.Close()
}

func requireActor(actorID, claimed, field string) error {
	claimed = strings.TrimSpace(claimed)
	if claimed == "" {
		return domain.Validationf("%s is required", field)
	}
	if claimed != actorID {
		return domain.Authorizationf("%s does not match authenticated user", field)
	}
	return nil
}

func requireID(id int64, field string) error {
	if id <= 0 {
		return domain.Validationf("%s is required", field)
	}
	return nil
}

// durable detaches store writes from the caller so a dropped connection does
// not abort a commit.
func durable(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func (h *Hub) publish(ctx context.Context, key string, payload any) {
	if err := h.publisher.Publish(ctx, key, payload); err != nil {
		commonlog.Warnf("event=hub_outbox action=publish status=failed key=%s error=%v", key, err)
	}
}

func (h *Hub) SendMessage(ctx context.Context, actorID string, caller Conn, op SendMessage) (domain.Message, error) {
	receiverID := strings.TrimSpace(op.ReceiverID)
	if receiverID == "" {
		return domain.Message{}, domain.Validationf("receiver_id is required")
	}
	if strings.TrimSpace(op.Content) == "" {
		return domain.Message{}, domain.Validationf("message content is required")
	}
	if err := requireActor(actorID, op.SenderID, "sender_id"); err != nil {
		return domain.Message{}, err
	}
	ctx = durable(ctx)

	clientMsgID := strings.TrimSpace(op.ClientMsgID)
	claimed := false
	if clientMsgID != "" && h.idempotency != nil {
		ok, err := h.idempotency.Claim(ctx, actorID, clientMsgID)
		if err != nil {
			commonlog.Errorf("event=hub_message action=claim status=failed user_id=%s error=%v", actorID, err)
			return domain.Message{}, fmt.Errorf("claim client_msg_id: %w", err)
		}
		if !ok {
			return domain.Message{}, domain.Validationf("duplicate client_msg_id")
		}
		claimed = true
	}

	startedAt := time.Now()
	msg, err := h.store.AppendMessage(ctx, actorID, receiverID, op.Content)
	if err != nil {
		commonlog.Errorf("event=hub_message action=create status=failed user_id=%s receiver_id=%s client_msg_id_present=%t latency_ms=%d error=%v", actorID, receiverID, clientMsgID != "", time.Since(startedAt).Milliseconds(), err)
		if claimed {
			if relErr := h.idempotency.Release(ctx, actorID, clientMsgID); relErr != nil {
				commonlog.Warnf("event=hub_message action=release_claim status=failed user_id=%s error=%v", actorID, relErr)
			}
		}
		return domain.Message{}, err
	}
	commonlog.Infof("event=hub_message action=create status=ok user_id=%s receiver_id=%s message_id=%d client_msg_id_present=%t latency_ms=%d", actorID, receiverID, msg.ID, clientMsgID != "", time.Since(startedAt).Milliseconds())
	h.publish(ctx, domain.EventMessageReceived, msg)

	var skip []Conn
	if receiver, ok := h.presence.Lookup(receiverID); ok {
		pushed := msg
		pushed.Status = domain.MessageStatusDelivered
		if h.dispatcher.push(receiver, domain.Event{Type: domain.EventMessageReceived, Payload: pushed}) {
			if updated, err := h.store.MarkMessageDelivered(ctx, msg.ID); err != nil {
				commonlog.Warnf("event=hub_message action=mark_delivered status=failed message_id=%d error=%v", msg.ID, err)
			} else {
				msg = updated
			}
		}
		skip = append(skip, receiver)
	} else {
		commonlog.Debugf("event=hub_message action=deliver status=offline message_id=%d receiver_id=%s", msg.ID, receiverID)
	}

	h.dispatcher.Deliver(domain.Event{Type: domain.EventMessageReceived, Payload: msg}, Targets{
		Users:  []string{actorID},
		Conns:  []Conn{caller},
		Groups: []string{domain.PairRoom(actorID, receiverID)},
		Skip:   skip,
	})
	return msg, nil
}

func (h *Hub) EditMessage(ctx context.Context, actorID string, caller Conn, op EditMessage) (domain.Message, error) {
	if err := requireID(op.MessageID, "message_id"); err != nil {
		return domain.Message{}, err
	}
	ctx = durable(ctx)
	msg, err := h.store.UpdateMessage(ctx, op.MessageID, actorID, op.Content)
	if err != nil {
		commonlog.Infof("event=hub_message action=update status=rejected user_id=%s message_id=%d code=%s", actorID, op.MessageID, domain.ErrorCode(err))
		return domain.Message{}, err
	}
	commonlog.Infof("event=hub_message action=update status=ok user_id=%s message_id=%d", actorID, msg.ID)
	h.publish(ctx, domain.EventMessageUpdated, msg)
	h.dispatcher.Deliver(domain.Event{Type: domain.EventMessageUpdated, Payload: msg}, messageTargets(msg.SenderID, msg.ReceiverID, caller))
	return msg, nil
}

func (h *Hub) DeleteMessage(ctx context.Context, actorID string, caller Conn, op DeleteMessage) (domain.MessageDeleted, error) {
	if err := requireID(op.MessageID, "message_id"); err != nil {
		return domain.MessageDeleted{}, err
	}
	ctx = durable(ctx)
	msg, err := h.store.DeleteMessage(ctx, op.MessageID, actorID)
	if err != nil {
		commonlog.Infof("event=hub_message action=delete status=rejected user_id=%s message_id=%d code=%s", actorID, op.MessageID, domain.ErrorCode(err))
		return domain.MessageDeleted{}, err
	}
	out := domain.MessageDeleted{ID: msg.ID, SenderID: msg.SenderID, ReceiverID: msg.ReceiverID}
	commonlog.Infof("event=hub_message action=delete status=ok user_id=%s message_id=%d", actorID, msg.ID)
	h.publish(ctx, domain.EventMessageDeleted, out)
	h.dispatcher.Deliver(domain.Event{Type: domain.EventMessageDeleted, Payload: out}, messageTargets(msg.SenderID, msg.ReceiverID, caller))
	return out, nil
}

func messageTargets(senderID, receiverID string, caller Conn) Targets {
	return Targets{
		Users:  []string{receiverID, senderID},
		Conns:  []Conn{caller},
		Groups: []string{domain.PairRoom(senderID, receiverID)},
	}
}

// NotifyTyping relays a typing signal to the receiver's current connection.
// Nothing is stored and an offline receiver is not an error.
func (h *Hub) NotifyTyping(actorID string, op NotifyTyping) error {
	if err := requireActor(actorID, op.SenderID, "sender_id"); err != nil {
		return err
	}
	receiverID := strings.TrimSpace(op.ReceiverID)
	if receiverID == "" {
		return domain.Validationf("receiver_id is required")
	}
	h.dispatcher.DeliverToUser(receiverID, domain.Event{
		Type:    domain.EventTyping,
		Payload: domain.Typing{SenderID: actorID, ReceiverID: receiverID},
	})
	return nil
}

func (h *Hub) forumView(p domain.ForumPost) domain.ForumPostView {
	view := domain.ForumPostView{ForumPost: p}
	if p.FileRef != nil {
		url := *p.FileRef
		if h.attachments != nil {
			url = h.attachments.URL(url)
		}
		view.FileURL = &url
	}
	return view
}

func (h *Hub) SendForumPost(ctx context.Context, actorID string, op SendForumPost) (domain.ForumPostView, error) {
	if err := requireActor(actorID, op.UserID, "user_id"); err != nil {
		return domain.ForumPostView{}, err
	}
	ctx = durable(ctx)
	post, err := h.store.CreateForumPost(ctx, actorID, op.Content, op.FileRef)
	if err != nil {
		commonlog.Infof("event=hub_forum action=create status=rejected user_id=%s code=%s", actorID, domain.ErrorCode(err))
		return domain.ForumPostView{}, err
	}
	view := h.forumView(post)
	commonlog.Infof("event=hub_forum action=create status=ok user_id=%s post_id=%d file_present=%t", actorID, post.ID, post.FileRef != nil)
	h.publish(ctx, domain.EventForumPostCreated, view)
	h.dispatcher.DeliverToGroup(domain.ForumRoom, domain.Event{Type: domain.EventForumPostCreated, Payload: view}, nil)
	return view, nil
}

func (h *Hub) EditForumPost(ctx context.Context, actorID string, op EditForumPost) (domain.ForumPostView, error) {
	if err := requireID(op.PostID, "post_id"); err != nil {
		return domain.ForumPostView{}, err
	}
	ctx = durable(ctx)
	post, prev, err := h.store.UpdateForumPost(ctx, op.PostID, actorID, repository.ForumPostEdit{
		Content:  op.Content,
		FileRef:  op.FileRef,
		KeepFile: op.KeepFile,
	})
	if err != nil {
		commonlog.Infof("event=hub_forum action=update status=rejected user_id=%s post_id=%d code=%s", actorID, op.PostID, domain.ErrorCode(err))
		return domain.ForumPostView{}, err
	}
	view := h.forumView(post)
	commonlog.Infof("event=hub_forum action=update status=ok user_id=%s post_id=%d", actorID, post.ID)
	h.publish(ctx, domain.EventForumPostUpdated, view)
	h.dispatcher.DeliverToGroup(domain.ForumRoom, domain.Event{Type: domain.EventForumPostUpdated, Payload: view}, nil)
	if prev.FileRef != nil && (post.FileRef == nil || *post.FileRef != *prev.FileRef) {
		h.discardFile(ctx, post.ID, *prev.FileRef)
	}
	return view, nil
}

func (h *Hub) DeleteForumPost(ctx context.Context, actorID string, op DeleteForumPost) (domain.Deleted, error) {
	if err := requireID(op.PostID, "post_id"); err != nil {
		return domain.Deleted{}, err
	}
	ctx = durable(ctx)
	post, err := h.store.DeleteForumPost(ctx, op.PostID, actorID)
	if err != nil {
		commonlog.Infof("event=hub_forum action=delete status=rejected user_id=%s post_id=%d code=%s", actorID, op.PostID, domain.ErrorCode(err))
		return domain.Deleted{}, err
	}
	out := domain.Deleted{ID: post.ID}
	commonlog.Infof("event=hub_forum action=delete status=ok user_id=%s post_id=%d", actorID, post.ID)
	h.publish(ctx, domain.EventForumPostDeleted, out)
	h.dispatcher.DeliverToGroup(domain.ForumRoom, domain.Event{Type: domain.EventForumPostDeleted, Payload: out}, nil)
	if post.FileRef != nil {
		h.discardFile(ctx, post.ID, *post.FileRef)
	}
	return out, nil
}

// discardFile removes an attachment no post references any more. The post
// change is already committed, so a failure is only logged.
func (h *Hub) discardFile(ctx context.Context, postID int64, ref string) {
	if h.attachments == nil {
		return
	}
	if err := h.attachments.Remove(ctx, ref); err != nil {
		commonlog.Warnf("event=hub_attachment action=remove status=failed post_id=%d file_ref=%s error=%v", postID, ref, err)
		return
	}
	commonlog.Debugf("event=hub_attachment action=remove status=ok post_id=%d file_ref=%s", postID, ref)
}

func (h *Hub) CreateTodo(ctx context.Context, actorID string, op CreateTodo) (domain.Todo, error) {
	if err := requireActor(actorID, op.UserID, "user_id"); err != nil {
		return domain.Todo{}, err
	}
	date, err := domain.ParseDay(strings.TrimSpace(op.Date))
	if err != nil {
		return domain.Todo{}, err
	}
	ctx = durable(ctx)
	todo, err := h.store.CreateTodo(ctx, actorID, date, op.Task, op.IsCompleted)
	if err != nil {
		commonlog.Infof("event=hub_todo action=create status=rejected user_id=%s code=%s", actorID, domain.ErrorCode(err))
		return domain.Todo{}, err
	}
	commonlog.Infof("event=hub_todo action=create status=ok user_id=%s todo_id=%d", actorID, todo.ID)
	h.publish(ctx, domain.EventTodoCreated, todo)
	h.dispatcher.DeliverToGroup(domain.UserRoom(actorID), domain.Event{Type: domain.EventTodoCreated, Payload: todo}, nil)
	return todo, nil
}

func (h *Hub) EditTodo(ctx context.Context, actorID string, op EditTodo) (domain.Todo, error) {
	if err := requireID(op.TodoID, "todo_id"); err != nil {
		return domain.Todo{}, err
	}
	date, err := domain.ParseDay(strings.TrimSpace(op.Date))
	if err != nil {
		return domain.Todo{}, err
	}
	ctx = durable(ctx)
	todo, err := h.store.UpdateTodo(ctx, op.TodoID, actorID, date, op.Task, op.IsCompleted)
	if err != nil {
		commonlog.Infof("event=hub_todo action=update status=rejected user_id=%s todo_id=%d code=%s", actorID, op.TodoID, domain.ErrorCode(err))
		return domain.Todo{}, err
	}
	commonlog.Infof("event=hub_todo action=update status=ok user_id=%s todo_id=%d", actorID, todo.ID)
	h.publish(ctx, domain.EventTodoUpdated, todo)
	h.dispatcher.DeliverToGroup(domain.UserRoom(todo.OwnerID), domain.Event{Type: domain.EventTodoUpdated, Payload: todo}, nil)
	return todo, nil
}

func (h *Hub) DeleteTodo(ctx context.Context, actorID string, op DeleteTodo) (domain.Deleted, error) {
	if err := requireID(op.TodoID, "todo_id"); err != nil {
		return domain.Deleted{}, err
	}
	ctx = durable(ctx)
	todo, err := h.store.DeleteTodo(ctx, op.TodoID, actorID)
	if err != nil {
		commonlog.Infof("event=hub_todo action=delete status=rejected user_id=%s todo_id=%d code=%s", actorID, op.TodoID, domain.ErrorCode(err))
		return domain.Deleted{}, err
	}
	out := domain.Deleted{ID: todo.ID}
	commonlog.Infof("event=hub_todo action=delete status=ok user_id=%s todo_id=%d", actorID, todo.ID)
	h.publish(ctx, domain.EventTodoDeleted, out)
	h.dispatcher.DeliverToGroup(domain.UserRoom(todo.OwnerID), domain.Event{Type: domain.EventTodoDeleted, Payload: out}, nil)
	return out, nil
}

// JoinRoom adds the calling connection to the pair room of the two users.
func (h *Hub) JoinRoom(actorID string, caller Conn, op JoinRoom) (string, error) {
	room, err := h.pairRoom(actorID, caller, op.UserID, op.FriendID)
	if err != nil {
		return "", err
	}
	h.groups.Join(caller, room)
	commonlog.Debugf("event=hub_room action=join status=ok user_id=%s conn_id=%s room=%s", actorID, caller.ID(), room)
	return room, nil
}

func (h *Hub) LeaveRoom(actorID string, caller Conn, op LeaveRoom) (string, error) {
	room, err := h.pairRoom(actorID, caller, op.UserID, op.FriendID)
	if err != nil {
		return "", err
	}
	h.groups.Leave(caller, room)
	commonlog.Debugf("event=hub_room action=leave status=ok user_id=%s conn_id=%s room=%s", actorID, caller.ID(), room)
	return room, nil
}

func (h *Hub) pairRoom(actorID string, caller Conn, userID, friendID string) (string, error) {
	if caller == nil {
		return "", domain.Validationf("rooms require a live connection")
	}
	if err := requireActor(actorID, userID, "user_id"); err != nil {
		return "", err
	}
	friendID = strings.TrimSpace(friendID)
	if friendID == "" {
		return "", domain.Validationf("friend_id is required")
	}
	return domain.PairRoom(actorID, friendID), nil
}

func (h *Hub) ListMessages(ctx context.Context, actorID, peerID string, page, pageSize int) ([]domain.Message, error) {
	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return nil, domain.Validationf("peer id is required")
	}
	return h.store.ListMessages(ctx, actorID, peerID, page, pageSize)
}

func (h *Hub) ListForumPosts(ctx context.Context) ([]domain.ForumPostView, error) {
	posts, err := h.store.ListForumPosts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ForumPostView, 0, len(posts))
	for _, p := range posts {
		out = append(out, h.forumView(p))
	}
	return out, nil
}

func (h *Hub) ListTodos(ctx context.Context, actorID string, date *time.Time) ([]domain.Todo, error) {
	return h.store.ListTodos(ctx, actorID, date)
}
