package repository

import (
	"context"
	"strings"
	"time"

	"wellness_hub/server/hub/domain"
)

const MaxPageSize = 200

// Store is the durable side of the hub. Every mutation checks ownership in
// the same statement or transaction that applies it, so a rejected call
// never changes a row.
type Store interface {
	AppendMessage(ctx context.Context, senderID, receiverID, content string) (domain.Message, error)
	UpdateMessage(ctx context.Context, id int64, editorID, content string) (domain.Message, error)
	DeleteMessage(ctx context.Context, id int64, requesterID string) (domain.Message, error)
	MarkMessageDelivered(ctx context.Context, id int64) (domain.Message, error)
	// ListMessages pages through the conversation of two users, oldest first.
	// page is 1-based.
	ListMessages(ctx context.Context, userA, userB string, page, pageSize int) ([]domain.Message, error)

	CreateForumPost(ctx context.Context, authorID, content string, fileRef *string) (domain.ForumPost, error)
	// UpdateForumPost applies edit and returns the post as stored before and
	// after it.
	UpdateForumPost(ctx context.Context, id int64, editorID string, edit ForumPostEdit) (updated, previous domain.ForumPost, err error)
	DeleteForumPost(ctx context.Context, id int64, requesterID string) (domain.ForumPost, error)
	ListForumPosts(ctx context.Context) ([]domain.ForumPost, error)

	CreateTodo(ctx context.Context, ownerID string, date time.Time, task string, completed bool) (domain.Todo, error)
	UpdateTodo(ctx context.Context, id int64, editorID string, date time.Time, task string, completed bool) (domain.Todo, error)
	DeleteTodo(ctx context.Context, id int64, requesterID string) (domain.Todo, error)
	ListTodos(ctx context.Context, ownerID string, date *time.Time) ([]domain.Todo, error)

	Ping(ctx context.Context) error
	Close() error
}

func validateMessage(senderID, receiverID, content string) error {
	if strings.TrimSpace(senderID) == "" || strings.TrimSpace(receiverID) == "" {
		return domain.Validationf("sender_id and receiver_id are required")
	}
	return validateContent(content)
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return domain.Validationf("message content is required")
	}
	return nil
}

func validateForumPost(content string, fileRef *string) error {
	if strings.TrimSpace(content) == "" && (fileRef == nil || strings.TrimSpace(*fileRef) == "") {
		return domain.Validationf("post must have content or a file")
	}
	return nil
}

// ForumPostEdit is a change to an existing post. A nil Content keeps the
// stored text. FileRef replaces the stored reference unless KeepFile is set.
type ForumPostEdit struct {
	Content  *string
	FileRef  *string
	KeepFile bool
}

// apply returns the content and file reference current would have after the
// edit, rejecting a result with neither.
func (e ForumPostEdit) apply(current domain.ForumPost) (string, *string, error) {
	content := current.Content
	if e.Content != nil {
		content = *e.Content
	}
	fileRef := normalizeFileRef(e.FileRef)
	if e.KeepFile {
		fileRef = current.FileRef
	}
	if err := validateForumPost(content, fileRef); err != nil {
		return "", nil, err
	}
	return content, fileRef, nil
}

func validateTask(task string) error {
	if strings.TrimSpace(task) == "" {
		return domain.Validationf("task is required")
	}
	return nil
}

func validatePage(page, pageSize int) error {
	if page < 1 {
		return domain.Validationf("page must be >= 1")
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return domain.Validationf("page_size must be between 1 and %d", MaxPageSize)
	}
	return nil
}

func normalizeFileRef(fileRef *string) *string {
	if fileRef == nil {
		return nil
	}
	v := strings.TrimSpace(*fileRef)
	if v == "" {
		return nil
	}
	return &v
}
