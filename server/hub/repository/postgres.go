package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wellness_hub/server/hub/domain"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		message_id BIGSERIAL PRIMARY KEY,
		sender_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		content TEXT NOT NULL,
		sent_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL DEFAULT 'sent'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id, sent_at)`,
	`CREATE TABLE IF NOT EXISTS forum_posts (
		post_id BIGSERIAL PRIMARY KEY,
		author_id TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		file_ref TEXT,
		posted_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS todos (
		todo_id BIGSERIAL PRIMARY KEY,
		owner_id TEXT NOT NULL,
		due_date DATE NOT NULL,
		task TEXT NOT NULL,
		is_completed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_todos_owner ON todos(owner_id, due_date)`,
}

type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore migrates the schema on pool and returns a store over it.
// The store takes ownership of pool.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("apply postgres schema: %w", err)
		}
	}
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const pgMessageColumns = `message_id, sender_id, receiver_id, content, sent_at, status`

func scanPGMessage(row pgx.Row) (domain.Message, error) {
	var m domain.Message
	var status string
	if err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Timestamp, &status); err != nil {
		return domain.Message{}, err
	}
	m.Status = domain.MessageStatus(status)
	m.Timestamp = m.Timestamp.UTC()
	return m, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, senderID, receiverID, content string) (domain.Message, error) {
	if err := validateMessage(senderID, receiverID, content); err != nil {
		return domain.Message{}, err
	}
	m, err := scanPGMessage(s.pool.QueryRow(ctx, `
		INSERT INTO messages(sender_id, receiver_id, content, sent_at, status)
		VALUES($1, $2, $3, $4, $5)
		RETURNING `+pgMessageColumns,
		senderID, receiverID, content, s.now(), string(domain.MessageStatusSent)))
	if err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) UpdateMessage(ctx context.Context, id int64, editorID, content string) (domain.Message, error) {
	if err := validateContent(content); err != nil {
		return domain.Message{}, err
	}
	m, err := scanPGMessage(s.pool.QueryRow(ctx, `
		UPDATE messages SET content=$1, sent_at=$2
		WHERE message_id=$3 AND sender_id=$4
		RETURNING `+pgMessageColumns, content, s.now(), id, editorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Message{}, s.missing(ctx, "messages", "message_id", "message", id)
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("update message: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, id int64, requesterID string) (domain.Message, error) {
	m, err := scanPGMessage(s.pool.QueryRow(ctx, `
		DELETE FROM messages WHERE message_id=$1 AND sender_id=$2
		RETURNING `+pgMessageColumns, id, requesterID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Message{}, s.missing(ctx, "messages", "message_id", "message", id)
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("delete message: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) MarkMessageDelivered(ctx context.Context, id int64) (domain.Message, error) {
	m, err := scanPGMessage(s.pool.QueryRow(ctx, `
		UPDATE messages SET status=$1 WHERE message_id=$2
		RETURNING `+pgMessageColumns, string(domain.MessageStatusDelivered), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Message{}, domain.NotFoundf("message %d", id)
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("mark message delivered: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, userA, userB string, page, pageSize int) ([]domain.Message, error) {
	if err := validatePage(page, pageSize); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgMessageColumns+`
		FROM messages
		WHERE (sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1)
		ORDER BY sent_at, message_id
		LIMIT $3 OFFSET $4`,
		userA, userB, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Message, 0)
	for rows.Next() {
		m, err := scanPGMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

const pgPostColumns = `post_id, author_id, content, file_ref, posted_at`

func scanPGPost(row pgx.Row) (domain.ForumPost, error) {
	var p domain.ForumPost
	if err := row.Scan(&p.ID, &p.AuthorID, &p.Content, &p.FileRef, &p.Timestamp); err != nil {
		return domain.ForumPost{}, err
	}
	p.Timestamp = p.Timestamp.UTC()
	return p, nil
}

func (s *PostgresStore) CreateForumPost(ctx context.Context, authorID, content string, fileRef *string) (domain.ForumPost, error) {
	fileRef = normalizeFileRef(fileRef)
	if err := validateForumPost(content, fileRef); err != nil {
		return domain.ForumPost{}, err
	}
	p, err := scanPGPost(s.pool.QueryRow(ctx, `
		INSERT INTO forum_posts(author_id, content, file_ref, posted_at)
		VALUES($1, $2, $3, $4)
		RETURNING `+pgPostColumns, authorID, content, fileRef, s.now()))
	if err != nil {
		return domain.ForumPost{}, fmt.Errorf("create forum post: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) UpdateForumPost(ctx context.Context, id int64, editorID string, edit ForumPostEdit) (domain.ForumPost, domain.ForumPost, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.ForumPost{}, domain.ForumPost{}, fmt.Errorf("begin update forum post: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	prev, err := scanPGPost(tx.QueryRow(ctx, `SELECT `+pgPostColumns+` FROM forum_posts WHERE post_id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ForumPost{}, domain.ForumPost{}, domain.NotFoundf("forum post %d", id)
	}
	if err != nil {
		return domain.ForumPost{}, domain.ForumPost{}, fmt.Errorf("load forum post: %w", err)
	}
	if prev.AuthorID != editorID {
		return domain.ForumPost{}, domain.ForumPost{}, domain.Authorizationf("forum post %d belongs to another user", id)
	}
	content, fileRef, err := edit.apply(prev)
	if err != nil {
		return domain.ForumPost{}, domain.ForumPost{}, err
	}

	p, err := scanPGPost(tx.QueryRow(ctx, `
		UPDATE forum_posts SET content=$1, file_ref=$2, posted_at=$3
		WHERE post_id=$4
		RETURNING `+pgPostColumns, content, fileRef, s.now(), id))
	if err != nil {
		return domain.ForumPost{}, domain.ForumPost{}, fmt.Errorf("update forum post: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.ForumPost{}, domain.ForumPost{}, fmt.Errorf("commit forum post: %w", err)
	}
	return p, prev, nil
}

func (s *PostgresStore) DeleteForumPost(ctx context.Context, id int64, requesterID string) (domain.ForumPost, error) {
	p, err := scanPGPost(s.pool.QueryRow(ctx, `
		DELETE FROM forum_posts WHERE post_id=$1 AND author_id=$2
		RETURNING `+pgPostColumns, id, requesterID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ForumPost{}, s.missing(ctx, "forum_posts", "post_id", "forum post", id)
	}
	if err != nil {
		return domain.ForumPost{}, fmt.Errorf("delete forum post: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListForumPosts(ctx context.Context) ([]domain.ForumPost, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgPostColumns+` FROM forum_posts ORDER BY posted_at, post_id`)
	if err != nil {
		return nil, fmt.Errorf("list forum posts: %w", err)
	}
	defer rows.Close()

	items := make([]domain.ForumPost, 0)
	for rows.Next() {
		p, err := scanPGPost(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

const pgTodoColumns = `todo_id, owner_id, due_date, task, is_completed, created_at`

func scanPGTodo(row pgx.Row) (domain.Todo, error) {
	var t domain.Todo
	if err := row.Scan(&t.ID, &t.OwnerID, &t.Date, &t.Task, &t.IsCompleted, &t.CreatedAt); err != nil {
		return domain.Todo{}, err
	}
	t.Date = domain.Day(t.Date)
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

func (s *PostgresStore) CreateTodo(ctx context.Context, ownerID string, date time.Time, task string, completed bool) (domain.Todo, error) {
	if err := validateTask(task); err != nil {
		return domain.Todo{}, err
	}
	t, err := scanPGTodo(s.pool.QueryRow(ctx, `
		INSERT INTO todos(owner_id, due_date, task, is_completed, created_at)
		VALUES($1, $2, $3, $4, $5)
		RETURNING `+pgTodoColumns, ownerID, domain.Day(date), task, completed, s.now()))
	if err != nil {
		return domain.Todo{}, fmt.Errorf("create todo: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) UpdateTodo(ctx context.Context, id int64, editorID string, date time.Time, task string, completed bool) (domain.Todo, error) {
	if err := validateTask(task); err != nil {
		return domain.Todo{}, err
	}
	t, err := scanPGTodo(s.pool.QueryRow(ctx, `
		UPDATE todos SET due_date=$1, task=$2, is_completed=$3
		WHERE todo_id=$4 AND owner_id=$5
		RETURNING `+pgTodoColumns, domain.Day(date), task, completed, id, editorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Todo{}, s.missing(ctx, "todos", "todo_id", "todo", id)
	}
	if err != nil {
		return domain.Todo{}, fmt.Errorf("update todo: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) DeleteTodo(ctx context.Context, id int64, requesterID string) (domain.Todo, error) {
	t, err := scanPGTodo(s.pool.QueryRow(ctx, `
		DELETE FROM todos WHERE todo_id=$1 AND owner_id=$2
		RETURNING `+pgTodoColumns, id, requesterID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Todo{}, s.missing(ctx, "todos", "todo_id", "todo", id)
	}
	if err != nil {
		return domain.Todo{}, fmt.Errorf("delete todo: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListTodos(ctx context.Context, ownerID string, date *time.Time) ([]domain.Todo, error) {
	base := `SELECT ` + pgTodoColumns + ` FROM todos WHERE owner_id=$1`
	args := []any{ownerID}
	if date != nil {
		base += ` AND due_date=$2`
		args = append(args, domain.Day(*date))
	}
	base += ` ORDER BY created_at, todo_id`

	rows, err := s.pool.Query(ctx, base, args...)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Todo, 0)
	for rows.Next() {
		t, err := scanPGTodo(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (s *PostgresStore) missing(ctx context.Context, table, idColumn, entity string, id int64) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE `+idColumn+`=$1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("lookup %s %d: %w", entity, id, err)
	}
	if exists {
		return domain.Authorizationf("%s %d belongs to another user", entity, id)
	}
	return domain.NotFoundf("%s %d", entity, id)
}
