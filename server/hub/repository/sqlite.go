package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"wellness_hub/server/hub/domain"
)

const MemoryPath = ":memory:"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		message_id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		content TEXT NOT NULL,
		sent_at INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'sent'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id, sent_at)`,
	`CREATE TABLE IF NOT EXISTS forum_posts (
		post_id INTEGER PRIMARY KEY AUTOINCREMENT,
		author_id TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		file_ref TEXT,
		posted_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS todos (
		todo_id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id TEXT NOT NULL,
		due_date TEXT NOT NULL,
		task TEXT NOT NULL,
		is_completed INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_todos_owner ON todos(owner_id, due_date)`,
}

// SQLiteStore keeps hub data in a single SQLite file (or in memory). All
// statements share one connection, which serializes writers.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens the database at path, creating it when missing. Use
// MemoryPath for a throwaway in-process database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := MemoryPath
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteMessageColumns = `message_id, sender_id, receiver_id, content, sent_at, status`

func scanSQLiteMessage(row interface{ Scan(...any) error }) (domain.Message, error) {
	var m domain.Message
	var sentAt int64
	if err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &sentAt, &m.Status); err != nil {
		return domain.Message{}, err
	}
	m.Timestamp = time.Unix(0, sentAt).UTC()
	return m, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, senderID, receiverID, content string) (domain.Message, error) {
	if err := validateMessage(senderID, receiverID, content); err != nil {
		return domain.Message{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO messages(sender_id, receiver_id, content, sent_at, status)
		VALUES(?, ?, ?, ?, ?)
		RETURNING `+sqliteMessageColumns,
		senderID, receiverID, content, s.now().UnixNano(), domain.MessageStatusSent)
	m, err := scanSQLiteMessage(row)
	if err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) UpdateMessage(ctx context.Context, id int64, editorID, content string) (domain.Message, error) {
	if err := validateContent(content); err != nil {
		return domain.Message{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE messages SET content = ?, sent_at = ?
		WHERE message_id = ? AND sender_id = ?
		RETURNING `+sqliteMessageColumns,
		content, s.now().UnixNano(), id, editorID)
	m, err := scanSQLiteMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, s.missing(ctx, "messages", "message_id", "message", id)
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("update message: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) DeleteMessage(ctx context.Context, id int64, requesterID string) (domain.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		DELETE FROM messages WHERE message_id = ? AND sender_id = ?
		RETURNING `+sqliteMessageColumns, id, requesterID)
	m, err := scanSQLiteMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, s.missing(ctx, "messages", "message_id", "message", id)
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("delete message: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) MarkMessageDelivered(ctx context.Context, id int64) (domain.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE messages SET status = ? WHERE message_id = ?
		RETURNING `+sqliteMessageColumns, domain.MessageStatusDelivered, id)
	m, err := scanSQLiteMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, domain.NotFoundf("message %d", id)
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("mark message delivered: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, userA, userB string, page, pageSize int) ([]domain.Message, error) {
	if err := validatePage(page, pageSize); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteMessageColumns+`
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY sent_at, message_id
		LIMIT ? OFFSET ?`,
		userA, userB, userB, userA, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Message, 0)
	for rows.Next() {
		m, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

const sqlitePostColumns = `post_id, author_id, content, file_ref, posted_at`

func scanSQLitePost(row interface{ Scan(...any) error }) (domain.ForumPost, error) {
	var p domain.ForumPost
	var fileRef sql.NullString
	var postedAt int64
	if err := row.Scan(&p.ID, &p.AuthorID, &p.Content, &fileRef, &postedAt); err != nil {
		return domain.ForumPost{}, err
	}
	if fileRef.Valid {
		p.FileRef = &fileRef.String
	}
	p.Timestamp = time.Unix(0, postedAt).UTC()
	return p, nil
}

func (s *SQLiteStore) CreateForumPost(ctx context.Context, authorID, content string, fileRef *string) (domain.ForumPost, error) {
	fileRef = normalizeFileRef(fileRef)
	if err := validateForumPost(content, fileRef); err != nil {
		return domain.ForumPost{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO forum_posts(author_id, content, file_ref, posted_at)
		VALUES(?, ?, ?, ?)
		RETURNING `+sqlitePostColumns, authorID, content, fileRef, s.now().UnixNano())
	p, err := scanSQLitePost(row)
	if err != nil {
		return domain.ForumPost{}, fmt.Errorf("create forum post: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) UpdateForumPost(ctx context.Context, id int64, editorID string, edit ForumPostEdit) (domain.ForumPost, domain.ForumPost, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ForumPost{}, domain.ForumPost{}, fmt.Errorf("begin update forum post: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	prev, err := scanSQLitePost(tx.QueryRowContext(ctx, `SELECT `+sqlitePostColumns+` FROM forum_posts WHERE post_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
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

	p, err := scanSQLitePost(tx.QueryRowContext(ctx, `
		UPDATE forum_posts SET content = ?, file_ref = ?, posted_at = ?
		WHERE post_id = ?
		RETURNING `+sqlitePostColumns, content, fileRef, s.now().UnixNano(), id))
	if err != nil {
		return domain.ForumPost{}, domain.ForumPost{}, fmt.Errorf("update forum post: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.ForumPost{}, domain.ForumPost{}, fmt.Errorf("commit forum post: %w", err)
	}
	return p, prev, nil
}

func (s *SQLiteStore) DeleteForumPost(ctx context.Context, id int64, requesterID string) (domain.ForumPost, error) {
	row := s.db.QueryRowContext(ctx, `
		DELETE FROM forum_posts WHERE post_id = ? AND author_id = ?
		RETURNING `+sqlitePostColumns, id, requesterID)
	p, err := scanSQLitePost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ForumPost{}, s.missing(ctx, "forum_posts", "post_id", "forum post", id)
	}
	if err != nil {
		return domain.ForumPost{}, fmt.Errorf("delete forum post: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListForumPosts(ctx context.Context) ([]domain.ForumPost, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqlitePostColumns+` FROM forum_posts ORDER BY posted_at, post_id`)
	if err != nil {
		return nil, fmt.Errorf("list forum posts: %w", err)
	}
	defer rows.Close()

	items := make([]domain.ForumPost, 0)
	for rows.Next() {
		p, err := scanSQLitePost(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

const sqliteTodoColumns = `todo_id, owner_id, due_date, task, is_completed, created_at`

func scanSQLiteTodo(row interface{ Scan(...any) error }) (domain.Todo, error) {
	var t domain.Todo
	var dueDate string
	var createdAt int64
	if err := row.Scan(&t.ID, &t.OwnerID, &dueDate, &t.Task, &t.IsCompleted, &createdAt); err != nil {
		return domain.Todo{}, err
	}
	day, err := time.Parse("2006-01-02", dueDate)
	if err != nil {
		return domain.Todo{}, fmt.Errorf("parse due_date %q: %w", dueDate, err)
	}
	t.Date = day
	t.CreatedAt = time.Unix(0, createdAt).UTC()
	return t, nil
}

func (s *SQLiteStore) CreateTodo(ctx context.Context, ownerID string, date time.Time, task string, completed bool) (domain.Todo, error) {
	if err := validateTask(task); err != nil {
		return domain.Todo{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO todos(owner_id, due_date, task, is_completed, created_at)
		VALUES(?, ?, ?, ?, ?)
		RETURNING `+sqliteTodoColumns,
		ownerID, domain.FormatDay(domain.Day(date)), task, completed, s.now().UnixNano())
	t, err := scanSQLiteTodo(row)
	if err != nil {
		return domain.Todo{}, fmt.Errorf("create todo: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) UpdateTodo(ctx context.Context, id int64, editorID string, date time.Time, task string, completed bool) (domain.Todo, error) {
	if err := validateTask(task); err != nil {
		return domain.Todo{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE todos SET due_date = ?, task = ?, is_completed = ?
		WHERE todo_id = ? AND owner_id = ?
		RETURNING `+sqliteTodoColumns,
		domain.FormatDay(domain.Day(date)), task, completed, id, editorID)
	t, err := scanSQLiteTodo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Todo{}, s.missing(ctx, "todos", "todo_id", "todo", id)
	}
	if err != nil {
		return domain.Todo{}, fmt.Errorf("update todo: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) DeleteTodo(ctx context.Context, id int64, requesterID string) (domain.Todo, error) {
	row := s.db.QueryRowContext(ctx, `
		DELETE FROM todos WHERE todo_id = ? AND owner_id = ?
		RETURNING `+sqliteTodoColumns, id, requesterID)
	t, err := scanSQLiteTodo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Todo{}, s.missing(ctx, "todos", "todo_id", "todo", id)
	}
	if err != nil {
		return domain.Todo{}, fmt.Errorf("delete todo: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTodos(ctx context.Context, ownerID string, date *time.Time) ([]domain.Todo, error) {
	query := `SELECT ` + sqliteTodoColumns + ` FROM todos WHERE owner_id = ?`
	args := []any{ownerID}
	if date != nil {
		query += ` AND due_date = ?`
		args = append(args, domain.FormatDay(domain.Day(*date)))
	}
	query += ` ORDER BY created_at, todo_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Todo, 0)
	for rows.Next() {
		t, err := scanSQLiteTodo(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// missing tells a foreign row apart from an absent one after a guarded
// statement matched nothing.
func (s *SQLiteStore) missing(ctx context.Context, table, idColumn, entity string, id int64) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM `+table+` WHERE `+idColumn+` = ?)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("lookup %s %d: %w", entity, id, err)
	}
	if exists {
		return domain.Authorizationf("%s %d belongs to another user", entity, id)
	}
	return domain.NotFoundf("%s %d", entity, id)
}
