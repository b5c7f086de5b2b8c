package state

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/HexSleeves/buzz/internal/errors"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB is a SQLite-backed store for users, chats and messages.
type DB struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenDB opens (or creates) buzz.db inside dataDir.
func OpenDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return OpenPath(filepath.Join(dataDir, "buzz.db"))
}

// OpenPath opens the database file at dbPath.
func OpenPath(dbPath string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Single connection for writes, WAL allows concurrent reads
	db.SetMaxOpenConns(2)

	s := &DB{db: db, path: dbPath, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *DB) migrate() error {
	ddl := `
	CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		first_name    TEXT NOT NULL DEFAULT '',
		last_name     TEXT NOT NULL DEFAULT '',
		display_name  TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',
		is_active     INTEGER NOT NULL DEFAULT 1,
		is_superuser  INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chats (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id     TEXT NOT NULL,
		title       TEXT NOT NULL,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chats_user ON chats(user_id, updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id     INTEGER NOT NULL,
		role        TEXT NOT NULL,
		content     TEXT NOT NULL,
		created_at  TEXT NOT NULL,
		FOREIGN KEY (chat_id) REFERENCES chats(id)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id);

	CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT
	);
	`
	_, err := s.db.Exec(ddl)
	return err
}

func (s *DB) stamp() string {
	return s.now().UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, v)
	}
	return t
}

// --- User operations ---

// CreateUser inserts u, assigning an ID when empty. Emails are unique.
func (s *DB) CreateUser(ctx context.Context, u User) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE email = ?`, u.Email,
	).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("check user: %w", err)
	}
	if n > 0 {
		return nil, errors.New(errors.KindConflict, "Email already registered")
	}

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.DisplayName == "" {
		u.DisplayName = strings.TrimSpace(u.FirstName + " " + u.LastName)
	}
	now := s.stamp()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, first_name, last_name, display_name, password_hash, is_active, is_superuser, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.FirstName, u.LastName, u.DisplayName, u.PasswordHash, u.IsActive, u.IsSuperuser, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	u.CreatedAt = parseTime(now)
	u.UpdatedAt = u.CreatedAt
	return &u, nil
}

// EnsureUser returns the user with id, creating a placeholder row when it
// does not exist yet.
func (s *DB) EnsureUser(ctx context.Context, id, email, firstName string) (*User, error) {
	u, err := s.GetUser(ctx, id)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, errors.KindNotFound) {
		return nil, err
	}
	return s.CreateUser(ctx, User{ID: id, Email: email, FirstName: firstName, IsActive: true})
}

const userColumns = `id, email, first_name, last_name, display_name, password_hash, is_active, is_superuser, created_at, updated_at`

func (s *DB) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *DB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// ListUsers pages through users in creation order.
func (s *DB) ListUsers(ctx context.Context, skip, limit int) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at, id LIMIT ? OFFSET ?`, limit, skip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *DB) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// --- Chat operations ---

// CreateChat starts a conversation owned by userID.
func (s *DB) CreateChat(ctx context.Context, userID, title string) (*Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.stamp()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		userID, title, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	ts := parseTime(now)
	return &Chat{ID: id, UserID: userID, Title: title, CreatedAt: ts, UpdatedAt: ts}, nil
}

// GetChat returns the chat only if userID owns it.
func (s *DB) GetChat(ctx context.Context, userID string, chatID int64) (*Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM chats WHERE id = ? AND user_id = ?`,
		chatID, userID,
	)
	c, err := scanChat(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.New(errors.KindNotFound, "Chat not found")
	}
	return c, err
}

// ListChats returns up to limit of userID's chats, most recently active first.
func (s *DB) ListChats(ctx context.Context, userID string, limit int) ([]Chat, error) {
	return s.ListChatsPage(ctx, userID, 0, limit)
}

func (s *DB) ListChatsPage(ctx context.Context, userID string, skip, limit int) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM chats
		 WHERE user_id = ? ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?`,
		userID, limit, skip,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}
	return chats, rows.Err()
}

// DeleteChat removes the chat and its messages.
func (s *DB) DeleteChat(ctx context.Context, userID string, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ? AND user_id = ?`, chatID, userID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New(errors.KindNotFound, "Chat not found")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return tx.Commit()
}

// --- Message operations ---

// AddMessage appends a message and bumps the chat's updated_at.
func (s *DB) AddMessage(ctx context.Context, chatID int64, role, content string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := s.stamp()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (chat_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		chatID, role, content, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ?`, now, chatID); err != nil {
		return nil, fmt.Errorf("touch chat: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &Message{ID: id, ChatID: chatID, Role: role, Content: content, CreatedAt: parseTime(now)}, nil
}

// ListMessages returns a chat's messages oldest first.
func (s *DB) ListMessages(ctx context.Context, chatID int64) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, content, created_at FROM messages WHERE chat_id = ? ORDER BY created_at, id`,
		chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var created string
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// --- KV ---

// SetKV stores value under key, replacing any earlier value.
func (s *DB) SetKV(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// GetKV reports ok=false when key is unset.
func (s *DB) GetKV(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// --- Lifecycle ---

func (s *DB) Close() error {
	return s.db.Close()
}

func (s *DB) Path() string {
	return s.path
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanUser(row scannable) (*User, error) {
	var u User
	var created, updated string
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.DisplayName, &u.PasswordHash,
		&u.IsActive, &u.IsSuperuser, &created, &updated)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.New(errors.KindNotFound, "User not found")
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = parseTime(created)
	u.UpdatedAt = parseTime(updated)
	return &u, nil
}

func scanChat(row scannable) (*Chat, error) {
	var c Chat
	var created, updated string
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &created, &updated); err != nil {
		return nil, err
	}
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}

// TitleFromMessage derives a chat title: the first 50 characters of the
// message, with "..." appended when it was cut.
func TitleFromMessage(message string) string {
	const titleLen = 50
	r := []rune(strings.TrimSpace(message))
	if len(r) <= titleLen {
		return string(r)
	}
	return string(r[:titleLen]) + "..."
}
