package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/railsbot/railsbot/internal/model/chat"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrInvalidRole          = errors.New("role must be user or assistant")
	ErrEmptyContent         = errors.New("message content must not be empty")
	ErrInvalidFeedback      = errors.New("feedback must be thumbs_up or thumbs_down")
)

// Service persists conversations and their message transcripts in SQLite.
type Service struct {
	db *sql.DB
}

// Open creates (or reuses) the database at path and ensures the schema.
func Open(path string) (*Service, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db at %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db at %s: %w", path, err)
	}

	svc := &Service{db: db}
	if err := svc.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return svc, nil
}

func (s *Service) Close() error {
	return s.db.Close()
}

func (s *Service) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL DEFAULT 'New Conversation',
			created_at INTEGER NOT NULL DEFAULT (unixepoch()),
			updated_at INTEGER NOT NULL DEFAULT (unixepoch())
		);

		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			feedback INTEGER,
			created_at INTEGER NOT NULL DEFAULT (unixepoch())
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);
	`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// CreateConversation provisions an empty conversation with the default title.
func (s *Service) CreateConversation(ctx context.Context) (chat.Conversation, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO conversations DEFAULT VALUES`)
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return s.GetConversation(ctx, id)
}

// GetConversation retrieves a conversation by identifier.
func (s *Service) GetConversation(ctx context.Context, id int64) (chat.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations WHERE id = ?`, id)

	var conv chat.Conversation
	var created, updated int64
	if err := row.Scan(&conv.ID, &conv.Title, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Conversation{}, ErrConversationNotFound
		}
		return chat.Conversation{}, fmt.Errorf("get conversation %d: %w", id, err)
	}
	conv.CreatedAt = time.Unix(created, 0).UTC()
	conv.UpdatedAt = time.Unix(updated, 0).UTC()
	return conv, nil
}

// ListConversations returns one page ordered by most recent activity, plus a
// flag telling whether another page exists.
func (s *Service) ListConversations(ctx context.Context, page, perPage int) ([]chat.Conversation, bool, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * perPage

	// Fetch one extra row so has-more needs no second query.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations
		 ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?`, perPage+1, offset)
	if err != nil {
		return nil, false, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]chat.Conversation, 0, perPage)
	for rows.Next() {
		var conv chat.Conversation
		var created, updated int64
		if err := rows.Scan(&conv.ID, &conv.Title, &created, &updated); err != nil {
			return nil, false, fmt.Errorf("list conversations: %w", err)
		}
		conv.CreatedAt = time.Unix(created, 0).UTC()
		conv.UpdatedAt = time.Unix(updated, 0).UTC()
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("list conversations: %w", err)
	}

	hasMore := len(conversations) > perPage
	if hasMore {
		conversations = conversations[:perPage]
	}
	return conversations, hasMore, nil
}

// DeleteConversation removes a conversation and, via the cascade, its messages.
func (s *Service) DeleteConversation(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete conversation %d: %w", id, err)
	}
	if affected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// SaveMessage appends a turn to the transcript and touches the conversation.
func (s *Service) SaveMessage(ctx context.Context, conversationID int64, role, content string) (chat.Message, error) {
	if role != chat.RoleUser && role != chat.RoleAssistant {
		return chat.Message{}, ErrInvalidRole
	}
	if strings.TrimSpace(content) == "" {
		return chat.Message{}, ErrEmptyContent
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Message{}, fmt.Errorf("save message: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content) VALUES (?, ?, ?)`,
		conversationID, role, content)
	if err != nil {
		return chat.Message{}, fmt.Errorf("save message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return chat.Message{}, fmt.Errorf("save message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = unixepoch() WHERE id = ?`, conversationID); err != nil {
		return chat.Message{}, fmt.Errorf("save message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return chat.Message{}, fmt.Errorf("save message: %w", err)
	}
	return s.GetMessage(ctx, id)
}

// GetMessage retrieves a single message by identifier.
func (s *Service) GetMessage(ctx context.Context, id int64) (chat.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, role, content, feedback, created_at FROM messages WHERE id = ?`, id)
	return scanMessage(row, id)
}

// Messages returns the full transcript in canonical order.
func (s *Service) Messages(ctx context.Context, conversationID int64) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, feedback, created_at FROM messages
		 WHERE conversation_id = ? ORDER BY created_at, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load transcript for conversation %d: %w", conversationID, err)
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var msg chat.Message
		var feedback sql.NullInt64
		var created int64
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &feedback, &created); err != nil {
			return nil, fmt.Errorf("load transcript for conversation %d: %w", conversationID, err)
		}
		msg.Feedback = feedbackLabel(feedback)
		msg.CreatedAt = time.Unix(created, 0).UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load transcript for conversation %d: %w", conversationID, err)
	}
	return messages, nil
}

// CountMessages reports how many turns a conversation holds.
func (s *Service) CountMessages(ctx context.Context, conversationID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages for conversation %d: %w", conversationID, err)
	}
	return count, nil
}

// DeleteMessage removes a single message.
func (s *Service) DeleteMessage(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete message %d: %w", id, err)
	}
	if affected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// SetFeedback records a thumbs up or down on a message.
func (s *Service) SetFeedback(ctx context.Context, id int64, feedback string) error {
	var value int
	switch feedback {
	case chat.FeedbackThumbsUp:
		value = 1
	case chat.FeedbackThumbsDown:
		value = -1
	default:
		return ErrInvalidFeedback
	}

	res, err := s.db.ExecContext(ctx, `UPDATE messages SET feedback = ? WHERE id = ?`, value, id)
	if err != nil {
		return fmt.Errorf("set feedback on message %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set feedback on message %d: %w", id, err)
	}
	if affected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// UpdateTitleIfDefault replaces the sentinel title and reports whether the
// row changed. The guard lives in SQL so the title is written meaningfully
// at most once even under concurrent writers.
func (s *Service) UpdateTitleIfDefault(ctx context.Context, conversationID int64, title string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ? WHERE id = ? AND title = ?`,
		title, conversationID, chat.DefaultTitle)
	if err != nil {
		return false, fmt.Errorf("update title for conversation %d: %w", conversationID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update title for conversation %d: %w", conversationID, err)
	}
	return affected > 0, nil
}

// LatestUserMessageBefore finds the user turn a regenerated assistant
// message should be derived from.
func (s *Service) LatestUserMessageBefore(ctx context.Context, conversationID, messageID int64) (chat.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, role, content, feedback, created_at FROM messages
		 WHERE conversation_id = ? AND role = ? AND id < ? ORDER BY id DESC LIMIT 1`,
		conversationID, chat.RoleUser, messageID)
	return scanMessage(row, messageID)
}

func scanMessage(row *sql.Row, id int64) (chat.Message, error) {
	var msg chat.Message
	var feedback sql.NullInt64
	var created int64
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &feedback, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Message{}, ErrMessageNotFound
		}
		return chat.Message{}, fmt.Errorf("scan message %d: %w", id, err)
	}
	msg.Feedback = feedbackLabel(feedback)
	msg.CreatedAt = time.Unix(created, 0).UTC()
	return msg, nil
}

func feedbackLabel(value sql.NullInt64) string {
	if !value.Valid {
		return ""
	}
	switch value.Int64 {
	case 1:
		return chat.FeedbackThumbsUp
	case -1:
		return chat.FeedbackThumbsDown
	default:
		return ""
	}
}
