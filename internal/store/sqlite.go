package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/leadflow/internal/domain"
	"github.com/ashureev/leadflow/internal/shared"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// ErrConversationNotFound is returned when an update targets a missing conversation.
var ErrConversationNotFound = errors.New("conversation not found")

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	bookingMu sync.Mutex // Serializes appointment inserts so the overlap re-check and insert are atomic
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		external_id TEXT,
		current_state TEXT NOT NULL,
		status TEXT NOT NULL,
		context_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_company ON conversations(company_id, id);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);

	CREATE TABLE IF NOT EXISTS leads (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		conversation_id TEXT,
		name TEXT,
		email TEXT,
		phone TEXT,
		company TEXT,
		status TEXT NOT NULL,
		metadata_json TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_leads_email ON leads(company_id, email);
	CREATE INDEX IF NOT EXISTS idx_leads_conversation ON leads(conversation_id);

	CREATE TABLE IF NOT EXISTS availability_windows (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		user_id TEXT,
		name TEXT,
		day_of_week INTEGER NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		slot_duration INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_availability_company ON availability_windows(company_id, active);

	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		user_id TEXT,
		title TEXT,
		scheduled_at INTEGER NOT NULL,
		status TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bookings_company ON bookings(company_id, scheduled_at);

	CREATE TABLE IF NOT EXISTS appointments (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		conversation_id TEXT,
		lead_id TEXT,
		calendar_user_id TEXT,
		scheduled_at INTEGER NOT NULL,
		duration INTEGER NOT NULL,
		status TEXT NOT NULL,
		notes TEXT,
		metadata_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_appointments_company ON appointments(company_id, scheduled_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_appointments_slot
		ON appointments(company_id, IFNULL(calendar_user_id, ''), scheduled_at)
		WHERE status IN ('scheduled', 'confirmed');
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withRetry runs fn with exponential backoff while SQLite reports a busy or locked database.
func withRetry(ctx context.Context, op string, fn func() error) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms
		slog.Debug("Database busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullable(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func marshalMetadata(m map[string]any) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalMetadata(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// CreateConversation creates an active conversation in initialState.
func (s *SQLiteStore) CreateConversation(ctx context.Context, agentID, companyID, externalID, initialState string, initial domain.Context) (*domain.Conversation, error) {
	contextJSON, err := json.Marshal(initial)
	if err != nil {
		return nil, fmt.Errorf("marshal context: %w", err)
	}

	now := time.Now()
	conv := &domain.Conversation{
		ID:           uuid.NewString(),
		AgentID:      agentID,
		CompanyID:    companyID,
		ExternalID:   externalID,
		CurrentState: initialState,
		Status:       domain.ConversationActive,
		Context:      initial.Clone(),
		CreatedAt:    time.Unix(now.Unix(), 0),
		UpdatedAt:    time.Unix(now.Unix(), 0),
	}

	query := `
	INSERT INTO conversations (id, agent_id, company_id, external_id, current_state, status, context_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	err = withRetry(ctx, "insert conversation", func() error {
		_, err := s.db.ExecContext(ctx, query,
			conv.ID, conv.AgentID, conv.CompanyID, nullable(externalID),
			conv.CurrentState, string(conv.Status), string(contextJSON),
			now.Unix(), now.Unix(),
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// GetConversation retrieves a conversation within a tenant.
func (s *SQLiteStore) GetConversation(ctx context.Context, id, companyID string) (*domain.Conversation, error) {
	query := `
		SELECT id, agent_id, company_id, external_id, current_state, status,
		       context_json, created_at, updated_at
		FROM conversations WHERE id = ? AND company_id = ?`

	row := s.db.QueryRowContext(ctx, query, id, companyID)

	var conv domain.Conversation
	var externalID sql.NullString
	var status, contextJSON string
	var createdAt, updatedAt int64

	err := row.Scan(
		&conv.ID, &conv.AgentID, &conv.CompanyID, &externalID, &conv.CurrentState, &status,
		&contextJSON, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}

	if err := json.Unmarshal([]byte(contextJSON), &conv.Context); err != nil {
		return nil, fmt.Errorf("decode conversation context: %w", err)
	}
	conv.ExternalID = externalID.String
	conv.Status = domain.ConversationStatus(status)
	conv.CreatedAt = time.Unix(createdAt, 0)
	conv.UpdatedAt = time.Unix(updatedAt, 0)

	return &conv, nil
}

// UpdateContext replaces the whole context and syncs current_state with it.
func (s *SQLiteStore) UpdateContext(ctx context.Context, id, companyID string, c domain.Context) error {
	contextJSON, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	query := `UPDATE conversations SET context_json = ?, current_state = ?, updated_at = ? WHERE id = ? AND company_id = ?`
	return s.execOne(ctx, "update conversation context", query, string(contextJSON), c.CurrentState, time.Now().Unix(), id, companyID)
}

// UpdateStatus sets the conversation status.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id, companyID string, status domain.ConversationStatus) error {
	query := `UPDATE conversations SET status = ?, updated_at = ? WHERE id = ? AND company_id = ?`
	return s.execOne(ctx, "update conversation status", query, string(status), time.Now().Unix(), id, companyID)
}

func (s *SQLiteStore) execOne(ctx context.Context, op, query string, args ...interface{}) error {
	var rows int64
	err := withRetry(ctx, op, func() error {
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		slog.Warn("No rows affected", "op", op)
		return fmt.Errorf("%s: %w", op, ErrConversationNotFound)
	}
	return nil
}

// AppendMessage appends an immutable message to a conversation.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID, companyID string, role domain.Role, content string, metadata map[string]any) (*domain.Message, error) {
	metadataJSON, err := marshalMetadata(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal message metadata: %w", err)
	}

	now := time.Now()
	msg := &domain.Message{
		ID:             ulid.Make().String(),
		ConversationID: conversationID,
		CompanyID:      companyID,
		Role:           role,
		Content:        content,
		Metadata:       metadata,
		CreatedAt:      time.Unix(now.Unix(), 0),
	}

	query := `
	INSERT INTO messages (id, conversation_id, company_id, role, content, metadata_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	err = withRetry(ctx, "insert message", func() error {
		_, err := s.db.ExecContext(ctx, query,
			msg.ID, conversationID, companyID, string(role), content, metadataJSON, now.Unix(),
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns the messages of a conversation in append order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID, companyID string) ([]*domain.Message, error) {
	query := `
		SELECT id, conversation_id, company_id, role, content, metadata_json, created_at
		FROM messages WHERE conversation_id = ? AND company_id = ?
		ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, conversationID, companyID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		var msg domain.Message
		var role string
		var metadataJSON sql.NullString
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.CompanyID, &role, &msg.Content, &metadataJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Role = domain.Role(role)
		msg.CreatedAt = time.Unix(createdAt, 0)
		if msg.Metadata, err = unmarshalMetadata(metadataJSON); err != nil {
			return nil, fmt.Errorf("decode message metadata: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}
