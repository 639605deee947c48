// Package repository persists the lifecycle journal of app instances.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/paybridge/internal/domain"
)

// SQLiteStore is the journal backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS instances (
			instance_id TEXT PRIMARY KEY,
			conversation_id TEXT,
			environment TEXT NOT NULL,
			user_id TEXT,
			state TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_instances_conversation ON instances(conversation_id)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			instance_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			FOREIGN KEY (instance_id) REFERENCES instances(instance_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_instance ON events(instance_id, ts)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateInstance records a new instance.
func (s *SQLiteStore) CreateInstance(ctx context.Context, rec *domain.InstanceRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = rec.CreatedAt
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instances (instance_id, conversation_id, environment, user_id, state, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.InstanceID, nullString(rec.ConversationID), rec.Environment, nullString(rec.UserID), rec.State, rec.CreatedAt, rec.UpdatedAt)
	return err
}

// GetInstance retrieves an instance by ID. It returns domain.ErrInstanceNotFound
// when the instance is unknown.
func (s *SQLiteStore) GetInstance(ctx context.Context, instanceID string) (*domain.InstanceRecord, error) {
	var rec domain.InstanceRecord
	var conversationID, userID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT instance_id, conversation_id, environment, user_id, state, created_at, updated_at FROM instances WHERE instance_id = ?`,
		instanceID).Scan(&rec.InstanceID, &conversationID, &rec.Environment, &userID, &rec.State, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrInstanceNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.ConversationID = conversationID.String
	rec.UserID = userID.String
	return &rec, nil
}

// UpdateInstanceState sets the lifecycle state of an instance.
func (s *SQLiteStore) UpdateInstanceState(ctx context.Context, instanceID string, state domain.State) error {
	return s.update(ctx, `UPDATE instances SET state = ?, updated_at = ? WHERE instance_id = ?`, state, time.Now().UTC(), instanceID)
}

// SetInstanceUser records the authenticated user of an instance.
func (s *SQLiteStore) SetInstanceUser(ctx context.Context, instanceID, userID string) error {
	return s.update(ctx, `UPDATE instances SET user_id = ?, updated_at = ? WHERE instance_id = ?`, nullString(userID), time.Now().UTC(), instanceID)
}

func (s *SQLiteStore) update(ctx context.Context, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrInstanceNotFound
	}
	return nil
}

// AppendEvent journals an event for an instance. payload is stored as JSON.
func (s *SQLiteStore) AppendEvent(ctx context.Context, instanceID string, typ domain.EventType, payload interface{}) error {
	event := &domain.Event{
		EventID:    "evt_" + uuid.New().String()[:8],
		InstanceID: instanceID,
		Ts:         time.Now().UnixMilli(),
		Type:       typ,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}
		event.Payload = data
	}
	return s.CreateEvent(ctx, event)
}

// CreateEvent creates a new event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *domain.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, instance_id, ts, type, payload) VALUES (?, ?, ?, ?, ?)`,
		event.EventID, event.InstanceID, event.Ts, event.Type, nullStringBytes(event.Payload))
	return err
}

// GetEvents retrieves events for an instance in journal order.
func (s *SQLiteStore) GetEvents(ctx context.Context, instanceID string, afterTs int64, types []string, limit int) ([]domain.Event, error) {
	query := `SELECT event_id, instance_id, ts, type, payload FROM events WHERE instance_id = ?`
	args := []interface{}{instanceID}

	if afterTs > 0 {
		query += ` AND ts > ?`
		args = append(args, afterTs)
	}

	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += fmt.Sprintf(" AND type IN (%s)", strings.Join(placeholders, ","))
	}

	query += ` ORDER BY ts ASC, rowid ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var event domain.Event
		var payload sql.NullString
		if err := rows.Scan(&event.EventID, &event.InstanceID, &event.Ts, &event.Type, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			event.Payload = json.RawMessage(payload.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
