// Package journal persists session events to the session_events table so
// connection history survives restarts.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/mqtt-session/internal/session"
)

const (
	// idPrefix marks journal entry IDs.
	idPrefix = "evt-"

	defaultLimit = 50
	maxLimit     = 200

	// appendTimeout bounds a single insert made by the Writer.
	appendTimeout = 2 * time.Second

	// timeLayout is fixed width so created_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Entry is a single journaled session event.
type Entry struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	ClientID     string    `json:"client_id"`
	Topic        string    `json:"topic,omitempty"`
	PayloadBytes int       `json:"payload_bytes,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Kind     string // optional: connected, rejected, message, ...
	ClientID string // optional
	Topic    string // optional: exact topic match
	Limit    int    // default 50, max 200
	Offset   int    // pagination offset
}

// ListResult contains a page of journal entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the journal operations.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores the journal in SQLite. Attach it to a session
// through a Writer; its own methods block on the database.
type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a journal over db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Append journals a session event synchronously.
func (r *SQLiteRepository) Append(ctx context.Context, ev session.Event) error {
	return r.Create(ctx, &Entry{
		Kind:         string(ev.Kind),
		ClientID:     ev.ClientID,
		Topic:        ev.Topic,
		PayloadBytes: ev.Size,
		Detail:       ev.Detail,
		CreatedAt:    ev.Time,
	})
}

// Create inserts a journal entry. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, entry *Entry) error {
	if entry.Kind == "" || entry.ClientID == "" {
		return fmt.Errorf("journal entry needs kind and client id")
	}
	if entry.ID == "" {
		entry.ID = idPrefix + uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO session_events (id, kind, client_id, topic, payload_bytes, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Kind, entry.ClientID,
		nullableString(entry.Topic), entry.PayloadBytes, nullableString(entry.Detail),
		entry.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	return nil
}

// nullableString returns nil for empty strings so they are stored as NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter = clampPage(filter)
	where, args := whereClause(filter)

	countQuery := "SELECT COUNT(*) FROM session_events " + where //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting journal entries: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions
		"SELECT id, kind, client_id, topic, payload_bytes, detail, created_at FROM session_events %s ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

func clampPage(filter Filter) Filter {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return filter
}

func whereClause(filter Filter) (string, []any) {
	var conditions []string
	var args []any

	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.ClientID != "" {
		conditions = append(conditions, "client_id = ?")
		args = append(args, filter.ClientID)
	}
	if filter.Topic != "" {
		conditions = append(conditions, "topic = ?")
		args = append(args, filter.Topic)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var entry Entry
	var topic, detail sql.NullString
	var createdAt string

	if err := rows.Scan(&entry.ID, &entry.Kind, &entry.ClientID,
		&topic, &entry.PayloadBytes, &detail, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scanning journal entry: %w", err)
	}
	entry.Topic = topic.String
	entry.Detail = detail.String

	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing journal timestamp %q: %w", createdAt, err)
	}
	entry.CreatedAt = t
	return entry, nil
}
