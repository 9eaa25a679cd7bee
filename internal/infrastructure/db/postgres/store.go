// Package postgres persists messages, destinations, attempts and platform
// tokens. Every operation runs in its own short transaction; the destination
// update is guarded by a compare-and-swap on updated_at so concurrent
// dispatchers cannot clobber each other.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/courierhq/courier/internal/domain"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store { return &Store{db: db} }

type payloadData struct {
	Text   string `json:"text"`
	Format string `json:"format,omitempty"`
}

func marshalPayload(p domain.Payload) (string, string, error) {
	data := payloadData{Text: p.Text}
	if p.Kind == domain.PayloadFormatted {
		data.Format = string(p.Format)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(p.Kind), string(raw), nil
}

func unmarshalPayload(kind, raw string) (domain.Payload, error) {
	var data payloadData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return domain.Payload{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	p := domain.Payload{Kind: domain.PayloadKind(kind), Text: data.Text, Format: domain.FormatPlain}
	if data.Format != "" {
		p.Format = domain.TextFormat(data.Format)
	}
	return p, nil
}

// SaveMessageWithDestinations inserts the message and all its destinations
// atomically: either everything is persisted or nothing is.
func (s *Store) SaveMessageWithDestinations(ctx context.Context, msg *domain.Message, dests []*domain.Destination) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		kind, data, err := marshalPayload(msg.Payload)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insertMessageSQL,
			msg.ID, msg.UserID, kind, data, msg.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		for _, d := range dests {
			if _, err := tx.ExecContext(ctx, insertDestinationSQL,
				d.ID, d.MessageID, string(d.Platform), d.ChatID,
				string(d.Status), nullString(d.StatusReason),
				d.AttemptCount, d.LastAttemptAt, d.SentAt, d.UpdatedAt,
			); err != nil {
				return fmt.Errorf("insert destination: %w", err)
			}
		}
		return nil
	})
}

// GetMessage loads a message with its destinations in insertion order.
func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*domain.Message, []*domain.Destination, error) {
	row := s.db.QueryRowContext(ctx, getMessageSQL, id)

	var (
		msg  domain.Message
		kind string
		data string
	)
	err := row.Scan(&msg.ID, &msg.UserID, &kind, &data, &msg.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil, domain.ErrNotFound("message not found")
	}
	if err != nil {
		return nil, nil, err
	}
	msg.Payload, err = unmarshalPayload(kind, data)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx, getDestinationsSQL, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var dests []*domain.Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, nil, err
		}
		dests = append(dests, d)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return &msg, dests, nil
}

func (s *Store) GetDestination(ctx context.Context, id uuid.UUID) (*domain.Destination, error) {
	row := s.db.QueryRowContext(ctx, getDestinationSQL, id)
	d, err := scanDestination(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound("destination not found")
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// UpdateDestination applies the in-memory state conditionally on the
// updated_at the caller loaded. Zero rows means another worker got there
// first; callers treat that as losing ownership.
func (s *Store) UpdateDestination(ctx context.Context, d *domain.Destination) error {
	row := s.db.QueryRowContext(ctx, updateDestinationSQL,
		d.ID, d.UpdatedAt,
		string(d.Status), nullString(d.StatusReason),
		d.AttemptCount, d.LastAttemptAt, d.SentAt,
	)
	var updatedAt time.Time
	err := row.Scan(&updatedAt)
	if err == sql.ErrNoRows {
		return domain.ErrConflict("destination updated concurrently")
	}
	if err != nil {
		return err
	}
	d.UpdatedAt = updatedAt
	return nil
}

// ListMessagesByUser returns one page ordered by created_at DESC. It fetches
// limit+1 rows to compute hasMore without a count query.
func (s *Store) ListMessagesByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Message, bool, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, listMessagesSQL, userID, limit+1, offset)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		var (
			msg  domain.Message
			kind string
			data string
		)
		if err := rows.Scan(&msg.ID, &msg.UserID, &kind, &data, &msg.CreatedAt); err != nil {
			return nil, false, err
		}
		msg.Payload, err = unmarshalPayload(kind, data)
		if err != nil {
			return nil, false, err
		}
		out = append(out, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}

// FindPendingRetries returns retrying destinations whose backoff window,
// computed from baseDelay and doublingCap, has elapsed.
func (s *Store) FindPendingRetries(ctx context.Context, baseDelay time.Duration, doublingCap, limit int) ([]*domain.Destination, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, findPendingRetriesSQL, baseDelay.Seconds(), doublingCap, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDestinations(rows)
}

// FindStalePending returns destinations stuck in Pending since before the
// cutoff, i.e. whose queue publish never succeeded.
func (s *Store) FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Destination, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, findStalePendingSQL, olderThan.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDestinations(rows)
}

// LogAttempt appends one attempt record. The log is append-only.
func (s *Store) LogAttempt(ctx context.Context, a domain.Attempt) error {
	_, err := s.db.ExecContext(ctx, insertAttemptSQL,
		a.ID, a.MessageID, a.DestinationID, a.AttemptNumber,
		string(a.Status), nullString(a.StatusReason), string(a.RequestedBy), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("log attempt: %w", err)
	}
	return nil
}

// GetAttempts returns the attempt log for a message, newest first.
func (s *Store) GetAttempts(ctx context.Context, messageID uuid.UUID) ([]domain.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, getAttemptsSQL, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Attempt
	for rows.Next() {
		var (
			a      domain.Attempt
			status string
			reason sql.NullString
			by     string
		)
		if err := rows.Scan(&a.ID, &a.MessageID, &a.DestinationID, &a.AttemptNumber, &status, &reason, &by, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Status = domain.DeliveryStatus(status)
		a.StatusReason = reason.String
		a.RequestedBy = domain.RequestedBy(by)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDestination(row rowScanner) (*domain.Destination, error) {
	var (
		d        domain.Destination
		platform string
		status   string
		reason   sql.NullString
	)
	err := row.Scan(
		&d.ID, &d.MessageID, &platform, &d.ChatID, &status, &reason,
		&d.AttemptCount, &d.LastAttemptAt, &d.SentAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Platform = domain.Platform(platform)
	d.Status = domain.DeliveryStatus(status)
	if !d.Status.Valid() {
		return nil, domain.ErrInvalidState("invalid status in db")
	}
	d.StatusReason = reason.String
	return &d, nil
}

func collectDestinations(rows *sql.Rows) ([]*domain.Destination, error) {
	var out []*domain.Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
