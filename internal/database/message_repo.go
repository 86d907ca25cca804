package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cavity/loveline/internal/domain"
)

// MessageRepository handles chat message persistence. Live delivery is a
// convenience notification only; rows in this table are the durable copy.
type MessageRepository struct {
	db *DB
}

func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create stores a new message
func (r *MessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO messages (id, sender, receiver, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, msg.ID, msg.Sender, msg.Receiver, msg.Body, msg.CreatedAt)
	return err
}

// GetByID returns a message by ID
func (r *MessageRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	m := &domain.Message{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, sender, receiver, body, read_at, created_at
		FROM messages WHERE id = $1
	`, id).Scan(&m.ID, &m.Sender, &m.Receiver, &m.Body, &m.ReadAt, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListBetween returns messages exchanged between the two identities with
// cursor pagination (before timestamp), newest first.
func (r *MessageRepository) ListBetween(ctx context.Context, a, b string, before *time.Time, limit int) ([]domain.Message, error) {
	var rows pgx.Rows
	var err error

	if before != nil {
		rows, err = r.db.Pool.Query(ctx, `
			SELECT id, sender, receiver, body, read_at, created_at
			FROM messages
			WHERE ((sender = $1 AND receiver = $2) OR (sender = $2 AND receiver = $1))
			  AND created_at < $3
			ORDER BY created_at DESC
			LIMIT $4
		`, a, b, before, limit)
	} else {
		rows, err = r.db.Pool.Query(ctx, `
			SELECT id, sender, receiver, body, read_at, created_at
			FROM messages
			WHERE (sender = $1 AND receiver = $2) OR (sender = $2 AND receiver = $1)
			ORDER BY created_at DESC
			LIMIT $3
		`, a, b, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.Sender, &m.Receiver, &m.Body, &m.ReadAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkRead sets read_at on a message the receiver has seen
func (r *MessageRepository) MarkRead(ctx context.Context, id uuid.UUID, receiver string) error {
	result, err := r.db.Pool.Exec(ctx, `
		UPDATE messages SET read_at = NOW()
		WHERE id = $1 AND receiver = $2 AND read_at IS NULL
	`, id, receiver)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

// CountUnread returns how many messages are waiting for receiver
func (r *MessageRepository) CountUnread(ctx context.Context, receiver string) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages WHERE receiver = $1 AND read_at IS NULL
	`, receiver).Scan(&count)
	return count, err
}
