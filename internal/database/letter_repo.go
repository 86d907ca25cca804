package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cavity/loveline/internal/domain"
)

// LetterRepository handles letter persistence
type LetterRepository struct {
	db *DB
}

func NewLetterRepository(db *DB) *LetterRepository {
	return &LetterRepository{db: db}
}

// Create stores a new letter
func (r *LetterRepository) Create(ctx context.Context, letter *domain.Letter) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO letters (id, sender, receiver, title, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, letter.ID, letter.Sender, letter.Receiver, letter.Title, letter.Body, letter.CreatedAt)
	return err
}

// GetByID returns a letter by ID
func (r *LetterRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Letter, error) {
	l := &domain.Letter{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, sender, receiver, title, body, read_at, created_at
		FROM letters WHERE id = $1
	`, id).Scan(&l.ID, &l.Sender, &l.Receiver, &l.Title, &l.Body, &l.ReadAt, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrLetterNotFound
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// ListFor returns letters addressed to or written by identity, newest first
func (r *LetterRepository) ListFor(ctx context.Context, identity string, limit int) ([]domain.Letter, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, sender, receiver, title, body, read_at, created_at
		FROM letters
		WHERE sender = $1 OR receiver = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, identity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var letters []domain.Letter
	for rows.Next() {
		var l domain.Letter
		if err := rows.Scan(&l.ID, &l.Sender, &l.Receiver, &l.Title, &l.Body, &l.ReadAt, &l.CreatedAt); err != nil {
			return nil, err
		}
		letters = append(letters, l)
	}
	return letters, rows.Err()
}

// MarkRead sets read_at on a letter the receiver has opened
func (r *LetterRepository) MarkRead(ctx context.Context, id uuid.UUID, receiver string) error {
	result, err := r.db.Pool.Exec(ctx, `
		UPDATE letters SET read_at = NOW()
		WHERE id = $1 AND receiver = $2 AND read_at IS NULL
	`, id, receiver)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrLetterNotFound
	}
	return nil
}
