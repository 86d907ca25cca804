package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cavity/loveline/internal/domain"
)

// KeepsakeRepository handles public-feed item persistence (confessions,
// quotes, songs, memories, memes share one table keyed by kind).
type KeepsakeRepository struct {
	db *DB
}

func NewKeepsakeRepository(db *DB) *KeepsakeRepository {
	return &KeepsakeRepository{db: db}
}

// Create stores a new keepsake
func (r *KeepsakeRepository) Create(ctx context.Context, k *domain.Keepsake) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO keepsakes (id, kind, author, title, body, media_key, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
	`, k.ID, k.Kind, k.Author, k.Title, k.Body, k.MediaKey, k.CreatedAt)
	return err
}

// GetByID returns a keepsake by ID
func (r *KeepsakeRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Keepsake, error) {
	k := &domain.Keepsake{}
	var mediaKey *string
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, kind, author, title, body, media_key, favorite, created_at
		FROM keepsakes WHERE id = $1
	`, id).Scan(&k.ID, &k.Kind, &k.Author, &k.Title, &k.Body, &mediaKey, &k.Favorite, &k.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrKeepsakeNotFound
	}
	if err != nil {
		return nil, err
	}
	if mediaKey != nil {
		k.MediaKey = *mediaKey
	}
	return k, nil
}

// List returns keepsakes newest first, optionally filtered by kind
// (empty kind means all).
func (r *KeepsakeRepository) List(ctx context.Context, kind domain.KeepsakeKind, limit int) ([]domain.Keepsake, error) {
	var rows pgx.Rows
	var err error

	if kind != "" {
		rows, err = r.db.Pool.Query(ctx, `
			SELECT id, kind, author, title, body, media_key, favorite, created_at
			FROM keepsakes
			WHERE kind = $1
			ORDER BY created_at DESC
			LIMIT $2
		`, kind, limit)
	} else {
		rows, err = r.db.Pool.Query(ctx, `
			SELECT id, kind, author, title, body, media_key, favorite, created_at
			FROM keepsakes
			ORDER BY created_at DESC
			LIMIT $1
		`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keepsakes []domain.Keepsake
	for rows.Next() {
		var k domain.Keepsake
		var mediaKey *string
		if err := rows.Scan(&k.ID, &k.Kind, &k.Author, &k.Title, &k.Body, &mediaKey, &k.Favorite, &k.CreatedAt); err != nil {
			return nil, err
		}
		if mediaKey != nil {
			k.MediaKey = *mediaKey
		}
		keepsakes = append(keepsakes, k)
	}
	return keepsakes, rows.Err()
}

// SetFavorite toggles the favorite flag on a keepsake
func (r *KeepsakeRepository) SetFavorite(ctx context.Context, id uuid.UUID, favorite bool) error {
	result, err := r.db.Pool.Exec(ctx, `
		UPDATE keepsakes SET favorite = $2 WHERE id = $1
	`, id, favorite)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrKeepsakeNotFound
	}
	return nil
}

// CountByKind returns the number of keepsakes of a given kind
func (r *KeepsakeRepository) CountByKind(ctx context.Context, kind domain.KeepsakeKind) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM keepsakes WHERE kind = $1
	`, kind).Scan(&count)
	return count, err
}
