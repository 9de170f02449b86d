// Package archive records outputs copied to S3 and forgets them when the local files go.
package archive

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/videopress/backend/internal/apperr"
	"github.com/videopress/backend/internal/models"
)

// Repository handles archived output persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an archive repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert inserts or replaces the row for (file_id, part).
func (r *Repository) Upsert(ctx context.Context, a *models.ArchivedOutput) error {
	const q = `INSERT INTO archived_outputs (session_id, file_id, part, s3_key, size, algorithm, checksum, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (file_id, part) DO UPDATE SET
			session_id = EXCLUDED.session_id, s3_key = EXCLUDED.s3_key, size = EXCLUDED.size,
			algorithm = EXCLUDED.algorithm, checksum = EXCLUDED.checksum,
			expires_at = EXCLUDED.expires_at, created_at = NOW()
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, a.SessionID, a.FileID, a.Part, a.S3Key, a.Size, a.Algorithm, a.Checksum, a.ExpiresAt).
		Scan(&a.ID, &a.CreatedAt)
}

// Get returns the archive row of one part.
func (r *Repository) Get(ctx context.Context, fileID string, part int) (*models.ArchivedOutput, error) {
	const q = `SELECT id, session_id, file_id, part, s3_key, size, algorithm, checksum, created_at, expires_at
		FROM archived_outputs WHERE file_id = $1 AND part = $2`
	var a models.ArchivedOutput
	err := r.pool.QueryRow(ctx, q, fileID, part).
		Scan(&a.ID, &a.SessionID, &a.FileID, &a.Part, &a.S3Key, &a.Size, &a.Algorithm, &a.Checksum, &a.CreatedAt, &a.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "output is not archived")
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// DeleteByFile removes every row of a file and returns their S3 keys.
func (r *Repository) DeleteByFile(ctx context.Context, fileID string) ([]string, error) {
	const q = `DELETE FROM archived_outputs WHERE file_id = $1 RETURNING s3_key`
	return r.deleteReturningKeys(ctx, q, fileID)
}

// DeleteExpired removes rows whose expires_at has passed and returns their S3 keys.
func (r *Repository) DeleteExpired(ctx context.Context, now time.Time) ([]string, error) {
	const q = `DELETE FROM archived_outputs WHERE expires_at <= $1 RETURNING s3_key`
	return r.deleteReturningKeys(ctx, q, now)
}

func (r *Repository) deleteReturningKeys(ctx context.Context, q string, arg interface{}) ([]string, error) {
	rows, err := r.pool.Query(ctx, q, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
