package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campus-music/backend/internal/models"
)

// Repository handles chat_messages persistence. Writes happen only from the
// background worker; the signaling hot path never reaches Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a chat repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Save inserts one chat message.
func (r *Repository) Save(ctx context.Context, streamID, userID uuid.UUID, userName, body string, sentAt time.Time) error {
	const q = `INSERT INTO chat_messages (id, stream_id, user_id, user_name, body, sent_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, q, streamID, userID, userName, body, sentAt)
	return err
}

// ListByStream returns up to limit messages for a stream, oldest first,
// starting after the given offset.
func (r *Repository) ListByStream(ctx context.Context, streamID uuid.UUID, limit, offset int) ([]models.ChatMessage, error) {
	const q = `SELECT id, stream_id, user_id, user_name, body, sent_at, created_at
		FROM chat_messages WHERE stream_id = $1 ORDER BY sent_at ASC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, q, streamID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.StreamID, &m.UserID, &m.UserName, &m.Body, &m.SentAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// CountByStream returns the number of persisted messages for a stream.
func (r *Repository) CountByStream(ctx context.Context, streamID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chat_messages WHERE stream_id = $1`, streamID).Scan(&n)
	return n, err
}
