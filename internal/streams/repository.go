package streams

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/campus-music/backend/internal/models"
)

const (
	viewerCountKeyPrefix = "stream:viewers:"
	viewerCountTTL       = 24 * time.Hour
)

// Repository handles stream record persistence. It also implements the
// signaling layer's StreamValidator and StreamStore collaborator contracts
// (those take wire-level string ids and parse them here).
type Repository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewRepository creates a streams repository. rdb may be nil; the live
// viewer counter is then kept in Postgres only.
func NewRepository(pool *pgxpool.Pool, rdb *redis.Client) *Repository {
	return &Repository{pool: pool, rdb: rdb}
}

const streamColumns = `id, artist_id, title, COALESCE(description,''), status, started_at, ended_at,
	viewer_count, peak_viewers, total_chat_messages, created_at, updated_at`

func scanStream(row pgx.Row) (*models.Stream, error) {
	var s models.Stream
	err := row.Scan(&s.ID, &s.ArtistID, &s.Title, &s.Description, &s.Status, &s.StartedAt, &s.EndedAt,
		&s.ViewerCount, &s.PeakViewers, &s.TotalChatMessages, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a scheduled stream record for an artist.
func (r *Repository) Create(ctx context.Context, artistID uuid.UUID, title, description string) (*models.Stream, error) {
	q := `INSERT INTO streams (id, artist_id, title, description, status)
		VALUES (gen_random_uuid(), $1, $2, NULLIF($3,''), 'scheduled')
		RETURNING ` + streamColumns
	return scanStream(r.pool.QueryRow(ctx, q, artistID, title, description))
}

// GetByID returns a stream record, or nil when absent.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Stream, error) {
	q := `SELECT ` + streamColumns + ` FROM streams WHERE id = $1`
	s, err := scanStream(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// ListLive returns all currently-live streams, newest first.
func (r *Repository) ListLive(ctx context.Context) ([]models.Stream, error) {
	q := `SELECT ` + streamColumns + ` FROM streams WHERE status = 'live' ORDER BY started_at DESC`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Stream
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// ValidateStream reports whether streamID denotes an existing, non-ended
// stream record. Collaborator contract for the signaling join path.
func (r *Repository) ValidateStream(ctx context.Context, streamID string) (exists bool, live bool, err error) {
	id, err := uuid.Parse(streamID)
	if err != nil {
		return false, false, nil
	}
	var status models.StreamStatus
	err = r.pool.QueryRow(ctx, `SELECT status FROM streams WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, false, nil
		}
		return false, false, fmt.Errorf("validate stream: %w", err)
	}
	return true, status != models.StreamStatusEnded, nil
}

// MarkStreamLive transitions a stream to live and stamps started_at (first
// transition only; idempotent for host reconnects).
func (r *Repository) MarkStreamLive(ctx context.Context, streamID string) error {
	id, err := uuid.Parse(streamID)
	if err != nil {
		return fmt.Errorf("mark live: %w", err)
	}
	const q = `UPDATE streams SET status = 'live',
		started_at = COALESCE(started_at, NOW()), updated_at = NOW()
		WHERE id = $1 AND status <> 'ended'`
	_, err = r.pool.Exec(ctx, q, id)
	return err
}

// UpdateViewerCount stores the current viewer count and raises peak_viewers
// when exceeded. The Redis live counter serves cheap reads for the REST
// surface.
func (r *Repository) UpdateViewerCount(ctx context.Context, streamID string, count int) error {
	id, err := uuid.Parse(streamID)
	if err != nil {
		return fmt.Errorf("update viewer count: %w", err)
	}
	const q = `UPDATE streams SET viewer_count = $1,
		peak_viewers = GREATEST(peak_viewers, $1), updated_at = NOW()
		WHERE id = $2`
	if _, err := r.pool.Exec(ctx, q, count, id); err != nil {
		return err
	}
	if r.rdb != nil {
		if err := r.rdb.Set(ctx, viewerCountKeyPrefix+streamID, count, viewerCountTTL).Err(); err != nil {
			return fmt.Errorf("redis viewer count: %w", err)
		}
	}
	return nil
}

// MarkStreamEnded finalizes the record with the room's peak viewer count.
// peak_viewers only ever increases.
func (r *Repository) MarkStreamEnded(ctx context.Context, streamID string, peakViewers int) error {
	id, err := uuid.Parse(streamID)
	if err != nil {
		return fmt.Errorf("mark ended: %w", err)
	}
	const q = `UPDATE streams SET status = 'ended', ended_at = NOW(), viewer_count = 0,
		peak_viewers = GREATEST(peak_viewers, $1), updated_at = NOW()
		WHERE id = $2`
	if _, err := r.pool.Exec(ctx, q, peakViewers, id); err != nil {
		return err
	}
	if r.rdb != nil {
		_ = r.rdb.Del(ctx, viewerCountKeyPrefix+streamID).Err()
	}
	return nil
}

// LiveViewerCount reads the Redis live counter, falling back to the record
// column when Redis is absent or the key expired.
func (r *Repository) LiveViewerCount(ctx context.Context, id uuid.UUID) (int, error) {
	if r.rdb != nil {
		n, err := r.rdb.Get(ctx, viewerCountKeyPrefix+id.String()).Int()
		if err == nil {
			return n, nil
		}
		if err != redis.Nil {
			return 0, err
		}
	}
	var count int
	err := r.pool.QueryRow(ctx, `SELECT viewer_count FROM streams WHERE id = $1`, id).Scan(&count)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

// SetTotalChatMessages stores the final chat message count (worker wrap-up).
func (r *Repository) SetTotalChatMessages(ctx context.Context, id uuid.UUID, total int) error {
	const q = `UPDATE streams SET total_chat_messages = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, total, id)
	return err
}
