package models

import (
	"time"

	"github.com/google/uuid"
)

// StreamStatus is the lifecycle state of a live stream record.
type StreamStatus string

const (
	StreamStatusScheduled StreamStatus = "scheduled"
	StreamStatusLive      StreamStatus = "live"
	StreamStatusEnded     StreamStatus = "ended"
)

// Stream is the persisted record for one live stream session.
type Stream struct {
	ID                uuid.UUID    `json:"id"`
	ArtistID          uuid.UUID    `json:"artist_id"`
	Title             string       `json:"title"`
	Description       string       `json:"description,omitempty"`
	Status            StreamStatus `json:"status"`
	StartedAt         *time.Time   `json:"started_at,omitempty"`
	EndedAt           *time.Time   `json:"ended_at,omitempty"`
	ViewerCount       int          `json:"viewer_count"`
	PeakViewers       int          `json:"peak_viewers"`
	TotalChatMessages int          `json:"total_chat_messages"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}
