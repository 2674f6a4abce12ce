package signaling

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StreamStore is the external storage collaborator for stream records.
// Implementations persist lifecycle facts; failures here must never reach
// the signaling path.
type StreamStore interface {
	MarkStreamLive(ctx context.Context, streamID string) error
	UpdateViewerCount(ctx context.Context, streamID string, count int) error
	MarkStreamEnded(ctx context.Context, streamID string, peakViewers int) error
}

// ChatArchiver accepts chat messages for eventual persistence (e.g. a job
// queue drained by a background worker).
type ChatArchiver interface {
	ArchiveChatMessage(ctx context.Context, m Chat) error
}

// RecordSync receives room lifecycle facts from the coordinator. Every call
// is fire-and-forget: it returns before any storage I/O happens and never
// reports an error.
type RecordSync interface {
	StreamLive(streamID string)
	ViewerCount(streamID string, count int)
	StreamEnded(streamID string, peakViewers int)
	ChatMessage(m Chat)
}

const (
	syncBuffer    = 1024
	syncOpTimeout = 5 * time.Second
)

// Synchronizer bridges room lifecycle events to the stream store and chat
// archiver on a dedicated goroutine, keeping storage latency and failures
// off the signaling hot path.
type Synchronizer struct {
	store   StreamStore
	archive ChatArchiver
	ops     chan func(context.Context)
	logger  *zap.Logger
}

// NewSynchronizer creates a synchronizer. archive may be nil when chat
// persistence is disabled.
func NewSynchronizer(store StreamStore, archive ChatArchiver, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		store:   store,
		archive: archive,
		ops:     make(chan func(context.Context), syncBuffer),
		logger:  logger,
	}
}

// Run drains dispatched operations until ctx is done. Storage errors are
// logged and swallowed.
func (s *Synchronizer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-s.ops:
			opCtx, cancel := context.WithTimeout(ctx, syncOpTimeout)
			op(opCtx)
			cancel()
		}
	}
}

// StreamLive records that the stream went live.
func (s *Synchronizer) StreamLive(streamID string) {
	s.dispatch(func(ctx context.Context) {
		if err := s.store.MarkStreamLive(ctx, streamID); err != nil {
			s.logger.Warn("mark stream live", zap.String("stream_id", streamID), zap.Error(err))
		}
	})
}

// ViewerCount records the current viewer-facing peer count.
func (s *Synchronizer) ViewerCount(streamID string, count int) {
	s.dispatch(func(ctx context.Context) {
		if err := s.store.UpdateViewerCount(ctx, streamID, count); err != nil {
			s.logger.Warn("update viewer count", zap.String("stream_id", streamID), zap.Error(err))
		}
	})
}

// StreamEnded records the final state of an ended stream.
func (s *Synchronizer) StreamEnded(streamID string, peakViewers int) {
	s.dispatch(func(ctx context.Context) {
		if err := s.store.MarkStreamEnded(ctx, streamID, peakViewers); err != nil {
			s.logger.Warn("mark stream ended", zap.String("stream_id", streamID), zap.Error(err))
		}
	})
}

// ChatMessage hands a chat message to the archiver.
func (s *Synchronizer) ChatMessage(m Chat) {
	if s.archive == nil {
		return
	}
	s.dispatch(func(ctx context.Context) {
		if err := s.archive.ArchiveChatMessage(ctx, m); err != nil {
			s.logger.Warn("archive chat message", zap.String("stream_id", m.StreamID), zap.Error(err))
		}
	})
}

// dispatch enqueues an operation without ever blocking the caller. A full
// buffer drops the operation with a warning.
func (s *Synchronizer) dispatch(op func(context.Context)) {
	select {
	case s.ops <- op:
	default:
		s.logger.Warn("synchronizer buffer full, dropping operation")
	}
}
