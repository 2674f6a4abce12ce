package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-music/backend/internal/chat"
	"github.com/campus-music/backend/internal/streams"
	"github.com/campus-music/backend/pkg/queue"
)

// Processor drains the persistence queue: chat messages into Postgres and
// end-of-stream wrap-ups onto the stream record. Keeping these writes off
// the signaling hot path is the whole point of the queue.
type Processor struct {
	chatRepo   *chat.Repository
	streamRepo *streams.Repository
	queue      *queue.Queue
	logger     *zap.Logger
}

// NewProcessor creates a persistence worker.
func NewProcessor(chatRepo *chat.Repository, streamRepo *streams.Repository, q *queue.Queue, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{chatRepo: chatRepo, streamRepo: streamRepo, queue: q, logger: logger}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeChatMessage:
		return p.processChatMessage(ctx, job)
	case queue.JobTypeStreamWrapUp:
		return p.processWrapUp(ctx, job)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (p *Processor) processChatMessage(ctx context.Context, job *queue.Job) error {
	var payload queue.ChatMessagePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	streamID, err := uuid.Parse(payload.StreamID)
	if err != nil {
		return fmt.Errorf("stream id: %w", err)
	}
	userID, err := uuid.Parse(payload.UserID)
	if err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	sentAt := time.UnixMilli(payload.Timestamp)
	if err := p.chatRepo.Save(ctx, streamID, userID, payload.UserName, payload.Body, sentAt); err != nil {
		return fmt.Errorf("save chat message: %w", err)
	}
	return nil
}

func (p *Processor) processWrapUp(ctx context.Context, job *queue.Job) error {
	var payload queue.StreamWrapUpPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	streamID, err := uuid.Parse(payload.StreamID)
	if err != nil {
		return fmt.Errorf("stream id: %w", err)
	}
	total, err := p.chatRepo.CountByStream(ctx, streamID)
	if err != nil {
		return fmt.Errorf("count chat messages: %w", err)
	}
	if err := p.streamRepo.SetTotalChatMessages(ctx, streamID, total); err != nil {
		return fmt.Errorf("update stream record: %w", err)
	}
	p.logger.Info("stream wrap-up completed", zap.String("stream_id", payload.StreamID), zap.Int("total_chat_messages", total))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("persistence worker stopping")
			return
		default:
		}

		job, key, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job, key); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
		}
	}
}
