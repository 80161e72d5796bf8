package stats

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/benchay1999/find-the-ai/internal/queue"
	"github.com/benchay1999/find-the-ai/internal/types"
)

// QueuedSink routes stats records through RabbitMQ. Publishing the task is
// the durable handoff; the registered consumer performs the actual write,
// retrying through the broker on failure. Falls back to the direct writer
// when publishing fails.
type QueuedSink struct {
	q      *queue.Queue
	writer *Writer
	logger *zap.Logger
}

func NewQueuedSink(q *queue.Queue, writer *Writer, logger *zap.Logger) *QueuedSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &QueuedSink{q: q, writer: writer, logger: logger}
	q.RegisterHandler(queue.TaskTypeStatsFlush, s.handleTask)
	return s
}

func (s *QueuedSink) Flush(ctx context.Context, rec types.StatsRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return types.WrapError(types.ErrInternal, "cannot marshal stats", err)
	}
	task := queue.Task{
		ID:        uuid.NewString(),
		Type:      queue.TaskTypeStatsFlush,
		RoomCode:  rec.RoomCode,
		Data:      payload,
		Priority:  7,
		CreatedAt: time.Now().UTC(),
		MaxRetry:  3,
	}
	if err := s.q.Publish(ctx, task); err != nil {
		s.logger.Warn("stats publish failed, writing directly", zap.Error(err))
		return s.writer.Flush(ctx, rec)
	}
	return nil
}

func (s *QueuedSink) handleTask(ctx context.Context, task queue.Task) error {
	var rec types.StatsRecord
	if err := json.Unmarshal(task.Data, &rec); err != nil {
		return err
	}
	return s.writer.Flush(ctx, rec)
}
