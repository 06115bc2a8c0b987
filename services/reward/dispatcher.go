package reward

import (
	"context"
	"encoding/json"
	"fmt"

	"guild-leveling/pkg/task"
	"guild-leveling/pkg/taskname"
	"guild-leveling/services/progression"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// QueueDispatcher hands LevelChanged facts to the worker queue.
type QueueDispatcher struct {
	enqueuer task.Enqueuer
}

func NewQueueDispatcher(enqueuer task.Enqueuer) *QueueDispatcher {
	return &QueueDispatcher{enqueuer: enqueuer}
}

func (d *QueueDispatcher) OnLevelChanged(ctx context.Context, change progression.LevelChanged) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal level change: %w", err)
	}

	// Actuator failures are reported, not retried.
	t := asynq.NewTask(taskname.LevelChanged, payload, asynq.MaxRetry(0))
	opts := []asynq.Option{asynq.Queue(taskname.QueueDefault)}
	if change.EventID != "" {
		opts = append(opts, asynq.TaskID(change.EventID))
	}

	info, err := d.enqueuer.Enqueue(ctx, t, opts...)
	if err != nil {
		return err
	}
	zap.L().Debug("level change enqueued", zap.String("task_id", info.ID), zap.String("event_id", change.EventID))
	return nil
}

// InlineDispatcher processes LevelChanged facts on the caller's goroutine.
type InlineDispatcher struct {
	processor *Processor
}

func NewInlineDispatcher(processor *Processor) *InlineDispatcher {
	return &InlineDispatcher{processor: processor}
}

func (d *InlineDispatcher) OnLevelChanged(ctx context.Context, change progression.LevelChanged) error {
	return d.processor.Process(ctx, change)
}

// HandleLevelChangedTask is the worker side of QueueDispatcher.
func (p *Processor) HandleLevelChangedTask(ctx context.Context, t *asynq.Task) error {
	var change progression.LevelChanged
	if err := json.Unmarshal(t.Payload(), &change); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	zap.L().Info("processing level change",
		zap.String("task_type", t.Type()),
		zap.String("event_id", change.EventID),
		zap.String("guild_id", change.GuildID),
	)
	return p.Process(ctx, change)
}
