package archive

import (
	"context"
	"fmt"

	"growth-pipeline/pkg/task"
	"growth-pipeline/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// HandleRunTask runs the archive job from the task queue.
func (j *Job) HandleRunTask(ctx context.Context, t *asynq.Task) error {
	res, err := j.Run(ctx)
	if err != nil {
		return err
	}
	zap.L().Info("archive task finished", zap.String("task_type", t.Type()), zap.Int("archived", res.Archived))
	return nil
}

// Enqueue schedules a manual archive run on the low priority queue.
func Enqueue(ctx context.Context, enqueuer task.Enqueuer) (string, error) {
	info, err := enqueuer.Enqueue(ctx, asynq.NewTask(taskname.GrowthArchiveRun, nil),
		asynq.Queue(task.QueueLow),
		asynq.MaxRetry(3),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue archive run: %w", err)
	}
	return info.ID, nil
}
