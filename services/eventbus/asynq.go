package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"growth-pipeline/pkg/task"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// AsynqBus is the durable bus: Publish enqueues a task and the asynq worker
// hands it to HandleTask. Handler errors make asynq retry the task.
type AsynqBus[T any] struct {
	enqueuer task.Enqueuer
	taskType string
	taskID   func(T) string
	opts     []asynq.Option

	mu       sync.RWMutex
	registry registry[T]
}

type AsynqOption[T any] func(*AsynqBus[T])

// WithTaskID derives a stable task id per message, so a re-publish of the
// same message is dropped by asynq.
func WithTaskID[T any](fn func(T) string) AsynqOption[T] {
	return func(b *AsynqBus[T]) { b.taskID = fn }
}

func WithTaskOptions[T any](opts ...asynq.Option) AsynqOption[T] {
	return func(b *AsynqBus[T]) { b.opts = append(b.opts, opts...) }
}

func NewAsynqBus[T any](enqueuer task.Enqueuer, taskType string, opts ...AsynqOption[T]) *AsynqBus[T] {
	b := &AsynqBus[T]{
		enqueuer: enqueuer,
		taskType: taskType,
		opts:     []asynq.Option{asynq.Queue(task.QueueGrowth), asynq.MaxRetry(10)},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *AsynqBus[T]) Subscribe(h Handler[T]) func() {
	b.mu.Lock()
	id := b.registry.add(h)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.registry.handlers, id)
			b.mu.Unlock()
		})
	}
}

func (b *AsynqBus[T]) Publish(ctx context.Context, msg T) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", b.taskType, err)
	}

	opts := b.opts
	if b.taskID != nil {
		opts = append(append([]asynq.Option{}, b.opts...), asynq.TaskID(b.taskID(msg)))
	}

	info, err := b.enqueuer.Enqueue(ctx, asynq.NewTask(b.taskType, payload), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	zap.L().Debug("[EventBus] task enqueued", zap.String("task_type", b.taskType), zap.String("task_id", info.ID))
	return nil
}

// HandleTask is the asynq handler for the bus task type.
func (b *AsynqBus[T]) HandleTask(ctx context.Context, t *asynq.Task) error {
	var msg T
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		return fmt.Errorf("invalid %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}

	b.mu.RLock()
	handlers := b.registry.snapshot()
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
