package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type message struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

func TestMemoryBusFanOut(t *testing.T) {
	bus := NewMemoryBus[message]()

	var mu sync.Mutex
	got := map[string][]string{}
	for _, name := range []string{"a", "b"} {
		name := name
		bus.Subscribe(func(ctx context.Context, msg message) error {
			mu.Lock()
			defer mu.Unlock()
			got[name] = append(got[name], msg.ID)
			return nil
		})
	}

	require.NoError(t, bus.Publish(context.Background(), message{ID: "1"}))
	bus.Wait()

	require.Equal(t, []string{"1"}, got["a"])
	require.Equal(t, []string{"1"}, got["b"])
}

func TestMemoryBusSwallowsErrorsAndPanics(t *testing.T) {
	bus := NewMemoryBus[message]()

	var delivered atomic.Int32
	bus.Subscribe(func(ctx context.Context, msg message) error {
		return errors.New("handler failed")
	})
	bus.Subscribe(func(ctx context.Context, msg message) error {
		panic("boom")
	})
	bus.Subscribe(func(ctx context.Context, msg message) error {
		delivered.Add(1)
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), message{ID: "1"}))
	bus.Wait()
	require.Equal(t, int32(1), delivered.Load())
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus[message]()

	var delivered atomic.Int32
	unsubscribe := bus.Subscribe(func(ctx context.Context, msg message) error {
		delivered.Add(1)
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), message{ID: "1"}))
	bus.Wait()
	unsubscribe()
	unsubscribe()
	require.NoError(t, bus.Publish(context.Background(), message{ID: "2"}))
	bus.Wait()

	require.Equal(t, int32(1), delivered.Load())
}

func TestMemoryBusDetachesPublisherContext(t *testing.T) {
	bus := NewMemoryBus[message]()

	var handlerErr atomic.Value
	bus.Subscribe(func(ctx context.Context, msg message) error {
		handlerErr.Store(fmt.Sprint(ctx.Err()))
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, bus.Publish(ctx, message{ID: "1"}))
	bus.Wait()

	require.Equal(t, "<nil>", handlerErr.Load())
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	ids   map[string]bool
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ids == nil {
		f.ids = map[string]bool{}
	}
	var id string
	for _, opt := range opts {
		if opt.Type() == asynq.TaskIDOpt {
			id = opt.Value().(string)
		}
	}
	if id != "" && f.ids[id] {
		return nil, fmt.Errorf("failed to enqueue task: %w", asynq.ErrTaskIDConflict)
	}
	f.ids[id] = true
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: id, Type: task.Type()}, nil
}

func TestAsynqBusPublishDeduplicatesByTaskID(t *testing.T) {
	enq := &fakeEnqueuer{}
	bus := NewAsynqBus[message](enq, "test:message", WithTaskID(func(m message) string { return m.ID }))

	require.NoError(t, bus.Publish(context.Background(), message{ID: "1", Body: "hello"}))
	require.NoError(t, bus.Publish(context.Background(), message{ID: "1", Body: "hello"}))
	require.Len(t, enq.tasks, 1)

	var decoded message
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &decoded))
	require.Equal(t, "hello", decoded.Body)
	require.Equal(t, "test:message", enq.tasks[0].Type())
}

func TestAsynqBusHandleTaskJoinsErrors(t *testing.T) {
	bus := NewAsynqBus[message](&fakeEnqueuer{}, "test:message")

	var seen atomic.Int32
	bus.Subscribe(func(ctx context.Context, msg message) error {
		seen.Add(1)
		return errors.New("first")
	})
	bus.Subscribe(func(ctx context.Context, msg message) error {
		seen.Add(1)
		return nil
	})

	payload, err := json.Marshal(message{ID: "1"})
	require.NoError(t, err)

	err = bus.HandleTask(context.Background(), asynq.NewTask("test:message", payload))
	require.ErrorContains(t, err, "first")
	require.Equal(t, int32(2), seen.Load())

	err = bus.HandleTask(context.Background(), asynq.NewTask("test:message", []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
