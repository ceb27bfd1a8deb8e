package growth

import (
	"context"
	"strconv"

	"growth-pipeline/pkg/config"
	"growth-pipeline/pkg/task"
	"growth-pipeline/pkg/taskname"
	"growth-pipeline/services/antifraud"
	"growth-pipeline/services/eventbus"
	"growth-pipeline/services/growthevent"
	"growth-pipeline/services/rule"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module wires the orchestrator and subscribes it to the bus.
var Module = fx.Module("growth.service",
	fx.Provide(
		NewBus,
		func(l *rule.Loader) RuleLoader { return l },
		func(e *antifraud.Evaluator) Checker { return e },
		NewService,
	),
	fx.Invoke(subscribe),
)

// HTTP exposes the query and ingestion routes.
var HTTP = fx.Module("growth.http",
	fx.Provide(NewHandler),
	fx.Invoke(func(r *gin.Engine, h *Handler) { h.Register(r) }),
)

// SchedulerModule runs the in-process reconciliation loop.
var SchedulerModule = fx.Module("growth.reconciler",
	fx.Provide(func(cfg *config.Config, s *Service) *Reconciler {
		return NewReconciler(s, cfg.Growth.Reconcile.Interval)
	}),
	fx.Invoke(func(lc fx.Lifecycle, r *Reconciler) {
		lc.Append(fx.StartStopHook(r.Start, r.Stop))
	}),
)

// Worker registers the asynq handlers of the pipeline.
var Worker = fx.Module("growth.worker",
	fx.Invoke(registerTaskHandlers),
)

type busParams struct {
	fx.In
	Config   *config.Config
	Enqueuer task.Enqueuer `optional:"true"`
}

// NewBus picks the durable asynq bus when configured and available.
func NewBus(p busParams) eventbus.Bus[growthevent.Input] {
	if p.Config.Growth.Bus == "asynq" {
		if p.Enqueuer != nil {
			return eventbus.NewAsynqBus(p.Enqueuer, taskname.GrowthEventReceived,
				eventbus.WithTaskID(func(in growthevent.Input) string {
					return strconv.FormatInt(in.ID, 10)
				}),
			)
		}
		zap.L().Warn("asynq bus requested without an asynq client, using in-memory bus")
	}
	return eventbus.NewMemoryBus[growthevent.Input]()
}

func subscribe(lc fx.Lifecycle, bus eventbus.Bus[growthevent.Input], s *Service) {
	var unsubscribe func()
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			unsubscribe = bus.Subscribe(s.Process)
			return nil
		},
		OnStop: func(context.Context) error {
			if unsubscribe != nil {
				unsubscribe()
			}
			if mb, ok := bus.(*eventbus.MemoryBus[growthevent.Input]); ok {
				mb.Wait()
			}
			return nil
		},
	})
}

func registerTaskHandlers(mux *asynq.ServeMux, bus eventbus.Bus[growthevent.Input], s *Service) {
	if ab, ok := bus.(*eventbus.AsynqBus[growthevent.Input]); ok {
		mux.HandleFunc(taskname.GrowthEventReceived, ab.HandleTask)
	} else {
		zap.L().Warn("growth bus is not asynq, event tasks will not be consumed")
	}
	mux.HandleFunc(taskname.GrowthPendingReconcile, s.HandleReconcileTask)
}
