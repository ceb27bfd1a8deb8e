package archive

import (
	"growth-pipeline/pkg/config"
	"growth-pipeline/pkg/taskname"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"go.uber.org/fx"
)

// Module provides the archive job and, when object storage is configured,
// its exporter.
var Module = fx.Module("archive.job",
	fx.Provide(
		NewJob,
		provideExporter,
	),
)

// HTTP exposes the manual trigger.
var HTTP = fx.Module("archive.http",
	fx.Provide(NewHandler),
	fx.Invoke(func(r *gin.Engine, h *Handler) { h.Register(r) }),
)

// SchedulerModule runs the job daily in-process.
var SchedulerModule = fx.Module("archive.scheduler",
	fx.Provide(func(cfg *config.Config, job *Job) *Scheduler {
		return NewScheduler(job, cfg.Growth.Archive.RunHour, cfg.Growth.Archive.RunMinute, cfg.Growth.Location())
	}),
	fx.Invoke(func(lc fx.Lifecycle, s *Scheduler) {
		lc.Append(fx.StartStopHook(s.Start, s.Stop))
	}),
)

// Worker consumes manually triggered runs.
var Worker = fx.Module("archive.worker",
	fx.Invoke(func(mux *asynq.ServeMux, job *Job) {
		mux.HandleFunc(taskname.GrowthArchiveRun, job.HandleRunTask)
	}),
)

type exporterParams struct {
	fx.In
	Config *config.Config
	Client *minio.Client `optional:"true"`
}

func provideExporter(p exporterParams) Exporter {
	if p.Client == nil || !p.Config.Growth.Archive.Export {
		return nil
	}
	return NewMinioExporter(p.Client, p.Config.Minio.BucketName)
}
