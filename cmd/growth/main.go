package main

import (
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"growth-pipeline/pkg/config"
	"growth-pipeline/pkg/db"
	"growth-pipeline/pkg/featureflags"
	"growth-pipeline/pkg/gen"
	"growth-pipeline/pkg/hashistack/secretmanager"
	"growth-pipeline/pkg/health"
	"growth-pipeline/pkg/httpapi"
	"growth-pipeline/pkg/logger"
	"growth-pipeline/pkg/minio"
	"growth-pipeline/pkg/otelcol"
	"growth-pipeline/pkg/profiling"
	"growth-pipeline/pkg/redis"
	"growth-pipeline/pkg/server"
	"growth-pipeline/pkg/task"
	"growth-pipeline/services/antifraud"
	"growth-pipeline/services/archive"
	"growth-pipeline/services/growth"
	"growth-pipeline/services/growthevent"
	"growth-pipeline/services/ledger"
	"growth-pipeline/services/member"
	"growth-pipeline/services/rule"
)

func main() {
	app := fx.New(
		configModules(),
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		gen.Module,
		otelcol.Module,
		profiling.Module,
		featureflags.Module,
		minio.Client,
		health.Module,
		httpapi.Module,
		server.ProvideHTTPServer,

		growthevent.Module,
		rule.Module,
		member.Module,
		antifraud.Module,
		ledger.Module,
		growth.Module,
		growth.HTTP,
		growth.SchedulerModule,
		antifraud.HTTP,
		archive.Module,
		archive.HTTP,
		archive.SchedulerModule,

		fx.Invoke(migrate),
		fxLogger,
	)

	app.Run()
}

func configModules() fx.Option {
	opts := []fx.Option{}
	if secretmanager.Enabled() {
		opts = append(opts, secretmanager.Module)
	}
	if _, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		opts = append(opts, config.RemoteModule)
	} else {
		opts = append(opts, config.Module)
	}
	return fx.Options(opts...)
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "development" {
		return &fxevent.ZapLogger{Logger: logger}
	}
	return fxevent.NopLogger
})
