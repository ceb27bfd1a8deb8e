package antifraud

import (
	"context"

	"growth-pipeline/pkg/config"
	"growth-pipeline/pkg/featureflags"
	"growth-pipeline/services/growthevent"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("antifraud.evaluator",
	fx.Provide(
		NewSource,
		NewCache,
		ProvideEvaluator,
	),
	fx.Invoke(registerInvalidation),
)

// HTTP exposes the effective config and the invalidation hook.
var HTTP = fx.Module("antifraud.http",
	fx.Provide(NewHandler),
	fx.Invoke(func(r *gin.Engine, h *Handler) { h.Register(r) }),
)

type SourceParams struct {
	fx.In
	Config *config.Config
	DB     *gorm.DB
	Flags  featureflags.FeatureFlag `optional:"true"`
}

func NewSource(p SourceParams) ConfigSource {
	af := p.Config.Growth.Antifraud
	if af.Source == "flagsmith" && p.Flags != nil {
		return NewFlagsmithSource(p.Flags, af.FlagName)
	}
	if af.Source == "flagsmith" {
		zap.L().Warn("flagsmith antifraud source requested without feature flags, using database")
	}
	return NewDatabaseSource(p.DB, af.ConfigKey)
}

func NewCache(cfg *config.Config, source ConfigSource) ConfigCache {
	return NewConfigCache(source, cfg.Growth.Antifraud.CacheTTL, nil)
}

func ProvideEvaluator(cfg *config.Config, cache ConfigCache, store *growthevent.Store) *Evaluator {
	return NewEvaluator(cache, store, cfg.Growth.Location())
}

type invalidationParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Redis     *redis.Client `optional:"true"`
	Cache     ConfigCache
}

func registerInvalidation(p invalidationParams) {
	if p.Redis == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go listenInvalidate(ctx, p.Redis, p.Cache)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
