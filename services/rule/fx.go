package rule

import (
	"growth-pipeline/pkg/config"

	"go.uber.org/fx"
)

var Module = fx.Module("rule.repository",
	fx.Provide(
		NewRepository,
		NewMatcher,
		provideCache,
		NewLoader,
	),
)

func provideCache(cfg *config.Config) *RuleCache {
	return NewRuleCache(cfg.Growth.RuleCacheTTL)
}
