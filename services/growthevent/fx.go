package growthevent

import "go.uber.org/fx"

var Module = fx.Module("growthevent.store",
	fx.Provide(NewStore),
)
