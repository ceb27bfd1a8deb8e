package member

import "go.uber.org/fx"

var Module = fx.Module("member.repository",
	fx.Provide(NewRepository),
)
