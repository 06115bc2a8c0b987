package ranking

import "go.uber.org/fx"

var Module = fx.Module("ranking",
	fx.Provide(NewService, NewWarmer),
	fx.Invoke(registerWarmer),
)

var Gateway = fx.Module("ranking.gateway",
	fx.Invoke(RegisterHTTPHandlers),
)
