package creditrule

import "go.uber.org/fx"

var Module = fx.Module("creditrule",
	fx.Provide(NewTable),
)
