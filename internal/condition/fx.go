package condition

import "go.uber.org/fx"

var Module = fx.Module("condition",
	fx.Provide(NewEvaluator),
)
