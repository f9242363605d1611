package pipeline

import "go.uber.org/fx"

// Module provides the pipeline store.
var Module = fx.Module("pipeline",
	fx.Provide(NewRepository),
)
