package auth

import (
	"go.uber.org/fx"
)

// Module provides the organization-scoping middleware
var Module = fx.Module("auth",
	fx.Provide(NewMiddleware),
)
