package repair

import "go.uber.org/fx"

// Module provides the repair workflow service to Fx.
var Module = fx.Provide(NewService)
