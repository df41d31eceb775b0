package repository

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/hvacops/internal/store"
)

// Module provides the SQL record store to Fx.
var Module = fx.Provide(
	fx.Annotate(NewRepository, fx.As(new(store.Store))),
)
