package http

import (
	"go.uber.org/fx"

	changestransport "github.com/Additional-Code/hvacops/internal/transport/http/changes"
	dispatchtransport "github.com/Additional-Code/hvacops/internal/transport/http/dispatch"
	ledgertransport "github.com/Additional-Code/hvacops/internal/transport/http/ledger"
	ordertransport "github.com/Additional-Code/hvacops/internal/transport/http/order"
	repairtransport "github.com/Additional-Code/hvacops/internal/transport/http/repair"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	ordertransport.Module,
	dispatchtransport.Module,
	repairtransport.Module,
	ledgertransport.Module,
	changestransport.Module,
)
