package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/hvacops/internal/cache"
	"github.com/Additional-Code/hvacops/internal/config"
	"github.com/Additional-Code/hvacops/internal/database"
	"github.com/Additional-Code/hvacops/internal/events"
	"github.com/Additional-Code/hvacops/internal/lock"
	"github.com/Additional-Code/hvacops/internal/logger"
	"github.com/Additional-Code/hvacops/internal/messaging"
	"github.com/Additional-Code/hvacops/internal/notify"
	"github.com/Additional-Code/hvacops/internal/observability"
	"github.com/Additional-Code/hvacops/internal/repository"
	grpcserver "github.com/Additional-Code/hvacops/internal/server/grpc"
	httpserver "github.com/Additional-Code/hvacops/internal/server/http"
	"github.com/Additional-Code/hvacops/internal/service/ledger"
	"github.com/Additional-Code/hvacops/internal/service/order"
	"github.com/Additional-Code/hvacops/internal/service/repair"
	transporthttp "github.com/Additional-Code/hvacops/internal/transport/http"
	"github.com/Additional-Code/hvacops/internal/worker"
	workerworkflow "github.com/Additional-Code/hvacops/internal/worker/workflow"
	"github.com/Additional-Code/hvacops/internal/workflow"
)

// Storage provides configuration, logging and the record store. Migrations
// and seeders need nothing more.
var Storage = fx.Options(
	config.Module,
	logger.Module,
	logger.FxEvents,
	database.Module,
	repository.Module,
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	Storage,
	cache.Module,
	messaging.Module,
	observability.Module,
	events.Module,
	notify.Module,
	lock.Module,
	workflow.Module,
	ledger.Module,
	order.Module,
	repair.Module,
)

// HTTP wires the HTTP and gRPC servers on top of the core modules.
var HTTP = fx.Options(
	Core,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
)

// Worker exposes background event consumption and approval reconciliation.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerworkflow.Module,
)

// Module is the default application wiring.
var Module = HTTP
