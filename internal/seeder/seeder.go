package seeder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/hvacops/internal/entity"
	"github.com/Additional-Code/hvacops/internal/store"
)

// Module provides the Seeder to Fx.
var Module = fx.Provide(New)

// Seeder loads reference data for local/dev setups.
type Seeder struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time
}

// Result counts the rows a seed run inserted.
type Result struct {
	Users     int
	Products  int
	Materials int
}

// New constructs a Seeder on top of the record store.
func New(s store.Store, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{store: s, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

var staff = []entity.User{
	{FullName: "Casey Customer", Email: "customer@hvacops.local", Role: entity.RoleCustomer},
	{FullName: "Farah Finance", Email: "finance@hvacops.local", Role: entity.RoleFinance},
	{FullName: "Dion Dispatch", Email: "dispatch@hvacops.local", Role: entity.RoleDispatch},
	{FullName: "Sora Supervisor", Email: "supervisor@hvacops.local", Role: entity.RoleSupervisor},
	{FullName: "Theo Technician", Email: "technician@hvacops.local", Role: entity.RoleTechnician},
	{FullName: "Dara Driver", Email: "driver@hvacops.local", Role: entity.RoleDriver},
	{FullName: "Sam Supplier", Email: "supplier@hvacops.local", Role: entity.RoleSupplier},
	{FullName: "Kim Stock", Email: "stock@hvacops.local", Role: entity.RoleStockManager},
}

var catalog = []entity.Product{
	{Name: "Split AC 12000 BTU", Category: "air_conditioner", Price: decimal.RequireFromString("649.00"), StockQuantity: 25},
	{Name: "Gas Furnace 80k BTU", Category: "furnace", Price: decimal.RequireFromString("1899.00"), StockQuantity: 8},
	{Name: "Heat Pump 3 Ton", Category: "heat_pump", Price: decimal.RequireFromString("3250.00"), StockQuantity: 5},
	{Name: "Smart Thermostat", Category: "controls", Price: decimal.RequireFromString("179.99"), StockQuantity: 60},
}

var stock = []entity.Material{
	{Name: "Copper line set", Unit: "m", StockQuantity: 300},
	{Name: "R-410A refrigerant", Unit: "kg", StockQuantity: 90},
	{Name: "Air filter 16x25", Unit: "pcs", StockQuantity: 150},
}

// Seed inserts demo users, products and materials that are not already present.
func (s *Seeder) Seed(ctx context.Context) (Result, error) {
	var res Result
	now := s.now()

	for _, u := range staff {
		ok, err := absent[entity.User](ctx, s.store, store.Users, store.Where("email", u.Email))
		if err != nil {
			return res, err
		}
		if !ok {
			continue
		}
		row := u
		row.CreatedAt = now
		if err := s.store.Insert(ctx, store.Users, &row); err != nil {
			return res, fmt.Errorf("seed user %s: %w", u.Email, err)
		}
		res.Users++
	}

	for _, p := range catalog {
		ok, err := absent[entity.Product](ctx, s.store, store.Products, store.Where("name", p.Name))
		if err != nil {
			return res, err
		}
		if !ok {
			continue
		}
		row := p
		row.CreatedAt = now
		if err := s.store.Insert(ctx, store.Products, &row); err != nil {
			return res, fmt.Errorf("seed product %s: %w", p.Name, err)
		}
		res.Products++
	}

	for _, m := range stock {
		ok, err := absent[entity.Material](ctx, s.store, store.Materials, store.Where("name", m.Name))
		if err != nil {
			return res, err
		}
		if !ok {
			continue
		}
		row := m
		row.CreatedAt = now
		if err := s.store.Insert(ctx, store.Materials, &row); err != nil {
			return res, fmt.Errorf("seed material %s: %w", m.Name, err)
		}
		res.Materials++
	}

	s.logger.Info("seed data applied",
		zap.Int("users", res.Users),
		zap.Int("products", res.Products),
		zap.Int("materials", res.Materials),
	)
	return res, nil
}

func absent[T any](ctx context.Context, s store.Store, table store.Table, filter *store.Filter) (bool, error) {
	_, err := store.First[T](ctx, s, table, filter)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", table, err)
	}
	return false, nil
}
