package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Role identifies what a user does in the company.
type Role string

const (
	RoleCustomer     Role = "customer"
	RoleFinance      Role = "finance"
	RoleDispatch     Role = "dispatch"
	RoleSupervisor   Role = "supervisor"
	RoleTechnician   Role = "technician"
	RoleDriver       Role = "driver"
	RoleSupplier     Role = "supplier"
	RoleStockManager Role = "stock_manager"
)

// User is any person known to the system, customer or staff.
type User struct {
	bun.BaseModel `bun:"table:users"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	FullName  string    `bun:"full_name,notnull" json:"full_name"`
	Email     string    `bun:"email,unique,nullzero" json:"email"`
	Phone     string    `bun:"phone" json:"phone"`
	Role      Role      `bun:"role,notnull" json:"role"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
}

// Product is a sellable catalog item.
type Product struct {
	bun.BaseModel `bun:"table:products"`

	ID            int64           `bun:"id,pk,autoincrement" json:"id"`
	Name          string          `bun:"name,notnull" json:"name"`
	Category      string          `bun:"category" json:"category"`
	Price         decimal.Decimal `bun:"price,type:numeric(14,2)" json:"price"`
	StockQuantity int             `bun:"stock_quantity" json:"stock_quantity"`
	CreatedAt     time.Time       `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
}

// Material is a part issued to technicians for repairs.
type Material struct {
	bun.BaseModel `bun:"table:materials"`

	ID            int64     `bun:"id,pk,autoincrement" json:"id"`
	Name          string    `bun:"name,notnull" json:"name"`
	Unit          string    `bun:"unit" json:"unit"`
	StockQuantity int       `bun:"stock_quantity" json:"stock_quantity"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
}
