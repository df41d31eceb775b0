// Package store defines the record store contract the workflows run against.
//
// A Store exposes per-call atomic select, insert and update operations over the
// tables below. It offers no multi-statement transactions; callers order their
// writes and track progress themselves.
package store

import (
	"context"
	"errors"
	"time"
)

// Table names a persisted entity collection.
type Table string

const (
	Orders           Table = "orders"
	Dispatches       Table = "dispatches"
	Repairs          Table = "repairs"
	FinancialRecords Table = "financial_records"
	Products         Table = "products"
	Users            Table = "users"
	Materials        Table = "materials"
)

// Tables lists every table in migration order.
var Tables = []Table{Users, Products, Materials, Orders, Dispatches, Repairs, FinancialRecords}

// Valid reports whether t is a known table.
func (t Table) Valid() bool {
	for _, known := range Tables {
		if t == known {
			return true
		}
	}
	return false
}

// KeyColumn is the primary key column shared by every table.
const KeyColumn = "id"

var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write violates a unique key.
	ErrConflict = errors.New("record conflicts with an existing row")
)

// UniqueKeys lists the single-column unique constraints of each table. The SQL
// migrations declare the same constraints.
var UniqueKeys = map[Table][]string{
	Dispatches:       {"order_id"},
	FinancialRecords: {"seq"},
	Users:            {"email"},
}

// Patch is a partial update keyed by column name.
type Patch map[string]any

// ChangeKind classifies a row change.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
)

// Change describes a committed write.
type Change struct {
	Table Table      `json:"table"`
	Kind  ChangeKind `json:"kind"`
	Key   int64      `json:"key"`
	Row   any        `json:"row,omitempty"`
	Patch Patch      `json:"patch,omitempty"`
	At    time.Time  `json:"at"`
}

// Store is the record store contract.
type Store interface {
	// Select loads rows of table matching filter into dest, a pointer to a slice
	// of the table's entity type. A nil filter selects every row.
	Select(ctx context.Context, table Table, filter *Filter, dest any) error
	// Insert persists row, a pointer to the table's entity, and fills its key.
	Insert(ctx context.Context, table Table, row any) error
	// Update applies patch to the row identified by key.
	Update(ctx context.Context, table Table, key int64, patch Patch) error
	// Subscribe registers fn for committed changes on table. With no kinds every
	// change is delivered. The returned func cancels the subscription.
	Subscribe(table Table, fn func(Change), kinds ...ChangeKind) (cancel func())
}

// Get loads the row of table with the given key.
func Get[T any](ctx context.Context, s Store, table Table, key int64) (*T, error) {
	return First[T](ctx, s, table, Where(KeyColumn, key))
}

// First loads the first row matching filter or returns ErrNotFound.
func First[T any](ctx context.Context, s Store, table Table, filter *Filter) (*T, error) {
	if filter == nil {
		filter = &Filter{}
	}
	var rows []T
	if err := s.Select(ctx, table, filter.Clone().Take(1), &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// List loads every row matching filter.
func List[T any](ctx context.Context, s Store, table Table, filter *Filter) ([]T, error) {
	rows := make([]T, 0)
	if err := s.Select(ctx, table, filter, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
