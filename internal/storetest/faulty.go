// Package storetest provides store.Store decorators for tests.
package storetest

import (
	"context"
	"errors"
	"sync"

	"github.com/Additional-Code/hvacops/internal/store"
)

// ErrInjected is the default error returned by injected failures.
var ErrInjected = errors.New("injected store failure")

// Op names a store call.
type Op string

const (
	OpSelect Op = "select"
	OpInsert Op = "insert"
	OpUpdate Op = "update"
)

type fault struct {
	op    Op
	table store.Table
	err   error
	times int // < 0 fails forever
}

// Faulty wraps a Store and fails selected calls.
type Faulty struct {
	store.Store

	mu     sync.Mutex
	faults []*fault
	calls  map[Op]int
}

// Wrap decorates s.
func Wrap(s store.Store) *Faulty {
	return &Faulty{Store: s, calls: make(map[Op]int)}
}

// FailNext makes the next op on table return err (ErrInjected when nil).
func (f *Faulty) FailNext(op Op, table store.Table, err error) {
	f.add(op, table, err, 1)
}

// FailAlways makes every op on table fail until Clear.
func (f *Faulty) FailAlways(op Op, table store.Table, err error) {
	f.add(op, table, err, -1)
}

// Clear removes every pending fault.
func (f *Faulty) Clear() {
	f.mu.Lock()
	f.faults = nil
	f.mu.Unlock()
}

// Calls returns how many times op reached the decorator.
func (f *Faulty) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Faulty) add(op Op, table store.Table, err error, times int) {
	if err == nil {
		err = ErrInjected
	}
	f.mu.Lock()
	f.faults = append(f.faults, &fault{op: op, table: table, err: err, times: times})
	f.mu.Unlock()
}

func (f *Faulty) check(op Op, table store.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	for i, ft := range f.faults {
		if ft.op != op || ft.table != table {
			continue
		}
		if ft.times > 0 {
			ft.times--
			if ft.times == 0 {
				f.faults = append(f.faults[:i], f.faults[i+1:]...)
			}
		}
		return ft.err
	}
	return nil
}

// Select implements store.Store.
func (f *Faulty) Select(ctx context.Context, table store.Table, filter *store.Filter, dest any) error {
	if err := f.check(OpSelect, table); err != nil {
		return err
	}
	return f.Store.Select(ctx, table, filter, dest)
}

// Insert implements store.Store.
func (f *Faulty) Insert(ctx context.Context, table store.Table, row any) error {
	if err := f.check(OpInsert, table); err != nil {
		return err
	}
	return f.Store.Insert(ctx, table, row)
}

// Update implements store.Store.
func (f *Faulty) Update(ctx context.Context, table store.Table, key int64, patch store.Patch) error {
	if err := f.check(OpUpdate, table); err != nil {
		return err
	}
	return f.Store.Update(ctx, table, key, patch)
}
