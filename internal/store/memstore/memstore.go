// Package memstore is an in-memory store.Store used by tests and local tooling.
// It enforces store.UniqueKeys and applies filters with SQL NULL semantics.
package memstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Additional-Code/hvacops/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store keeps rows per table as struct copies.
type Store struct {
	mu     sync.RWMutex
	tables map[store.Table]*table
	feed   store.Feed
	now    func() time.Time
}

type table struct {
	typ    reflect.Type
	cols   map[string]int
	rows   []reflect.Value
	nextID int64
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used to stamp created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		tables: make(map[store.Table]*table),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert implements store.Store.
func (s *Store) Insert(ctx context.Context, name store.Table, row any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rv := reflect.ValueOf(row)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("memstore: insert into %s: row must be a non-nil struct pointer, got %T", name, row)
	}
	elem := rv.Elem()

	s.mu.Lock()
	t, err := s.tableFor(name, elem.Type())
	if err != nil {
		s.mu.Unlock()
		return err
	}

	record := clone(elem)
	idField, ok := t.field(record, store.KeyColumn)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("memstore: table %s has no %s column", name, store.KeyColumn)
	}
	if idField.Int() == 0 {
		idField.SetInt(t.nextID + 1)
	}
	id := idField.Int()
	if _, exists := t.find(id); exists {
		s.mu.Unlock()
		return fmt.Errorf("memstore: insert into %s: key %d: %w", name, id, store.ErrConflict)
	}
	if err := t.checkUnique(name, record, -1); err != nil {
		s.mu.Unlock()
		return err
	}
	if created, ok := t.field(record, "created_at"); ok && created.Type() == reflect.TypeOf(time.Time{}) {
		if created.Interface().(time.Time).IsZero() {
			created.Set(reflect.ValueOf(s.now()))
		}
	}
	if id > t.nextID {
		t.nextID = id
	}
	t.rows = append(t.rows, record)

	// write generated values back to the caller's row
	elem.Set(clone(record))
	snapshot := clone(record).Addr().Interface()
	s.mu.Unlock()

	s.feed.Publish(store.Change{Table: name, Kind: store.ChangeInsert, Key: id, Row: snapshot, At: s.now()})
	return nil
}

// Select implements store.Store.
func (s *Store) Select(ctx context.Context, name store.Table, filter *store.Filter, dest any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() || dv.Elem().Kind() != reflect.Slice || dv.Elem().Type().Elem().Kind() != reflect.Struct {
		return fmt.Errorf("memstore: select from %s: dest must be a pointer to a slice of structs, got %T", name, dest)
	}
	slice := dv.Elem()
	elemType := slice.Type().Elem()

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[name]
	if !ok {
		slice.Set(reflect.MakeSlice(slice.Type(), 0, 0))
		return nil
	}
	if t.typ != elemType {
		return fmt.Errorf("memstore: select from %s: dest element %s does not match %s", name, elemType, t.typ)
	}
	if filter == nil {
		filter = &store.Filter{}
	}
	for _, col := range filter.Columns() {
		if _, ok := t.cols[col]; !ok {
			return fmt.Errorf("memstore: select from %s: unknown column %q", name, col)
		}
	}

	matched := make([]reflect.Value, 0, len(t.rows))
	for _, row := range t.rows {
		if t.matches(row, filter.Conditions) {
			matched = append(matched, row)
		}
	}

	orderBy := filter.OrderBy
	if orderBy == "" {
		orderBy = store.KeyColumn
	}
	idx := t.cols[orderBy]
	sort.SliceStable(matched, func(i, j int) bool {
		c := compare(normalize(matched[i].Field(idx)), normalize(matched[j].Field(idx)))
		if filter.Descending {
			return c > 0
		}
		return c < 0
	})
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := reflect.MakeSlice(slice.Type(), 0, len(matched))
	for _, row := range matched {
		out = reflect.Append(out, clone(row))
	}
	slice.Set(out)
	return nil
}

// Update implements store.Store.
func (s *Store) Update(ctx context.Context, name store.Table, key int64, patch store.Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	t, ok := s.tables[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("memstore: update %s %d: %w", name, key, store.ErrNotFound)
	}
	pos, ok := t.find(key)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("memstore: update %s %d: %w", name, key, store.ErrNotFound)
	}

	next := clone(t.rows[pos])
	for col, value := range patch {
		if col == store.KeyColumn {
			s.mu.Unlock()
			return fmt.Errorf("memstore: update %s %d: key column is immutable", name, key)
		}
		field, ok := t.field(next, col)
		if !ok {
			s.mu.Unlock()
			return fmt.Errorf("memstore: update %s %d: unknown column %q", name, key, col)
		}
		if err := assign(field, value); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("memstore: update %s %d column %s: %w", name, key, col, err)
		}
	}
	if err := t.checkUnique(name, next, pos); err != nil {
		s.mu.Unlock()
		return err
	}
	t.rows[pos] = next
	s.mu.Unlock()

	cp := make(store.Patch, len(patch))
	for k, v := range patch {
		cp[k] = v
	}
	s.feed.Publish(store.Change{Table: name, Kind: store.ChangeUpdate, Key: key, Patch: cp, At: s.now()})
	return nil
}

// Subscribe implements store.Store.
func (s *Store) Subscribe(name store.Table, fn func(store.Change), kinds ...store.ChangeKind) func() {
	return s.feed.Subscribe(name, fn, kinds...)
}

// Count returns the number of rows in a table.
func (s *Store) Count(name store.Table) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tables[name]; ok {
		return len(t.rows)
	}
	return 0
}

func (s *Store) tableFor(name store.Table, typ reflect.Type) (*table, error) {
	if t, ok := s.tables[name]; ok {
		if t.typ != typ {
			return nil, fmt.Errorf("memstore: table %s holds %s, not %s", name, t.typ, typ)
		}
		return t, nil
	}
	t := &table{typ: typ, cols: columns(typ)}
	s.tables[name] = t
	return t, nil
}

func (t *table) field(row reflect.Value, col string) (reflect.Value, bool) {
	idx, ok := t.cols[col]
	if !ok {
		return reflect.Value{}, false
	}
	return row.Field(idx), true
}

func (t *table) find(id int64) (int, bool) {
	idx := t.cols[store.KeyColumn]
	for i, row := range t.rows {
		if row.Field(idx).Int() == id {
			return i, true
		}
	}
	return -1, false
}

func (t *table) checkUnique(name store.Table, row reflect.Value, skip int) error {
	for _, col := range store.UniqueKeys[name] {
		idx, ok := t.cols[col]
		if !ok {
			continue
		}
		val := normalize(row.Field(idx))
		if val == nil || row.Field(idx).IsZero() {
			continue
		}
		for i, existing := range t.rows {
			if i == skip {
				continue
			}
			if equal(normalize(existing.Field(idx)), val) {
				return fmt.Errorf("memstore: %s.%s = %v: %w", name, col, val, store.ErrConflict)
			}
		}
	}
	return nil
}

func (t *table) matches(row reflect.Value, conds []store.Condition) bool {
	for _, c := range conds {
		val := normalize(row.Field(t.cols[c.Column]))
		switch c.Op {
		case store.OpEq:
			if val == nil || !equal(val, normalizeAny(c.Value)) {
				return false
			}
		case store.OpNe:
			if val == nil || equal(val, normalizeAny(c.Value)) {
				return false
			}
		case store.OpIsNull:
			if val != nil {
				return false
			}
		case store.OpNotNull:
			if val == nil {
				return false
			}
		case store.OpIn:
			found := false
			for _, v := range c.Values {
				if val != nil && equal(val, normalizeAny(v)) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// columns maps bun column names to struct field indexes.
func columns(typ reflect.Type) map[string]int {
	cols := make(map[string]int, typ.NumField())
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag, ok := f.Tag.Lookup("bun")
		if !ok || tag == "-" {
			continue
		}
		name := strings.Split(tag, ",")[0]
		if name == "" || strings.Contains(name, ":") {
			continue
		}
		cols[name] = i
	}
	return cols
}

// clone copies a struct value, duplicating pointer fields so callers never share
// memory with stored rows.
func clone(v reflect.Value) reflect.Value {
	cp := reflect.New(v.Type()).Elem()
	cp.Set(v)
	for i := 0; i < cp.NumField(); i++ {
		f := cp.Field(i)
		if f.Kind() == reflect.Pointer && !f.IsNil() && f.CanSet() {
			dup := reflect.New(f.Type().Elem())
			dup.Elem().Set(f.Elem())
			f.Set(dup)
		}
	}
	return cp
}

func assign(field reflect.Value, value any) error {
	if value == nil {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}
	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		if val.Kind() == reflect.Pointer && !val.IsNil() {
			dup := reflect.New(val.Type().Elem())
			dup.Elem().Set(val.Elem())
			val = dup
		}
		field.Set(val)
		return nil
	}
	if val.Kind() == reflect.Pointer {
		if val.IsNil() {
			field.Set(reflect.Zero(field.Type()))
			return nil
		}
		val = val.Elem()
	}
	target := field.Type()
	if field.Kind() == reflect.Pointer {
		target = field.Type().Elem()
	}
	converted, err := convert(val, target)
	if err != nil {
		return err
	}
	if field.Kind() == reflect.Pointer {
		ptr := reflect.New(target)
		ptr.Elem().Set(converted)
		field.Set(ptr)
		return nil
	}
	field.Set(converted)
	return nil
}

func convert(val reflect.Value, target reflect.Type) (reflect.Value, error) {
	if val.Type().AssignableTo(target) {
		return val, nil
	}
	if isNumeric(val.Kind()) != isNumeric(target.Kind()) {
		return reflect.Value{}, fmt.Errorf("cannot store %s in %s", val.Type(), target)
	}
	if !val.Type().ConvertibleTo(target) {
		return reflect.Value{}, fmt.Errorf("cannot store %s in %s", val.Type(), target)
	}
	return val.Convert(target), nil
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func normalizeAny(v any) any {
	if v == nil {
		return nil
	}
	return normalize(reflect.ValueOf(v))
}

// normalize reduces a column value to a comparable form: nil, int64, float64,
// string, bool, decimal.Decimal or time.Time.
func normalize(v reflect.Value) any {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint())
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.String:
		return v.String()
	case reflect.Bool:
		return v.Bool()
	}
	return v.Interface()
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case decimal.Decimal:
		bv, ok := b.(decimal.Decimal)
		return ok && av.Equal(bv)
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case int64:
		if bf, ok := b.(float64); ok {
			return float64(av) == bf
		}
	case float64:
		if bi, ok := b.(int64); ok {
			return av == float64(bi)
		}
	}
	return reflect.DeepEqual(a, b)
}

func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch av := a.(type) {
	case int64:
		if bv, ok := b.(int64); ok {
			return cmpOrdered(av, bv)
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return cmpOrdered(av, bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case decimal.Decimal:
		if bv, ok := b.(decimal.Decimal); ok {
			return av.Cmp(bv)
		}
	case bool:
		if bv, ok := b.(bool); ok && av != bv {
			if !av {
				return -1
			}
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
