package repository

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/hvacops/internal/database"
	"github.com/Additional-Code/hvacops/internal/entity"
	"github.com/Additional-Code/hvacops/internal/store"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/hvacops/repository")

var _ store.Store = (*Repository)(nil)

// models binds each table to its bun model type.
var models = map[store.Table]reflect.Type{
	store.Orders:           reflect.TypeOf(entity.Order{}),
	store.Dispatches:       reflect.TypeOf(entity.Dispatch{}),
	store.Repairs:          reflect.TypeOf(entity.Repair{}),
	store.FinancialRecords: reflect.TypeOf(entity.FinancialRecord{}),
	store.Products:         reflect.TypeOf(entity.Product{}),
	store.Users:            reflect.TypeOf(entity.User{}),
	store.Materials:        reflect.TypeOf(entity.Material{}),
}

// Repository is the SQL-backed record store. Reads go to the reader
// connection, writes to the writer.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
	feed   store.Feed
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// Select implements store.Store.
func (r *Repository) Select(ctx context.Context, table store.Table, filter *store.Filter, dest any) error {
	ctx, span := repoTracer.Start(ctx, "Repository.Select", trace.WithAttributes(attribute.String("db.table", string(table))))
	defer span.End()

	typ, err := modelType(table)
	if err != nil {
		return err
	}
	dt := reflect.TypeOf(dest)
	if dt == nil || dt.Kind() != reflect.Pointer || dt.Elem().Kind() != reflect.Slice || dt.Elem().Elem() != typ {
		return fmt.Errorf("select %s: dest must be *[]%s, got %T", table, typ, dest)
	}
	if filter == nil {
		filter = &store.Filter{}
	}
	if err := r.checkColumns(typ, filter.Columns()...); err != nil {
		return fmt.Errorf("select %s: %w", table, err)
	}

	q := r.reader.NewSelect().Model(dest)
	for _, c := range filter.Conditions {
		col := bun.Ident(c.Column)
		switch c.Op {
		case store.OpEq:
			q = q.Where("? = ?", col, c.Value)
		case store.OpNe:
			q = q.Where("? <> ?", col, c.Value)
		case store.OpIsNull:
			q = q.Where("? IS NULL", col)
		case store.OpNotNull:
			q = q.Where("? IS NOT NULL", col)
		case store.OpIn:
			if len(c.Values) == 0 {
				q = q.Where("1 = 0")
				continue
			}
			q = q.Where("? IN (?)", col, bun.In(c.Values))
		default:
			return fmt.Errorf("select %s: unsupported operator %q", table, c.Op)
		}
	}

	orderBy := filter.OrderBy
	if orderBy == "" {
		orderBy = store.KeyColumn
	}
	if filter.Descending {
		q = q.OrderExpr("? DESC", bun.Ident(orderBy))
	} else {
		q = q.OrderExpr("? ASC", bun.Ident(orderBy))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	if err := q.Scan(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return fmt.Errorf("select %s: %w", table, err)
	}
	return nil
}

// Insert implements store.Store.
func (r *Repository) Insert(ctx context.Context, table store.Table, row any) error {
	ctx, span := repoTracer.Start(ctx, "Repository.Insert", trace.WithAttributes(attribute.String("db.table", string(table))))
	defer span.End()

	typ, err := modelType(table)
	if err != nil {
		return err
	}
	rv := reflect.ValueOf(row)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Type() != typ {
		return fmt.Errorf("insert %s: row must be *%s, got %T", table, typ, row)
	}
	if created := rv.Elem().FieldByName("CreatedAt"); created.IsValid() && created.CanSet() {
		if t, ok := created.Interface().(time.Time); ok && t.IsZero() {
			created.Set(reflect.ValueOf(time.Now().UTC()))
		}
	}

	if _, err := r.writer.NewInsert().Model(row).Exec(ctx); err != nil {
		span.RecordError(err)
		if isUniqueViolation(err) {
			span.SetStatus(codes.Error, "unique violation")
			return fmt.Errorf("insert %s: %w", table, errors.Join(store.ErrConflict, err))
		}
		span.SetStatus(codes.Error, "insert failed")
		return fmt.Errorf("insert %s: %w", table, err)
	}

	key := rv.Elem().FieldByName("ID").Int()
	span.SetAttributes(attribute.Int64("db.key", key))
	r.feed.Publish(store.Change{Table: table, Kind: store.ChangeInsert, Key: key, Row: row, At: time.Now().UTC()})
	return nil
}

// Update implements store.Store.
func (r *Repository) Update(ctx context.Context, table store.Table, key int64, patch store.Patch) error {
	ctx, span := repoTracer.Start(ctx, "Repository.Update", trace.WithAttributes(
		attribute.String("db.table", string(table)),
		attribute.Int64("db.key", key),
	))
	defer span.End()

	typ, err := modelType(table)
	if err != nil {
		return err
	}
	if len(patch) == 0 {
		return nil
	}
	values := make(map[string]any, len(patch))
	for col, v := range patch {
		if col == store.KeyColumn {
			return fmt.Errorf("update %s %d: key column is immutable", table, key)
		}
		values[col] = v
	}
	cols := make([]string, 0, len(values))
	for col := range values {
		cols = append(cols, col)
	}
	if err := r.checkColumns(typ, cols...); err != nil {
		return fmt.Errorf("update %s %d: %w", table, key, err)
	}

	res, err := r.writer.NewUpdate().
		Model(&values).
		TableExpr("?", bun.Ident(string(table))).
		Where("? = ?", bun.Ident(store.KeyColumn), key).
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		if isUniqueViolation(err) {
			span.SetStatus(codes.Error, "unique violation")
			return fmt.Errorf("update %s %d: %w", table, key, errors.Join(store.ErrConflict, err))
		}
		span.SetStatus(codes.Error, "update failed")
		return fmt.Errorf("update %s %d: %w", table, key, err)
	}

	// mysql reports zero affected rows when the values are unchanged
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		exists, err := r.writer.NewSelect().
			TableExpr("?", bun.Ident(string(table))).
			Where("? = ?", bun.Ident(store.KeyColumn), key).
			Exists(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "existence check failed")
			return fmt.Errorf("update %s %d: %w", table, key, err)
		}
		if !exists {
			span.SetStatus(codes.Error, "not found")
			return fmt.Errorf("update %s %d: %w", table, key, store.ErrNotFound)
		}
	}

	cp := make(store.Patch, len(patch))
	for k, v := range patch {
		cp[k] = v
	}
	r.feed.Publish(store.Change{Table: table, Kind: store.ChangeUpdate, Key: key, Patch: cp, At: time.Now().UTC()})
	return nil
}

// Subscribe implements store.Store. Only writes made through this process are
// observed.
func (r *Repository) Subscribe(table store.Table, fn func(store.Change), kinds ...store.ChangeKind) func() {
	return r.feed.Subscribe(table, fn, kinds...)
}

func (r *Repository) checkColumns(typ reflect.Type, cols ...string) error {
	fields := r.writer.Table(typ).FieldMap
	for _, col := range cols {
		if _, ok := fields[col]; !ok {
			return fmt.Errorf("unknown column %q", col)
		}
	}
	return nil
}

func modelType(table store.Table) (reflect.Type, error) {
	typ, ok := models[table]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	return typ, nil
}
