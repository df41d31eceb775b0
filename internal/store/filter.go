package store

// Op is a filter comparison operator.
type Op string

const (
	OpEq      Op = "eq"
	OpNe      Op = "ne"
	OpIsNull  Op = "is_null"
	OpNotNull Op = "not_null"
	OpIn      Op = "in"
)

// Condition compares a single column.
type Condition struct {
	Column string
	Op     Op
	Value  any
	Values []any
}

// Filter selects and orders rows. Conditions are AND-ed; rows are ordered by the
// key column ascending unless OrderBy is set.
type Filter struct {
	Conditions []Condition
	OrderBy    string
	Descending bool
	Limit      int
}

// Where starts a filter with an equality condition.
func Where(column string, value any) *Filter {
	return (&Filter{}).Eq(column, value)
}

// Eq adds column = value.
func (f *Filter) Eq(column string, value any) *Filter {
	f.Conditions = append(f.Conditions, Condition{Column: column, Op: OpEq, Value: value})
	return f
}

// Ne adds column <> value. Null columns never match.
func (f *Filter) Ne(column string, value any) *Filter {
	f.Conditions = append(f.Conditions, Condition{Column: column, Op: OpNe, Value: value})
	return f
}

// IsNull adds column IS NULL.
func (f *Filter) IsNull(column string) *Filter {
	f.Conditions = append(f.Conditions, Condition{Column: column, Op: OpIsNull})
	return f
}

// NotNull adds column IS NOT NULL.
func (f *Filter) NotNull(column string) *Filter {
	f.Conditions = append(f.Conditions, Condition{Column: column, Op: OpNotNull})
	return f
}

// In adds column IN (values...). An empty list matches nothing.
func (f *Filter) In(column string, values ...any) *Filter {
	f.Conditions = append(f.Conditions, Condition{Column: column, Op: OpIn, Values: values})
	return f
}

// Order sets the sort column and direction.
func (f *Filter) Order(column string, descending bool) *Filter {
	f.OrderBy = column
	f.Descending = descending
	return f
}

// Take caps the number of rows returned; n <= 0 means no limit.
func (f *Filter) Take(n int) *Filter {
	f.Limit = n
	return f
}

// Clone returns an independent copy of f.
func (f *Filter) Clone() *Filter {
	if f == nil {
		return &Filter{}
	}
	cp := *f
	cp.Conditions = append([]Condition(nil), f.Conditions...)
	return &cp
}

// Columns lists every column the filter references.
func (f *Filter) Columns() []string {
	if f == nil {
		return nil
	}
	cols := make([]string, 0, len(f.Conditions)+1)
	for _, c := range f.Conditions {
		cols = append(cols, c.Column)
	}
	if f.OrderBy != "" {
		cols = append(cols, f.OrderBy)
	}
	return cols
}
