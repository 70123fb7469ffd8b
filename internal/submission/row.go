package submission

// Row is an ordered mapping from column name to Value. Column order is
// preserved for deterministic re-serialization, but lookups are O(1) via
// the index map.
type Row struct {
	names  []string
	values map[string]Value
}

// NewRow builds a Row from column names in order, paired with values.
func NewRow(names []string, values map[string]Value) *Row {
	return &Row{names: append([]string(nil), names...), values: values}
}

// Get returns the value at column, and whether the column is present at all
// (distinct from the column being present but null).
func (r *Row) Get(column string) (Value, bool) {
	v, ok := r.values[column]
	return v, ok
}

// Set assigns column to value, appending it to the column order if new.
func (r *Row) Set(column string, value Value) {
	if _, ok := r.values[column]; !ok {
		r.names = append(r.names, column)
	}
	r.values[column] = value
}

// Delete removes column from the row entirely.
func (r *Row) Delete(column string) {
	if _, ok := r.values[column]; !ok {
		return
	}
	delete(r.values, column)
	for i, n := range r.names {
		if n == column {
			r.names = append(r.names[:i], r.names[i+1:]...)
			break
		}
	}
}

// Columns returns the row's column names in insertion order.
func (r *Row) Columns() []string {
	return append([]string(nil), r.names...)
}

// Clone returns a deep copy of the row.
func (r *Row) Clone() *Row {
	values := make(map[string]Value, len(r.values))
	for k, v := range r.values {
		values[k] = v
	}
	return &Row{names: append([]string(nil), r.names...), values: values}
}

// SystemID returns the row's system_id as an int64. ok is false if the
// column is absent, null, or non-integral — callers treat that as "invalid".
func (r *Row) SystemID() (int64, bool) {
	v, ok := r.Get("system_id")
	if !ok {
		return 0, false
	}
	return v.Int64()
}

// PublicID returns the row's value at pkName, the table's primary-key
// column. ok is false if the column is absent or its value is null.
func (r *Row) PublicID(pkName string) (int64, bool) {
	if pkName == "" {
		return 0, false
	}
	v, ok := r.Get(pkName)
	if !ok || v.IsNull() {
		return 0, false
	}
	return v.Int64()
}
