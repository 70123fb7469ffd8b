package specification

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sead-project/clearinghouse-import/internal/schema"
	"github.com/sead-project/clearinghouse-import/internal/submission"
)

// Check inspects one table of a submission and appends any findings to msgs.
// ignoreColumns is a glob pattern list naming columns exempt from the
// missing/extra/type checks.
type Check func(s *schema.Schema, sub *submission.Submission, table string, ignoreColumns []string, msgs *Messages)

// DefaultChecks returns the full set of structural and semantic checks, in
// the order they should run.
func DefaultChecks() []Check {
	return []Check{
		TableExists,
		ColumnTypes,
		NumericTypeSanity,
		HasPrimaryKey,
		HasSystemID,
		IDColumnHasConstraint,
		ForeignKeyHasValues,
		ForeignKeyTargetExists,
		NoMissingColumn,
		NonNullableHasValue,
	}
}

func isIgnored(column string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, column); ok {
			return true
		}
	}
	return false
}

// columnsOf returns the union of every column name appearing in any row of
// t, since per-row column sets can differ once policies drop columns
// selectively.
func columnsOf(t *submission.Table) []string {
	seen := make(map[string]struct{})
	for _, r := range t.Rows {
		for _, c := range r.Columns() {
			seen[c] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func hasColumn(cols []string, name string) bool {
	for _, c := range cols {
		if c == name {
			return true
		}
	}
	return false
}

// TableExists requires that table is actually present in the submission.
func TableExists(_ *schema.Schema, sub *submission.Submission, table string, _ []string, msgs *Messages) {
	if !sub.Contains(table) {
		msgs.error(fmt.Sprintf("Table '%s' not defined as submission table", table))
	}
}

// ColumnTypes warns when a data column's runtime kind is not one the schema
// column's declared type is known to tolerate.
func ColumnTypes(s *schema.Schema, sub *submission.Submission, table string, ignoreColumns []string, msgs *Messages) {
	t := sub.Get(table)
	desc := s.TableByName(table)
	if t == nil || desc == nil || len(t.Rows) == 0 {
		return
	}
	dataCols := columnsOf(t)
	for _, col := range desc.OrderedColumns() {
		if isIgnored(col.ColumnName, ignoreColumns) || !hasColumn(dataCols, col.ColumnName) {
			continue
		}
		allNull := true
		var dtype string
		for _, r := range t.Rows {
			v, ok := r.Get(col.ColumnName)
			if !ok || v.IsNull() {
				continue
			}
			allNull = false
			dtype = v.DType()
			break
		}
		if allNull {
			continue
		}
		if !compatible(col.DataType, dtype) {
			msgs.warn(fmt.Sprintf("type clash: %s.%s %s<=>%s", table, col.ColumnName, col.DataType, dtype))
		}
	}
}

var numericColumnTypes = map[schema.DataType]bool{
	schema.TypeNumeric:  true,
	schema.TypeInteger:  true,
	schema.TypeSmallint: true,
	schema.TypeBigint:   true,
}

// NumericTypeSanity errors when a column the schema declares numeric holds a
// value that isn't actually numeric (e.g. a string cell that failed coercion).
func NumericTypeSanity(s *schema.Schema, sub *submission.Submission, table string, ignoreColumns []string, msgs *Messages) {
	t := sub.Get(table)
	desc := s.TableByName(table)
	if t == nil || desc == nil {
		return
	}
	dataCols := columnsOf(t)
	for _, col := range desc.OrderedColumns() {
		if !numericColumnTypes[col.DataType] || isIgnored(col.ColumnName, ignoreColumns) || !hasColumn(dataCols, col.ColumnName) {
			continue
		}
		var bad []string
		for _, r := range t.Rows {
			v, ok := r.Get(col.ColumnName)
			if !ok || v.IsNull() {
				continue
			}
			if _, ok := v.Float64(); !ok {
				bad = append(bad, v.Str())
			}
		}
		if len(bad) > 0 {
			joined := strings.Join(uniqueStrings(bad), " ")
			if len(joined) > 200 {
				joined = joined[:200]
			}
			msgs.error(fmt.Sprintf("Column '%s.%s' has non-numeric values: '%s'", table, col.ColumnName, joined))
		}
	}
}

// HasPrimaryKey requires both a configured PK column name present in the
// data and at least one schema column actually marked PK.
func HasPrimaryKey(s *schema.Schema, sub *submission.Submission, table string, _ []string, msgs *Messages) {
	t := sub.Get(table)
	desc := s.TableByName(table)
	if t == nil || desc == nil {
		return
	}
	dataCols := columnsOf(t)
	if !hasColumn(dataCols, desc.PKName) {
		msgs.error(fmt.Sprintf("Primary key column '%s.%s' (table metadata) not in data columns.", table, desc.PKName))
	}
	anyPK := false
	for _, c := range desc.Columns {
		if c.IsPK {
			anyPK = true
			break
		}
	}
	if !anyPK {
		msgs.error(fmt.Sprintf("Table '%s' has no column with PK constraint", table))
	}
}

// HasSystemID requires a non-null, non-duplicated system_id in every row.
func HasSystemID(_ *schema.Schema, sub *submission.Submission, table string, _ []string, msgs *Messages) {
	t := sub.Get(table)
	if t == nil {
		return
	}
	dataCols := columnsOf(t)
	if !hasColumn(dataCols, "system_id") {
		msgs.error(fmt.Sprintf("Table %s has no system id data column", table))
		return
	}
	seen := make(map[int64]int)
	hasNull := false
	for _, r := range t.Rows {
		v, ok := r.Get("system_id")
		if !ok || v.IsNull() {
			hasNull = true
			continue
		}
		if id, ok := v.Int64(); ok {
			seen[id]++
		}
	}
	if hasNull {
		msgs.error(fmt.Sprintf("Table %s has missing system id values", table))
	}
	var dupes []int64
	for id, count := range seen {
		if count > 1 {
			dupes = append(dupes, id)
		}
	}
	if len(dupes) > 0 {
		sort.Slice(dupes, func(i, j int) bool { return dupes[i] < dupes[j] })
		parts := make([]string, len(dupes))
		for i, id := range dupes {
			parts[i] = fmt.Sprintf("%d", id)
		}
		joined := strings.Join(parts, " ")
		if len(joined) > 200 {
			joined = joined[:200]
		}
		msgs.error(fmt.Sprintf("Table %s has DUPLICATE system ids: %s", table, joined))
	}
}

// IDColumnHasConstraint warns about columns named like a key (ending "_id")
// that the schema doesn't actually mark as PK or FK.
func IDColumnHasConstraint(s *schema.Schema, _ *submission.Submission, table string, ignoreColumns []string, msgs *Messages) {
	desc := s.TableByName(table)
	if desc == nil {
		return
	}
	for _, col := range desc.OrderedColumns() {
		if isIgnored(col.ColumnName, ignoreColumns) {
			continue
		}
		if strings.HasSuffix(col.ColumnName, "_id") && !col.IsFK && !col.IsPK {
			msgs.warn(fmt.Sprintf("Column %s.%s: ends with \"_id\" but NOT marked as PK/FK", table, col.ColumnName))
		}
	}
}

// ForeignKeyHasValues requires FK columns to be present and populated,
// skipping lookup tables that carry no new rows.
func ForeignKeyHasValues(s *schema.Schema, sub *submission.Submission, table string, ignoreColumns []string, msgs *Messages) {
	t := sub.Get(table)
	desc := s.TableByName(table)
	if t == nil || desc == nil || len(t.Rows) == 0 {
		return
	}
	if sub.IsLookup(table) && !sub.HasNewRows(table) {
		return
	}
	dataCols := columnsOf(t)
	for _, col := range desc.OrderedColumns() {
		if !col.IsFK || isIgnored(col.ColumnName, ignoreColumns) {
			continue
		}
		if !hasColumn(dataCols, col.ColumnName) {
			if !col.IsNullable {
				msgs.error(fmt.Sprintf("Foreign key column '%s.%s' not in data", table, col.ColumnName))
			} else {
				msgs.warn(fmt.Sprintf("Foreign key column '%s.%s' not in data (but is nullable)", table, col.ColumnName))
			}
			continue
		}
		hasNull, allNull := false, true
		for _, r := range t.Rows {
			v, ok := r.Get(col.ColumnName)
			if !ok || v.IsNull() {
				hasNull = true
				continue
			}
			allNull = false
		}
		if allNull && !col.IsNullable {
			msgs.error(fmt.Sprintf("Foreign key column '%s.%s' has no values", table, col.ColumnName))
		}
		if hasNull && !allNull && !col.IsNullable {
			msgs.error(fmt.Sprintf("Non-nullable foreign key column '%s.%s' has missing values", table, col.ColumnName))
		}
	}
}

// ForeignKeyTargetExists requires that every FK column's target table is
// itself present in the submission; an absent target only draws a warning
// when the FK column is nullable and carries no values.
func ForeignKeyTargetExists(s *schema.Schema, sub *submission.Submission, table string, ignoreColumns []string, msgs *Messages) {
	t := sub.Get(table)
	desc := s.TableByName(table)
	if t == nil || desc == nil || len(t.Rows) == 0 {
		return
	}
	if sub.IsLookup(table) && !sub.HasNewRows(table) {
		return
	}
	dataCols := columnsOf(t)
	for _, col := range desc.OrderedColumns() {
		if !col.IsFK || isIgnored(col.ColumnName, ignoreColumns) {
			continue
		}
		if !hasColumn(dataCols, col.ColumnName) {
			if col.IsNullable {
				msgs.warn(fmt.Sprintf("Foreign key column '%s.%s' not in data (but is nullable)", table, col.ColumnName))
			} else {
				msgs.error(fmt.Sprintf("Foreign key column '%s.%s' not in data", table, col.ColumnName))
			}
			continue
		}
		fkHasData := false
		for _, r := range t.Rows {
			if v, ok := r.Get(col.ColumnName); ok && !v.IsNull() {
				fkHasData = true
				break
			}
		}
		if sub.Contains(col.FKTableName) {
			continue
		}
		msg := fmt.Sprintf("Foreign key table '%s' referenced by '%s'", col.FKTableName, table)
		switch {
		case col.IsNullable && !fkHasData:
			msgs.warn(fmt.Sprintf("%s missing in data (but is nullable)", msg))
		case col.IsNullable:
			msgs.error(fmt.Sprintf("%s FK has values but target table not found in submission", msg))
		default:
			msgs.error(fmt.Sprintf("%s missing in data and NOT nullable", msg))
		}
	}
}

// NoMissingColumn requires every non-nullable schema column to be present in
// the data (error), warns about missing nullable columns, and warns about
// extra data columns the schema doesn't declare.
func NoMissingColumn(s *schema.Schema, sub *submission.Submission, table string, ignoreColumns []string, msgs *Messages) {
	desc := s.TableByName(table)
	if desc == nil {
		return
	}
	t := sub.Get(table)
	var dataCols []string
	if t != nil {
		dataCols = columnsOf(t)
	}

	if len(dataCols) == 2 && hasColumn(dataCols, "system_id") && hasColumn(dataCols, desc.PKName) {
		return
	}

	declared := make(map[string]bool)
	nullableDeclared := make(map[string]bool)
	for _, col := range desc.OrderedColumns() {
		if isIgnored(col.ColumnName, ignoreColumns) {
			continue
		}
		if col.IsNullable {
			nullableDeclared[col.ColumnName] = true
		} else {
			declared[col.ColumnName] = true
		}
	}

	var missing []string
	for name := range declared {
		if !hasColumn(dataCols, name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		msgs.error(fmt.Sprintf("Table %s has MISSING NON-NULLABLE data columns: %s", table, strings.Join(missing, ", ")))
	}

	var missingNullable []string
	for name := range nullableDeclared {
		if !hasColumn(dataCols, name) {
			missingNullable = append(missingNullable, name)
		}
	}
	if len(missingNullable) > 0 {
		sort.Strings(missingNullable)
		msgs.warn(fmt.Sprintf("Table %s has MISSING NULLABLE data columns: %s", table, strings.Join(missingNullable, ", ")))
	}

	var extra []string
	for _, name := range dataCols {
		if name == "system_id" || isIgnored(name, ignoreColumns) {
			continue
		}
		if !declared[name] && !nullableDeclared[name] {
			extra = append(extra, name)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		msgs.warn(fmt.Sprintf("Table %s has EXTRA data columns: %s", table, strings.Join(extra, ", ")))
	}
}

// NonNullableHasValue requires that data-only columns (excluding PK, FK,
// system_id) declared non-nullable actually carry a value in every row.
func NonNullableHasValue(s *schema.Schema, sub *submission.Submission, table string, ignoreColumns []string, msgs *Messages) {
	t := sub.Get(table)
	desc := s.TableByName(table)
	if t == nil || desc == nil {
		return
	}
	dataCols := columnsOf(t)
	for _, col := range desc.OrderedColumns() {
		if col.IsNullable || col.IsPK || col.IsFK || col.ColumnName == "system_id" {
			continue
		}
		if isIgnored(col.ColumnName, ignoreColumns) || !hasColumn(dataCols, col.ColumnName) {
			continue
		}
		for _, r := range t.Rows {
			if v, ok := r.Get(col.ColumnName); !ok || v.IsNull() {
				msgs.error(fmt.Sprintf("Table %s has NULL values in non-nullable column %s", table, col.ColumnName))
				break
			}
		}
	}
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
