// Package schema holds the target database's table and column manifests:
// the single source of truth for what every table and column is.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sead-project/clearinghouse-import/internal/cherr"
)

// DataType is the SQL data-type taxonomy. Values are the literal strings
// returned by information_schema/pg_catalog, used verbatim.
type DataType string

const (
	TypeSmallint                 DataType = "smallint"
	TypeInteger                  DataType = "integer"
	TypeBigint                   DataType = "bigint"
	TypeNumeric                  DataType = "numeric"
	TypeBoolean                  DataType = "boolean"
	TypeText                     DataType = "text"
	TypeCharacterVarying         DataType = "character varying"
	TypeDate                     DataType = "date"
	TypeTimestampWithoutTimeZone DataType = "timestamp without time zone"
	TypeTimestampWithTimeZone    DataType = "timestamp with time zone"
	TypeUUID                     DataType = "uuid"
	TypeNumrange                 DataType = "numrange"
	TypeInt4range                DataType = "int4range"
)

// Column is the immutable descriptor of a single table column.
type Column struct {
	TableName               string
	ColumnName               string
	XMLColumnName            string // camelCase form of ColumnName
	Position                 int    // ordinal position, 1-based
	DataType                 DataType
	NumericPrecision         int
	NumericScale             int
	CharacterMaximumLength   int
	IsNullable               bool
	IsPK                     bool
	IsFK                     bool
	FKTableName              string // present iff IsFK
	FKColumnName             string // present iff IsFK
	ClassName                string // dotted type token, e.g. com.sead.database.TblSites or java.lang.Integer
}

// Table is the immutable descriptor of a single schema table.
type Table struct {
	TableName   string
	PKName      string // nullable: "" means no PK column configured
	ClassName   string // PascalCase type token
	ExcelSheet  string // external sheet alias; defaults to TableName
	IsLookup    bool
	Columns     map[string]*Column // keyed by column name, insertion order tracked via ColumnOrder
	ColumnOrder []string           // column names in schema ordinal order
}

// OrderedColumns returns the table's columns in ordinal order.
func (t *Table) OrderedColumns() []*Column {
	cols := make([]*Column, 0, len(t.ColumnOrder))
	for _, name := range t.ColumnOrder {
		cols = append(cols, t.Columns[name])
	}
	return cols
}

// Schema is the mapping from table name to Table descriptor, plus the
// derived class-name view. Built once by Load, immutable thereafter; the
// class-indexed view is computed lazily on first use.
type Schema struct {
	byName       map[string]*Table
	byClass      map[string]*Table
	classBuilt   bool
	pkCache      PKCache
}

// New constructs a Schema from already-loaded table and column descriptors,
// joining each column onto its table and validating the PK-name convention.
func New(tables []*Table, columns []*Column, pkCache PKCache) (*Schema, error) {
	byName := make(map[string]*Table, len(tables))
	for _, t := range tables {
		t.Columns = make(map[string]*Column)
		t.ColumnOrder = nil
		byName[t.TableName] = t
	}
	for _, c := range columns {
		t, ok := byName[c.TableName]
		if !ok {
			return nil, fmt.Errorf("column %s.%s: %w", c.TableName, c.ColumnName, &cherr.UnknownTable{Table: c.TableName})
		}
		t.Columns[c.ColumnName] = c
		t.ColumnOrder = append(t.ColumnOrder, c.ColumnName)
	}
	for _, t := range byName {
		sort.Slice(t.ColumnOrder, func(i, j int) bool {
			return t.Columns[t.ColumnOrder[i]].Position < t.Columns[t.ColumnOrder[j]].Position
		})
		if t.PKName != "" {
			col, ok := t.Columns[t.PKName]
			if !ok || !col.IsPK {
				return nil, fmt.Errorf("table %s: configured pk_name %q is not a PK column", t.TableName, t.PKName)
			}
		}
	}
	return &Schema{byName: byName, pkCache: pkCache}, nil
}

func (s *Schema) byClassView() map[string]*Table {
	if !s.classBuilt {
		s.byClass = make(map[string]*Table, len(s.byName))
		for _, t := range s.byName {
			s.byClass[t.ClassName] = t
		}
		s.classBuilt = true
	}
	return s.byClass
}

// TableByName returns the table descriptor named by table name, or nil.
func (s *Schema) TableByName(name string) *Table {
	return s.byName[name]
}

// TableByClass returns the table descriptor whose class name matches, or nil.
func (s *Schema) TableByClass(class string) *Table {
	return s.byClassView()[class]
}

// Get resolves a name against either view, table name taking precedence
// over class name.
func (s *Schema) Get(name string) *Table {
	if t := s.TableByName(name); t != nil {
		return t
	}
	return s.TableByClass(name)
}

// IsFK reports whether column is a foreign key in table.
func (s *Schema) IsFK(table, column string) (bool, error) {
	col, err := s.column(table, column)
	if err != nil {
		return false, err
	}
	return col.IsFK, nil
}

// IsPK reports whether column is the primary key in table.
func (s *Schema) IsPK(table, column string) (bool, error) {
	col, err := s.column(table, column)
	if err != nil {
		return false, err
	}
	return col.IsPK, nil
}

func (s *Schema) column(table, column string) (*Column, error) {
	t := s.TableByName(table)
	if t == nil {
		return nil, &cherr.UnknownTable{Table: table}
	}
	c, ok := t.Columns[column]
	if !ok {
		return nil, &cherr.UnknownColumn{Table: table, Column: column}
	}
	return c, nil
}

// References returns the names of tables that declare a foreign-key column
// whose target table is table, sorted.
func (s *Schema) References(table string) []string {
	var refs []string
	for name, t := range s.byName {
		for _, c := range t.Columns {
			if c.IsFK && c.FKTableName == table {
				refs = append(refs, name)
				break
			}
		}
	}
	sort.Strings(refs)
	return refs
}

// LookupTables returns the tables flagged as lookup tables, sorted by name.
func (s *Schema) LookupTables() []*Table {
	var out []*Table
	for _, t := range s.byName {
		if t.IsLookup {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TableName < out[j].TableName })
	return out
}

// AliasedTables returns tables whose external sheet alias differs from the
// table name, sorted by table name.
func (s *Schema) AliasedTables() []*Table {
	var out []*Table
	for _, t := range s.byName {
		if t.ExcelSheet != "" && t.ExcelSheet != t.TableName {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TableName < out[j].TableName })
	return out
}

// TableNames returns every table name in the schema, sorted.
func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PrimaryKeys returns the set of PK values already present in table at the
// target store, fetched through the schema's PKCache (see pk_cache.go).
func (s *Schema) PrimaryKeys(table string) (map[int64]struct{}, error) {
	t := s.TableByName(table)
	if t == nil {
		return nil, &cherr.UnknownTable{Table: table}
	}
	if t.PKName == "" {
		return map[int64]struct{}{}, nil
	}
	return s.pkCache.PrimaryKeys(table, t.PKName)
}

// CamelCaseName converts a snake_case identifier to camelCase, matching the
// XML encoder's column-name convention (first word lower, rest capitalized).
func CamelCaseName(name string) string {
	parts := strings.Split(name, "_")
	if len(parts) == 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
