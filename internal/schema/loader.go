package schema

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sead-project/clearinghouse-import/internal/cherr"
)

// Loader loads the Schema from two well-known relational views: a table
// manifest and a column manifest, both served by the clearing_house schema
// on the target store.
type Loader struct {
	pool         *pgxpool.Pool
	ignorePatterns []string
	pkCache      PKCache
}

// NewLoader returns a Loader reading from pool, dropping any column whose
// name matches one of ignorePatterns (glob, e.g. "date_updated", "*_uuid").
func NewLoader(pool *pgxpool.Pool, ignorePatterns []string, pkCache PKCache) *Loader {
	return &Loader{pool: pool, ignorePatterns: ignorePatterns, pkCache: pkCache}
}

const tableManifestSQL = `
select table_name, pk_name, class_name, excel_sheet, is_lookup
from clearing_house.clearinghouse_import_tables
order by table_name
`

const columnManifestSQL = `
select table_name, column_name, xml_column_name, position, data_type,
       coalesce(numeric_precision, 0), coalesce(numeric_scale, 0),
       coalesce(character_maximum_length, 0), is_nullable, is_pk, is_fk,
       fk_table_name, fk_column_name, class_name
from clearing_house.clearinghouse_import_columns
order by table_name, position
`

// Load fetches the table manifest and column manifest and assembles them
// into a Schema in one call.
func (l *Loader) Load(ctx context.Context) (*Schema, error) {
	tables, err := l.loadTables(ctx)
	if err != nil {
		return nil, &cherr.SchemaLoadFailed{Cause: err}
	}
	columns, err := l.loadColumns(ctx)
	if err != nil {
		return nil, &cherr.SchemaLoadFailed{Cause: err}
	}
	s, err := New(tables, columns, l.pkCache)
	if err != nil {
		return nil, &cherr.SchemaLoadFailed{Cause: err}
	}
	return s, nil
}

func (l *Loader) loadTables(ctx context.Context) ([]*Table, error) {
	rows, err := l.pool.Query(ctx, tableManifestSQL)
	if err != nil {
		return nil, fmt.Errorf("query table manifest: %w", err)
	}
	defer rows.Close()

	var tables []*Table
	for rows.Next() {
		t := &Table{}
		var pkName, excelSheet *string
		if err := rows.Scan(&t.TableName, &pkName, &t.ClassName, &excelSheet, &t.IsLookup); err != nil {
			return nil, fmt.Errorf("scan table manifest row: %w", err)
		}
		if pkName != nil {
			t.PKName = *pkName
		}
		t.ExcelSheet = t.TableName
		if excelSheet != nil && *excelSheet != "" {
			t.ExcelSheet = *excelSheet
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func (l *Loader) loadColumns(ctx context.Context) ([]*Column, error) {
	rows, err := l.pool.Query(ctx, columnManifestSQL)
	if err != nil {
		return nil, fmt.Errorf("query column manifest: %w", err)
	}
	defer rows.Close()

	var columns []*Column
	for rows.Next() {
		c := &Column{}
		var fkTable, fkColumn *string
		var isNullable, isPK, isFK bool
		var dataType string
		if err := rows.Scan(
			&c.TableName, &c.ColumnName, &c.XMLColumnName, &c.Position, &dataType,
			&c.NumericPrecision, &c.NumericScale, &c.CharacterMaximumLength,
			&isNullable, &isPK, &isFK, &fkTable, &fkColumn, &c.ClassName,
		); err != nil {
			return nil, fmt.Errorf("scan column manifest row: %w", err)
		}
		c.DataType = DataType(dataType)
		c.IsNullable = isNullable
		c.IsPK = isPK
		c.IsFK = isFK
		if fkTable != nil {
			c.FKTableName = *fkTable
		}
		if fkColumn != nil {
			c.FKColumnName = *fkColumn
		}
		if c.XMLColumnName == "" {
			c.XMLColumnName = CamelCaseName(c.ColumnName)
		}
		if ignored(l.ignorePatterns, c.ColumnName) {
			continue
		}
		columns = append(columns, c)
	}
	return columns, rows.Err()
}

func ignored(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

// NewPool is a thin wrapper around pgxpool.New, kept here so callers don't
// need to reach into the pgxpool package directly for pool construction.
func NewPool(ctx context.Context, connString string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.HealthCheckPeriod = time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
