package submission

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/sead-project/clearinghouse-import/internal/schema"
)

// DataTableIndexSheet is the name of the historical per-table "new data"
// flag sheet. Its presence or absence must not affect downstream behavior —
// the pipeline only logs a note about it.
const DataTableIndexSheet = "data_table_index"

// Table is a mutable row sequence for a single schema table, the unit the
// policy engine rewrites in place.
type Table struct {
	Name string
	Rows []*Row
}

// Submission is the in-memory form of the workbook, keyed by schema-
// canonical table name.
type Submission struct {
	schema *schema.Schema
	tables map[string]*Table
	// sawDataTableIndex records whether the workbook carried the historical
	// data_table_index sheet, for the log note below.
	sawDataTableIndex bool
}

// WorkbookReader is the external collaborator: enumerate sheet names, parse
// a named sheet into rows. The core treats parse failures on individual
// sheets as "sheet absent" (see cherr.WorkbookSheetUnreadable).
type WorkbookReader interface {
	SheetNames() ([]string, error)
	Parse(sheetName string) (*Table, error)
}

// New constructs an empty Submission bound to schema s.
func New(s *schema.Schema) *Submission {
	return &Submission{schema: s, tables: make(map[string]*Table)}
}

// Load builds a Submission by parsing, for each schema table whose external
// sheet name is present in the workbook, that sheet under the table's
// canonical name. Sheets the schema doesn't map are logged and dropped.
// The data_table_index sheet, if present, is noted and ignored.
func Load(s *schema.Schema, reader WorkbookReader) (*Submission, error) {
	sub := New(s)

	sheetNames, err := reader.SheetNames()
	if err != nil {
		return nil, err
	}
	available := make(map[string]bool, len(sheetNames))
	for _, n := range sheetNames {
		available[n] = true
	}

	mapped := make(map[string]bool)
	for _, tableName := range s.TableNames() {
		t := s.TableByName(tableName)
		if !available[t.ExcelSheet] {
			continue
		}
		mapped[t.ExcelSheet] = true

		parsed, err := reader.Parse(t.ExcelSheet)
		if err != nil {
			log.Debug().Err(err).Str("sheet", t.ExcelSheet).Msg("sheet unreadable, treating as absent")
			continue
		}
		parsed.Name = tableName
		sub.tables[tableName] = parsed
	}

	if available[DataTableIndexSheet] {
		sub.sawDataTableIndex = true
		log.Info().Msg("data_table_index sheet found in workbook; ignored")
		mapped[DataTableIndexSheet] = true
	}

	var dropped []string
	for _, n := range sheetNames {
		if !mapped[n] {
			dropped = append(dropped, n)
		}
	}
	if len(dropped) > 0 {
		log.Info().Strs("sheets", dropped).Msg("ignored sheets not present in schema")
	}

	return sub, nil
}

// resolveName maps either a canonical table name or an external sheet alias
// to the canonical name, or returns "" if neither resolves.
func (s *Submission) resolveName(name string) string {
	if _, ok := s.tables[name]; ok {
		return name
	}
	for canonical := range s.tables {
		if tdesc := s.schema.TableByName(canonical); tdesc != nil && tdesc.ExcelSheet == name {
			return canonical
		}
	}
	return ""
}

// Contains reports whether name — canonical or alias — is present.
func (s *Submission) Contains(name string) bool {
	return s.resolveName(name) != ""
}

// Get returns the row sequence for name (canonical or alias), or nil.
func (s *Submission) Get(name string) *Table {
	canonical := s.resolveName(name)
	if canonical == "" {
		return nil
	}
	return s.tables[canonical]
}

// Set installs or replaces the row sequence for a canonical table name —
// used by policies that synthesize tables (AddIdentityMappingSystemIdToPublicId etc).
func (s *Submission) Set(tableName string, t *Table) {
	t.Name = tableName
	s.tables[tableName] = t
}

// Restrict drops every table not named in keep, leaving the submission with
// at most the given tables. A nil or empty keep is a no-op — the CLI's
// --table-names flag uses this to dispatch a subset of an otherwise fully
// loaded submission.
func (s *Submission) Restrict(keep []string) {
	if len(keep) == 0 {
		return
	}
	allowed := make(map[string]bool, len(keep))
	for _, name := range keep {
		allowed[s.resolveName(name)] = true
	}
	for name := range s.tables {
		if !allowed[name] {
			delete(s.tables, name)
		}
	}
}

// DataTableNames returns every canonical table name present in the submission.
func (s *Submission) DataTableNames() []string {
	names := make([]string, 0, len(s.tables))
	for n := range s.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// HasSystemID reports whether table is present and every row carries a
// system_id column (not necessarily non-null; HasSystemID only tests column
// presence).
func (s *Submission) HasSystemID(tableName string) bool {
	t := s.Get(tableName)
	if t == nil || len(t.Rows) == 0 {
		return t != nil
	}
	for _, r := range t.Rows {
		if _, ok := r.Get("system_id"); !ok {
			return false
		}
	}
	return true
}

// HasPKID reports whether table carries its schema PK column.
func (s *Submission) HasPKID(tableName string) bool {
	desc := s.schema.TableByName(tableName)
	t := s.Get(tableName)
	if desc == nil || t == nil || desc.PKName == "" {
		return false
	}
	for _, r := range t.Rows {
		if _, ok := r.Get(desc.PKName); ok {
			return true
		}
	}
	return len(t.Rows) == 0
}

// IsLookup reports whether tableName is flagged as a lookup table in the schema.
func (s *Submission) IsLookup(tableName string) bool {
	desc := s.schema.TableByName(tableName)
	return desc != nil && desc.IsLookup
}

// HasNewRows reports whether any row's PK cell is null ("new row").
func (s *Submission) HasNewRows(tableName string) bool {
	desc := s.schema.TableByName(tableName)
	t := s.Get(tableName)
	if desc == nil || t == nil || desc.PKName == "" {
		return false
	}
	for _, r := range t.Rows {
		if v, ok := r.Get(desc.PKName); !ok || v.IsNull() {
			return true
		}
	}
	return false
}

// ReferencedKeyset computes, for tableName, the union over every table that
// declares an FK to it via the PK-name convention, of the non-null values in
// that shared column. Referencing tables absent from the submission, or
// missing the column, contribute nothing — this is not an error (the
// specification engine reports the gap separately).
func (s *Submission) ReferencedKeyset(tableName string) map[int64]struct{} {
	keyset := make(map[int64]struct{})
	desc := s.schema.TableByName(tableName)
	if desc == nil || desc.PKName == "" {
		return keyset
	}
	for _, referer := range s.schema.References(tableName) {
		t := s.Get(referer)
		if t == nil {
			continue
		}
		for _, row := range t.Rows {
			v, ok := row.Get(desc.PKName)
			if !ok || v.IsNull() {
				continue
			}
			if id, ok := v.Int64(); ok {
				keyset[id] = struct{}{}
			}
		}
	}
	return keyset
}

// SawDataTableIndex reports whether the source workbook carried the legacy
// data_table_index sheet (logged only; never consumed by policy/specification).
func (s *Submission) SawDataTableIndex() bool { return s.sawDataTableIndex }

// Schema returns the bound Schema.
func (s *Submission) Schema() *schema.Schema { return s.schema }
