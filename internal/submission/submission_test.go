package submission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sead-project/clearinghouse-import/internal/schema"
)

func buildSchema(t *testing.T) *schema.Schema {
	t.Helper()
	tables := []*schema.Table{
		{TableName: "tbl_sites", PKName: "site_id", ClassName: "TblSites", ExcelSheet: "sites_sheet", IsLookup: false},
		{TableName: "tbl_samples", PKName: "sample_id", ClassName: "TblSamples", ExcelSheet: "tbl_samples", IsLookup: false},
	}
	columns := []*schema.Column{
		{TableName: "tbl_sites", ColumnName: "site_id", Position: 1, DataType: schema.TypeInteger, IsPK: true},
		{TableName: "tbl_sites", ColumnName: "site_name", Position: 2, DataType: schema.TypeText},
		{TableName: "tbl_samples", ColumnName: "sample_id", Position: 1, DataType: schema.TypeInteger, IsPK: true},
		{TableName: "tbl_samples", ColumnName: "site_id", Position: 2, DataType: schema.TypeInteger, IsFK: true, FKTableName: "tbl_sites", FKColumnName: "site_id"},
	}
	s, err := schema.New(tables, columns, nil)
	require.NoError(t, err)
	return s
}

func row(cols map[string]Value) *Row {
	names := make([]string, 0, len(cols))
	for n := range cols {
		names = append(names, n)
	}
	return NewRow(names, cols)
}

func TestRestrictDropsUnlistedTables(t *testing.T) {
	s := New(buildSchema(t))
	s.Set("tbl_sites", &Table{Rows: []*Row{row(map[string]Value{"system_id": Int(1), "site_id": Int(1)})}})
	s.Set("tbl_samples", &Table{Rows: []*Row{row(map[string]Value{"system_id": Int(1), "sample_id": Int(1)})}})

	s.Restrict([]string{"tbl_sites"})

	assert.Equal(t, []string{"tbl_sites"}, s.DataTableNames())
}

func TestRestrictAcceptsAliasNames(t *testing.T) {
	s := New(buildSchema(t))
	s.Set("tbl_sites", &Table{Rows: []*Row{row(map[string]Value{"system_id": Int(1), "site_id": Int(1)})}})
	s.Set("tbl_samples", &Table{Rows: []*Row{row(map[string]Value{"system_id": Int(1), "sample_id": Int(1)})}})

	s.Restrict([]string{"sites_sheet"})

	assert.Equal(t, []string{"tbl_sites"}, s.DataTableNames())
}

func TestRestrictWithNoNamesIsNoop(t *testing.T) {
	s := New(buildSchema(t))
	s.Set("tbl_sites", &Table{Rows: []*Row{row(map[string]Value{"system_id": Int(1), "site_id": Int(1)})}})

	s.Restrict(nil)

	assert.Equal(t, []string{"tbl_sites"}, s.DataTableNames())
}

func TestContainsByAliasAndCanonical(t *testing.T) {
	s := New(buildSchema(t))
	s.Set("tbl_sites", &Table{Rows: []*Row{row(map[string]Value{"system_id": Int(1), "site_id": Int(1)})}})

	assert.True(t, s.Contains("tbl_sites"))
	assert.True(t, s.Contains("sites_sheet"))
	assert.False(t, s.Contains("tbl_ghost"))
}

func TestReferencedKeyset(t *testing.T) {
	s := New(buildSchema(t))
	s.Set("tbl_samples", &Table{Rows: []*Row{
		row(map[string]Value{"system_id": Int(7), "sample_id": Null(), "site_id": Int(10)}),
		row(map[string]Value{"system_id": Int(8), "sample_id": Null(), "site_id": Int(11)}),
	}})

	keyset := s.ReferencedKeyset("tbl_sites")
	assert.Equal(t, map[int64]struct{}{10: {}, 11: {}}, keyset)
}

func TestReferencedKeysetSkipsAbsentReferencer(t *testing.T) {
	s := New(buildSchema(t))
	keyset := s.ReferencedKeyset("tbl_sites")
	assert.Empty(t, keyset)
}

func TestHasNewRows(t *testing.T) {
	s := New(buildSchema(t))
	s.Set("tbl_sites", &Table{Rows: []*Row{
		row(map[string]Value{"system_id": Int(1), "site_id": Null()}),
	}})
	assert.True(t, s.HasNewRows("tbl_sites"))

	s.Set("tbl_sites", &Table{Rows: []*Row{
		row(map[string]Value{"system_id": Int(1), "site_id": Int(1)}),
	}})
	assert.False(t, s.HasNewRows("tbl_sites"))
}

func TestRowPublicIDAndSystemID(t *testing.T) {
	r := row(map[string]Value{"system_id": Int(7), "site_id": Null()})

	sid, ok := r.SystemID()
	require.True(t, ok)
	assert.Equal(t, int64(7), sid)

	_, ok = r.PublicID("site_id")
	assert.False(t, ok)
}

func TestValueDTypeAndStr(t *testing.T) {
	assert.Equal(t, "int64", Int(3).DType())
	assert.Equal(t, "float64", Float(3.5).DType())
	assert.Equal(t, "object", String("x").DType())
	assert.Equal(t, "NULL", func() string {
		v := Null()
		if v.IsNull() {
			return "NULL"
		}
		return v.Str()
	}())
}
