package xmldispatch

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sead-project/clearinghouse-import/internal/schema"
	"github.com/sead-project/clearinghouse-import/internal/submission"
)

func buildDispatchSchema(t *testing.T) *schema.Schema {
	t.Helper()
	tables := []*schema.Table{
		{TableName: "tbl_sites", PKName: "site_id", ClassName: "TblSites", ExcelSheet: "tbl_sites", IsLookup: true},
		{TableName: "tbl_samples", PKName: "sample_id", ClassName: "TblSamples", ExcelSheet: "tbl_samples", IsLookup: false},
	}
	columns := []*schema.Column{
		{TableName: "tbl_sites", ColumnName: "site_id", Position: 1, DataType: schema.TypeInteger, IsPK: true, ClassName: "java.lang.Integer"},
		{TableName: "tbl_sites", ColumnName: "site_name", Position: 2, DataType: schema.TypeText, IsNullable: true, ClassName: "java.lang.String"},
		{TableName: "tbl_samples", ColumnName: "sample_id", Position: 1, DataType: schema.TypeInteger, IsPK: true, ClassName: "java.lang.Integer"},
		{TableName: "tbl_samples", ColumnName: "site_id", Position: 2, DataType: schema.TypeInteger, IsFK: true, FKTableName: "tbl_sites", FKColumnName: "site_id", ClassName: "java.lang.Integer"},
	}
	s, err := schema.New(tables, columns, nil)
	require.NoError(t, err)
	return s
}

func dispatchRow(cols map[string]submission.Value) *submission.Row {
	names := make([]string, 0, len(cols))
	for n := range cols {
		names = append(names, n)
	}
	return submission.NewRow(names, cols)
}

func TestDispatchEmitsShortFormForClonedRow(t *testing.T) {
	s := buildDispatchSchema(t)
	sub := submission.New(s)
	sub.Set("tbl_sites", &submission.Table{Rows: []*submission.Row{
		dispatchRow(map[string]submission.Value{"system_id": submission.Int(1), "site_id": submission.Int(101)}),
	}})

	var buf bytes.Buffer
	w := New(&buf, nil)
	require.NoError(t, w.Dispatch(s, sub))

	out := buf.String()
	assert.Contains(t, out, `<com.sead.database.TblSites id="1" clonedId="101"/>`)
}

func TestDispatchEmitsLongFormForNewRow(t *testing.T) {
	s := buildDispatchSchema(t)
	sub := submission.New(s)
	sub.Set("tbl_sites", &submission.Table{Rows: []*submission.Row{
		dispatchRow(map[string]submission.Value{"system_id": submission.Int(2), "site_id": submission.Null(), "site_name": submission.String("Alpha")}),
	}})

	var buf bytes.Buffer
	w := New(&buf, nil)
	require.NoError(t, w.Dispatch(s, sub))

	out := buf.String()
	assert.Contains(t, out, `<com.sead.database.TblSites id="2">`)
	assert.Contains(t, out, `<siteName class="java.lang.String">Alpha</siteName>`)
	assert.Contains(t, out, `<clonedId class="java.util.Integer">NULL</clonedId>`)
	assert.Contains(t, out, `<dateUpdated class="java.util.Date"/>`)
}

func TestDispatchTreatsNegativePlaceholderAsLongForm(t *testing.T) {
	s := buildDispatchSchema(t)
	sub := submission.New(s)
	sub.Set("tbl_sites", &submission.Table{Rows: []*submission.Row{
		dispatchRow(map[string]submission.Value{"system_id": submission.Int(5), "site_id": submission.Int(-5), "site_name": submission.String("Beta")}),
	}})

	var buf bytes.Buffer
	w := New(&buf, nil)
	require.NoError(t, w.Dispatch(s, sub))

	out := buf.String()
	assert.Contains(t, out, `<com.sead.database.TblSites id="5">`)
	assert.Contains(t, out, `<siteId class="java.lang.Integer">-5</siteId>`)
	assert.Contains(t, out, `<clonedId class="java.util.Integer">NULL</clonedId>`)
	assert.NotContains(t, out, `clonedId="-5"`)
}

func TestDispatchResolvesForeignKeyAgainstOtherTable(t *testing.T) {
	s := buildDispatchSchema(t)
	sub := submission.New(s)
	sub.Set("tbl_sites", &submission.Table{Rows: []*submission.Row{
		dispatchRow(map[string]submission.Value{"system_id": submission.Int(1), "site_id": submission.Int(101)}),
	}})
	sub.Set("tbl_samples", &submission.Table{Rows: []*submission.Row{
		dispatchRow(map[string]submission.Value{"system_id": submission.Int(9), "sample_id": submission.Null(), "site_id": submission.Int(1)}),
	}})

	var buf bytes.Buffer
	w := New(&buf, nil)
	require.NoError(t, w.Dispatch(s, sub))

	out := buf.String()
	assert.Contains(t, out, `<siteId class="com.sead.database.TblSites" id="1" clonedId="101"/>`)
}

func TestDispatchForeignKeyFallsBackToSystemIdWhenTargetTableAbsent(t *testing.T) {
	s := buildDispatchSchema(t)
	sub := submission.New(s)
	sub.Set("tbl_samples", &submission.Table{Rows: []*submission.Row{
		dispatchRow(map[string]submission.Value{"system_id": submission.Int(9), "sample_id": submission.Null(), "site_id": submission.Int(1)}),
	}})

	var buf bytes.Buffer
	w := New(&buf, nil)
	require.NoError(t, w.Dispatch(s, sub))

	out := buf.String()
	assert.Contains(t, out, `<siteId class="com.sead.database.TblSites" id="1" clonedId="1"/>`)
}

func TestDispatchForeignKeyFallsBackToSystemIdWhenNoUniqueMatch(t *testing.T) {
	s := buildDispatchSchema(t)
	sub := submission.New(s)
	sub.Set("tbl_sites", &submission.Table{Rows: []*submission.Row{
		dispatchRow(map[string]submission.Value{"system_id": submission.Int(1), "site_id": submission.Int(101)}),
		dispatchRow(map[string]submission.Value{"system_id": submission.Int(1), "site_id": submission.Int(102)}),
	}})
	sub.Set("tbl_samples", &submission.Table{Rows: []*submission.Row{
		dispatchRow(map[string]submission.Value{"system_id": submission.Int(9), "sample_id": submission.Null(), "site_id": submission.Int(1)}),
	}})

	var buf bytes.Buffer
	w := New(&buf, nil)
	require.NoError(t, w.Dispatch(s, sub))

	out := buf.String()
	assert.Contains(t, out, `<siteId class="com.sead.database.TblSites" id="1" clonedId="1"/>`)
}

func TestDispatchEmitsLookupPrePassForAbsentReferencedTable(t *testing.T) {
	s := buildDispatchSchema(t)
	sub := submission.New(s)
	sub.Set("tbl_samples", &submission.Table{Rows: []*submission.Row{
		dispatchRow(map[string]submission.Value{"system_id": submission.Int(9), "sample_id": submission.Null(), "site_id": submission.Int(5)}),
	}})

	var buf bytes.Buffer
	w := New(&buf, nil)
	require.NoError(t, w.Dispatch(s, sub))

	out := buf.String()
	assert.True(t, strings.Contains(out, `<TblSites length="1">`))
	assert.Contains(t, out, `<com.sead.database.TblSites id="5" clonedId="5"/>`)
}

func TestEscapeXMLEscapesOnlyThreeCharacters(t *testing.T) {
	assert.Equal(t, "a &amp; b &lt;c&gt;", escapeXML(`a & b <c>`))
}
