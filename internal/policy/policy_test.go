package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sead-project/clearinghouse-import/internal/schema"
	"github.com/sead-project/clearinghouse-import/internal/submission"
)

func buildPolicyTestSchema(t *testing.T) *schema.Schema {
	t.Helper()
	tables := []*schema.Table{
		{TableName: "tbl_sites", PKName: "site_id", ClassName: "TblSites", ExcelSheet: "tbl_sites", IsLookup: true},
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

func row(cols map[string]submission.Value) *submission.Row {
	names := make([]string, 0, len(cols))
	for n := range cols {
		names = append(names, n)
	}
	return submission.NewRow(names, cols)
}

func TestEngineOrdersByPriorityThenRegistration(t *testing.T) {
	var order []string
	recording := func(id string, priority int) Policy {
		return &recordingPolicy{id: id, priority: priority, onUpdate: func() { order = append(order, id) }}
	}
	engine := NewEngine([]Policy{
		recording("b", 1),
		recording("a", 0),
		recording("c", 0),
	}, nil)

	s := buildPolicyTestSchema(t)
	sub := submission.New(s)
	require.NoError(t, engine.Run(s, sub))

	assert.Equal(t, []string{"a", "c", "b"}, order)
}

func TestEngineInvokesOnAppliedForEachSuccessfulPolicy(t *testing.T) {
	var applied []string
	engine := NewEngine([]Policy{
		&recordingPolicy{id: "a", priority: 0, onUpdate: func() {}},
		&recordingPolicy{id: "b", priority: 1, onUpdate: func() {}},
	}, []string{"b"})
	engine.OnApplied = func(id string) { applied = append(applied, id) }

	s := buildPolicyTestSchema(t)
	sub := submission.New(s)
	require.NoError(t, engine.Run(s, sub))

	assert.Equal(t, []string{"a"}, applied)
}

type recordingPolicy struct {
	id       string
	priority int
	onUpdate func()
}

func (p *recordingPolicy) ID() string   { return p.id }
func (p *recordingPolicy) Priority() int { return p.priority }
func (p *recordingPolicy) Update(*schema.Schema, *submission.Submission) error {
	p.onUpdate()
	return nil
}

func TestEngineSkipsDisabledPolicy(t *testing.T) {
	ran := false
	engine := NewEngine([]Policy{
		&recordingPolicy{id: "x", onUpdate: func() { ran = true }},
	}, []string{"x"})

	s := buildPolicyTestSchema(t)
	sub := submission.New(s)
	require.NoError(t, engine.Run(s, sub))
	assert.False(t, ran)
}

func TestAddPrimaryKeyColumnIfMissing(t *testing.T) {
	s := buildPolicyTestSchema(t)
	sub := submission.New(s)
	sub.Set("tbl_sites", &submission.Table{Rows: []*submission.Row{
		row(map[string]submission.Value{"system_id": submission.Int(1)}),
	}})

	p := &AddPrimaryKeyColumnIfMissing{}
	require.NoError(t, p.Update(s, sub))

	v, ok := sub.Get("tbl_sites").Rows[0].Get("site_id")
	require.True(t, ok)
	assert.True(t, v.IsNull())
}

func TestIfSystemIdIsMissingSetSystemIdToPublicId(t *testing.T) {
	s := buildPolicyTestSchema(t)
	sub := submission.New(s)
	sub.Set("tbl_sites", &submission.Table{Rows: []*submission.Row{
		row(map[string]submission.Value{"system_id": submission.Null(), "site_id": submission.Int(42)}),
	}})

	p := &IfSystemIdIsMissingSetSystemIdToPublicId{}
	require.NoError(t, p.Update(s, sub))

	sid, ok := sub.Get("tbl_sites").Rows[0].SystemID()
	require.True(t, ok)
	assert.Equal(t, int64(42), sid)
}

func TestSetPublicIdToNegativeSystemIdForNewLookups(t *testing.T) {
	s := buildPolicyTestSchema(t)
	sub := submission.New(s)
	sub.Set("tbl_sites", &submission.Table{Rows: []*submission.Row{
		row(map[string]submission.Value{"system_id": submission.Int(5), "site_id": submission.Null()}),
	}})

	p := &SetPublicIdToNegativeSystemIdForNewLookups{}
	require.NoError(t, p.Update(s, sub))

	v, ok := sub.Get("tbl_sites").Rows[0].Get("site_id")
	require.True(t, ok)
	id, ok := v.Int64()
	require.True(t, ok)
	assert.Equal(t, int64(-5), id)
}

func TestIfLookupWithNoNewDataThenKeepOnlySystemIdPublicId(t *testing.T) {
	s := buildPolicyTestSchema(t)
	sub := submission.New(s)
	sub.Set("tbl_sites", &submission.Table{Rows: []*submission.Row{
		row(map[string]submission.Value{"system_id": submission.Int(1), "site_id": submission.Int(1), "site_name": submission.String("A")}),
	}})

	p := &IfLookupWithNoNewDataThenKeepOnlySystemIdPublicId{}
	require.NoError(t, p.Update(s, sub))

	cols := sub.Get("tbl_sites").Rows[0].Columns()
	assert.ElementsMatch(t, []string{"system_id", "site_id"}, cols)
}

func TestIfLookupWithNoNewDataKeepsColumnsWhenNewRowsPresent(t *testing.T) {
	s := buildPolicyTestSchema(t)
	sub := submission.New(s)
	sub.Set("tbl_sites", &submission.Table{Rows: []*submission.Row{
		row(map[string]submission.Value{"system_id": submission.Int(1), "site_id": submission.Null(), "site_name": submission.String("A")}),
	}})

	p := &IfLookupWithNoNewDataThenKeepOnlySystemIdPublicId{}
	require.NoError(t, p.Update(s, sub))

	cols := sub.Get("tbl_sites").Rows[0].Columns()
	assert.Contains(t, cols, "site_name")
}

func TestPolicyEngineIdempotent(t *testing.T) {
	s := buildPolicyTestSchema(t)
	sub := submission.New(s)
	sub.Set("tbl_samples", &submission.Table{Rows: []*submission.Row{
		row(map[string]submission.Value{"system_id": submission.Int(7), "site_id": submission.Int(10)}),
	}})

	cfg := Config{}
	engine := NewEngine(DefaultPolicies(cfg), nil)
	require.NoError(t, engine.Run(s, sub))

	firstRun := snapshot(sub)

	require.NoError(t, engine.Run(s, sub))
	secondRun := snapshot(sub)

	assert.Equal(t, firstRun, secondRun)
}

func snapshot(sub *submission.Submission) map[string][]map[string]string {
	out := make(map[string][]map[string]string)
	for _, name := range sub.DataTableNames() {
		t := sub.Get(name)
		var rows []map[string]string
		for _, r := range t.Rows {
			m := make(map[string]string)
			for _, c := range r.Columns() {
				v, _ := r.Get(c)
				m[c] = v.Str()
			}
			rows = append(rows, m)
		}
		out[name] = rows
	}
	return out
}
