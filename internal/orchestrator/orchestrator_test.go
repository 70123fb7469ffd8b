package orchestrator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/sead-project/clearinghouse-import/internal/metrics"
	"github.com/sead-project/clearinghouse-import/internal/policy"
	"github.com/sead-project/clearinghouse-import/internal/schema"
)

func buildOrchestratorSchema(t *testing.T) *schema.Schema {
	t.Helper()
	tables := []*schema.Table{
		{TableName: "tbl_sites", PKName: "site_id", ClassName: "TblSites", ExcelSheet: "tbl_sites", IsLookup: true},
	}
	columns := []*schema.Column{
		{TableName: "tbl_sites", ColumnName: "site_id", Position: 1, DataType: schema.TypeInteger, IsPK: true},
		{TableName: "tbl_sites", ColumnName: "site_name", Position: 2, DataType: schema.TypeText, IsNullable: true},
	}
	s, err := schema.New(tables, columns, nil)
	require.NoError(t, err)
	return s
}

func writeWorkbook(t *testing.T, dir string, rows [][]string) string {
	t.Helper()
	f := excelize.NewFile()
	sheet := "tbl_sites"
	idx, err := f.NewSheet(sheet)
	require.NoError(t, err)
	f.SetActiveSheet(idx)
	require.NoError(t, f.DeleteSheet("Sheet1"))

	for r, row := range rows {
		for c, val := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, cell, val))
		}
	}

	path := filepath.Join(dir, "submission.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestRunCheckOnlySucceedsWithoutProducingArtifact(t *testing.T) {
	s := buildOrchestratorSchema(t)
	dir := t.TempDir()
	input := writeWorkbook(t, dir, [][]string{
		{"site_id", "site_name"},
		{"1", "Site A"},
		{"2", "Site B"},
	})

	r := &Runner{Schema: s, Metrics: metrics.New()}
	opts := Options{
		InputPath:    input,
		OutputFolder: filepath.Join(dir, "out"),
		CheckOnly:    true,
		Policy:       policy.Config{},
	}

	err := r.Run(context.Background(), opts)
	require.NoError(t, err)

	entries, err := filepathGlob(opts.OutputFolder)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunSkipReturnsImmediately(t *testing.T) {
	s := buildOrchestratorSchema(t)
	r := &Runner{Schema: s}
	err := r.Run(context.Background(), Options{Skip: true})
	require.NoError(t, err)
}

func TestRunDispatchesArtifactWhenNotCheckOnly(t *testing.T) {
	s := buildOrchestratorSchema(t)
	dir := t.TempDir()
	input := writeWorkbook(t, dir, [][]string{
		{"site_id", "site_name"},
		{"1", "Site A"},
	})

	r := &Runner{Schema: s}
	outputFolder := filepath.Join(dir, "out")
	opts := Options{
		InputPath:    input,
		OutputFolder: outputFolder,
		Policy:       policy.Config{},
	}

	err := r.Run(context.Background(), opts)
	require.NoError(t, err)

	entries, err := filepathGlob(outputFolder)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0], "submission.xml")
}

func TestOptionsTargetPathHonorsTimestamp(t *testing.T) {
	o := Options{InputPath: "foo.xlsx", OutputFolder: "/tmp/out"}
	assert.Equal(t, "/tmp/out/foo.xml", o.targetPath())

	o.Timestamp = true
	assert.Contains(t, o.targetPath(), "/tmp/out/foo_")
}

func filepathGlob(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*"))
}
