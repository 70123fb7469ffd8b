package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleXML = `<?xml version="1.0" ?>
<sead-data-upload>
<TblSites length="2">
<com.sead.database.TblSites id="1" clonedId="101"/>
<com.sead.database.TblSites id="2">
<siteName class="java.lang.String">Alpha</siteName>
<siteId class="java.lang.Integer">2</siteId>
<clonedId class="java.util.Integer">NULL</clonedId>
<dateUpdated class="java.util.Date"/>
</com.sead.database.TblSites>
</TblSites>
</sead-data-upload>
`

func TestParseXMLSeparatesClonedAndNewRecords(t *testing.T) {
	parsed, err := parseXML(strings.NewReader(sampleXML))
	require.NoError(t, err)

	require.Len(t, parsed.tables, 1)
	assert.Equal(t, "TblSites", parsed.tables[0].tableType)
	assert.Equal(t, "2", parsed.tables[0].recordCount)

	require.Len(t, parsed.records, 2)
	assert.Equal(t, "101", parsed.records[0].publicID)
	assert.Equal(t, "NULL", parsed.records[1].publicID)

	// only the new (non-cloned) record contributes its field list as columns
	require.Len(t, parsed.columns, 3)
	names := []string{parsed.columns[0].columnName, parsed.columns[1].columnName, parsed.columns[2].columnName}
	assert.Contains(t, names, "siteName")
	assert.Contains(t, names, "siteId")
	assert.Contains(t, names, "clonedId")

	// the cloned record contributes no record values (no nested fields)
	clonedValues := 0
	newValues := 0
	for _, rv := range parsed.recordValues {
		if rv.systemID == "1" {
			clonedValues++
		}
		if rv.systemID == "2" {
			newValues++
		}
	}
	assert.Equal(t, 0, clonedValues)
	assert.Equal(t, 4, newValues)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "", formatValue("NULL", "java.lang.String"))
	assert.Equal(t, "Alpha", formatValue("Alpha", "java.lang.String"))
	assert.Equal(t, "2", formatValue("2.0", "java.lang.Integer"))
	assert.Equal(t, "101", formatValue("101.0", "com.sead.database.TblSites"))
}
