package cherr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaLoadFailedUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := &SchemaLoadFailed{Cause: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPolicyFailedCarriesID(t *testing.T) {
	cause := errors.New("boom")
	err := &PolicyFailed{ID: "add_primary_key_column_if_missing", Cause: cause}

	assert.Contains(t, err.Error(), "add_primary_key_column_if_missing")
	assert.ErrorIs(t, err, cause)
}

func TestDispatchFailedCarriesLocation(t *testing.T) {
	err := &DispatchFailed{Table: "tbl_samples", RowIndex: 3, Cause: errors.New("nil system_id")}

	assert.Contains(t, err.Error(), "tbl_samples")
	assert.Contains(t, err.Error(), "3")
}

func TestUnknownTableAndColumn(t *testing.T) {
	assert.Equal(t, "unknown table: tbl_ghost", (&UnknownTable{Table: "tbl_ghost"}).Error())
	assert.Equal(t, "unknown column: tbl_sites.site_ghost", (&UnknownColumn{Table: "tbl_sites", Column: "site_ghost"}).Error())
}

func TestSpecificationFailedListsMessages(t *testing.T) {
	err := &SpecificationFailed{Messages: []string{"duplicate system_id: 10"}}
	assert.Contains(t, err.Error(), "1 error")
	assert.Contains(t, err.Error(), "duplicate system_id: 10")
}

func TestWorkbookSheetUnreadableUnwraps(t *testing.T) {
	cause := errors.New("bad zip")
	err := &WorkbookSheetUnreadable{Sheet: "data_table_index", Cause: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "data_table_index")
}
