// Package workbook adapts a spreadsheet file into the submission model's
// WorkbookReader interface: it turns a file into a set of named
// row-sequences.
package workbook

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/sead-project/clearinghouse-import/internal/schema"
	"github.com/sead-project/clearinghouse-import/internal/submission"
)

// ExcelReader implements submission.WorkbookReader over an excelize
// workbook, typing each cell against the target schema's declared column
// type the way the policy engine's UpdateTypesBasedOnSchema later expects.
type ExcelReader struct {
	file   *excelize.File
	schema *schema.Schema
}

// Open reads path into memory and returns a ready ExcelReader.
func Open(path string, s *schema.Schema) (*ExcelReader, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	return &ExcelReader{file: f, schema: s}, nil
}

// Close releases the underlying workbook file handle.
func (r *ExcelReader) Close() error {
	return r.file.Close()
}

// SheetNames returns every sheet name in the workbook.
func (r *ExcelReader) SheetNames() ([]string, error) {
	return r.file.GetSheetList(), nil
}

// Parse reads sheetName into a submission.Table. The first row is the
// header (column names); subsequent rows are cells. Cell text is coerced
// against the schema column's declared data type when the sheet maps to a
// known table, in place of dataframe dtype inference.
func (r *ExcelReader) Parse(sheetName string) (*submission.Table, error) {
	rows, err := r.file.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheetName, err)
	}
	if len(rows) == 0 {
		return &submission.Table{Rows: nil}, nil
	}

	header := rows[0]
	tableDesc := r.tableDescForSheet(sheetName)

	out := &submission.Table{Rows: make([]*submission.Row, 0, len(rows)-1)}
	for _, cells := range rows[1:] {
		values := make(map[string]submission.Value, len(header))
		for i, colName := range header {
			colName = strings.TrimSpace(colName)
			if colName == "" {
				continue
			}
			var raw string
			if i < len(cells) {
				raw = cells[i]
			}
			values[colName] = coerce(raw, columnType(tableDesc, colName))
		}
		out.Rows = append(out.Rows, submission.NewRow(header, values))
	}
	return out, nil
}

func (r *ExcelReader) tableDescForSheet(sheetName string) *schema.Table {
	if r.schema == nil {
		return nil
	}
	for _, name := range r.schema.TableNames() {
		t := r.schema.TableByName(name)
		if t.ExcelSheet == sheetName {
			return t
		}
	}
	return nil
}

func columnType(t *schema.Table, column string) schema.DataType {
	if t == nil {
		return ""
	}
	if c, ok := t.Columns[column]; ok {
		return c.DataType
	}
	return ""
}

// coerce converts a raw cell string into a typed Value, following the
// schema's declared type where known; otherwise it guesses (int, then
// float, then leaves as string) the way pandas' dtype inference would.
func coerce(raw string, dt schema.DataType) submission.Value {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return submission.Null()
	}

	switch dt {
	case schema.TypeSmallint, schema.TypeInteger, schema.TypeBigint:
		if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return submission.Int(i)
		}
		return submission.String(trimmed)
	case schema.TypeNumeric:
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return submission.Float(f)
		}
		return submission.String(trimmed)
	case schema.TypeBoolean:
		if b, err := strconv.ParseBool(trimmed); err == nil {
			return submission.Bool(b)
		}
		return submission.String(trimmed)
	case schema.TypeText, schema.TypeCharacterVarying:
		return submission.String(trimmed)
	}

	if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return submission.Int(i)
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return submission.Float(f)
	}
	return submission.String(trimmed)
}

// Stat returns the input file's size in bytes.
func Stat(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
