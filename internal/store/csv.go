package store

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CSVUploader is the --transfer-format csv alternative to the direct XML
// upload: it re-parses the dispatcher's own XML output into four flat
// relational tables (tables, columns, records, record values) and bulk
// loads each into a temp_submission_upload_* staging table via COPY,
// mirroring xml_to_csv.py's column-per-file layout without the
// pandas/sqlalchemy round trip.
type CSVUploader struct {
	pool      *pgxpool.Pool
	csvFolder string
}

// NewCSVUploader returns a CSVUploader writing intermediate CSVs under
// csvFolder before loading them.
func NewCSVUploader(pool *pgxpool.Pool, csvFolder string) *CSVUploader {
	return &CSVUploader{pool: pool, csvFolder: csvFolder}
}

type csvTableRow struct {
	tableType   string
	recordCount string
}

type csvColumnRow struct {
	tableType  string
	columnName string
	columnType string
}

type csvRecordRow struct {
	className string
	systemID  string
	publicID  string
}

type csvRecordValueRow struct {
	className  string
	systemID   string
	publicID   string
	columnName string
	columnType string
	fkSystemID string
	fkPublicID string
	value      string
}

// parsedXML holds the four relational views extracted from one XML document.
type parsedXML struct {
	tables       []csvTableRow
	columns      []csvColumnRow
	records      []csvRecordRow
	recordValues []csvRecordValueRow
}

// parseXML walks the sead-data-upload document exactly once, building all
// four views together (the original reparses the XML once per view; a
// single decoder pass does the same job without four file reads). Depth 1
// is the root, depth 2 is a table block, depth 3 is a record; fields nested
// inside a record are consumed entirely within decodeRecord.
func parseXML(r io.Reader) (*parsedXML, error) {
	dec := xml.NewDecoder(r)
	out := &parsedXML{}

	var currentTable string
	emittedColumnsFor := make(map[string]bool)
	level := 0

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode xml: %w", err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			level++
			switch level {
			case 2:
				currentTable = el.Name.Local
				out.tables = append(out.tables, csvTableRow{
					tableType:   currentTable,
					recordCount: attr(el, "length", "NULL"),
				})
			case 3:
				record, err := decodeRecord(dec, el, currentTable, &out.recordValues)
				if err != nil {
					return nil, err
				}
				level-- // decodeRecord already consumed the record's matching EndElement
				out.records = append(out.records, record)
				if !emittedColumnsFor[currentTable] && record.publicID == "NULL" {
					for _, rv := range lastRecordValues(out.recordValues, record) {
						out.columns = append(out.columns, csvColumnRow{
							tableType:  currentTable,
							columnName: rv.columnName,
							columnType: rv.columnType,
						})
					}
					emittedColumnsFor[currentTable] = true
				}
			}
		case xml.EndElement:
			level--
		}
	}
	return out, nil
}

func attr(el xml.StartElement, name, fallback string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return fallback
}

func lastRecordValues(all []csvRecordValueRow, rec csvRecordRow) []csvRecordValueRow {
	var out []csvRecordValueRow
	for _, rv := range all {
		if rv.className == rec.className && rv.systemID == rec.systemID {
			out = append(out, rv)
		}
	}
	return out
}

// decodeRecord consumes one <ClassName id="..." clonedId="...">...</ClassName>
// (or its self-closing clone form) and appends one recordValue per field.
func decodeRecord(dec *xml.Decoder, start xml.StartElement, tableType string, values *[]csvRecordValueRow) (csvRecordRow, error) {
	rec := csvRecordRow{
		className: start.Name.Local,
		systemID:  attr(start, "id", "NULL"),
		publicID:  attr(start, "clonedId", "NULL"),
	}

	for {
		tok, err := dec.Token()
		if err != nil {
			return rec, fmt.Errorf("decode record %s: %w", tableType, err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			fieldName := el.Name.Local
			fieldClass := attr(el, "class", "NULL")
			fkSystemID := attr(el, "id", "")
			fkPublicID := attr(el, "clonedId", "NULL")
			text, err := readCharData(dec)
			if err != nil {
				return rec, err
			}
			if fieldName == "clonedId" && text != "" && text != "NULL" {
				rec.publicID = text
			}
			*values = append(*values, csvRecordValueRow{
				className:  rec.className,
				systemID:   rec.systemID,
				publicID:   rec.publicID,
				columnName: fieldName,
				columnType: fieldClass,
				fkSystemID: nonEmpty(fkSystemID, "NULL"),
				fkPublicID: fkPublicID,
				value:      formatValue(text, fieldClass),
			})
		case xml.EndElement:
			if el.Name.Local == rec.className {
				return rec, nil
			}
		}
	}
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// readCharData collects character data up to the next element boundary,
// for self-closing field tags (no text) this returns "".
func readCharData(dec *xml.Decoder) (string, error) {
	var b strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.EndElement, xml.StartElement:
			// push back isn't available on xml.Decoder; callers only invoke
			// readCharData right after a StartElement with no nested children,
			// so an EndElement here ends the field and a StartElement can't occur.
			return b.String(), nil
		}
	}
}

// formatValue renders a field's text for the CSV load: strings pass through
// unquoted, and integer and FK class tokens are coerced through float first
// (XML sometimes carries "3.0" for an int).
func formatValue(value, class string) string {
	if value == "" || value == "NULL" {
		return ""
	}
	switch {
	case class == "java.lang.String":
		return value
	case class == "java.lang.Integer" || class == "java.lang.Long" || class == "java.lang.Short":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return strconv.FormatInt(int64(f), 10)
		}
		return value
	case strings.HasPrefix(class, "com.sead.database."):
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return strconv.FormatInt(int64(f), 10)
		}
		return value
	default:
		return value
	}
}

// Upload parses xmlPath, writes the four CSV views under u.csvFolder, and
// bulk-loads each into its temp_submission_upload_* staging table via COPY.
func (u *CSVUploader) Upload(ctx context.Context, xmlPath string, _ int64) error {
	f, err := os.Open(xmlPath)
	if err != nil {
		return fmt.Errorf("open xml %s: %w", xmlPath, err)
	}
	defer f.Close()

	parsed, err := parseXML(f)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(u.csvFolder, 0o755); err != nil {
		return fmt.Errorf("create csv folder %s: %w", u.csvFolder, err)
	}
	base := strings.TrimSuffix(filepath.Base(xmlPath), filepath.Ext(xmlPath))

	if err := u.loadTable(ctx, base, "tables", []string{"table_type", "record_count"}, tableRowsToRecords(parsed.tables)); err != nil {
		return err
	}
	if err := u.loadTable(ctx, base, "columns", []string{"table_type", "column_name", "column_type"}, columnRowsToRecords(parsed.columns)); err != nil {
		return err
	}
	if err := u.loadTable(ctx, base, "records", []string{"class_name", "system_id", "public_id"}, recordRowsToRecords(parsed.records)); err != nil {
		return err
	}
	if err := u.loadTable(ctx, base, "recordvalues", []string{
		"class_name", "system_id", "public_id", "column_name", "column_type", "fk_system_id", "fk_public_id", "column_value",
	}, recordValueRowsToRecords(parsed.recordValues)); err != nil {
		return err
	}
	return nil
}

func (u *CSVUploader) loadTable(ctx context.Context, base, kind string, columns []string, rows [][]string) error {
	csvPath := filepath.Join(u.csvFolder, fmt.Sprintf("%s_%ss.csv", base, kind))
	if err := writeCSV(csvPath, columns, rows); err != nil {
		return err
	}

	targetTable := "temp_submission_upload_" + kind
	if _, err := u.pool.Exec(ctx, fmt.Sprintf(
		`create temp table if not exists %s (%s)`,
		targetTable, columnsDDL(columns),
	)); err != nil {
		return fmt.Errorf("create staging table %s: %w", targetTable, err)
	}
	if _, err := u.pool.Exec(ctx, fmt.Sprintf("truncate %s", targetTable)); err != nil {
		return fmt.Errorf("truncate staging table %s: %w", targetTable, err)
	}

	conn, err := u.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection for %s: %w", targetTable, err)
	}
	defer conn.Release()

	source := pgx.CopyFromRows(stringsToAny(rows))
	if _, err := conn.Conn().CopyFrom(ctx, pgx.Identifier{targetTable}, columns, source); err != nil {
		return fmt.Errorf("copy into %s: %w", targetTable, err)
	}
	return nil
}

func columnsDDL(columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = c + " text"
	}
	return strings.Join(parts, ", ")
}

func stringsToAny(rows [][]string) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, row := range rows {
		conv := make([]interface{}, len(row))
		for j, v := range row {
			if v == "" {
				conv[j] = nil
			} else {
				conv[j] = v
			}
		}
		out[i] = conv
	}
	return out
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, strings.Join(header, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(f, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return nil
}

func tableRowsToRecords(rows []csvTableRow) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = []string{r.tableType, r.recordCount}
	}
	return out
}

func columnRowsToRecords(rows []csvColumnRow) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = []string{r.tableType, r.columnName, r.columnType}
	}
	return out
}

func recordRowsToRecords(rows []csvRecordRow) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = []string{r.className, r.systemID, r.publicID}
	}
	return out
}

func recordValueRowsToRecords(rows []csvRecordValueRow) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = []string{r.className, r.systemID, r.publicID, r.columnName, r.columnType, r.fkSystemID, r.fkPublicID, r.value}
	}
	return out
}
