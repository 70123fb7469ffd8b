// Package xmldispatch streams the repaired submission out as the
// sead-data-upload XML document the staging import expects, resolving
// local system_id foreign keys against each target table's public id as it
// goes.
package xmldispatch

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/sead-project/clearinghouse-import/internal/cherr"
	"github.com/sead-project/clearinghouse-import/internal/schema"
	"github.com/sead-project/clearinghouse-import/internal/submission"
)

const namespace = "com.sead.database."

// defaultIgnoreColumns names the columns the row-attribute loop skips,
// because they're emitted as fixed tags of their own (dateUpdated) rather
// than taken from submitted data.
var defaultIgnoreColumns = []string{"date_updated"}

// Writer streams a Submission to an io.Writer as sead-data-upload XML.
type Writer struct {
	out           io.Writer
	ignoreColumns []string
	indent        string
}

// New returns a Writer. A nil ignoreColumns uses the default ("date_updated").
func New(out io.Writer, ignoreColumns []string) *Writer {
	if ignoreColumns == nil {
		ignoreColumns = defaultIgnoreColumns
	}
	return &Writer{out: out, ignoreColumns: ignoreColumns, indent: "  "}
}

func (w *Writer) emit(indent int, format string, args ...interface{}) error {
	line := strings.Repeat(w.indent, indent) + fmt.Sprintf(format, args...) + "\n"
	_, err := io.WriteString(w.out, line)
	return err
}

func (w *Writer) ignored(column string) bool {
	for _, c := range w.ignoreColumns {
		if c == column {
			return true
		}
	}
	return false
}

// Dispatch writes the full document: the lookup pre-pass for schema tables
// absent from the submission but referenced by it, followed by the data
// tables actually present, each in deterministic sorted order.
func (w *Writer) Dispatch(s *schema.Schema, sub *submission.Submission) error {
	if err := w.emit(0, `<?xml version="1.0" ?>`); err != nil {
		return err
	}
	if err := w.emit(0, "<sead-data-upload>"); err != nil {
		return err
	}

	present := make(map[string]bool)
	for _, n := range sub.DataTableNames() {
		present[n] = true
	}
	var extra []string
	for _, n := range s.TableNames() {
		if !present[n] {
			extra = append(extra, n)
		}
	}
	sort.Strings(extra)

	if err := w.processLookups(s, sub, extra); err != nil {
		return err
	}
	if err := w.processData(s, sub, sub.DataTableNames()); err != nil {
		return err
	}

	return w.emit(0, "</sead-data-upload>")
}

// processLookups emits a length-tagged block of identity-mapped stub rows
// for each table in names whose referenced keyset is non-empty, i.e. a
// lookup table the submission never carried but that other tables FK into.
func (w *Writer) processLookups(s *schema.Schema, sub *submission.Submission, names []string) error {
	for _, name := range names {
		keyset := sub.ReferencedKeyset(name)
		if len(keyset) == 0 {
			continue
		}
		desc := s.TableByName(name)
		if desc == nil {
			continue
		}
		ids := sortedKeys(keyset)
		if err := w.emit(1, `<%s length="%d">`, desc.ClassName, len(ids)); err != nil {
			return err
		}
		for _, id := range ids {
			if err := w.emit(2, `<%s%s id="%d" clonedId="%d"/>`, namespace, desc.ClassName, id, id); err != nil {
				return err
			}
		}
		if err := w.emit(1, `</%s>`, desc.ClassName); err != nil {
			return err
		}
	}
	return nil
}

// processData emits the full rows of every table named, in the order given,
// followed by stub rows for any key other tables reference that never
// appeared as a system_id in this table's own rows.
func (w *Writer) processData(s *schema.Schema, sub *submission.Submission, names []string) error {
	for _, tableName := range names {
		if err := w.processTable(s, sub, tableName); err != nil {
			if df, ok := err.(*cherr.DispatchFailed); ok {
				df.Table = tableName
				return df
			}
			return &cherr.DispatchFailed{Table: tableName, Cause: err}
		}
	}
	return nil
}

func (w *Writer) processTable(s *schema.Schema, sub *submission.Submission, tableName string) error {
	desc := s.TableByName(tableName)
	if desc == nil {
		return &cherr.UnknownTable{Table: tableName}
	}
	t := sub.Get(tableName)
	if t == nil {
		return nil
	}
	tableNamespace := namespace + desc.ClassName

	referenced := sub.ReferencedKeyset(tableName)

	if err := w.emit(1, `<%s length="%d">`, desc.ClassName, len(t.Rows)); err != nil {
		return err
	}

	for rowIndex, row := range t.Rows {
		if err := w.emitRow(s, sub, desc, tableNamespace, row, referenced); err != nil {
			return &cherr.DispatchFailed{RowIndex: rowIndex, Cause: err}
		}
	}

	if len(referenced) > 0 {
		ids := sortedKeys(referenced)
		for _, id := range ids {
			if err := w.emit(2, `<%s id="%d" clonedId="%d"/>`, tableNamespace, id, id); err != nil {
				return err
			}
		}
	}

	return w.emit(1, `</%s>`, desc.ClassName)
}

func (w *Writer) emitRow(s *schema.Schema, sub *submission.Submission, desc *schema.Table, tableNamespace string, row *submission.Row, referenced map[int64]struct{}) error {
	publicID, hasPublicID := row.PublicID(desc.PKName)
	systemID, hasSystemID := row.SystemID()
	if !hasSystemID {
		if !hasPublicID {
			return nil
		}
		systemID = publicID
	}
	delete(referenced, systemID)

	// A negative public id is the placeholder SetPublicIdToNegativeSystemIdForNewLookups
	// assigns to new lookup rows; it must still encode as a new (long-form) row, not
	// a clone of an existing one.
	isClone := hasPublicID && publicID >= 0

	if isClone {
		return w.emit(2, `<%s id="%d" clonedId="%d"/>`, tableNamespace, systemID, publicID)
	}

	if err := w.emit(2, `<%s id="%d">`, tableNamespace, systemID); err != nil {
		return err
	}

	for _, col := range desc.OrderedColumns() {
		if w.ignored(col.ColumnName) {
			continue
		}
		if _, ok := row.Get(col.ColumnName); !ok && !col.IsFK {
			continue
		}
		if col.IsFK {
			if err := w.emitForeignKey(s, sub, desc, col, row, tableNamespace); err != nil {
				return err
			}
			continue
		}
		if err := w.emitAttribute(col, row, systemID, publicID, hasPublicID); err != nil {
			return err
		}
	}

	clonedID := "NULL"
	if isClone {
		clonedID = strconv.FormatInt(publicID, 10)
	}
	if err := w.emit(3, `<clonedId class="java.util.Integer">%s</clonedId>`, clonedID); err != nil {
		return err
	}
	if err := w.emit(3, `<dateUpdated class="java.util.Date"/>`); err != nil {
		return err
	}

	return w.emit(2, `</%s>`, tableNamespace)
}

func (w *Writer) emitAttribute(col *schema.Column, row *submission.Row, systemID, publicID int64, hasPublicID bool) error {
	camel := schema.CamelCaseName(col.ColumnName)

	if col.IsPK {
		id := systemID
		if hasPublicID {
			id = publicID
		}
		return w.emit(3, `<%s class="%s">%d</%s>`, camel, col.ClassName, id, camel)
	}

	v, ok := row.Get(col.ColumnName)
	if !ok || v.IsNull() {
		return w.emit(3, `<%s class="%s">NULL</%s>`, camel, col.ClassName, camel)
	}

	return w.emit(3, `<%s class="%s">%s</%s>`, camel, col.ClassName, escapeXML(v.Str()), camel)
}

func (w *Writer) emitForeignKey(s *schema.Schema, sub *submission.Submission, desc *schema.Table, col *schema.Column, row *submission.Row, _ string) error {
	camel := schema.CamelCaseName(col.ColumnName)
	fkDesc := s.TableByName(col.FKTableName)
	fkClass := col.FKTableName
	if fkDesc != nil {
		fkClass = fkDesc.ClassName
	}
	fkNamespace := namespace + fkClass

	v, ok := row.Get(col.ColumnName)
	if !ok || v.IsNull() {
		return w.emit(3, `<%s class="%s" id="NULL"/>`, camel, fkNamespace)
	}

	fkSystemID, ok := v.Int64()
	if !ok {
		return w.emit(3, `<%s class="%s" id="NULL"/>`, camel, fkNamespace)
	}

	fkTable := sub.Get(col.FKTableName)
	if fkTable == nil {
		return w.emit(3, `<%s class="%s" id="%d" clonedId="%d"/>`, camel, fkNamespace, fkSystemID, fkSystemID)
	}

	fkPublicID, found := resolvePublicID(fkTable, col.ColumnName, fkSystemID)
	if !found {
		return w.emit(3, `<%s class="%s" id="%d" clonedId="%d"/>`, camel, fkNamespace, fkSystemID, fkSystemID)
	}

	return w.emit(3, `<%s class="%s" id="%d" clonedId="%d"/>`, camel, fkNamespace, fkSystemID, fkPublicID)
}

// resolvePublicID finds the single row of fkTable whose system_id matches
// systemID and returns its value at pkColumn, mirroring the original's
// "unique match on system_id, else treat as unresolved" fallback.
func resolvePublicID(fkTable *submission.Table, pkColumn string, systemID int64) (int64, bool) {
	var match *submission.Row
	matches := 0
	for _, r := range fkTable.Rows {
		sid, ok := r.SystemID()
		if ok && sid == systemID {
			match = r
			matches++
		}
	}
	if matches != 1 {
		return 0, false
	}
	v, ok := match.Get(pkColumn)
	if !ok || v.IsNull() {
		return 0, false
	}
	return v.Int64()
}

func sortedKeys(m map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// escapeXML escapes only the three characters that would otherwise break
// well-formedness: &, <, >. Attribute text in this document never carries
// quotes, so '"' is left alone.
func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
