// Package cherr defines the typed error taxonomy used across the pipeline.
package cherr

import "fmt"

// SchemaLoadFailed indicates the schema model could not be built from the
// target store. Fatal; no retry is attempted within the core.
type SchemaLoadFailed struct {
	Cause error
}

func (e *SchemaLoadFailed) Error() string {
	return fmt.Sprintf("schema load failed: %v", e.Cause)
}

func (e *SchemaLoadFailed) Unwrap() error { return e.Cause }

// UnknownTable is raised by schema lookups and by the XML dispatcher against
// a table name absent from the schema. Programmer error; fatal.
type UnknownTable struct {
	Table string
}

func (e *UnknownTable) Error() string {
	return fmt.Sprintf("unknown table: %s", e.Table)
}

// UnknownColumn is raised by schema lookups against a column absent from
// the named table.
type UnknownColumn struct {
	Table  string
	Column string
}

func (e *UnknownColumn) Error() string {
	return fmt.Sprintf("unknown column: %s.%s", e.Table, e.Column)
}

// PolicyFailed wraps a failure raised by a policy's update pass. Fatal;
// aborts the pipeline with the offending policy id and root cause.
type PolicyFailed struct {
	ID    string
	Cause error
}

func (e *PolicyFailed) Error() string {
	return fmt.Sprintf("policy %q failed: %v", e.ID, e.Cause)
}

func (e *PolicyFailed) Unwrap() error { return e.Cause }

// SpecificationFailed is raised when the specification engine is configured
// to raise on unsatisfied submissions rather than report a verdict.
type SpecificationFailed struct {
	Messages []string
}

func (e *SpecificationFailed) Error() string {
	return fmt.Sprintf("specification failed with %d error(s): %v", len(e.Messages), e.Messages)
}

// DispatchFailed wraps a failure raised mid-stream by the XML dispatcher.
// Fatal; the orchestrator deletes the partial artifact.
type DispatchFailed struct {
	Table    string
	RowIndex int
	Cause    error
}

func (e *DispatchFailed) Error() string {
	return fmt.Sprintf("dispatch failed at table %s row %d: %v", e.Table, e.RowIndex, e.Cause)
}

func (e *DispatchFailed) Unwrap() error { return e.Cause }

// WorkbookSheetUnreadable is a per-sheet, non-fatal condition: the sheet is
// demoted to a log entry and treated as absent by the submission model.
type WorkbookSheetUnreadable struct {
	Sheet string
	Cause error
}

func (e *WorkbookSheetUnreadable) Error() string {
	return fmt.Sprintf("sheet %q unreadable: %v", e.Sheet, e.Cause)
}

func (e *WorkbookSheetUnreadable) Unwrap() error { return e.Cause }
