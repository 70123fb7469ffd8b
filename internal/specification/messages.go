// Package specification runs read-only structural and semantic checks over
// an already-repaired submission, each check appending to one of three
// severity buckets rather than mutating anything.
package specification

import "sort"

// Messages accumulates diagnostics across every check and every table,
// grouped by severity. Checks never see each other's output directly; they
// only append.
type Messages struct {
	Errors   []string
	Warnings []string
	Infos    []string
}

func (m *Messages) error(msg string) { m.Errors = append(m.Errors, msg) }
func (m *Messages) warn(msg string)  { m.Warnings = append(m.Warnings, msg) }
func (m *Messages) info(msg string)  { m.Infos = append(m.Infos, msg) }

// Uniqify sorts and de-duplicates every bucket, so a check that fires once
// per row doesn't flood the report with repeated identical lines.
func (m *Messages) Uniqify() {
	m.Errors = sortUnique(m.Errors)
	m.Warnings = sortUnique(m.Warnings)
	m.Infos = sortUnique(m.Infos)
}

// OK reports whether the accumulated messages contain no errors.
func (m *Messages) OK() bool { return len(m.Errors) == 0 }

func sortUnique(in []string) []string {
	if len(in) == 0 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
