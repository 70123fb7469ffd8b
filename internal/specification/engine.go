package specification

import (
	"github.com/rs/zerolog/log"

	"github.com/sead-project/clearinghouse-import/internal/schema"
	"github.com/sead-project/clearinghouse-import/internal/submission"
)

// Engine runs every check against every table of a submission and
// accumulates the result into a single de-duplicated Messages value.
type Engine struct {
	checks        []Check
	ignoreColumns []string
}

// NewEngine returns an Engine running the default check set, exempting any
// column matching an ignoreColumns glob pattern from the structural checks.
func NewEngine(ignoreColumns []string) *Engine {
	return &Engine{checks: DefaultChecks(), ignoreColumns: ignoreColumns}
}

// IsSatisfiedBy runs every check over every table present in sub and returns
// the accumulated, de-duplicated diagnostics plus whether the submission is
// satisfied (true when no error fired).
func (e *Engine) IsSatisfiedBy(s *schema.Schema, sub *submission.Submission) (*Messages, bool) {
	msgs := &Messages{}
	for _, table := range sub.DataTableNames() {
		for _, check := range e.checks {
			check(s, sub, table, e.ignoreColumns, msgs)
		}
	}
	msgs.Uniqify()
	for _, m := range msgs.Errors {
		log.Error().Msg(m)
	}
	for _, m := range msgs.Warnings {
		log.Warn().Msg(m)
	}
	for _, m := range msgs.Infos {
		log.Info().Msg(m)
	}
	return msgs, msgs.OK()
}
