// Package policy implements the ordered, idempotent mutation passes that
// repair common submission omissions before specification and dispatch.
package policy

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/sead-project/clearinghouse-import/internal/cherr"
	"github.com/sead-project/clearinghouse-import/internal/schema"
	"github.com/sead-project/clearinghouse-import/internal/submission"
)

// Policy is a single named, ordered, optionally disabled repair pass. Each
// concrete policy is a small struct implementing this one-method interface,
// not a class discovered at runtime by a plugin registry.
type Policy interface {
	// ID is the policy's stable string identifier (snake-case of its name).
	ID() string
	// Priority orders policies; lower runs first. Ties break on registration order.
	Priority() int
	// Update applies the repair in place. Returning an error aborts the pipeline.
	Update(s *schema.Schema, sub *submission.Submission) error
}

// entry pairs a Policy with its registration index, used to break priority ties.
type entry struct {
	policy Policy
	index  int
}

// Engine runs a fixed, ordered set of policies over a Submission, each
// policy at most once per run.
type Engine struct {
	entries  []entry
	disabled map[string]bool

	// OnApplied, if set, is called with each policy's id right after it runs
	// successfully — the orchestrator uses this to feed per-policy metrics.
	OnApplied func(id string)
}

// NewEngine returns an Engine running policies in priority order (lower
// first, ties broken by registration order), with any policy whose ID
// appears in disabledIDs skipped.
func NewEngine(policies []Policy, disabledIDs []string) *Engine {
	disabled := make(map[string]bool, len(disabledIDs))
	for _, id := range disabledIDs {
		disabled[id] = true
	}
	entries := make([]entry, len(policies))
	for i, p := range policies {
		entries[i] = entry{policy: p, index: i}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].policy.Priority() < entries[j].policy.Priority()
	})
	return &Engine{entries: entries, disabled: disabled}
}

// Run executes every non-disabled policy in priority order, recording a
// per-policy log of touched tables. It aborts on the first error, wrapped
// as cherr.PolicyFailed with the offending policy id.
func (e *Engine) Run(s *schema.Schema, sub *submission.Submission) error {
	for _, ent := range e.entries {
		id := ent.policy.ID()
		if e.disabled[id] {
			log.Debug().Str("policy", id).Msg("policy disabled, skipping")
			continue
		}
		before := sub.DataTableNames()
		if err := ent.policy.Update(s, sub); err != nil {
			return &cherr.PolicyFailed{ID: id, Cause: err}
		}
		after := sub.DataTableNames()
		log.Info().Str("policy", id).Strs("tables_before", before).Strs("tables_after", after).Msg("policy applied")
		if e.OnApplied != nil {
			e.OnApplied(id)
		}
	}
	return nil
}

// DefaultPolicies returns the core repair policies in the order they should
// be registered (priority ties break on this order). cfg supplies the
// per-policy parameters: AddDefaultForeignKey values, AddIdentityMapping
// table list, and the ignore-column glob list.
func DefaultPolicies(cfg Config) []Policy {
	return []Policy{
		&AddPrimaryKeyColumnIfMissing{},
		&AddDefaultForeignKey{Entries: cfg.DefaultForeignKeys},
		&AddIdentityMappingSystemIdToPublicId{Tables: cfg.IdentityMappingTables},
		&UpdateTypesBasedOnSchema{},
		&SetPublicIdToNegativeSystemIdForNewLookups{},
		&IfSystemIdIsMissingSetSystemIdToPublicId{},
		&IfForeignKeyValueIsMissingAddIdentityMappingToForeignKeyTable{},
		&DropIgnoredColumns{Patterns: cfg.IgnoreColumns},
		&IfLookupWithNoNewDataThenKeepOnlySystemIdPublicId{},
	}
}

// Config carries the per-policy parameters sourced from the configuration
// layer: the FK defaults, identity-mapping table list, and ignore-column
// glob patterns.
type Config struct {
	// DefaultForeignKeys maps table name to the FK column/value AddDefaultForeignKey applies.
	DefaultForeignKeys map[string]ForeignKeyDefault
	// IdentityMappingTables lists tables AddIdentityMappingSystemIdToPublicId may synthesize.
	IdentityMappingTables []string
	// IgnoreColumns is the glob pattern list DropIgnoredColumns consults.
	IgnoreColumns []string
}

// ForeignKeyDefault names the FK column and default value AddDefaultForeignKey assigns.
type ForeignKeyDefault struct {
	FKName  string
	FKValue int64
}
