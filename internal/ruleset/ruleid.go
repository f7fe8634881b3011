// Package ruleset holds the rule data model (C2) and the pure condition
// evaluators (C1): the catalog of rules the scheduler advances, and the
// predicates that decide when a rule may move to its next state.
package ruleset

import "fmt"

// maxIdentLen bounds a RuleId component, mirroring the original's bounded
// ASCII identifier (pcd/include/ruleid.h).
const maxIdentLen = 64

// RuleId names a rule by its (group, rule) pair. Equality is exact;
// prefix matching is used only for template instantiation (Store.Lookup).
type RuleId struct {
	Group string
	Rule  string
}

// String renders the canonical "group_rule" form used in the rules file
// and in diagnostics.
func (id RuleId) String() string {
	return fmt.Sprintf("%s_%s", id.Group, id.Rule)
}

// Valid reports whether both components are non-empty and within the
// bounded identifier length.
func (id RuleId) Valid() bool {
	return id.Group != "" && id.Rule != "" &&
		len(id.Group) <= maxIdentLen && len(id.Rule) <= maxIdentLen
}
