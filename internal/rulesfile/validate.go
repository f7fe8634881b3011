package rulesfile

import (
	"fmt"
	"strings"

	"github.com/steveyegge/pcd/internal/ruleset"
)

// CheckReferences walks every RulesCompleted reference in store looking for
// dangling targets (a group_rule that was never defined) and cycles (a
// chain of RulesCompleted dependencies that loops back on itself). Neither
// condition stops the scheduler at runtime -- a dangling reference moves
// the dependent rule to NotCompleted when its start condition is first
// evaluated, and a cyclic one never all completes -- but both are
// almost certainly rules-file authoring mistakes, so this is offered as a
// `pcd validate` pre-flight rather than folded into Parse itself.
func CheckReferences(store *ruleset.Store) []error {
	deps := make(map[ruleset.RuleId][]ruleset.RuleId)
	store.Iterate(func(r *ruleset.Rule) {
		if r.Start.Kind == ruleset.StartRulesCompleted {
			deps[r.ID] = append([]ruleset.RuleId(nil), r.Start.RuleIDs...)
		}
	})

	var errs []error
	for id, targets := range deps {
		for _, t := range targets {
			if _, ok := store.Lookup(t); !ok {
				errs = append(errs, fmt.Errorf("rule %s: RULES_COMPLETED references undefined rule %s", id, t))
			}
		}
	}

	for id := range deps {
		if cycle := findCycle(id, deps, nil); cycle != "" {
			errs = append(errs, fmt.Errorf("rule %s: RULES_COMPLETED dependency cycle: %s", id, cycle))
		}
	}
	return errs
}

func findCycle(start ruleset.RuleId, deps map[ruleset.RuleId][]ruleset.RuleId, path []ruleset.RuleId) string {
	for _, p := range path {
		if p == start {
			return cyclePath(append(path, start))
		}
	}
	extended := make([]ruleset.RuleId, len(path)+1)
	copy(extended, path)
	extended[len(path)] = start
	for _, next := range deps[start] {
		if cycle := findCycle(next, deps, extended); cycle != "" {
			return cycle
		}
	}
	return ""
}

func cyclePath(path []ruleset.RuleId) string {
	parts := make([]string, len(path))
	for i, id := range path {
		parts[i] = id.String()
	}
	return strings.Join(parts, " -> ")
}
