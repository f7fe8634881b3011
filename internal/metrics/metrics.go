// Package metrics exposes the supervisor's prometheus instrumentation.
// It is purely observational: nothing in scheduler, proctable, or control
// ever reads a metric back to make a decision.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/steveyegge/pcd/internal/ruleset"
)

// Registry bundles the supervisor's exported metrics. Create one with New
// and register it with a prometheus.Registerer at startup.
type Registry struct {
	RuleState   *prometheus.GaugeVec
	TickSeconds prometheus.Histogram
	ProcessPass prometheus.Histogram
	Spawns      prometheus.Counter
	SpawnErrors prometheus.Counter
	Restarts    prometheus.Counter
	CrashLoops  prometheus.Counter
}

// New builds a Registry with unregistered collectors.
func New() *Registry {
	return &Registry{
		RuleState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pcd",
			Name:      "rule_state",
			Help:      "1 for the rule's current state, 0 otherwise, labeled by group, rule, and state.",
		}, []string{"group", "rule", "state"}),
		TickSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pcd",
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent evaluating all rules in one scheduler tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		ProcessPass: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pcd",
			Name:      "process_pass_duration_seconds",
			Help:      "Wall time spent in one process-table pass (spawn, tick, drain).",
			Buckets:   prometheus.DefBuckets,
		}),
		Spawns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pcd",
			Name:      "process_spawns_total",
			Help:      "Total processes successfully spawned.",
		}),
		SpawnErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pcd",
			Name:      "process_spawn_errors_total",
			Help:      "Total spawn attempts that failed.",
		}),
		Restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pcd",
			Name:      "failure_restarts_total",
			Help:      "Total Restart/ExecRule failure-action invocations.",
		}),
		CrashLoops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pcd",
			Name:      "crash_loops_detected_total",
			Help:      "Total times a rule's restart tracker flagged a crash loop.",
		}),
	}
}

// MustRegister registers every collector in r with reg, panicking on a
// duplicate registration (mirrors prometheus.MustRegister's contract).
func (r *Registry) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(r.RuleState, r.TickSeconds, r.ProcessPass, r.Spawns, r.SpawnErrors, r.Restarts, r.CrashLoops)
}

// allStates lists every ruleset.RuleState so ObserveRuleStates can zero out
// states a rule isn't currently in (a GaugeVec otherwise keeps stale 1s
// around for a rule's previous state forever).
var allStates = []ruleset.RuleState{
	ruleset.Idle, ruleset.Active, ruleset.StartCondWait, ruleset.EndCondWait,
	ruleset.Completed, ruleset.NotCompleted, ruleset.Failed,
}

// ObserveRuleStates sets RuleState to 1 for each rule's current state and 0
// for every other state, so a Grafana panel can graph state occupancy over
// time without needing PromQL gymnastics.
func (r *Registry) ObserveRuleStates(store *ruleset.Store) {
	store.Iterate(func(rule *ruleset.Rule) {
		for _, s := range allStates {
			v := 0.0
			if rule.State == s {
				v = 1.0
			}
			r.RuleState.WithLabelValues(rule.ID.Group, rule.ID.Rule, s.String()).Set(v)
		}
	})
}
