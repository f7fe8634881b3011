package failure

import (
	"github.com/steveyegge/pcd/internal/proctable"
	"github.com/steveyegge/pcd/internal/ruleset"
)

// terminator is the subset of *proctable.Table the engine needs to force
// a rule's process down before restarting it. Expressed as an interface so
// tests can supply a fake without spawning real processes.
type terminator interface {
	Stop(ruleID ruleset.RuleId, brutal bool, replyCookie any) error
}

// Engine is the failure-action engine (C5): invoked by the scheduler
// whenever a rule lands in NotCompleted or Failed, it runs exactly one of
// the four policies in spec §4.5.
type Engine struct {
	table    terminator
	tracker  *RestartTracker
	reboot   func(reason string)
	logger   func(format string, args ...interface{})
}

// New builds an Engine. reboot is invoked for the Reboot action — in the
// supervisor it signals the process itself to begin the shutdown sequence
// (spec §4.5: "Reboot... does not call out to an external reboot(8), it
// signals the supervisor's own shutdown path").
func New(table terminator, tracker *RestartTracker, reboot func(reason string), logger func(string, ...interface{})) *Engine {
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	return &Engine{table: table, tracker: tracker, reboot: reboot, logger: logger}
}

// Handle runs r's failure action. store is needed to resolve ExecRule's
// target and to re-activate a restarted rule.
func (e *Engine) Handle(r *ruleset.Rule, store *ruleset.Store) {
	switch r.FailureAction.Kind {
	case ruleset.FailureNone:
		e.logger("failure: rule %s entered %s with failure-action none", r.ID, r.State)
	case ruleset.FailureReboot:
		e.logger("failure: rule %s triggered reboot", r.ID)
		if e.reboot != nil {
			e.reboot("rule " + r.ID.String() + " failure-action reboot")
		}
	case ruleset.FailureRestart:
		e.restart(r)
	case ruleset.FailureExecRule:
		e.execRule(r, store)
	}
}

// restart force-kills r's process if still live and re-queues r for
// activation (spec §4.5: "Restart forces termination, then re-enqueues the
// same rule").
func (e *Engine) restart(r *ruleset.Rule) {
	if r.ProcessHandle != 0 {
		_ = e.table.Stop(r.ID, true, nil)
	}
	crashLooping := e.tracker != nil && e.tracker.RecordRestart(r.ID)
	if crashLooping {
		e.logger("failure: rule %s is crash-looping, restarting anyway", r.ID)
	}
	r.ProcessHandle = 0
	r.ClearOptionalParams()
	r.State = ruleset.Active
}

// execRule locates the FailureAction's target rule and restarts it,
// refusing if the target is currently active (spec §4.5: "ExecRule...
// refuses if the target rule is already active, else behaves as Restart
// on the target").
func (e *Engine) execRule(r *ruleset.Rule, store *ruleset.Store) {
	target, ok := store.Lookup(r.FailureAction.Target)
	if !ok {
		e.logger("failure: rule %s exec-rule target %s not found", r.ID, r.FailureAction.Target)
		return
	}
	if isActive(target.State) {
		e.logger("failure: rule %s exec-rule target %s already active, refusing", r.ID, target.ID)
		return
	}
	e.restart(target)
}

func isActive(s ruleset.RuleState) bool {
	switch s {
	case ruleset.Active, ruleset.StartCondWait, ruleset.EndCondWait:
		return true
	default:
		return false
	}
}

var _ terminator = (*proctable.Table)(nil)
