package ruleset

import "time"

// StartCondKind enumerates the start-condition variants of spec §3.
type StartCondKind int

const (
	StartNone StartCondKind = iota
	StartFileExists
	StartRulesCompleted
	StartNetDeviceExists
	StartIpcOwnerPresent
	StartEnvVarEquals
)

// maxRulesCompleted bounds the RulesCompleted reference list (spec §3: "≤ 8").
const maxRulesCompleted = 8

// StartCondition is the tagged precondition a rule waits on before spawn.
type StartCondition struct {
	Kind StartCondKind

	Path   string // FileExists
	Ifname string // NetDeviceExists
	Owner  int    // IpcOwnerPresent

	EnvName  string // EnvVarEquals
	EnvValue string

	RuleIDs []RuleId // RulesCompleted, len <= maxRulesCompleted

	// resolved caches the first successful lookup per RuleIDs entry, per
	// spec §3 ("each entry carries a resolver cache slot"). nil until filled.
	resolved []*Rule
}

// NewRulesCompleted builds a RulesCompleted start condition, truncating
// silently to maxRulesCompleted entries (the rules-file front end is
// expected to reject longer lists before they reach the core).
func NewRulesCompleted(ids []RuleId) StartCondition {
	if len(ids) > maxRulesCompleted {
		ids = ids[:maxRulesCompleted]
	}
	return StartCondition{Kind: StartRulesCompleted, RuleIDs: ids}
}

// EndCondKind enumerates the end-condition (postcondition) variants.
type EndCondKind int

const (
	EndNone EndCondKind = iota
	EndFileExists
	EndExitStatus
	EndNetDeviceExists
	EndIpcOwnerPresent
	EndProcessReady
	EndWait
)

// EndCondition is the tagged postcondition that completes a rule.
type EndCondition struct {
	Kind EndCondKind

	Path       string // FileExists
	ExitCode   int    // ExitStatus
	Ifname     string // NetDeviceExists
	Owner      int    // IpcOwnerPresent
	ReloadMs   int    // Wait: reload value (spec §9: two explicit cells)
}

// Facts is the world-state snapshot the scheduler hands to condition
// evaluators each tick. Every field is a closure so ruleset never imports
// proctable or ipc directly — per spec §2, C1/C2 are leaves; only the
// scheduler (C4) is wired to every other component.
type Facts struct {
	FileExists      func(path string) bool
	NetDeviceExists func(ifname string) bool
	IpcOwnerPresent func(owner int) bool
	EnvVarEquals    func(name, value string) bool
	// ExitStatus reports the exit code of rule r's most recently reaped
	// process. ok is false until the process has been reaped.
	ExitStatus func(r *Rule) (code int, ok bool)
}

// EvaluateStart evaluates r's start condition against the given facts and
// store (needed to resolve RulesCompleted references). It returns
// (satisfied, notCompleted): notCompleted is true only when a
// RulesCompleted reference cannot be resolved at all, per spec §3/§4.1 —
// that is a permanent failure, not "not yet".
func (r *Rule) EvaluateStart(f Facts, store *Store) (satisfied, notCompleted bool) {
	switch r.Start.Kind {
	case StartNone:
		return true, false
	case StartFileExists:
		return f.FileExists(r.Start.Path), false
	case StartNetDeviceExists:
		return f.NetDeviceExists(r.Start.Ifname), false
	case StartIpcOwnerPresent:
		return f.IpcOwnerPresent(r.Start.Owner), false
	case StartEnvVarEquals:
		return f.EnvVarEquals(r.Start.EnvName, r.Start.EnvValue), false
	case StartRulesCompleted:
		return r.evaluateRulesCompleted(store)
	default:
		return false, false
	}
}

func (r *Rule) evaluateRulesCompleted(store *Store) (satisfied, notCompleted bool) {
	sc := &r.Start
	if sc.resolved == nil {
		sc.resolved = make([]*Rule, len(sc.RuleIDs))
	}
	for i, id := range sc.RuleIDs {
		if sc.resolved[i] == nil {
			dep, ok := store.Lookup(id)
			if !ok {
				return false, true
			}
			sc.resolved[i] = dep
		}
		if sc.resolved[i].State != Completed {
			return false, false
		}
	}
	return true, false
}

// EvaluateEnd evaluates r's end condition. tick is the scheduler's tick
// length, used to decrement Wait's countdown. The ProcessReady latch is
// cleared as a side effect of a true evaluation (spec §4.1: "one-shot").
func (r *Rule) EvaluateEnd(f Facts, tick time.Duration) bool {
	switch r.End.Kind {
	case EndNone:
		return true
	case EndFileExists:
		return f.FileExists(r.End.Path)
	case EndNetDeviceExists:
		return f.NetDeviceExists(r.End.Ifname)
	case EndIpcOwnerPresent:
		return f.IpcOwnerPresent(r.End.Owner)
	case EndExitStatus:
		code, ok := f.ExitStatus(r)
		return ok && code == r.End.ExitCode
	case EndProcessReady:
		if r.readyLatch {
			r.readyLatch = false
			return true
		}
		return false
	case EndWait:
		return r.tickWait(tick)
	default:
		return false
	}
}

// tickWait implements the Wait end-condition's two-cell countdown (spec
// §9): waitRemainingMs counts down by one tick each evaluation; when it
// underflows, it resets to EndCondition.ReloadMs and reports true.
func (r *Rule) tickWait(tick time.Duration) bool {
	ms := int(tick / time.Millisecond)
	r.waitRemainingMs -= ms
	if r.waitRemainingMs < ms {
		r.waitRemainingMs = r.End.ReloadMs
		return true
	}
	return false
}

// LatchReady sets the ProcessReady latch for r. Called by the control
// plane on receipt of a ProcessReady RPC (spec §4.7.1).
func (r *Rule) LatchReady() {
	r.readyLatch = true
}
