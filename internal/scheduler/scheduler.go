// Package scheduler implements the rule scheduler (C4): the tick-driven
// state machine that advances every rule through its lifecycle, spawning
// and reaping processes via the process table and invoking the
// failure-action engine on timeout or unexpected death.
package scheduler

import (
	"time"

	"github.com/steveyegge/pcd/internal/failure"
	"github.com/steveyegge/pcd/internal/proctable"
	"github.com/steveyegge/pcd/internal/ruleset"
)

// defaultProcessTick is the cadence at which the full process table is
// iterated for spawns and reaps, independent of the rule-evaluation tick
// (spec §4: "PROCESS_TICK" of 1500ms against a default 200ms rule tick).
const defaultProcessTick = 1500 * time.Millisecond

// Config configures a Scheduler.
type Config struct {
	TickPeriod  time.Duration // default 200ms, range 10-500ms
	ProcessTick time.Duration // default 1500ms
	TempDir     string        // $NAME file-based argv resolution (spec §4.3)
	MaxArgv     int           // per-rule argv byte cap; 0 = proctable's default
	Logger      func(format string, args ...interface{})
}

// Scheduler is the rule scheduler (C4): it composes the rule store (C2),
// the condition evaluators (C1, via Facts), the process table (C3), and
// the failure-action engine (C5).
type Scheduler struct {
	store   *ruleset.Store
	table   *proctable.Table
	failure *failure.Engine
	facts   ruleset.Facts

	tickPeriod  time.Duration
	processTick time.Duration
	tempDir     string
	maxArgv     int
	sinceProc   time.Duration
	forceProc   bool

	// lastExit caches the most recent exit code per rule, backing the
	// ExitStatus fact; rules keep no direct pointer to proctable state
	// (spec §9 design note).
	lastExit map[ruleset.RuleId]int

	// onProcessExit, if set, is invoked with every process-table post-mortem
	// after it has been folded into the owning rule, letting the control
	// plane fulfill a deferred TerminateProcessSync reply (spec §4.7.1).
	onProcessExit func(proctable.Event)

	logger func(string, ...interface{})
}

// OnProcessExit installs a hook invoked after each post-mortem event is
// dispatched to its owning rule.
func (s *Scheduler) OnProcessExit(fn func(proctable.Event)) {
	s.onProcessExit = fn
}

// Store returns the scheduler's rule store, for components (like the
// control plane) that need read access without owning the scheduler.
func (s *Scheduler) Store() *ruleset.Store { return s.store }

// New builds a Scheduler. facts supplies the world-state closures (C1
// inputs); the scheduler itself never queries the filesystem or IPC
// registry directly, keeping that wiring in the caller (the supervisor),
// per spec §2's component dependency graph.
func New(store *ruleset.Store, table *proctable.Table, eng *failure.Engine, facts ruleset.Facts, cfg Config) *Scheduler {
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = 200 * time.Millisecond
	}
	if cfg.ProcessTick <= 0 {
		cfg.ProcessTick = defaultProcessTick
	}
	if cfg.Logger == nil {
		cfg.Logger = func(string, ...interface{}) {}
	}
	s := &Scheduler{
		store:       store,
		table:       table,
		failure:     eng,
		facts:       facts,
		tickPeriod:  cfg.TickPeriod,
		processTick: cfg.ProcessTick,
		tempDir:     cfg.TempDir,
		maxArgv:     cfg.MaxArgv,
		logger:      cfg.Logger,
	}
	s.facts.ExitStatus = s.exitStatus
	return s
}

// exitStatus backs ruleset.Facts.ExitStatus: a rule's exit code is only
// known once its process has been reaped and dispatched, at which point it
// is cached on lastExit. Rules keep no direct pointer to proctable state
// (spec §9 design note), so the scheduler tracks this side table itself.
func (s *Scheduler) exitStatus(r *ruleset.Rule) (int, bool) {
	code, ok := s.lastExit[r.ID]
	return code, ok
}

// Start activates every Active-state rule in the store, arming their
// timers, matching the boot-time pass described in spec §4.2.
func (s *Scheduler) Start() {
	for _, r := range s.store.Activate() {
		s.logger("scheduler: activated rule %s", r.ID)
	}
}

// Tick runs one full scheduling pass: evaluate and advance every rule's
// state machine, then, at the configured cadence (or immediately if a
// transition is pending), perform a process-table pass to spawn new
// children and fold in post-mortem events (spec §2 "control flow per
// tick").
func (s *Scheduler) Tick() {
	s.store.Iterate(func(r *ruleset.Rule) {
		s.advance(r)
	})

	s.sinceProc += s.tickPeriod
	if s.sinceProc >= s.processTick || s.forceProc {
		s.processPass()
		s.sinceProc = 0
		s.forceProc = false
	}
}

// advance runs one rule through its per-tick state transition, per the
// lifecycle in spec §4.4: StartCondWait -> (spawn) -> EndCondWait ->
// Completed, with timeout paths into NotCompleted and unexpected-death
// paths into Failed, both of which hand off to the failure-action engine.
func (s *Scheduler) advance(r *ruleset.Rule) {
	switch r.State {
	case ruleset.Active:
		r.State = ruleset.StartCondWait
		r.ResetTimeout()
	case ruleset.StartCondWait:
		s.advanceStartCondWait(r)
	case ruleset.EndCondWait:
		s.advanceEndCondWait(r)
	case ruleset.Completed:
		s.advanceCompletedDaemonCheck(r)
	}
}

func (s *Scheduler) advanceStartCondWait(r *ruleset.Rule) {
	satisfied, notCompleted := r.EvaluateStart(s.facts, s.store)
	if notCompleted {
		s.transitionToNotCompleted(r)
		return
	}
	if !satisfied {
		if r.TickTimeout(s.tickPeriod) {
			s.transitionToNotCompleted(r)
		}
		return
	}

	if !r.IsPseudoRule() {
		h, err := s.table.Enqueue(proctable.SpawnSpec{
			RuleID:  r.ID,
			Command: r.Command,
			Params:  r.EffectiveParams(),
			Sched:   r.Sched,
			UID:     r.UID,
			TempDir: s.tempDir,
			MaxArgv: s.maxArgv,
		})
		if err != nil {
			s.logger("scheduler: enqueue spawn for rule %s failed: %v", r.ID, err)
			s.transitionToFailed(r)
			return
		}
		r.ProcessHandle = h
		s.forceProc = true
	}

	r.State = ruleset.EndCondWait
	r.ResetTimeout()
}

func (s *Scheduler) advanceEndCondWait(r *ruleset.Rule) {
	if r.EvaluateEnd(s.facts, s.tickPeriod) {
		r.State = ruleset.Completed
		return
	}
	if r.TickTimeout(s.tickPeriod) {
		s.transitionToNotCompleted(r)
	}
}

// advanceCompletedDaemonCheck watches a Completed daemon rule for an
// unexpected process death, which moves it to Failed rather than leaving
// it silently Completed (spec §4.4: "Completed is terminal unless a
// failure-action restarts it").
func (s *Scheduler) advanceCompletedDaemonCheck(r *ruleset.Rule) {
	if !r.Daemon || r.ProcessHandle == 0 {
		return
	}
	if _, alive := s.table.Lookup(r.ID); !alive {
		s.transitionToFailed(r)
	}
}

func (s *Scheduler) transitionToNotCompleted(r *ruleset.Rule) {
	r.State = ruleset.NotCompleted
	s.failure.Handle(r, s.store)
}

func (s *Scheduler) transitionToFailed(r *ruleset.Rule) {
	r.State = ruleset.Failed
	s.failure.Handle(r, s.store)
}

// processPass spawns any rules waiting in RunMe, advances process
// lifecycle countdowns, and dispatches reaped exits back onto their owning
// rules (spec §4.3).
func (s *Scheduler) processPass() {
	for _, spawnErr := range s.table.IterateStart() {
		s.logger("scheduler: spawn failed for rule %s: %v", spawnErr.RuleID, spawnErr.Err)
		if r, ok := s.store.Lookup(spawnErr.RuleID); ok {
			s.transitionToFailed(r)
		}
	}

	s.table.Tick()

	for _, ev := range s.table.DrainStopped(s.ruleInfo) {
		s.dispatchEvent(ev)
	}
}

// ruleInfo supplies proctable.classify the daemon flag and EndCondition's
// expected exit code for ruleID's rule, or the zero RuleInfo if the rule
// has since been removed from the store.
func (s *Scheduler) ruleInfo(id ruleset.RuleId) proctable.RuleInfo {
	r, ok := s.store.Lookup(id)
	if !ok {
		return proctable.RuleInfo{}
	}
	info := proctable.RuleInfo{Daemon: r.Daemon}
	if r.End.Kind == ruleset.EndExitStatus {
		info.HasExitCond = true
		info.ExitCode = r.End.ExitCode
	}
	return info
}

// dispatchEvent folds a process-table post-mortem into its owning rule,
// per the outcome classification of spec §4.3.1.
func (s *Scheduler) dispatchEvent(ev proctable.Event) {
	r, ok := s.store.Lookup(ev.RuleID)
	if !ok {
		return
	}
	if s.lastExit == nil {
		s.lastExit = make(map[ruleset.RuleId]int)
	}
	if ev.Disposition.Kind == proctable.DispositionExited {
		s.lastExit[ev.RuleID] = ev.Disposition.Code
	}
	r.ProcessHandle = 0

	switch ev.Outcome {
	case proctable.OutcomeUnexpected, proctable.OutcomeCrashed:
		s.transitionToFailed(r)
	}

	if s.onProcessExit != nil {
		s.onProcessExit(ev)
	}
}
