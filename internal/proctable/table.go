package proctable

import (
	"context"
	"fmt"
	"sync"
	"syscall"

	"github.com/steveyegge/pcd/internal/ruleset"
)

// Default lifecycle timings (spec §4.3).
const (
	startWarmupTicks = 3 // Starting -> Running
	termGraceTicks   = 7 // TermMe -> KillMe escalation window
)

// Outcome is the post-mortem verdict the scheduler's failure engine and
// rule store act on, derived from a process's disposition per the dispatch
// table in spec §4.3.1.
type Outcome int

const (
	OutcomeNormal      Outcome = iota // expected exit, not self-inflicted
	OutcomeSignalledByUs              // we terminated or killed it ourselves
	OutcomeUnexpected                 // daemon rule's process died without our say-so
	OutcomeCrashed                    // failure action: stopped by a signal, or a non-daemon exit with the wrong code
)

// Event is one completed process's post-mortem, ready for the scheduler to
// dispatch against the owning rule.
type Event struct {
	Handle      uint64
	RuleID      ruleset.RuleId
	Disposition Disposition
	Outcome     Outcome
}

// SpawnErr is a failed spawn attempt, reported instead of an Event since no
// process table entry is created for a command that never started.
type SpawnErr struct {
	RuleID ruleset.RuleId
	Err    error
}

// Table is the process table (C3): tracks every spawned or spawning child,
// advances their lifecycle each tick, and surfaces exit dispositions.
type Table struct {
	mu         sync.Mutex
	procs      map[uint64]*Process
	byRule     map[ruleset.RuleId]uint64
	byPid      map[int]uint64
	nextHandle uint64
	logger     func(format string, args ...interface{})
}

// NewTable creates an empty process table. logger may be nil.
func NewTable(logger func(string, ...interface{})) *Table {
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	return &Table{
		procs:  make(map[uint64]*Process),
		byRule: make(map[ruleset.RuleId]uint64),
		byPid:  make(map[int]uint64),
		logger: logger,
	}
}

// Enqueue registers spec for spawning on the next IterateStart pass. It
// fails if ruleID already owns a live process (spec §3 invariant: "at most
// one live Process per Rule").
func (t *Table) Enqueue(spec SpawnSpec) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byRule[spec.RuleID]; exists {
		return 0, fmt.Errorf("rule %s already has a process", spec.RuleID)
	}

	t.nextHandle++
	h := t.nextHandle
	t.procs[h] = &Process{Handle: h, RuleID: spec.RuleID, State: RunMe, spec: spec}
	t.byRule[spec.RuleID] = h
	return h, nil
}

// IterateStart spawns every process currently in RunMe state, advancing
// successful spawns to Starting with the warm-up countdown armed. Failed
// spawns are removed from the table and reported via the returned errs
// slice so the caller can route them through the failure-action engine
// (spec §4.3: "a spawn failure is a post-mortem, not a transport error").
func (t *Table) IterateStart() (errs []SpawnErr) {
	t.mu.Lock()
	pending := make([]*Process, 0)
	for _, p := range t.procs {
		if p.State == RunMe {
			pending = append(pending, p)
		}
	}
	t.mu.Unlock()

	for _, p := range pending {
		pid, err := spawn(p.spec)
		t.mu.Lock()
		if err != nil {
			delete(t.procs, p.Handle)
			delete(t.byRule, p.RuleID)
			t.mu.Unlock()
			errs = append(errs, SpawnErr{RuleID: p.RuleID, Err: err})
			continue
		}
		p.Pid = pid
		p.State = Starting
		p.TicksRemaining = startWarmupTicks
		t.byPid[pid] = p.Handle
		t.mu.Unlock()
	}
	return errs
}

// Tick advances every process's countdown-driven transitions by one tick:
// Starting's warm-up expires into Running, and TermMe's grace window
// expires into KillMe, sending SIGKILL at that moment.
func (t *Table) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.procs {
		switch p.State {
		case Starting:
			p.TicksRemaining--
			if p.TicksRemaining <= 0 {
				p.State = Running
			}
		case TermMe:
			p.TicksRemaining--
			if p.TicksRemaining <= 0 {
				t.escalateLocked(p)
			}
		}
	}
}

func (t *Table) escalateLocked(p *Process) {
	p.State = KillMe
	p.SignalledByUs = true
	_ = syscall.Kill(p.Pid, syscall.SIGKILL)
	t.logger("proctable: escalating rule %s pid %d to SIGKILL after grace timeout", p.RuleID, p.Pid)
}

// Stop requests termination of ruleID's live process. brutal sends SIGKILL
// immediately (KillMe); otherwise SIGTERM is sent and the process is given
// termGraceTicks before automatic escalation (spec §4.3: TermMe/KillMe).
// replyCookie, if non-nil, is stored on the Process as ReplyCookie
// (visible through Lookup); the Event DrainStopped reports for the exit
// does not carry it.
func (t *Table) Stop(ruleID ruleset.RuleId, brutal bool, replyCookie any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.byRule[ruleID]
	if !ok {
		return fmt.Errorf("rule %s has no live process", ruleID)
	}
	p := t.procs[h]
	p.ReplyCookie = replyCookie
	p.SignalledByUs = true

	sig := syscall.SIGTERM
	if brutal {
		sig = syscall.SIGKILL
		p.State = KillMe
	} else {
		p.State = TermMe
		p.TicksRemaining = termGraceTicks
	}
	return syscall.Kill(p.Pid, sig)
}

// allowedSignals restricts SignalByRule to the two user signals the
// control plane is permitted to relay (spec §4.7.1: SignalProcess).
var allowedSignals = map[syscall.Signal]bool{
	syscall.SIGUSR1: true,
	syscall.SIGUSR2: true,
}

// SignalByRule delivers sig to ruleID's live process. Only SIGUSR1 and
// SIGUSR2 are permitted; anything else is rejected rather than silently
// dropped, so a misbehaving client sees its mistake.
func (t *Table) SignalByRule(ruleID ruleset.RuleId, sig syscall.Signal) error {
	if !allowedSignals[sig] {
		return fmt.Errorf("signal %v not permitted over the control plane", sig)
	}
	t.mu.Lock()
	h, ok := t.byRule[ruleID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("rule %s has no live process", ruleID)
	}
	pid := t.procs[h].Pid
	t.mu.Unlock()
	return syscall.Kill(pid, sig)
}

// ReapResult is what the SIGCHLD-driven reaper goroutine publishes for the
// tick loop to consume at a tick boundary (spec §5: "staged for
// tick-boundary publication, never applied off the supervisor's thread").
type ReapResult struct {
	Pid    int
	Status syscall.WaitStatus
}

// StartReaper launches a goroutine that collects terminated children via a
// non-blocking Wait4 loop woken by SIGCHLD, publishing results on the
// returned channel. It never touches the process table directly; ApplyReap
// must be called from the tick loop to fold results in (spec §5).
func StartReaper(ctx context.Context, sigchld <-chan struct{}) <-chan ReapResult {
	out := make(chan ReapResult, 32)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigchld:
				for {
					var ws syscall.WaitStatus
					pid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG, nil)
					if err != nil || pid <= 0 {
						break
					}
					select {
					case out <- ReapResult{Pid: pid, Status: ws}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out
}

// ApplyReap folds one reaper result into the table, moving the matching
// process to Stopping with its disposition recorded. Call only from the
// tick loop (spec §5).
func (t *Table) ApplyReap(pid int, ws syscall.WaitStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.byPid[pid]
	if !ok {
		return
	}
	p := t.procs[h]
	p.Disposition = dispositionFromWaitStatus(ws)
	p.State = Stopping
}

func dispositionFromWaitStatus(ws syscall.WaitStatus) Disposition {
	switch {
	case ws.Exited():
		return Disposition{Kind: DispositionExited, Code: ws.ExitStatus()}
	case ws.Signaled():
		return Disposition{Kind: DispositionSignalled, Sig: int(ws.Signal())}
	case ws.Stopped():
		return Disposition{Kind: DispositionStopped, Sig: int(ws.StopSignal())}
	default:
		return Disposition{Kind: DispositionNone}
	}
}

// RuleInfo is the slice of a rule's state the post-mortem dispatch table
// needs: whether it's a daemon, and the exit code its EndCondition expects
// (spec §4.3.1's "EndCondition = ExitStatus(k)?" column).
type RuleInfo struct {
	Daemon      bool
	HasExitCond bool
	ExitCode    int // meaningful only if HasExitCond
}

// DrainStopped removes every process in Stopping state, transitions it to
// Stopped, classifies its outcome per the post-mortem dispatch table (spec
// §4.3.1), and returns the resulting events for the scheduler to act on.
// infoOf supplies the owning rule's daemon flag and exit-code expectation.
func (t *Table) DrainStopped(infoOf func(ruleset.RuleId) RuleInfo) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	var events []Event
	for h, p := range t.procs {
		if p.State != Stopping {
			continue
		}
		p.State = Stopped
		events = append(events, Event{
			Handle:      h,
			RuleID:      p.RuleID,
			Disposition: p.Disposition,
			Outcome:     classify(p, infoOf(p.RuleID)),
		})
		delete(t.procs, h)
		delete(t.byRule, p.RuleID)
		delete(t.byPid, p.Pid)
	}
	return events
}

// classify implements the disposition/signalledByUs/daemon/exit-code
// dispatch table of spec §4.3.1. Stopped(s) takes a failure action
// unconditionally, even if we're the one who last signalled the process
// (we never stop one ourselves, so a STOP is always externally inflicted).
func classify(p *Process, info RuleInfo) Outcome {
	if p.Disposition.Kind == DispositionStopped {
		return OutcomeCrashed
	}
	if p.SignalledByUs {
		return OutcomeSignalledByUs
	}
	switch p.Disposition.Kind {
	case DispositionSignalled:
		if info.Daemon {
			return OutcomeUnexpected
		}
		return OutcomeNormal
	case DispositionExited:
		if info.Daemon {
			return OutcomeUnexpected
		}
		if info.HasExitCond {
			if p.Disposition.Code == info.ExitCode {
				return OutcomeNormal
			}
			return OutcomeCrashed
		}
		if p.Disposition.Code != 0 {
			return OutcomeCrashed
		}
		return OutcomeNormal
	default:
		return OutcomeNormal
	}
}

// LookupByPid returns the RuleId owning the live process with the given
// pid, if any. Used by the control plane to resolve a ProcessReady RPC,
// which carries only the caller's own pid (spec §6.2, §4.7.1) since a
// supervised process has no notion of its own RuleId.
func (t *Table) LookupByPid(pid int) (ruleset.RuleId, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byPid[pid]
	if !ok {
		return ruleset.RuleId{}, false
	}
	return t.procs[h].RuleID, true
}

// Lookup returns the live process for ruleID, if any.
func (t *Table) Lookup(ruleID ruleset.RuleId) (*Process, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byRule[ruleID]
	if !ok {
		return nil, false
	}
	p := *t.procs[h]
	return &p, true
}

// CleanupProc forcibly removes ruleID's table entry without signalling,
// used during supervisor shutdown once every child has already been
// confirmed reaped (spec §4.7.3).
func (t *Table) CleanupProc(ruleID ruleset.RuleId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byRule[ruleID]
	if !ok {
		return
	}
	p := t.procs[h]
	delete(t.procs, h)
	delete(t.byRule, ruleID)
	delete(t.byPid, p.Pid)
}
