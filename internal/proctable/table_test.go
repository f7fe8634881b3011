package proctable

import (
	"syscall"
	"testing"

	"github.com/steveyegge/pcd/internal/ruleset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueRejectsDuplicateRule(t *testing.T) {
	tbl := NewTable(nil)
	id := ruleset.RuleId{Group: "g", Rule: "r"}

	_, err := tbl.Enqueue(SpawnSpec{RuleID: id, Command: "/bin/true"})
	require.NoError(t, err)

	_, err = tbl.Enqueue(SpawnSpec{RuleID: id, Command: "/bin/true"})
	require.Error(t, err)
}

func TestStopUnknownRule(t *testing.T) {
	tbl := NewTable(nil)
	err := tbl.Stop(ruleset.RuleId{Group: "g", Rule: "missing"}, false, nil)
	assert.Error(t, err)
}

func TestSignalByRuleRejectsDisallowedSignal(t *testing.T) {
	tbl := NewTable(nil)
	err := tbl.SignalByRule(ruleset.RuleId{Group: "g", Rule: "r"}, syscall.SIGKILL)
	assert.Error(t, err)
}

func TestClassifyOutcomes(t *testing.T) {
	cases := []struct {
		name    string
		p       *Process
		info    RuleInfo
		outcome Outcome
	}{
		{"signalled by us wins first", &Process{SignalledByUs: true, Disposition: Disposition{Kind: DispositionSignalled}}, RuleInfo{Daemon: true}, OutcomeSignalledByUs},
		{"non-daemon signal death is not our problem", &Process{Disposition: Disposition{Kind: DispositionSignalled}}, RuleInfo{Daemon: false}, OutcomeNormal},
		{"daemon killed by a signal is unexpected", &Process{Disposition: Disposition{Kind: DispositionSignalled}}, RuleInfo{Daemon: true}, OutcomeUnexpected},
		{"daemon unexpected exit", &Process{Disposition: Disposition{Kind: DispositionExited, Code: 1}}, RuleInfo{Daemon: true}, OutcomeUnexpected},
		{"normal exit, no end condition", &Process{Disposition: Disposition{Kind: DispositionExited, Code: 0}}, RuleInfo{Daemon: false}, OutcomeNormal},
		{"nonzero exit, no end condition", &Process{Disposition: Disposition{Kind: DispositionExited, Code: 1}}, RuleInfo{Daemon: false}, OutcomeCrashed},
		{"exit code matches ExitStatus(k)", &Process{Disposition: Disposition{Kind: DispositionExited, Code: 2}}, RuleInfo{Daemon: false, HasExitCond: true, ExitCode: 2}, OutcomeNormal},
		{"exit code mismatches ExitStatus(k)", &Process{Disposition: Disposition{Kind: DispositionExited, Code: 3}}, RuleInfo{Daemon: false, HasExitCond: true, ExitCode: 2}, OutcomeCrashed},
		{"stopped is always a failure action, even signalled by us", &Process{SignalledByUs: true, Disposition: Disposition{Kind: DispositionStopped}}, RuleInfo{Daemon: false}, OutcomeCrashed},
		{"stopped non-daemon", &Process{Disposition: Disposition{Kind: DispositionStopped}}, RuleInfo{Daemon: false}, OutcomeCrashed},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.outcome, classify(c.p, c.info))
		})
	}
}

func TestDrainStoppedRemovesAndReportsEvents(t *testing.T) {
	tbl := NewTable(nil)
	id := ruleset.RuleId{Group: "g", Rule: "r"}

	h, err := tbl.Enqueue(SpawnSpec{RuleID: id, Command: "/bin/true"})
	require.NoError(t, err)

	tbl.mu.Lock()
	p := tbl.procs[h]
	p.Pid = 4242
	tbl.byPid[4242] = h
	p.State = Stopping
	p.Disposition = Disposition{Kind: DispositionExited, Code: 0}
	tbl.mu.Unlock()

	events := tbl.DrainStopped(func(ruleset.RuleId) RuleInfo { return RuleInfo{} })
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].RuleID)
	assert.Equal(t, OutcomeNormal, events[0].Outcome)

	_, ok := tbl.Lookup(id)
	assert.False(t, ok)
}

func TestTickEscalatesTermMeToKillMe(t *testing.T) {
	tbl := NewTable(nil)
	id := ruleset.RuleId{Group: "g", Rule: "r"}
	h, err := tbl.Enqueue(SpawnSpec{RuleID: id, Command: "/bin/true"})
	require.NoError(t, err)

	tbl.mu.Lock()
	p := tbl.procs[h]
	p.Pid = 999999 // unlikely to exist; escalation's Kill error is ignored
	p.State = TermMe
	p.TicksRemaining = 1
	tbl.mu.Unlock()

	tbl.Tick()

	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	assert.Equal(t, KillMe, tbl.procs[h].State)
}
