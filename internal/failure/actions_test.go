package failure

import (
	"testing"

	"github.com/steveyegge/pcd/internal/ruleset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTerminator struct {
	stopped []ruleset.RuleId
}

func (f *fakeTerminator) Stop(ruleID ruleset.RuleId, brutal bool, replyCookie any) error {
	f.stopped = append(f.stopped, ruleID)
	return nil
}

func TestHandleNoneIsANoop(t *testing.T) {
	term := &fakeTerminator{}
	eng := New(term, nil, nil, nil)
	store := ruleset.NewStore()
	r := &ruleset.Rule{ID: ruleset.RuleId{Group: "g", Rule: "r"}, State: ruleset.NotCompleted}

	eng.Handle(r, store)
	assert.Empty(t, term.stopped)
	assert.Equal(t, ruleset.NotCompleted, r.State)
}

func TestHandleRebootInvokesCallback(t *testing.T) {
	var reason string
	eng := New(&fakeTerminator{}, nil, func(r string) { reason = r }, nil)
	store := ruleset.NewStore()
	r := &ruleset.Rule{ID: ruleset.RuleId{Group: "g", Rule: "r"}, State: ruleset.Failed,
		FailureAction: ruleset.FailureAction{Kind: ruleset.FailureReboot}}

	eng.Handle(r, store)
	assert.Contains(t, reason, "g_r")
}

func TestHandleRestartStopsAndReactivates(t *testing.T) {
	term := &fakeTerminator{}
	eng := New(term, NewRestartTracker(t.TempDir()), nil, nil)
	store := ruleset.NewStore()
	r := &ruleset.Rule{
		ID:            ruleset.RuleId{Group: "g", Rule: "r"},
		State:         ruleset.NotCompleted,
		ProcessHandle: 7,
		FailureAction: ruleset.FailureAction{Kind: ruleset.FailureRestart},
	}

	eng.Handle(r, store)
	assert.Equal(t, []ruleset.RuleId{r.ID}, term.stopped)
	assert.Equal(t, ruleset.Active, r.State)
	assert.Zero(t, r.ProcessHandle)
}

func TestHandleExecRuleRefusesActiveTarget(t *testing.T) {
	term := &fakeTerminator{}
	eng := New(term, nil, nil, nil)
	store := ruleset.NewStore()
	target := &ruleset.Rule{ID: ruleset.RuleId{Group: "g", Rule: "target"}, State: ruleset.EndCondWait}
	require.NoError(t, store.Insert(target))

	r := &ruleset.Rule{
		ID:            ruleset.RuleId{Group: "g", Rule: "r"},
		State:         ruleset.Failed,
		FailureAction: ruleset.FailureAction{Kind: ruleset.FailureExecRule, Target: target.ID},
	}

	eng.Handle(r, store)
	assert.Empty(t, term.stopped)
	assert.Equal(t, ruleset.EndCondWait, target.State)
}

func TestHandleExecRuleRestartsInactiveTarget(t *testing.T) {
	term := &fakeTerminator{}
	eng := New(term, NewRestartTracker(t.TempDir()), nil, nil)
	store := ruleset.NewStore()
	target := &ruleset.Rule{ID: ruleset.RuleId{Group: "g", Rule: "target"}, State: ruleset.Completed}
	require.NoError(t, store.Insert(target))

	r := &ruleset.Rule{
		ID:            ruleset.RuleId{Group: "g", Rule: "r"},
		State:         ruleset.Failed,
		FailureAction: ruleset.FailureAction{Kind: ruleset.FailureExecRule, Target: target.ID},
	}

	eng.Handle(r, store)
	assert.Equal(t, ruleset.Active, target.State)
}

func TestRestartTrackerFlagsCrashLoop(t *testing.T) {
	rt := NewRestartTracker(t.TempDir())
	id := ruleset.RuleId{Group: "g", Rule: "r"}

	var looping bool
	for i := 0; i < crashLoopCount; i++ {
		looping = rt.RecordRestart(id)
	}
	assert.True(t, looping)
	assert.True(t, rt.IsInCrashLoop(id))
}
