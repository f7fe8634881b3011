package scheduler

import (
	"testing"
	"time"

	"github.com/steveyegge/pcd/internal/failure"
	"github.com/steveyegge/pcd/internal/proctable"
	"github.com/steveyegge/pcd/internal/ruleset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopFacts() ruleset.Facts {
	return ruleset.Facts{
		FileExists:      func(string) bool { return true },
		NetDeviceExists: func(string) bool { return true },
		IpcOwnerPresent: func(int) bool { return true },
		EnvVarEquals:    func(string, string) bool { return true },
	}
}

func TestPseudoRuleCompletesWithoutSpawning(t *testing.T) {
	store := ruleset.NewStore()
	r := &ruleset.Rule{
		ID:      ruleset.RuleId{Group: "g", Rule: "sync"},
		Command: ruleset.CmdNone,
		State:   ruleset.Active,
		End:     ruleset.EndCondition{Kind: ruleset.EndNone},
	}
	require.NoError(t, store.Insert(r))

	table := proctable.NewTable(nil)
	eng := failure.New(table, nil, nil, nil)
	sched := New(store, table, eng, noopFacts(), Config{TickPeriod: 10 * time.Millisecond})

	sched.Start()
	assert.Equal(t, ruleset.StartCondWait, r.State)

	sched.Tick() // StartCondWait -> EndCondWait (pseudo-rule, no spawn)
	assert.Equal(t, ruleset.EndCondWait, r.State)

	sched.Tick() // EndCondWait -> Completed (EndNone always satisfied)
	assert.Equal(t, ruleset.Completed, r.State)
}

func TestStartCondWaitTimeoutTriggersFailureAction(t *testing.T) {
	store := ruleset.NewStore()
	r := &ruleset.Rule{
		ID:           ruleset.RuleId{Group: "g", Rule: "wait"},
		Command:      ruleset.CmdNone,
		State:        ruleset.Active,
		Start:        ruleset.StartCondition{Kind: ruleset.StartFileExists, Path: "/never"},
		Timeout:      20 * time.Millisecond,
		TimeoutIsSet: true,
	}
	require.NoError(t, store.Insert(r))

	table := proctable.NewTable(nil)
	eng := failure.New(table, nil, nil, nil)
	facts := noopFacts()
	facts.FileExists = func(string) bool { return false }
	sched := New(store, table, eng, facts, Config{TickPeriod: 10 * time.Millisecond})

	sched.Start()
	sched.Tick()
	sched.Tick()
	sched.Tick()
	assert.Equal(t, ruleset.NotCompleted, r.State)
}
