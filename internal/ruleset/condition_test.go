package ruleset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alwaysFacts() Facts {
	return Facts{
		FileExists:      func(string) bool { return false },
		NetDeviceExists: func(string) bool { return false },
		IpcOwnerPresent: func(int) bool { return false },
		EnvVarEquals:    func(string, string) bool { return false },
		ExitStatus:      func(*Rule) (int, bool) { return 0, false },
	}
}

func TestEvaluateStartFileExists(t *testing.T) {
	f := alwaysFacts()
	f.FileExists = func(p string) bool { return p == "/tmp/ready" }
	r := &Rule{Start: StartCondition{Kind: StartFileExists, Path: "/tmp/ready"}}

	ok, notCompleted := r.EvaluateStart(f, nil)
	assert.True(t, ok)
	assert.False(t, notCompleted)
}

func TestEvaluateStartRulesCompletedAllSatisfied(t *testing.T) {
	s := NewStore()
	dep := &Rule{ID: RuleId{Group: "g", Rule: "dep"}, State: Completed}
	require.NoError(t, s.Insert(dep))

	r := &Rule{Start: NewRulesCompleted([]RuleId{dep.ID})}
	ok, notCompleted := r.EvaluateStart(alwaysFacts(), s)
	assert.True(t, ok)
	assert.False(t, notCompleted)
}

func TestEvaluateStartRulesCompletedPartial(t *testing.T) {
	s := NewStore()
	dep := &Rule{ID: RuleId{Group: "g", Rule: "dep"}, State: Active}
	require.NoError(t, s.Insert(dep))

	r := &Rule{Start: NewRulesCompleted([]RuleId{dep.ID})}
	ok, notCompleted := r.EvaluateStart(alwaysFacts(), s)
	assert.False(t, ok)
	assert.False(t, notCompleted)
}

func TestEvaluateStartRulesCompletedUnresolvable(t *testing.T) {
	s := NewStore()
	r := &Rule{Start: NewRulesCompleted([]RuleId{{Group: "missing", Rule: "dep"}})}
	ok, notCompleted := r.EvaluateStart(alwaysFacts(), s)
	assert.False(t, ok)
	assert.True(t, notCompleted)
}

func TestEvaluateEndProcessReadyOneShot(t *testing.T) {
	r := &Rule{End: EndCondition{Kind: EndProcessReady}}
	assert.False(t, r.EvaluateEnd(alwaysFacts(), time.Second))

	r.LatchReady()
	assert.True(t, r.EvaluateEnd(alwaysFacts(), time.Second))
	// one-shot: the latch clears itself once consumed.
	assert.False(t, r.EvaluateEnd(alwaysFacts(), time.Second))
}

func TestEvaluateEndExitStatus(t *testing.T) {
	f := alwaysFacts()
	f.ExitStatus = func(*Rule) (int, bool) { return 2, true }
	r := &Rule{End: EndCondition{Kind: EndExitStatus, ExitCode: 2}}
	assert.True(t, r.EvaluateEnd(f, time.Second))

	r2 := &Rule{End: EndCondition{Kind: EndExitStatus, ExitCode: 3}}
	assert.False(t, r2.EvaluateEnd(f, time.Second))
}

func TestEvaluateEndWaitCountdownAndReload(t *testing.T) {
	r := &Rule{End: EndCondition{Kind: EndWait, ReloadMs: 400}}
	r.ResetTimeout()

	f := alwaysFacts()
	tick := 200 * time.Millisecond

	assert.False(t, r.EvaluateEnd(f, tick)) // 400 -> 200
	assert.True(t, r.EvaluateEnd(f, tick))  // 200 -> 0, underflow -> reload
}

func TestRuleEffectiveParams(t *testing.T) {
	r := &Rule{Params: "default"}
	assert.Equal(t, "default", r.EffectiveParams())

	r.SetOptionalParams("override")
	assert.Equal(t, "override", r.EffectiveParams())

	r.ClearOptionalParams()
	assert.Equal(t, "default", r.EffectiveParams())
}

func TestRuleTickTimeoutForever(t *testing.T) {
	r := &Rule{TimeoutIsSet: false}
	assert.False(t, r.TickTimeout(time.Hour))
}

func TestRuleTickTimeoutExpires(t *testing.T) {
	r := &Rule{Timeout: time.Second, TimeoutIsSet: true}
	r.ResetTimeout()
	assert.False(t, r.TickTimeout(500*time.Millisecond))
	assert.True(t, r.TickTimeout(600*time.Millisecond))
}

func TestIsPseudoRule(t *testing.T) {
	assert.True(t, (&Rule{Command: CmdNone}).IsPseudoRule())
	assert.False(t, (&Rule{Command: "/bin/true"}).IsPseudoRule())
}
