package control

import (
	"testing"

	"github.com/steveyegge/pcd/internal/proctable"
	"github.com/steveyegge/pcd/internal/ruleset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *ruleset.Store, ruleset.RuleId) {
	srv, store, id, _ := newTestServerWithTable(t)
	return srv, store, id
}

func newTestServerWithTable(t *testing.T) (*Server, *ruleset.Store, ruleset.RuleId, *proctable.Table) {
	t.Helper()
	store := ruleset.NewStore()
	id := ruleset.RuleId{Group: "g", Rule: "r"}
	require.NoError(t, store.Insert(&ruleset.Rule{ID: id, State: ruleset.Idle}))
	table := proctable.NewTable(nil)
	return New(store, table, nil, nil), store, id, table
}

func TestHandleStartProcessSetsActive(t *testing.T) {
	srv, store, id := newTestServer(t)
	var got Reply
	srv.Handle(Request{MsgID: 1, Op: OpStartProcess, RuleID: id, Params: "--flag"}, func(r Reply) { got = r })

	assert.Equal(t, StatusOK, got.Status)
	r, _ := store.Lookup(id)
	assert.Equal(t, ruleset.Active, r.State)
	assert.Equal(t, "--flag", r.EffectiveParams())
}

func TestHandleStartProcessInvalidRule(t *testing.T) {
	srv, _, _ := newTestServer(t)
	var got Reply
	srv.Handle(Request{MsgID: 2, Op: OpStartProcess, RuleID: ruleset.RuleId{Group: "no", Rule: "such"}}, func(r Reply) { got = r })
	assert.Equal(t, StatusInvalidRule, got.Status)
}

func TestHandleGetRuleState(t *testing.T) {
	srv, store, id := newTestServer(t)
	r, _ := store.Lookup(id)
	r.State = ruleset.EndCondWait

	var got Reply
	srv.Handle(Request{MsgID: 3, Op: OpGetRuleState, RuleID: id}, func(r Reply) { got = r })
	assert.Equal(t, StatusOK, got.Status)
	assert.Equal(t, ruleset.EndCondWait, got.RuleState)
}

func TestHandleSignalRejectsDisallowedSignal(t *testing.T) {
	srv, _, id := newTestServer(t)
	var got Reply
	srv.Handle(Request{MsgID: 4, Op: OpSignalProcess, RuleID: id, Signal: 9}, func(r Reply) { got = r })
	assert.Equal(t, StatusBadParams, got.Status)
}

func TestHandleProcessReadyLatches(t *testing.T) {
	srv, store, id, table := newTestServerWithTable(t)
	_, err := table.Enqueue(proctable.SpawnSpec{RuleID: id, Command: "/bin/true"})
	require.NoError(t, err)
	require.Empty(t, table.IterateStart())
	p, ok := table.Lookup(id)
	require.True(t, ok)

	var got Reply
	srv.Handle(Request{MsgID: 5, Op: OpProcessReady, Pid: int32(p.Pid)}, func(r Reply) { got = r })
	assert.Equal(t, StatusOK, got.Status)

	r, _ := store.Lookup(id)
	r.End = ruleset.EndCondition{Kind: ruleset.EndProcessReady}
	facts := ruleset.Facts{}
	assert.True(t, r.EvaluateEnd(facts, 0))
}

func TestHandleProcessReadyUnknownPid(t *testing.T) {
	srv, _, _ := newTestServer(t)
	var got Reply
	srv.Handle(Request{MsgID: 5, Op: OpProcessReady, Pid: 999999}, func(r Reply) { got = r })
	assert.Equal(t, StatusInvalidRule, got.Status)
}

func TestTerminateProcessSyncRepliesAtOnceWhenStopFails(t *testing.T) {
	srv, _, id := newTestServer(t)
	var gotReply *Reply
	srv.Handle(Request{MsgID: 6, Op: OpTerminateProcessSync, RuleID: id}, func(r Reply) { gotReply = &r })
	// Stop will fail (no live process), so the reply fires immediately with
	// an error status rather than being parked.
	require.NotNil(t, gotReply)
	assert.Equal(t, StatusGeneric, gotReply.Status)
}

func TestNextMsgIDMonotonic(t *testing.T) {
	srv, _, _ := newTestServer(t)
	a := srv.NextMsgID()
	b := srv.NextMsgID()
	assert.Less(t, a, b)
}
