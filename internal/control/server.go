package control

import (
	"syscall"
	"time"

	"github.com/steveyegge/pcd/internal/proctable"
	"github.com/steveyegge/pcd/internal/ruleset"
)

// Default RPC timeouts (spec §4.7.1). TerminateProcessSync's reply is held
// open until the target's exit is reaped, bounded by SyncTimeout.
const (
	DefaultTimeout = 5 * time.Second
	SyncTimeout    = 4 * DefaultTimeout
)

// maxDrainPerTick bounds how many requests Drain will process in one
// scheduler tick, so a burst of control traffic cannot starve rule
// evaluation (spec §4.7: "drain up to 5 messages/tick").
const maxDrainPerTick = 5

// netPriorityHook is the pass-through seam for ReduceNetRxPriority and
// RestoreNetRxPriority: the original daemon forwarded these straight to a
// platform-specific network priority mechanism. No such mechanism has an
// analog in this rewrite's target environment, so the hook is logged and
// otherwise a no-op (SPEC_FULL.md §9 design note); a real deployment can
// replace this function to drive whatever NIC queue priority API applies.
type netPriorityHook func(ruleset.RuleId, bool) error

// pendingSync is a TerminateProcessSync request awaiting its target's
// exit, so the reply can be sent once instead of immediately (spec
// §4.7.1).
type pendingSync struct {
	msgID     uint32
	replyFunc func(Reply)
	armed     time.Time
}

// Server is the control-plane server (C7). It never talks to the IPC
// transport directly — callers hand it a Request plus a reply callback,
// so the same dispatch logic serves a live Endpoint or a test harness.
type Server struct {
	store   *ruleset.Store
	table   *proctable.Table
	netHook netPriorityHook
	logger  func(format string, args ...interface{})

	counter msgIDCounter
	pending map[ruleset.RuleId]pendingSync
}

// New builds a Server. netHook may be nil, in which case
// ReduceNetRxPriority/RestoreNetRxPriority are logged only.
func New(store *ruleset.Store, table *proctable.Table, netHook netPriorityHook, logger func(string, ...interface{})) *Server {
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	return &Server{
		store:   store,
		table:   table,
		netHook: netHook,
		logger:  logger,
		pending: make(map[ruleset.RuleId]pendingSync),
	}
}

// NextMsgID returns the next monotonic request id for a client to attach.
func (s *Server) NextMsgID() uint32 { return s.counter.Next() }

// Handle dispatches req, invoking reply immediately unless the request is
// a TerminateProcessSync, whose reply is deferred until the target
// process's exit is observed via NotifyExit.
func (s *Server) Handle(req Request, reply func(Reply)) {
	switch req.Op {
	case OpStartProcess:
		reply(s.handleStart(req))
	case OpTerminateProcess:
		reply(s.handleTerminate(req, false))
	case OpTerminateProcessSync:
		s.handleTerminateSync(req, reply)
	case OpKillProcess:
		reply(s.handleTerminate(req, true))
	case OpSignalProcess:
		reply(s.handleSignal(req))
	case OpProcessReady:
		reply(s.handleProcessReady(req))
	case OpGetRuleState:
		reply(s.handleGetRuleState(req))
	case OpReduceNetRxPriority:
		reply(s.handleNetPriority(req, true))
	case OpRestoreNetRxPriority:
		reply(s.handleNetPriority(req, false))
	default:
		reply(Reply{MsgID: req.MsgID, Status: StatusBadParams})
	}
}

func (s *Server) lookupRule(id ruleset.RuleId) (*ruleset.Rule, Status) {
	r, ok := s.store.Lookup(id)
	if !ok {
		return nil, StatusInvalidRule
	}
	return r, StatusOK
}

func (s *Server) handleStart(req Request) Reply {
	r, status := s.lookupRule(req.RuleID)
	if status != StatusOK {
		return Reply{MsgID: req.MsgID, Status: status}
	}
	if req.Params != "" {
		r.SetOptionalParams(req.Params)
	}
	r.State = ruleset.Active
	return Reply{MsgID: req.MsgID, Status: StatusOK, RuleState: r.State}
}

func (s *Server) handleTerminate(req Request, brutal bool) Reply {
	_, status := s.lookupRule(req.RuleID)
	if status != StatusOK {
		return Reply{MsgID: req.MsgID, Status: status}
	}
	if err := s.table.Stop(req.RuleID, brutal, nil); err != nil {
		return Reply{MsgID: req.MsgID, Status: StatusGeneric}
	}
	return Reply{MsgID: req.MsgID, Status: StatusOK}
}

// handleTerminateSync parks reply until NotifyExit observes req.RuleID's
// process finish, matching the original's deferred-reply semantics for
// TerminateProcessSync (spec §4.7.1).
func (s *Server) handleTerminateSync(req Request, reply func(Reply)) {
	_, status := s.lookupRule(req.RuleID)
	if status != StatusOK {
		reply(Reply{MsgID: req.MsgID, Status: status})
		return
	}
	if err := s.table.Stop(req.RuleID, false, req.MsgID); err != nil {
		reply(Reply{MsgID: req.MsgID, Status: StatusGeneric})
		return
	}
	s.pending[req.RuleID] = pendingSync{msgID: req.MsgID, replyFunc: reply, armed: time.Now()}
}

// NotifyExit fulfills any TerminateProcessSync reply waiting on ruleID,
// called by the scheduler's onProcessExit hook after a post-mortem has
// been dispatched (spec §4.7.1). Entries that have exceeded SyncTimeout
// are answered by SweepTimeouts, not here.
func (s *Server) NotifyExit(ruleID ruleset.RuleId) {
	p, ok := s.pending[ruleID]
	if !ok {
		return
	}
	delete(s.pending, ruleID)
	p.replyFunc(Reply{MsgID: p.msgID, Status: StatusOK})
}

// SweepTimeouts replies StatusTimeout to any pending sync-terminate that
// has waited longer than SyncTimeout. Call once per tick.
func (s *Server) SweepTimeouts() {
	now := time.Now()
	for id, p := range s.pending {
		if now.Sub(p.armed) > SyncTimeout {
			delete(s.pending, id)
			p.replyFunc(Reply{MsgID: p.msgID, Status: StatusTimeout})
		}
	}
}

// handleSignal relays SignalProcess; proctable.SignalByRule restricts it to
// SIGUSR1/SIGUSR2 (spec §4.7.1), and a rejected signal replies BadParams.
func (s *Server) handleSignal(req Request) Reply {
	_, status := s.lookupRule(req.RuleID)
	if status != StatusOK {
		return Reply{MsgID: req.MsgID, Status: status}
	}
	if err := s.table.SignalByRule(req.RuleID, syscall.Signal(req.Signal)); err != nil {
		return Reply{MsgID: req.MsgID, Status: StatusBadParams}
	}
	return Reply{MsgID: req.MsgID, Status: StatusOK}
}

// handleProcessReady resolves the owning rule from the caller's own pid
// (spec §4.7.1: "lookup rule by pid") rather than from req.RuleID, since
// the supervised process invoking this RPC knows only its own pid, not
// the RuleId that spawned it.
func (s *Server) handleProcessReady(req Request) Reply {
	id, ok := s.table.LookupByPid(int(req.Pid))
	if !ok {
		return Reply{MsgID: req.MsgID, Status: StatusInvalidRule}
	}
	r, status := s.lookupRule(id)
	if status != StatusOK {
		return Reply{MsgID: req.MsgID, Status: status}
	}
	r.LatchReady()
	return Reply{MsgID: req.MsgID, Status: StatusOK}
}

func (s *Server) handleGetRuleState(req Request) Reply {
	r, status := s.lookupRule(req.RuleID)
	if status != StatusOK {
		return Reply{MsgID: req.MsgID, Status: status}
	}
	return Reply{MsgID: req.MsgID, Status: StatusOK, RuleState: r.State}
}

func (s *Server) handleNetPriority(req Request, reduce bool) Reply {
	_, status := s.lookupRule(req.RuleID)
	if status != StatusOK {
		return Reply{MsgID: req.MsgID, Status: status}
	}
	if s.netHook != nil {
		if err := s.netHook(req.RuleID, reduce); err != nil {
			return Reply{MsgID: req.MsgID, Status: StatusGeneric}
		}
	} else {
		s.logger("control: net-rx-priority hook not configured, ignoring request for rule %s (reduce=%v)", req.RuleID, reduce)
	}
	return Reply{MsgID: req.MsgID, Status: StatusOK}
}

