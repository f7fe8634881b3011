// Package control implements the control-plane server (C7): it receives
// RPC requests over the IPC transport (C6) and translates them into
// operations on the rule store (C2) and process table (C3), composing
// every other component per spec §2.
package control

import "github.com/steveyegge/pcd/internal/ruleset"

// OpCode identifies an RPC request kind (spec §4.7.1).
type OpCode uint8

const (
	OpStartProcess OpCode = iota
	OpTerminateProcess
	OpTerminateProcessSync
	OpKillProcess
	OpSignalProcess
	OpProcessReady
	OpGetRuleState
	OpReduceNetRxPriority
	OpRestoreNetRxPriority
)

func (op OpCode) String() string {
	switch op {
	case OpStartProcess:
		return "StartProcess"
	case OpTerminateProcess:
		return "TerminateProcess"
	case OpTerminateProcessSync:
		return "TerminateProcessSync"
	case OpKillProcess:
		return "KillProcess"
	case OpSignalProcess:
		return "SignalProcess"
	case OpProcessReady:
		return "ProcessReady"
	case OpGetRuleState:
		return "GetRuleState"
	case OpReduceNetRxPriority:
		return "ReduceNetRxPriority"
	case OpRestoreNetRxPriority:
		return "RestoreNetRxPriority"
	default:
		return "Unknown"
	}
}

// Status is an RPC reply's outcome code (spec §4.7, error taxonomy).
type Status uint8

const (
	StatusOK Status = iota
	StatusWait
	StatusInvalidRule
	StatusBadParams
	StatusTimeout
	StatusGeneric
)

// Request is the fixed-shape control-plane request payload (spec §6.2).
// Signal and Pid share the same wire bytes (the wire's
// `union{pid|sig|priority}`): Signal is meaningful for SignalProcess, Pid
// for ProcessReady, and neither for everything else.
type Request struct {
	MsgID  uint32
	Op     OpCode
	RuleID ruleset.RuleId
	Params string // StartProcess optional-params override
	Signal int32  // SignalProcess only
	Pid    int32  // ProcessReady only: the caller's own pid
}

// Reply is the fixed-shape control-plane reply payload.
type Reply struct {
	MsgID     uint32
	Status    Status
	RuleState ruleset.RuleState
}
