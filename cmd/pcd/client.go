package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/steveyegge/pcd/internal/control"
	"github.com/steveyegge/pcd/internal/ipc"
	"github.com/steveyegge/pcd/internal/pcdconfig"
	"github.com/steveyegge/pcd/internal/ruleset"
)

// rpcTimeout bounds how long a client waits for the daemon's reply before
// giving up (spec §4.7's DefaultTimeout governs the same RPCs server-side).
const rpcTimeout = 5 * time.Second

// nextMsgID hands out request ids for this CLI process, mirroring
// control.msgIDCounter's monotonic-counter approach (spec §9 open question
// 2) on the client side of the wire.
var clientMsgID atomic.Uint32

func nextMsgID() uint32 { return clientMsgID.Add(1) }

// callDaemon sends req to the running supervisor named by cfg and returns
// its reply. It registers a throwaway endpoint in the shared registry
// under the caller's own pid, so the supervisor's reply-addressing (spec
// §6.2's srcSlot) can find its way back.
func callDaemon(cfg *pcdconfig.Config, req control.Request) (control.Reply, error) {
	reg, err := ipc.OpenSharedRegistry(filepath.Join(cfg.SocketDir, "pcd-registry.shm"), cfg.RegistryEntries)
	if err != nil {
		return control.Reply{}, fmt.Errorf("opening ipc registry: %w", err)
	}
	defer reg.Close()

	serverPath, _, ok := reg.LookupByOwner(cfg.OwnerID)
	if !ok {
		return control.Reply{}, fmt.Errorf("no running pcd instance registered under owner %d in %s", cfg.OwnerID, cfg.SocketDir)
	}

	pid := os.Getpid()
	clientName := fmt.Sprintf("pcd-cli-%d", pid)
	endpoint, err := ipc.NewEndpoint(cfg.SocketDir, clientName)
	if err != nil {
		return control.Reply{}, fmt.Errorf("binding client endpoint: %w", err)
	}
	defer endpoint.Stop()

	slot, err := reg.Allocate(endpoint.Path(), pid, pid)
	if err != nil {
		return control.Reply{}, fmt.Errorf("registering client endpoint: %w", err)
	}
	if err := reg.SetOwner(slot, pid, pid); err != nil {
		return control.Reply{}, fmt.Errorf("claiming client registry slot: %w", err)
	}
	defer reg.CleanupProc(pid)

	if req.MsgID == 0 {
		req.MsgID = nextMsgID()
	}
	payload, err := control.EncodeRequest(req)
	if err != nil {
		return control.Reply{}, fmt.Errorf("encoding request: %w", err)
	}
	if err := endpoint.Send(serverPath, int32(slot), payload); err != nil {
		return control.Reply{}, fmt.Errorf("sending request: %w", err)
	}

	timeout := rpcTimeout
	if req.Op == control.OpTerminateProcessSync {
		timeout = control.SyncTimeout
	}
	msg, err := endpoint.WaitMsg(timeout)
	if err != nil {
		return control.Reply{}, fmt.Errorf("waiting for reply: %w", err)
	}
	return control.DecodeReply(msg.Body)
}

// parseRuleID splits a "group_rule" CLI argument into its RuleId, the same
// shape rules files use for FAILURE_ACTION and START_COND targets.
func parseRuleID(s string) (ruleset.RuleId, error) {
	group, rule, ok := strings.Cut(s, "_")
	if !ok {
		return ruleset.RuleId{}, fmt.Errorf("rule id %q must be in group_rule form", s)
	}
	return ruleset.RuleId{Group: group, Rule: rule}, nil
}
