// Package supervisor assembles every component (C1-C7) into a running
// daemon: it loads the rules file, wires the scheduler's world-state facts
// to the real filesystem and IPC registry, opens the control-plane
// endpoint, and runs the tick loop until a shutdown signal arrives.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/steveyegge/pcd/internal/control"
	"github.com/steveyegge/pcd/internal/crashlog"
	"github.com/steveyegge/pcd/internal/errlog"
	"github.com/steveyegge/pcd/internal/failure"
	"github.com/steveyegge/pcd/internal/ipc"
	"github.com/steveyegge/pcd/internal/metrics"
	"github.com/steveyegge/pcd/internal/pcdconfig"
	"github.com/steveyegge/pcd/internal/proctable"
	"github.com/steveyegge/pcd/internal/rulesfile"
	"github.com/steveyegge/pcd/internal/ruleset"
	"github.com/steveyegge/pcd/internal/scheduler"
)

// maxControlDrainPerTick bounds how many inbound RPCs are serviced per
// tick, matching control.maxDrainPerTick (spec §4.7: a burst of control
// traffic must not starve rule evaluation).
const maxControlDrainPerTick = 5

// reapSpinTimeout bounds how long shutdown spins waiting for terminated
// children to be reaped (spec §4.7.3 step 4: "spin until reaped"), so a
// child that ignores SIGKILL can't hang the shutdown path forever.
const reapSpinTimeout = 10 * time.Second

// ErrDebugShutdown is returned by Run when the supervisor is terminated
// while cfg.Debug is set: spec §4.7.3 step 4 calls for exiting with a
// nonzero status instead of running the termination-and-reboot sequence.
// cmd/pcd's entry point already exits nonzero on any error Run returns.
var ErrDebugShutdown = errors.New("supervisor: debug mode, exiting instead of rebooting")

// Supervisor ties together every PCD component into one runnable daemon.
type Supervisor struct {
	cfg *pcdconfig.Config

	store   *ruleset.Store
	table   *proctable.Table
	sched   *scheduler.Scheduler
	engine  *failure.Engine
	tracker *failure.RestartTracker
	ctrl    *control.Server
	metrics *metrics.Registry

	registry *ipc.SharedRegistry
	endpoint *ipc.Endpoint

	errLog   *errlog.Logger
	crashRdr *crashlog.Reader
	lock     *flock.Flock
	lockPath string
	pidPath  string

	logger func(format string, args ...interface{})
}

// New constructs a Supervisor from cfg, parsing the rules file and wiring
// every component, but does not yet start the tick loop or bind the
// control-plane endpoint (see Run).
func New(cfg *pcdconfig.Config) (*Supervisor, error) {
	store := ruleset.NewStore()
	if err := rulesfile.Parse(cfg.RulesFile, store); err != nil {
		return nil, fmt.Errorf("supervisor: parsing rules file: %w", err)
	}
	if errs := rulesfile.CheckReferences(store); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "pcd: rules-file warning: %v\n", e)
		}
	}

	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("supervisor: creating log directory: %w", err)
	}
	errLog, err := errlog.Open(filepath.Join(cfg.LogDir, "pcd.err"), cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("supervisor: opening error log: %w", err)
	}
	logger := func(format string, args ...interface{}) { errLog.Printf("SUPV", format, args...) }

	if err := os.MkdirAll(cfg.SocketDir, 0755); err != nil {
		return nil, fmt.Errorf("supervisor: creating socket directory: %w", err)
	}
	registry, err := ipc.OpenSharedRegistry(filepath.Join(cfg.SocketDir, "pcd-registry.shm"), cfg.RegistryEntries)
	if err != nil {
		return nil, fmt.Errorf("supervisor: opening ipc registry: %w", err)
	}

	table := proctable.NewTable(logger)
	tracker := failure.NewRestartTracker(cfg.SocketDir)
	if err := tracker.Load(); err != nil {
		logger("supervisor: loading restart tracker state: %v", err)
	}

	s := &Supervisor{
		cfg:      cfg,
		store:    store,
		table:    table,
		tracker:  tracker,
		metrics:  metrics.New(),
		registry: registry,
		errLog:   errLog,
		lockPath: filepath.Join(cfg.SocketDir, "pcd.lock"),
		pidPath:  filepath.Join(cfg.SocketDir, "pcd.pid"),
		logger:   logger,
	}

	s.engine = failure.New(table, tracker, s.reboot, logger)

	facts := ruleset.Facts{
		FileExists:      fileExists,
		NetDeviceExists: netDeviceExists,
		IpcOwnerPresent: s.ipcOwnerPresent,
		EnvVarEquals:    envVarEquals,
	}

	s.sched = scheduler.New(store, table, s.engine, facts, scheduler.Config{
		TickPeriod: cfg.TickPeriod(),
		TempDir:    cfg.SocketDir,
		MaxArgv:    0,
		Logger:     logger,
	})

	ctrl := control.New(store, table, nil, logger)
	s.sched.OnProcessExit(func(ev proctable.Event) {
		ctrl.NotifyExit(ev.RuleID)
	})
	s.ctrl = ctrl

	crashPath := cfg.CrashFifo
	if err := ensureFifo(crashPath); err != nil {
		logger("supervisor: crash fifo %s unavailable: %v", crashPath, err)
	} else if rdr, err := crashlog.Open(crashPath); err != nil {
		logger("supervisor: opening crash fifo: %v", err)
	} else {
		s.crashRdr = rdr
	}

	return s, nil
}

// Store returns the supervisor's rule store, for read-only introspection
// by in-process callers (the `pcd status` CLI subcommand queries over the
// control plane instead).
func (s *Supervisor) Store() *ruleset.Store { return s.store }

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func netDeviceExists(ifname string) bool {
	_, err := os.Stat(filepath.Join("/sys/class/net", ifname))
	return err == nil
}

func envVarEquals(name, value string) bool {
	return os.Getenv(name) == value
}

func (s *Supervisor) ipcOwnerPresent(owner int) bool {
	_, _, ok := s.registry.LookupByOwner(owner)
	return ok
}

// ensureFifo creates a named pipe at path if one doesn't already exist.
func ensureFifo(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return syscall.Mkfifo(path, 0600)
}

// reboot is the Reboot failure-action callback (spec §4.5): rather than
// calling out to an external reboot(8), it drains the crash FIFO once more
// and signals this process's own PID with SIGTERM, triggering the same
// orderly shutdown path a real SIGTERM would (spec §4.7.3).
func (s *Supervisor) reboot(reason string) {
	s.logger("supervisor: reboot requested: %s", reason)
	if s.crashRdr != nil {
		if recs, err := s.crashRdr.Drain(64); err == nil {
			for _, rec := range recs {
				s.logger("supervisor: crash record at reboot: %d bytes", len(rec.Payload))
			}
		}
	}
	_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
}

// Run acquires the single-instance lock, binds the control-plane endpoint,
// registers it with the shared registry, and runs the tick loop until
// ctx is cancelled or a termination signal arrives.
func (s *Supervisor) Run(ctx context.Context) error {
	s.lock = flock.New(s.lockPath)
	locked, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("supervisor: acquiring instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("supervisor: another instance is already running (lock held at %s)", s.lockPath)
	}
	defer s.lock.Unlock()

	if err := os.WriteFile(s.pidPath, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("supervisor: writing pid file: %w", err)
	}
	defer os.Remove(s.pidPath)

	endpoint, err := ipc.NewEndpoint(s.cfg.SocketDir, s.cfg.EndpointName)
	if err != nil {
		return fmt.Errorf("supervisor: binding control-plane endpoint: %w", err)
	}
	s.endpoint = endpoint
	defer endpoint.Stop()

	slot, err := s.registry.Allocate(endpoint.Path(), s.cfg.OwnerID, os.Getpid())
	if err != nil {
		return fmt.Errorf("supervisor: registering control-plane endpoint: %w", err)
	}
	if err := s.registry.SetOwner(slot, s.cfg.OwnerID, os.Getpid()); err != nil {
		return fmt.Errorf("supervisor: claiming registry slot: %w", err)
	}

	sigCh := make(chan os.Signal, 4)
	notifySignals(sigCh)

	sigchldCh := make(chan struct{}, 1)
	reapCtx, cancelReap := context.WithCancel(ctx)
	defer cancelReap()
	reaped := proctable.StartReaper(reapCtx, sigchldCh)

	s.sched.Start()
	s.logger("supervisor: running (pid %d, tick %v)", os.Getpid(), s.cfg.TickPeriod())

	ticker := time.NewTicker(s.cfg.TickPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.shutdown()
		case sig := <-sigCh:
			if sig == syscall.SIGCHLD {
				select {
				case sigchldCh <- struct{}{}:
				default:
				}
				continue
			}
			s.logger("supervisor: received signal %v, shutting down", sig)
			return s.shutdown()
		case r := <-reaped:
			s.table.ApplyReap(r.Pid, r.Status)
			_ = s.registry.CleanupProc(r.Pid)
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Supervisor) tick() {
	s.sched.Tick()
	s.ctrl.SweepTimeouts()
	s.drainControl()
	s.drainCrash()
	s.metrics.ObserveRuleStates(s.store)
}

// drainControl services up to maxControlDrainPerTick inbound RPCs so a
// burst of control traffic cannot starve rule evaluation (spec §4.7).
func (s *Supervisor) drainControl() {
	for i := 0; i < maxControlDrainPerTick; i++ {
		msg, err := s.endpoint.WaitMsg(ipc.Immediate)
		if err != nil {
			return
		}
		req, err := control.DecodeRequest(msg.Body)
		if err != nil {
			s.logger("supervisor: malformed control request: %v", err)
			continue
		}
		s.ctrl.Handle(req, func(reply control.Reply) {
			s.replyTo(msg.SrcSlot, reply)
		})
	}
}

func (s *Supervisor) replyTo(srcSlot int32, reply control.Reply) {
	path, ok := s.registry.SocketPathForSlot(int(srcSlot))
	if !ok {
		s.logger("supervisor: no registered peer for slot %d, dropping reply", srcSlot)
		return
	}
	if err := s.endpoint.Send(path, int32(s.cfg.OwnerID), control.EncodeReply(reply)); err != nil {
		s.logger("supervisor: sending reply to slot %d: %v", srcSlot, err)
	}
}

func (s *Supervisor) drainCrash() {
	if s.crashRdr == nil {
		return
	}
	recs, err := s.crashRdr.Drain(maxControlDrainPerTick)
	if err != nil {
		s.logger("supervisor: draining crash fifo: %v", err)
		return
	}
	for _, rec := range recs {
		s.logger("supervisor: crash record received: %d bytes", len(rec.Payload))
	}
}

// shutdown runs the orderly termination sequence (spec §4.7.3): stop
// accepting control-plane traffic, stop the tick loop (the caller's loop
// already has by the time this runs), close observational inputs, then
// either run the termination-and-reboot sequence or, in debug mode, skip
// straight to a nonzero exit.
func (s *Supervisor) shutdown() error {
	s.logger("supervisor: shutting down")

	if s.crashRdr != nil {
		s.crashRdr.Close()
	}

	if s.cfg.Debug {
		s.logger("supervisor: debug mode, exiting without terminating children or rebooting")
		_ = s.registry.Close()
		_ = s.errLog.Close()
		return ErrDebugShutdown
	}

	var pids []int
	s.store.Iterate(func(r *ruleset.Rule) {
		if r.ProcessHandle == 0 {
			return
		}
		if p, ok := s.table.Lookup(r.ID); ok {
			pids = append(pids, p.Pid)
		}
		_ = s.table.Stop(r.ID, true, nil)
	})

	// Terminating PCD means rebooting the system it supervises: signal the
	// init process too, mirroring the original's PCD_process_reboot.
	_ = syscall.Kill(1, syscall.SIGTERM)

	s.spinUntilReaped(pids)

	if err := s.tracker.Save(); err != nil {
		s.logger("supervisor: saving restart tracker state: %v", err)
	}
	_ = s.registry.Close()
	_ = s.errLog.Close()
	return nil
}

// spinUntilReaped blocks, non-blocking-polling in a tight loop, until
// every pid in pids has been reaped or reapSpinTimeout elapses.
func (s *Supervisor) spinUntilReaped(pids []int) {
	deadline := time.Now().Add(reapSpinTimeout)
	for _, pid := range pids {
		for {
			var ws syscall.WaitStatus
			wpid, err := syscall.Wait4(pid, &ws, syscall.WNOHANG, nil)
			if wpid == pid || err != nil {
				break
			}
			if time.Now().After(deadline) {
				s.logger("supervisor: timed out waiting for pid %d to be reaped", pid)
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}
