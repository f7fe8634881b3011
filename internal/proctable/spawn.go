package proctable

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/steveyegge/pcd/internal/ruleset"
	"golang.org/x/sys/unix"
)

// spawn starts a child for spec and applies its scheduling policy and
// privilege drop, returning the new pid. The command image itself resets
// all signal dispositions to their defaults on exec, per the kernel's
// normal execve semantics, so there is nothing to restore there beyond
// what the parent's own signal mask requires (spec §4.3: "child resets
// signal dispositions").
func spawn(spec SpawnSpec) (pid int, err error) {
	argv, stdoutPath, err := buildArgv(spec)
	if err != nil {
		return 0, fmt.Errorf("build argv for %s: %w", spec.RuleID, err)
	}

	cmd := exec.Command(argv[0])
	cmd.Args = argv
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if spec.UID != 0 {
		cmd.SysProcAttr.Credential = &syscall.Credential{Uid: uint32(spec.UID), Gid: uint32(spec.UID)}
	}

	if stdoutPath != "" {
		f, ferr := os.OpenFile(stdoutPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if ferr != nil {
			return 0, fmt.Errorf("open stdout redirect %q for %s: %w", stdoutPath, spec.RuleID, ferr)
		}
		cmd.Stdout = f
		cmd.Stderr = f
	}

	// Block the supervisor's own SIGCHLD delivery window isn't meaningful
	// in Go (the runtime reaps via os/exec's internal wait mechanics); the
	// actual reap happens out of band via syscall.Wait4 in the table's
	// reaper goroutine, per spec §5.
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", spec.RuleID, err)
	}

	if err := applySchedPolicy(cmd.Process.Pid, spec.Sched); err != nil {
		// Non-fatal: the process is already running. Surfaced as a
		// diagnostic by the caller, matching spec §4.3's "best effort".
		return cmd.Process.Pid, fmt.Errorf("apply sched policy for %s: %w", spec.RuleID, err)
	}

	return cmd.Process.Pid, nil
}

// applySchedPolicy sets the niceness or FIFO real-time priority of pid,
// matching the command's declared scheduling discipline (spec §3).
func applySchedPolicy(pid int, sched ruleset.SchedPolicy) error {
	switch sched.Kind {
	case ruleset.SchedNice:
		return unix.Setpriority(unix.PRIO_PROCESS, pid, sched.Value)
	case ruleset.SchedFifo:
		return unix.SchedSetscheduler(pid, unix.SCHED_FIFO, &unix.SchedParam{Priority: int32(sched.Value)})
	default:
		return nil
	}
}
