package supervisor

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// faultSignals are the supervisor's own fatal signals (distinct from the
// crash FIFO, which is for supervised processes' faults, spec §6.3). The
// original dedicates a whole module (except.c) to capturing register
// state on these for the supervisor process itself; this is the Go
// equivalent's bounded slice: log a tagged diagnostic, run the same
// shutdown path as Reboot/termination, then re-raise with the default
// disposition so the OS still produces a core if enabled.
var faultSignals = []os.Signal{syscall.SIGSEGV, syscall.SIGBUS, syscall.SIGILL, syscall.SIGFPE}

// WatchFaults arms a best-effort handler for the supervisor's own fatal
// signals. Go's runtime already handles SIGSEGV/SIGBUS raised by the
// program itself (they become a runtime panic, not a caught os.Signal);
// this handler only catches the case the original's except.c also covered
// loosely -- one of these signals delivered to the process externally
// (e.g. via kill), which a real SIGSEGV inside the supervisor's own
// memory-unsafe code never was in Go to begin with.
func (s *Supervisor) WatchFaults() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, faultSignals...)
	go func() {
		sig := <-ch
		s.logger("supervisor: fatal signal %v received, running shutdown before re-raising", sig)
		_ = s.shutdown()
		signal.Reset(sig.(syscall.Signal))
		_ = syscall.Kill(os.Getpid(), sig.(syscall.Signal))
		fmt.Fprintf(os.Stderr, "pcd: re-raised %v after fault shutdown\n", sig)
	}()
}
