package supervisor

import (
	"os"
	"os/signal"
	"syscall"
)

// notifySignals arms ch for the signals Run's select loop cares about:
// SIGTERM/SIGINT trigger orderly shutdown, SIGCHLD wakes the reaper.
func notifySignals(ch chan<- os.Signal) {
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT, syscall.SIGCHLD)
}
