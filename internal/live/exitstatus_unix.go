//go:build unix

package live

import (
	"os"
	"syscall"
)

type procExitStatus struct {
	code   int
	signal string
}

func exitStatus(state *os.ProcessState) (procExitStatus, bool) {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		return procExitStatus{}, false
	}
	if ws.Signaled() {
		return procExitStatus{code: -1, signal: ws.Signal().String()}, true
	}
	return procExitStatus{code: ws.ExitStatus()}, true
}
