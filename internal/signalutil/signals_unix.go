//go:build !windows

package signalutil

import "syscall"

func init() {
	// SIGTERM is the standard graceful-shutdown signal on Linux/macOS. It is
	// not wired to the Windows job-object model, so it is only added here.
	ShutdownSignals = append(ShutdownSignals, syscall.SIGTERM)
}
