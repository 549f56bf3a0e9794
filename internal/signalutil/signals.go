// Package signalutil centralizes the graceful-shutdown signal set shared by
// cmd/relay and cmd/gateway, split by build tag the same way a single-binary
// predecessor did it, just factored out so two commands don't duplicate it.
package signalutil

import "os"

// ShutdownSignals lists the OS signals that trigger graceful shutdown.
// os.Interrupt (SIGINT / Ctrl-C) is the portable baseline available on every
// OS; SIGTERM is appended by signals_unix.go on non-Windows platforms.
var ShutdownSignals = []os.Signal{os.Interrupt}
