package runner

import "os"

// processInterruptSignal is the graceful-termination signal sent to a child
// on Cancel, before the grace period elapses and it is force-killed.
// os.Interrupt (not syscall.SIGTERM) keeps this file free of GOOS-specific
// build constraints.
func processInterruptSignal() os.Signal {
	return os.Interrupt
}
