//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

// gracefulSignals lists the signals that trigger graceful shutdown on Unix:
// SIGINT from a terminal Ctrl+C and SIGTERM from kill or a service manager.
func gracefulSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// processIsAlive probes liveness with the null signal, which runs the
// existence and permission checks without delivering anything.
func processIsAlive(proc *os.Process) bool {
	return proc.Signal(syscall.Signal(0)) == nil
}

// sendGracefulStop asks a running server to shut down cleanly via SIGTERM.
func sendGracefulStop(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}
