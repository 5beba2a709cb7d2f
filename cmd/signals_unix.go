//go:build unix

package main

import (
	"os"
	"syscall"
)

var (
	shutdownSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	snapshotSignals = []os.Signal{syscall.SIGUSR1}
)

func isSnapshotSignal(sig os.Signal) bool { return sig == syscall.SIGUSR1 }
